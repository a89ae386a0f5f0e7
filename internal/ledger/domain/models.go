package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// FactType classifies a ledger fact by the business event that produced it.
type FactType string

const (
	FactTypeClientCharge        FactType = "client_charge"
	FactTypeCaregiverPayout     FactType = "caregiver_payout"
	FactTypeMarketingCommission FactType = "marketing_commission"
	FactTypeTrainingCommission  FactType = "training_commission"
	FactTypeRefund              FactType = "refund"
	FactTypeReversal            FactType = "reversal"
)

// AccountCode identifies a bucket in the chart of accounts.
type AccountCode string

const (
	// Assets
	AccountClientReceivable AccountCode = "client_receivable"

	// Revenue pool credited by every client charge.
	AccountClientPayments AccountCode = "client_payments"

	// Liabilities owed to payees until a payout settles.
	AccountCaregiverPayable AccountCode = "caregiver_payable"
	AccountMarketingPayable AccountCode = "marketing_payable"
	AccountTrainingPayable  AccountCode = "training_payable"

	// Expenses / settlement
	AccountCommissionExpense AccountCode = "commission_expense"
	AccountPayoutClearing    AccountCode = "payout_clearing"
	AccountAgencyRevenue     AccountCode = "agency_revenue"
)

// ReferenceType names the entity a fact is anchored to.
type ReferenceType string

const (
	ReferenceTimeEntry    ReferenceType = "time_entry"
	ReferencePayout       ReferenceType = "payout_transaction"
	ReferenceWebhookEvent ReferenceType = "webhook_event"
	ReferenceLedgerFact   ReferenceType = "ledger_fact"
)

// LedgerAccount defines a chart-of-accounts entry.
type LedgerAccount struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	Code      AccountCode  `gorm:"type:text;not null;uniqueIndex:ux_ledger_accounts_code"`
	Name      string       `gorm:"type:text;not null"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (LedgerAccount) TableName() string { return "ledger_accounts" }

// LedgerFact is one immutable double-entry record. Facts are never updated or
// deleted; corrections append a reversal fact referencing the original.
type LedgerFact struct {
	ID            snowflake.ID  `gorm:"primaryKey"`
	FactType      FactType      `gorm:"type:text;not null;index;uniqueIndex:ux_ledger_facts_type_ref,priority:1"`
	DebitAccount  AccountCode   `gorm:"type:text;not null;index"`
	CreditAccount AccountCode   `gorm:"type:text;not null;index"`
	AmountCents   int64         `gorm:"not null"`
	ReferenceType ReferenceType `gorm:"type:text;not null;uniqueIndex:ux_ledger_facts_type_ref,priority:2"`
	ReferenceID   snowflake.ID  `gorm:"not null;index;uniqueIndex:ux_ledger_facts_type_ref,priority:3"`
	Reconciled    bool          `gorm:"not null;default:false"`
	CreatedAt     time.Time     `gorm:"not null"`
}

// TableName sets the database table name.
func (LedgerFact) TableName() string { return "ledger_facts" }
