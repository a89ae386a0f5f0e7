package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	payeedomain "github.com/carebound/carebound/internal/payee/domain"
)

// PayoutStatus is the per-transaction state machine:
// pending → processing → completed | failed, and completed | failed →
// reversed as an explicit operator/chargeback correction.
type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "pending"
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusCompleted  PayoutStatus = "completed"
	PayoutStatusFailed     PayoutStatus = "failed"
	PayoutStatusReversed   PayoutStatus = "reversed"
)

// FailureReasonCanceled marks payouts cancelled by an operator before
// execution started.
const FailureReasonCanceled = "canceled_by_operator"

// PayoutTransaction pays one payee the share claimed from a set of sealed
// time entries. The covered entry set is recorded on the entries
// themselves via the claim column for the payee's role.
type PayoutTransaction struct {
	ID        snowflake.ID          `gorm:"primaryKey" json:"id"`
	PayeeID   snowflake.ID          `gorm:"not null;index" json:"payee_id"`
	PayeeType payeedomain.PayeeType `gorm:"type:text;not null" json:"payee_type"`

	AmountCents int64 `gorm:"not null" json:"amount_cents"`
	EntryCount  int64 `gorm:"not null" json:"entry_count"`

	// ExternalTransferID arrives from the rail on synchronous accept and
	// keys webhook confirmations back to this transaction.
	ExternalTransferID *string `gorm:"type:text;uniqueIndex:ux_payout_transactions_transfer" json:"external_transfer_id,omitempty"`

	Status        PayoutStatus `gorm:"type:text;not null;index" json:"status"`
	FailureReason string       `gorm:"type:text" json:"failure_reason,omitempty"`

	InitiatedAt *time.Time `json:"initiated_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
	ReversedAt  *time.Time `json:"reversed_at,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (PayoutTransaction) TableName() string { return "payout_transactions" }

// ClaimRole names which share of a time entry a payout claims.
type ClaimRole string

const (
	ClaimRoleWorker    ClaimRole = "worker"
	ClaimRoleMarketing ClaimRole = "marketing"
	ClaimRoleTraining  ClaimRole = "training"
)

// RoleForPayeeType maps a payee to the entry share it is paid from.
func RoleForPayeeType(t payeedomain.PayeeType) (ClaimRole, bool) {
	switch t {
	case payeedomain.PayeeTypeCaregiver, payeedomain.PayeeTypeHousekeeper:
		return ClaimRoleWorker, true
	case payeedomain.PayeeTypeMarketingPartner:
		return ClaimRoleMarketing, true
	case payeedomain.PayeeTypeTrainingCenter:
		return ClaimRoleTraining, true
	default:
		return "", false
	}
}

// ClaimColumn is the time_entries column a role claims through. The
// values are fixed identifiers, never user input.
func (r ClaimRole) ClaimColumn() string {
	switch r {
	case ClaimRoleMarketing:
		return "marketing_payout_id"
	case ClaimRoleTraining:
		return "training_payout_id"
	default:
		return "payout_transaction_id"
	}
}

// AmountColumn is the frozen split column the role is paid from.
func (r ClaimRole) AmountColumn() string {
	switch r {
	case ClaimRoleMarketing:
		return "marketing_cents"
	case ClaimRoleTraining:
		return "training_cents"
	default:
		return "caregiver_cents"
	}
}

// PayeeColumn matches entries to the payee for the role.
func (r ClaimRole) PayeeColumn() string {
	switch r {
	case ClaimRoleMarketing:
		return "marketing_partner_id"
	case ClaimRoleTraining:
		return "training_center_id"
	default:
		return "worker_id"
	}
}
