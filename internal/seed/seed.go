package seed

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/carebound/carebound/internal/ledger/domain"
	"gorm.io/gorm"
)

// EnsureChartOfAccounts seeds the fixed chart of accounts on startup.
// Every fact references accounts by code, so the rows must exist before
// the first visit seals. Inserts are idempotent; re-running against a
// seeded database changes nothing.
func EnsureChartOfAccounts(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	type account struct {
		Code ledgerdomain.AccountCode
		Name string
	}

	accounts := []account{
		{ledgerdomain.AccountClientReceivable, "Client Receivable"},
		{ledgerdomain.AccountClientPayments, "Client Payments"},

		{ledgerdomain.AccountCaregiverPayable, "Caregiver Payable"},
		{ledgerdomain.AccountMarketingPayable, "Marketing Partner Payable"},
		{ledgerdomain.AccountTrainingPayable, "Training Center Payable"},

		{ledgerdomain.AccountCommissionExpense, "Commission Expense"},
		{ledgerdomain.AccountPayoutClearing, "Payout Clearing"},
		{ledgerdomain.AccountAgencyRevenue, "Agency Revenue"},
	}

	ctx := context.Background()
	for _, a := range accounts {
		err := db.WithContext(ctx).
			Exec(`
				INSERT INTO ledger_accounts (id, code, name)
				VALUES (?, ?, ?)
				ON CONFLICT (code) DO NOTHING
			`,
				node.Generate(),
				a.Code,
				a.Name,
			).Error

		if err != nil {
			return err
		}
	}

	return nil
}
