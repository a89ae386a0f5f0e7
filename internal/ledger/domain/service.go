package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Fact describes a posting to append. The service assigns the ID and
// CreatedAt; callers supply the business content only.
type Fact struct {
	FactType      FactType
	DebitAccount  AccountCode
	CreditAccount AccountCode
	AmountCents   int64
	ReferenceType ReferenceType
	ReferenceID   snowflake.ID
}

// Service is the append-only ledger store. All writes are idempotent on
// (fact_type, reference_type, reference_id): replaying the same fact is a
// no-op, never a duplicate row.
type Service interface {
	// Append writes the fact in its own transaction. Returns true when a
	// row was inserted, false when the fact already existed.
	Append(ctx context.Context, fact Fact) (bool, error)

	// AppendTx writes the fact inside a caller-owned transaction so that
	// facts commit atomically with the state change that produced them.
	AppendTx(ctx context.Context, tx *gorm.DB, fact Fact) (bool, error)

	// Reverse appends a reversal fact with debit and credit swapped,
	// referencing the original fact. Idempotent per original fact.
	Reverse(ctx context.Context, originalFactID snowflake.ID) (bool, error)

	// Balance reports credits minus debits for the account over facts
	// created at or before asOf. A zero asOf means "now".
	Balance(ctx context.Context, account AccountCode, asOf time.Time) (int64, error)

	// FindByReference returns all facts anchored to the given entity,
	// oldest first.
	FindByReference(ctx context.Context, refType ReferenceType, refID snowflake.ID) ([]LedgerFact, error)

	// SumByFactType totals AmountCents over non-reversed facts of one
	// type created at or before asOf.
	SumByFactType(ctx context.Context, factType FactType, asOf time.Time) (int64, error)
}

// ValidateFact enforces the posting rules shared by every fact type.
func ValidateFact(fact Fact) error {
	if fact.FactType == "" {
		return ErrInvalidFactType
	}
	if fact.DebitAccount == "" || fact.CreditAccount == "" {
		return ErrInvalidAccount
	}
	if fact.DebitAccount == fact.CreditAccount {
		return ErrSelfTransfer
	}
	if fact.AmountCents <= 0 {
		return ErrInvalidAmount
	}
	if fact.ReferenceType == "" || fact.ReferenceID == 0 {
		return ErrInvalidReference
	}
	return nil
}
