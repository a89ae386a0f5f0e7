package domain

import "errors"

var (
	ErrInvalidFactType    = errors.New("invalid_fact_type")
	ErrInvalidAccount     = errors.New("invalid_account")
	ErrInvalidAmount      = errors.New("invalid_amount")
	ErrInvalidReference   = errors.New("invalid_reference")
	ErrSelfTransfer       = errors.New("debit_equals_credit")
	ErrFactNotFound       = errors.New("ledger_fact_not_found")
	ErrReversalOfReversal = errors.New("cannot_reverse_reversal")

	// ErrInvariantViolation marks a programmer error; the enclosing
	// transaction must abort without partial commit.
	ErrInvariantViolation = errors.New("ledger_invariant_violation")
)
