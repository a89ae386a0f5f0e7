package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/carebound/carebound/internal/settings"
)

// SkippedPayee reports why the batcher held a payee back. Held funds stay
// accrued; nothing is forfeited.
type SkippedPayee struct {
	PayeeID     snowflake.ID `json:"payee_id"`
	AmountCents int64        `json:"amount_cents"`
	Reasons     []string     `json:"reasons"`
}

// BuildReport is the outcome of one batch build.
type BuildReport struct {
	Created []PayoutTransaction `json:"created"`
	Skipped []SkippedPayee      `json:"skipped"`
}

// Batcher groups unpaid shares of sealed entries into pending payouts.
type Batcher interface {
	// BuildBatch claims eligible entries per payee and emits one pending
	// PayoutTransaction each. Two concurrent runs never claim the same
	// entry twice; a payee with nothing eligible is omitted. The settings
	// snapshot is taken once by the caller so a mid-run settings change
	// cannot split the batch across two policies.
	BuildBatch(ctx context.Context, snap settings.Snapshot, asOf time.Time) (BuildReport, error)

	// Holds evaluates gate and minimum-amount state per payee without
	// claiming anything, for the operator dashboard.
	Holds(ctx context.Context, snap settings.Snapshot, asOf time.Time) ([]SkippedPayee, error)
}

// Orchestrator drives the per-transaction state machine against the rail.
type Orchestrator interface {
	// Execute moves one pending payout to processing and calls the rail.
	// A synchronous rejection lands in failed and releases the claims;
	// an accept stores the transfer ID and stays processing until a
	// webhook resolves it.
	Execute(ctx context.Context, id snowflake.ID) error

	// ExecuteDue executes up to limit pending payouts, each isolated
	// from the others' failures.
	ExecuteDue(ctx context.Context, limit int) (int, error)

	// Cancel fails a still-pending payout with reason
	// canceled_by_operator and releases its claims.
	Cancel(ctx context.Context, id snowflake.ID) (PayoutTransaction, error)

	// Reverse corrects a completed or failed payout. reopenClaims is the
	// payout.reopen_on_reverse policy; when false the covered entries
	// stay claimed by the reversed transaction for audit.
	Reverse(ctx context.Context, id snowflake.ID, reopenClaims bool) (PayoutTransaction, error)

	// CompleteFromWebhook resolves a processing payout whose transfer
	// the rail confirmed, emitting the settlement ledger fact.
	CompleteFromWebhook(ctx context.Context, externalTransferID string) error

	// FailFromWebhook resolves a processing payout whose transfer the
	// rail reported failed, releasing the claims.
	FailFromWebhook(ctx context.Context, externalTransferID, reason string) error

	GetByID(ctx context.Context, id snowflake.ID) (PayoutTransaction, error)
	List(ctx context.Context, status PayoutStatus, limit int) ([]PayoutTransaction, error)

	// StuckProcessing lists payouts sitting in processing longer than
	// threshold, for the recovery sweep to escalate.
	StuckProcessing(ctx context.Context, olderThan time.Duration) ([]PayoutTransaction, error)
}

var (
	ErrNotFound           = errors.New("payout_not_found")
	ErrInvalidTransition  = errors.New("invalid_payout_transition")
	ErrDuplicateClaim     = errors.New("duplicate_claim")
	ErrUnknownTransfer    = errors.New("unknown_external_transfer")
	ErrMissingRailAccount = errors.New("missing_rail_account")
)
