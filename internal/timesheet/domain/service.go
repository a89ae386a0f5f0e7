package domain

import (
	"context"
	"errors"
	"time"
)

type RecordEntryRequest struct {
	WorkerID     string
	ClientID     string
	ReferralCode string
	// TrainingCenterID carries the worker's affiliation snapshot supplied
	// by the booking module at clock-in.
	TrainingCenterID string
	ClockInAt        time.Time
}

type ClockOutRequest struct {
	ID         string
	ClockOutAt time.Time
}

type Service interface {
	// Record opens an entry at clock-in, snapshotting referral and
	// training attribution.
	Record(context.Context, RecordEntryRequest) (TimeEntry, error)

	// ClockOut closes the clock window. The entry stays open until Seal.
	ClockOut(context.Context, ClockOutRequest) (TimeEntry, error)

	// Seal freezes minutes and the commission split, emits the ledger
	// facts, and bumps referral counters, all in one transaction.
	// Sealing an already-sealed entry returns the frozen result without
	// re-emitting facts.
	Seal(ctx context.Context, id string) (TimeEntry, error)

	GetByID(ctx context.Context, id string) (TimeEntry, error)
}

var (
	ErrInvalidID         = errors.New("invalid_id")
	ErrNotFound          = errors.New("time_entry_not_found")
	ErrInvalidWorker     = errors.New("invalid_worker")
	ErrInvalidClient     = errors.New("invalid_client")
	ErrNotClockedOut     = errors.New("entry_not_clocked_out")
	ErrAlreadyClockedOut = errors.New("entry_already_clocked_out")
	ErrEntrySealed       = errors.New("entry_already_sealed")
)
