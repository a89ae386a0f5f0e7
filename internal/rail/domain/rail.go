package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// TransferRequest moves money to a payee's rail account. IdempotencyKey
// is the payout transaction ID, so retrying a transfer after a crash can
// never move money twice.
type TransferRequest struct {
	DestinationAccount string
	AmountCents        int64
	IdempotencyKey     string
}

type TransferResult struct {
	TransferID string
}

type AccountStatus struct {
	ChargesEnabled bool `json:"charges_enabled"`
	PayoutsEnabled bool `json:"payouts_enabled"`
}

type Balance struct {
	AvailableCents int64 `json:"available_cents"`
	PendingCents   int64 `json:"pending_cents"`
}

// Canonical event types produced by adapter Parse.
const (
	EventTypeTransferCompleted = "transfer_completed"
	EventTypeTransferFailed    = "transfer_failed"
	EventTypeChargeRefunded    = "charge_refunded"
)

// RailEvent is the provider-neutral form of an inbound webhook payload.
type RailEvent struct {
	Provider        string
	ExternalEventID string
	EventType       string
	TransferID      string
	AmountCents     int64
	FailureReason   string
	OccurredAt      time.Time
	RawPayload      []byte
}

// Rail is the payment-rail capability set the payout engine consumes.
type Rail interface {
	Provider() string
	CreateTransfer(ctx context.Context, req TransferRequest) (TransferResult, error)
	AccountStatus(ctx context.Context, account string) (AccountStatus, error)
	Balance(ctx context.Context) (Balance, error)

	// Verify checks the provider signature over the raw payload before
	// anything is enqueued.
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*RailEvent, error)
}

var (
	ErrRailRejected     = errors.New("rail_rejected")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrEventIgnored     = errors.New("event_ignored")
	ErrProviderNotFound = errors.New("provider_not_found")
	ErrInvalidConfig    = errors.New("invalid_config")
)

// RejectionError carries the rail's synchronous rejection reason. It
// matches ErrRailRejected under errors.Is.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("rail_rejected: %s", e.Reason)
}

func (e *RejectionError) Is(target error) bool {
	return target == ErrRailRejected
}
