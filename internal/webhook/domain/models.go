package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type WebhookStatus string

const (
	// WebhookStatusReceived means the event is persisted and waiting for a
	// processing attempt, either the inline one or a scheduled retry.
	WebhookStatusReceived   WebhookStatus = "received"
	WebhookStatusProcessing WebhookStatus = "processing"
	WebhookStatusProcessed  WebhookStatus = "processed"
	// WebhookStatusFailed is terminal: retries are exhausted and the event
	// sits in the review queue until an operator resolves it.
	WebhookStatusFailed  WebhookStatus = "failed"
	WebhookStatusSkipped WebhookStatus = "skipped"
)

// WebhookEvent is the durable record of one rail notification. The
// (provider, external_event_id) pair dedupes redeliveries before any
// business logic runs.
type WebhookEvent struct {
	ID              snowflake.ID   `gorm:"primaryKey" json:"id"`
	Provider        string         `gorm:"not null;uniqueIndex:ux_webhook_events_provider_event,priority:1" json:"provider"`
	ExternalEventID string         `gorm:"not null;uniqueIndex:ux_webhook_events_provider_event,priority:2" json:"external_event_id"`
	EventType       string         `gorm:"not null" json:"event_type"`
	TransferID      string         `json:"transfer_id,omitempty"`
	AmountCents     int64          `json:"amount_cents"`
	FailureReason   string         `json:"failure_reason,omitempty"`
	Status          WebhookStatus  `gorm:"not null;index" json:"status"`
	RetryCount      int            `gorm:"not null;default:0" json:"retry_count"`
	NextRetryAt     *time.Time     `gorm:"index" json:"next_retry_at,omitempty"`
	LastError       string         `json:"last_error,omitempty"`
	RawPayload      datatypes.JSON `json:"raw_payload,omitempty"`
	ReceivedAt      time.Time      `gorm:"not null" json:"received_at"`
	ProcessedAt     *time.Time     `json:"processed_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func (WebhookEvent) TableName() string {
	return "webhook_events"
}

var (
	ErrInvalidProvider = errors.New("invalid_provider")
	ErrEventNotFound   = errors.New("webhook_event_not_found")
)

// Gateway is the single entry point for rail notifications. Receive
// acknowledges quickly; RetryDue drains the backoff queue.
type Gateway interface {
	// Receive verifies, dedupes, persists and processes one delivery.
	// A signature failure is the only error the HTTP layer should turn
	// into a non-2xx response; everything after persistence is retried
	// internally.
	Receive(ctx context.Context, provider string, payload []byte, headers http.Header) error

	// RetryDue processes events whose backoff has elapsed, up to limit.
	RetryDue(ctx context.Context, limit int) (int, error)

	// ListForReview returns events that exhausted their retries.
	ListForReview(ctx context.Context, limit int) ([]WebhookEvent, error)
}
