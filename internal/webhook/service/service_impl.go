package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/carebound/carebound/internal/config"
	ledgerdomain "github.com/carebound/carebound/internal/ledger/domain"
	obsmetrics "github.com/carebound/carebound/internal/observability/metrics"
	payoutdomain "github.com/carebound/carebound/internal/payout/domain"
	raildomain "github.com/carebound/carebound/internal/rail/domain"
	"github.com/carebound/carebound/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Rail         raildomain.Rail
	Orchestrator payoutdomain.Orchestrator
	Ledger       ledgerdomain.Service
	EngineCfg    *config.EngineConfigHolder
	ObsMetrics   *obsmetrics.Metrics `optional:"true"`
}

type Gateway struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	rail         raildomain.Rail
	orchestrator payoutdomain.Orchestrator
	ledger       ledgerdomain.Service
	engineCfg    *config.EngineConfigHolder
	obsMetrics   *obsmetrics.Metrics
}

func NewGateway(p Params) domain.Gateway {
	return &Gateway{
		db:           p.DB,
		log:          p.Log.Named("webhook.gateway"),
		genID:        p.GenID,
		rail:         p.Rail,
		orchestrator: p.Orchestrator,
		ledger:       p.Ledger,
		engineCfg:    p.EngineCfg,
		obsMetrics:   p.ObsMetrics,
	}
}

func (g *Gateway) Receive(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return domain.ErrInvalidProvider
	}
	if provider != g.rail.Provider() {
		return domain.ErrInvalidProvider
	}

	if err := g.rail.Verify(ctx, payload, headers); err != nil {
		g.obsMetrics.RecordWebhookEvent(ctx, provider, "invalid_signature")
		return err
	}

	event, err := g.rail.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, raildomain.ErrEventIgnored) {
			// Verified but irrelevant to payouts. Ack so the rail stops
			// redelivering.
			g.obsMetrics.RecordWebhookEvent(ctx, provider, "ignored")
			return nil
		}
		return err
	}

	now := time.Now().UTC()
	record := domain.WebhookEvent{
		ID:              g.genID.Generate(),
		Provider:        provider,
		ExternalEventID: event.ExternalEventID,
		EventType:       event.EventType,
		TransferID:      event.TransferID,
		AmountCents:     event.AmountCents,
		FailureReason:   event.FailureReason,
		Status:          domain.WebhookStatusReceived,
		RawPayload:      datatypes.JSON(event.RawPayload),
		ReceivedAt:      now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	result := g.db.WithContext(ctx).Exec(
		`INSERT INTO webhook_events
			(id, provider, external_event_id, event_type, transfer_id,
			 amount_cents, failure_reason, status, retry_count, raw_payload,
			 received_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?)
		ON CONFLICT (provider, external_event_id) DO NOTHING`,
		record.ID, record.Provider, record.ExternalEventID, record.EventType,
		record.TransferID, record.AmountCents, record.FailureReason,
		record.Status, record.RawPayload, record.ReceivedAt,
		record.CreatedAt, record.UpdatedAt,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// Redelivery of an event we already hold. Ack without reprocessing.
		g.obsMetrics.RecordWebhookEvent(ctx, provider, "duplicate")
		g.log.Debug("duplicate webhook event acknowledged",
			zap.String("provider", provider),
			zap.String("external_event_id", record.ExternalEventID),
		)
		return nil
	}

	// First attempt runs inline. A failure here schedules a retry and the
	// delivery is still acked: the event is durable.
	if err := g.process(ctx, record.ID); err != nil {
		g.log.Warn("webhook event deferred to retry",
			zap.String("provider", provider),
			zap.String("external_event_id", record.ExternalEventID),
			zap.Error(err),
		)
	}
	return nil
}

func (g *Gateway) RetryDue(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = g.engineCfg.Current().WebhookRetryBatchSize
	}

	lockStart := time.Now()
	var ids []snowflake.ID
	err := g.db.WithContext(ctx).Raw(
		`SELECT id FROM webhook_events
		WHERE status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?
		ORDER BY next_retry_at
		LIMIT ?
		FOR UPDATE SKIP LOCKED`,
		domain.WebhookStatusReceived, time.Now().UTC(), limit,
	).Scan(&ids).Error
	obsmetrics.Scheduler().ObserveDBLockWait(obsmetrics.LockResourceWebhooksForRetry, time.Since(lockStart))
	if err != nil {
		return 0, err
	}

	processed := 0
	var errs []error
	for _, id := range ids {
		if err := g.process(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("webhook event %s: %w", id, err))
			continue
		}
		processed++
	}
	return processed, errors.Join(errs...)
}

func (g *Gateway) ListForReview(ctx context.Context, limit int) ([]domain.WebhookEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var events []domain.WebhookEvent
	err := g.db.WithContext(ctx).
		Where("status = ?", domain.WebhookStatusFailed).
		Order("received_at asc").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// process claims one event, dispatches it, and records the outcome.
func (g *Gateway) process(ctx context.Context, id snowflake.ID) error {
	now := time.Now().UTC()
	claim := g.db.WithContext(ctx).Exec(
		`UPDATE webhook_events SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		domain.WebhookStatusProcessing, now, id, domain.WebhookStatusReceived,
	)
	if claim.Error != nil {
		return claim.Error
	}
	if claim.RowsAffected == 0 {
		// Another worker has it, or it already resolved.
		return nil
	}

	var event domain.WebhookEvent
	if err := g.db.WithContext(ctx).First(&event, "id = ?", id).Error; err != nil {
		return err
	}

	handlerErr := g.dispatch(ctx, event)
	if handlerErr == nil {
		return g.markProcessed(ctx, event)
	}
	return g.scheduleRetry(ctx, event, handlerErr)
}

func (g *Gateway) dispatch(ctx context.Context, event domain.WebhookEvent) error {
	switch event.EventType {
	case raildomain.EventTypeTransferCompleted:
		return g.orchestrator.CompleteFromWebhook(ctx, event.TransferID)
	case raildomain.EventTypeTransferFailed:
		return g.orchestrator.FailFromWebhook(ctx, event.TransferID, event.FailureReason)
	case raildomain.EventTypeChargeRefunded:
		return g.recordRefund(ctx, event)
	default:
		return g.markSkipped(ctx, event)
	}
}

// recordRefund posts the refund fact anchored on the webhook event, so a
// redelivered refund never double-posts.
func (g *Gateway) recordRefund(ctx context.Context, event domain.WebhookEvent) error {
	if event.AmountCents <= 0 {
		return ledgerdomain.ErrInvalidAmount
	}
	_, err := g.ledger.Append(ctx, ledgerdomain.Fact{
		FactType:      ledgerdomain.FactTypeRefund,
		DebitAccount:  ledgerdomain.AccountClientPayments,
		CreditAccount: ledgerdomain.AccountClientReceivable,
		AmountCents:   event.AmountCents,
		ReferenceType: ledgerdomain.ReferenceWebhookEvent,
		ReferenceID:   event.ID,
	})
	return err
}

func (g *Gateway) markProcessed(ctx context.Context, event domain.WebhookEvent) error {
	now := time.Now().UTC()
	err := g.db.WithContext(ctx).Exec(
		`UPDATE webhook_events
		SET status = ?, processed_at = ?, last_error = '', updated_at = ?
		WHERE id = ? AND status = ?`,
		domain.WebhookStatusProcessed, now, now,
		event.ID, domain.WebhookStatusProcessing,
	).Error
	if err != nil {
		return err
	}
	g.obsMetrics.RecordWebhookEvent(ctx, event.Provider, "processed")
	return nil
}

func (g *Gateway) markSkipped(ctx context.Context, event domain.WebhookEvent) error {
	now := time.Now().UTC()
	err := g.db.WithContext(ctx).Exec(
		`UPDATE webhook_events SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		domain.WebhookStatusSkipped, now,
		event.ID, domain.WebhookStatusProcessing,
	).Error
	if err != nil {
		return err
	}
	g.obsMetrics.RecordWebhookEvent(ctx, event.Provider, "skipped")
	return nil
}

func (g *Gateway) scheduleRetry(ctx context.Context, event domain.WebhookEvent, cause error) error {
	cfg := g.engineCfg.Current()
	retryCount := event.RetryCount + 1
	now := time.Now().UTC()

	if retryCount >= cfg.WebhookMaxRetries {
		err := g.db.WithContext(ctx).Exec(
			`UPDATE webhook_events
			SET status = ?, retry_count = ?, next_retry_at = NULL,
				last_error = ?, updated_at = ?
			WHERE id = ? AND status = ?`,
			domain.WebhookStatusFailed, retryCount, cause.Error(), now,
			event.ID, domain.WebhookStatusProcessing,
		).Error
		if err != nil {
			return err
		}
		g.obsMetrics.RecordWebhookEvent(ctx, event.Provider, "dead_letter")
		g.log.Error("webhook event exhausted retries",
			zap.String("provider", event.Provider),
			zap.String("external_event_id", event.ExternalEventID),
			zap.String("event_type", event.EventType),
			zap.Int("retry_count", retryCount),
			zap.Error(cause),
		)
		return cause
	}

	nextRetryAt := now.Add(backoff(cfg, retryCount))
	err := g.db.WithContext(ctx).Exec(
		`UPDATE webhook_events
		SET status = ?, retry_count = ?, next_retry_at = ?,
			last_error = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		domain.WebhookStatusReceived, retryCount, nextRetryAt,
		cause.Error(), now,
		event.ID, domain.WebhookStatusProcessing,
	).Error
	if err != nil {
		return err
	}
	g.obsMetrics.RecordWebhookEvent(ctx, event.Provider, "retry_scheduled")
	return cause
}

// backoff doubles per attempt from the configured base up to the cap.
func backoff(cfg config.EngineConfig, retryCount int) time.Duration {
	d := cfg.WebhookBackoffBase
	for i := 1; i < retryCount; i++ {
		d *= 2
		if d >= cfg.WebhookBackoffCap {
			return cfg.WebhookBackoffCap
		}
	}
	if d > cfg.WebhookBackoffCap {
		return cfg.WebhookBackoffCap
	}
	return d
}
