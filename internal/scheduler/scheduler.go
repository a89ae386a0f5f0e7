package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/carebound/carebound/internal/clock"
	"github.com/carebound/carebound/internal/config"
	"github.com/carebound/carebound/internal/lock"
	obsmetrics "github.com/carebound/carebound/internal/observability/metrics"
	payoutdomain "github.com/carebound/carebound/internal/payout/domain"
	"github.com/carebound/carebound/internal/reconciliation"
	"github.com/carebound/carebound/internal/settings"
	webhookdomain "github.com/carebound/carebound/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler config invalid")

type Params struct {
	fx.In

	Log          *zap.Logger
	Clock        clock.Clock
	SettingsSvc  settings.Service
	Batcher      payoutdomain.Batcher
	Orchestrator payoutdomain.Orchestrator
	Gateway      webhookdomain.Gateway
	Reporter     *reconciliation.Reporter
	EngineCfg    *config.EngineConfigHolder
	Locker       *lock.Locker `optional:"true"`
	Config       Config       `optional:"true"`
}

// Scheduler drives the periodic jobs of the payout engine: building payout
// batches, pushing pending payouts to the rail, re-driving deferred webhook
// events, nightly reconciliation, and sweeping for stuck payouts.
type Scheduler struct {
	log          *zap.Logger
	cfg          Config
	clock        clock.Clock
	settingsSvc  settings.Service
	batcher      payoutdomain.Batcher
	orchestrator payoutdomain.Orchestrator
	gateway      webhookdomain.Gateway
	reporter     *reconciliation.Reporter
	engineCfg    *config.EngineConfigHolder
	locker       *lock.Locker
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.SettingsSvc == nil || p.Batcher == nil ||
		p.Orchestrator == nil || p.Gateway == nil || p.Reporter == nil || p.EngineCfg == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:          p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:          p.Config.withDefaults(),
		clock:        p.Clock,
		settingsSvc:  p.SettingsSvc,
		batcher:      p.Batcher,
		orchestrator: p.Orchestrator,
		gateway:      p.Gateway,
		reporter:     p.Reporter,
		engineCfg:    p.EngineCfg,
		locker:       p.Locker,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	release, acquired := s.acquireLock(ctx, name)
	if !acquired {
		return nil
	}
	defer release()

	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// acquireLock keeps a job on one worker per interval. Without redis every
// worker runs every job; the claim columns and conditional transitions keep
// that correct, just noisier.
func (s *Scheduler) acquireLock(ctx context.Context, name string) (func(), bool) {
	if s.locker == nil {
		return func() {}, true
	}
	key := "carebound:scheduler:" + name
	token, ok, err := s.locker.TryLock(ctx, key, s.cfg.LockTTL)
	if err != nil {
		s.log.Warn("job lock unavailable, running unlocked",
			zap.String("job", name),
			zap.Error(err),
		)
		return func() {}, true
	}
	if !ok {
		return func() {}, false
	}
	return func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			s.log.Warn("job lock release failed", zap.String("job", name), zap.Error(err))
		}
	}, true
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{"build_payouts", s.isJobEnabled("build_payouts"), func(ctx context.Context) error {
			return s.runJob(ctx, "build_payouts", 2*time.Minute, s.BuildPayoutsJob)
		}},
		{"execute_payouts", s.isJobEnabled("execute_payouts"), func(ctx context.Context) error {
			return s.runJob(ctx, "execute_payouts", 5*time.Minute, s.ExecutePayoutsJob)
		}},
		{"webhook_retry", s.isJobEnabled("webhook_retry"), func(ctx context.Context) error {
			return s.runJob(ctx, "webhook_retry", 2*time.Minute, s.WebhookRetryJob)
		}},
		{"reconcile", s.isJobEnabled("reconcile"), func(ctx context.Context) error {
			return s.runJob(ctx, "reconcile", time.Minute, s.ReconcileJob)
		}},
		{"recovery_sweep", s.isJobEnabled("recovery_sweep"), func(ctx context.Context) error {
			return s.runJob(ctx, "recovery_sweep", time.Minute, s.RecoverySweepJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// BuildPayoutsJob groups unclaimed sealed-entry balances into pending
// payouts. The settings snapshot is taken once so the whole run sees one
// policy.
func (s *Scheduler) BuildPayoutsJob(ctx context.Context) error {
	snap, err := s.settingsSvc.Snapshot(ctx)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	if !batchDue(snap, now) {
		return nil
	}

	report, err := s.batcher.BuildBatch(ctx, snap, now)
	if len(report.Created) > 0 || len(report.Skipped) > 0 {
		obsmetrics.Scheduler().AddBatchProcessed("build_payouts", "payout_transactions", len(report.Created))
		s.log.Info("payout batch run",
			zap.Int("created", len(report.Created)),
			zap.Int("skipped", len(report.Skipped)),
		)
	}
	return err
}

// batchDue gates batch building by the configured payout frequency. Weekly
// batches go out on Friday; a missed Friday is caught by the next run since
// unclaimed balances carry over.
func batchDue(snap settings.Snapshot, now time.Time) bool {
	switch snap.PayoutFrequency {
	case settings.FrequencyDaily:
		return true
	case settings.FrequencyWeekly:
		return now.UTC().Weekday() == time.Friday
	default:
		return false
	}
}

func (s *Scheduler) ExecutePayoutsJob(ctx context.Context) error {
	batchSize := s.engineCfg.Current().PayoutBatchSize
	if batchSize <= 0 {
		batchSize = s.cfg.PayoutBatchSize
	}

	executed, err := s.orchestrator.ExecuteDue(ctx, batchSize)
	if executed > 0 {
		obsmetrics.Scheduler().AddBatchProcessed("execute_payouts", "payout_transactions", executed)
	}
	return err
}

func (s *Scheduler) WebhookRetryJob(ctx context.Context) error {
	batchSize := s.engineCfg.Current().WebhookRetryBatchSize
	if batchSize <= 0 {
		batchSize = s.cfg.WebhookBatchSize
	}

	processed, err := s.gateway.RetryDue(ctx, batchSize)
	if processed > 0 {
		obsmetrics.Scheduler().AddBatchProcessed("webhook_retry", "webhook_events", processed)
	}
	return err
}

// ReconcileJob snapshots yesterday's balances. Snapshot is idempotent per
// date, so running every interval costs one indexed lookup after the first
// build of the day.
func (s *Scheduler) ReconcileJob(ctx context.Context) error {
	yesterday := s.clock.Now().UTC().AddDate(0, 0, -1)
	_, err := s.reporter.Snapshot(ctx, yesterday, false)
	return err
}

// RecoverySweepJob surfaces payouts stuck in processing beyond the
// threshold. The rail owes us a webhook for every transfer; when it never
// arrives an operator has to look, because guessing the outcome risks
// paying twice.
func (s *Scheduler) RecoverySweepJob(ctx context.Context) error {
	threshold := s.engineCfg.Current().StuckPayoutThreshold
	if threshold <= 0 {
		threshold = s.cfg.RecoveryThreshold
	}

	stuck, err := s.orchestrator.StuckProcessing(ctx, threshold)
	if err != nil {
		return err
	}
	for _, payout := range stuck {
		s.log.Error("payout stuck in processing, needs operator review",
			zap.String("payout_id", payout.ID.String()),
			zap.String("payee_id", payout.PayeeID.String()),
			zap.Int64("amount_cents", payout.AmountCents),
			zap.Timep("initiated_at", payout.InitiatedAt),
		)
	}
	if len(stuck) > 0 {
		obsmetrics.Scheduler().AddBatchProcessed("recovery_sweep", "stuck_payouts", len(stuck))
	}
	return nil
}
