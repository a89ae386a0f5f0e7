package scheduler

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/carebound/carebound/internal/clock"
	"github.com/carebound/carebound/internal/compliance"
	"github.com/carebound/carebound/internal/config"
	ledgerdomain "github.com/carebound/carebound/internal/ledger/domain"
	ledgerservice "github.com/carebound/carebound/internal/ledger/service"
	obsmetrics "github.com/carebound/carebound/internal/observability/metrics"
	payeedomain "github.com/carebound/carebound/internal/payee/domain"
	payeerepo "github.com/carebound/carebound/internal/payee/repository"
	"github.com/carebound/carebound/internal/payout"
	payoutdomain "github.com/carebound/carebound/internal/payout/domain"
	raildomain "github.com/carebound/carebound/internal/rail/domain"
	"github.com/carebound/carebound/internal/reconciliation"
	"github.com/carebound/carebound/internal/settings"
	timesheetdomain "github.com/carebound/carebound/internal/timesheet/domain"
	webhookdomain "github.com/carebound/carebound/internal/webhook/domain"
	webhookservice "github.com/carebound/carebound/internal/webhook/service"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubRail struct {
	transferSeq int
	event       *raildomain.RailEvent
	balance     raildomain.Balance
	transfers   []raildomain.TransferRequest
}

func (r *stubRail) Provider() string { return "stripe" }

func (r *stubRail) CreateTransfer(ctx context.Context, req raildomain.TransferRequest) (raildomain.TransferResult, error) {
	r.transferSeq++
	r.transfers = append(r.transfers, req)
	return raildomain.TransferResult{TransferID: "tr_" + req.IdempotencyKey}, nil
}

func (r *stubRail) AccountStatus(ctx context.Context, account string) (raildomain.AccountStatus, error) {
	return raildomain.AccountStatus{ChargesEnabled: true, PayoutsEnabled: true}, nil
}

func (r *stubRail) Balance(ctx context.Context) (raildomain.Balance, error) {
	return r.balance, nil
}

func (r *stubRail) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	return nil
}

func (r *stubRail) Parse(ctx context.Context, payload []byte) (*raildomain.RailEvent, error) {
	if r.event == nil {
		return nil, raildomain.ErrEventIgnored
	}
	return r.event, nil
}

type schedulerFixture struct {
	db           *gorm.DB
	node         *snowflake.Node
	clock        *clock.FakeClock
	rail         *stubRail
	orchestrator payoutdomain.Orchestrator
	gateway      webhookdomain.Gateway
	settingsSvc  settings.Service
	sched        *Scheduler
}

func newSchedulerFixture(t *testing.T, name string) *schedulerFixture {
	t.Helper()
	obsmetrics.ResetSchedulerMetricsForTest()

	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&payeedomain.Payee{},
		&timesheetdomain.TimeEntry{},
		&payoutdomain.PayoutTransaction{},
		&ledgerdomain.LedgerFact{},
		&webhookdomain.WebhookEvent{},
		&settings.Setting{},
		&reconciliation.DailyBalanceSnapshot{},
	))
	db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS ux_ledger_facts_type_ref ON ledger_facts(fact_type, reference_type, reference_id)")
	db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS ux_webhook_events_provider_event ON webhook_events(provider, external_event_id)")
	db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS ux_balance_snapshots_date ON daily_balance_snapshots(snapshot_date)")

	stripForUpdate := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			newSQL := strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
			newSQL = strings.ReplaceAll(newSQL, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(newSQL)
		}
	}
	db.Callback().Query().Before("gorm:query").Register("sqlite_skip_locked", stripForUpdate)
	db.Callback().Row().Before("gorm:row").Register("sqlite_skip_locked_row", stripForUpdate)

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)

	log := zap.NewNop()
	fakeClock := clock.NewFakeClock(time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)) // a Friday
	rail := &stubRail{}
	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{DB: db, Log: log, GenID: node})
	gate := compliance.NewGate(compliance.Params{Log: log, Clock: fakeClock})
	engineCfg := config.StaticEngineConfigHolder(config.DefaultEngineConfig())
	settingsSvc := settings.New(settings.Params{DB: db, Log: log, EngineCfg: engineCfg})

	batcher := payout.NewBatcher(payout.BatcherParams{
		DB:        db,
		Log:       log,
		GenID:     node,
		PayeeRepo: payeerepo.Provide(),
		Gate:      gate,
	})
	orchestrator := payout.NewOrchestrator(payout.OrchestratorParams{
		DB:        db,
		Log:       log,
		GenID:     node,
		PayeeRepo: payeerepo.Provide(),
		Rail:      rail,
		Ledger:    ledgerSvc,
	})
	gateway := webhookservice.NewGateway(webhookservice.Params{
		DB:           db,
		Log:          log,
		GenID:        node,
		Rail:         rail,
		Orchestrator: orchestrator,
		Ledger:       ledgerSvc,
		EngineCfg:    engineCfg,
	})
	reporter := reconciliation.NewReporter(reconciliation.Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		Ledger:      ledgerSvc,
		Rail:        rail,
		SettingsSvc: settingsSvc,
	})

	sched, err := New(Params{
		Log:          log,
		Clock:        fakeClock,
		SettingsSvc:  settingsSvc,
		Batcher:      batcher,
		Orchestrator: orchestrator,
		Gateway:      gateway,
		Reporter:     reporter,
		EngineCfg:    engineCfg,
	})
	require.NoError(t, err)

	return &schedulerFixture{
		db:           db,
		node:         node,
		clock:        fakeClock,
		rail:         rail,
		orchestrator: orchestrator,
		gateway:      gateway,
		settingsSvc:  settingsSvc,
		sched:        sched,
	}
}

func (f *schedulerFixture) seedPayableWork(t *testing.T) payeedomain.Payee {
	t.Helper()
	validUntil := f.clock.Now().AddDate(1, 0, 0)
	payee := payeedomain.Payee{
		ID:                        f.node.Generate(),
		Type:                      payeedomain.PayeeTypeCaregiver,
		Name:                      "Worker",
		Email:                     "worker@example.com",
		RailAccountID:             "acct_worker",
		RailAccountVerified:       true,
		TaxFormOnFile:             true,
		BackgroundCheckValidUntil: &validUntil,
	}
	require.NoError(t, f.db.Create(&payee).Error)

	sealedAt := f.clock.Now().Add(-2 * time.Hour)
	clockIn := sealedAt.Add(-3 * time.Hour)
	entry := timesheetdomain.TimeEntry{
		ID:               f.node.Generate(),
		WorkerID:         payee.ID,
		ClientID:         f.node.Generate(),
		ClockInAt:        clockIn,
		ClockOutAt:       &sealedAt,
		MinutesWorked:    180,
		Status:           timesheetdomain.TimeEntryStatusSealed,
		SealedAt:         &sealedAt,
		CaregiverCents:   8400,
		AgencyCents:      5100,
		ClientTotalCents: 13500,
		CreatedAt:        clockIn,
		UpdatedAt:        sealedAt,
	}
	require.NoError(t, f.db.Create(&entry).Error)
	return payee
}

func TestRunOnce_BuildsAndExecutesPayouts(t *testing.T) {
	f := newSchedulerFixture(t, "sched_cycle")
	ctx := context.Background()

	payee := f.seedPayableWork(t)
	require.NoError(t, f.settingsSvc.Set(ctx, settings.KeyPayoutFrequency, settings.FrequencyDaily))

	require.NoError(t, f.sched.RunOnce(ctx))

	processing, err := f.orchestrator.List(ctx, payoutdomain.PayoutStatusProcessing, 10)
	require.NoError(t, err)
	require.Len(t, processing, 1)
	assert.Equal(t, payee.ID, processing[0].PayeeID)
	assert.Equal(t, int64(8400), processing[0].AmountCents)
	require.Len(t, f.rail.transfers, 1)

	// The rail confirms; the webhook closes the loop.
	f.rail.event = &raildomain.RailEvent{
		Provider:        "stripe",
		ExternalEventID: "evt_sched_1",
		EventType:       raildomain.EventTypeTransferCompleted,
		TransferID:      *processing[0].ExternalTransferID,
	}
	require.NoError(t, f.gateway.Receive(ctx, "stripe", []byte(`{}`), http.Header{}))
	f.rail.event = nil

	completed, err := f.orchestrator.GetByID(ctx, processing[0].ID)
	require.NoError(t, err)
	assert.Equal(t, payoutdomain.PayoutStatusCompleted, completed.Status)

	// A second run finds nothing left to claim or execute.
	require.NoError(t, f.sched.RunOnce(ctx))
	var payoutCount int64
	f.db.Model(&payoutdomain.PayoutTransaction{}).Count(&payoutCount)
	assert.Equal(t, int64(1), payoutCount)
}

func TestRunOnce_WeeklyFrequencySkipsOffDays(t *testing.T) {
	f := newSchedulerFixture(t, "sched_weekly")
	ctx := context.Background()

	f.seedPayableWork(t)
	// Default frequency is weekly; move the clock to a Tuesday.
	f.clock.Advance(96 * time.Hour)

	require.NoError(t, f.sched.RunOnce(ctx))

	var payoutCount int64
	f.db.Model(&payoutdomain.PayoutTransaction{}).Count(&payoutCount)
	assert.Equal(t, int64(0), payoutCount)

	// Friday comes around.
	f.clock.Advance(72 * time.Hour)
	require.NoError(t, f.sched.RunOnce(ctx))
	f.db.Model(&payoutdomain.PayoutTransaction{}).Count(&payoutCount)
	assert.Equal(t, int64(1), payoutCount)
}

func TestRunOnce_BuildsDailySnapshot(t *testing.T) {
	f := newSchedulerFixture(t, "sched_recon")
	ctx := context.Background()

	require.NoError(t, f.sched.RunOnce(ctx))

	yesterday := f.clock.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
	var snap reconciliation.DailyBalanceSnapshot
	require.NoError(t, f.db.First(&snap, "snapshot_date = ?", yesterday).Error)
}

func TestRecoverySweep_SurfacesStuckPayouts(t *testing.T) {
	f := newSchedulerFixture(t, "sched_stuck")
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	transferID := "tr_stuck"
	stuck := payoutdomain.PayoutTransaction{
		ID:                 f.node.Generate(),
		PayeeID:            f.node.Generate(),
		PayeeType:          payeedomain.PayeeTypeCaregiver,
		AmountCents:        9000,
		EntryCount:         1,
		ExternalTransferID: &transferID,
		Status:             payoutdomain.PayoutStatusProcessing,
		InitiatedAt:        &old,
		CreatedAt:          old,
		UpdatedAt:          old,
	}
	require.NoError(t, f.db.Create(&stuck).Error)

	require.NoError(t, f.sched.RecoverySweepJob(ctx))

	// The sweep reports, it never guesses an outcome.
	found, err := f.orchestrator.StuckProcessing(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, stuck.ID, found[0].ID)
	assert.Equal(t, payoutdomain.PayoutStatusProcessing, found[0].Status)
}

func TestBatchDue(t *testing.T) {
	friday := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	monday := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)

	assert.True(t, batchDue(settings.Snapshot{PayoutFrequency: settings.FrequencyDaily}, monday))
	assert.True(t, batchDue(settings.Snapshot{PayoutFrequency: settings.FrequencyWeekly}, friday))
	assert.False(t, batchDue(settings.Snapshot{PayoutFrequency: settings.FrequencyWeekly}, monday))
	assert.False(t, batchDue(settings.Snapshot{PayoutFrequency: "monthly"}, friday))
}
