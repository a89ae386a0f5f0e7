package payout

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/carebound/carebound/internal/clock"
	"github.com/carebound/carebound/internal/compliance"
	ledgerdomain "github.com/carebound/carebound/internal/ledger/domain"
	ledgerservice "github.com/carebound/carebound/internal/ledger/service"
	obsmetrics "github.com/carebound/carebound/internal/observability/metrics"
	payeedomain "github.com/carebound/carebound/internal/payee/domain"
	payeerepo "github.com/carebound/carebound/internal/payee/repository"
	"github.com/carebound/carebound/internal/payout/domain"
	raildomain "github.com/carebound/carebound/internal/rail/domain"
	"github.com/carebound/carebound/internal/settings"
	timesheetdomain "github.com/carebound/carebound/internal/timesheet/domain"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// fakeRail scripts synchronous rail behavior per test.
type fakeRail struct {
	transferID   string
	rejectReason string
	calls        []raildomain.TransferRequest
}

func (f *fakeRail) Provider() string { return "fake" }

func (f *fakeRail) CreateTransfer(ctx context.Context, req raildomain.TransferRequest) (raildomain.TransferResult, error) {
	f.calls = append(f.calls, req)
	if f.rejectReason != "" {
		return raildomain.TransferResult{}, &raildomain.RejectionError{Reason: f.rejectReason}
	}
	return raildomain.TransferResult{TransferID: f.transferID}, nil
}

func (f *fakeRail) AccountStatus(ctx context.Context, account string) (raildomain.AccountStatus, error) {
	return raildomain.AccountStatus{ChargesEnabled: true, PayoutsEnabled: true}, nil
}

func (f *fakeRail) Balance(ctx context.Context) (raildomain.Balance, error) {
	return raildomain.Balance{}, nil
}

func (f *fakeRail) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	return nil
}

func (f *fakeRail) Parse(ctx context.Context, payload []byte) (*raildomain.RailEvent, error) {
	return nil, raildomain.ErrEventIgnored
}

type payoutFixture struct {
	db           *gorm.DB
	node         *snowflake.Node
	batcher      domain.Batcher
	orchestrator domain.Orchestrator
	ledger       ledgerdomain.Service
	rail         *fakeRail
	snap         settings.Snapshot
}

func newPayoutFixture(t *testing.T, name string) *payoutFixture {
	t.Helper()
	obsmetrics.ResetSchedulerMetricsForTest()

	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&payeedomain.Payee{},
		&timesheetdomain.TimeEntry{},
		&domain.PayoutTransaction{},
		&ledgerdomain.LedgerFact{},
	))
	db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS ux_ledger_facts_type_ref ON ledger_facts(fact_type, reference_type, reference_id)")

	// SQLite support hack: remove FOR UPDATE clauses
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

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	log := zap.NewNop()
	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{DB: db, Log: log, GenID: node})
	gate := compliance.NewGate(compliance.Params{Log: log, Clock: clock.NewSystemClock()})
	rail := &fakeRail{transferID: "tr_fake"}

	batcher := NewBatcher(BatcherParams{
		DB:        db,
		Log:       log,
		GenID:     node,
		PayeeRepo: payeerepo.Provide(),
		Gate:      gate,
	})
	orchestrator := NewOrchestrator(OrchestratorParams{
		DB:        db,
		Log:       log,
		GenID:     node,
		PayeeRepo: payeerepo.Provide(),
		Rail:      rail,
		Ledger:    ledgerSvc,
	})

	return &payoutFixture{
		db:           db,
		node:         node,
		batcher:      batcher,
		orchestrator: orchestrator,
		ledger:       ledgerSvc,
		rail:         rail,
		snap:         settings.Snapshot{PayoutFrequency: settings.FrequencyWeekly, MinimumPayoutCents: 1000},
	}
}

func (f *payoutFixture) seedPayee(t *testing.T, payeeType payeedomain.PayeeType) payeedomain.Payee {
	t.Helper()
	validUntil := time.Now().AddDate(1, 0, 0)
	payee := payeedomain.Payee{
		ID:                        f.node.Generate(),
		Type:                      payeeType,
		Name:                      "Payee",
		Email:                     "payee@example.com",
		RailAccountID:             "acct_" + f.node.Generate().String(),
		RailAccountVerified:       true,
		TaxFormOnFile:             true,
		BackgroundCheckValidUntil: &validUntil,
	}
	require.NoError(t, f.db.Create(&payee).Error)
	return payee
}

// seedSealedEntry writes a sealed entry with frozen split columns.
func (f *payoutFixture) seedSealedEntry(t *testing.T, worker payeedomain.Payee, caregiverCents int64, marketing, training *payeedomain.Payee) timesheetdomain.TimeEntry {
	t.Helper()
	now := time.Now().UTC()
	sealedAt := now.Add(-time.Hour)
	entry := timesheetdomain.TimeEntry{
		ID:             f.node.Generate(),
		WorkerID:       worker.ID,
		ClientID:       f.node.Generate(),
		ClockInAt:      sealedAt.Add(-2 * time.Hour),
		ClockOutAt:     &sealedAt,
		MinutesWorked:  120,
		Status:         timesheetdomain.TimeEntryStatusSealed,
		SealedAt:       &sealedAt,
		CaregiverCents: caregiverCents,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	entry.ClientTotalCents = caregiverCents + 2000
	entry.AgencyCents = 2000
	if marketing != nil {
		entry.MarketingPartnerID = &marketing.ID
		entry.MarketingCents = 200
		entry.AgencyCents -= 200
	}
	if training != nil {
		entry.TrainingCenterID = &training.ID
		entry.TrainingCents = 100
		entry.AgencyCents -= 100
	}
	require.NoError(t, f.db.Create(&entry).Error)
	return entry
}

func TestBuildBatch_OnePayoutPerEligiblePayee(t *testing.T) {
	f := newPayoutFixture(t, "po_build")
	ctx := context.Background()

	worker := f.seedPayee(t, payeedomain.PayeeTypeCaregiver)
	partner := f.seedPayee(t, payeedomain.PayeeTypeMarketingPartner)

	f.seedSealedEntry(t, worker, 5600, &partner, nil)
	f.seedSealedEntry(t, worker, 2800, &partner, nil)

	report, err := f.batcher.BuildBatch(ctx, f.snap, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, report.Created, 1)

	workerPayout := report.Created[0]
	assert.Equal(t, worker.ID, workerPayout.PayeeID)
	assert.Equal(t, int64(8400), workerPayout.AmountCents)
	assert.Equal(t, int64(2), workerPayout.EntryCount)
	assert.Equal(t, domain.PayoutStatusPending, workerPayout.Status)

	// Partner accrued only 400, below the 1000 minimum
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, partner.ID, report.Skipped[0].PayeeID)
	assert.Equal(t, []string{"below_minimum_payout"}, report.Skipped[0].Reasons)
}

func TestBuildBatch_ComplianceHold(t *testing.T) {
	f := newPayoutFixture(t, "po_gate")
	ctx := context.Background()

	worker := f.seedPayee(t, payeedomain.PayeeTypeCaregiver)
	worker.TaxFormOnFile = false
	require.NoError(t, f.db.Save(&worker).Error)

	f.seedSealedEntry(t, worker, 5600, nil, nil)

	report, err := f.batcher.BuildBatch(ctx, f.snap, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, report.Created)
	require.Len(t, report.Skipped, 1)
	assert.Contains(t, report.Skipped[0].Reasons, compliance.ReasonMissingTaxForm)

	// Held funds stay unclaimed for the next run
	var entry timesheetdomain.TimeEntry
	require.NoError(t, f.db.First(&entry, "worker_id = ?", worker.ID).Error)
	assert.Nil(t, entry.PayoutTransactionID)
}

func TestBuildBatch_NoDoubleClaim(t *testing.T) {
	f := newPayoutFixture(t, "po_claim")
	ctx := context.Background()

	worker := f.seedPayee(t, payeedomain.PayeeTypeCaregiver)
	f.seedSealedEntry(t, worker, 5600, nil, nil)

	first, err := f.batcher.BuildBatch(ctx, f.snap, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, first.Created, 1)

	second, err := f.batcher.BuildBatch(ctx, f.snap, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, second.Created)

	var count int64
	f.db.Model(&domain.PayoutTransaction{}).Where("payee_id = ?", worker.ID).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestExecute_SynchronousAccept(t *testing.T) {
	f := newPayoutFixture(t, "po_exec")
	ctx := context.Background()

	worker := f.seedPayee(t, payeedomain.PayeeTypeCaregiver)
	f.seedSealedEntry(t, worker, 5600, nil, nil)

	report, err := f.batcher.BuildBatch(ctx, f.snap, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, report.Created, 1)
	payoutID := report.Created[0].ID

	f.rail.transferID = "tr_accept"
	require.NoError(t, f.orchestrator.Execute(ctx, payoutID))

	payout, err := f.orchestrator.GetByID(ctx, payoutID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusProcessing, payout.Status)
	require.NotNil(t, payout.ExternalTransferID)
	assert.Equal(t, "tr_accept", *payout.ExternalTransferID)

	// Idempotency key is the payout ID
	require.Len(t, f.rail.calls, 1)
	assert.Equal(t, payoutID.String(), f.rail.calls[0].IdempotencyKey)
	assert.Equal(t, worker.RailAccountID, f.rail.calls[0].DestinationAccount)
}

func TestExecute_RejectionReleasesClaims(t *testing.T) {
	f := newPayoutFixture(t, "po_reject")
	ctx := context.Background()

	worker := f.seedPayee(t, payeedomain.PayeeTypeCaregiver)
	for i := 0; i < 5; i++ {
		f.seedSealedEntry(t, worker, 2400, nil, nil)
	}

	report, err := f.batcher.BuildBatch(ctx, f.snap, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, report.Created, 1)
	require.Equal(t, int64(12000), report.Created[0].AmountCents)
	payoutID := report.Created[0].ID

	f.rail.rejectReason = "insufficient_destination_capabilities"
	require.NoError(t, f.orchestrator.Execute(ctx, payoutID))

	payout, err := f.orchestrator.GetByID(ctx, payoutID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusFailed, payout.Status)
	assert.Equal(t, "insufficient_destination_capabilities", payout.FailureReason)

	// All five entries are visible to the next batch run
	var unclaimed int64
	f.db.Model(&timesheetdomain.TimeEntry{}).
		Where("worker_id = ? AND payout_transaction_id IS NULL", worker.ID).
		Count(&unclaimed)
	assert.Equal(t, int64(5), unclaimed)

	f.rail.rejectReason = ""
	next, err := f.batcher.BuildBatch(ctx, f.snap, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, next.Created, 1)
	assert.Equal(t, int64(12000), next.Created[0].AmountCents)
}

func TestCompleteFromWebhook_SettlesOnce(t *testing.T) {
	f := newPayoutFixture(t, "po_complete")
	ctx := context.Background()

	worker := f.seedPayee(t, payeedomain.PayeeTypeCaregiver)
	f.seedSealedEntry(t, worker, 5600, nil, nil)

	report, err := f.batcher.BuildBatch(ctx, f.snap, time.Now().UTC())
	require.NoError(t, err)
	payoutID := report.Created[0].ID

	f.rail.transferID = "tr_done"
	require.NoError(t, f.orchestrator.Execute(ctx, payoutID))
	require.NoError(t, f.orchestrator.CompleteFromWebhook(ctx, "tr_done"))

	payout, err := f.orchestrator.GetByID(ctx, payoutID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusCompleted, payout.Status)

	// Duplicate confirmation changes nothing
	require.NoError(t, f.orchestrator.CompleteFromWebhook(ctx, "tr_done"))

	facts, err := f.ledger.FindByReference(ctx, ledgerdomain.ReferencePayout, payoutID)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, ledgerdomain.FactTypeCaregiverPayout, facts[0].FactType)
	assert.Equal(t, ledgerdomain.AccountCaregiverPayable, facts[0].DebitAccount)
	assert.Equal(t, ledgerdomain.AccountPayoutClearing, facts[0].CreditAccount)
	assert.Equal(t, int64(5600), facts[0].AmountCents)

	_, err = f.orchestrator.GetByID(ctx, payoutID)
	require.NoError(t, err)

	err = f.orchestrator.CompleteFromWebhook(ctx, "tr_unknown")
	assert.ErrorIs(t, err, domain.ErrUnknownTransfer)
}

func TestFailFromWebhook_ReleasesClaims(t *testing.T) {
	f := newPayoutFixture(t, "po_fail_hook")
	ctx := context.Background()

	worker := f.seedPayee(t, payeedomain.PayeeTypeCaregiver)
	f.seedSealedEntry(t, worker, 5600, nil, nil)

	report, err := f.batcher.BuildBatch(ctx, f.snap, time.Now().UTC())
	require.NoError(t, err)
	payoutID := report.Created[0].ID

	f.rail.transferID = "tr_flaky"
	require.NoError(t, f.orchestrator.Execute(ctx, payoutID))
	require.NoError(t, f.orchestrator.FailFromWebhook(ctx, "tr_flaky", "account_closed"))

	payout, err := f.orchestrator.GetByID(ctx, payoutID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusFailed, payout.Status)
	assert.Equal(t, "account_closed", payout.FailureReason)

	var unclaimed int64
	f.db.Model(&timesheetdomain.TimeEntry{}).
		Where("worker_id = ? AND payout_transaction_id IS NULL", worker.ID).
		Count(&unclaimed)
	assert.Equal(t, int64(1), unclaimed)

	// A resent failure notice under a fresh event id is a no-op, same
	// as the completion path.
	require.NoError(t, f.orchestrator.FailFromWebhook(ctx, "tr_flaky", "account_closed"))

	payout, err = f.orchestrator.GetByID(ctx, payoutID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusFailed, payout.Status)
	assert.Equal(t, "account_closed", payout.FailureReason)
}

func TestCancel_OnlyPending(t *testing.T) {
	f := newPayoutFixture(t, "po_cancel")
	ctx := context.Background()

	worker := f.seedPayee(t, payeedomain.PayeeTypeCaregiver)
	f.seedSealedEntry(t, worker, 5600, nil, nil)

	report, err := f.batcher.BuildBatch(ctx, f.snap, time.Now().UTC())
	require.NoError(t, err)
	payoutID := report.Created[0].ID

	canceled, err := f.orchestrator.Cancel(ctx, payoutID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusFailed, canceled.Status)
	assert.Equal(t, domain.FailureReasonCanceled, canceled.FailureReason)

	var unclaimed int64
	f.db.Model(&timesheetdomain.TimeEntry{}).
		Where("worker_id = ? AND payout_transaction_id IS NULL", worker.ID).
		Count(&unclaimed)
	assert.Equal(t, int64(1), unclaimed)

	// Once past pending, cancel is rejected
	next, err := f.batcher.BuildBatch(ctx, f.snap, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, next.Created, 1)
	require.NoError(t, f.orchestrator.Execute(ctx, next.Created[0].ID))
	_, err = f.orchestrator.Cancel(ctx, next.Created[0].ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestReverse_CompletedPayout(t *testing.T) {
	f := newPayoutFixture(t, "po_reverse")
	ctx := context.Background()

	worker := f.seedPayee(t, payeedomain.PayeeTypeCaregiver)
	f.seedSealedEntry(t, worker, 5600, nil, nil)

	report, err := f.batcher.BuildBatch(ctx, f.snap, time.Now().UTC())
	require.NoError(t, err)
	payoutID := report.Created[0].ID

	f.rail.transferID = "tr_rev"
	require.NoError(t, f.orchestrator.Execute(ctx, payoutID))
	require.NoError(t, f.orchestrator.CompleteFromWebhook(ctx, "tr_rev"))

	// Policy off: entries stay tied to the reversed payout
	reversed, err := f.orchestrator.Reverse(ctx, payoutID, false)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusReversed, reversed.Status)

	var claimed int64
	f.db.Model(&timesheetdomain.TimeEntry{}).
		Where("payout_transaction_id = ?", payoutID).
		Count(&claimed)
	assert.Equal(t, int64(1), claimed)

	// The settlement fact was reversed in the ledger
	facts, err := f.ledger.FindByReference(ctx, ledgerdomain.ReferencePayout, payoutID)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	reversals, err := f.ledger.FindByReference(ctx, ledgerdomain.ReferenceLedgerFact, facts[0].ID)
	require.NoError(t, err)
	require.Len(t, reversals, 1)
	assert.Equal(t, ledgerdomain.FactTypeReversal, reversals[0].FactType)
	assert.Equal(t, ledgerdomain.AccountPayoutClearing, reversals[0].DebitAccount)

	_, err = f.orchestrator.Reverse(ctx, payoutID, false)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestExecuteDue_DrainsPending(t *testing.T) {
	f := newPayoutFixture(t, "po_due")
	ctx := context.Background()

	workerA := f.seedPayee(t, payeedomain.PayeeTypeCaregiver)
	workerB := f.seedPayee(t, payeedomain.PayeeTypeHousekeeper)
	f.seedSealedEntry(t, workerA, 5600, nil, nil)
	f.seedSealedEntry(t, workerB, 4200, nil, nil)

	report, err := f.batcher.BuildBatch(ctx, f.snap, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, report.Created, 2)

	executed, err := f.orchestrator.ExecuteDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, executed)

	pending, err := f.orchestrator.List(ctx, domain.PayoutStatusPending, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
