package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/carebound/carebound/internal/ledger/domain"
	ledgerservice "github.com/carebound/carebound/internal/ledger/service"
	payeedomain "github.com/carebound/carebound/internal/payee/domain"
	payeerepo "github.com/carebound/carebound/internal/payee/repository"
	"github.com/carebound/carebound/internal/rating"
	"github.com/carebound/carebound/internal/referral"
	referraldomain "github.com/carebound/carebound/internal/referral/domain"
	"github.com/carebound/carebound/internal/timesheet/domain"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db       *gorm.DB
	node     *snowflake.Node
	svc      domain.Service
	ledger   ledgerdomain.Service
	referral referraldomain.Repository
}

func newFixture(t *testing.T, name string) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&payeedomain.Payee{},
		&referraldomain.ReferralCode{},
		&domain.TimeEntry{},
		&ledgerdomain.LedgerFact{},
	))
	db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS ux_ledger_facts_type_ref ON ledger_facts(fact_type, reference_type, reference_id)")

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	log := zap.NewNop()
	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{DB: db, Log: log, GenID: node})
	referralRepo := referral.NewRepository(referral.Params{DB: db, Log: log, GenID: node})
	svc := New(Params{
		DB:           db,
		Log:          log,
		GenID:        node,
		PayeeRepo:    payeerepo.Provide(),
		ReferralRepo: referralRepo,
		Ledger:       ledgerSvc,
	})

	return &fixture{db: db, node: node, svc: svc, ledger: ledgerSvc, referral: referralRepo}
}

func (f *fixture) seedWorker(t *testing.T, payeeType payeedomain.PayeeType) payeedomain.Payee {
	t.Helper()
	worker := payeedomain.Payee{
		ID:    f.node.Generate(),
		Type:  payeeType,
		Name:  "Worker",
		Email: "worker@example.com",
	}
	require.NoError(t, f.db.Create(&worker).Error)
	return worker
}

func (f *fixture) seedTrainingCenter(t *testing.T) payeedomain.Payee {
	t.Helper()
	center := payeedomain.Payee{
		ID:    f.node.Generate(),
		Type:  payeedomain.PayeeTypeTrainingCenter,
		Name:  "Training Center",
		Email: "center@example.com",
	}
	require.NoError(t, f.db.Create(&center).Error)
	return center
}

func (f *fixture) seedReferral(t *testing.T, code string) referraldomain.ReferralCode {
	t.Helper()
	partner := payeedomain.Payee{
		ID:    f.node.Generate(),
		Type:  payeedomain.PayeeTypeMarketingPartner,
		Name:  "Partner",
		Email: "partner@example.com",
	}
	require.NoError(t, f.db.Create(&partner).Error)

	record, err := f.referral.Create(context.Background(), code, partner.ID)
	require.NoError(t, err)
	return record
}

func (f *fixture) openEntry(t *testing.T, referralCode, trainingCenterID string, workedFor time.Duration) domain.TimeEntry {
	t.Helper()
	ctx := context.Background()

	worker := f.seedWorker(t, payeedomain.PayeeTypeCaregiver)
	clockIn := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	entry, err := f.svc.Record(ctx, domain.RecordEntryRequest{
		WorkerID:         worker.ID.String(),
		ClientID:         f.node.Generate().String(),
		ReferralCode:     referralCode,
		TrainingCenterID: trainingCenterID,
		ClockInAt:        clockIn,
	})
	require.NoError(t, err)

	entry, err = f.svc.ClockOut(ctx, domain.ClockOutRequest{
		ID:         entry.ID.String(),
		ClockOutAt: clockIn.Add(workedFor),
	})
	require.NoError(t, err)
	return entry
}

func TestSeal_ReferralFifteenHours(t *testing.T) {
	f := newFixture(t, "ts_seal_referral")
	ctx := context.Background()

	code := f.seedReferral(t, "SPRING26")
	entry := f.openEntry(t, "SPRING26", "", 15*time.Hour)

	sealed, err := f.svc.Seal(ctx, entry.ID.String())
	require.NoError(t, err)

	assert.Equal(t, domain.TimeEntryStatusSealed, sealed.Status)
	assert.Equal(t, int64(900), sealed.MinutesWorked)
	assert.Equal(t, int64(60000), sealed.ClientTotalCents)
	assert.Equal(t, int64(42000), sealed.CaregiverCents)
	assert.Equal(t, int64(1500), sealed.MarketingCents)
	assert.Equal(t, int64(0), sealed.TrainingCents)
	assert.Equal(t, int64(16500), sealed.AgencyCents)

	facts, err := f.ledger.FindByReference(ctx, ledgerdomain.ReferenceTimeEntry, sealed.ID)
	require.NoError(t, err)
	assert.Len(t, facts, 3)

	// Referral counters committed with the seal
	refreshed, err := f.referral.FindByID(ctx, code.ID)
	require.NoError(t, err)
	require.NotNil(t, refreshed)
	assert.Equal(t, int64(1), refreshed.UsageCount)
	assert.Equal(t, int64(1500), refreshed.CumulativeCommissionCents)
}

func TestSeal_TrainingCenterThirtySevenMinutes(t *testing.T) {
	f := newFixture(t, "ts_seal_training")
	ctx := context.Background()

	center := f.seedTrainingCenter(t)
	entry := f.openEntry(t, "", center.ID.String(), 37*time.Minute)

	sealed, err := f.svc.Seal(ctx, entry.ID.String())
	require.NoError(t, err)

	assert.Equal(t, int64(37), sealed.MinutesWorked)
	assert.Equal(t, int64(2775), sealed.ClientTotalCents)
	assert.Equal(t, int64(1727), sealed.CaregiverCents)
	assert.Equal(t, int64(0), sealed.MarketingCents)
	assert.Equal(t, int64(31), sealed.TrainingCents)
	assert.Equal(t, int64(1017), sealed.AgencyCents)

	facts, err := f.ledger.FindByReference(ctx, ledgerdomain.ReferenceTimeEntry, sealed.ID)
	require.NoError(t, err)
	assert.Len(t, facts, 3)
}

func TestSeal_Idempotent(t *testing.T) {
	f := newFixture(t, "ts_seal_idem")
	ctx := context.Background()

	entry := f.openEntry(t, "", "", 2*time.Hour)

	first, err := f.svc.Seal(ctx, entry.ID.String())
	require.NoError(t, err)

	second, err := f.svc.Seal(ctx, entry.ID.String())
	require.NoError(t, err)
	assert.Equal(t, first.ClientTotalCents, second.ClientTotalCents)
	assert.Equal(t, first.SealedAt.Unix(), second.SealedAt.Unix())

	var count int64
	f.db.Model(&ledgerdomain.LedgerFact{}).
		Where("reference_id = ?", entry.ID).
		Count(&count)
	assert.Equal(t, int64(2), count)
}

func TestSeal_RequiresClockOut(t *testing.T) {
	f := newFixture(t, "ts_seal_open")
	ctx := context.Background()

	worker := f.seedWorker(t, payeedomain.PayeeTypeHousekeeper)
	entry, err := f.svc.Record(ctx, domain.RecordEntryRequest{
		WorkerID:  worker.ID.String(),
		ClientID:  f.node.Generate().String(),
		ClockInAt: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)

	_, err = f.svc.Seal(ctx, entry.ID.String())
	assert.ErrorIs(t, err, domain.ErrNotClockedOut)
}

func TestClockOut_Guards(t *testing.T) {
	f := newFixture(t, "ts_clockout")
	ctx := context.Background()

	worker := f.seedWorker(t, payeedomain.PayeeTypeCaregiver)
	clockIn := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	entry, err := f.svc.Record(ctx, domain.RecordEntryRequest{
		WorkerID:  worker.ID.String(),
		ClientID:  f.node.Generate().String(),
		ClockInAt: clockIn,
	})
	require.NoError(t, err)

	// Out before in is rejected
	_, err = f.svc.ClockOut(ctx, domain.ClockOutRequest{
		ID:         entry.ID.String(),
		ClockOutAt: clockIn.Add(-time.Minute),
	})
	assert.ErrorIs(t, err, rating.ErrInvalidDuration)

	_, err = f.svc.ClockOut(ctx, domain.ClockOutRequest{
		ID:         entry.ID.String(),
		ClockOutAt: clockIn.Add(3 * time.Hour),
	})
	require.NoError(t, err)

	// Second clock-out leaves the window untouched
	_, err = f.svc.ClockOut(ctx, domain.ClockOutRequest{
		ID:         entry.ID.String(),
		ClockOutAt: clockIn.Add(5 * time.Hour),
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyClockedOut)
}

func TestRecord_ValidatesAttribution(t *testing.T) {
	f := newFixture(t, "ts_record")
	ctx := context.Background()

	worker := f.seedWorker(t, payeedomain.PayeeTypeCaregiver)

	_, err := f.svc.Record(ctx, domain.RecordEntryRequest{
		WorkerID:     worker.ID.String(),
		ClientID:     f.node.Generate().String(),
		ReferralCode: "NOPE",
	})
	assert.ErrorIs(t, err, referraldomain.ErrCodeNotFound)

	// Marketing partners cannot clock in as workers
	partner := f.seedReferral(t, "REF1")
	_, err = f.svc.Record(ctx, domain.RecordEntryRequest{
		WorkerID: partner.MarketingPartnerID.String(),
		ClientID: f.node.Generate().String(),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidWorker)
}

func TestSeal_LedgerBalanceProperty(t *testing.T) {
	f := newFixture(t, "ts_balance")
	ctx := context.Background()

	f.seedReferral(t, "BAL26")

	var expected int64
	durations := []time.Duration{37 * time.Minute, 2 * time.Hour, 15 * time.Hour}
	for i, d := range durations {
		code := ""
		if i%2 == 0 {
			code = "BAL26"
		}
		entry := f.openEntry(t, code, "", d)
		sealed, err := f.svc.Seal(ctx, entry.ID.String())
		require.NoError(t, err)
		expected += sealed.ClientTotalCents
	}

	balance, err := f.ledger.Balance(ctx, ledgerdomain.AccountClientPayments, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, expected, balance)

	total, err := f.ledger.SumByFactType(ctx, ledgerdomain.FactTypeClientCharge, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, expected, total)
}
