package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/carebound/carebound/internal/ledger/domain"
	obsmetrics "github.com/carebound/carebound/internal/observability/metrics"
	payeedomain "github.com/carebound/carebound/internal/payee/domain"
	"github.com/carebound/carebound/internal/rating"
	referraldomain "github.com/carebound/carebound/internal/referral/domain"
	"github.com/carebound/carebound/internal/timesheet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	PayeeRepo    payeedomain.Repository
	ReferralRepo referraldomain.Repository
	Ledger       ledgerdomain.Service
	ObsMetrics   *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	payeeRepo    payeedomain.Repository
	referralRepo referraldomain.Repository
	ledger       ledgerdomain.Service
	obsMetrics   *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("timesheet.service"),
		genID:        p.GenID,
		payeeRepo:    p.PayeeRepo,
		referralRepo: p.ReferralRepo,
		ledger:       p.Ledger,
		obsMetrics:   p.ObsMetrics,
	}
}

func (s *Service) Record(ctx context.Context, req domain.RecordEntryRequest) (domain.TimeEntry, error) {
	workerID, err := parseID(req.WorkerID)
	if err != nil {
		return domain.TimeEntry{}, domain.ErrInvalidWorker
	}
	clientID, err := parseID(req.ClientID)
	if err != nil {
		return domain.TimeEntry{}, domain.ErrInvalidClient
	}

	worker, err := s.payeeRepo.FindByID(ctx, s.db, workerID)
	if err != nil {
		return domain.TimeEntry{}, err
	}
	if worker == nil || !worker.Type.RequiresBackgroundCheck() {
		return domain.TimeEntry{}, domain.ErrInvalidWorker
	}

	clockInAt := req.ClockInAt
	if clockInAt.IsZero() {
		clockInAt = time.Now()
	}

	now := time.Now().UTC()
	entry := domain.TimeEntry{
		ID:        s.genID.Generate(),
		WorkerID:  workerID,
		ClientID:  clientID,
		ClockInAt: clockInAt.UTC(),
		Status:    domain.TimeEntryStatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if code := strings.TrimSpace(req.ReferralCode); code != "" {
		record, err := s.referralRepo.FindByCode(ctx, code)
		if err != nil {
			return domain.TimeEntry{}, err
		}
		if record == nil {
			return domain.TimeEntry{}, referraldomain.ErrCodeNotFound
		}
		if !record.Active {
			return domain.TimeEntry{}, referraldomain.ErrCodeDeactivated
		}
		entry.ReferralCodeID = &record.ID
		entry.MarketingPartnerID = &record.MarketingPartnerID
	}

	if raw := strings.TrimSpace(req.TrainingCenterID); raw != "" {
		centerID, err := parseID(raw)
		if err != nil {
			return domain.TimeEntry{}, domain.ErrInvalidWorker
		}
		center, err := s.payeeRepo.FindByID(ctx, s.db, centerID)
		if err != nil {
			return domain.TimeEntry{}, err
		}
		if center == nil || center.Type != payeedomain.PayeeTypeTrainingCenter {
			return domain.TimeEntry{}, domain.ErrInvalidWorker
		}
		entry.TrainingCenterID = &centerID
	}

	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return domain.TimeEntry{}, err
	}

	s.log.Info("time entry opened",
		zap.String("entry_id", entry.ID.String()),
		zap.String("worker_id", workerID.String()),
		zap.Bool("referral", entry.HasReferral()),
	)
	return entry, nil
}

func (s *Service) ClockOut(ctx context.Context, req domain.ClockOutRequest) (domain.TimeEntry, error) {
	entryID, err := parseID(req.ID)
	if err != nil {
		return domain.TimeEntry{}, domain.ErrInvalidID
	}

	clockOutAt := req.ClockOutAt
	if clockOutAt.IsZero() {
		clockOutAt = time.Now()
	}
	clockOutAt = clockOutAt.UTC()

	entry, err := s.load(ctx, s.db, entryID)
	if err != nil {
		return domain.TimeEntry{}, err
	}
	if entry.Status == domain.TimeEntryStatusSealed {
		return domain.TimeEntry{}, domain.ErrEntrySealed
	}
	if !clockOutAt.After(entry.ClockInAt) {
		return domain.TimeEntry{}, rating.ErrInvalidDuration
	}

	result := s.db.WithContext(ctx).Exec(
		`UPDATE time_entries SET clock_out_at = ?, updated_at = ?
		WHERE id = ? AND status = ? AND clock_out_at IS NULL`,
		clockOutAt,
		time.Now().UTC(),
		entryID,
		string(domain.TimeEntryStatusOpen),
	)
	if result.Error != nil {
		return domain.TimeEntry{}, result.Error
	}
	if result.RowsAffected == 0 {
		return domain.TimeEntry{}, domain.ErrAlreadyClockedOut
	}

	return s.load(ctx, s.db, entryID)
}

func (s *Service) Seal(ctx context.Context, id string) (domain.TimeEntry, error) {
	entryID, err := parseID(id)
	if err != nil {
		return domain.TimeEntry{}, domain.ErrInvalidID
	}

	var sealed domain.TimeEntry
	sealedNow := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry, err := s.load(ctx, tx, entryID)
		if err != nil {
			return err
		}
		if entry.Status == domain.TimeEntryStatusSealed {
			sealed = entry
			return nil
		}
		if entry.ClockOutAt == nil {
			return domain.ErrNotClockedOut
		}

		minutes := int64(entry.ClockOutAt.Sub(entry.ClockInAt) / time.Minute)
		split, err := rating.Compute(minutes, entry.HasReferral(), entry.HasTrainingCenter())
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		result := tx.WithContext(ctx).Exec(
			`UPDATE time_entries SET
				status = ?, sealed_at = ?, minutes_worked = ?,
				caregiver_cents = ?, marketing_cents = ?, training_cents = ?,
				agency_cents = ?, client_total_cents = ?, updated_at = ?
			WHERE id = ? AND status = ?`,
			string(domain.TimeEntryStatusSealed),
			now,
			minutes,
			split.CaregiverCents,
			split.MarketingCents,
			split.TrainingCents,
			split.AgencyCents,
			split.ClientTotalCents,
			now,
			entryID,
			string(domain.TimeEntryStatusOpen),
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			// Concurrent sealer won; return its frozen result.
			sealed, err = s.load(ctx, tx, entryID)
			return err
		}

		if err := s.emitSealFacts(ctx, tx, entry, split); err != nil {
			return err
		}

		if entry.ReferralCodeID != nil {
			if err := s.referralRepo.IncrementUsageTx(ctx, tx, *entry.ReferralCodeID, split.MarketingCents); err != nil {
				return err
			}
		}

		sealedNow = true
		sealed, err = s.load(ctx, tx, entryID)
		return err
	})
	if err != nil {
		return domain.TimeEntry{}, err
	}

	if sealedNow {
		s.obsMetrics.RecordEntrySealed(ctx, sealed.HasReferral())
		s.log.Info("time entry sealed",
			zap.String("entry_id", sealed.ID.String()),
			zap.Int64("minutes_worked", sealed.MinutesWorked),
			zap.Int64("client_total_cents", sealed.ClientTotalCents),
		)
	}
	return sealed, nil
}

// emitSealFacts posts the client charge plus the accruals owed to each
// party. All facts reference the time entry, so a replayed seal cannot
// double-post.
func (s *Service) emitSealFacts(ctx context.Context, tx *gorm.DB, entry domain.TimeEntry, split rating.CommissionSplit) error {
	facts := []ledgerdomain.Fact{
		{
			FactType:      ledgerdomain.FactTypeClientCharge,
			DebitAccount:  ledgerdomain.AccountClientReceivable,
			CreditAccount: ledgerdomain.AccountClientPayments,
			AmountCents:   split.ClientTotalCents,
		},
		{
			FactType:      ledgerdomain.FactTypeCaregiverPayout,
			DebitAccount:  ledgerdomain.AccountCommissionExpense,
			CreditAccount: ledgerdomain.AccountCaregiverPayable,
			AmountCents:   split.CaregiverCents,
		},
	}
	if split.MarketingCents > 0 {
		facts = append(facts, ledgerdomain.Fact{
			FactType:      ledgerdomain.FactTypeMarketingCommission,
			DebitAccount:  ledgerdomain.AccountCommissionExpense,
			CreditAccount: ledgerdomain.AccountMarketingPayable,
			AmountCents:   split.MarketingCents,
		})
	}
	if split.TrainingCents > 0 {
		facts = append(facts, ledgerdomain.Fact{
			FactType:      ledgerdomain.FactTypeTrainingCommission,
			DebitAccount:  ledgerdomain.AccountCommissionExpense,
			CreditAccount: ledgerdomain.AccountTrainingPayable,
			AmountCents:   split.TrainingCents,
		})
	}

	for _, fact := range facts {
		fact.ReferenceType = ledgerdomain.ReferenceTimeEntry
		fact.ReferenceID = entry.ID
		if _, err := s.ledger.AppendTx(ctx, tx, fact); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) GetByID(ctx context.Context, id string) (domain.TimeEntry, error) {
	entryID, err := parseID(id)
	if err != nil {
		return domain.TimeEntry{}, domain.ErrInvalidID
	}
	return s.load(ctx, s.db, entryID)
}

func (s *Service) load(ctx context.Context, db *gorm.DB, id snowflake.ID) (domain.TimeEntry, error) {
	var entry domain.TimeEntry
	err := db.WithContext(ctx).Where("id = ?", id).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.TimeEntry{}, domain.ErrNotFound
		}
		return domain.TimeEntry{}, err
	}
	return entry, nil
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}
