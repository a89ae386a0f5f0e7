package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/carebound/carebound/internal/ledger/domain"
	raildomain "github.com/carebound/carebound/internal/rail/domain"
	"github.com/carebound/carebound/internal/settings"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrSnapshotNotFound = errors.New("balance_snapshot_not_found")

// DailyBalanceSnapshot captures the ledger position at end of one calendar
// day next to what the rail reported at snapshot time. Rows are written once
// per date and never mutated afterwards; a forced rebuild replaces the row
// wholesale.
type DailyBalanceSnapshot struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	SnapshotDate string       `gorm:"type:text;not null;uniqueIndex:ux_balance_snapshots_date" json:"snapshot_date"`

	ClientReceivableCents  int64 `json:"client_receivable_cents"`
	ClientPaymentsCents    int64 `json:"client_payments_cents"`
	CaregiverPayableCents  int64 `json:"caregiver_payable_cents"`
	MarketingPayableCents  int64 `json:"marketing_payable_cents"`
	TrainingPayableCents   int64 `json:"training_payable_cents"`
	CommissionExpenseCents int64 `json:"commission_expense_cents"`
	PayoutClearingCents    int64 `json:"payout_clearing_cents"`
	AgencyRevenueCents     int64 `json:"agency_revenue_cents"`

	RailAvailableCents int64 `json:"rail_available_cents"`
	RailPendingCents   int64 `json:"rail_pending_cents"`

	DiscrepancyCents int64  `json:"discrepancy_cents"`
	Discrepant       bool   `gorm:"not null;default:false" json:"discrepant"`
	Notes            string `json:"notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (DailyBalanceSnapshot) TableName() string {
	return "daily_balance_snapshots"
}

// OutstandingPayableCents is the money the agency still owes third parties.
func (s DailyBalanceSnapshot) OutstandingPayableCents() int64 {
	return s.CaregiverPayableCents + s.MarketingPayableCents + s.TrainingPayableCents
}

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Ledger      ledgerdomain.Service
	Rail        raildomain.Rail
	SettingsSvc settings.Service
}

// Reporter builds and serves daily balance snapshots.
type Reporter struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	ledger      ledgerdomain.Service
	rail        raildomain.Rail
	settingsSvc settings.Service
}

func NewReporter(p Params) *Reporter {
	return &Reporter{
		db:          p.DB,
		log:         p.Log.Named("reconciliation.reporter"),
		genID:       p.GenID,
		ledger:      p.Ledger,
		rail:        p.Rail,
		settingsSvc: p.SettingsSvc,
	}
}

// Snapshot builds the balance snapshot for date. Ledger balances are taken
// as of end of that day. Re-running for an already-snapshotted date is a
// no-op and returns the existing row unless force is set.
func (r *Reporter) Snapshot(ctx context.Context, date time.Time, force bool) (DailyBalanceSnapshot, error) {
	day := date.UTC().Format("2006-01-02")

	if !force {
		existing, err := r.GetByDate(ctx, date)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, ErrSnapshotNotFound) {
			return DailyBalanceSnapshot{}, err
		}
	}

	endOfDay := date.UTC().Truncate(24 * time.Hour).Add(24*time.Hour - time.Nanosecond)
	snap := DailyBalanceSnapshot{
		ID:           r.genID.Generate(),
		SnapshotDate: day,
		CreatedAt:    time.Now().UTC(),
	}

	accounts := []struct {
		code ledgerdomain.AccountCode
		dest *int64
	}{
		{ledgerdomain.AccountClientReceivable, &snap.ClientReceivableCents},
		{ledgerdomain.AccountClientPayments, &snap.ClientPaymentsCents},
		{ledgerdomain.AccountCaregiverPayable, &snap.CaregiverPayableCents},
		{ledgerdomain.AccountMarketingPayable, &snap.MarketingPayableCents},
		{ledgerdomain.AccountTrainingPayable, &snap.TrainingPayableCents},
		{ledgerdomain.AccountCommissionExpense, &snap.CommissionExpenseCents},
		{ledgerdomain.AccountPayoutClearing, &snap.PayoutClearingCents},
		{ledgerdomain.AccountAgencyRevenue, &snap.AgencyRevenueCents},
	}
	for _, acct := range accounts {
		balance, err := r.ledger.Balance(ctx, acct.code, endOfDay)
		if err != nil {
			return DailyBalanceSnapshot{}, err
		}
		*acct.dest = balance
	}

	railBalance, railErr := r.rail.Balance(ctx)
	if railErr != nil {
		// A rail outage must not lose the ledger side of the snapshot.
		r.log.Warn("rail balance unavailable, snapshot records ledger side only",
			zap.String("date", day),
			zap.Error(railErr),
		)
		snap.Notes = fmt.Sprintf("rail balance unavailable: %v", railErr)
	} else {
		snap.RailAvailableCents = railBalance.AvailableCents
		snap.RailPendingCents = railBalance.PendingCents
	}

	policy, err := r.settingsSvc.Snapshot(ctx)
	if err != nil {
		return DailyBalanceSnapshot{}, err
	}

	// Settlement lag means the rail rarely matches to the cent. The
	// tolerance absorbs in-flight transfers; anything beyond it is flagged.
	if railErr == nil {
		internal := snap.OutstandingPayableCents() + snap.PayoutClearingCents
		external := snap.RailAvailableCents + snap.RailPendingCents
		snap.DiscrepancyCents = internal - external
		if abs(snap.DiscrepancyCents) > policy.ReconcileToleranceCents {
			snap.Discrepant = true
			snap.Notes = fmt.Sprintf(
				"ledger expects %d cents at rail, rail reports %d cents, tolerance %d",
				internal, external, policy.ReconcileToleranceCents,
			)
		}
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if force {
			if err := tx.Exec(
				`DELETE FROM daily_balance_snapshots WHERE snapshot_date = ?`, day,
			).Error; err != nil {
				return err
			}
		}
		result := tx.Exec(
			`INSERT INTO daily_balance_snapshots
				(id, snapshot_date, client_receivable_cents, client_payments_cents,
				 caregiver_payable_cents, marketing_payable_cents, training_payable_cents,
				 commission_expense_cents, payout_clearing_cents, agency_revenue_cents,
				 rail_available_cents, rail_pending_cents, discrepancy_cents,
				 discrepant, notes, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (snapshot_date) DO NOTHING`,
			snap.ID, snap.SnapshotDate,
			snap.ClientReceivableCents, snap.ClientPaymentsCents,
			snap.CaregiverPayableCents, snap.MarketingPayableCents, snap.TrainingPayableCents,
			snap.CommissionExpenseCents, snap.PayoutClearingCents, snap.AgencyRevenueCents,
			snap.RailAvailableCents, snap.RailPendingCents, snap.DiscrepancyCents,
			snap.Discrepant, snap.Notes, snap.CreatedAt,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			// Concurrent run won the insert; serve its row.
			return tx.First(&snap, "snapshot_date = ?", day).Error
		}
		return nil
	})
	if err != nil {
		return DailyBalanceSnapshot{}, err
	}

	if snap.Discrepant {
		r.log.Warn("balance snapshot flagged discrepancy",
			zap.String("date", day),
			zap.Int64("discrepancy_cents", snap.DiscrepancyCents),
			zap.String("notes", snap.Notes),
		)
	} else {
		r.log.Info("balance snapshot built", zap.String("date", day))
	}
	return snap, nil
}

func (r *Reporter) GetByDate(ctx context.Context, date time.Time) (DailyBalanceSnapshot, error) {
	var snap DailyBalanceSnapshot
	err := r.db.WithContext(ctx).
		First(&snap, "snapshot_date = ?", date.UTC().Format("2006-01-02")).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DailyBalanceSnapshot{}, ErrSnapshotNotFound
	}
	if err != nil {
		return DailyBalanceSnapshot{}, err
	}
	return snap, nil
}

// Recent lists the latest snapshots, newest first.
func (r *Reporter) Recent(ctx context.Context, limit int) ([]DailyBalanceSnapshot, error) {
	if limit <= 0 {
		limit = 30
	}
	var snaps []DailyBalanceSnapshot
	err := r.db.WithContext(ctx).
		Order("snapshot_date desc").
		Limit(limit).
		Find(&snaps).Error
	return snaps, err
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

var Module = fx.Module("reconciliation.reporter",
	fx.Provide(NewReporter),
)
