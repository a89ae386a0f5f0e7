package payout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/carebound/carebound/internal/compliance"
	obsmetrics "github.com/carebound/carebound/internal/observability/metrics"
	payeedomain "github.com/carebound/carebound/internal/payee/domain"
	"github.com/carebound/carebound/internal/payout/domain"
	"github.com/carebound/carebound/internal/settings"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type BatcherParams struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	PayeeRepo  payeedomain.Repository
	Gate       *compliance.Gate
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Batcher struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	payeeRepo  payeedomain.Repository
	gate       *compliance.Gate
	obsMetrics *obsmetrics.Metrics
}

func NewBatcher(p BatcherParams) domain.Batcher {
	return &Batcher{
		db:         p.DB,
		log:        p.Log.Named("payout.batcher"),
		genID:      p.GenID,
		payeeRepo:  p.PayeeRepo,
		gate:       p.Gate,
		obsMetrics: p.ObsMetrics,
	}
}

// candidate is one payee with unclaimed share in sealed entries.
type candidate struct {
	PayeeID     snowflake.ID `gorm:"column:payee_id"`
	AmountCents int64        `gorm:"column:amount_cents"`
	EntryCount  int64        `gorm:"column:entry_count"`
	role        domain.ClaimRole
}

var claimRoles = []domain.ClaimRole{
	domain.ClaimRoleWorker,
	domain.ClaimRoleMarketing,
	domain.ClaimRoleTraining,
}

func (b *Batcher) BuildBatch(ctx context.Context, snap settings.Snapshot, asOf time.Time) (domain.BuildReport, error) {
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	candidates, err := b.scanCandidates(ctx, asOf)
	if err != nil {
		return domain.BuildReport{}, err
	}

	report := domain.BuildReport{}
	var errs []error
	for _, cand := range candidates {
		payout, skip, err := b.buildForPayee(ctx, snap, asOf, cand)
		if err != nil {
			// One payee's failure never blocks the rest of the batch.
			b.log.Error("batch build failed for payee",
				zap.String("payee_id", cand.PayeeID.String()),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("payee %s: %w", cand.PayeeID, err))
			continue
		}
		if skip != nil {
			report.Skipped = append(report.Skipped, *skip)
			continue
		}
		if payout != nil {
			report.Created = append(report.Created, *payout)
		}
	}

	b.log.Info("payout batch built",
		zap.Int("created", len(report.Created)),
		zap.Int("skipped", len(report.Skipped)),
		zap.Time("as_of", asOf),
	)
	return report, errors.Join(errs...)
}

func (b *Batcher) Holds(ctx context.Context, snap settings.Snapshot, asOf time.Time) ([]domain.SkippedPayee, error) {
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	candidates, err := b.scanCandidates(ctx, asOf)
	if err != nil {
		return nil, err
	}

	var holds []domain.SkippedPayee
	for _, cand := range candidates {
		payee, err := b.payeeRepo.FindByID(ctx, b.db, cand.PayeeID)
		if err != nil {
			return nil, err
		}
		if payee == nil {
			continue
		}
		if skip := b.evaluateGate(snap, *payee, cand); skip != nil {
			holds = append(holds, *skip)
		}
	}
	return holds, nil
}

// scanCandidates aggregates unclaimed payable share per payee and role.
// No locks are taken here; the claim step re-checks under the claim
// column guard.
func (b *Batcher) scanCandidates(ctx context.Context, asOf time.Time) ([]candidate, error) {
	var all []candidate
	for _, role := range claimRoles {
		query := fmt.Sprintf(
			`SELECT %s AS payee_id,
				COALESCE(SUM(%s), 0) AS amount_cents,
				COUNT(*) AS entry_count
			FROM time_entries
			WHERE status = ? AND sealed_at <= ?
				AND %s IS NOT NULL AND %s IS NULL
				AND %s > 0
			GROUP BY %s
			ORDER BY %s`,
			role.PayeeColumn(),
			role.AmountColumn(),
			role.PayeeColumn(),
			role.ClaimColumn(),
			role.AmountColumn(),
			role.PayeeColumn(),
			role.PayeeColumn(),
		)

		var rows []candidate
		if err := b.db.WithContext(ctx).
			Raw(query, "sealed", asOf).
			Scan(&rows).Error; err != nil {
			return nil, err
		}
		for i := range rows {
			rows[i].role = role
		}
		all = append(all, rows...)
	}
	return all, nil
}

func (b *Batcher) evaluateGate(snap settings.Snapshot, payee payeedomain.Payee, cand candidate) *domain.SkippedPayee {
	role, ok := domain.RoleForPayeeType(payee.Type)
	if !ok || role != cand.role {
		return &domain.SkippedPayee{
			PayeeID:     payee.ID,
			AmountCents: cand.AmountCents,
			Reasons:     []string{"payee_role_mismatch"},
		}
	}

	if result := b.gate.Check(payee); !result.Eligible {
		return &domain.SkippedPayee{
			PayeeID:     payee.ID,
			AmountCents: cand.AmountCents,
			Reasons:     result.Reasons,
		}
	}

	minimum := snap.MinimumPayoutCents
	if payee.MinimumPayoutCents > 0 {
		minimum = payee.MinimumPayoutCents
	}
	if cand.AmountCents < minimum {
		return &domain.SkippedPayee{
			PayeeID:     payee.ID,
			AmountCents: cand.AmountCents,
			Reasons:     []string{"below_minimum_payout"},
		}
	}
	return nil
}

func (b *Batcher) buildForPayee(ctx context.Context, snap settings.Snapshot, asOf time.Time, cand candidate) (*domain.PayoutTransaction, *domain.SkippedPayee, error) {
	payee, err := b.payeeRepo.FindByID(ctx, b.db, cand.PayeeID)
	if err != nil {
		return nil, nil, err
	}
	if payee == nil {
		return nil, nil, payeedomain.ErrNotFound
	}
	if skip := b.evaluateGate(snap, *payee, cand); skip != nil {
		return nil, skip, nil
	}

	var payout *domain.PayoutTransaction
	err = b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payoutID := b.genID.Generate()
		role := cand.role

		// Lock the eligible rows so a concurrent run skips them instead
		// of blocking, then claim under the NULL-column guard. Rows a
		// concurrent run claimed between scan and lock fall out here.
		lockQuery := fmt.Sprintf(
			`SELECT id FROM time_entries
			WHERE status = ? AND sealed_at <= ?
				AND %s = ? AND %s IS NULL AND %s > 0
			ORDER BY id
			FOR UPDATE SKIP LOCKED`,
			role.PayeeColumn(), role.ClaimColumn(), role.AmountColumn(),
		)
		lockStart := time.Now()
		var entryIDs []snowflake.ID
		if err := tx.WithContext(ctx).
			Raw(lockQuery, "sealed", asOf, cand.PayeeID).
			Scan(&entryIDs).Error; err != nil {
			return err
		}
		obsmetrics.Scheduler().ObserveDBLockWait(obsmetrics.LockResourceEntriesForClaim, time.Since(lockStart))
		if len(entryIDs) == 0 {
			return domain.ErrDuplicateClaim
		}

		claimQuery := fmt.Sprintf(
			`UPDATE time_entries SET %s = ?, updated_at = ?
			WHERE id IN ? AND %s IS NULL`,
			role.ClaimColumn(), role.ClaimColumn(),
		)
		result := tx.WithContext(ctx).Exec(claimQuery, payoutID, time.Now().UTC(), entryIDs)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrDuplicateClaim
		}

		// Recompute over the rows actually claimed; the scan total may
		// include entries another run took first.
		sumQuery := fmt.Sprintf(
			`SELECT COALESCE(SUM(%s), 0) AS amount_cents, COUNT(*) AS entry_count
			FROM time_entries WHERE %s = ?`,
			role.AmountColumn(), role.ClaimColumn(),
		)
		var claimed struct {
			AmountCents int64 `gorm:"column:amount_cents"`
			EntryCount  int64 `gorm:"column:entry_count"`
		}
		if err := tx.WithContext(ctx).
			Raw(sumQuery, payoutID).
			Scan(&claimed).Error; err != nil {
			return err
		}

		minimum := snap.MinimumPayoutCents
		if payee.MinimumPayoutCents > 0 {
			minimum = payee.MinimumPayoutCents
		}
		if claimed.AmountCents < minimum {
			// Roll back the claim; the entries wait for the next cycle.
			return domain.ErrDuplicateClaim
		}

		now := time.Now().UTC()
		record := domain.PayoutTransaction{
			ID:          payoutID,
			PayeeID:     payee.ID,
			PayeeType:   payee.Type,
			AmountCents: claimed.AmountCents,
			EntryCount:  claimed.EntryCount,
			Status:      domain.PayoutStatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.WithContext(ctx).Create(&record).Error; err != nil {
			return err
		}
		payout = &record
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateClaim) {
			// Concurrency loser: the entries went to another run or fell
			// below the minimum after contention. Skip quietly.
			return nil, nil, nil
		}
		return nil, nil, err
	}

	if payout != nil {
		b.obsMetrics.RecordPayoutTransition(ctx, "none", string(domain.PayoutStatusPending))
		b.log.Info("payout claimed",
			zap.String("payout_id", payout.ID.String()),
			zap.String("payee_id", payout.PayeeID.String()),
			zap.Int64("amount_cents", payout.AmountCents),
			zap.Int64("entry_count", payout.EntryCount),
		)
	}
	return payout, nil, nil
}
