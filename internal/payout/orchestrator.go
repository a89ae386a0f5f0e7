package payout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/carebound/carebound/internal/ledger/domain"
	obsmetrics "github.com/carebound/carebound/internal/observability/metrics"
	payeedomain "github.com/carebound/carebound/internal/payee/domain"
	"github.com/carebound/carebound/internal/payout/domain"
	raildomain "github.com/carebound/carebound/internal/rail/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type OrchestratorParams struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	PayeeRepo  payeedomain.Repository
	Rail       raildomain.Rail
	Ledger     ledgerdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Orchestrator struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	payeeRepo  payeedomain.Repository
	rail       raildomain.Rail
	ledger     ledgerdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewOrchestrator(p OrchestratorParams) domain.Orchestrator {
	return &Orchestrator{
		db:         p.DB,
		log:        p.Log.Named("payout.orchestrator"),
		genID:      p.GenID,
		payeeRepo:  p.PayeeRepo,
		rail:       p.Rail,
		ledger:     p.Ledger,
		obsMetrics: p.ObsMetrics,
	}
}

func (o *Orchestrator) Execute(ctx context.Context, id snowflake.ID) error {
	payout, err := o.GetByID(ctx, id)
	if err != nil {
		return err
	}

	payee, err := o.payeeRepo.FindByID(ctx, o.db, payout.PayeeID)
	if err != nil {
		return err
	}
	if payee == nil {
		return payeedomain.ErrNotFound
	}
	if payee.RailAccountID == "" {
		return o.failPayout(ctx, payout, string(domain.PayoutStatusPending), "missing_rail_account")
	}

	// pending → processing; losing the guard means another worker or an
	// operator got here first.
	now := time.Now().UTC()
	result := o.db.WithContext(ctx).Exec(
		`UPDATE payout_transactions SET status = ?, initiated_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(domain.PayoutStatusProcessing),
		now,
		now,
		id,
		string(domain.PayoutStatusPending),
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrInvalidTransition
	}
	o.obsMetrics.RecordPayoutTransition(ctx, string(domain.PayoutStatusPending), string(domain.PayoutStatusProcessing))

	// The rail call happens outside any DB transaction; only this payout
	// and its claimed entries are contended. The payout ID doubles as the
	// rail idempotency key, so a crash-retry cannot double-transfer.
	transfer, err := o.rail.CreateTransfer(ctx, raildomain.TransferRequest{
		DestinationAccount: payee.RailAccountID,
		AmountCents:        payout.AmountCents,
		IdempotencyKey:     payout.ID.String(),
	})
	if err != nil {
		var rejection *raildomain.RejectionError
		if errors.As(err, &rejection) {
			return o.failPayout(ctx, payout, string(domain.PayoutStatusProcessing), rejection.Reason)
		}
		// Outcome unknown (timeout, network): stay processing. The
		// recovery sweep escalates if no webhook ever lands.
		o.log.Error("rail transfer outcome unknown",
			zap.String("payout_id", payout.ID.String()),
			zap.Error(err),
		)
		return err
	}

	result = o.db.WithContext(ctx).Exec(
		`UPDATE payout_transactions SET external_transfer_id = ?, updated_at = ?
		WHERE id = ? AND status = ? AND external_transfer_id IS NULL`,
		transfer.TransferID,
		time.Now().UTC(),
		id,
		string(domain.PayoutStatusProcessing),
	)
	if result.Error != nil {
		return result.Error
	}

	o.log.Info("transfer accepted by rail",
		zap.String("payout_id", payout.ID.String()),
		zap.String("external_transfer_id", transfer.TransferID),
	)
	return nil
}

func (o *Orchestrator) ExecuteDue(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 50
	}

	lockStart := time.Now()
	var ids []snowflake.ID
	err := o.db.WithContext(ctx).Raw(
		`SELECT id FROM payout_transactions
		WHERE status = ?
		ORDER BY created_at ASC, id ASC
		FOR UPDATE SKIP LOCKED
		LIMIT ?`,
		string(domain.PayoutStatusPending),
		limit,
	).Scan(&ids).Error
	obsmetrics.Scheduler().ObserveDBLockWait(obsmetrics.LockResourcePayoutsForWork, time.Since(lockStart))
	if err != nil {
		return 0, err
	}

	executed := 0
	var errs []error
	for _, id := range ids {
		if err := o.Execute(ctx, id); err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				continue
			}
			errs = append(errs, fmt.Errorf("payout %s: %w", id, err))
			continue
		}
		executed++
	}
	return executed, errors.Join(errs...)
}

func (o *Orchestrator) Cancel(ctx context.Context, id snowflake.ID) (domain.PayoutTransaction, error) {
	payout, err := o.GetByID(ctx, id)
	if err != nil {
		return domain.PayoutTransaction{}, err
	}
	if err := o.failPayout(ctx, payout, string(domain.PayoutStatusPending), domain.FailureReasonCanceled); err != nil {
		return domain.PayoutTransaction{}, err
	}
	return o.GetByID(ctx, id)
}

func (o *Orchestrator) Reverse(ctx context.Context, id snowflake.ID, reopenClaims bool) (domain.PayoutTransaction, error) {
	payout, err := o.GetByID(ctx, id)
	if err != nil {
		return domain.PayoutTransaction{}, err
	}

	fromStatus := payout.Status
	if fromStatus != domain.PayoutStatusCompleted && fromStatus != domain.PayoutStatusFailed {
		return domain.PayoutTransaction{}, domain.ErrInvalidTransition
	}

	err = o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		result := tx.WithContext(ctx).Exec(
			`UPDATE payout_transactions SET status = ?, reversed_at = ?, updated_at = ?
			WHERE id = ? AND status = ?`,
			string(domain.PayoutStatusReversed),
			now,
			now,
			id,
			string(fromStatus),
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrInvalidTransition
		}

		// A completed payout settled the payable; undo it in the ledger.
		if fromStatus == domain.PayoutStatusCompleted {
			facts, err := o.ledger.FindByReference(ctx, ledgerdomain.ReferencePayout, id)
			if err != nil {
				return err
			}
			for _, fact := range facts {
				if fact.FactType == ledgerdomain.FactTypeReversal {
					continue
				}
				if _, err := o.ledger.AppendTx(ctx, tx, ledgerdomain.Fact{
					FactType:      ledgerdomain.FactTypeReversal,
					DebitAccount:  fact.CreditAccount,
					CreditAccount: fact.DebitAccount,
					AmountCents:   fact.AmountCents,
					ReferenceType: ledgerdomain.ReferenceLedgerFact,
					ReferenceID:   fact.ID,
				}); err != nil {
					return err
				}
			}
		}

		if reopenClaims {
			return o.releaseClaimsTx(ctx, tx, payout)
		}
		return nil
	})
	if err != nil {
		return domain.PayoutTransaction{}, err
	}

	o.obsMetrics.RecordPayoutTransition(ctx, string(fromStatus), string(domain.PayoutStatusReversed))
	o.log.Info("payout reversed",
		zap.String("payout_id", id.String()),
		zap.Bool("claims_reopened", reopenClaims),
	)
	return o.GetByID(ctx, id)
}

func (o *Orchestrator) CompleteFromWebhook(ctx context.Context, externalTransferID string) error {
	payout, err := o.findByTransferID(ctx, externalTransferID)
	if err != nil {
		return err
	}

	err = o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		result := tx.WithContext(ctx).Exec(
			`UPDATE payout_transactions SET status = ?, completed_at = ?, updated_at = ?
			WHERE id = ? AND status = ?`,
			string(domain.PayoutStatusCompleted),
			now,
			now,
			payout.ID,
			string(domain.PayoutStatusProcessing),
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			// Duplicate confirmation; the settlement fact below is also
			// idempotent, so nothing else to do.
			return nil
		}

		_, err := o.ledger.AppendTx(ctx, tx, ledgerdomain.Fact{
			FactType:      settlementFactType(payout.PayeeType),
			DebitAccount:  payableAccount(payout.PayeeType),
			CreditAccount: ledgerdomain.AccountPayoutClearing,
			AmountCents:   payout.AmountCents,
			ReferenceType: ledgerdomain.ReferencePayout,
			ReferenceID:   payout.ID,
		})
		return err
	})
	if err != nil {
		return err
	}

	o.obsMetrics.RecordPayoutTransition(ctx, string(domain.PayoutStatusProcessing), string(domain.PayoutStatusCompleted))
	o.log.Info("payout completed",
		zap.String("payout_id", payout.ID.String()),
		zap.String("external_transfer_id", externalTransferID),
	)
	return nil
}

func (o *Orchestrator) FailFromWebhook(ctx context.Context, externalTransferID, reason string) error {
	payout, err := o.findByTransferID(ctx, externalTransferID)
	if err != nil {
		return err
	}
	if payout.Status == domain.PayoutStatusFailed {
		// Rails resend failure notices under fresh event ids. The
		// claims were released on the first delivery, nothing to do.
		o.log.Debug("duplicate failure notice",
			zap.String("payout_id", payout.ID.String()),
			zap.String("external_transfer_id", externalTransferID),
		)
		return nil
	}
	return o.failPayout(ctx, payout, string(domain.PayoutStatusProcessing), reason)
}

func (o *Orchestrator) GetByID(ctx context.Context, id snowflake.ID) (domain.PayoutTransaction, error) {
	var payout domain.PayoutTransaction
	err := o.db.WithContext(ctx).Where("id = ?", id).First(&payout).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.PayoutTransaction{}, domain.ErrNotFound
		}
		return domain.PayoutTransaction{}, err
	}
	return payout, nil
}

func (o *Orchestrator) List(ctx context.Context, status domain.PayoutStatus, limit int) ([]domain.PayoutTransaction, error) {
	if limit <= 0 || limit > 250 {
		limit = 50
	}

	stmt := o.db.WithContext(ctx).Model(&domain.PayoutTransaction{})
	if status != "" {
		stmt = stmt.Where("status = ?", string(status))
	}

	var payouts []domain.PayoutTransaction
	if err := stmt.
		Order("created_at desc, id desc").
		Limit(limit).
		Find(&payouts).Error; err != nil {
		return nil, err
	}
	return payouts, nil
}

func (o *Orchestrator) StuckProcessing(ctx context.Context, olderThan time.Duration) ([]domain.PayoutTransaction, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	var payouts []domain.PayoutTransaction
	err := o.db.WithContext(ctx).
		Where("status = ? AND initiated_at IS NOT NULL AND initiated_at < ?",
			string(domain.PayoutStatusProcessing), cutoff).
		Order("initiated_at asc").
		Find(&payouts).Error
	if err != nil {
		return nil, err
	}
	return payouts, nil
}

// failPayout moves a payout to failed from the expected status and
// releases its entry claims so the next batch can pick them up.
func (o *Orchestrator) failPayout(ctx context.Context, payout domain.PayoutTransaction, fromStatus, reason string) error {
	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		result := tx.WithContext(ctx).Exec(
			`UPDATE payout_transactions SET status = ?, failure_reason = ?, failed_at = ?, updated_at = ?
			WHERE id = ? AND status = ?`,
			string(domain.PayoutStatusFailed),
			reason,
			now,
			now,
			payout.ID,
			fromStatus,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrInvalidTransition
		}
		return o.releaseClaimsTx(ctx, tx, payout)
	})
	if err != nil {
		return err
	}

	o.obsMetrics.RecordPayoutTransition(ctx, fromStatus, string(domain.PayoutStatusFailed))
	o.log.Warn("payout failed",
		zap.String("payout_id", payout.ID.String()),
		zap.String("reason", reason),
	)
	return nil
}

func (o *Orchestrator) releaseClaimsTx(ctx context.Context, tx *gorm.DB, payout domain.PayoutTransaction) error {
	role, ok := domain.RoleForPayeeType(payout.PayeeType)
	if !ok {
		return domain.ErrInvalidTransition
	}
	release := fmt.Sprintf(
		`UPDATE time_entries SET %s = NULL, updated_at = ? WHERE %s = ?`,
		role.ClaimColumn(), role.ClaimColumn(),
	)
	return tx.WithContext(ctx).Exec(release, time.Now().UTC(), payout.ID).Error
}

func (o *Orchestrator) findByTransferID(ctx context.Context, externalTransferID string) (domain.PayoutTransaction, error) {
	var payout domain.PayoutTransaction
	err := o.db.WithContext(ctx).
		Where("external_transfer_id = ?", externalTransferID).
		First(&payout).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.PayoutTransaction{}, domain.ErrUnknownTransfer
		}
		return domain.PayoutTransaction{}, err
	}
	return payout, nil
}

func settlementFactType(t payeedomain.PayeeType) ledgerdomain.FactType {
	switch t {
	case payeedomain.PayeeTypeMarketingPartner:
		return ledgerdomain.FactTypeMarketingCommission
	case payeedomain.PayeeTypeTrainingCenter:
		return ledgerdomain.FactTypeTrainingCommission
	default:
		return ledgerdomain.FactTypeCaregiverPayout
	}
}

func payableAccount(t payeedomain.PayeeType) ledgerdomain.AccountCode {
	switch t {
	case payeedomain.PayeeTypeMarketingPartner:
		return ledgerdomain.AccountMarketingPayable
	case payeedomain.PayeeTypeTrainingCenter:
		return ledgerdomain.AccountTrainingPayable
	default:
		return ledgerdomain.AccountCaregiverPayable
	}
}
