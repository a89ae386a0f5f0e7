package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/carebound/carebound/internal/ledger/domain"
	obsmetrics "github.com/carebound/carebound/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Append(ctx context.Context, fact ledgerdomain.Fact) (bool, error) {
	inserted := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		inserted, txErr = s.AppendTx(ctx, tx, fact)
		return txErr
	})
	return inserted, err
}

func (s *Service) AppendTx(ctx context.Context, tx *gorm.DB, fact ledgerdomain.Fact) (bool, error) {
	if err := ledgerdomain.ValidateFact(fact); err != nil {
		return false, err
	}

	result := tx.WithContext(ctx).Exec(
		`INSERT INTO ledger_facts (
			id, fact_type, debit_account, credit_account, amount_cents,
			reference_type, reference_id, reconciled, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (fact_type, reference_type, reference_id) DO NOTHING`,
		s.genID.Generate(),
		string(fact.FactType),
		string(fact.DebitAccount),
		string(fact.CreditAccount),
		fact.AmountCents,
		string(fact.ReferenceType),
		fact.ReferenceID,
		false,
		time.Now().UTC(),
	)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		s.log.Debug("ledger fact already recorded",
			zap.String("fact_type", string(fact.FactType)),
			zap.String("reference_type", string(fact.ReferenceType)),
			zap.String("reference_id", fact.ReferenceID.String()),
		)
		return false, nil
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordLedgerFact(ctx, string(fact.FactType))
	}
	return true, nil
}

func (s *Service) Reverse(ctx context.Context, originalFactID snowflake.ID) (bool, error) {
	inserted := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var original ledgerdomain.LedgerFact
		if err := tx.WithContext(ctx).
			Where("id = ?", originalFactID).
			First(&original).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ledgerdomain.ErrFactNotFound
			}
			return err
		}
		if original.FactType == ledgerdomain.FactTypeReversal {
			return ledgerdomain.ErrReversalOfReversal
		}

		var txErr error
		inserted, txErr = s.AppendTx(ctx, tx, ledgerdomain.Fact{
			FactType:      ledgerdomain.FactTypeReversal,
			DebitAccount:  original.CreditAccount,
			CreditAccount: original.DebitAccount,
			AmountCents:   original.AmountCents,
			ReferenceType: ledgerdomain.ReferenceLedgerFact,
			ReferenceID:   original.ID,
		})
		return txErr
	})
	if err != nil {
		return false, err
	}
	if inserted {
		s.log.Info("ledger fact reversed", zap.String("original_fact_id", originalFactID.String()))
	}
	return inserted, nil
}

func (s *Service) Balance(ctx context.Context, account ledgerdomain.AccountCode, asOf time.Time) (int64, error) {
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	var credits, debits int64
	if err := s.db.WithContext(ctx).
		Model(&ledgerdomain.LedgerFact{}).
		Select("COALESCE(SUM(amount_cents), 0)").
		Where("credit_account = ? AND created_at <= ?", string(account), asOf.UTC()).
		Scan(&credits).Error; err != nil {
		return 0, err
	}
	if err := s.db.WithContext(ctx).
		Model(&ledgerdomain.LedgerFact{}).
		Select("COALESCE(SUM(amount_cents), 0)").
		Where("debit_account = ? AND created_at <= ?", string(account), asOf.UTC()).
		Scan(&debits).Error; err != nil {
		return 0, err
	}
	return credits - debits, nil
}

func (s *Service) FindByReference(ctx context.Context, refType ledgerdomain.ReferenceType, refID snowflake.ID) ([]ledgerdomain.LedgerFact, error) {
	var facts []ledgerdomain.LedgerFact
	if err := s.db.WithContext(ctx).
		Where("reference_type = ? AND reference_id = ?", string(refType), refID).
		Order("created_at ASC, id ASC").
		Find(&facts).Error; err != nil {
		return nil, err
	}
	return facts, nil
}

func (s *Service) SumByFactType(ctx context.Context, factType ledgerdomain.FactType, asOf time.Time) (int64, error) {
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	var total int64
	if err := s.db.WithContext(ctx).
		Model(&ledgerdomain.LedgerFact{}).
		Select("COALESCE(SUM(amount_cents), 0)").
		Where("fact_type = ? AND created_at <= ?", string(factType), asOf.UTC()).
		Where(`id NOT IN (
			SELECT reference_id FROM ledger_facts
			WHERE fact_type = ? AND reference_type = ?
		)`, string(ledgerdomain.FactTypeReversal), string(ledgerdomain.ReferenceLedgerFact)).
		Scan(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}
