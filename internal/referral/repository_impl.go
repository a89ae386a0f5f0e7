package referral

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/carebound/carebound/internal/rating"
	"github.com/carebound/carebound/internal/referral/domain"
	"github.com/carebound/carebound/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type repository struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewRepository(p Params) domain.Repository {
	return &repository{
		db:    p.DB,
		log:   p.Log.Named("referral.repository"),
		genID: p.GenID,
	}
}

func (r *repository) Create(ctx context.Context, code string, partnerID snowflake.ID) (domain.ReferralCode, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return domain.ReferralCode{}, domain.ErrInvalidCode
	}
	if partnerID == 0 {
		return domain.ReferralCode{}, domain.ErrInvalidPartner
	}

	record := domain.ReferralCode{
		ID:                     r.genID.Generate(),
		Code:                   code,
		MarketingPartnerID:     partnerID,
		DiscountPerHourCents:   rating.ClientRateStandardCents - rating.ClientRateReferredCents,
		CommissionPerHourCents: rating.MarketingRateCents,
		Active:                 true,
		CreatedAt:              time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.ReferralCode{}, domain.ErrCodeTaken
		}
		return domain.ReferralCode{}, err
	}
	return record, nil
}

func (r *repository) FindByCode(ctx context.Context, code string) (*domain.ReferralCode, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	var record domain.ReferralCode
	err := r.db.WithContext(ctx).
		Where("code = ?", code).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repository) FindByID(ctx context.Context, id snowflake.ID) (*domain.ReferralCode, error) {
	var record domain.ReferralCode
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repository) IncrementUsageTx(ctx context.Context, tx *gorm.DB, id snowflake.ID, commissionCents int64) error {
	result := tx.WithContext(ctx).Exec(
		`UPDATE referral_codes
		SET usage_count = usage_count + 1,
			cumulative_commission_cents = cumulative_commission_cents + ?
		WHERE id = ?`,
		commissionCents,
		id,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrCodeNotFound
	}
	return nil
}

var Module = fx.Module("referral.repository",
	fx.Provide(NewRepository),
)
