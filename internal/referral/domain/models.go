package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ReferralCode links a client to the marketing partner that recruited
// them. Clients booked under a code bill at the referred rate, and every
// sealed visit accrues the marketing commission to the partner.
type ReferralCode struct {
	ID                 snowflake.ID `gorm:"primaryKey" json:"id"`
	Code               string       `gorm:"type:text;not null;uniqueIndex:ux_referral_codes_code" json:"code"`
	MarketingPartnerID snowflake.ID `gorm:"not null;index" json:"marketing_partner_id"`

	// Hourly rates frozen when the code is issued. Splits for sealed
	// visits read the visit's own snapshot, so changing the published
	// rate table never rewrites an existing code's terms.
	DiscountPerHourCents   int64 `gorm:"not null;default:0" json:"discount_per_hour_cents"`
	CommissionPerHourCents int64 `gorm:"not null;default:0" json:"commission_per_hour_cents"`

	UsageCount int64 `gorm:"not null;default:0" json:"usage_count"`

	// CumulativeCommissionCents totals the marketing commission accrued
	// through this code across all sealed visits.
	CumulativeCommissionCents int64 `gorm:"not null;default:0" json:"cumulative_commission_cents"`

	Active    bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (ReferralCode) TableName() string { return "referral_codes" }

type Repository interface {
	Create(ctx context.Context, code string, partnerID snowflake.ID) (ReferralCode, error)
	FindByCode(ctx context.Context, code string) (*ReferralCode, error)
	FindByID(ctx context.Context, id snowflake.ID) (*ReferralCode, error)

	// IncrementUsageTx bumps the usage counter and accrued commission
	// inside the caller's transaction so attribution commits with the
	// visit it came from.
	IncrementUsageTx(ctx context.Context, tx *gorm.DB, id snowflake.ID, commissionCents int64) error
}

var (
	ErrInvalidCode     = errors.New("invalid_referral_code")
	ErrInvalidPartner  = errors.New("invalid_marketing_partner")
	ErrCodeTaken       = errors.New("referral_code_taken")
	ErrCodeNotFound    = errors.New("referral_code_not_found")
	ErrCodeDeactivated = errors.New("referral_code_deactivated")
)
