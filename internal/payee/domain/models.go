package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// PayeeType distinguishes the parties that accrue payable balances.
type PayeeType string

const (
	PayeeTypeCaregiver        PayeeType = "caregiver"
	PayeeTypeHousekeeper      PayeeType = "housekeeper"
	PayeeTypeMarketingPartner PayeeType = "marketing_partner"
	PayeeTypeTrainingCenter   PayeeType = "training_center"
)

// RequiresBackgroundCheck reports whether the payee type works inside
// client homes and therefore needs a current background check to be paid.
func (t PayeeType) RequiresBackgroundCheck() bool {
	return t == PayeeTypeCaregiver || t == PayeeTypeHousekeeper
}

type Payee struct {
	ID    snowflake.ID `gorm:"primaryKey" json:"id"`
	Type  PayeeType    `gorm:"type:text;not null;index" json:"type"`
	Name  string       `gorm:"not null" json:"name"`
	Email string       `gorm:"not null" json:"email"`

	// RailAccountID is the destination account at the payment rail.
	// Changing it resets RailAccountVerified until the rail confirms
	// the new account.
	RailAccountID       string `gorm:"type:text" json:"rail_account_id,omitempty"`
	RailAccountVerified bool   `gorm:"not null;default:false" json:"rail_account_verified"`

	TaxFormOnFile             bool       `gorm:"not null;default:false" json:"tax_form_on_file"`
	BackgroundCheckValidUntil *time.Time `json:"background_check_valid_until,omitempty"`
	Suspended                 bool       `gorm:"not null;default:false;index" json:"suspended"`

	// MinimumPayoutCents overrides the global floor when positive.
	MinimumPayoutCents int64 `gorm:"not null;default:0" json:"minimum_payout_cents"`

	Metadata  datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Payee) TableName() string { return "payees" }
