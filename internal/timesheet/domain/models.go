package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// TimeEntryStatus is the lifecycle of a visit. An entry opens at clock-in
// and seals after clock-out; sealed entries are terminal and immutable
// apart from payout claim columns.
type TimeEntryStatus string

const (
	TimeEntryStatusOpen   TimeEntryStatus = "open"
	TimeEntryStatusSealed TimeEntryStatus = "sealed"
)

// TimeEntry is one clock-in/out session. Referral and training state are
// snapshotted at clock-in and never re-derived, so a partner changing
// affiliation later cannot retroactively change a visit's economics.
//
// The three claim columns tie each party's share of a sealed entry to at
// most one live payout. NULL means unclaimed; a failed or cancelled payout
// sets its column back to NULL.
type TimeEntry struct {
	ID       snowflake.ID `gorm:"primaryKey" json:"id"`
	WorkerID snowflake.ID `gorm:"not null;index" json:"worker_id"`
	ClientID snowflake.ID `gorm:"not null;index" json:"client_id"`

	ClockInAt  time.Time  `gorm:"not null" json:"clock_in_at"`
	ClockOutAt *time.Time `json:"clock_out_at,omitempty"`

	// MinutesWorked is derived from the clock window and frozen at seal.
	MinutesWorked int64 `gorm:"not null;default:0" json:"minutes_worked"`

	ReferralCodeID     *snowflake.ID `gorm:"index" json:"referral_code_id,omitempty"`
	MarketingPartnerID *snowflake.ID `gorm:"index" json:"marketing_partner_id,omitempty"`
	TrainingCenterID   *snowflake.ID `gorm:"index" json:"training_center_id,omitempty"`

	Status   TimeEntryStatus `gorm:"type:text;not null;index" json:"status"`
	SealedAt *time.Time      `json:"sealed_at,omitempty"`

	// Frozen commission split, written once at seal.
	CaregiverCents   int64 `gorm:"not null;default:0" json:"caregiver_cents"`
	MarketingCents   int64 `gorm:"not null;default:0" json:"marketing_cents"`
	TrainingCents    int64 `gorm:"not null;default:0" json:"training_cents"`
	AgencyCents      int64 `gorm:"not null;default:0" json:"agency_cents"`
	ClientTotalCents int64 `gorm:"not null;default:0" json:"client_total_cents"`

	PayoutTransactionID *snowflake.ID `gorm:"index" json:"payout_transaction_id,omitempty"`
	MarketingPayoutID   *snowflake.ID `gorm:"index" json:"marketing_payout_id,omitempty"`
	TrainingPayoutID    *snowflake.ID `gorm:"index" json:"training_payout_id,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (TimeEntry) TableName() string { return "time_entries" }

// HasReferral reports whether the entry was booked under a referral code.
func (e TimeEntry) HasReferral() bool { return e.ReferralCodeID != nil }

// HasTrainingCenter reports whether the worker carried a training-center
// affiliation when the entry opened.
func (e TimeEntry) HasTrainingCenter() bool { return e.TrainingCenterID != nil }
