package settings

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/carebound/carebound/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Setting is one operator-tunable key. Values are stored as text and
// parsed on read; unknown keys are ignored.
type Setting struct {
	Key       string    `gorm:"primaryKey;type:text" json:"key"`
	Value     string    `gorm:"type:text;not null" json:"value"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Setting) TableName() string { return "settings" }

const (
	KeyPayoutFrequency      = "payout.frequency"
	KeyMinimumPayoutCents   = "payout.minimum_amount_cents"
	KeyReopenOnReverse      = "payout.reopen_on_reverse"
	KeyReconcileToleranceCt = "reconcile.tolerance_cents"
)

// Frequency values accepted for payout.frequency.
const (
	FrequencyDaily  = "daily"
	FrequencyWeekly = "weekly"
)

// Snapshot is the parsed view of all settings at one instant. Batch jobs
// take a snapshot when they start so a mid-run settings change cannot
// split a batch across two policies.
type Snapshot struct {
	PayoutFrequency         string
	MinimumPayoutCents      int64
	ReopenEntriesOnReverse  bool
	ReconcileToleranceCents int64
	TakenAt                 time.Time
}

// defaultSnapshot fills the policy values used until an operator writes
// the corresponding settings row. The reconcile tolerance defaults from
// engine config rather than zero: rail settlement lag leaves an expected
// gap between ledger payables and the rail balance, and a zero tolerance
// would flag every fresh deployment's first snapshot.
func defaultSnapshot(now time.Time, engineCfg config.EngineConfig) Snapshot {
	return Snapshot{
		PayoutFrequency:         FrequencyWeekly,
		MinimumPayoutCents:      2500,
		ReopenEntriesOnReverse:  false,
		ReconcileToleranceCents: engineCfg.ReconcileToleranceCent,
		TakenAt:                 now,
	}
}

type Service interface {
	Snapshot(ctx context.Context) (Snapshot, error)
	Set(ctx context.Context, key, value string) error
}

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	EngineCfg *config.EngineConfigHolder
}

type service struct {
	db        *gorm.DB
	log       *zap.Logger
	engineCfg *config.EngineConfigHolder
}

func New(p Params) Service {
	return &service{
		db:        p.DB,
		log:       p.Log.Named("settings.service"),
		engineCfg: p.EngineCfg,
	}
}

func (s *service) Snapshot(ctx context.Context) (Snapshot, error) {
	var rows []Setting
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return Snapshot{}, err
	}

	snap := defaultSnapshot(time.Now().UTC(), s.engineCfg.Current())
	for _, row := range rows {
		value := strings.TrimSpace(row.Value)
		switch row.Key {
		case KeyPayoutFrequency:
			if value == FrequencyDaily || value == FrequencyWeekly {
				snap.PayoutFrequency = value
			} else {
				s.log.Warn("ignoring unknown payout frequency", zap.String("value", value))
			}
		case KeyMinimumPayoutCents:
			if parsed, err := strconv.ParseInt(value, 10, 64); err == nil && parsed >= 0 {
				snap.MinimumPayoutCents = parsed
			}
		case KeyReopenOnReverse:
			if parsed, err := strconv.ParseBool(value); err == nil {
				snap.ReopenEntriesOnReverse = parsed
			}
		case KeyReconcileToleranceCt:
			if parsed, err := strconv.ParseInt(value, 10, 64); err == nil && parsed >= 0 {
				snap.ReconcileToleranceCents = parsed
			}
		}
	}
	return snap, nil
}

func (s *service) Set(ctx context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Exec(
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now,
	).Error
}

var Module = fx.Module("settings.service",
	fx.Provide(New),
)
