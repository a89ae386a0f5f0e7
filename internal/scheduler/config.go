package scheduler

import (
	"time"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval       time.Duration
	PayoutBatchSize   int
	WebhookBatchSize  int
	RecoveryThreshold time.Duration
	LockTTL           time.Duration
	// EnabledJobs empty means all jobs run (monolith mode). A dedicated
	// worker deployment lists only the jobs it owns.
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:       time.Minute,
		PayoutBatchSize:   50,
		WebhookBatchSize:  100,
		RecoveryThreshold: 24 * time.Hour,
		LockTTL:           5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.PayoutBatchSize <= 0 {
		c.PayoutBatchSize = defaults.PayoutBatchSize
	}
	if c.WebhookBatchSize <= 0 {
		c.WebhookBatchSize = defaults.WebhookBatchSize
	}
	if c.RecoveryThreshold <= 0 {
		c.RecoveryThreshold = defaults.RecoveryThreshold
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}
