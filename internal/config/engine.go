package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EngineConfig holds ledger-engine tunables that operators adjust without a
// redeploy: batch sizes, webhook retry backoff, reconciliation tolerance.
type EngineConfig struct {
	PayoutBatchSize        int           `mapstructure:"payoutBatchSize"`
	WebhookRetryBatchSize  int           `mapstructure:"webhookRetryBatchSize"`
	WebhookMaxRetries      int           `mapstructure:"webhookMaxRetries"`
	WebhookBackoffBase     time.Duration `mapstructure:"webhookBackoffBase"`
	WebhookBackoffCap      time.Duration `mapstructure:"webhookBackoffCap"`
	ReconcileToleranceCent int64         `mapstructure:"reconcileToleranceCents"`
	StuckPayoutThreshold   time.Duration `mapstructure:"stuckPayoutThreshold"`
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		PayoutBatchSize:        50,
		WebhookRetryBatchSize:  100,
		WebhookMaxRetries:      8,
		WebhookBackoffBase:     time.Minute,
		WebhookBackoffCap:      6 * time.Hour,
		ReconcileToleranceCent: 10_000,
		StuckPayoutThreshold:   24 * time.Hour,
	}
}

func validateEngineConfig(cfg EngineConfig) error {
	if cfg.PayoutBatchSize <= 0 || cfg.WebhookRetryBatchSize <= 0 {
		return errors.New("engine config: batch sizes must be positive")
	}
	if cfg.WebhookMaxRetries <= 0 {
		return errors.New("engine config: webhookMaxRetries must be positive")
	}
	if cfg.WebhookBackoffBase <= 0 || cfg.WebhookBackoffCap < cfg.WebhookBackoffBase {
		return errors.New("engine config: invalid backoff schedule")
	}
	if cfg.ReconcileToleranceCent < 0 {
		return errors.New("engine config: reconcileToleranceCents must be >= 0")
	}
	return nil
}

// EngineConfigHolder serves the current EngineConfig and hot-reloads it when
// the underlying file changes.
type EngineConfigHolder struct {
	current atomic.Value // holds EngineConfig
}

func NewEngineConfigHolder() (*EngineConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("engine")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/carebound/config")
	v.AddConfigPath("/etc/carebound")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CAREBOUND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultEngineConfig()
	v.SetDefault("engine.payoutBatchSize", defaults.PayoutBatchSize)
	v.SetDefault("engine.webhookRetryBatchSize", defaults.WebhookRetryBatchSize)
	v.SetDefault("engine.webhookMaxRetries", defaults.WebhookMaxRetries)
	v.SetDefault("engine.webhookBackoffBase", defaults.WebhookBackoffBase)
	v.SetDefault("engine.webhookBackoffCap", defaults.WebhookBackoffCap)
	v.SetDefault("engine.reconcileToleranceCents", defaults.ReconcileToleranceCent)
	v.SetDefault("engine.stuckPayoutThreshold", defaults.StuckPayoutThreshold)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg EngineConfig
	if err := v.UnmarshalKey("engine", &cfg); err != nil {
		return nil, err
	}
	if err := validateEngineConfig(cfg); err != nil {
		return nil, err
	}

	holder := &EngineConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated EngineConfig
		if err := v.UnmarshalKey("engine", &updated); err != nil {
			log.Printf("[engine-config] reload failed: %v", err)
			return
		}
		if err := validateEngineConfig(updated); err != nil {
			log.Printf("[engine-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[engine-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// Current returns the active engine configuration.
func (h *EngineConfigHolder) Current() EngineConfig {
	if h == nil {
		return DefaultEngineConfig()
	}
	if cfg, ok := h.current.Load().(EngineConfig); ok {
		return cfg
	}
	return DefaultEngineConfig()
}

// StaticEngineConfigHolder returns a holder pinned to cfg, for tests and
// single-run tools.
func StaticEngineConfigHolder(cfg EngineConfig) *EngineConfigHolder {
	holder := &EngineConfigHolder{}
	holder.current.Store(cfg)
	return holder
}
