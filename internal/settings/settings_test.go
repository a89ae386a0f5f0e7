package settings

import (
	"context"
	"testing"

	"github.com/carebound/carebound/internal/config"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestSettings(t *testing.T, name string) Service {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Setting{}))

	return New(Params{
		DB:        db,
		Log:       zap.NewNop(),
		EngineCfg: config.StaticEngineConfigHolder(config.DefaultEngineConfig()),
	})
}

func TestSnapshot_DefaultsToleranceFromEngineConfig(t *testing.T) {
	svc := newTestSettings(t, "settings_defaults")

	snap, err := svc.Snapshot(context.Background())
	require.NoError(t, err)

	// Rail settlement lag is expected; a fresh deployment must not
	// reconcile against a zero tolerance.
	assert.Equal(t, config.DefaultEngineConfig().ReconcileToleranceCent, snap.ReconcileToleranceCents)
	assert.Positive(t, snap.ReconcileToleranceCents)
	assert.Equal(t, FrequencyWeekly, snap.PayoutFrequency)
	assert.Equal(t, int64(2500), snap.MinimumPayoutCents)
	assert.False(t, snap.ReopenEntriesOnReverse)
}

func TestSnapshot_SettingOverridesEngineTolerance(t *testing.T) {
	svc := newTestSettings(t, "settings_override")
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, KeyReconcileToleranceCt, "500"))

	snap, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(500), snap.ReconcileToleranceCents)
}

func TestSnapshot_IgnoresMalformedValues(t *testing.T) {
	svc := newTestSettings(t, "settings_malformed")
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, KeyReconcileToleranceCt, "-1"))
	require.NoError(t, svc.Set(ctx, KeyPayoutFrequency, "hourly"))

	snap, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultEngineConfig().ReconcileToleranceCent, snap.ReconcileToleranceCents)
	assert.Equal(t, FrequencyWeekly, snap.PayoutFrequency)
}
