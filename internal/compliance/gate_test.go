package compliance

import (
	"testing"
	"time"

	"github.com/carebound/carebound/internal/clock"
	payeedomain "github.com/carebound/carebound/internal/payee/domain"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func eligiblePayee(t payeedomain.PayeeType, validUntil time.Time) payeedomain.Payee {
	return payeedomain.Payee{
		Type:                      t,
		TaxFormOnFile:             true,
		RailAccountID:             "acct_123",
		RailAccountVerified:       true,
		BackgroundCheckValidUntil: &validUntil,
	}
}

func TestGate_EligibleCaregiver(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	gate := NewGate(Params{Log: zap.NewNop(), Clock: clock.NewFakeClock(now)})

	result := gate.Check(eligiblePayee(payeedomain.PayeeTypeCaregiver, now.AddDate(1, 0, 0)))
	assert.True(t, result.Eligible)
	assert.Empty(t, result.Reasons)
}

func TestGate_CollectsEveryReason(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	gate := NewGate(Params{Log: zap.NewNop(), Clock: clock.NewFakeClock(now)})

	result := gate.Check(payeedomain.Payee{
		Type:      payeedomain.PayeeTypeCaregiver,
		Suspended: true,
	})
	assert.False(t, result.Eligible)
	assert.ElementsMatch(t, []string{
		ReasonSuspended,
		ReasonMissingTaxForm,
		ReasonMissingRailAccount,
		ReasonMissingBackgroundCheck,
	}, result.Reasons)
}

func TestGate_ExpiredBackgroundCheck(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	gate := NewGate(Params{Log: zap.NewNop(), Clock: clock.NewFakeClock(now)})

	result := gate.Check(eligiblePayee(payeedomain.PayeeTypeHousekeeper, now.Add(-time.Hour)))
	assert.False(t, result.Eligible)
	assert.Equal(t, []string{ReasonExpiredBackgroundCheck}, result.Reasons)
}

func TestGate_MarketingPartnerSkipsBackgroundCheck(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	gate := NewGate(Params{Log: zap.NewNop(), Clock: clock.NewFakeClock(now)})

	result := gate.Check(payeedomain.Payee{
		Type:                payeedomain.PayeeTypeMarketingPartner,
		TaxFormOnFile:       true,
		RailAccountID:       "acct_mkt",
		RailAccountVerified: true,
	})
	assert.True(t, result.Eligible)
}

func TestGate_UnverifiedRailAccount(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	gate := NewGate(Params{Log: zap.NewNop(), Clock: clock.NewFakeClock(now)})

	payee := eligiblePayee(payeedomain.PayeeTypeTrainingCenter, now.AddDate(1, 0, 0))
	payee.RailAccountVerified = false
	result := gate.Check(payee)
	assert.False(t, result.Eligible)
	assert.Equal(t, []string{ReasonUnverifiedRailAccount}, result.Reasons)
}
