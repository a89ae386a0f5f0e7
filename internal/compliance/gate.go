package compliance

import (
	"github.com/carebound/carebound/internal/clock"
	payeedomain "github.com/carebound/carebound/internal/payee/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Hold reasons surfaced to operators and recorded on skipped payouts.
const (
	ReasonSuspended              = "payee_suspended"
	ReasonMissingTaxForm         = "missing_tax_form"
	ReasonMissingRailAccount     = "missing_rail_account"
	ReasonUnverifiedRailAccount  = "unverified_rail_account"
	ReasonMissingBackgroundCheck = "missing_background_check"
	ReasonExpiredBackgroundCheck = "expired_background_check"
)

// Result reports whether a payee may be paid and, when not, every reason
// blocking the payout so operators can clear them in one pass.
type Result struct {
	Eligible bool     `json:"eligible"`
	Reasons  []string `json:"reasons,omitempty"`
}

// Gate evaluates payee eligibility at batch-build time. Funds held back by
// the gate stay accrued in the ledger; nothing is forfeited.
type Gate struct {
	log   *zap.Logger
	clock clock.Clock
}

type Params struct {
	fx.In

	Log   *zap.Logger
	Clock clock.Clock
}

func NewGate(p Params) *Gate {
	return &Gate{
		log:   p.Log.Named("compliance.gate"),
		clock: p.Clock,
	}
}

func (g *Gate) Check(payee payeedomain.Payee) Result {
	var reasons []string

	if payee.Suspended {
		reasons = append(reasons, ReasonSuspended)
	}
	if !payee.TaxFormOnFile {
		reasons = append(reasons, ReasonMissingTaxForm)
	}
	if payee.RailAccountID == "" {
		reasons = append(reasons, ReasonMissingRailAccount)
	} else if !payee.RailAccountVerified {
		reasons = append(reasons, ReasonUnverifiedRailAccount)
	}

	if payee.Type.RequiresBackgroundCheck() {
		switch {
		case payee.BackgroundCheckValidUntil == nil:
			reasons = append(reasons, ReasonMissingBackgroundCheck)
		case payee.BackgroundCheckValidUntil.Before(g.clock.Now()):
			reasons = append(reasons, ReasonExpiredBackgroundCheck)
		}
	}

	if len(reasons) > 0 {
		g.log.Debug("payee held by compliance gate",
			zap.String("payee_id", payee.ID.String()),
			zap.Strings("reasons", reasons),
		)
		return Result{Eligible: false, Reasons: reasons}
	}
	return Result{Eligible: true}
}

var Module = fx.Module("compliance.gate",
	fx.Provide(NewGate),
)
