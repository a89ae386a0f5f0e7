package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/carebound/carebound/internal/clock"
	"github.com/carebound/carebound/internal/compliance"
	"github.com/carebound/carebound/internal/config"
	"github.com/carebound/carebound/internal/ledger"
	"github.com/carebound/carebound/internal/lock"
	"github.com/carebound/carebound/internal/logger"
	"github.com/carebound/carebound/internal/observability"
	"github.com/carebound/carebound/internal/payee"
	"github.com/carebound/carebound/internal/payout"
	"github.com/carebound/carebound/internal/rail"
	"github.com/carebound/carebound/internal/reconciliation"
	"github.com/carebound/carebound/internal/scheduler"
	"github.com/carebound/carebound/internal/settings"
	"github.com/carebound/carebound/internal/webhook"
	"github.com/carebound/carebound/pkg/db"
	"go.uber.org/fx"
)

// Standalone worker deployment. Runs the batch, retry and reconcile jobs
// without the HTTP surface; webhook deliveries still land on the API
// replicas and resolve through the shared database.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		lock.Module,

		// Domain services required by the jobs
		ledger.Module,
		payee.Module,
		compliance.Module,
		settings.Module,
		rail.Module,
		payout.Module,
		webhook.Module,
		reconciliation.Module,

		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
