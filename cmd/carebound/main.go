package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/carebound/carebound/internal/clock"
	"github.com/carebound/carebound/internal/config"
	"github.com/carebound/carebound/internal/lock"
	"github.com/carebound/carebound/internal/logger"
	"github.com/carebound/carebound/internal/migration"
	"github.com/carebound/carebound/internal/observability"
	"github.com/carebound/carebound/internal/scheduler"
	"github.com/carebound/carebound/internal/server"
	"github.com/carebound/carebound/pkg/db"
	"go.uber.org/fx"
)

// The monolith runs the HTTP surface and the background scheduler in one
// process. The scheduler's redis lock keeps jobs single-flight when more
// than one replica is deployed.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		lock.Module,

		migration.Module,
		server.Module,
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
