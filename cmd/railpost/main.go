package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/railpost/internal/clock"
	"github.com/smallbiznis/railpost/internal/config"
	"github.com/smallbiznis/railpost/internal/confirmation"
	"github.com/smallbiznis/railpost/internal/exporter"
	"github.com/smallbiznis/railpost/internal/ledger"
	"github.com/smallbiznis/railpost/internal/locks"
	"github.com/smallbiznis/railpost/internal/migration"
	"github.com/smallbiznis/railpost/internal/observability"
	"github.com/smallbiznis/railpost/internal/paymentevent"
	"github.com/smallbiznis/railpost/internal/paymentlink"
	"github.com/smallbiznis/railpost/internal/providers"
	"github.com/smallbiznis/railpost/internal/rates"
	"github.com/smallbiznis/railpost/internal/resilience"
	"github.com/smallbiznis/railpost/internal/resolver"
	"github.com/smallbiznis/railpost/internal/server"
	"github.com/smallbiznis/railpost/internal/sweeper"
	"github.com/smallbiznis/railpost/pkg/db"
	"github.com/smallbiznis/railpost/pkg/log"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		log.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		locks.Module,
		resilience.Module,
		providers.Module,
		rates.Module,

		paymentevent.Module,
		paymentlink.Module,
		ledger.Module,
		resolver.Module,
		confirmation.Module,

		sweeper.Module,
		exporter.Module,
		server.Module,
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
