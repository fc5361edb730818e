package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/railpost/internal/clock"
	"github.com/smallbiznis/railpost/internal/config"
	"github.com/smallbiznis/railpost/internal/observability"
	"github.com/smallbiznis/railpost/internal/paymentevent"
	"github.com/smallbiznis/railpost/internal/paymentlink"
	"github.com/smallbiznis/railpost/internal/sweeper"
	"github.com/smallbiznis/railpost/pkg/db"
	"github.com/smallbiznis/railpost/pkg/log"
	"go.uber.org/fx"
)

// Standalone expiry sweeper for deployments that separate the sweep cadence
// from the API instances.
func main() {
	app := fx.New(
		config.Module,
		log.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		paymentevent.Module,
		paymentlink.Module,
		sweeper.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
