package main

import (
	"os"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/hypergraphlabs/meridian/internal/catalog"
	"github.com/hypergraphlabs/meridian/internal/clock"
	"github.com/hypergraphlabs/meridian/internal/config"
	"github.com/hypergraphlabs/meridian/internal/credit"
	"github.com/hypergraphlabs/meridian/internal/gateway"
	"github.com/hypergraphlabs/meridian/internal/logger"
	"github.com/hypergraphlabs/meridian/internal/migration"
	"github.com/hypergraphlabs/meridian/internal/notification"
	"github.com/hypergraphlabs/meridian/internal/pause"
	"github.com/hypergraphlabs/meridian/internal/proration"
	"github.com/hypergraphlabs/meridian/internal/scheduler"
	"github.com/hypergraphlabs/meridian/internal/server"
	"github.com/hypergraphlabs/meridian/internal/subscription"
	"github.com/hypergraphlabs/meridian/internal/team"
	"github.com/hypergraphlabs/meridian/internal/webhook"
	"github.com/hypergraphlabs/meridian/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		clock.Module,
		fx.Provide(newSnowflakeNode),
		db.Module,
		migration.Module,

		catalog.Module,
		gateway.Module,
		credit.Module,
		subscription.Module,
		proration.Module,
		pause.Module,
		team.Module,
		notification.Module,
		webhook.Module,

		scheduler.Module,
		server.Module,
	)

	app.Run()
}

func newSnowflakeNode() (*snowflake.Node, error) {
	nodeID := int64(1)
	if raw := os.Getenv("SNOWFLAKE_NODE_ID"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err == nil {
			nodeID = parsed
		}
	}
	return snowflake.NewNode(nodeID)
}
