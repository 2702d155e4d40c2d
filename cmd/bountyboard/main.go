package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/bountyboard/bountyboard/internal/httpapi"
	"github.com/bountyboard/bountyboard/pkg/config"
	"github.com/bountyboard/bountyboard/pkg/db"
	"github.com/bountyboard/bountyboard/pkg/logger"
	"github.com/bountyboard/bountyboard/pkg/redis"
	"github.com/bountyboard/bountyboard/pkg/server"
	"github.com/bountyboard/bountyboard/pkg/task"
	"github.com/bountyboard/bountyboard/services/catalog"
	"github.com/bountyboard/bountyboard/services/guild"
	"github.com/bountyboard/bountyboard/services/ledger"
	"github.com/bountyboard/bountyboard/services/reward"
	"github.com/bountyboard/bountyboard/services/shop"
	"github.com/bountyboard/bountyboard/services/workflow"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		task.Client,
		fx.Provide(
			provideSnowflakeNode,
			provideRoleAssigner,
		),
		guild.Module,
		ledger.Module,
		catalog.Module,
		reward.Module,
		workflow.Module,
		shop.Module,
		httpapi.Module,
		server.Module,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	fx.New(opts...).Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

// provideRoleAssigner wires the log-only stand-in. Deployments embedding a
// chat connector replace this with the connector's role client.
func provideRoleAssigner() reward.RoleAssigner {
	return reward.NewLogAssigner()
}
