package main

import (
	"log"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/bountyboard/bountyboard/pkg/config"
	"github.com/bountyboard/bountyboard/pkg/logger"
	"github.com/bountyboard/bountyboard/pkg/task"
	"github.com/bountyboard/bountyboard/pkg/taskname"
	"github.com/bountyboard/bountyboard/services/reward"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		fx.Provide(provideRoleAssigner),
		reward.TaskModule,
		task.Server,
		fx.Invoke(registerHandlers),
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

func registerHandlers(mux *asynq.ServeMux, t *reward.Task) {
	mux.HandleFunc(taskname.GrantRetry, t.HandleGrantRetry)
}

func provideRoleAssigner() reward.RoleAssigner {
	return reward.NewLogAssigner()
}
