package reward

import (
	"go.uber.org/fx"
)

var Module = fx.Module("reward.service",
	fx.Provide(
		provideRegistry,
		NewEvaluator,
	),
)

// TaskModule is loaded by the worker binary only.
var TaskModule = fx.Module("reward.task",
	fx.Provide(
		provideRegistry,
		NewTask,
	),
)

func provideRegistry(assigner RoleAssigner) Registry {
	return NewRegistry(
		NewRoleGranter(assigner),
		NewThemeGranter(),
	)
}
