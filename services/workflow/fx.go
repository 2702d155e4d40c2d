package workflow

import (
	"context"
	"time"

	"github.com/bountyboard/bountyboard/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("workflow.engine",
	fx.Provide(
		provideCache,
		NewEngine,
	),
	fx.Invoke(runReaper),
)

func provideCache(cfg *config.Config) *Cache {
	return NewCache(cfg.Workflow.EntryTTL)
}

// runReaper sweeps abandoned submissions on an interval for the lifetime
// of the process.
func runReaper(lc fx.Lifecycle, cfg *config.Config, cache *Cache) {
	interval := cfg.Workflow.ReapInterval
	if interval <= 0 {
		return
	}

	done := make(chan struct{})
	stopped := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				defer close(stopped)
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					select {
					case <-done:
						return
					case now := <-ticker.C:
						if n := cache.Reap(now); n > 0 {
							zap.L().Info("reaped abandoned submissions", zap.Int("count", n))
						}
					}
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			close(done)
			select {
			case <-stopped:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		},
	})
}
