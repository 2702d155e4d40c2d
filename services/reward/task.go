package reward

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Task carries the asynq handlers owned by this package.
type Task struct {
	granters Registry
}

func NewTask(granters Registry) *Task {
	return &Task{granters: granters}
}

// HandleGrantRetry re-attempts an external grant that failed during
// evaluation. The attribution row already exists, so only the side effect
// is replayed; asynq retries with backoff on error.
func (t *Task) HandleGrantRetry(ctx context.Context, task *asynq.Task) error {
	var payload GrantRetryPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal grant retry payload: %w: %w", err, asynq.SkipRetry)
	}

	granter, ok := t.granters.For(payload.Kind)
	if !ok {
		return fmt.Errorf("no granter for kind %q: %w", payload.Kind, asynq.SkipRetry)
	}

	if err := granter.Grant(ctx, payload.GuildID, payload.MemberID, payload.Payload); err != nil {
		zap.L().Warn("grant retry failed",
			zap.String("reward_id", payload.RewardID),
			zap.String("member_id", payload.MemberID),
			zap.Error(err),
		)
		return err
	}

	zap.L().Info("grant retry succeeded",
		zap.String("reward_id", payload.RewardID),
		zap.String("member_id", payload.MemberID),
	)
	return nil
}
