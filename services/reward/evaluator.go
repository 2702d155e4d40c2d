package reward

import (
	"context"
	"encoding/json"

	"github.com/bountyboard/bountyboard/pkg/celengine"
	"github.com/bountyboard/bountyboard/pkg/task"
	"github.com/bountyboard/bountyboard/pkg/taskname"
	"github.com/bountyboard/bountyboard/services/catalog"
	"github.com/bountyboard/bountyboard/services/ledger"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Evaluation is the set of newly granted items produced by one evaluation
// run. Dangling lists achievements whose conditions reference catalog ids
// that no longer exist; they are skipped and flagged for manual removal.
type Evaluation struct {
	Rewards      []*catalog.RewardDef
	Achievements []*catalog.AchievementDef
	Dangling     []string
}

// GrantRetryPayload is the asynq task body for re-attempting a failed
// external grant.
type GrantRetryPayload struct {
	GuildID  string            `json:"guild_id"`
	MemberID string            `json:"member_id"`
	Kind     catalog.GrantKind `json:"kind"`
	Payload  string            `json:"payload"`
	RewardID string            `json:"reward_id"`
}

type Evaluator struct {
	catalog  *catalog.Service
	ledger   *ledger.Service
	granters Registry
	enqueuer task.Enqueuer
}

type EvaluatorParams struct {
	fx.In

	Catalog  *catalog.Service
	Ledger   *ledger.Service
	Granters Registry
	Enqueuer task.Enqueuer `optional:"true"`
}

func NewEvaluator(p EvaluatorParams) *Evaluator {
	return &Evaluator{
		catalog:  p.Catalog,
		ledger:   p.Ledger,
		granters: p.Granters,
		enqueuer: p.Enqueuer,
	}
}

// EvaluateMember re-runs the full reward and achievement evaluation for
// one member. Called after every point change; catalogs are capped small
// enough that incremental evaluation is not worth its complexity.
func (e *Evaluator) EvaluateMember(ctx context.Context, guildID, memberID string) (*Evaluation, error) {
	result := &Evaluation{}

	m, err := e.ledger.Get(ctx, guildID, memberID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return result, nil
	}

	if err := e.evaluateMilestones(ctx, m, result); err != nil {
		return nil, err
	}
	if err := e.evaluateAchievements(ctx, m, result); err != nil {
		return nil, err
	}

	return result, nil
}

func (e *Evaluator) evaluateMilestones(ctx context.Context, m *ledger.Member, result *Evaluation) error {
	defs, err := e.catalog.ListRewards(ctx, m.GuildID, catalog.ConditionMilestone)
	if err != nil {
		return err
	}

	owned, err := e.ownedSet(e.catalog.RewardAttributions(ctx, m.GuildID, m.MemberID))
	if err != nil {
		return err
	}

	for _, def := range defs {
		if def.PointsRequired > m.Points {
			continue
		}
		if owned[def.ID] {
			continue
		}

		granted, err := e.catalog.AttributeReward(ctx, m.GuildID, m.MemberID, def.ID, true)
		if err != nil {
			return err
		}
		if !granted {
			continue
		}

		e.applyGrant(ctx, m.GuildID, m.MemberID, def)
		result.Rewards = append(result.Rewards, def)
	}

	return nil
}

func (e *Evaluator) evaluateAchievements(ctx context.Context, m *ledger.Member, result *Evaluation) error {
	defs, err := e.catalog.ListAchievements(ctx, m.GuildID)
	if err != nil {
		return err
	}
	if len(defs) == 0 {
		return nil
	}

	requests, err := e.ownedSet(e.catalog.RequestAttributions(ctx, m.GuildID, m.MemberID))
	if err != nil {
		return err
	}
	rewards, err := e.ownedSet(e.catalog.RewardAttributions(ctx, m.GuildID, m.MemberID))
	if err != nil {
		return err
	}
	unlocked, err := e.ownedSet(e.catalog.AchievementAttributions(ctx, m.GuildID, m.MemberID))
	if err != nil {
		return err
	}

	for _, def := range defs {
		if unlocked[def.ID] {
			continue
		}

		cond, err := e.catalog.ParseCondition(def)
		if err != nil {
			zap.L().Warn("unparseable achievement condition, skipping",
				zap.String("achievement_id", def.ID), zap.Error(err))
			result.Dangling = append(result.Dangling, def.ID)
			continue
		}

		dangling, err := e.conditionDangling(ctx, m.GuildID, cond)
		if err != nil {
			return err
		}
		if dangling {
			// Catalog drift: a referenced definition was deleted after
			// this achievement was registered.
			result.Dangling = append(result.Dangling, def.ID)
			continue
		}

		ok, err := e.conditionSatisfied(m, cond, requests, rewards)
		if err != nil {
			zap.L().Warn("achievement condition evaluation failed, skipping",
				zap.String("achievement_id", def.ID), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}

		granted, err := e.catalog.AttributeAchievement(ctx, m.GuildID, m.MemberID, def.ID)
		if err != nil {
			return err
		}
		if granted {
			result.Achievements = append(result.Achievements, def)
		}
	}

	return nil
}

func (e *Evaluator) conditionDangling(ctx context.Context, guildID string, cond catalog.UnlockCondition) (bool, error) {
	knownRequests, err := e.catalog.RequestsByIDs(ctx, guildID, cond.RequestIDs)
	if err != nil {
		return false, err
	}
	for _, id := range cond.RequestIDs {
		if _, ok := knownRequests[id]; !ok {
			return true, nil
		}
	}

	knownRewards, err := e.catalog.RewardsByIDs(ctx, guildID, cond.RewardIDs)
	if err != nil {
		return false, err
	}
	for _, id := range cond.RewardIDs {
		if _, ok := knownRewards[id]; !ok {
			return true, nil
		}
	}

	return false, nil
}

func (e *Evaluator) conditionSatisfied(m *ledger.Member, cond catalog.UnlockCondition, requests, rewards map[string]bool) (bool, error) {
	for _, id := range cond.RequestIDs {
		if !requests[id] {
			return false, nil
		}
	}
	for _, id := range cond.RewardIDs {
		if !rewards[id] {
			return false, nil
		}
	}
	if m.Points < cond.MinPoints {
		return false, nil
	}

	if cond.Expr == "" {
		return true, nil
	}

	attrs := map[string]interface{}{
		"points":   m.Points,
		"requests": keys(requests),
		"rewards":  keys(rewards),
	}
	env, err := celengine.BuildEnvFromAttributes(attrs)
	if err != nil {
		return false, err
	}
	return celengine.Evaluate(env, cond.Expr, attrs)
}

// applyGrant runs the external side effect for a freshly attributed
// reward. Failures never roll back the attribution; they are queued for a
// later retry instead.
func (e *Evaluator) applyGrant(ctx context.Context, guildID, memberID string, def *catalog.RewardDef) {
	granter, ok := e.granters.For(def.Kind)
	if !ok {
		zap.L().Error("no granter for reward kind",
			zap.String("kind", string(def.Kind)), zap.String("reward_id", def.ID))
		return
	}

	if err := granter.Grant(ctx, guildID, memberID, def.Payload); err != nil {
		zap.L().Warn("external grant failed, scheduling retry",
			zap.String("reward_id", def.ID),
			zap.String("member_id", memberID),
			zap.Error(err),
		)
		e.enqueueRetry(GrantRetryPayload{
			GuildID:  guildID,
			MemberID: memberID,
			Kind:     def.Kind,
			Payload:  def.Payload,
			RewardID: def.ID,
		})
	}
}

func (e *Evaluator) enqueueRetry(payload GrantRetryPayload) {
	if e.enqueuer == nil {
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		zap.L().Error("failed to marshal grant retry payload", zap.Error(err))
		return
	}

	if _, err := e.enqueuer.Enqueue(
		asynq.NewTask(taskname.GrantRetry, body),
		asynq.Queue("low"),
		asynq.MaxRetry(5),
	); err != nil {
		zap.L().Error("failed to enqueue grant retry", zap.Error(err))
	}
}

func (e *Evaluator) ownedSet(ids []string, err error) (map[string]bool, error) {
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

func keys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
