package shop

import (
	"context"
	"encoding/json"

	"github.com/bountyboard/bountyboard/pkg/errutil"
	"github.com/bountyboard/bountyboard/pkg/task"
	"github.com/bountyboard/bountyboard/pkg/taskname"
	"github.com/bountyboard/bountyboard/services/catalog"
	"github.com/bountyboard/bountyboard/services/ledger"
	"github.com/bountyboard/bountyboard/services/reward"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Service struct {
	catalog  *catalog.Service
	ledger   *ledger.Service
	granters reward.Registry
	enqueuer task.Enqueuer
}

type ServiceParams struct {
	fx.In

	Catalog  *catalog.Service
	Ledger   *ledger.Service
	Granters reward.Registry
	Enqueuer task.Enqueuer `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		catalog:  p.Catalog,
		ledger:   p.Ledger,
		granters: p.Granters,
		enqueuer: p.Enqueuer,
	}
}

// Buy charges the member's spendable balance for a purchasable reward and
// records ownership. The charge is a single conditional update, so two
// concurrent purchases cannot overdraw the balance.
func (s *Service) Buy(ctx context.Context, guildID, memberID, rewardID string) (*catalog.RewardDef, error) {
	span := trace.SpanFromContext(ctx)

	def, err := s.catalog.GetReward(ctx, guildID, rewardID)
	if err != nil {
		return nil, err
	}
	if def == nil {
		return nil, errutil.NotFound("reward not found", nil)
	}
	if def.Condition != catalog.ConditionBought {
		return nil, errutil.UnprocessableEntity("reward is not purchasable", nil)
	}

	// Balance is checked before ownership, so a repeat purchase with an
	// exhausted balance reads as insufficient funds, not as a duplicate.
	m, err := s.ledger.Get(ctx, guildID, memberID)
	if err != nil {
		return nil, err
	}
	if m == nil || m.Balance() < def.PointsRequired {
		return nil, errutil.UnprocessableEntity("insufficient balance", nil)
	}

	existing, err := s.catalog.GetRewardAttribution(ctx, guildID, memberID, rewardID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errutil.Conflict("reward already owned", nil)
	}

	if err := s.chargeAndGrant(ctx, guildID, memberID, def); err != nil {
		return nil, err
	}

	zap.L().Info("reward purchased",
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("guild_id", guildID),
		zap.String("member_id", memberID),
		zap.String("reward_id", rewardID),
		zap.Int64("cost", def.PointsRequired),
	)

	s.applySideEffect(ctx, guildID, memberID, def, true)
	return def, nil
}

// chargeAndGrant spends the cost and records ownership. The conditional
// charge is the atomic gate against overdraw; when the ownership insert
// then loses to a concurrent purchase, the charge is put back so the loser
// is not billed for nothing.
func (s *Service) chargeAndGrant(ctx context.Context, guildID, memberID string, def *catalog.RewardDef) error {
	charged, err := s.ledger.ChargeIfSufficient(ctx, guildID, memberID, def.PointsRequired)
	if err != nil {
		return err
	}
	if !charged {
		return errutil.UnprocessableEntity("insufficient balance", nil)
	}

	granted, err := s.catalog.AttributeReward(ctx, guildID, memberID, def.ID, true)
	if err == nil && granted {
		return nil
	}

	if rerr := s.ledger.Refund(ctx, guildID, memberID, def.PointsRequired); rerr != nil {
		zap.L().Error("failed to refund unfulfilled purchase",
			zap.String("guild_id", guildID),
			zap.String("member_id", memberID),
			zap.String("reward_id", def.ID),
			zap.Error(rerr),
		)
	}
	if err != nil {
		return err
	}
	return errutil.Conflict("reward already owned", nil)
}

// Toggle flips a bought role on or off without refunding. Themes are
// selected by the profile renderer, not toggled here.
func (s *Service) Toggle(ctx context.Context, guildID, memberID, rewardID string) (bool, error) {
	def, err := s.catalog.GetReward(ctx, guildID, rewardID)
	if err != nil {
		return false, err
	}
	if def == nil {
		return false, errutil.NotFound("reward not found", nil)
	}
	if def.Kind != catalog.KindRole {
		return false, errutil.UnprocessableEntity("only role rewards can be toggled", nil)
	}

	attr, err := s.catalog.GetRewardAttribution(ctx, guildID, memberID, rewardID)
	if err != nil {
		return false, err
	}
	if attr == nil {
		return false, errutil.UnprocessableEntity("reward not owned", nil)
	}

	active := !attr.Active
	if err := s.catalog.SetRewardActive(ctx, guildID, memberID, rewardID, active); err != nil {
		return false, err
	}

	s.applySideEffect(ctx, guildID, memberID, def, active)
	return active, nil
}

// Catalog lists the purchasable rewards for a guild.
func (s *Service) Catalog(ctx context.Context, guildID string) ([]*catalog.RewardDef, error) {
	return s.catalog.ListRewards(ctx, guildID, catalog.ConditionBought)
}

func (s *Service) applySideEffect(ctx context.Context, guildID, memberID string, def *catalog.RewardDef, active bool) {
	granter, ok := s.granters.For(def.Kind)
	if !ok {
		zap.L().Error("no granter for reward kind",
			zap.String("kind", string(def.Kind)), zap.String("reward_id", def.ID))
		return
	}

	var err error
	if active {
		err = granter.Grant(ctx, guildID, memberID, def.Payload)
	} else {
		err = granter.Revoke(ctx, guildID, memberID, def.Payload)
	}
	if err == nil {
		return
	}

	zap.L().Warn("reward side effect failed",
		zap.String("reward_id", def.ID),
		zap.String("member_id", memberID),
		zap.Bool("active", active),
		zap.Error(err),
	)
	if !active || s.enqueuer == nil {
		// Only grants are retried; a failed removal is re-run by the next
		// toggle.
		return
	}

	body, err := json.Marshal(reward.GrantRetryPayload{
		GuildID:  guildID,
		MemberID: memberID,
		Kind:     def.Kind,
		Payload:  def.Payload,
		RewardID: def.ID,
	})
	if err != nil {
		zap.L().Error("failed to marshal grant retry payload", zap.Error(err))
		return
	}
	if _, err := s.enqueuer.Enqueue(
		asynq.NewTask(taskname.GrantRetry, body),
		asynq.Queue("low"),
		asynq.MaxRetry(5),
	); err != nil {
		zap.L().Error("failed to enqueue grant retry", zap.Error(err))
	}
}
