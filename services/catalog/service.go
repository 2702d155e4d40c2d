package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bountyboard/bountyboard/pkg/celengine"
	"github.com/bountyboard/bountyboard/pkg/errutil"
	"github.com/bountyboard/bountyboard/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	requests         repository.Repository[RequestDef]
	rewards          repository.Repository[RewardDef]
	achievements     repository.Repository[AchievementDef]
	requestAttrs     repository.Repository[RequestAttribution]
	rewardAttrs      repository.Repository[RewardAttribution]
	achievementAttrs repository.Repository[AchievementAttribution]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:               p.DB,
		node:             p.Node,
		requests:         repository.ProvideStore[RequestDef](p.DB),
		rewards:          repository.ProvideStore[RewardDef](p.DB),
		achievements:     repository.ProvideStore[AchievementDef](p.DB),
		requestAttrs:     repository.ProvideStore[RequestAttribution](p.DB),
		rewardAttrs:      repository.ProvideStore[RewardAttribution](p.DB),
		achievementAttrs: repository.ProvideStore[AchievementAttribution](p.DB),
	}
}

// RegisterRequest adds a request definition. The (type, name, effect)
// triple must be unique per guild and none of the three choice axes may
// grow past MaxOptions.
func (s *Service) RegisterRequest(ctx context.Context, guildID, reqType, name, effect string, value int64) (*RequestDef, error) {
	reqType = strings.ToLower(strings.TrimSpace(reqType))
	name = strings.TrimSpace(name)
	effect = strings.TrimSpace(effect)
	if reqType == "" || name == "" || effect == "" {
		return nil, errutil.BadRequest("type, name and effect are required", nil)
	}
	if value <= 0 {
		return nil, errutil.BadRequest("value must be > 0", nil)
	}

	types, err := s.DistinctTypes(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if len(types) >= MaxOptions && !contains(types, reqType) {
		return nil, errutil.UnprocessableEntity("too many request types registered", nil)
	}

	names, err := s.DistinctNames(ctx, guildID, reqType)
	if err != nil {
		return nil, err
	}
	if len(names) >= MaxOptions && !contains(names, name) {
		return nil, errutil.UnprocessableEntity("too many request names for this type", nil)
	}

	effects, err := s.DistinctEffects(ctx, guildID, reqType, name)
	if err != nil {
		return nil, err
	}
	if len(effects) >= MaxOptions && !contains(effects, effect) {
		return nil, errutil.UnprocessableEntity("too many effects for this type and name", nil)
	}

	def := &RequestDef{
		ID:        s.node.Generate().String(),
		GuildID:   guildID,
		Type:      reqType,
		Name:      name,
		Effect:    effect,
		Value:     value,
		CreatedAt: time.Now(),
	}
	if err := s.requests.Create(ctx, def); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errutil.Conflict("request already exists", err)
		}
		return nil, err
	}

	return def, nil
}

// DeleteRequest removes the definition matching the triple.
func (s *Service) DeleteRequest(ctx context.Context, guildID, reqType, name, effect string) error {
	reqType = strings.ToLower(strings.TrimSpace(reqType))
	res := s.db.WithContext(ctx).
		Where("guild_id = ? AND request_type = ? AND request_name = ? AND effect = ?", guildID, reqType, name, effect).
		Delete(&RequestDef{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errutil.NotFound("request not found", nil)
	}
	return nil
}

// ResolveRequest returns the single definition for the triple, or nil when
// the catalog no longer holds it.
func (s *Service) ResolveRequest(ctx context.Context, guildID, reqType, name, effect string) (*RequestDef, error) {
	return s.requests.FindOne(ctx, &RequestDef{GuildID: guildID, Type: reqType, Name: name, Effect: effect})
}

// ListRequests returns the definitions for a guild, optionally filtered by
// type.
func (s *Service) ListRequests(ctx context.Context, guildID, reqType string) ([]*RequestDef, error) {
	query := &RequestDef{GuildID: guildID}
	if reqType != "" {
		query.Type = strings.ToLower(reqType)
	}
	return s.requests.Find(ctx, query)
}

// RequestsByIDs returns the subset of ids that still resolve to catalog
// rows, keyed by id.
func (s *Service) RequestsByIDs(ctx context.Context, guildID string, ids []string) (map[string]*RequestDef, error) {
	if len(ids) == 0 {
		return map[string]*RequestDef{}, nil
	}

	var defs []*RequestDef
	if err := s.db.WithContext(ctx).
		Where("guild_id = ? AND id IN ?", guildID, ids).
		Find(&defs).Error; err != nil {
		return nil, err
	}

	out := make(map[string]*RequestDef, len(defs))
	for _, d := range defs {
		out[d.ID] = d
	}
	return out, nil
}

func (s *Service) DistinctTypes(ctx context.Context, guildID string) ([]string, error) {
	return s.distinctColumn(ctx, "request_type", "guild_id = ?", guildID)
}

func (s *Service) DistinctNames(ctx context.Context, guildID, reqType string) ([]string, error) {
	return s.distinctColumn(ctx, "request_name", "guild_id = ? AND request_type = ?", guildID, reqType)
}

func (s *Service) DistinctEffects(ctx context.Context, guildID, reqType, name string) ([]string, error) {
	return s.distinctColumn(ctx, "effect", "guild_id = ? AND request_type = ? AND request_name = ?", guildID, reqType, name)
}

func (s *Service) distinctColumn(ctx context.Context, column, where string, args ...any) ([]string, error) {
	var values []string
	if err := s.db.WithContext(ctx).Model(&RequestDef{}).
		Where(where, args...).
		Distinct(column).
		Order(column).
		Pluck(column, &values).Error; err != nil {
		return nil, err
	}
	return values, nil
}

// RegisterReward adds a reward definition. Condition and kind come from
// closed sets; the per-guild catalog is capped at MaxOptions.
func (s *Service) RegisterReward(ctx context.Context, guildID, name string, condition RewardCondition, kind GrantKind, payload string, pointsRequired int64) (*RewardDef, error) {
	switch condition {
	case ConditionMilestone, ConditionBought, ConditionGiven:
	default:
		return nil, errutil.BadRequest("unknown reward condition", nil)
	}
	switch kind {
	case KindRole, KindTheme:
	default:
		return nil, errutil.BadRequest("unknown grant kind", nil)
	}
	if (condition == ConditionMilestone || condition == ConditionBought) && pointsRequired <= 0 {
		return nil, errutil.BadRequest("points_required must be > 0 for milestone and bought rewards", nil)
	}

	count, err := s.rewards.Count(ctx, &RewardDef{GuildID: guildID})
	if err != nil {
		return nil, err
	}
	if count >= MaxOptions {
		return nil, errutil.UnprocessableEntity("too many rewards registered", nil)
	}

	def := &RewardDef{
		ID:             s.node.Generate().String(),
		GuildID:        guildID,
		Name:           name,
		Condition:      condition,
		Kind:           kind,
		Payload:        payload,
		PointsRequired: pointsRequired,
		CreatedAt:      time.Now(),
	}
	if err := s.rewards.Create(ctx, def); err != nil {
		return nil, err
	}

	return def, nil
}

func (s *Service) DeleteReward(ctx context.Context, guildID, rewardID string) error {
	res := s.db.WithContext(ctx).
		Where("guild_id = ? AND id = ?", guildID, rewardID).
		Delete(&RewardDef{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errutil.NotFound("reward not found", nil)
	}
	return nil
}

func (s *Service) GetReward(ctx context.Context, guildID, rewardID string) (*RewardDef, error) {
	return s.rewards.FindOne(ctx, &RewardDef{GuildID: guildID, ID: rewardID})
}

// ListRewards returns reward definitions, optionally filtered by condition.
func (s *Service) ListRewards(ctx context.Context, guildID string, condition RewardCondition) ([]*RewardDef, error) {
	query := &RewardDef{GuildID: guildID, Condition: condition}
	return s.rewards.Find(ctx, query)
}

// RewardsByIDs returns the subset of ids that still resolve, keyed by id.
func (s *Service) RewardsByIDs(ctx context.Context, guildID string, ids []string) (map[string]*RewardDef, error) {
	if len(ids) == 0 {
		return map[string]*RewardDef{}, nil
	}

	var defs []*RewardDef
	if err := s.db.WithContext(ctx).
		Where("guild_id = ? AND id IN ?", guildID, ids).
		Find(&defs).Error; err != nil {
		return nil, err
	}

	out := make(map[string]*RewardDef, len(defs))
	for _, d := range defs {
		out[d.ID] = d
	}
	return out, nil
}

// RegisterAchievement adds an achievement definition. The unlock condition
// must reference existing catalog ids and any CEL expression must compile.
func (s *Service) RegisterAchievement(ctx context.Context, guildID, name, description string, icon []byte, cond UnlockCondition) (*AchievementDef, error) {
	if name == "" {
		return nil, errutil.BadRequest("name is required", nil)
	}

	count, err := s.achievements.Count(ctx, &AchievementDef{GuildID: guildID})
	if err != nil {
		return nil, err
	}
	if count >= MaxOptions {
		return nil, errutil.UnprocessableEntity("too many achievements registered", nil)
	}

	known, err := s.RequestsByIDs(ctx, guildID, cond.RequestIDs)
	if err != nil {
		return nil, err
	}
	for _, id := range cond.RequestIDs {
		if _, ok := known[id]; !ok {
			return nil, errutil.BadRequest("condition references unknown request id "+id, nil)
		}
	}

	knownRewards, err := s.RewardsByIDs(ctx, guildID, cond.RewardIDs)
	if err != nil {
		return nil, err
	}
	for _, id := range cond.RewardIDs {
		if _, ok := knownRewards[id]; !ok {
			return nil, errutil.BadRequest("condition references unknown reward id "+id, nil)
		}
	}

	if cond.Expr != "" {
		env, err := celengine.BuildEnvFromAttributes(map[string]interface{}{
			"points":   int64(0),
			"requests": []string{},
			"rewards":  []string{},
		})
		if err != nil {
			return nil, err
		}
		if err := celengine.ValidateExpression(env, cond.Expr); err != nil {
			return nil, errutil.BadRequest("invalid condition expression", err)
		}
	}

	raw, err := json.Marshal(cond)
	if err != nil {
		return nil, err
	}

	def := &AchievementDef{
		ID:          s.node.Generate().String(),
		GuildID:     guildID,
		Name:        name,
		Description: description,
		Icon:        icon,
		Condition:   datatypes.JSON(raw),
		CreatedAt:   time.Now(),
	}
	if err := s.achievements.Create(ctx, def); err != nil {
		return nil, err
	}

	return def, nil
}

func (s *Service) DeleteAchievement(ctx context.Context, guildID, achievementID string) error {
	res := s.db.WithContext(ctx).
		Where("guild_id = ? AND id = ?", guildID, achievementID).
		Delete(&AchievementDef{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errutil.NotFound("achievement not found", nil)
	}
	return nil
}

func (s *Service) ListAchievements(ctx context.Context, guildID string) ([]*AchievementDef, error) {
	return s.achievements.Find(ctx, &AchievementDef{GuildID: guildID})
}

// ParseCondition decodes the stored unlock condition.
func (s *Service) ParseCondition(def *AchievementDef) (UnlockCondition, error) {
	var cond UnlockCondition
	if len(def.Condition) == 0 {
		return cond, nil
	}
	if err := json.Unmarshal(def.Condition, &cond); err != nil {
		return cond, err
	}
	return cond, nil
}

// AttributeRequest credits a member with a fulfilled request. Returns true
// when the credit is new; a duplicate is swallowed and reported as false.
func (s *Service) AttributeRequest(ctx context.Context, guildID, memberID, requestID string) (bool, error) {
	err := s.requestAttrs.Create(ctx, &RequestAttribution{
		ID:        s.node.Generate().String(),
		GuildID:   guildID,
		MemberID:  memberID,
		RequestID: requestID,
		CreatedAt: time.Now(),
	})
	return s.attributionOutcome(err, "request", requestID, memberID)
}

// AttributeReward credits a member with a reward. Idempotent like
// AttributeRequest.
func (s *Service) AttributeReward(ctx context.Context, guildID, memberID, rewardID string, active bool) (bool, error) {
	err := s.rewardAttrs.Create(ctx, &RewardAttribution{
		ID:        s.node.Generate().String(),
		GuildID:   guildID,
		MemberID:  memberID,
		RewardID:  rewardID,
		Active:    active,
		CreatedAt: time.Now(),
	})
	return s.attributionOutcome(err, "reward", rewardID, memberID)
}

// AttributeAchievement credits a member with an achievement. Idempotent.
func (s *Service) AttributeAchievement(ctx context.Context, guildID, memberID, achievementID string) (bool, error) {
	err := s.achievementAttrs.Create(ctx, &AchievementAttribution{
		ID:            s.node.Generate().String(),
		GuildID:       guildID,
		MemberID:      memberID,
		AchievementID: achievementID,
		CreatedAt:     time.Now(),
	})
	return s.attributionOutcome(err, "achievement", achievementID, memberID)
}

func (s *Service) attributionOutcome(err error, kind, itemID, memberID string) (bool, error) {
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		zap.L().Debug("duplicate attribution ignored",
			zap.String("kind", kind),
			zap.String("item_id", itemID),
			zap.String("member_id", memberID),
		)
		return false, nil
	}
	return false, err
}

// GetRewardAttribution returns the member's attribution row for a reward,
// or nil when they never obtained it.
func (s *Service) GetRewardAttribution(ctx context.Context, guildID, memberID, rewardID string) (*RewardAttribution, error) {
	return s.rewardAttrs.FindOne(ctx, &RewardAttribution{GuildID: guildID, MemberID: memberID, RewardID: rewardID})
}

// SetRewardActive flips the on/off state of an attributed reward.
func (s *Service) SetRewardActive(ctx context.Context, guildID, memberID, rewardID string, active bool) error {
	res := s.db.WithContext(ctx).Model(&RewardAttribution{}).
		Where("guild_id = ? AND member_id = ? AND reward_id = ?", guildID, memberID, rewardID).
		Update("active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errutil.NotFound("reward attribution not found", nil)
	}
	return nil
}

// RequestAttributions returns the ids of every request credited to the
// member.
func (s *Service) RequestAttributions(ctx context.Context, guildID, memberID string) ([]string, error) {
	return s.attributionIDs(ctx, &RequestAttribution{}, "request_id", guildID, memberID)
}

// RewardAttributions returns the ids of every reward credited to the
// member.
func (s *Service) RewardAttributions(ctx context.Context, guildID, memberID string) ([]string, error) {
	return s.attributionIDs(ctx, &RewardAttribution{}, "reward_id", guildID, memberID)
}

// AchievementAttributions returns the ids of every achievement credited to
// the member.
func (s *Service) AchievementAttributions(ctx context.Context, guildID, memberID string) ([]string, error) {
	return s.attributionIDs(ctx, &AchievementAttribution{}, "achievement_id", guildID, memberID)
}

func (s *Service) attributionIDs(ctx context.Context, model any, column, guildID, memberID string) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(model).
		Where("guild_id = ? AND member_id = ?", guildID, memberID).
		Pluck(column, &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func contains(values []string, v string) bool {
	for _, value := range values {
		if value == v {
			return true
		}
	}
	return false
}
