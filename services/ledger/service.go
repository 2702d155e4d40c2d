package ledger

import (
	"context"
	"time"

	"github.com/bountyboard/bountyboard/pkg/db/option"
	"github.com/bountyboard/bountyboard/pkg/errutil"
	"github.com/bountyboard/bountyboard/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	members repository.Repository[Member]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:      p.DB,
		node:    p.Node,
		members: repository.ProvideStore[Member](p.DB),
	}
}

// EnsureMember creates the ledger row if it does not exist yet and
// refreshes the stored nickname otherwise.
func (s *Service) EnsureMember(ctx context.Context, guildID, memberID, nickname string) (*Member, error) {
	m, err := s.members.FindOne(ctx, &Member{GuildID: guildID, MemberID: memberID})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if m == nil {
		m = &Member{
			ID:        s.node.Generate().String(),
			GuildID:   guildID,
			MemberID:  memberID,
			Nickname:  nickname,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.members.Create(ctx, m); err != nil {
			return nil, err
		}
		return m, nil
	}

	if nickname != "" && nickname != m.Nickname {
		if err := s.members.Update(ctx, m.ID, map[string]any{"nickname": nickname, "updated_at": now}); err != nil {
			return nil, err
		}
		m.Nickname = nickname
	}

	return m, nil
}

// Get returns the ledger row, or nil when the member has never been seen.
func (s *Service) Get(ctx context.Context, guildID, memberID string) (*Member, error) {
	return s.members.FindOne(ctx, &Member{GuildID: guildID, MemberID: memberID})
}

// AddPoints applies a relative update so concurrent adders cannot lose
// writes. Negative deltas subtract.
func (s *Service) AddPoints(ctx context.Context, guildID, memberID string, delta int64) error {
	span := trace.SpanFromContext(ctx)
	opts := []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("guild_id", guildID),
		zap.String("member_id", memberID),
		zap.Int64("delta", delta),
	}

	res := s.db.WithContext(ctx).Model(&Member{}).
		Where("guild_id = ? AND member_id = ?", guildID, memberID).
		Updates(map[string]any{
			"points":     gorm.Expr("points + ?", delta),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		zap.L().With(opts...).Error("failed to add points", zap.Error(res.Error))
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errutil.NotFound("member not found", nil)
	}

	zap.L().With(opts...).Info("points updated")
	return nil
}

// ChargeIfSufficient spends cost from the member's balance in one
// conditional update. Returns false without mutation when the balance at
// decision time is below cost.
func (s *Service) ChargeIfSufficient(ctx context.Context, guildID, memberID string, cost int64) (bool, error) {
	if cost < 0 {
		return false, errutil.BadRequest("cost must be >= 0", nil)
	}

	res := s.db.WithContext(ctx).Model(&Member{}).
		Where("guild_id = ? AND member_id = ? AND points - spent >= ?", guildID, memberID, cost).
		Updates(map[string]any{
			"spent":      gorm.Expr("spent + ?", cost),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}

	return res.RowsAffected == 1, nil
}

// Refund returns a previously charged amount to the member's spendable
// balance, for purchases that could not be completed after the charge.
func (s *Service) Refund(ctx context.Context, guildID, memberID string, cost int64) error {
	if cost < 0 {
		return errutil.BadRequest("cost must be >= 0", nil)
	}

	return s.updateByKey(ctx, guildID, memberID, map[string]any{
		"spent":      gorm.Expr("spent - ?", cost),
		"updated_at": time.Now(),
	})
}

// SetNextEligible replaces the cooldown timestamp.
func (s *Service) SetNextEligible(ctx context.Context, guildID, memberID string, next time.Time) error {
	return s.updateByKey(ctx, guildID, memberID, map[string]any{
		"next_eligible_at": next,
		"updated_at":       time.Now(),
	})
}

// RollbackCooldown undoes one cooldown consumption after a denial, so the
// member is not penalized for a submission that was not accepted.
func (s *Service) RollbackCooldown(ctx context.Context, guildID, memberID string, cooldownHours int) error {
	m, err := s.Get(ctx, guildID, memberID)
	if err != nil {
		return err
	}
	if m == nil || m.NextEligibleAt == nil {
		return nil
	}

	prev := PrevEligible(*m.NextEligibleAt, cooldownHours)
	return s.updateByKey(ctx, guildID, memberID, map[string]any{
		"next_eligible_at": prev,
		"updated_at":       time.Now(),
	})
}

// SetLastSubmission records the display-only description of the member's
// most recent accepted submission.
func (s *Service) SetLastSubmission(ctx context.Context, guildID, memberID, description string) error {
	return s.updateByKey(ctx, guildID, memberID, map[string]any{
		"last_submission": description,
		"updated_at":      time.Now(),
	})
}

// Rank returns the member's 1-based position in the guild ordered by
// lifetime points.
func (s *Service) Rank(ctx context.Context, guildID, memberID string) (int64, error) {
	m, err := s.Get(ctx, guildID, memberID)
	if err != nil {
		return 0, err
	}
	if m == nil {
		return 0, errutil.NotFound("member not found", nil)
	}

	var ahead int64
	if err := s.db.WithContext(ctx).Model(&Member{}).
		Where("guild_id = ? AND points > ?", guildID, m.Points).
		Count(&ahead).Error; err != nil {
		return 0, err
	}

	return ahead + 1, nil
}

// Leaderboard returns the top members of the guild by lifetime points.
func (s *Service) Leaderboard(ctx context.Context, guildID string, limit int) ([]*Member, error) {
	if limit <= 0 {
		limit = 10
	}

	return s.members.Find(ctx, &Member{GuildID: guildID},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "points",
			OrderBy: "desc",
			Allow:   map[string]bool{"points": true},
		}),
		option.WithLimit(limit),
	)
}

func (s *Service) updateByKey(ctx context.Context, guildID, memberID string, updates map[string]any) error {
	res := s.db.WithContext(ctx).Model(&Member{}).
		Where("guild_id = ? AND member_id = ?", guildID, memberID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errutil.NotFound("member not found", nil)
	}
	return nil
}
