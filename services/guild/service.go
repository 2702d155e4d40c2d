package guild

import (
	"context"
	"time"

	"github.com/bountyboard/bountyboard/pkg/errutil"
	"github.com/bountyboard/bountyboard/pkg/repository"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db     *gorm.DB
	guilds repository.Repository[Guild]
}

type ServiceParams struct {
	fx.In
	DB *gorm.DB
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:     p.DB,
		guilds: repository.ProvideStore[Guild](p.DB),
	}
}

// Setup creates or replaces the guild configuration.
func (s *Service) Setup(ctx context.Context, p SetupParams) (*Guild, error) {
	if p.GuildID == "" {
		return nil, errutil.BadRequest("guild id is required", nil)
	}
	if p.CooldownHours <= 0 {
		return nil, errutil.BadRequest("cooldown_hours must be > 0", nil)
	}
	if p.SubmissionChannel == "" || p.ReviewChannel == "" {
		return nil, errutil.BadRequest("submission and review channels are required", nil)
	}

	existing, err := s.guilds.FindOne(ctx, &Guild{ID: p.GuildID})
	if err != nil {
		zap.L().Error("failed to query guild", zap.String("guild_id", p.GuildID), zap.Error(err))
		return nil, err
	}

	now := time.Now()
	if existing == nil {
		g := &Guild{
			ID:                p.GuildID,
			Name:              p.Name,
			Currency:          p.Currency,
			SubmissionChannel: p.SubmissionChannel,
			ReviewChannel:     p.ReviewChannel,
			InfoChannel:       p.InfoChannel,
			CooldownHours:     p.CooldownHours,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := s.guilds.Create(ctx, g); err != nil {
			return nil, err
		}
		return g, nil
	}

	updates := map[string]any{
		"name":               p.Name,
		"currency":           p.Currency,
		"submission_channel": p.SubmissionChannel,
		"review_channel":     p.ReviewChannel,
		"info_channel":       p.InfoChannel,
		"cooldown_hours":     p.CooldownHours,
		"updated_at":         now,
	}
	if err := s.guilds.Update(ctx, p.GuildID, updates); err != nil {
		return nil, err
	}

	return s.guilds.FindOne(ctx, &Guild{ID: p.GuildID})
}

// Get returns the guild configuration, or nil when the guild has never
// been set up.
func (s *Service) Get(ctx context.Context, guildID string) (*Guild, error) {
	return s.guilds.FindOne(ctx, &Guild{ID: guildID})
}
