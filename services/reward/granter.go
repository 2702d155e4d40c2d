package reward

import (
	"context"

	"github.com/bountyboard/bountyboard/services/catalog"

	"go.uber.org/zap"
)

// RoleAssigner is the chat-platform collaborator that actually assigns and
// removes roles. The presentation layer supplies the real implementation.
type RoleAssigner interface {
	AssignRole(ctx context.Context, guildID, memberID, roleID string) error
	RemoveRole(ctx context.Context, guildID, memberID, roleID string) error
}

// Granter applies the external side effect for one grant kind. The ledger
// and attribution state stay authoritative whether or not the side effect
// succeeds.
type Granter interface {
	Kind() catalog.GrantKind
	Grant(ctx context.Context, guildID, memberID, payload string) error
	Revoke(ctx context.Context, guildID, memberID, payload string) error
}

// Registry resolves the granter for a grant kind.
type Registry map[catalog.GrantKind]Granter

func NewRegistry(granters ...Granter) Registry {
	r := make(Registry, len(granters))
	for _, g := range granters {
		r[g.Kind()] = g
	}
	return r
}

func (r Registry) For(kind catalog.GrantKind) (Granter, bool) {
	g, ok := r[kind]
	return g, ok
}

type roleGranter struct {
	assigner RoleAssigner
}

func NewRoleGranter(assigner RoleAssigner) Granter {
	return &roleGranter{assigner: assigner}
}

func (g *roleGranter) Kind() catalog.GrantKind {
	return catalog.KindRole
}

func (g *roleGranter) Grant(ctx context.Context, guildID, memberID, payload string) error {
	return g.assigner.AssignRole(ctx, guildID, memberID, payload)
}

func (g *roleGranter) Revoke(ctx context.Context, guildID, memberID, payload string) error {
	return g.assigner.RemoveRole(ctx, guildID, memberID, payload)
}

// themeGranter has no external side effect: owning the attribution row is
// the grant, and the renderer reads it when drawing profile cards.
type themeGranter struct{}

func NewThemeGranter() Granter {
	return &themeGranter{}
}

func (g *themeGranter) Kind() catalog.GrantKind {
	return catalog.KindTheme
}

func (g *themeGranter) Grant(ctx context.Context, guildID, memberID, payload string) error {
	return nil
}

func (g *themeGranter) Revoke(ctx context.Context, guildID, memberID, payload string) error {
	return nil
}

// LogAssigner records assignments in the log. It stands in for the chat
// connector in deployments where the presentation layer runs separately.
type LogAssigner struct{}

func NewLogAssigner() RoleAssigner {
	return LogAssigner{}
}

func (LogAssigner) AssignRole(ctx context.Context, guildID, memberID, roleID string) error {
	zap.L().Info("role assignment requested",
		zap.String("guild_id", guildID),
		zap.String("member_id", memberID),
		zap.String("role_id", roleID),
	)
	return nil
}

func (LogAssigner) RemoveRole(ctx context.Context, guildID, memberID, roleID string) error {
	zap.L().Info("role removal requested",
		zap.String("guild_id", guildID),
		zap.String("member_id", memberID),
		zap.String("role_id", roleID),
	)
	return nil
}
