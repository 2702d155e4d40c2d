package catalog

import (
	"time"

	"gorm.io/datatypes"
)

// MaxOptions caps every choice axis (types, names per type, effects per
// type+name) so the upstream renderer's selection menus never overflow.
// Registration past the cap fails.
const MaxOptions = 25

// RequestDef is a fulfillable request: a (type, name, effect) triple worth
// Value points. The triple is unique per guild.
type RequestDef struct {
	ID        string    `gorm:"column:id;primaryKey"`
	GuildID   string    `gorm:"column:guild_id;uniqueIndex:idx_requests_triple"`
	Type      string    `gorm:"column:request_type;uniqueIndex:idx_requests_triple"`
	Name      string    `gorm:"column:request_name;uniqueIndex:idx_requests_triple"`
	Effect    string    `gorm:"column:effect;uniqueIndex:idx_requests_triple"`
	Value     int64     `gorm:"column:value"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (RequestDef) TableName() string {
	return "requests"
}

// Label is the human-readable form used in review and notification text.
func (r *RequestDef) Label() string {
	return r.Type + " " + r.Name + " " + r.Effect
}

// RewardCondition says how a reward is obtained.
type RewardCondition string

const (
	ConditionMilestone RewardCondition = "milestone" // auto-granted at a points threshold
	ConditionBought    RewardCondition = "bought"    // purchased from the shop
	ConditionGiven     RewardCondition = "given"     // handed out manually
)

// GrantKind is the closed set of reward grant variants.
type GrantKind string

const (
	KindRole  GrantKind = "role"
	KindTheme GrantKind = "theme"
)

// RewardDef describes one obtainable reward. Payload is grant-kind
// specific, e.g. the role identifier for role grants.
type RewardDef struct {
	ID             string          `gorm:"column:id;primaryKey"`
	GuildID        string          `gorm:"column:guild_id;index"`
	Name           string          `gorm:"column:name"`
	Condition      RewardCondition `gorm:"column:condition"`
	Kind           GrantKind       `gorm:"column:kind"`
	Payload        string          `gorm:"column:payload"`
	PointsRequired int64           `gorm:"column:points_required"`
	CreatedAt      time.Time       `gorm:"column:created_at"`
}

func (RewardDef) TableName() string {
	return "rewards"
}

// UnlockCondition is the structured predicate stored on an achievement.
// Expr is an optional CEL expression over {points, requests, rewards}.
type UnlockCondition struct {
	RequestIDs []string `json:"request_ids,omitempty"`
	RewardIDs  []string `json:"reward_ids,omitempty"`
	MinPoints  int64    `json:"min_points,omitempty"`
	Expr       string   `json:"expr,omitempty"`
}

// AchievementDef describes one unlockable achievement. Icon is the raw
// image blob shown on profile cards.
type AchievementDef struct {
	ID          string         `gorm:"column:id;primaryKey"`
	GuildID     string         `gorm:"column:guild_id;index"`
	Name        string         `gorm:"column:name"`
	Description string         `gorm:"column:description"`
	Icon        []byte         `gorm:"column:icon"`
	Condition   datatypes.JSON `gorm:"column:condition"`
	CreatedAt   time.Time      `gorm:"column:created_at"`
}

func (AchievementDef) TableName() string {
	return "achievements"
}

// Attribution rows are append-only facts linking a member to an item they
// have been credited with. The unique index makes crediting idempotent:
// a duplicate insert is swallowed, never retried.

type RequestAttribution struct {
	ID        string    `gorm:"column:id;primaryKey"`
	GuildID   string    `gorm:"column:guild_id;uniqueIndex:idx_request_attr"`
	MemberID  string    `gorm:"column:member_id;uniqueIndex:idx_request_attr"`
	RequestID string    `gorm:"column:request_id;uniqueIndex:idx_request_attr"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (RequestAttribution) TableName() string {
	return "request_attr"
}

type RewardAttribution struct {
	ID        string    `gorm:"column:id;primaryKey"`
	GuildID   string    `gorm:"column:guild_id;uniqueIndex:idx_reward_attr"`
	MemberID  string    `gorm:"column:member_id;uniqueIndex:idx_reward_attr"`
	RewardID  string    `gorm:"column:reward_id;uniqueIndex:idx_reward_attr"`
	Active    bool      `gorm:"column:active"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (RewardAttribution) TableName() string {
	return "reward_attr"
}

type AchievementAttribution struct {
	ID            string    `gorm:"column:id;primaryKey"`
	GuildID       string    `gorm:"column:guild_id;uniqueIndex:idx_achievement_attr"`
	MemberID      string    `gorm:"column:member_id;uniqueIndex:idx_achievement_attr"`
	AchievementID string    `gorm:"column:achievement_id;uniqueIndex:idx_achievement_attr"`
	CreatedAt     time.Time `gorm:"column:created_at"`
}

func (AchievementAttribution) TableName() string {
	return "achievement_attr"
}
