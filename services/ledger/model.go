package ledger

import "time"

// Member is the per-guild ledger row for one member. Points and Spent are
// lifetime accumulators; the spendable balance is Points - Spent.
// NextEligibleAt is nil until the member's first submission.
type Member struct {
	ID             string     `gorm:"column:id;primaryKey"`
	GuildID        string     `gorm:"column:guild_id;uniqueIndex:idx_members_guild_member"`
	MemberID       string     `gorm:"column:member_id;uniqueIndex:idx_members_guild_member"`
	Nickname       string     `gorm:"column:nickname"`
	Points         int64      `gorm:"column:points"`
	Spent          int64      `gorm:"column:spent"`
	NextEligibleAt *time.Time `gorm:"column:next_eligible_at"`
	LastSubmission string     `gorm:"column:last_submission"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at"`
}

func (Member) TableName() string {
	return "members"
}

// Balance is the spendable total, distinct from lifetime Points.
func (m *Member) Balance() int64 {
	return m.Points - m.Spent
}
