package guild

import "time"

// Guild is the per-server configuration written by the setup command.
// A guild with no row is considered not configured and submissions to it
// are ignored.
type Guild struct {
	ID                string    `gorm:"column:id;primaryKey"`
	Name              string    `gorm:"column:name"`
	Currency          string    `gorm:"column:currency"`
	SubmissionChannel string    `gorm:"column:submission_channel"`
	ReviewChannel     string    `gorm:"column:review_channel"`
	InfoChannel       string    `gorm:"column:info_channel"`
	CooldownHours     int       `gorm:"column:cooldown_hours"`
	CreatedAt         time.Time `gorm:"column:created_at"`
	UpdatedAt         time.Time `gorm:"column:updated_at"`
}

func (Guild) TableName() string {
	return "guilds"
}

// SetupParams carries every field the setup operation replaces.
type SetupParams struct {
	GuildID           string
	Name              string
	Currency          string
	SubmissionChannel string
	ReviewChannel     string
	InfoChannel       string
	CooldownHours     int
}
