package catalog

import (
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("catalog.service",
	fx.Provide(NewService),
	fx.Invoke(autoMigrate),
)

func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&RequestDef{},
		&RewardDef{},
		&AchievementDef{},
		&RequestAttribution{},
		&RewardAttribution{},
		&AchievementAttribution{},
	)
}
