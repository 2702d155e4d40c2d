package guild

import (
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("guild.service",
	fx.Provide(NewService),
	fx.Invoke(autoMigrate),
)

func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Guild{})
}
