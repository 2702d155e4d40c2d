package ledger

import (
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("ledger.service",
	fx.Provide(NewService),
	fx.Invoke(autoMigrate),
)

func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Member{})
}
