package migration

import (
	"github.com/smallbiznis/railpost/internal/config"
	"go.uber.org/zap"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migration",
	fx.Invoke(Run),
)

// Run applies embedded migrations on startup. Only the postgres driver is
// wired for schema management; other dialects are expected to be provisioned
// externally (tests use AutoMigrate).
func Run(cfg config.Config, gdb *gorm.DB, log *zap.Logger) error {
	if cfg.DBType != "postgres" {
		log.Info("skipping embedded migrations", zap.String("db_type", cfg.DBType))
		return nil
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}
