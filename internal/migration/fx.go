package migration

import (
	"github.com/smallbiznis/invoicepay/internal/config"
	"github.com/smallbiznis/invoicepay/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if !cfg.DBMigrateOnStart {
			log.Info("database migrations disabled")
			return nil
		}

		switch conn.Dialector.Name() {
		case db.DialectPostgres:
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		case db.DialectSQLite:
			if err := AutoMigrate(conn); err != nil {
				return err
			}
		default:
			log.Warn("no migrations for dialect, schema must be provisioned externally",
				zap.String("dialect", conn.Dialector.Name()))
			return nil
		}

		log.Info("database migrations applied", zap.String("dialect", conn.Dialector.Name()))
		return nil
	}),
)
