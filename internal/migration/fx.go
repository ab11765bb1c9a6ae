package migration

import (
	"context"

	"github.com/smallbiznis/catalog/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(lc fx.Lifecycle, conn *gorm.DB, cfg config.Config, log *zap.Logger) {
		if !cfg.DBAutoMigrate {
			return
		}
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if err := AutoMigrate(ctx, conn); err != nil {
					return err
				}
				log.Info("catalog schema migrated", zap.String("dialect", conn.Dialector.Name()))
				return nil
			},
		})
	}),
)
