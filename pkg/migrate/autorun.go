package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/highlightz-backend/pkg/config"
	"github.com/angelmondragon/highlightz-backend/pkg/db"
	"github.com/angelmondragon/highlightz-backend/pkg/logger"
	"github.com/pressly/goose/v3"
)

// MaybeRunDev brings a dev database up to date on boot when
// HIGHLIGHTZ_AUTO_MIGRATE is set. Every other environment runs cmd/migrate
// explicitly.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if cfg == nil || !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	if err := ValidateDir(DefaultDir); err != nil {
		return err
	}
	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	if err := Run(ctx, sqlDB, DefaultDir, "up"); err != nil {
		return err
	}
	version, err := goose.GetDBVersionContext(ctx, sqlDB)
	if err != nil {
		return fmt.Errorf("read db version: %w", err)
	}
	logg.Info(logg.WithFields(ctx, map[string]any{
		"dir":            DefaultDir,
		"schema_version": version,
	}), "dev auto-migrate applied")
	return nil
}
