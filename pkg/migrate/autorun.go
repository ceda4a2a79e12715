package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// MaybeRunDev migrates the schema on boot for dev environments with the
// auto-migrate flag. SQLite databases are built from the models because the
// goose files are postgres-only.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	ctx = logg.WithField(ctx, "env", cfg.App.Env)

	if cfg.FeatureFlags.UseSQLite {
		logg.Info(ctx, "auto-migrating sqlite schema from models")
		if err := AutoMigrateModels(client); err != nil {
			return fmt.Errorf("sqlite automigrate: %w", err)
		}
		return nil
	}

	sqlDB, err := client.SQL()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	steps, err := Run(ctx, sqlDB, Embedded(), "up")
	if err != nil {
		return fmt.Errorf("running embedded migrations: %w", err)
	}
	logg.Info(logg.WithField(ctx, "applied", len(steps)), "embedded migrations applied")
	return nil
}

// AutoMigrateModels creates tables for every persisted model.
func AutoMigrateModels(client *db.Client) error {
	return client.DB().AutoMigrate(
		&models.Product{},
		&models.Address{},
		&models.Order{},
		&models.OrderLineItem{},
		&models.CartItem{},
		&models.OutboxEvent{},
	)
}
