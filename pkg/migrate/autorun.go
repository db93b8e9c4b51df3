package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/mfg-ledger-backend/pkg/config"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/db"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/db/models"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/logger"
)

// MaybeRunDev brings the schema up at start-up, only in dev with
// MFGLEDGER_AUTO_MIGRATE set. Postgres runs the goose files; sqlite, which
// cannot run them, gets AutoMigrate over the models.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	strategy, apply := "goose", gooseUp
	if cfg.FeatureFlags.UseSQLite {
		strategy, apply = "automigrate", autoMigrate
	}
	ctx = logg.WithField(ctx, "strategy", strategy)

	start := time.Now()
	if err := apply(ctx, client); err != nil {
		return fmt.Errorf("dev %s: %w", strategy, err)
	}
	logg.Info(logg.WithField(ctx, "took_ms", time.Since(start).Milliseconds()), "dev schema up to date")
	return nil
}

func gooseUp(ctx context.Context, client *db.Client) error {
	sqlDB, err := client.DB().DB()
	if err != nil {
		return err
	}
	return Run(ctx, sqlDB, DefaultDir, "up")
}

func autoMigrate(ctx context.Context, client *db.Client) error {
	return client.DB().WithContext(ctx).AutoMigrate(models.All()...)
}
