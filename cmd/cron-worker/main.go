package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/mfg-ledger-backend/internal/app"
	"github.com/angelmondragon/mfg-ledger-backend/internal/bootstrap"
	"github.com/angelmondragon/mfg-ledger-backend/internal/cron"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/config"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/db"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/logger"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/metrics"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/outbox"
)

func main() {
	p := bootstrap.New("cron-worker")
	if err := p.LoadConfig(); err != nil {
		p.Exit(context.Background(), err)
	}
	ctx, stop := p.Context()
	defer stop()
	defer p.Close()

	if err := run(ctx, p); err != nil && !errors.Is(err, context.Canceled) {
		p.Exit(ctx, err)
	}
	p.Logger.Info(ctx, "cron worker shutting down gracefully")
}

func run(ctx context.Context, p *bootstrap.Process) error {
	cfg, logg := p.Config, p.Logger

	dbClient, err := p.OpenDB(ctx)
	if err != nil {
		return err
	}
	redisClient, err := p.OpenRedis(ctx)
	if err != nil {
		return err
	}

	services, err := app.NewServices(app.Deps{
		Config:  cfg,
		DB:      dbClient,
		Metrics: metrics.NewLedgerMetrics(prometheus.DefaultRegisterer),
		Logger:  logg,
	})
	if err != nil {
		return fmt.Errorf("build services: %w", err)
	}
	jobs, err := registerJobs(cfg, logg, dbClient, services)
	if err != nil {
		return fmt.Errorf("register cron jobs: %w", err)
	}
	locker, err := cron.NewRedisLocker(redisClient)
	if err != nil {
		return fmt.Errorf("create cron lock: %w", err)
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: jobs,
		Locker:   locker,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return fmt.Errorf("create cron service: %w", err)
	}

	logg.Info(ctx, "starting cron worker")
	return service.Run(ctx)
}

func registerJobs(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, services *app.Services) (*cron.Registry, error) {
	reconcileJob, err := cron.NewReconcileJob(logg, services.Reconcile)
	if err != nil {
		return nil, err
	}
	retryJob, err := cron.NewProductionRetryJob(logg, services.RetryPool)
	if err != nil {
		return nil, err
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outbox.NewRepository(dbClient.DB()),
		Retention:  cfg.Outbox.Retention,
	})
	if err != nil {
		return nil, err
	}

	jobs := cron.NewRegistry()
	jobs.Register(reconcileJob, cfg.Cron.ReconcileEvery)
	jobs.Register(retryJob, cfg.Cron.ProductionRetryEvery)
	jobs.Register(retentionJob, cfg.Cron.OutboxRetentionEvery)
	return jobs, nil
}
