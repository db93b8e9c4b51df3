package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/mfg-ledger-backend/internal/app"
	"github.com/angelmondragon/mfg-ledger-backend/internal/bootstrap"
	"github.com/angelmondragon/mfg-ledger-backend/internal/production/consumer"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/metrics"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/pubsub"
)

func main() {
	p := bootstrap.New("worker")
	if err := p.LoadConfig(); err != nil {
		p.Exit(context.Background(), err)
	}
	ctx, stop := p.Context()
	defer stop()
	defer p.Close()

	if err := run(ctx, p); err != nil && !errors.Is(err, context.Canceled) {
		p.Exit(ctx, err)
	}
	p.Logger.Info(ctx, "worker shutting down gracefully")
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
	pubsubClient, err := p.OpenPubSub(ctx, pubsub.WithSubscriptions(cfg.PubSub.ProductionSubscription))
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

	claims, err := idempotency.NewManager(redisClient, cfg.Eventing.ConsumerIdempotencyTTL)
	if err != nil {
		return fmt.Errorf("create idempotency manager: %w", err)
	}
	productionConsumer, err := consumer.New(pubsubClient.ProductionSubscription(), services.Handler, claims, logg)
	if err != nil {
		return fmt.Errorf("create production consumer: %w", err)
	}

	service, err := NewService(ServiceParams{
		Logger:        logg,
		Dependencies:  map[string]pinger{"database": dbClient, "redis": redisClient, "pubsub": pubsubClient},
		Consumer:      productionConsumer,
		RetryPool:     services.RetryPool,
		RetryInterval: cfg.Production.RetryGrace,
	})
	if err != nil {
		return fmt.Errorf("create worker service: %w", err)
	}

	logg.Info(ctx, "starting worker")
	return service.Run(ctx)
}
