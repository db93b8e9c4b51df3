package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/mfg-ledger-backend/internal/bootstrap"
	"github.com/angelmondragon/mfg-ledger-backend/internal/outboxpub"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/outbox"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/outbox/registry"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/pubsub"
)

func main() {
	p := bootstrap.New("outbox-publisher")
	if err := p.LoadConfig(); err != nil {
		p.Exit(context.Background(), err)
	}
	ctx, stop := p.Context()
	defer stop()
	defer p.Close()

	if err := run(ctx, p); err != nil && !errors.Is(err, context.Canceled) {
		p.Exit(ctx, err)
	}
	p.Logger.Info(ctx, "outbox publisher shutting down gracefully")
}

func run(ctx context.Context, p *bootstrap.Process) error {
	cfg := p.Config

	routes, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		return fmt.Errorf("build event routes: %w", err)
	}
	dbClient, err := p.OpenDB(ctx)
	if err != nil {
		return err
	}
	publisher, err := p.OpenPubSub(ctx, pubsub.WithTopics(routes.Topics()...))
	if err != nil {
		return err
	}

	dispatcher, err := outboxpub.New(outboxpub.Params{
		DB:           dbClient,
		Repository:   outbox.NewRepository(dbClient.DB()),
		DLQ:          outbox.NewDLQRepository(dbClient.DB()),
		Registry:     routes,
		Publisher:    publisher,
		Logger:       p.Logger,
		BatchSize:    cfg.Outbox.BatchSize,
		MaxAttempts:  cfg.Outbox.MaxAttempts,
		PollInterval: time.Duration(cfg.Outbox.PollIntervalMS) * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}

	p.Logger.Info(ctx, "starting outbox publisher")
	return dispatcher.Run(ctx)
}
