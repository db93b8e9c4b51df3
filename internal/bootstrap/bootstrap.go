// Package bootstrap is the start-up and shutdown sequence shared by the
// ledger binaries.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/mfg-ledger-backend/pkg/config"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/db"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/instance"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/logger"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/migrate"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/pubsub"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/redis"
)

type closer struct {
	name string
	fn   func() error
}

// Process owns a binary's config, logger and the connections it opened.
type Process struct {
	Kind   string
	Config *config.Config
	Logger *logger.Logger

	closers []closer
	exit    func(int)
}

// New builds a process with a default logger so config failures can still
// be reported.
func New(kind string) *Process {
	return &Process{
		Kind:   kind,
		Logger: logger.New(logger.Options{ServiceName: kind}),
		exit:   os.Exit,
	}
}

// LoadConfig reads .env when present, then the environment, and rebuilds
// the logger from the loaded settings.
func (p *Process) LoadConfig() error {
	if err := godotenv.Load(); err != nil {
		p.Logger.Warn(context.Background(), ".env file not found, relying on environment")
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = p.Kind
	p.Config = cfg
	p.Logger = logger.New(logger.Options{
		ServiceName: p.Kind,
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})
	return nil
}

// Context is cancelled on SIGINT or SIGTERM and carries the process fields.
func (p *Process) Context() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	fields := map[string]any{
		"serviceKind": p.Kind,
		"instance":    instance.GetID(p.Kind + "-0"),
	}
	if p.Config != nil {
		fields["env"] = p.Config.App.Env
	}
	return p.Logger.WithFields(ctx, fields), stop
}

// OpenDB connects to the database and applies dev migrations when enabled.
func (p *Process) OpenDB(ctx context.Context) (*db.Client, error) {
	client, err := db.New(ctx, p.Config.DB, p.Config.FeatureFlags.UseSQLite, p.Logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap database: %w", err)
	}
	p.OnClose("database", client.Close)
	if err := migrate.MaybeRunDev(ctx, p.Config, p.Logger, client); err != nil {
		return nil, fmt.Errorf("dev migrations: %w", err)
	}
	return client, nil
}

func (p *Process) OpenRedis(ctx context.Context) (*redis.Client, error) {
	client, err := redis.New(ctx, p.Config.Redis, p.Logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap redis: %w", err)
	}
	p.OnClose("redis", client.Close)
	return client, nil
}

func (p *Process) OpenPubSub(ctx context.Context, opts ...pubsub.Option) (*pubsub.Client, error) {
	client, err := pubsub.NewClient(ctx, p.Config.GCP, p.Config.PubSub, p.Logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("bootstrap pubsub: %w", err)
	}
	p.OnClose("pubsub", client.Close)
	return client, nil
}

// OnClose registers fn to run at shutdown. Closers run in reverse order.
func (p *Process) OnClose(name string, fn func() error) {
	p.closers = append(p.closers, closer{name: name, fn: fn})
}

// Close releases everything opened so far. It is safe to call twice.
func (p *Process) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		c := p.closers[i]
		if err := c.fn(); err != nil {
			p.Logger.Error(p.Logger.WithField(context.Background(), "resource", c.name), "error closing resource", err)
		}
	}
	p.closers = nil
}

// Exit logs err, closes resources and exits non-zero. Deferred calls in
// main do not run after it.
func (p *Process) Exit(ctx context.Context, err error) {
	p.Logger.Error(ctx, p.Kind+" failed", err)
	p.Close()
	p.exit(1)
}
