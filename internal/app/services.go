// Package app builds the ledger's domain services from shared infrastructure.
// Every binary wires through here so the api, worker and cron processes agree
// on configuration.
package app

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/mfg-ledger-backend/internal/bom"
	"github.com/angelmondragon/mfg-ledger-backend/internal/ledger"
	"github.com/angelmondragon/mfg-ledger-backend/internal/materials"
	"github.com/angelmondragon/mfg-ledger-backend/internal/production"
	"github.com/angelmondragon/mfg-ledger-backend/internal/reconcile"
	"github.com/angelmondragon/mfg-ledger-backend/internal/reservations"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/config"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/db"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/logger"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/metrics"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/outbox"
)

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type Deps struct {
	Config *config.Config
	DB     *db.Client
	// Outbox defaults to an outbox.Service on DB.
	Outbox  eventEmitter
	Metrics *metrics.LedgerMetrics
	Logger  *logger.Logger
	Now     func() time.Time
}

// Services holds every domain service the binaries use.
type Services struct {
	Registry       *materials.Registry
	Ledger         *ledger.Service
	BOM            *bom.Service
	Reservations   *reservations.Service
	ProductionRepo production.Repository
	Handler        *production.Handler
	Production     *production.Service
	RetryPool      *production.RetryPool
	Reconcile      *reconcile.Engine
}

func NewServices(d Deps) (*Services, error) {
	if d.Config == nil {
		return nil, errors.New("config required")
	}
	if d.DB == nil {
		return nil, errors.New("db client required")
	}
	cfg := d.Config
	conn := d.DB.DB()
	emitter := d.Outbox
	if emitter == nil {
		emitter = outbox.NewService(outbox.NewRepository(conn), d.Logger)
	}

	registry := materials.NewRegistry()
	ledgerSvc, err := ledger.NewService(ledger.ServiceParams{
		DB:                 d.DB,
		Repository:         ledger.NewRepository(conn),
		Registry:           registry,
		Outbox:             emitter,
		Metrics:            d.Metrics,
		Logger:             d.Logger,
		AllowNegativeStock: cfg.Ledger.AllowNegativeStock,
		Now:                d.Now,
	})
	if err != nil {
		return nil, err
	}
	bomSvc, err := bom.NewService(d.DB, registry, d.Logger)
	if err != nil {
		return nil, err
	}
	resSvc, err := reservations.NewService(reservations.ServiceParams{
		DB:         d.DB,
		Repository: reservations.NewRepository(conn),
		Registry:   registry,
		Outbox:     emitter,
		Logger:     d.Logger,
		Now:        d.Now,
	})
	if err != nil {
		return nil, err
	}

	repo := production.NewRepository(conn)
	handler, err := production.NewHandler(production.HandlerParams{
		DB:           d.DB,
		Repository:   repo,
		Snapshots:    bomSvc,
		Ledger:       ledgerSvc,
		Reservations: resSvc,
		Outbox:       emitter,
		Metrics:      d.Metrics,
		Logger:       d.Logger,
		Now:          d.Now,
	})
	if err != nil {
		return nil, err
	}
	prodSvc, err := production.NewService(production.ServiceParams{
		DB:           d.DB,
		Repository:   repo,
		Registry:     registry,
		Snapshots:    bomSvc,
		Reservations: resSvc,
		Applier:      handler,
		Outbox:       emitter,
		Logger:       d.Logger,
		InlineApply:  cfg.Ledger.InlineApply,
		Now:          d.Now,
	})
	if err != nil {
		return nil, err
	}
	pool, err := production.NewRetryPool(production.RetryPoolParams{
		DB:          d.DB,
		Repository:  repo,
		Applier:     handler,
		Logger:      d.Logger,
		Concurrency: cfg.Production.RetryConcurrency,
		MaxAttempts: cfg.Production.RetryMaxAttempts,
		Grace:       cfg.Production.RetryGrace,
		BatchSize:   cfg.Production.RetryBatchSize,
		Now:         d.Now,
	})
	if err != nil {
		return nil, err
	}
	engine, err := reconcile.NewEngine(reconcile.Params{
		DB:              d.DB,
		Production:      repo,
		Snapshots:       bomSvc,
		Ledger:          ledgerSvc,
		Reservations:    resSvc,
		Applier:         handler,
		Reports:         reconcile.NewReportRepository(conn),
		Outbox:          emitter,
		Metrics:         d.Metrics,
		Logger:          d.Logger,
		Limit:           cfg.Reconcile.Limit,
		Lookback:        cfg.Reconcile.Lookback,
		Grace:           cfg.Reconcile.Grace,
		LegacyWindow:    cfg.Reconcile.LegacyWindow,
		LegacyTolerance: cfg.Reconcile.Tolerance(),
		LinkLegacy:      cfg.Reconcile.LinkLegacy,
		Now:             d.Now,
	})
	if err != nil {
		return nil, err
	}

	return &Services{
		Registry:       registry,
		Ledger:         ledgerSvc,
		BOM:            bomSvc,
		Reservations:   resSvc,
		ProductionRepo: repo,
		Handler:        handler,
		Production:     prodSvc,
		RetryPool:      pool,
		Reconcile:      engine,
	}, nil
}
