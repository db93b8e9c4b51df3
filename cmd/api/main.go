package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/mfg-ledger-backend/api/controllers"
	"github.com/angelmondragon/mfg-ledger-backend/api/routes"
	"github.com/angelmondragon/mfg-ledger-backend/internal/app"
	"github.com/angelmondragon/mfg-ledger-backend/internal/bootstrap"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/env"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/metrics"
)

const shutdownTimeout = 15 * time.Second

func main() {
	p := bootstrap.New("api")
	if err := p.LoadConfig(); err != nil {
		p.Exit(context.Background(), err)
	}
	ctx, stop := p.Context()
	defer stop()
	defer p.Close()

	if err := run(ctx, p); err != nil {
		p.Exit(ctx, err)
	}
	p.Logger.Info(ctx, "api server shut down gracefully")
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

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	services, err := app.NewServices(app.Deps{
		Config:  cfg,
		DB:      dbClient,
		Metrics: metrics.NewLedgerMetrics(reg),
		Logger:  logg,
	})
	if err != nil {
		return fmt.Errorf("build services: %w", err)
	}

	handler := routes.NewRouter(routes.RouterParams{
		Config: cfg,
		Logger: logg,
		Services: routes.Services{
			Ledger:       services.Ledger,
			BOM:          services.BOM,
			Plans:        services.Production,
			Reservations: services.Reservations,
			Reconcile:    services.Reconcile,
		},
		Idempotency: redisClient,
		Dependencies: []controllers.Dependency{
			{Name: "database", Pinger: dbClient},
			{Name: "redis", Pinger: redisClient},
		},
		HTTPMetrics:    metrics.NewHTTPMetrics(reg),
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
	})

	server := &http.Server{
		Addr:              ":" + env.Get("PORT", cfg.App.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	ctx = logg.WithField(ctx, "addr", server.Addr)
	return serve(ctx, p, server)
}

// serve runs server until ctx is cancelled, then drains in-flight requests.
func serve(ctx context.Context, p *bootstrap.Process, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		p.Logger.Info(ctx, "starting api server")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown api server: %w", err)
		}
		return nil
	}
}
