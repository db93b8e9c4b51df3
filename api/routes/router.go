package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/mfg-ledger-backend/api/controllers"
	"github.com/angelmondragon/mfg-ledger-backend/api/middleware"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/config"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/logger"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/metrics"
	pkgredis "github.com/angelmondragon/mfg-ledger-backend/pkg/redis"
)

// Services groups the domain services behind the HTTP surface.
type Services struct {
	Ledger       controllers.LedgerService
	BOM          controllers.BOMService
	Plans        controllers.PlanService
	Reservations controllers.ReservationService
	Reconcile    controllers.ReconcileService
}

type RouterParams struct {
	Config      *config.Config
	Logger      *logger.Logger
	Services    Services
	Idempotency pkgredis.IdempotencyStore
	// Dependencies are pinged by /health/ready.
	Dependencies []controllers.Dependency
	HTTPMetrics  *metrics.HTTPMetrics
	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler
}

func NewRouter(p RouterParams) http.Handler {
	cfg, logg, svc := p.Config, p.Logger, p.Services
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, p.HTTPMetrics),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.Dependencies...))
	})
	if p.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", p.MetricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Actor(logg))
		r.Use(middleware.Idempotency(p.Idempotency, cfg.Eventing.HTTPIdempotencyTTL, logg))

		r.Route("/materials/{type}", func(r chi.Router) {
			r.Post("/", controllers.CreateMaterial(svc.Ledger, logg))
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", controllers.MaterialStock(svc.Ledger, logg))
				r.Get("/movements", controllers.MaterialHistory(svc.Ledger, logg))
				r.Post("/movements", controllers.RecordMovement(svc.Ledger, logg))
				r.Get("/reconstruction", controllers.MaterialReconstruction(svc.Ledger, logg))
			})
		})

		r.Put("/products/{id}/bom", controllers.DefineBOM(svc.BOM, logg))

		r.Route("/plans", func(r chi.Router) {
			r.Post("/", controllers.CreatePlan(svc.Plans, logg))
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", controllers.GetPlan(svc.Plans, logg))
				r.Delete("/", controllers.DeletePlan(svc.Plans, logg))
				r.Get("/snapshot", controllers.PlanSnapshot(svc.BOM, logg))
				r.Post("/production", controllers.RecordProduction(svc.Plans, logg))
			})
		})

		r.Route("/orders/{id}/reservations", func(r chi.Router) {
			r.Post("/", controllers.ReserveForOrder(svc.Reservations, logg))
			r.Delete("/", controllers.CancelReservations(svc.Reservations, logg))
			r.Get("/", controllers.OrderReservations(svc.Reservations, logg))
		})

		r.Route("/reconciliation/runs", func(r chi.Router) {
			r.Post("/", controllers.RunReconciliation(svc.Reconcile, logg))
			r.Get("/", controllers.ListReconciliations(svc.Reconcile, logg))
			r.Get("/{id}", controllers.GetReconciliation(svc.Reconcile, logg))
		})
	})

	return r
}
