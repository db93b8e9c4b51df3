package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/mfg-ledger-backend/api/responses"
	"github.com/angelmondragon/mfg-ledger-backend/api/validators"
	"github.com/angelmondragon/mfg-ledger-backend/internal/reconcile"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/logger"
)

// ReconcileService runs and lists reconciliation passes.
type ReconcileService interface {
	Run(ctx context.Context, opts reconcile.Options) (reconcile.Report, error)
	Reports(ctx context.Context, limit int) ([]reconcile.Report, error)
	Report(ctx context.Context, id uuid.UUID) (reconcile.Report, error)
}

type runReconcileRequest struct {
	Limit      int   `json:"limit,omitempty" validate:"omitempty,min=1,max=5000"`
	LinkLegacy *bool `json:"linkLegacy,omitempty"`
}

// RunReconciliation handles POST /api/v1/reconciliation/runs. The body is
// optional; since may be passed as a query parameter. Per-event failures are
// part of the report, so a run that produced one answers 200 with it.
func RunReconciliation(svc ReconcileService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload runReconcileRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		since, err := validators.ParseQueryTime(r, "since")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		report, err := svc.Run(r.Context(), reconcile.Options{
			Limit:      payload.Limit,
			Since:      since,
			LinkLegacy: payload.LinkLegacy,
			Trigger:    reconcile.TriggerManual,
		})
		if err != nil && report.ID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, report)
	}
}

// ListReconciliations handles GET /api/v1/reconciliation/runs.
func ListReconciliations(svc ReconcileService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", 20, 1, 100)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reports, err := svc.Reports(r.Context(), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if reports == nil {
			reports = []reconcile.Report{}
		}
		responses.WriteSuccess(w, map[string]any{"runs": reports})
	}
}

// GetReconciliation handles GET /api/v1/reconciliation/runs/{id}.
func GetReconciliation(svc ReconcileService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		report, err := svc.Report(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, report)
	}
}
