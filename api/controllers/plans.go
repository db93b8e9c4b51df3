package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/mfg-ledger-backend/api/middleware"
	"github.com/angelmondragon/mfg-ledger-backend/api/responses"
	"github.com/angelmondragon/mfg-ledger-backend/api/validators"
	"github.com/angelmondragon/mfg-ledger-backend/internal/bom"
	"github.com/angelmondragon/mfg-ledger-backend/internal/materials"
	"github.com/angelmondragon/mfg-ledger-backend/internal/production"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/db/models"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/logger"
)

// BOMService defines live BOMs and reads frozen snapshots.
type BOMService interface {
	DefineBOM(ctx context.Context, productID uuid.UUID, lines []bom.DefinitionLine) ([]models.BOMLine, error)
	Snapshot(ctx context.Context, planID uuid.UUID) ([]bom.Line, error)
}

// PlanService owns plans and production events.
type PlanService interface {
	CreatePlan(ctx context.Context, in production.CreatePlanInput) (production.PlanView, error)
	DeletePlan(ctx context.Context, planID uuid.UUID) error
	Plan(ctx context.Context, planID uuid.UUID) (production.PlanView, error)
	RecordProduction(ctx context.Context, in production.RecordInput) (production.RecordResult, error)
}

type bomLineRequest struct {
	Material        materials.Ref   `json:"material"`
	QuantityPerUnit decimal.Decimal `json:"quantityPerUnit" validate:"dpos"`
}

type defineBOMRequest struct {
	Lines []bomLineRequest `json:"lines" validate:"required,min=1,dive"`
}

// DefineBOM handles PUT /api/v1/products/{id}/bom.
func DefineBOM(svc BOMService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload defineBOMRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		lines := make([]bom.DefinitionLine, 0, len(payload.Lines))
		for _, line := range payload.Lines {
			lines = append(lines, bom.DefinitionLine{Material: line.Material, QuantityPerUnit: line.QuantityPerUnit})
		}
		saved, err := svc.DefineBOM(r.Context(), productID, lines)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"productId": productID, "lines": saved})
	}
}

// PlanSnapshot handles GET /api/v1/plans/{id}/snapshot.
func PlanSnapshot(svc BOMService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		planID, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		lines, err := svc.Snapshot(r.Context(), planID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"planId": planID, "lines": lines})
	}
}

type createPlanRequest struct {
	ProductID       string          `json:"productId" validate:"required,uuid"`
	OrderID         string          `json:"orderId,omitempty" validate:"omitempty,uuid"`
	PlannedQuantity decimal.Decimal `json:"plannedQuantity" validate:"dpos"`
	ActorID         string          `json:"actorId,omitempty"`
}

// CreatePlan handles POST /api/v1/plans.
func CreatePlan(svc PlanService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload createPlanRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		actorID, err := validators.ResolveActor(payload.ActorID, middleware.ActorIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input := production.CreatePlanInput{
			ProductID:       uuid.MustParse(payload.ProductID),
			PlannedQuantity: payload.PlannedQuantity,
			ActorID:         actorID,
		}
		if strings.TrimSpace(payload.OrderID) != "" {
			orderID := uuid.MustParse(payload.OrderID)
			input.OrderID = &orderID
		}

		view, err := svc.CreatePlan(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, view)
	}
}

// GetPlan handles GET /api/v1/plans/{id}.
func GetPlan(svc PlanService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		planID, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.Plan(r.Context(), planID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// DeletePlan handles DELETE /api/v1/plans/{id}.
func DeletePlan(svc PlanService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		planID, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.DeletePlan(r.Context(), planID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteNoContent(w)
	}
}

type recordProductionRequest struct {
	QuantityProduced decimal.Decimal `json:"quantityProduced"`
	OccurredAt       *time.Time      `json:"occurredAt,omitempty"`
	ActorID          string          `json:"actorId,omitempty"`
}

// RecordProduction handles POST /api/v1/plans/{id}/production. A stored event
// whose inline apply failed is answered with 202: the event exists and the
// retry pool owns it from here.
func RecordProduction(svc PlanService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		planID, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload recordProductionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		actorID, err := validators.ResolveActor(payload.ActorID, middleware.ActorIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input := production.RecordInput{
			PlanID:           planID,
			QuantityProduced: payload.QuantityProduced,
			ActorID:          actorID,
		}
		if payload.OccurredAt != nil {
			input.OccurredAt = *payload.OccurredAt
		}

		result, err := svc.RecordProduction(r.Context(), input)
		if err != nil {
			if result.EventID == uuid.Nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			if logg != nil {
				ctx := logg.WithEventID(logg.WithPlanID(r.Context(), planID.String()), result.EventID.String())
				logg.Warn(logg.WithField(ctx, "error", err.Error()), "production event stored, inline apply deferred to retry")
			}
			responses.WriteSuccessStatus(w, http.StatusAccepted, result)
			return
		}
		status := http.StatusCreated
		if result.Applied == nil {
			status = http.StatusAccepted
		}
		responses.WriteSuccessStatus(w, status, result)
	}
}
