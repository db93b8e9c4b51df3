package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/mfg-ledger-backend/api/middleware"
	"github.com/angelmondragon/mfg-ledger-backend/api/responses"
	"github.com/angelmondragon/mfg-ledger-backend/api/validators"
	"github.com/angelmondragon/mfg-ledger-backend/internal/ledger"
	"github.com/angelmondragon/mfg-ledger-backend/internal/materials"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/db/models"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/mfg-ledger-backend/pkg/errors"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/logger"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/pagination"
)

// LedgerService is the ledger surface the material routes need.
type LedgerService interface {
	CreateMaterial(ctx context.Context, in ledger.CreateMaterialInput) (materials.Stock, error)
	OnHand(ctx context.Context, ref materials.Ref) (materials.Stock, error)
	History(ctx context.Context, ref materials.Ref, params pagination.Params) (ledger.HistoryPage, error)
	Record(ctx context.Context, in ledger.RecordInput) (models.StockMovement, error)
	Reconstruct(ctx context.Context, ref materials.Ref) (ledger.Reconstruction, error)
}

type createMaterialRequest struct {
	Code            string           `json:"code" validate:"required,max=64"`
	Name            string           `json:"name" validate:"required,max=255"`
	Unit            string           `json:"unit" validate:"omitempty,max=16"`
	OpeningQuantity *decimal.Decimal `json:"openingQuantity,omitempty"`
	ActorID         string           `json:"actorId,omitempty"`
}

type stockResponse struct {
	materials.Stock
	Available decimal.Decimal `json:"availableQuantity"`
}

func newStockResponse(stock materials.Stock) stockResponse {
	return stockResponse{Stock: stock, Available: stock.Available()}
}

// CreateMaterial handles POST /api/v1/materials/{type}.
func CreateMaterial(svc LedgerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}
		typ, err := validators.ParseMaterialType(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload createMaterialRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		actorID, err := validators.ResolveActor(payload.ActorID, middleware.ActorIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input := ledger.CreateMaterialInput{
			Type:    typ,
			Code:    validators.CleanText(payload.Code, 64),
			Name:    validators.CleanText(payload.Name, 255),
			Unit:    validators.CleanText(payload.Unit, 16),
			ActorID: actorID,
		}
		if payload.OpeningQuantity != nil {
			input.OpeningQuantity = *payload.OpeningQuantity
		}

		stock, err := svc.CreateMaterial(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newStockResponse(stock))
	}
}

// MaterialStock handles GET /api/v1/materials/{type}/{id}.
func MaterialStock(svc LedgerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, err := validators.ParseMaterialRef(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		stock, err := svc.OnHand(r.Context(), ref)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newStockResponse(stock))
	}
}

// MaterialHistory handles GET /api/v1/materials/{type}/{id}/movements.
func MaterialHistory(svc LedgerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, err := validators.ParseMaterialRef(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.History(r.Context(), ref, pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

type recordMovementRequest struct {
	MovementType string           `json:"movementType" validate:"required"`
	Quantity     *decimal.Decimal `json:"quantity,omitempty"`
	TargetCount  *decimal.Decimal `json:"targetCount,omitempty"`
	Description  string           `json:"description" validate:"max=500"`
	ActorID      string           `json:"actorId,omitempty"`
}

func (p recordMovementRequest) toInput(ref materials.Ref) (ledger.RecordInput, error) {
	movementType, err := enums.ParseMovementType(strings.TrimSpace(p.MovementType))
	if err != nil {
		return ledger.RecordInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid movement type").WithDetails(map[string]any{"field": "movementType"})
	}
	in := ledger.RecordInput{
		Material:     ref,
		MovementType: movementType,
		TargetCount:  p.TargetCount,
		Description:  validators.CleanText(p.Description, 500),
	}
	if movementType == enums.MovementTypeCountAdjustment {
		if p.TargetCount == nil {
			return ledger.RecordInput{}, pkgerrors.New(pkgerrors.CodeValidation, "targetCount is required for count_adjustment").WithDetails(map[string]any{"field": "targetCount"})
		}
		return in, nil
	}
	if p.Quantity == nil {
		return ledger.RecordInput{}, pkgerrors.New(pkgerrors.CodeValidation, "quantity is required").WithDetails(map[string]any{"field": "quantity"})
	}
	in.Quantity = *p.Quantity
	return in, nil
}

// RecordMovement handles POST /api/v1/materials/{type}/{id}/movements.
func RecordMovement(svc LedgerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, err := validators.ParseMaterialRef(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload recordMovementRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input, err := payload.toInput(ref)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input.ActorID, err = validators.ResolveActor(payload.ActorID, middleware.ActorIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		movement, err := svc.Record(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, movement)
	}
}

// MaterialReconstruction handles GET /api/v1/materials/{type}/{id}/reconstruction.
func MaterialReconstruction(svc LedgerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, err := validators.ParseMaterialRef(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out, err := svc.Reconstruct(r.Context(), ref)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, out)
	}
}
