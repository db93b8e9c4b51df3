package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/mfg-ledger-backend/api/responses"
	"github.com/angelmondragon/mfg-ledger-backend/api/validators"
	"github.com/angelmondragon/mfg-ledger-backend/internal/materials"
	"github.com/angelmondragon/mfg-ledger-backend/internal/reservations"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/db/models"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/logger"
)

// ReservationService places and releases order holds.
type ReservationService interface {
	ReserveForOrder(ctx context.Context, orderID uuid.UUID, lines []reservations.Line) ([]uuid.UUID, error)
	CancelReservations(ctx context.Context, orderID uuid.UUID) (reservations.CancelResult, error)
	Totals(ctx context.Context, orderID uuid.UUID) (reservations.Totals, error)
	List(ctx context.Context, orderID uuid.UUID) ([]models.MaterialReservation, error)
}

type reserveLineRequest struct {
	Material materials.Ref   `json:"material"`
	Quantity decimal.Decimal `json:"quantity" validate:"dpos"`
}

type reserveRequest struct {
	Lines []reserveLineRequest `json:"lines" validate:"required,min=1,dive"`
}

// ReserveForOrder handles POST /api/v1/orders/{id}/reservations.
func ReserveForOrder(svc ReservationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload reserveRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		lines := make([]reservations.Line, 0, len(payload.Lines))
		for _, line := range payload.Lines {
			lines = append(lines, reservations.Line{Material: line.Material, Quantity: line.Quantity})
		}
		ids, err := svc.ReserveForOrder(r.Context(), orderID, lines)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]any{
			"orderId":        orderID,
			"reservationIds": ids,
		})
	}
}

// CancelReservations handles DELETE /api/v1/orders/{id}/reservations.
func CancelReservations(svc ReservationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.CancelReservations(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

type orderReservationsResponse struct {
	reservations.Totals
	Reservations []models.MaterialReservation `json:"reservations"`
}

// OrderReservations handles GET /api/v1/orders/{id}/reservations.
func OrderReservations(svc ReservationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		totals, err := svc.Totals(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.List(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if rows == nil {
			rows = []models.MaterialReservation{}
		}
		responses.WriteSuccess(w, orderReservationsResponse{Totals: totals, Reservations: rows})
	}
}
