package controllers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/mfg-ledger-backend/internal/bom"
	"github.com/angelmondragon/mfg-ledger-backend/internal/materials"
	"github.com/angelmondragon/mfg-ledger-backend/internal/production"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/db/models"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/mfg-ledger-backend/pkg/errors"
)

func TestDefineBOM(t *testing.T) {
	productID := uuid.New()
	steel := materials.Raw(uuid.New())
	var got []bom.DefinitionLine
	svc := &fakeBOM{defineFn: func(_ context.Context, id uuid.UUID, lines []bom.DefinitionLine) ([]models.BOMLine, error) {
		assert.Equal(t, productID, id)
		got = lines
		return []models.BOMLine{{ID: uuid.New(), ProductID: id}}, nil
	}}
	body := `{"lines":[{"material":{"type":"raw","id":"` + steel.ID.String() + `"},"quantityPerUnit":"0.25"}]}`
	rec := httptest.NewRecorder()
	DefineBOM(svc, testLogger()).ServeHTTP(rec, newRequest(http.MethodPut, "/", body, map[string]string{"id": productID.String()}))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, got, 1)
	assert.Equal(t, steel, got[0].Material)
	assert.True(t, got[0].QuantityPerUnit.Equal(decimal.RequireFromString("0.25")))

	rec = httptest.NewRecorder()
	DefineBOM(svc, testLogger()).ServeHTTP(rec, newRequest(http.MethodPut, "/", `{"lines":[]}`, map[string]string{"id": productID.String()}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlanSnapshotMissing(t *testing.T) {
	svc := &fakeBOM{snapshotFn: func(context.Context, uuid.UUID) ([]bom.Line, error) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "snapshot not found")
	}}
	rec := httptest.NewRecorder()
	PlanSnapshot(svc, testLogger()).ServeHTTP(rec, newRequest(http.MethodGet, "/", "", map[string]string{"id": uuid.NewString()}))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreatePlan(t *testing.T) {
	productID := uuid.New()
	orderID := uuid.New()
	actor := uuid.New()

	var got production.CreatePlanInput
	svc := &fakePlans{createFn: func(_ context.Context, in production.CreatePlanInput) (production.PlanView, error) {
		got = in
		return production.PlanView{Plan: models.ProductionPlan{ID: uuid.New(), ProductID: in.ProductID}}, nil
	}}
	body := `{"productId":"` + productID.String() + `","orderId":"` + orderID.String() + `","plannedQuantity":"500","actorId":"` + actor.String() + `"}`
	rec := httptest.NewRecorder()
	CreatePlan(svc, testLogger()).ServeHTTP(rec, newRequest(http.MethodPost, "/api/v1/plans", body, nil))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, productID, got.ProductID)
	require.NotNil(t, got.OrderID)
	assert.Equal(t, orderID, *got.OrderID)
	assert.True(t, got.PlannedQuantity.Equal(decimal.RequireFromString("500")))

	rec = httptest.NewRecorder()
	CreatePlan(svc, testLogger()).ServeHTTP(rec, newRequest(http.MethodPost, "/api/v1/plans", `{"productId":"nope","plannedQuantity":"1","actorId":"`+actor.String()+`"}`, nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "must be a uuid", decode(t, rec).Error.Details["productId"])
}

func TestDeletePlanConflict(t *testing.T) {
	svc := &fakePlans{deleteFn: func(context.Context, uuid.UUID) error {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "plan has applied production events")
	}}
	rec := httptest.NewRecorder()
	DeletePlan(svc, testLogger()).ServeHTTP(rec, newRequest(http.MethodDelete, "/", "", map[string]string{"id": uuid.NewString()}))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	svc.deleteFn = func(context.Context, uuid.UUID) error { return nil }
	rec = httptest.NewRecorder()
	DeletePlan(svc, testLogger()).ServeHTTP(rec, newRequest(http.MethodDelete, "/", "", map[string]string{"id": uuid.NewString()}))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRecordProduction(t *testing.T) {
	planID := uuid.New()
	actor := uuid.New()
	params := map[string]string{"id": planID.String()}
	body := `{"quantityProduced":"100","occurredAt":"2026-03-01T08:00:00Z","actorId":"` + actor.String() + `"}`

	t.Run("applied inline", func(t *testing.T) {
		var got production.RecordInput
		svc := &fakePlans{recordFn: func(_ context.Context, in production.RecordInput) (production.RecordResult, error) {
			got = in
			return production.RecordResult{EventID: uuid.New(), Status: enums.ProductionEventLinked, Applied: &production.Result{Outcome: "applied"}}, nil
		}}
		rec := httptest.NewRecorder()
		RecordProduction(svc, testLogger()).ServeHTTP(rec, newRequest(http.MethodPost, "/", body, params))

		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.Equal(t, planID, got.PlanID)
		assert.Equal(t, actor, got.ActorID)
		assert.True(t, got.OccurredAt.Equal(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)))
	})

	t.Run("queued for worker", func(t *testing.T) {
		svc := &fakePlans{recordFn: func(context.Context, production.RecordInput) (production.RecordResult, error) {
			return production.RecordResult{EventID: uuid.New(), Status: enums.ProductionEventReceived}, nil
		}}
		rec := httptest.NewRecorder()
		RecordProduction(svc, testLogger()).ServeHTTP(rec, newRequest(http.MethodPost, "/", body, params))
		assert.Equal(t, http.StatusAccepted, rec.Code)
	})

	t.Run("inline failure keeps event", func(t *testing.T) {
		eventID := uuid.New()
		svc := &fakePlans{recordFn: func(context.Context, production.RecordInput) (production.RecordResult, error) {
			return production.RecordResult{EventID: eventID, Status: enums.ProductionEventFailed}, pkgerrors.New(pkgerrors.CodeTransient, "lock timeout")
		}}
		rec := httptest.NewRecorder()
		RecordProduction(svc, testLogger()).ServeHTTP(rec, newRequest(http.MethodPost, "/", body, params))
		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.Contains(t, string(decode(t, rec).Data), eventID.String())
	})

	t.Run("rejected before storing", func(t *testing.T) {
		svc := &fakePlans{recordFn: func(context.Context, production.RecordInput) (production.RecordResult, error) {
			return production.RecordResult{}, pkgerrors.Wrap(pkgerrors.CodeStateConflict, errors.New("plan completed"), "plan is completed")
		}}
		rec := httptest.NewRecorder()
		RecordProduction(svc, testLogger()).ServeHTTP(rec, newRequest(http.MethodPost, "/", body, params))
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}
