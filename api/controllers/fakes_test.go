package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/mfg-ledger-backend/internal/bom"
	"github.com/angelmondragon/mfg-ledger-backend/internal/ledger"
	"github.com/angelmondragon/mfg-ledger-backend/internal/materials"
	"github.com/angelmondragon/mfg-ledger-backend/internal/production"
	"github.com/angelmondragon/mfg-ledger-backend/internal/reconcile"
	"github.com/angelmondragon/mfg-ledger-backend/internal/reservations"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/db/models"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/logger"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/pagination"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Level: "debug", Output: io.Discard})
}

// newRequest builds a request with chi URL params already resolved.
func newRequest(method, target, body string, params map[string]string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rc := chi.NewRouteContext()
	for k, v := range params {
		rc.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

type fakeLedger struct {
	createFn      func(context.Context, ledger.CreateMaterialInput) (materials.Stock, error)
	onHandFn      func(context.Context, materials.Ref) (materials.Stock, error)
	historyFn     func(context.Context, materials.Ref, pagination.Params) (ledger.HistoryPage, error)
	recordFn      func(context.Context, ledger.RecordInput) (models.StockMovement, error)
	reconstructFn func(context.Context, materials.Ref) (ledger.Reconstruction, error)
}

func (f *fakeLedger) CreateMaterial(ctx context.Context, in ledger.CreateMaterialInput) (materials.Stock, error) {
	return f.createFn(ctx, in)
}

func (f *fakeLedger) OnHand(ctx context.Context, ref materials.Ref) (materials.Stock, error) {
	return f.onHandFn(ctx, ref)
}

func (f *fakeLedger) History(ctx context.Context, ref materials.Ref, params pagination.Params) (ledger.HistoryPage, error) {
	return f.historyFn(ctx, ref, params)
}

func (f *fakeLedger) Record(ctx context.Context, in ledger.RecordInput) (models.StockMovement, error) {
	return f.recordFn(ctx, in)
}

func (f *fakeLedger) Reconstruct(ctx context.Context, ref materials.Ref) (ledger.Reconstruction, error) {
	return f.reconstructFn(ctx, ref)
}

type fakeBOM struct {
	defineFn   func(context.Context, uuid.UUID, []bom.DefinitionLine) ([]models.BOMLine, error)
	snapshotFn func(context.Context, uuid.UUID) ([]bom.Line, error)
}

func (f *fakeBOM) DefineBOM(ctx context.Context, productID uuid.UUID, lines []bom.DefinitionLine) ([]models.BOMLine, error) {
	return f.defineFn(ctx, productID, lines)
}

func (f *fakeBOM) Snapshot(ctx context.Context, planID uuid.UUID) ([]bom.Line, error) {
	return f.snapshotFn(ctx, planID)
}

type fakePlans struct {
	createFn func(context.Context, production.CreatePlanInput) (production.PlanView, error)
	deleteFn func(context.Context, uuid.UUID) error
	planFn   func(context.Context, uuid.UUID) (production.PlanView, error)
	recordFn func(context.Context, production.RecordInput) (production.RecordResult, error)
}

func (f *fakePlans) CreatePlan(ctx context.Context, in production.CreatePlanInput) (production.PlanView, error) {
	return f.createFn(ctx, in)
}

func (f *fakePlans) DeletePlan(ctx context.Context, planID uuid.UUID) error {
	return f.deleteFn(ctx, planID)
}

func (f *fakePlans) Plan(ctx context.Context, planID uuid.UUID) (production.PlanView, error) {
	return f.planFn(ctx, planID)
}

func (f *fakePlans) RecordProduction(ctx context.Context, in production.RecordInput) (production.RecordResult, error) {
	return f.recordFn(ctx, in)
}

type fakeReservations struct {
	reserveFn func(context.Context, uuid.UUID, []reservations.Line) ([]uuid.UUID, error)
	cancelFn  func(context.Context, uuid.UUID) (reservations.CancelResult, error)
	totalsFn  func(context.Context, uuid.UUID) (reservations.Totals, error)
	listFn    func(context.Context, uuid.UUID) ([]models.MaterialReservation, error)
}

func (f *fakeReservations) ReserveForOrder(ctx context.Context, orderID uuid.UUID, lines []reservations.Line) ([]uuid.UUID, error) {
	return f.reserveFn(ctx, orderID, lines)
}

func (f *fakeReservations) CancelReservations(ctx context.Context, orderID uuid.UUID) (reservations.CancelResult, error) {
	return f.cancelFn(ctx, orderID)
}

func (f *fakeReservations) Totals(ctx context.Context, orderID uuid.UUID) (reservations.Totals, error) {
	return f.totalsFn(ctx, orderID)
}

func (f *fakeReservations) List(ctx context.Context, orderID uuid.UUID) ([]models.MaterialReservation, error) {
	return f.listFn(ctx, orderID)
}

type fakeReconcile struct {
	runFn     func(context.Context, reconcile.Options) (reconcile.Report, error)
	reportsFn func(context.Context, int) ([]reconcile.Report, error)
	reportFn  func(context.Context, uuid.UUID) (reconcile.Report, error)
}

func (f *fakeReconcile) Run(ctx context.Context, opts reconcile.Options) (reconcile.Report, error) {
	return f.runFn(ctx, opts)
}

func (f *fakeReconcile) Reports(ctx context.Context, limit int) ([]reconcile.Report, error) {
	return f.reportsFn(ctx, limit)
}

func (f *fakeReconcile) Report(ctx context.Context, id uuid.UUID) (reconcile.Report, error) {
	return f.reportFn(ctx, id)
}
