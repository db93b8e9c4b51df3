package production

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/mfg-ledger-backend/internal/bom"
	"github.com/angelmondragon/mfg-ledger-backend/internal/materials"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/db/models"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/mfg-ledger-backend/pkg/errors"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/outbox/payloads"
)

func TestCreatePlanCapturesSnapshotAndReserves(t *testing.T) {
	f := newFixture(t, true)
	orderID := uuid.New()

	view, err := f.svc.CreatePlan(context.Background(), CreatePlanInput{
		ProductID:       f.product.ID,
		OrderID:         &orderID,
		PlannedQuantity: dec("40"),
		ActorID:         f.actor,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.PlanStatusPlanned, view.Plan.Status)
	require.Len(t, view.Snapshot, 2)
	assert.Len(t, view.ReservationIDs, 2)
	assert.True(t, f.stock(t, f.steel).Reserved.Equal(dec("40")))
	assert.True(t, f.stock(t, f.paint).Reserved.Equal(dec("10")))

	created := f.emitter.ofType(enums.EventProductionPlanCreated)
	require.Len(t, created, 1)
	body, ok := created[0].Data.(payloads.ProductionPlanCreatedEvent)
	require.True(t, ok)
	assert.Len(t, body.Snapshot, 2)
}

func TestCreatePlanWithoutBOMIsRefused(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	stool, err := f.registry.Create(f.client.DB(), enums.MaterialTypeFinished, materials.CreateInput{Code: "STOOL", Name: "Stool"})
	require.NoError(t, err)

	_, err = f.svc.CreatePlan(ctx, CreatePlanInput{ProductID: stool.Ref.ID, PlannedQuantity: dec("5"), ActorID: f.actor})
	require.Error(t, err)
	var snapErr *bom.SnapshotError
	assert.ErrorAs(t, err, &snapErr)

	var plans int64
	require.NoError(t, f.client.DB().Model(&models.ProductionPlan{}).Count(&plans).Error)
	assert.Zero(t, plans)
}

func TestCreatePlanValidation(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.svc.CreatePlan(ctx, CreatePlanInput{ProductID: f.product.ID, PlannedQuantity: dec("0"), ActorID: f.actor})
	assert.ErrorIs(t, err, bom.ErrInvalidPlan)

	_, err = f.svc.CreatePlan(ctx, CreatePlanInput{ProductID: uuid.New(), PlannedQuantity: dec("3"), ActorID: f.actor})
	assert.ErrorIs(t, err, materials.ErrMaterialNotFound)
}

func TestRecordProductionQueuesForWorker(t *testing.T) {
	f := newFixture(t, false)
	plan := f.createPlan(t, "10", nil)

	res := f.record(t, plan.ID, "3")
	assert.Equal(t, enums.ProductionEventReceived, res.Status)
	assert.Nil(t, res.Applied)
	assert.Empty(t, f.movements(t, f.product, enums.MovementTypeProduction))

	queued := f.emitter.ofType(enums.EventProductionRecorded)
	require.Len(t, queued, 1)
	assert.Equal(t, res.EventID, queued[0].AggregateID)
}

func TestRecordProductionRejections(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	plan := f.createPlan(t, "2", nil)

	_, err := f.svc.RecordProduction(ctx, RecordInput{PlanID: plan.ID, QuantityProduced: dec("-1"), ActorID: f.actor})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	_, err = f.svc.RecordProduction(ctx, RecordInput{PlanID: uuid.New(), QuantityProduced: dec("1"), ActorID: f.actor})
	assert.ErrorIs(t, err, ErrPlanNotFound)

	f.record(t, plan.ID, "2")
	_, err = f.svc.RecordProduction(ctx, RecordInput{PlanID: plan.ID, QuantityProduced: dec("1"), ActorID: f.actor})
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err), "completed plans take no more production")
}

func TestRecordProductionInlineFailureKeepsEvent(t *testing.T) {
	f := newFixture(t, true)
	plan := f.createPlan(t, "10", nil)
	require.NoError(t, f.client.DB().Where("plan_id = ?", plan.ID).Delete(&models.BOMSnapshotLine{}).Error)

	res, err := f.svc.RecordProduction(context.Background(), RecordInput{PlanID: plan.ID, QuantityProduced: dec("1"), ActorID: f.actor})
	require.Error(t, err)
	assert.NotEqual(t, uuid.Nil, res.EventID)
	assert.Equal(t, enums.ProductionEventFailed, res.Status)
	assert.Equal(t, enums.ProductionEventFailed, f.event(t, res.EventID).Status)
}

func TestDeletePlan(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	orderID := uuid.New()
	plan := f.createPlan(t, "20", &orderID)

	require.NoError(t, f.svc.DeletePlan(ctx, plan.ID))
	assert.True(t, f.stock(t, f.steel).Reserved.IsZero())
	_, err := f.svc.Plan(ctx, plan.ID)
	assert.ErrorIs(t, err, ErrPlanNotFound)

	var lines int64
	require.NoError(t, f.client.DB().Model(&models.BOMSnapshotLine{}).Where("plan_id = ?", plan.ID).Count(&lines).Error)
	assert.Zero(t, lines)
}

func TestDeletePlanRefusedAfterProduction(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	plan := f.createPlan(t, "20", nil)
	f.record(t, plan.ID, "1")

	err := f.svc.DeletePlan(ctx, plan.ID)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))

	view, err := f.svc.Plan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Len(t, view.Events, 1)
	assert.Equal(t, enums.PlanStatusInProgress, view.Plan.Status)
	assert.True(t, view.Plan.ProducedQuantity.Equal(dec("1")))
}
