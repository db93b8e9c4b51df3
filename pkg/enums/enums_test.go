package enums

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaterialType(t *testing.T) {
	got, err := ParseMaterialType("semi")
	require.NoError(t, err)
	assert.Equal(t, MaterialTypeSemi, got)
	assert.True(t, got.IsConsumable())
	assert.False(t, MaterialTypeFinished.IsConsumable())

	_, err = ParseMaterialType("Semi")
	assert.Error(t, err)
	assert.False(t, MaterialType("liquid").IsValid())
}

func TestMovementTypeManual(t *testing.T) {
	for _, mt := range []MovementType{MovementTypeEntry, MovementTypeExit, MovementTypeCountAdjustment, MovementTypeTransfer, MovementTypeSale} {
		assert.True(t, mt.IsManual(), mt)
	}
	for _, mt := range []MovementType{MovementTypeProduction, MovementTypeConsumption, MovementTypeReservationRelease} {
		assert.True(t, mt.IsValid(), mt)
		assert.False(t, mt.IsManual(), mt)
	}
	_, err := ParseMovementType("teleport")
	assert.Error(t, err)
}

func TestPlanStatusAcceptsProduction(t *testing.T) {
	assert.True(t, PlanStatusPlanned.AcceptsProduction())
	assert.True(t, PlanStatusInProgress.AcceptsProduction())
	assert.False(t, PlanStatusCompleted.AcceptsProduction())
	assert.False(t, PlanStatusCancelled.AcceptsProduction())

	got, err := ParsePlanStatus("in_progress")
	require.NoError(t, err)
	assert.Equal(t, PlanStatusInProgress, got)
}

func TestProductionEventStatusPersisted(t *testing.T) {
	persisted := map[ProductionEventStatus]bool{
		ProductionEventReceived:   true,
		ProductionEventAllocating: false,
		ProductionEventCrediting:  false,
		ProductionEventDebiting:   false,
		ProductionEventLinked:     true,
		ProductionEventFailed:     true,
	}
	for status, want := range persisted {
		assert.True(t, status.IsValid(), status)
		assert.Equal(t, want, status.IsPersisted(), status)
	}
	_, err := ParseProductionEventStatus("done")
	assert.Error(t, err)
}

func TestReservationStatusTerminal(t *testing.T) {
	assert.False(t, ReservationStatusActive.IsTerminal())
	assert.True(t, ReservationStatusCompleted.IsTerminal())
	assert.True(t, ReservationStatusCancelled.IsTerminal())

	_, err := ParseReservationStatus("expired")
	assert.Error(t, err)
}

func TestOutboxTypes(t *testing.T) {
	got, err := ParseOutboxEventType("production_event_recorded")
	require.NoError(t, err)
	assert.Equal(t, EventProductionRecorded, got)

	agg, err := ParseOutboxAggregateType("reconciliation_run")
	require.NoError(t, err)
	assert.True(t, agg.IsValid())

	assert.False(t, OutboxEventType("order_paid").IsValid())
	assert.True(t, OutboxDLQReasonMaxAttempts.IsValid())
	assert.False(t, OutboxDLQErrorReason("timeout").IsValid())
	reason, err := ParseOutboxDLQErrorReason("non_retryable")
	require.NoError(t, err)
	assert.Equal(t, OutboxDLQReasonNonRetryable, reason)
}
