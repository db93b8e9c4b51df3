package enums

import "slices"

// OutboxAggregateType maps to the aggregate_type column of outbox_events.
type OutboxAggregateType string

const (
	AggregateProductionPlan  OutboxAggregateType = "production_plan"
	AggregateProductionEvent OutboxAggregateType = "production_event"
	AggregateOrder           OutboxAggregateType = "order"
	AggregateMaterial        OutboxAggregateType = "material"
	AggregateReconciliation  OutboxAggregateType = "reconciliation_run"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateProductionPlan,
	AggregateProductionEvent,
	AggregateOrder,
	AggregateMaterial,
	AggregateReconciliation,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	return slices.Contains(validAggregateTypes, a)
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return parse("aggregate type", validAggregateTypes, value)
}

// OutboxEventType maps to the event_type column of outbox_events.
type OutboxEventType string

const (
	EventProductionRecorded      OutboxEventType = "production_event_recorded"
	EventProductionApplied       OutboxEventType = "production_event_applied"
	EventProductionPlanCreated   OutboxEventType = "production_plan_created"
	EventProductionPlanCompleted OutboxEventType = "production_plan_completed"
	EventReservationsCreated     OutboxEventType = "reservations_created"
	EventReservationReleased     OutboxEventType = "reservation_released"
	EventStockMovementRecorded   OutboxEventType = "stock_movement_recorded"
	EventReconciliationCompleted OutboxEventType = "reconciliation_completed"
)

var validOutboxEventTypes = []OutboxEventType{
	EventProductionRecorded,
	EventProductionApplied,
	EventProductionPlanCreated,
	EventProductionPlanCompleted,
	EventReservationsCreated,
	EventReservationReleased,
	EventStockMovementRecorded,
	EventReconciliationCompleted,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	return slices.Contains(validOutboxEventTypes, e)
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return parse("event type", validOutboxEventTypes, value)
}

// OutboxDLQErrorReason records why the dispatcher stopped retrying a row.
type OutboxDLQErrorReason string

const (
	// OutboxDLQReasonMaxAttempts means publishing kept failing until the
	// configured attempt budget ran out.
	OutboxDLQReasonMaxAttempts OutboxDLQErrorReason = "max_attempts"
	// OutboxDLQReasonNonRetryable means the row could not be decoded or routed.
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

// IsValid reports whether the value matches outbox_dlq_error_reason_enum.
var validDLQReasons = []OutboxDLQErrorReason{
	OutboxDLQReasonMaxAttempts,
	OutboxDLQReasonNonRetryable,
}

func (r OutboxDLQErrorReason) IsValid() bool {
	return slices.Contains(validDLQReasons, r)
}

// ParseOutboxDLQErrorReason converts raw input into OutboxDLQErrorReason.
func ParseOutboxDLQErrorReason(value string) (OutboxDLQErrorReason, error) {
	return parse("dead letter reason", validDLQReasons, value)
}
