package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/mfg-ledger-backend/pkg/enums"
)

// ProductionRecordedEvent carries a production event to the ledger worker.
type ProductionRecordedEvent struct {
	ProductionEventID uuid.UUID       `json:"production_event_id"`
	PlanID            uuid.UUID       `json:"plan_id"`
	QuantityProduced  decimal.Decimal `json:"quantity_produced"`
	ActorID           uuid.UUID       `json:"actor_id"`
	OccurredAt        time.Time       `json:"occurred_at"`
}

// ProductionAppliedEvent is emitted once the ledger holds the event's movements.
type ProductionAppliedEvent struct {
	ProductionEventID uuid.UUID       `json:"production_event_id"`
	PlanID            uuid.UUID       `json:"plan_id"`
	QuantityProduced  decimal.Decimal `json:"quantity_produced"`
	MovementIDs       []uuid.UUID     `json:"movement_ids"`
	Skipped           []MaterialLine  `json:"skipped,omitempty"`
	Synthesized       bool            `json:"synthesized"`
}

// ProductionPlanCreatedEvent announces a plan with its frozen snapshot.
type ProductionPlanCreatedEvent struct {
	PlanID          uuid.UUID       `json:"plan_id"`
	ProductID       uuid.UUID       `json:"product_id"`
	OrderID         *uuid.UUID      `json:"order_id,omitempty"`
	PlannedQuantity decimal.Decimal `json:"planned_quantity"`
	Snapshot        []MaterialLine  `json:"snapshot"`
}

// ProductionPlanCompletedEvent fires when produced quantity reaches the plan.
type ProductionPlanCompletedEvent struct {
	PlanID           uuid.UUID       `json:"plan_id"`
	ProducedQuantity decimal.Decimal `json:"produced_quantity"`
	CompletedAt      time.Time       `json:"completed_at"`
}

// ReservationsCreatedEvent lists the holds placed for an order or plan.
type ReservationsCreatedEvent struct {
	OrderID        uuid.UUID      `json:"order_id"`
	PlanID         *uuid.UUID     `json:"plan_id,omitempty"`
	ReservationIDs []uuid.UUID    `json:"reservation_ids"`
	Lines          []MaterialLine `json:"lines"`
}

// ReservationReleasedEvent reports a hold returned to available stock.
type ReservationReleasedEvent struct {
	ReservationID uuid.UUID               `json:"reservation_id"`
	OrderID       uuid.UUID               `json:"order_id"`
	MaterialType  enums.MaterialType      `json:"material_type"`
	MaterialID    uuid.UUID               `json:"material_id"`
	Released      decimal.Decimal         `json:"released"`
	Status        enums.ReservationStatus `json:"status"`
}

// StockMovementRecordedEvent mirrors a manual ledger entry.
type StockMovementRecordedEvent struct {
	MovementID     uuid.UUID          `json:"movement_id"`
	MaterialType   enums.MaterialType `json:"material_type"`
	MaterialID     uuid.UUID          `json:"material_id"`
	MovementType   enums.MovementType `json:"movement_type"`
	Quantity       decimal.Decimal    `json:"quantity"`
	BeforeQuantity decimal.Decimal    `json:"before_quantity"`
	AfterQuantity  decimal.Decimal    `json:"after_quantity"`
}

// ReconciliationCompletedEvent summarizes a reconciliation run.
type ReconciliationCompletedEvent struct {
	ReportID         uuid.UUID `json:"report_id"`
	Trigger          string    `json:"trigger"`
	EventsScanned    int       `json:"events_scanned"`
	GapsFound        int       `json:"gaps_found"`
	MovementsCreated int       `json:"movements_created"`
	LinksAttached    int       `json:"links_attached"`
	Conflicts        int       `json:"conflicts"`
	Errors           int       `json:"errors"`
}

type MaterialLine struct {
	MaterialType enums.MaterialType `json:"material_type"`
	MaterialID   uuid.UUID          `json:"material_id"`
	Quantity     decimal.Decimal    `json:"quantity"`
}
