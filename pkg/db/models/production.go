package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/mfg-ledger-backend/pkg/enums"
)

// ProductionPlan is a confirmed order to manufacture PlannedQuantity units of a
// finished product.
type ProductionPlan struct {
	ID               uuid.UUID        `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OrderID          *uuid.UUID       `gorm:"column:order_id;type:uuid;index" json:"orderId,omitempty"`
	ProductID        uuid.UUID        `gorm:"column:product_id;type:uuid;not null" json:"productId"`
	PlannedQuantity  decimal.Decimal  `gorm:"column:planned_quantity;type:numeric(18,4);not null" json:"plannedQuantity"`
	ProducedQuantity decimal.Decimal  `gorm:"column:produced_quantity;type:numeric(18,4);not null" json:"producedQuantity"`
	Status           enums.PlanStatus `gorm:"column:status;type:plan_status_enum;not null" json:"status"`
	CreatedBy        uuid.UUID        `gorm:"column:created_by;type:uuid;not null" json:"createdBy"`
	CompletedAt      *time.Time       `gorm:"column:completed_at" json:"completedAt,omitempty"`
	CreatedAt        time.Time        `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt        time.Time        `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (ProductionPlan) TableName() string { return "production_plans" }

// ProductionEvent is one reported batch of produced units.
type ProductionEvent struct {
	ID               uuid.UUID                   `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	PlanID           uuid.UUID                   `gorm:"column:plan_id;type:uuid;not null;index" json:"planId"`
	QuantityProduced decimal.Decimal             `gorm:"column:quantity_produced;type:numeric(18,4);not null" json:"quantityProduced"`
	ActorID          uuid.UUID                   `gorm:"column:actor_id;type:uuid;not null" json:"actorId"`
	OccurredAt       time.Time                   `gorm:"column:occurred_at;not null" json:"occurredAt"`
	Status           enums.ProductionEventStatus `gorm:"column:status;type:production_event_status_enum;not null;index:idx_production_events_status_created,priority:1" json:"status"`
	Attempts         int                         `gorm:"column:attempts;not null;default:0" json:"attempts"`
	LastError        *string                     `gorm:"column:last_error" json:"lastError,omitempty"`
	AppliedAt        *time.Time                  `gorm:"column:applied_at" json:"appliedAt,omitempty"`
	CreatedAt        time.Time                   `gorm:"column:created_at;autoCreateTime;index:idx_production_events_status_created,priority:2" json:"createdAt"`
	UpdatedAt        time.Time                   `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (ProductionEvent) TableName() string { return "production_events" }
