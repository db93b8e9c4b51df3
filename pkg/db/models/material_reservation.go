package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/mfg-ledger-backend/pkg/enums"
)

// MaterialReservation holds stock for an order. ReservedQuantity is the
// outstanding hold; OriginalQuantity is what was reserved at creation, so while
// the reservation is active Reserved + Consumed == Original.
type MaterialReservation struct {
	ID               uuid.UUID               `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OrderID          uuid.UUID               `gorm:"column:order_id;type:uuid;not null;index" json:"orderId"`
	PlanID           *uuid.UUID              `gorm:"column:plan_id;type:uuid;index" json:"planId,omitempty"`
	MaterialType     enums.MaterialType      `gorm:"column:material_type;type:material_type_enum;not null" json:"materialType"`
	MaterialID       uuid.UUID               `gorm:"column:material_id;type:uuid;not null" json:"materialId"`
	OriginalQuantity decimal.Decimal         `gorm:"column:original_quantity;type:numeric(18,4);not null" json:"originalQuantity"`
	ReservedQuantity decimal.Decimal         `gorm:"column:reserved_quantity;type:numeric(18,4);not null" json:"reservedQuantity"`
	ConsumedQuantity decimal.Decimal         `gorm:"column:consumed_quantity;type:numeric(18,4);not null" json:"consumedQuantity"`
	Status           enums.ReservationStatus `gorm:"column:status;type:reservation_status_enum;not null" json:"status"`
	ClosedAt         *time.Time              `gorm:"column:closed_at" json:"closedAt,omitempty"`
	CreatedAt        time.Time               `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt        time.Time               `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (MaterialReservation) TableName() string { return "material_reservations" }
