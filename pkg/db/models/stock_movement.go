package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/mfg-ledger-backend/pkg/enums"
)

// StockMovementEventMaterialIndex enforces one movement per production event and
// material.
const StockMovementEventMaterialIndex = "ux_stock_movements_event_material"

// StockMovement is an append-only ledger entry. AfterQuantity always equals
// BeforeQuantity plus the signed Quantity.
type StockMovement struct {
	ID                uuid.UUID          `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	MaterialType      enums.MaterialType `gorm:"column:material_type;type:material_type_enum;not null;uniqueIndex:ux_stock_movements_event_material,priority:2;index:idx_stock_movements_material,priority:1" json:"materialType"`
	MaterialID        uuid.UUID          `gorm:"column:material_id;type:uuid;not null;uniqueIndex:ux_stock_movements_event_material,priority:3;index:idx_stock_movements_material,priority:2" json:"materialId"`
	MovementType      enums.MovementType `gorm:"column:movement_type;type:movement_type_enum;not null" json:"movementType"`
	Quantity          decimal.Decimal    `gorm:"column:quantity;type:numeric(18,4);not null" json:"quantity"`
	BeforeQuantity    decimal.Decimal    `gorm:"column:before_quantity;type:numeric(18,4);not null" json:"beforeQuantity"`
	AfterQuantity     decimal.Decimal    `gorm:"column:after_quantity;type:numeric(18,4);not null" json:"afterQuantity"`
	ActorID           uuid.UUID          `gorm:"column:actor_id;type:uuid;not null" json:"actorId"`
	Description       string             `gorm:"column:description;not null;default:''" json:"description"`
	ProductionEventID *uuid.UUID         `gorm:"column:production_event_id;type:uuid;uniqueIndex:ux_stock_movements_event_material,priority:1" json:"productionEventId,omitempty"`
	Synthesized       bool               `gorm:"column:synthesized;not null;default:false" json:"synthesized"`
	CreatedAt         time.Time          `gorm:"column:created_at;not null;index:idx_stock_movements_material,priority:3" json:"createdAt"`
}

func (StockMovement) TableName() string { return "stock_movements" }
