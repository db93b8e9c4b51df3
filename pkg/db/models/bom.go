package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/mfg-ledger-backend/pkg/enums"
)

// BOMLine is one row of a finished product's live bill of materials.
type BOMLine struct {
	ID              uuid.UUID          `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ProductID       uuid.UUID          `gorm:"column:product_id;type:uuid;not null;uniqueIndex:ux_bom_lines_product_material,priority:1" json:"productId"`
	MaterialType    enums.MaterialType `gorm:"column:material_type;type:material_type_enum;not null;uniqueIndex:ux_bom_lines_product_material,priority:2" json:"materialType"`
	MaterialID      uuid.UUID          `gorm:"column:material_id;type:uuid;not null;uniqueIndex:ux_bom_lines_product_material,priority:3" json:"materialId"`
	QuantityPerUnit decimal.Decimal    `gorm:"column:quantity_per_unit;type:numeric(18,4);not null" json:"quantityPerUnit"`
	Position        int                `gorm:"column:position;not null" json:"position"`
	CreatedAt       time.Time          `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

func (BOMLine) TableName() string { return "bom_lines" }

// BOMSnapshotLine freezes one BOM line for a production plan. QuantityNeeded
// covers the whole planned quantity, not a single unit.
type BOMSnapshotLine struct {
	ID             uuid.UUID          `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	PlanID         uuid.UUID          `gorm:"column:plan_id;type:uuid;not null;uniqueIndex:ux_bom_snapshot_plan_material,priority:1" json:"planId"`
	MaterialType   enums.MaterialType `gorm:"column:material_type;type:material_type_enum;not null;uniqueIndex:ux_bom_snapshot_plan_material,priority:2" json:"materialType"`
	MaterialID     uuid.UUID          `gorm:"column:material_id;type:uuid;not null;uniqueIndex:ux_bom_snapshot_plan_material,priority:3" json:"materialId"`
	MaterialCode   string             `gorm:"column:material_code;not null" json:"materialCode"`
	MaterialName   string             `gorm:"column:material_name;not null" json:"materialName"`
	QuantityNeeded decimal.Decimal    `gorm:"column:quantity_needed;type:numeric(18,4);not null" json:"quantityNeeded"`
	Position       int                `gorm:"column:position;not null" json:"position"`
	CreatedAt      time.Time          `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

func (BOMSnapshotLine) TableName() string { return "bom_snapshot_lines" }
