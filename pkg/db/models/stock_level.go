package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StockLevel is the column set shared by every stocked table. Quantity is the
// on-hand balance and ReservedQuantity the portion held for open orders.
type StockLevel struct {
	ID               uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Code             string          `gorm:"column:code;not null;uniqueIndex" json:"code"`
	Name             string          `gorm:"column:name;not null" json:"name"`
	Unit             string          `gorm:"column:unit;not null;default:'unit'" json:"unit"`
	Quantity         decimal.Decimal `gorm:"column:quantity;type:numeric(18,4);not null" json:"quantity"`
	ReservedQuantity decimal.Decimal `gorm:"column:reserved_quantity;type:numeric(18,4);not null" json:"reservedQuantity"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt        time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// Available returns on-hand minus reserved.
func (s StockLevel) Available() decimal.Decimal {
	return s.Quantity.Sub(s.ReservedQuantity)
}

// RawMaterial is a purchased input consumed by production.
type RawMaterial struct {
	StockLevel  `gorm:"embedded"`
	SupplierRef *string `gorm:"column:supplier_ref" json:"supplierRef,omitempty"`
}

func (RawMaterial) TableName() string { return "raw_materials" }

// SemiFinishedProduct is an intermediate good that is both produced and consumed.
type SemiFinishedProduct struct {
	StockLevel `gorm:"embedded"`
}

func (SemiFinishedProduct) TableName() string { return "semi_finished_products" }

// FinishedProduct is a sellable good credited by production events. It owns the
// live bill of materials.
type FinishedProduct struct {
	StockLevel `gorm:"embedded"`
	SKU        *string `gorm:"column:sku" json:"sku,omitempty"`
}

func (FinishedProduct) TableName() string { return "finished_products" }

// Level exposes the shared columns of any embedding stock model.
func (s *StockLevel) Level() *StockLevel {
	return s
}
