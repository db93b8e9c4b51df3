package materials

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/mfg-ledger-backend/pkg/db/models"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/enums"
)

// Stock is the variant-independent view of a stocked row.
type Stock struct {
	Ref       Ref             `json:"ref"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Unit      string          `json:"unit"`
	Quantity  decimal.Decimal `json:"quantity"`
	Reserved  decimal.Decimal `json:"reservedQuantity"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Available is on-hand minus reserved.
func (s Stock) Available() decimal.Decimal {
	return s.Quantity.Sub(s.Reserved)
}

func stockFromLevel(typ enums.MaterialType, level *models.StockLevel) Stock {
	return Stock{
		Ref:       Ref{Type: typ, ID: level.ID},
		Code:      level.Code,
		Name:      level.Name,
		Unit:      level.Unit,
		Quantity:  level.Quantity,
		Reserved:  level.ReservedQuantity,
		UpdatedAt: level.UpdatedAt,
	}
}
