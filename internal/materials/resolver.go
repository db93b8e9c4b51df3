package materials

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/mfg-ledger-backend/pkg/db/models"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/mfg-ledger-backend/pkg/errors"
)

// ErrMaterialNotFound is returned when a reference does not resolve to a row.
var ErrMaterialNotFound = errors.New("material not found")

// Resolver reads and writes the quantity columns of one stock table. Every
// method runs on the caller's transaction.
type Resolver interface {
	Type() enums.MaterialType
	Get(tx *gorm.DB, id uuid.UUID) (Stock, error)
	LockForUpdate(tx *gorm.DB, id uuid.UUID) (Stock, error)
	SetQuantity(tx *gorm.DB, id uuid.UUID, quantity decimal.Decimal) error
	SetReserved(tx *gorm.DB, id uuid.UUID, reserved decimal.Decimal) error
	Create(tx *gorm.DB, input CreateInput) (Stock, error)
	List(tx *gorm.DB, limit, offset int) ([]Stock, error)
}

// CreateInput describes a new stocked row. Rows always start at zero; opening
// balances are posted as ledger entries so history stays reconstructable.
type CreateInput struct {
	Code string
	Name string
	Unit string
}

type stockRow[T any] interface {
	*T
	Level() *models.StockLevel
}

type tableResolver[T any, P stockRow[T]] struct {
	typ enums.MaterialType
}

func (r tableResolver[T, P]) Type() enums.MaterialType {
	return r.typ
}

func (r tableResolver[T, P]) Get(tx *gorm.DB, id uuid.UUID) (Stock, error) {
	return r.take(tx, id)
}

func (r tableResolver[T, P]) LockForUpdate(tx *gorm.DB, id uuid.UUID) (Stock, error) {
	return r.take(tx.Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (r tableResolver[T, P]) take(tx *gorm.DB, id uuid.UUID) (Stock, error) {
	var row T
	if err := tx.Where("id = ?", id).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Stock{}, notFound(Ref{Type: r.typ, ID: id})
		}
		return Stock{}, err
	}
	return stockFromLevel(r.typ, P(&row).Level()), nil
}

func (r tableResolver[T, P]) SetQuantity(tx *gorm.DB, id uuid.UUID, quantity decimal.Decimal) error {
	return r.update(tx, id, map[string]any{"quantity": quantity})
}

func (r tableResolver[T, P]) SetReserved(tx *gorm.DB, id uuid.UUID, reserved decimal.Decimal) error {
	if reserved.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeConsistency, fmt.Sprintf("reserved quantity for %s would become negative", Ref{Type: r.typ, ID: id}))
	}
	return r.update(tx, id, map[string]any{"reserved_quantity": reserved})
}

func (r tableResolver[T, P]) update(tx *gorm.DB, id uuid.UUID, values map[string]any) error {
	values["updated_at"] = time.Now().UTC()
	res := tx.Model(P(new(T))).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound(Ref{Type: r.typ, ID: id})
	}
	return nil
}

func (r tableResolver[T, P]) Create(tx *gorm.DB, input CreateInput) (Stock, error) {
	code := strings.TrimSpace(input.Code)
	name := strings.TrimSpace(input.Name)
	if code == "" || name == "" {
		return Stock{}, pkgerrors.New(pkgerrors.CodeValidation, "code and name are required")
	}
	unit := strings.TrimSpace(input.Unit)
	if unit == "" {
		unit = "unit"
	}

	row := P(new(T))
	level := row.Level()
	level.ID = uuid.New()
	level.Code = code
	level.Name = name
	level.Unit = unit
	level.Quantity = decimal.Zero
	level.ReservedQuantity = decimal.Zero
	if err := tx.Create(row).Error; err != nil {
		return Stock{}, err
	}
	return stockFromLevel(r.typ, level), nil
}

func (r tableResolver[T, P]) List(tx *gorm.DB, limit, offset int) ([]Stock, error) {
	var rows []T
	if err := tx.Order("code ASC").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Stock, 0, len(rows))
	for i := range rows {
		out = append(out, stockFromLevel(r.typ, P(&rows[i]).Level()))
	}
	return out, nil
}

func notFound(ref Ref) error {
	return pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrMaterialNotFound, fmt.Sprintf("material %s not found", ref))
}

// NewRawResolver, NewSemiResolver and NewFinishedResolver bind the resolver to
// their tables.
func NewRawResolver() Resolver {
	return tableResolver[models.RawMaterial, *models.RawMaterial]{typ: enums.MaterialTypeRaw}
}

func NewSemiResolver() Resolver {
	return tableResolver[models.SemiFinishedProduct, *models.SemiFinishedProduct]{typ: enums.MaterialTypeSemi}
}

func NewFinishedResolver() Resolver {
	return tableResolver[models.FinishedProduct, *models.FinishedProduct]{typ: enums.MaterialTypeFinished}
}
