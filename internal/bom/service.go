package bom

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/mfg-ledger-backend/internal/materials"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/mfg-ledger-backend/pkg/errors"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service owns live bills of materials and the per-plan snapshots taken from them.
type Service struct {
	tx       txRunner
	registry *materials.Registry
	logg     *logger.Logger
}

func NewService(tx txRunner, registry *materials.Registry, logg *logger.Logger) (*Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if registry == nil {
		return nil, fmt.Errorf("material registry required")
	}
	return &Service{tx: tx, registry: registry, logg: logg}, nil
}

// DefinitionLine is one requested line of a live BOM, per produced unit.
type DefinitionLine struct {
	Material        materials.Ref
	QuantityPerUnit decimal.Decimal
}

// DefineBOM replaces the live BOM of a finished product. Snapshots already
// taken from the previous definition are left as they are.
func (s *Service) DefineBOM(ctx context.Context, productID uuid.UUID, lines []DefinitionLine) ([]models.BOMLine, error) {
	if productID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	if len(lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one bom line is required")
	}
	seen := make(map[materials.Ref]struct{}, len(lines))
	for i, line := range lines {
		if err := line.Material.Validate(); err != nil {
			return nil, err
		}
		if !line.Material.Type.IsConsumable() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("line %d: only raw and semi materials can be consumed", i))
		}
		if !line.QuantityPerUnit.IsPositive() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("line %d: quantity per unit must be greater than zero", i))
		}
		if _, dup := seen[line.Material]; dup {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("line %d: material %s listed twice", i, line.Material))
		}
		seen[line.Material] = struct{}{}
	}

	var rows []models.BOMLine
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.registry.Get(tx, materials.Finished(productID)); err != nil {
			return err
		}
		for _, line := range lines {
			if _, err := s.registry.Get(tx, line.Material); err != nil {
				return err
			}
		}
		if err := tx.Where("product_id = ?", productID).Delete(&models.BOMLine{}).Error; err != nil {
			return err
		}
		rows = make([]models.BOMLine, 0, len(lines))
		for i, line := range lines {
			rows = append(rows, models.BOMLine{
				ID:              uuid.New(),
				ProductID:       productID,
				MaterialType:    line.Material.Type,
				MaterialID:      line.Material.ID,
				QuantityPerUnit: line.QuantityPerUnit,
				Position:        i,
			})
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ProductBOM returns the live BOM of a product.
func (s *Service) ProductBOM(ctx context.Context, productID uuid.UUID) ([]models.BOMLine, error) {
	var rows []models.BOMLine
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		rows, err = s.liveLines(tx, productID)
		return err
	})
	return rows, err
}

func (s *Service) liveLines(tx *gorm.DB, productID uuid.UUID) ([]models.BOMLine, error) {
	var rows []models.BOMLine
	err := tx.Where("product_id = ?", productID).Order("position ASC").Find(&rows).Error
	return rows, err
}
