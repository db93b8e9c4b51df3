package bom

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/mfg-ledger-backend/internal/materials"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/mfg-ledger-backend/pkg/errors"
)

var (
	// ErrNoBOM means the product has no bill of materials to snapshot.
	ErrNoBOM = errors.New("product has no bill of materials")
	// ErrSnapshotMissing means a plan was expected to carry a snapshot and does not.
	ErrSnapshotMissing = errors.New("bom snapshot missing")
)

// SnapshotError reports why a snapshot could not be captured. Callers must refuse
// to create the plan when they get one.
type SnapshotError struct {
	ProductID uuid.UUID
	Err       error
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("snapshot for product %s: %v", e.ProductID, e.Err)
}

func (e *SnapshotError) Unwrap() error { return e.Err }

// Line is a frozen BOM line. QuantityNeeded covers the whole plan.
type Line struct {
	Ref            materials.Ref   `json:"material"`
	Code           string          `json:"code"`
	Name           string          `json:"name"`
	QuantityNeeded decimal.Decimal `json:"quantityNeeded"`
	Position       int             `json:"position"`
}

// CaptureSnapshot copies the product's live BOM into plan-scoped lines. It only
// writes bom_snapshot_lines and runs on the caller's transaction.
func (s *Service) CaptureSnapshot(ctx context.Context, tx *gorm.DB, plan models.ProductionPlan) ([]Line, error) {
	if !plan.PlannedQuantity.IsPositive() {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, ErrInvalidPlan, "planned quantity must be greater than zero")
	}

	var existing int64
	if err := tx.Model(&models.BOMSnapshotLine{}).Where("plan_id = ?", plan.ID).Count(&existing).Error; err != nil {
		return nil, err
	}
	if existing > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "bom snapshot already captured for plan").
			WithDetails(map[string]any{"planId": plan.ID})
	}

	live, err := s.liveLines(tx, plan.ProductID)
	if err != nil {
		return nil, err
	}
	if len(live) == 0 {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, &SnapshotError{ProductID: plan.ProductID, Err: ErrNoBOM}, "product has no bill of materials").
			WithDetails(map[string]any{"productId": plan.ProductID})
	}

	rows := make([]models.BOMSnapshotLine, 0, len(live))
	lines := make([]Line, 0, len(live))
	for _, bl := range live {
		ref, err := materials.NewRef(bl.MaterialType, bl.MaterialID)
		if err != nil {
			return nil, err
		}
		stock, err := s.registry.Get(tx, ref)
		if err != nil {
			return nil, err
		}
		needed := bl.QuantityPerUnit.Mul(plan.PlannedQuantity)
		rows = append(rows, models.BOMSnapshotLine{
			ID:             uuid.New(),
			PlanID:         plan.ID,
			MaterialType:   ref.Type,
			MaterialID:     ref.ID,
			MaterialCode:   stock.Code,
			MaterialName:   stock.Name,
			QuantityNeeded: needed,
			Position:       bl.Position,
		})
		lines = append(lines, Line{Ref: ref, Code: stock.Code, Name: stock.Name, QuantityNeeded: needed, Position: bl.Position})
	}

	if err := tx.Create(&rows).Error; err != nil {
		return nil, err
	}
	if s.logg != nil {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"plan_id":    plan.ID.String(),
			"product_id": plan.ProductID.String(),
			"lines":      len(lines),
		}), "bom snapshot captured")
	}
	return lines, nil
}

// LoadSnapshot returns the plan's frozen lines in BOM order.
func (s *Service) LoadSnapshot(tx *gorm.DB, planID uuid.UUID) ([]Line, error) {
	var rows []models.BOMSnapshotLine
	if err := tx.Where("plan_id = ?", planID).Order("position ASC").Order("material_code ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrSnapshotMissing, fmt.Sprintf("no bom snapshot for plan %s", planID))
	}
	lines := make([]Line, 0, len(rows))
	for _, row := range rows {
		ref, err := materials.NewRef(row.MaterialType, row.MaterialID)
		if err != nil {
			return nil, err
		}
		lines = append(lines, Line{
			Ref:            ref,
			Code:           row.MaterialCode,
			Name:           row.MaterialName,
			QuantityNeeded: row.QuantityNeeded,
			Position:       row.Position,
		})
	}
	return lines, nil
}

// DeleteSnapshot removes a plan's lines. Only plan deletion calls it.
func (s *Service) DeleteSnapshot(tx *gorm.DB, planID uuid.UUID) error {
	return tx.Where("plan_id = ?", planID).Delete(&models.BOMSnapshotLine{}).Error
}

// Snapshot reads a plan's lines in their own transaction.
func (s *Service) Snapshot(ctx context.Context, planID uuid.UUID) ([]Line, error) {
	var lines []Line
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		lines, err = s.LoadSnapshot(tx, planID)
		return err
	})
	return lines, err
}
