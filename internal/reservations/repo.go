package reservations

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/mfg-ledger-backend/internal/materials"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/db/models"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/enums"
)

// activeReservationIndex is the partial unique index on active holds.
const activeReservationIndex = "ux_material_reservations_active"

// Repository persists material reservations.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, r *models.MaterialReservation) error
	Save(ctx context.Context, r *models.MaterialReservation) error
	ActiveForOrderMaterial(ctx context.Context, orderID uuid.UUID, ref materials.Ref) (*models.MaterialReservation, error)
	ActiveForPlanMaterial(ctx context.Context, planID uuid.UUID, ref materials.Ref) (*models.MaterialReservation, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.MaterialReservation, error)
	ActiveByOrder(ctx context.Context, orderID uuid.UUID) ([]models.MaterialReservation, error)
	ActiveByPlan(ctx context.Context, planID uuid.UUID) ([]models.MaterialReservation, error)
	// HeldMaterialsByOrder and HeldMaterialsByPlan read, without locking, the
	// distinct materials behind active holds.
	HeldMaterialsByOrder(ctx context.Context, orderID uuid.UUID) ([]materials.Ref, error)
	HeldMaterialsByPlan(ctx context.Context, planID uuid.UUID) ([]materials.Ref, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, res *models.MaterialReservation) error {
	return r.db.WithContext(ctx).Create(res).Error
}

func (r *repository) Save(ctx context.Context, res *models.MaterialReservation) error {
	return r.db.WithContext(ctx).
		Model(&models.MaterialReservation{}).
		Where("id = ?", res.ID).
		Updates(map[string]any{
			"reserved_quantity": res.ReservedQuantity,
			"consumed_quantity": res.ConsumedQuantity,
			"status":            res.Status,
			"closed_at":         res.ClosedAt,
			"updated_at":        res.UpdatedAt,
		}).Error
}

func (r *repository) locked(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
}

func (r *repository) ActiveForOrderMaterial(ctx context.Context, orderID uuid.UUID, ref materials.Ref) (*models.MaterialReservation, error) {
	return r.takeActive(r.locked(ctx).Where("order_id = ?", orderID), ref)
}

func (r *repository) ActiveForPlanMaterial(ctx context.Context, planID uuid.UUID, ref materials.Ref) (*models.MaterialReservation, error) {
	return r.takeActive(r.locked(ctx).Where("plan_id = ?", planID), ref)
}

func (r *repository) takeActive(query *gorm.DB, ref materials.Ref) (*models.MaterialReservation, error) {
	var res models.MaterialReservation
	err := query.
		Where("material_type = ? AND material_id = ? AND status = ?", ref.Type, ref.ID, enums.ReservationStatusActive).
		Order("created_at ASC").
		Take(&res).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &res, nil
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.MaterialReservation, error) {
	var rows []models.MaterialReservation
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) ActiveByOrder(ctx context.Context, orderID uuid.UUID) ([]models.MaterialReservation, error) {
	var rows []models.MaterialReservation
	err := r.locked(ctx).
		Where("order_id = ? AND status = ?", orderID, enums.ReservationStatusActive).
		Order("material_type ASC").
		Order("material_id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) ActiveByPlan(ctx context.Context, planID uuid.UUID) ([]models.MaterialReservation, error) {
	var rows []models.MaterialReservation
	err := r.locked(ctx).
		Where("plan_id = ? AND status = ?", planID, enums.ReservationStatusActive).
		Order("material_type ASC").
		Order("material_id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) HeldMaterialsByOrder(ctx context.Context, orderID uuid.UUID) ([]materials.Ref, error) {
	return r.heldMaterials(ctx, "order_id = ?", orderID)
}

func (r *repository) HeldMaterialsByPlan(ctx context.Context, planID uuid.UUID) ([]materials.Ref, error) {
	return r.heldMaterials(ctx, "plan_id = ?", planID)
}

func (r *repository) heldMaterials(ctx context.Context, where string, id uuid.UUID) ([]materials.Ref, error) {
	var rows []models.MaterialReservation
	err := r.db.WithContext(ctx).
		Select("material_type", "material_id").
		Where(where, id).
		Where("status = ?", enums.ReservationStatusActive).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	seen := make(map[materials.Ref]bool, len(rows))
	refs := make([]materials.Ref, 0, len(rows))
	for _, row := range rows {
		ref := materials.Ref{Type: row.MaterialType, ID: row.MaterialID}
		if !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
	}
	return refs, nil
}
