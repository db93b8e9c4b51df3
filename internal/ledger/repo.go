package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/mfg-ledger-backend/internal/materials"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/db/models"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/pagination"
)

// Repository manages persistence for stock movements.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, movement *models.StockMovement) error
	ForEvent(ctx context.Context, eventID uuid.UUID) ([]models.StockMovement, error)
	ForEventMaterial(ctx context.Context, eventID uuid.UUID, ref materials.Ref) ([]models.StockMovement, error)
	ListByMaterial(ctx context.Context, ref materials.Ref, cursor *pagination.Cursor, limit int) ([]models.StockMovement, error)
	AllForMaterial(ctx context.Context, ref materials.Ref) ([]models.StockMovement, error)
	LinkEvent(ctx context.Context, movementID, eventID uuid.UUID) (bool, error)
	Unlinked(ctx context.Context, ref materials.Ref, actorID uuid.UUID, from, to time.Time) ([]models.StockMovement, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a movement repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, movement *models.StockMovement) error {
	return r.db.WithContext(ctx).Create(movement).Error
}

func (r *repository) ForEvent(ctx context.Context, eventID uuid.UUID) ([]models.StockMovement, error) {
	var rows []models.StockMovement
	err := r.db.WithContext(ctx).
		Where("production_event_id = ?", eventID).
		Order("material_type ASC").
		Order("material_id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) ForEventMaterial(ctx context.Context, eventID uuid.UUID, ref materials.Ref) ([]models.StockMovement, error) {
	var rows []models.StockMovement
	err := r.db.WithContext(ctx).
		Where("production_event_id = ? AND material_type = ? AND material_id = ?", eventID, ref.Type, ref.ID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListByMaterial(ctx context.Context, ref materials.Ref, cursor *pagination.Cursor, limit int) ([]models.StockMovement, error) {
	query := r.db.WithContext(ctx).
		Where("material_type = ? AND material_id = ?", ref.Type, ref.ID)
	if cursor != nil {
		query = query.Where("(created_at > ?) OR (created_at = ? AND id > ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	var rows []models.StockMovement
	err := query.
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) AllForMaterial(ctx context.Context, ref materials.Ref) ([]models.StockMovement, error) {
	var rows []models.StockMovement
	err := r.db.WithContext(ctx).
		Where("material_type = ? AND material_id = ?", ref.Type, ref.ID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

// LinkEvent attaches eventID to a movement that has none yet. It reports false
// when the movement was already linked.
func (r *repository) LinkEvent(ctx context.Context, movementID, eventID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.StockMovement{}).
		Where("id = ? AND production_event_id IS NULL", movementID).
		Update("production_event_id", eventID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Unlinked lists movements of one material by one actor with no production
// event, inside [from, to].
func (r *repository) Unlinked(ctx context.Context, ref materials.Ref, actorID uuid.UUID, from, to time.Time) ([]models.StockMovement, error) {
	var rows []models.StockMovement
	err := r.db.WithContext(ctx).
		Where("material_type = ? AND material_id = ? AND actor_id = ?", ref.Type, ref.ID, actorID).
		Where("production_event_id IS NULL").
		Where("created_at >= ? AND created_at <= ?", from.UTC(), to.UTC()).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}
