package production

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/mfg-ledger-backend/pkg/db/models"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/mfg-ledger-backend/pkg/errors"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/pagination"
)

// ErrPlanNotFound and ErrEventNotFound are wrapped with CodeNotFound.
var (
	ErrPlanNotFound  = errors.New("production plan not found")
	ErrEventNotFound = errors.New("production event not found")
)

const maxLastErrorLength = 1024

// Repository persists plans and production events.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreatePlan(ctx context.Context, plan *models.ProductionPlan) error
	GetPlan(ctx context.Context, id uuid.UUID) (*models.ProductionPlan, error)
	LockPlan(ctx context.Context, id uuid.UUID) (*models.ProductionPlan, error)
	UpdatePlanProgress(ctx context.Context, plan *models.ProductionPlan) error
	DeletePlan(ctx context.Context, id uuid.UUID) error
	CreateEvent(ctx context.Context, event *models.ProductionEvent) error
	GetEvent(ctx context.Context, id uuid.UUID) (*models.ProductionEvent, error)
	LockEvent(ctx context.Context, id uuid.UUID) (*models.ProductionEvent, error)
	MarkLinked(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, cause error, at time.Time) error
	ListByPlan(ctx context.Context, planID uuid.UUID) ([]models.ProductionEvent, error)
	CountLinked(ctx context.Context, planID uuid.UUID) (int64, error)
	Retryable(ctx context.Context, before time.Time, maxAttempts, limit int) ([]models.ProductionEvent, error)
	ForReconcile(ctx context.Context, since, before time.Time, after *pagination.Cursor, limit int) ([]models.ProductionEvent, error)
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

func (r *repository) CreatePlan(ctx context.Context, plan *models.ProductionPlan) error {
	return r.db.WithContext(ctx).Create(plan).Error
}

func (r *repository) GetPlan(ctx context.Context, id uuid.UUID) (*models.ProductionPlan, error) {
	return r.takePlan(r.db.WithContext(ctx), id)
}

// LockPlan takes the plan row FOR UPDATE. Every apply for a plan serializes here.
func (r *repository) LockPlan(ctx context.Context, id uuid.UUID) (*models.ProductionPlan, error) {
	return r.takePlan(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (r *repository) takePlan(query *gorm.DB, id uuid.UUID) (*models.ProductionPlan, error) {
	var plan models.ProductionPlan
	if err := query.Where("id = ?", id).Take(&plan).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrPlanNotFound, fmt.Sprintf("production plan %s not found", id))
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repository) UpdatePlanProgress(ctx context.Context, plan *models.ProductionPlan) error {
	return r.db.WithContext(ctx).
		Model(&models.ProductionPlan{}).
		Where("id = ?", plan.ID).
		Updates(map[string]any{
			"produced_quantity": plan.ProducedQuantity,
			"status":            plan.Status,
			"completed_at":      plan.CompletedAt,
			"updated_at":        plan.UpdatedAt,
		}).Error
}

// DeletePlan removes the plan together with events that never reached the
// ledger. Callers check for linked events first.
func (r *repository) DeletePlan(ctx context.Context, id uuid.UUID) error {
	if err := r.db.WithContext(ctx).
		Where("plan_id = ? AND status <> ?", id, enums.ProductionEventLinked).
		Delete(&models.ProductionEvent{}).Error; err != nil {
		return err
	}
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.ProductionPlan{}).Error
}

func (r *repository) CreateEvent(ctx context.Context, event *models.ProductionEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) GetEvent(ctx context.Context, id uuid.UUID) (*models.ProductionEvent, error) {
	return r.takeEvent(r.db.WithContext(ctx), id)
}

func (r *repository) LockEvent(ctx context.Context, id uuid.UUID) (*models.ProductionEvent, error) {
	return r.takeEvent(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (r *repository) takeEvent(query *gorm.DB, id uuid.UUID) (*models.ProductionEvent, error) {
	var event models.ProductionEvent
	if err := query.Where("id = ?", id).Take(&event).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrEventNotFound, fmt.Sprintf("production event %s not found", id))
		}
		return nil, err
	}
	return &event, nil
}

func (r *repository) MarkLinked(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.ProductionEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     enums.ProductionEventLinked,
			"applied_at": at,
			"last_error": nil,
			"updated_at": at,
		}).Error
}

// MarkFailed records the failure and bumps attempts. Linked events are never
// demoted.
func (r *repository) MarkFailed(ctx context.Context, id uuid.UUID, cause error, at time.Time) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	if len(msg) > maxLastErrorLength {
		msg = msg[:maxLastErrorLength]
	}
	return r.db.WithContext(ctx).
		Model(&models.ProductionEvent{}).
		Where("id = ? AND status <> ?", id, enums.ProductionEventLinked).
		Updates(map[string]any{
			"status":     enums.ProductionEventFailed,
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": msg,
			"updated_at": at,
		}).Error
}

func (r *repository) ListByPlan(ctx context.Context, planID uuid.UUID) ([]models.ProductionEvent, error) {
	var rows []models.ProductionEvent
	err := r.db.WithContext(ctx).
		Where("plan_id = ?", planID).
		Order("occurred_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) CountLinked(ctx context.Context, planID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ProductionEvent{}).
		Where("plan_id = ? AND status = ?", planID, enums.ProductionEventLinked).
		Count(&count).Error
	return count, err
}

// Retryable lists received or failed events created before the cutoff that
// still have attempts left.
func (r *repository) Retryable(ctx context.Context, before time.Time, maxAttempts, limit int) ([]models.ProductionEvent, error) {
	var rows []models.ProductionEvent
	query := r.db.WithContext(ctx).
		Where("status IN ?", []enums.ProductionEventStatus{enums.ProductionEventReceived, enums.ProductionEventFailed}).
		Where("created_at < ?", before.UTC())
	if maxAttempts > 0 {
		query = query.Where("attempts < ?", maxAttempts)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Order("created_at ASC").Order("id ASC").Find(&rows).Error
	return rows, err
}

// ForReconcile lists events of every status in the audit window, oldest
// first, starting after the cursor when one is given.
func (r *repository) ForReconcile(ctx context.Context, since, before time.Time, after *pagination.Cursor, limit int) ([]models.ProductionEvent, error) {
	var rows []models.ProductionEvent
	query := r.db.WithContext(ctx).Where("created_at < ?", before.UTC())
	if !since.IsZero() {
		query = query.Where("created_at >= ?", since.UTC())
	}
	if after != nil {
		at := after.CreatedAt.UTC()
		query = query.Where("(created_at > ?) OR (created_at = ? AND id > ?)", at, at, after.ID)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Order("created_at ASC").Order("id ASC").Find(&rows).Error
	return rows, err
}
