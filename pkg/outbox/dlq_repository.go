package outbox

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/mfg-ledger-backend/pkg/db/models"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/enums"
)

const maxDeadLetterMessage = 1024

// DLQRepository stores outbox rows the dispatcher gave up on.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

// Record copies event into outbox_dlq inside tx, keeping the original payload
// so the row can be replayed by hand.
func (r *DLQRepository) Record(tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error, failedAt time.Time) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if !reason.IsValid() {
		return errors.New("invalid dead letter reason")
	}
	entry := models.OutboxDLQ{
		ID:            uuid.New(),
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		AttemptCount:  event.AttemptCount,
		FailedAt:      failedAt.UTC(),
	}
	if cause != nil {
		msg := clip(cause.Error(), maxDeadLetterMessage)
		entry.ErrorMessage = &msg
	}
	return tx.Create(&entry).Error
}

// FindByEventID returns nil, nil when the event never dead-lettered.
func (r *DLQRepository) FindByEventID(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error) {
	var row models.OutboxDLQ
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// List returns the most recent dead letters, optionally narrowed to one reason.
func (r *DLQRepository) List(ctx context.Context, reason enums.OutboxDLQErrorReason, limit int) ([]models.OutboxDLQ, error) {
	if limit <= 0 {
		limit = 50
	}
	q := r.db.WithContext(ctx).Order("failed_at DESC").Order("id DESC").Limit(limit)
	if reason != "" {
		q = q.Where("error_reason = ?", reason)
	}
	var rows []models.OutboxDLQ
	return rows, q.Find(&rows).Error
}

// clip cuts s to at most n bytes without splitting a rune.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
