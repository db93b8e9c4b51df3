package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/mfg-ledger-backend/pkg/db"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/db/models"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/enums"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/logger"
)

// DomainEvent is what services hand to Emit; the envelope and row are derived from it.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Actor         *ActorRef
	Data          any
	Version       int
	OccurredAt    time.Time
}

// Service writes outbox rows inside the caller's transaction.
type Service struct {
	repo *Repository
	logg *logger.Logger
	now  func() time.Time
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg, now: time.Now}
}

// Emit queues event in tx. The row becomes visible to the dispatcher only
// when tx commits, together with the ledger change that produced it.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	row, eventID, err := s.buildRow(event)
	if err != nil {
		return err
	}
	if err := s.repo.Insert(tx, row); err != nil {
		return err
	}
	if s.logg != nil {
		s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
			"event_id":       eventID,
			"event_type":     event.EventType,
			"aggregate_type": event.AggregateType,
			"aggregate_id":   event.AggregateID.String(),
		}), "outbox event queued")
	}
	return nil
}

// EmitIfNotExists is Emit for one-shot events such as a plan completing; a
// row already queued for the same type and aggregate makes it a no-op.
func (s *Service) EmitIfNotExists(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	exists, err := s.repo.ExistsTx(tx, event.EventType, event.AggregateType, event.AggregateID)
	if err != nil || exists {
		return err
	}
	// A concurrent writer can still win the partial unique index; the
	// savepoint keeps the caller's transaction usable when it does.
	if err := tx.SavePoint(emitOnceSavepoint).Error; err != nil {
		return err
	}
	err = s.Emit(ctx, tx, event)
	if dbpkg.IsUniqueViolation(err, "ux_outbox_events_plan_completed") {
		return tx.RollbackTo(emitOnceSavepoint).Error
	}
	return err
}

const emitOnceSavepoint = "outbox_emit_once"

func (s *Service) buildRow(event DomainEvent) (models.OutboxEvent, string, error) {
	if !event.EventType.IsValid() {
		return models.OutboxEvent{}, "", fmt.Errorf("unknown event type %q", event.EventType)
	}
	if !event.AggregateType.IsValid() {
		return models.OutboxEvent{}, "", fmt.Errorf("unknown aggregate type %q", event.AggregateType)
	}
	data, err := json.Marshal(event.Data)
	if err != nil {
		return models.OutboxEvent{}, "", fmt.Errorf("encode %s payload: %w", event.EventType, err)
	}

	id := uuid.New()
	env := PayloadEnvelope{
		Version:    event.Version,
		EventID:    id.String(),
		OccurredAt: event.OccurredAt.UTC(),
		Actor:      event.Actor,
		Data:       data,
	}
	if env.Version == 0 {
		env.Version = CurrentVersion
	}
	if event.OccurredAt.IsZero() {
		env.OccurredAt = s.now().UTC()
	}
	body, err := json.Marshal(env)
	if err != nil {
		return models.OutboxEvent{}, "", err
	}
	return models.OutboxEvent{
		ID:            id,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       body,
	}, env.EventID, nil
}
