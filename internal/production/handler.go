package production

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/mfg-ledger-backend/internal/bom"
	"github.com/angelmondragon/mfg-ledger-backend/internal/ledger"
	"github.com/angelmondragon/mfg-ledger-backend/internal/materials"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/db/models"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/mfg-ledger-backend/pkg/errors"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/logger"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/metrics"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/outbox"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/outbox/payloads"
)

// ErrPartiallyApplied means some, but not all, of an event's movements exist.
// Reconciliation owns that case.
var ErrPartiallyApplied = errors.New("production event partially applied")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type snapshotLoader interface {
	LoadSnapshot(tx *gorm.DB, planID uuid.UUID) ([]bom.Line, error)
}

type movementPoster interface {
	Post(ctx context.Context, tx *gorm.DB, in ledger.PostInput) (models.StockMovement, error)
	ForEvent(ctx context.Context, tx *gorm.DB, eventID uuid.UUID) ([]models.StockMovement, error)
}

type reservationConsumer interface {
	ActiveFor(ctx context.Context, tx *gorm.DB, planID uuid.UUID, orderID *uuid.UUID, ref materials.Ref) (*models.MaterialReservation, error)
	Consume(ctx context.Context, tx *gorm.DB, res *models.MaterialReservation, amount decimal.Decimal) (decimal.Decimal, error)
	CompleteForPlan(ctx context.Context, tx *gorm.DB, planID uuid.UUID) ([]models.MaterialReservation, error)
}

// HandlerParams wires the production event handler.
type HandlerParams struct {
	DB           txRunner
	Repository   Repository
	Snapshots    snapshotLoader
	Ledger       movementPoster
	Reservations reservationConsumer
	Outbox       eventEmitter
	Metrics      *metrics.LedgerMetrics
	Logger       *logger.Logger
	Now          func() time.Time
}

// Handler applies production events to the ledger.
type Handler struct {
	tx           txRunner
	repo         Repository
	snapshots    snapshotLoader
	ledger       movementPoster
	reservations reservationConsumer
	outbox       eventEmitter
	metrics      *metrics.LedgerMetrics
	logg         *logger.Logger
	now          func() time.Time
}

func NewHandler(params HandlerParams) (*Handler, error) {
	if params.DB == nil {
		return nil, errors.New("transaction runner required")
	}
	if params.Repository == nil {
		return nil, errors.New("production repository required")
	}
	if params.Snapshots == nil {
		return nil, errors.New("snapshot loader required")
	}
	if params.Ledger == nil {
		return nil, errors.New("ledger required")
	}
	if params.Reservations == nil {
		return nil, errors.New("reservations required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Handler{
		tx:           params.DB,
		repo:         params.Repository,
		snapshots:    params.Snapshots,
		ledger:       params.Ledger,
		reservations: params.Reservations,
		outbox:       params.Outbox,
		metrics:      params.Metrics,
		logg:         params.Logger,
		now:          now,
	}, nil
}

// Result describes what Apply did.
type Result struct {
	EventID    uuid.UUID              `json:"eventId"`
	PlanID     uuid.UUID              `json:"planId"`
	Outcome    string                 `json:"outcome"`
	Movements  []models.StockMovement `json:"movements,omitempty"`
	Skipped    []materials.Ref        `json:"skipped,omitempty"`
	PlanStatus enums.PlanStatus       `json:"planStatus"`
	Produced   decimal.Decimal        `json:"producedQuantity"`
}

// Apply runs one production event through allocation, credit and debits in a
// single transaction. Replaying a linked event is a no-op. On failure nothing
// is written except the event's failed status and attempt count.
func (h *Handler) Apply(ctx context.Context, eventID uuid.UUID) (Result, error) {
	started := h.now()
	if h.logg != nil {
		ctx = h.logg.WithEventID(ctx, eventID.String())
	}

	var result Result
	err := h.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = h.apply(ctx, tx, eventID)
		return err
	})
	h.metrics.ObserveApply(h.now().Sub(started))
	if err != nil {
		h.fail(ctx, eventID, err)
		return Result{}, err
	}

	h.metrics.IncProductionEvent(result.Outcome)
	if result.Outcome == metrics.OutcomeApplied {
		for _, m := range result.Movements {
			h.metrics.IncMovement(string(m.MaterialType), string(m.MovementType))
		}
		h.metrics.AddSkippedDebits(len(result.Skipped))
	}
	if h.logg != nil {
		logCtx := h.logg.WithFields(ctx, map[string]any{
			"plan_id":     result.PlanID.String(),
			"outcome":     result.Outcome,
			"movements":   len(result.Movements),
			"skipped":     len(result.Skipped),
			"plan_status": result.PlanStatus,
		})
		h.logg.Info(logCtx, "production event handled")
	}
	return result, nil
}

func (h *Handler) apply(ctx context.Context, tx *gorm.DB, eventID uuid.UUID) (Result, error) {
	repo := h.repo.WithTx(tx)
	event, err := repo.LockEvent(ctx, eventID)
	if err != nil {
		return Result{}, err
	}
	plan, err := repo.LockPlan(ctx, event.PlanID)
	if err != nil {
		return Result{}, err
	}
	result := Result{EventID: event.ID, PlanID: plan.ID, PlanStatus: plan.Status, Produced: plan.ProducedQuantity}
	if event.Status == enums.ProductionEventLinked {
		result.Outcome = metrics.OutcomeDuplicate
		return result, nil
	}
	if plan.Status == enums.PlanStatusCancelled {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeStateConflict, bom.ErrInvalidPlan, fmt.Sprintf("plan %s is cancelled", plan.ID))
	}

	existing, err := h.ledger.ForEvent(ctx, tx, event.ID)
	if err != nil {
		return Result{}, err
	}
	if len(existing) > 0 {
		finished := materials.Finished(plan.ProductID)
		for _, m := range existing {
			if m.MaterialType == finished.Type && m.MaterialID == finished.ID {
				if err := repo.MarkLinked(ctx, event.ID, h.now().UTC()); err != nil {
					return Result{}, err
				}
				result.Outcome = metrics.OutcomeDuplicate
				result.Movements = existing
				return result, nil
			}
		}
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeConsistency, ErrPartiallyApplied,
			fmt.Sprintf("event %s has %d movements but no finished credit", event.ID, len(existing)))
	}

	h.transition(ctx, enums.ProductionEventAllocating)
	snapshot, err := h.snapshots.LoadSnapshot(tx, plan.ID)
	if err != nil {
		return Result{}, err
	}
	cmd, err := PlanCommand(*plan, *event, snapshot)
	if err != nil {
		return Result{}, err
	}

	movements, err := h.execute(ctx, tx, *plan, cmd)
	if err != nil {
		return Result{}, err
	}

	now := h.now().UTC()
	plan.ProducedQuantity = cmd.ProducedAfter
	plan.Status = cmd.StatusAfter
	plan.UpdatedAt = now
	if cmd.Completes {
		plan.CompletedAt = &now
	}
	if err := repo.UpdatePlanProgress(ctx, plan); err != nil {
		return Result{}, err
	}
	if cmd.Completes {
		if _, err := h.reservations.CompleteForPlan(ctx, tx, plan.ID); err != nil {
			return Result{}, err
		}
		// a plan completes once; replays of the closing event must not re-announce it
		if err := h.emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventProductionPlanCompleted,
			AggregateType: enums.AggregateProductionPlan,
			AggregateID:   plan.ID,
			Actor:         outbox.Actor(event.ActorID, "worker"),
			Data: payloads.ProductionPlanCompletedEvent{
				PlanID:           plan.ID,
				ProducedQuantity: plan.ProducedQuantity,
				CompletedAt:      now,
			},
		}, true); err != nil {
			return Result{}, err
		}
	}

	if err := repo.MarkLinked(ctx, event.ID, now); err != nil {
		return Result{}, err
	}
	if err := h.emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventProductionApplied,
		AggregateType: enums.AggregateProductionEvent,
		AggregateID:   event.ID,
		Actor:         outbox.Actor(event.ActorID, "worker"),
		Data:          AppliedPayload(*event, movements, cmd.Skipped, false),
	}, false); err != nil {
		return Result{}, err
	}
	h.transition(ctx, enums.ProductionEventLinked)

	result.Outcome = metrics.OutcomeApplied
	result.Movements = movements
	result.PlanStatus = plan.Status
	result.Produced = plan.ProducedQuantity
	for _, skipped := range cmd.Skipped {
		result.Skipped = append(result.Skipped, skipped.Ref)
	}
	return result, nil
}

// execute posts the command's writes in lock order and draws the matching
// reservations.
func (h *Handler) execute(ctx context.Context, tx *gorm.DB, plan models.ProductionPlan, cmd Command) ([]models.StockMovement, error) {
	eventID := cmd.EventID
	movements := make([]models.StockMovement, 0, len(cmd.Debits)+1)
	for _, w := range cmd.Writes() {
		if w.MovementType == enums.MovementTypeProduction {
			h.transition(ctx, enums.ProductionEventCrediting)
		} else {
			h.transition(ctx, enums.ProductionEventDebiting)
		}
		m, err := h.ledger.Post(ctx, tx, ledger.PostInput{
			Material:          w.Material,
			MovementType:      w.MovementType,
			Quantity:          w.Quantity,
			ActorID:           cmd.ActorID,
			Description:       w.Description,
			ProductionEventID: &eventID,
		})
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)

		if !w.Consume.IsPositive() {
			continue
		}
		res, err := h.reservations.ActiveFor(ctx, tx, plan.ID, plan.OrderID, w.Material)
		if err != nil {
			return nil, err
		}
		if res == nil {
			continue
		}
		if _, err := h.reservations.Consume(ctx, tx, res, w.Consume); err != nil {
			return nil, err
		}
	}
	return movements, nil
}

func (h *Handler) fail(ctx context.Context, eventID uuid.UUID, cause error) {
	outcome := metrics.OutcomeFailed
	if !pkgerrors.IsRetryable(cause) {
		outcome = metrics.OutcomeRejected
	}
	h.metrics.IncProductionEvent(outcome)

	if errors.Is(cause, ErrEventNotFound) {
		return
	}
	markErr := h.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return h.repo.WithTx(tx).MarkFailed(ctx, eventID, cause, h.now().UTC())
	})
	if h.logg == nil {
		return
	}
	logCtx := h.logg.WithFields(ctx, map[string]any{
		"outcome":    outcome,
		"error_code": pkgerrors.CodeOf(cause),
	})
	h.logg.Error(logCtx, "production event apply failed", cause)
	if markErr != nil {
		h.logg.Error(logCtx, "failed to mark production event failed", markErr)
	}
}

func (h *Handler) transition(ctx context.Context, state enums.ProductionEventStatus) {
	if h.logg == nil {
		return
	}
	h.logg.Debug(h.logg.WithField(ctx, "state", state), "production event state")
}

func (h *Handler) emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent, once bool) error {
	if h.outbox == nil {
		return nil
	}
	if once {
		return h.outbox.EmitIfNotExists(ctx, tx, event)
	}
	return h.outbox.Emit(ctx, tx, event)
}

// AppliedPayload builds the production_event_applied body.
func AppliedPayload(event models.ProductionEvent, movements []models.StockMovement, skipped []bom.MaterialDebit, synthesized bool) payloads.ProductionAppliedEvent {
	out := payloads.ProductionAppliedEvent{
		ProductionEventID: event.ID,
		PlanID:            event.PlanID,
		QuantityProduced:  event.QuantityProduced,
		Synthesized:       synthesized,
	}
	for _, m := range movements {
		out.MovementIDs = append(out.MovementIDs, m.ID)
	}
	for _, s := range skipped {
		out.Skipped = append(out.Skipped, payloads.MaterialLine{MaterialType: s.Ref.Type, MaterialID: s.Ref.ID, Quantity: s.Exact})
	}
	return out
}
