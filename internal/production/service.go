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
	"github.com/angelmondragon/mfg-ledger-backend/internal/materials"
	"github.com/angelmondragon/mfg-ledger-backend/internal/reservations"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/db/models"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/mfg-ledger-backend/pkg/errors"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/logger"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/outbox"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/outbox/payloads"
)

type snapshotStore interface {
	snapshotLoader
	CaptureSnapshot(ctx context.Context, tx *gorm.DB, plan models.ProductionPlan) ([]bom.Line, error)
	DeleteSnapshot(tx *gorm.DB, planID uuid.UUID) error
}

type reservationPlacer interface {
	Reserve(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, planID *uuid.UUID, lines []reservations.Line) ([]models.MaterialReservation, error)
	CancelForPlan(ctx context.Context, tx *gorm.DB, planID uuid.UUID) ([]models.MaterialReservation, error)
}

type eventApplier interface {
	Apply(ctx context.Context, eventID uuid.UUID) (Result, error)
}

// ServiceParams wires the plan and production recording service.
type ServiceParams struct {
	DB           txRunner
	Repository   Repository
	Registry     *materials.Registry
	Snapshots    snapshotStore
	Reservations reservationPlacer
	Applier      eventApplier
	Outbox       eventEmitter
	Logger       *logger.Logger
	InlineApply  bool
	Now          func() time.Time
}

// Service owns production plans and the recording of produced units.
type Service struct {
	tx           txRunner
	repo         Repository
	registry     *materials.Registry
	snapshots    snapshotStore
	reservations reservationPlacer
	applier      eventApplier
	outbox       eventEmitter
	logg         *logger.Logger
	inline       bool
	now          func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, errors.New("transaction runner required")
	}
	if params.Repository == nil {
		return nil, errors.New("production repository required")
	}
	if params.Registry == nil {
		return nil, errors.New("material registry required")
	}
	if params.Snapshots == nil {
		return nil, errors.New("snapshot store required")
	}
	if params.Reservations == nil {
		return nil, errors.New("reservations required")
	}
	if params.InlineApply && params.Applier == nil {
		return nil, errors.New("inline apply needs an event applier")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		tx:           params.DB,
		repo:         params.Repository,
		registry:     params.Registry,
		snapshots:    params.Snapshots,
		reservations: params.Reservations,
		applier:      params.Applier,
		outbox:       params.Outbox,
		logg:         params.Logger,
		inline:       params.InlineApply,
		now:          now,
	}, nil
}

type CreatePlanInput struct {
	ProductID       uuid.UUID       `json:"productId"`
	OrderID         *uuid.UUID      `json:"orderId,omitempty"`
	PlannedQuantity decimal.Decimal `json:"plannedQuantity"`
	ActorID         uuid.UUID       `json:"actorId"`
}

// PlanView is a plan with its frozen snapshot and holds.
type PlanView struct {
	Plan           models.ProductionPlan    `json:"plan"`
	Snapshot       []bom.Line               `json:"snapshot"`
	ReservationIDs []uuid.UUID              `json:"reservationIds,omitempty"`
	Events         []models.ProductionEvent `json:"events,omitempty"`
}

// CreatePlan inserts the plan, freezes its BOM and, for order-backed plans,
// reserves every snapshot line. A plan without a snapshot is never created.
func (s *Service) CreatePlan(ctx context.Context, in CreatePlanInput) (PlanView, error) {
	if in.ProductID == uuid.Nil {
		return PlanView{}, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	if !in.PlannedQuantity.IsPositive() {
		return PlanView{}, pkgerrors.Wrap(pkgerrors.CodeValidation, bom.ErrInvalidPlan, "planned quantity must be greater than zero")
	}
	if in.ActorID == uuid.Nil {
		return PlanView{}, pkgerrors.New(pkgerrors.CodeValidation, "actor id is required")
	}

	var view PlanView
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.registry.Get(tx, materials.Finished(in.ProductID)); err != nil {
			return err
		}
		now := s.now().UTC()
		plan := models.ProductionPlan{
			ID:               uuid.New(),
			OrderID:          in.OrderID,
			ProductID:        in.ProductID,
			PlannedQuantity:  in.PlannedQuantity,
			ProducedQuantity: decimal.Zero,
			Status:           enums.PlanStatusPlanned,
			CreatedBy:        in.ActorID,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		repo := s.repo.WithTx(tx)
		if err := repo.CreatePlan(ctx, &plan); err != nil {
			return err
		}
		snapshot, err := s.snapshots.CaptureSnapshot(ctx, tx, plan)
		if err != nil {
			return err
		}
		view = PlanView{Plan: plan, Snapshot: snapshot}

		if in.OrderID != nil {
			lines := make([]reservations.Line, 0, len(snapshot))
			for _, l := range snapshot {
				if !l.QuantityNeeded.IsPositive() {
					continue
				}
				lines = append(lines, reservations.Line{Material: l.Ref, Quantity: l.QuantityNeeded})
			}
			held, err := s.reservations.Reserve(ctx, tx, *in.OrderID, &plan.ID, lines)
			if err != nil {
				return err
			}
			for _, r := range held {
				view.ReservationIDs = append(view.ReservationIDs, r.ID)
			}
		}
		return s.emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventProductionPlanCreated,
			AggregateType: enums.AggregateProductionPlan,
			AggregateID:   plan.ID,
			Actor:         outbox.Actor(plan.CreatedBy, "api"),
			Data:          planCreatedPayload(plan, snapshot),
		})
	})
	if err != nil {
		return PlanView{}, err
	}
	if s.logg != nil {
		logCtx := s.logg.WithPlanID(ctx, view.Plan.ID.String())
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"product_id":   view.Plan.ProductID.String(),
			"planned":      view.Plan.PlannedQuantity.String(),
			"reservations": len(view.ReservationIDs),
		})
		s.logg.Info(logCtx, "production plan created")
	}
	return view, nil
}

// DeletePlan cancels the plan's holds and removes it with its snapshot. Plans
// that already moved stock cannot be deleted.
func (s *Service) DeletePlan(ctx context.Context, planID uuid.UUID) error {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.LockPlan(ctx, planID); err != nil {
			return err
		}
		linked, err := repo.CountLinked(ctx, planID)
		if err != nil {
			return err
		}
		if linked > 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("plan %s has %d applied production events", planID, linked))
		}
		if _, err := s.reservations.CancelForPlan(ctx, tx, planID); err != nil {
			return err
		}
		if err := s.snapshots.DeleteSnapshot(tx, planID); err != nil {
			return err
		}
		return repo.DeletePlan(ctx, planID)
	})
	if err != nil {
		return err
	}
	if s.logg != nil {
		s.logg.Info(s.logg.WithPlanID(ctx, planID.String()), "production plan deleted")
	}
	return nil
}

// Plan returns a plan with its snapshot and events.
func (s *Service) Plan(ctx context.Context, planID uuid.UUID) (PlanView, error) {
	var view PlanView
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		plan, err := repo.GetPlan(ctx, planID)
		if err != nil {
			return err
		}
		snapshot, err := s.snapshots.LoadSnapshot(tx, planID)
		if err != nil {
			return err
		}
		events, err := repo.ListByPlan(ctx, planID)
		if err != nil {
			return err
		}
		view = PlanView{Plan: *plan, Snapshot: snapshot, Events: events}
		return nil
	})
	return view, err
}

type RecordInput struct {
	PlanID           uuid.UUID       `json:"planId"`
	QuantityProduced decimal.Decimal `json:"quantityProduced"`
	ActorID          uuid.UUID       `json:"actorId"`
	OccurredAt       time.Time       `json:"occurredAt"`
}

// RecordResult carries the stored event and, for inline apply, its outcome.
type RecordResult struct {
	EventID uuid.UUID                   `json:"eventId"`
	Status  enums.ProductionEventStatus `json:"status"`
	Applied *Result                     `json:"applied,omitempty"`
}

// RecordProduction stores a received production event. With inline apply it is
// applied right away; otherwise the worker picks it up from the outbox. When
// inline apply fails the event id is still returned with the error, and the
// retry pool owns the event from then on.
func (s *Service) RecordProduction(ctx context.Context, in RecordInput) (RecordResult, error) {
	if in.PlanID == uuid.Nil {
		return RecordResult{}, pkgerrors.New(pkgerrors.CodeValidation, "plan id is required")
	}
	if !in.QuantityProduced.IsPositive() {
		return RecordResult{}, pkgerrors.Wrap(pkgerrors.CodeValidation, bom.ErrInvalidProduction, "produced quantity must be greater than zero")
	}
	if in.ActorID == uuid.Nil {
		return RecordResult{}, pkgerrors.New(pkgerrors.CodeValidation, "actor id is required")
	}

	now := s.now().UTC()
	occurred := in.OccurredAt.UTC()
	if in.OccurredAt.IsZero() {
		occurred = now
	}
	event := models.ProductionEvent{
		ID:               uuid.New(),
		PlanID:           in.PlanID,
		QuantityProduced: in.QuantityProduced,
		ActorID:          in.ActorID,
		OccurredAt:       occurred,
		Status:           enums.ProductionEventReceived,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		plan, err := repo.LockPlan(ctx, in.PlanID)
		if err != nil {
			return err
		}
		if !plan.Status.AcceptsProduction() {
			return pkgerrors.Wrap(pkgerrors.CodeStateConflict, bom.ErrInvalidPlan, fmt.Sprintf("plan %s is %s", plan.ID, plan.Status))
		}
		if err := repo.CreateEvent(ctx, &event); err != nil {
			return err
		}
		if s.inline {
			return nil
		}
		return s.emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventProductionRecorded,
			AggregateType: enums.AggregateProductionEvent,
			AggregateID:   event.ID,
			Actor:         outbox.Actor(event.ActorID, "api"),
			OccurredAt:    event.OccurredAt,
			Data: payloads.ProductionRecordedEvent{
				ProductionEventID: event.ID,
				PlanID:            event.PlanID,
				QuantityProduced:  event.QuantityProduced,
				ActorID:           event.ActorID,
				OccurredAt:        event.OccurredAt,
			},
		})
	})
	if err != nil {
		return RecordResult{}, err
	}

	result := RecordResult{EventID: event.ID, Status: enums.ProductionEventReceived}
	logCtx := ctx
	if s.logg != nil {
		logCtx = s.logg.WithEventID(s.logg.WithPlanID(ctx, in.PlanID.String()), event.ID.String())
		s.logg.Info(s.logg.WithField(logCtx, "quantity", in.QuantityProduced.String()), "production event recorded")
	}
	if !s.inline {
		return result, nil
	}

	applied, err := s.applier.Apply(logCtx, event.ID)
	if err != nil {
		result.Status = enums.ProductionEventFailed
		return result, err
	}
	result.Status = enums.ProductionEventLinked
	result.Applied = &applied
	return result, nil
}

func (s *Service) emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if s.outbox == nil {
		return nil
	}
	return s.outbox.Emit(ctx, tx, event)
}

func planCreatedPayload(plan models.ProductionPlan, snapshot []bom.Line) payloads.ProductionPlanCreatedEvent {
	out := payloads.ProductionPlanCreatedEvent{
		PlanID:          plan.ID,
		ProductID:       plan.ProductID,
		OrderID:         plan.OrderID,
		PlannedQuantity: plan.PlannedQuantity,
	}
	for _, l := range snapshot {
		out.Snapshot = append(out.Snapshot, payloads.MaterialLine{MaterialType: l.Ref.Type, MaterialID: l.Ref.ID, Quantity: l.QuantityNeeded})
	}
	return out
}
