package reservations

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/mfg-ledger-backend/internal/materials"
	dbpkg "github.com/angelmondragon/mfg-ledger-backend/pkg/db"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/db/models"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/mfg-ledger-backend/pkg/errors"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/logger"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/outbox"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Line is one material requirement to hold for an order.
type Line struct {
	Material materials.Ref   `json:"material"`
	Quantity decimal.Decimal `json:"quantity"`
}

// ServiceParams wires the reservation service.
type ServiceParams struct {
	DB         txRunner
	Repository Repository
	Registry   *materials.Registry
	Outbox     eventEmitter
	Logger     *logger.Logger
	Now        func() time.Time
}

// Service runs the reserve, consume and release lifecycle of material holds.
type Service struct {
	tx       txRunner
	repo     Repository
	registry *materials.Registry
	outbox   eventEmitter
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("reservation repository required")
	}
	if params.Registry == nil {
		return nil, fmt.Errorf("material registry required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		tx:       params.DB,
		repo:     params.Repository,
		registry: params.Registry,
		outbox:   params.Outbox,
		logg:     params.Logger,
		now:      now,
	}, nil
}

func validateLines(lines []Line) error {
	if len(lines) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one reservation line is required")
	}
	seen := make(map[materials.Ref]struct{}, len(lines))
	for i, line := range lines {
		if err := line.Material.Validate(); err != nil {
			return err
		}
		if !line.Quantity.IsPositive() {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("line %d: reservation quantity must be greater than zero", i))
		}
		if _, dup := seen[line.Material]; dup {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("line %d: material %s listed twice", i, line.Material))
		}
		seen[line.Material] = struct{}{}
	}
	return nil
}

// Reserve creates one active reservation per line and raises each material's
// reserved quantity by the same amount. A material may only have one active
// hold per order.
func (s *Service) Reserve(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, planID *uuid.UUID, lines []Line) ([]models.MaterialReservation, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if err := validateLines(lines); err != nil {
		return nil, err
	}
	ordered := make([]Line, len(lines))
	copy(ordered, lines)
	sortLines(ordered)

	repo := s.repo.WithTx(tx)
	created := make([]models.MaterialReservation, 0, len(ordered))
	for _, line := range ordered {
		existing, err := repo.ActiveForOrderMaterial(ctx, orderID, line.Material)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("order %s already holds an active reservation for %s", orderID, line.Material))
		}
		if _, err := s.registry.AdjustReserved(tx, line.Material, line.Quantity); err != nil {
			return nil, err
		}
		now := s.now().UTC()
		res := models.MaterialReservation{
			ID:               uuid.New(),
			OrderID:          orderID,
			PlanID:           planID,
			MaterialType:     line.Material.Type,
			MaterialID:       line.Material.ID,
			OriginalQuantity: line.Quantity,
			ReservedQuantity: line.Quantity,
			ConsumedQuantity: decimal.Zero,
			Status:           enums.ReservationStatusActive,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := repo.Create(ctx, &res); err != nil {
			if dbpkg.IsUniqueViolation(err, activeReservationIndex) {
				return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, fmt.Sprintf("order %s already holds an active reservation for %s", orderID, line.Material))
			}
			return nil, err
		}
		created = append(created, res)
	}

	if err := s.emitCreated(ctx, tx, orderID, planID, created); err != nil {
		return nil, err
	}
	return created, nil
}

// ActiveFor finds the hold a production event should draw from: the plan's own
// reservation first, then the order's.
func (s *Service) ActiveFor(ctx context.Context, tx *gorm.DB, planID uuid.UUID, orderID *uuid.UUID, ref materials.Ref) (*models.MaterialReservation, error) {
	repo := s.repo.WithTx(tx)
	res, err := repo.ActiveForPlanMaterial(ctx, planID, ref)
	if err != nil || res != nil || orderID == nil {
		return res, err
	}
	return repo.ActiveForOrderMaterial(ctx, *orderID, ref)
}

// Consume moves up to amount from reserved to consumed and lowers the
// material's reserved quantity by what was taken. It returns the amount taken.
func (s *Service) Consume(ctx context.Context, tx *gorm.DB, res *models.MaterialReservation, amount decimal.Decimal) (decimal.Decimal, error) {
	if res == nil {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "reservation is required")
	}
	if !amount.IsPositive() {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "consumed amount must be greater than zero")
	}
	if res.Status != enums.ReservationStatusActive {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("reservation %s is %s", res.ID, res.Status))
	}
	take := decimal.Min(amount, res.ReservedQuantity)
	ref := materials.Ref{Type: res.MaterialType, ID: res.MaterialID}
	if take.IsPositive() {
		if _, err := s.registry.AdjustReserved(tx, ref, take.Neg()); err != nil {
			return decimal.Zero, err
		}
		res.ConsumedQuantity = res.ConsumedQuantity.Add(take)
		res.ReservedQuantity = res.ReservedQuantity.Sub(take)
	}
	now := s.now().UTC()
	res.UpdatedAt = now
	if res.ReservedQuantity.IsZero() {
		res.Status = enums.ReservationStatusCompleted
		res.ClosedAt = &now
	}
	if err := s.repo.WithTx(tx).Save(ctx, res); err != nil {
		return decimal.Zero, err
	}
	return take, nil
}

// Cancel releases the outstanding hold back to available stock. Consumed
// amounts stay consumed.
func (s *Service) Cancel(ctx context.Context, tx *gorm.DB, res *models.MaterialReservation) (decimal.Decimal, error) {
	if res == nil {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "reservation is required")
	}
	if res.Status != enums.ReservationStatusActive {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("reservation %s is %s", res.ID, res.Status))
	}
	released, err := s.release(ctx, tx, res, enums.ReservationStatusCancelled)
	if err != nil {
		return decimal.Zero, err
	}
	return released, nil
}

// CompleteForPlan closes the plan's remaining active holds once production is
// finished and returns their leftovers to available stock.
func (s *Service) CompleteForPlan(ctx context.Context, tx *gorm.DB, planID uuid.UUID) ([]models.MaterialReservation, error) {
	repo := s.repo.WithTx(tx)
	held, err := repo.HeldMaterialsByPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if err := s.lockHeldMaterials(tx, held); err != nil {
		return nil, err
	}
	rows, err := repo.ActiveByPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		if _, err := s.release(ctx, tx, &rows[i], enums.ReservationStatusCompleted); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

// CancelForPlan cancels the plan's active holds, used when a plan is deleted.
func (s *Service) CancelForPlan(ctx context.Context, tx *gorm.DB, planID uuid.UUID) ([]models.MaterialReservation, error) {
	repo := s.repo.WithTx(tx)
	held, err := repo.HeldMaterialsByPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if err := s.lockHeldMaterials(tx, held); err != nil {
		return nil, err
	}
	rows, err := repo.ActiveByPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		if _, err := s.release(ctx, tx, &rows[i], enums.ReservationStatusCancelled); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

// lockHeldMaterials takes the material row locks before any hold is locked.
// Production locks a material before drawing on its hold, so both paths
// acquire locks in the same order.
func (s *Service) lockHeldMaterials(tx *gorm.DB, refs []materials.Ref) error {
	materials.SortRefs(refs)
	for _, ref := range refs {
		if _, err := s.registry.Lock(tx, ref); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) release(ctx context.Context, tx *gorm.DB, res *models.MaterialReservation, status enums.ReservationStatus) (decimal.Decimal, error) {
	outstanding := res.ReservedQuantity
	ref := materials.Ref{Type: res.MaterialType, ID: res.MaterialID}
	if outstanding.IsPositive() {
		applied, err := s.registry.AdjustReserved(tx, ref, outstanding.Neg())
		if err != nil {
			return decimal.Zero, err
		}
		if !applied.Neg().Equal(outstanding) && s.logg != nil {
			logCtx := s.logg.WithMaterial(ctx, string(ref.Type), ref.ID.String())
			logCtx = s.logg.WithFields(logCtx, map[string]any{
				"reservation_id": res.ID.String(),
				"outstanding":    outstanding.String(),
				"released":       applied.Neg().String(),
			})
			s.logg.Warn(logCtx, "material reserved quantity was lower than the hold; release clamped at zero")
		}
	}
	now := s.now().UTC()
	res.ReservedQuantity = decimal.Zero
	res.Status = status
	res.ClosedAt = &now
	res.UpdatedAt = now
	if err := s.repo.WithTx(tx).Save(ctx, res); err != nil {
		return decimal.Zero, err
	}
	if err := s.emitReleased(ctx, tx, *res, outstanding); err != nil {
		return decimal.Zero, err
	}
	return outstanding, nil
}

// ReserveForOrder places holds for an order in its own transaction.
func (s *Service) ReserveForOrder(ctx context.Context, orderID uuid.UUID, lines []Line) ([]uuid.UUID, error) {
	var created []models.MaterialReservation
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		created, err = s.Reserve(ctx, tx, orderID, nil, lines)
		return err
	})
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(created))
	for _, res := range created {
		ids = append(ids, res.ID)
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{"order_id": orderID.String(), "reservations": len(ids)})
		s.logg.Info(logCtx, "order reservations created")
	}
	return ids, nil
}

// CancelResult reports what CancelReservations released.
type CancelResult struct {
	OrderID   uuid.UUID      `json:"orderId"`
	Cancelled []uuid.UUID    `json:"cancelled"`
	Released  []ReleasedHold `json:"released"`
}

type ReleasedHold struct {
	ReservationID uuid.UUID       `json:"reservationId"`
	Material      materials.Ref   `json:"material"`
	Quantity      decimal.Decimal `json:"quantity"`
}

// CancelReservations cancels every active hold of an order. Completed holds are
// left alone, so calling it twice is harmless.
func (s *Service) CancelReservations(ctx context.Context, orderID uuid.UUID) (CancelResult, error) {
	if orderID == uuid.Nil {
		return CancelResult{}, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	result := CancelResult{OrderID: orderID}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		held, err := repo.HeldMaterialsByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := s.lockHeldMaterials(tx, held); err != nil {
			return err
		}
		rows, err := repo.ActiveByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		for i := range rows {
			released, err := s.Cancel(ctx, tx, &rows[i])
			if err != nil {
				return err
			}
			result.Cancelled = append(result.Cancelled, rows[i].ID)
			result.Released = append(result.Released, ReleasedHold{
				ReservationID: rows[i].ID,
				Material:      materials.Ref{Type: rows[i].MaterialType, ID: rows[i].MaterialID},
				Quantity:      released,
			})
		}
		return nil
	})
	if err != nil {
		return CancelResult{}, err
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{"order_id": orderID.String(), "cancelled": len(result.Cancelled)})
		s.logg.Info(logCtx, "order reservations cancelled")
	}
	return result, nil
}

// MaterialTotal aggregates an order's holds on one material.
type MaterialTotal struct {
	Material materials.Ref   `json:"material"`
	Original decimal.Decimal `json:"originalQuantity"`
	Reserved decimal.Decimal `json:"reservedQuantity"`
	Consumed decimal.Decimal `json:"consumedQuantity"`
}

// Totals is the per-order read model.
type Totals struct {
	OrderID   uuid.UUID       `json:"orderId"`
	Active    int             `json:"active"`
	Completed int             `json:"completed"`
	Cancelled int             `json:"cancelled"`
	Materials []MaterialTotal `json:"materials"`
}

func (s *Service) Totals(ctx context.Context, orderID uuid.UUID) (Totals, error) {
	if orderID == uuid.Nil {
		return Totals{}, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	var rows []models.MaterialReservation
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		rows, err = s.repo.WithTx(tx).ListByOrder(ctx, orderID)
		return err
	})
	if err != nil {
		return Totals{}, err
	}
	return summarize(orderID, rows), nil
}

// List returns every reservation of an order, oldest first.
func (s *Service) List(ctx context.Context, orderID uuid.UUID) ([]models.MaterialReservation, error) {
	var rows []models.MaterialReservation
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		rows, err = s.repo.WithTx(tx).ListByOrder(ctx, orderID)
		return err
	})
	return rows, err
}

func summarize(orderID uuid.UUID, rows []models.MaterialReservation) Totals {
	out := Totals{OrderID: orderID, Materials: []MaterialTotal{}}
	index := map[materials.Ref]int{}
	for _, r := range rows {
		switch r.Status {
		case enums.ReservationStatusActive:
			out.Active++
		case enums.ReservationStatusCompleted:
			out.Completed++
		case enums.ReservationStatusCancelled:
			out.Cancelled++
		}
		ref := materials.Ref{Type: r.MaterialType, ID: r.MaterialID}
		i, ok := index[ref]
		if !ok {
			i = len(out.Materials)
			index[ref] = i
			out.Materials = append(out.Materials, MaterialTotal{Material: ref})
		}
		m := &out.Materials[i]
		m.Original = m.Original.Add(r.OriginalQuantity)
		m.Reserved = m.Reserved.Add(r.ReservedQuantity)
		m.Consumed = m.Consumed.Add(r.ConsumedQuantity)
	}
	return out
}

func sortLines(lines []Line) {
	refs := make([]materials.Ref, len(lines))
	byRef := make(map[materials.Ref]Line, len(lines))
	for i, l := range lines {
		refs[i] = l.Material
		byRef[l.Material] = l
	}
	materials.SortRefs(refs)
	for i, ref := range refs {
		lines[i] = byRef[ref]
	}
}

func (s *Service) emitCreated(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, planID *uuid.UUID, rows []models.MaterialReservation) error {
	if s.outbox == nil || len(rows) == 0 {
		return nil
	}
	data := payloads.ReservationsCreatedEvent{OrderID: orderID, PlanID: planID}
	for _, r := range rows {
		data.ReservationIDs = append(data.ReservationIDs, r.ID)
		data.Lines = append(data.Lines, payloads.MaterialLine{MaterialType: r.MaterialType, MaterialID: r.MaterialID, Quantity: r.OriginalQuantity})
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventReservationsCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Data:          data,
	})
}

func (s *Service) emitReleased(ctx context.Context, tx *gorm.DB, r models.MaterialReservation, released decimal.Decimal) error {
	if s.outbox == nil {
		return nil
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventReservationReleased,
		AggregateType: enums.AggregateOrder,
		AggregateID:   r.OrderID,
		Data: payloads.ReservationReleasedEvent{
			ReservationID: r.ID,
			OrderID:       r.OrderID,
			MaterialType:  r.MaterialType,
			MaterialID:    r.MaterialID,
			Released:      released,
			Status:        r.Status,
		},
	})
}
