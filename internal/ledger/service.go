package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
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
	"github.com/angelmondragon/mfg-ledger-backend/pkg/metrics"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/outbox"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/pagination"
)

var (
	// ErrDuplicateMovement means the (event, material) pair already has a movement.
	ErrDuplicateMovement = errors.New("duplicate stock movement")
	// ErrNegativeStock is returned when negative balances are disabled.
	ErrNegativeStock = errors.New("stock would become negative")
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// ServiceParams wires the ledger service.
type ServiceParams struct {
	DB                 txRunner
	Repository         Repository
	Registry           *materials.Registry
	Outbox             eventEmitter
	Metrics            *metrics.LedgerMetrics
	Logger             *logger.Logger
	AllowNegativeStock bool
	Now                func() time.Time
}

// Service posts stock movements and keeps material quantities in step with them.
type Service struct {
	tx            txRunner
	repo          Repository
	registry      *materials.Registry
	outbox        eventEmitter
	metrics       *metrics.LedgerMetrics
	logg          *logger.Logger
	allowNegative bool
	now           func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Registry == nil {
		return nil, fmt.Errorf("material registry required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		tx:            params.DB,
		repo:          params.Repository,
		registry:      params.Registry,
		outbox:        params.Outbox,
		metrics:       params.Metrics,
		logg:          params.Logger,
		allowNegative: params.AllowNegativeStock,
		now:           now,
	}, nil
}

// Registry exposes the material registry the ledger posts against.
func (s *Service) Registry() *materials.Registry {
	return s.registry
}

// StorageScale is the number of decimal places the quantity columns keep.
const StorageScale int32 = 4

// fitsStorage reports whether d survives a numeric(18,4) column unchanged.
func fitsStorage(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(StorageScale))
}

// PostInput describes one signed change to a material's on-hand quantity.
type PostInput struct {
	Material          materials.Ref
	MovementType      enums.MovementType
	Quantity          decimal.Decimal
	ActorID           uuid.UUID
	Description       string
	ProductionEventID *uuid.UUID
	// OccurredAt is only used by PostBackfill; Post stamps the current time.
	OccurredAt  time.Time
	Synthesized bool
}

func (in PostInput) validate() error {
	if err := in.Material.Validate(); err != nil {
		return err
	}
	if !in.MovementType.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid movement type %q", in.MovementType))
	}
	if in.Quantity.IsZero() {
		return pkgerrors.New(pkgerrors.CodeValidation, "movement quantity must not be zero")
	}
	if !fitsStorage(in.Quantity) {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("movement quantity %s has more than %d decimal places", in.Quantity, StorageScale))
	}
	if in.ActorID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "actor id is required")
	}
	return nil
}

// Post locks the material, writes the movement with before/after taken from the
// locked balance, and updates the on-hand quantity. It runs on the caller's
// transaction.
func (s *Service) Post(ctx context.Context, tx *gorm.DB, in PostInput) (models.StockMovement, error) {
	if err := in.validate(); err != nil {
		return models.StockMovement{}, err
	}
	stock, err := s.registry.Lock(tx, in.Material)
	if err != nil {
		return models.StockMovement{}, err
	}
	repo := s.repo.WithTx(tx)
	if in.ProductionEventID != nil {
		existing, err := repo.ForEventMaterial(ctx, *in.ProductionEventID, in.Material)
		if err != nil {
			return models.StockMovement{}, err
		}
		if len(existing) > 0 {
			return models.StockMovement{}, duplicate(*in.ProductionEventID, in.Material)
		}
	}

	after := stock.Quantity.Add(in.Quantity)
	if after.IsNegative() && !s.allowNegative {
		return models.StockMovement{}, pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrNegativeStock,
			fmt.Sprintf("%s has %s on hand, cannot apply %s", in.Material, stock.Quantity, in.Quantity))
	}

	movement := s.movementFrom(in, stock.Quantity, after, s.now())
	if err := s.create(ctx, repo, &movement); err != nil {
		return models.StockMovement{}, err
	}
	if err := s.registry.SetQuantity(tx, in.Material, after); err != nil {
		return models.StockMovement{}, err
	}
	if s.logg != nil {
		s.logg.Debug(s.logg.WithMaterial(ctx, string(in.Material.Type), in.Material.ID.String()), "stock movement posted")
	}
	return movement, nil
}

// PostBackfill records a movement at in.OccurredAt, after movements that are
// already on file. Its before/after comes from walking the material's history
// backward from the on-hand balance. When applyToOnHand is false the on-hand
// quantity already contains the change and is left untouched.
func (s *Service) PostBackfill(ctx context.Context, tx *gorm.DB, in PostInput, applyToOnHand bool) (models.StockMovement, error) {
	if err := in.validate(); err != nil {
		return models.StockMovement{}, err
	}
	if in.OccurredAt.IsZero() {
		return models.StockMovement{}, pkgerrors.New(pkgerrors.CodeValidation, "backfilled movements need an occurrence time")
	}
	stock, err := s.registry.Lock(tx, in.Material)
	if err != nil {
		return models.StockMovement{}, err
	}
	repo := s.repo.WithTx(tx)
	if in.ProductionEventID != nil {
		existing, err := repo.ForEventMaterial(ctx, *in.ProductionEventID, in.Material)
		if err != nil {
			return models.StockMovement{}, err
		}
		if len(existing) > 0 {
			return models.StockMovement{}, duplicate(*in.ProductionEventID, in.Material)
		}
	}
	history, err := repo.AllForMaterial(ctx, in.Material)
	if err != nil {
		return models.StockMovement{}, err
	}

	current := stock.Quantity
	if applyToOnHand {
		current = current.Add(in.Quantity)
	}
	id := uuid.New()
	entries := make([]Entry, 0, len(history)+1)
	for _, m := range history {
		entries = append(entries, Entry{ID: m.ID, Quantity: m.Quantity, At: m.CreatedAt})
	}
	entries = InsertOrdered(entries, Entry{ID: id, Quantity: in.Quantity, At: in.OccurredAt.UTC()})
	balance, _ := balanceOf(BackfillBalances(entries, current), id)

	movement := s.movementFrom(in, balance.Before, balance.After, in.OccurredAt)
	movement.ID = id
	if err := s.create(ctx, repo, &movement); err != nil {
		return models.StockMovement{}, err
	}
	if applyToOnHand {
		if current.IsNegative() && !s.allowNegative {
			return models.StockMovement{}, pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrNegativeStock,
				fmt.Sprintf("%s would end at %s", in.Material, current))
		}
		if err := s.registry.SetQuantity(tx, in.Material, current); err != nil {
			return models.StockMovement{}, err
		}
	}
	return movement, nil
}

func (s *Service) movementFrom(in PostInput, before, after decimal.Decimal, at time.Time) models.StockMovement {
	return models.StockMovement{
		ID:                uuid.New(),
		MaterialType:      in.Material.Type,
		MaterialID:        in.Material.ID,
		MovementType:      in.MovementType,
		Quantity:          in.Quantity,
		BeforeQuantity:    before,
		AfterQuantity:     after,
		ActorID:           in.ActorID,
		Description:       strings.TrimSpace(in.Description),
		ProductionEventID: in.ProductionEventID,
		Synthesized:       in.Synthesized,
		CreatedAt:         at.UTC(),
	}
}

func (s *Service) create(ctx context.Context, repo Repository, movement *models.StockMovement) error {
	if err := repo.Create(ctx, movement); err != nil {
		if dbpkg.IsUniqueViolation(err, models.StockMovementEventMaterialIndex) && movement.ProductionEventID != nil {
			return duplicate(*movement.ProductionEventID, materials.Ref{Type: movement.MaterialType, ID: movement.MaterialID})
		}
		return err
	}
	return nil
}

func duplicate(eventID uuid.UUID, ref materials.Ref) error {
	return pkgerrors.Wrap(pkgerrors.CodeConflict, ErrDuplicateMovement,
		fmt.Sprintf("production event %s already has a movement for %s", eventID, ref))
}

// LinkEvent attaches a production event to an unlinked movement. Only the link
// column changes.
func (s *Service) LinkEvent(ctx context.Context, tx *gorm.DB, movementID, eventID uuid.UUID) (bool, error) {
	linked, err := s.repo.WithTx(tx).LinkEvent(ctx, movementID, eventID)
	if err != nil && dbpkg.IsUniqueViolation(err, models.StockMovementEventMaterialIndex) {
		return false, pkgerrors.Wrap(pkgerrors.CodeConflict, ErrDuplicateMovement, "event already linked for this material")
	}
	return linked, err
}

func (s *Service) ForEvent(ctx context.Context, tx *gorm.DB, eventID uuid.UUID) ([]models.StockMovement, error) {
	return s.repo.WithTx(tx).ForEvent(ctx, eventID)
}

// UnlinkedCandidates lists movements eligible for legacy linking.
func (s *Service) UnlinkedCandidates(ctx context.Context, tx *gorm.DB, ref materials.Ref, actorID uuid.UUID, from, to time.Time) ([]models.StockMovement, error) {
	return s.repo.WithTx(tx).Unlinked(ctx, ref, actorID, from.UTC(), to.UTC())
}

// RecordInput is a manual movement entered by an operator.
type RecordInput struct {
	Material     materials.Ref
	MovementType enums.MovementType
	// Quantity is a magnitude for entry, exit and sale, and signed for transfer.
	Quantity decimal.Decimal
	// TargetCount is the counted on-hand for count_adjustment.
	TargetCount *decimal.Decimal
	ActorID     uuid.UUID
	Description string
}

// Record posts a manual movement in its own transaction.
func (s *Service) Record(ctx context.Context, in RecordInput) (models.StockMovement, error) {
	if !in.MovementType.IsManual() {
		return models.StockMovement{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("movement type %q cannot be recorded manually", in.MovementType))
	}
	if err := in.Material.Validate(); err != nil {
		return models.StockMovement{}, err
	}

	var movement models.StockMovement
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		quantity, err := s.manualQuantity(tx, in)
		if err != nil {
			return err
		}
		movement, err = s.Post(ctx, tx, PostInput{
			Material:     in.Material,
			MovementType: in.MovementType,
			Quantity:     quantity,
			ActorID:      in.ActorID,
			Description:  in.Description,
		})
		if err != nil {
			return err
		}
		return s.emitRecorded(ctx, tx, movement)
	})
	if err != nil {
		return models.StockMovement{}, err
	}

	s.metrics.IncMovement(string(movement.MaterialType), string(movement.MovementType))
	if s.logg != nil {
		logCtx := s.logg.WithMaterial(ctx, string(movement.MaterialType), movement.MaterialID.String())
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"movement_id":   movement.ID.String(),
			"movement_type": movement.MovementType,
			"quantity":      movement.Quantity.String(),
			"after":         movement.AfterQuantity.String(),
		})
		s.logg.Info(logCtx, "manual stock movement recorded")
	}
	return movement, nil
}

func (s *Service) manualQuantity(tx *gorm.DB, in RecordInput) (decimal.Decimal, error) {
	switch in.MovementType {
	case enums.MovementTypeEntry:
		if !in.Quantity.IsPositive() {
			return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "entry quantity must be greater than zero")
		}
		return in.Quantity, nil
	case enums.MovementTypeExit, enums.MovementTypeSale:
		if !in.Quantity.IsPositive() {
			return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("%s quantity must be greater than zero", in.MovementType))
		}
		return in.Quantity.Neg(), nil
	case enums.MovementTypeTransfer:
		if in.Quantity.IsZero() {
			return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "transfer quantity must not be zero")
		}
		return in.Quantity, nil
	case enums.MovementTypeCountAdjustment:
		if in.TargetCount == nil || in.TargetCount.IsNegative() {
			return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "count adjustment needs a non-negative target count")
		}
		if !fitsStorage(*in.TargetCount) {
			return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("target count has more than %d decimal places", StorageScale))
		}
		stock, err := s.registry.Lock(tx, in.Material)
		if err != nil {
			return decimal.Zero, err
		}
		delta := in.TargetCount.Sub(stock.Quantity)
		if delta.IsZero() {
			return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "counted quantity matches on-hand")
		}
		return delta, nil
	default:
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported movement type %q", in.MovementType))
	}
}

func actorSource(mt enums.MovementType) string {
	if mt.IsManual() {
		return "api"
	}
	return "production"
}

func (s *Service) emitRecorded(ctx context.Context, tx *gorm.DB, m models.StockMovement) error {
	if s.outbox == nil {
		return nil
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventStockMovementRecorded,
		AggregateType: enums.AggregateMaterial,
		AggregateID:   m.MaterialID,
		Actor:         outbox.Actor(m.ActorID, actorSource(m.MovementType)),
		OccurredAt:    m.CreatedAt,
		Data: payloads.StockMovementRecordedEvent{
			MovementID:     m.ID,
			MaterialType:   m.MaterialType,
			MaterialID:     m.MaterialID,
			MovementType:   m.MovementType,
			Quantity:       m.Quantity,
			BeforeQuantity: m.BeforeQuantity,
			AfterQuantity:  m.AfterQuantity,
		},
	})
}

// CreateMaterialInput creates a stocked row and optionally posts its opening
// balance as an entry movement.
type CreateMaterialInput struct {
	Type            enums.MaterialType
	Code            string
	Name            string
	Unit            string
	OpeningQuantity decimal.Decimal
	ActorID         uuid.UUID
}

func (s *Service) CreateMaterial(ctx context.Context, in CreateMaterialInput) (materials.Stock, error) {
	if !in.Type.IsValid() {
		return materials.Stock{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown material type %q", in.Type))
	}
	if in.OpeningQuantity.IsNegative() {
		return materials.Stock{}, pkgerrors.New(pkgerrors.CodeValidation, "opening quantity must not be negative")
	}
	var stock materials.Stock
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		created, err := s.registry.Create(tx, in.Type, materials.CreateInput{Code: in.Code, Name: in.Name, Unit: in.Unit})
		if err != nil {
			return err
		}
		stock = created
		if !in.OpeningQuantity.IsPositive() {
			return nil
		}
		movement, err := s.Post(ctx, tx, PostInput{
			Material:     created.Ref,
			MovementType: enums.MovementTypeEntry,
			Quantity:     in.OpeningQuantity,
			ActorID:      in.ActorID,
			Description:  "opening balance",
		})
		if err != nil {
			return err
		}
		stock.Quantity = movement.AfterQuantity
		return s.emitRecorded(ctx, tx, movement)
	})
	if err != nil {
		return materials.Stock{}, err
	}
	if s.logg != nil {
		s.logg.Info(s.logg.WithMaterial(ctx, string(stock.Ref.Type), stock.Ref.ID.String()), "material created")
	}
	return stock, nil
}

// OnHand returns the material row as currently stored.
func (s *Service) OnHand(ctx context.Context, ref materials.Ref) (materials.Stock, error) {
	if err := ref.Validate(); err != nil {
		return materials.Stock{}, err
	}
	var stock materials.Stock
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		stock, err = s.registry.Get(tx, ref)
		return err
	})
	return stock, err
}

// HistoryPage is one page of a material's movements, oldest first.
type HistoryPage struct {
	Movements  []models.StockMovement `json:"movements"`
	NextCursor string                 `json:"nextCursor,omitempty"`
}

func (s *Service) History(ctx context.Context, ref materials.Ref, params pagination.Params) (HistoryPage, error) {
	if err := ref.Validate(); err != nil {
		return HistoryPage{}, err
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return HistoryPage{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	limit := pagination.NormalizeLimit(params.Limit)

	var page HistoryPage
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.registry.Get(tx, ref); err != nil {
			return err
		}
		rows, err := s.repo.WithTx(tx).ListByMaterial(ctx, ref, cursor, pagination.LimitWithBuffer(limit))
		if err != nil {
			return err
		}
		page.Movements, page.NextCursor = pagination.Trim(rows, limit, func(m models.StockMovement) pagination.Cursor {
			return pagination.Cursor{CreatedAt: m.CreatedAt, ID: m.ID}
		})
		return nil
	})
	return page, err
}

// Reconstruction compares a material's on-hand quantity with the sum of its
// movements.
type Reconstruction struct {
	Ref        materials.Ref   `json:"ref"`
	OnHand     decimal.Decimal `json:"onHand"`
	Sum        decimal.Decimal `json:"sum"`
	Movements  int             `json:"movements"`
	Consistent bool            `json:"consistent"`
	// ChainBreaks lists movements whose before does not match the previous after,
	// which is expected next to backfilled entries.
	ChainBreaks []uuid.UUID `json:"chainBreaks,omitempty"`
}

func (s *Service) Reconstruct(ctx context.Context, ref materials.Ref) (Reconstruction, error) {
	if err := ref.Validate(); err != nil {
		return Reconstruction{}, err
	}
	var out Reconstruction
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		out, err = s.ReconstructTx(ctx, tx, ref)
		return err
	})
	return out, err
}

// ReconstructTx is Reconstruct on the caller's transaction. The material row is
// locked so the comparison holds until the transaction ends.
func (s *Service) ReconstructTx(ctx context.Context, tx *gorm.DB, ref materials.Ref) (Reconstruction, error) {
	stock, err := s.registry.Lock(tx, ref)
	if err != nil {
		return Reconstruction{}, err
	}
	rows, err := s.repo.WithTx(tx).AllForMaterial(ctx, ref)
	if err != nil {
		return Reconstruction{}, err
	}
	return reconstruct(ref, stock.Quantity, rows), nil
}

func reconstruct(ref materials.Ref, onHand decimal.Decimal, rows []models.StockMovement) Reconstruction {
	out := Reconstruction{Ref: ref, OnHand: onHand, Sum: decimal.Zero, Movements: len(rows)}
	prevAfter := decimal.Zero
	for i, m := range rows {
		out.Sum = out.Sum.Add(m.Quantity)
		if i > 0 && !m.BeforeQuantity.Equal(prevAfter) {
			out.ChainBreaks = append(out.ChainBreaks, m.ID)
		}
		prevAfter = m.AfterQuantity
	}
	out.Consistent = out.Sum.Equal(onHand)
	return out
}
