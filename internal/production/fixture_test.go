package production

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/mfg-ledger-backend/internal/bom"
	"github.com/angelmondragon/mfg-ledger-backend/internal/ledger"
	"github.com/angelmondragon/mfg-ledger-backend/internal/materials"
	"github.com/angelmondragon/mfg-ledger-backend/internal/reservations"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/db"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/db/dbtest"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/db/models"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/enums"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/outbox"
)

type fakeEmitter struct {
	mu     sync.Mutex
	events []outbox.DomainEvent
}

func (f *fakeEmitter) Emit(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEmitter) EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	f.mu.Lock()
	for _, e := range f.events {
		if e.EventType == event.EventType && e.AggregateID == event.AggregateID {
			f.mu.Unlock()
			return nil
		}
	}
	f.mu.Unlock()
	return f.Emit(ctx, tx, event)
}

func (f *fakeEmitter) ofType(t enums.OutboxEventType) []outbox.DomainEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []outbox.DomainEvent
	for _, e := range f.events {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type fixture struct {
	client       *db.Client
	registry     *materials.Registry
	emitter      *fakeEmitter
	repo         Repository
	ledger       *ledger.Service
	reservations *reservations.Service
	bom          *bom.Service
	handler      *Handler
	svc          *Service
	actor        uuid.UUID
	product      materials.Ref
	steel        materials.Ref
	paint        materials.Ref
}

// newFixture builds a chair made of 1 m of steel and 0.25 l of primer per
// unit, with 1000 m of steel and 200 l of primer on hand.
func newFixture(t *testing.T, inline bool) fixture {
	t.Helper()
	ctx := context.Background()
	client := dbtest.Open(t)
	clock := &stepClock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	registry := materials.NewRegistry()
	emitter := &fakeEmitter{}

	ledgerSvc, err := ledger.NewService(ledger.ServiceParams{
		DB:                 client,
		Repository:         ledger.NewRepository(client.DB()),
		Registry:           registry,
		Outbox:             emitter,
		AllowNegativeStock: true,
		Now:                clock.Now,
	})
	require.NoError(t, err)
	resSvc, err := reservations.NewService(reservations.ServiceParams{
		DB:         client,
		Repository: reservations.NewRepository(client.DB()),
		Registry:   registry,
		Outbox:     emitter,
		Now:        clock.Now,
	})
	require.NoError(t, err)
	bomSvc, err := bom.NewService(client, registry, nil)
	require.NoError(t, err)

	repo := NewRepository(client.DB())
	handler, err := NewHandler(HandlerParams{
		DB:           client,
		Repository:   repo,
		Snapshots:    bomSvc,
		Ledger:       ledgerSvc,
		Reservations: resSvc,
		Outbox:       emitter,
		Now:          clock.Now,
	})
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{
		DB:           client,
		Repository:   repo,
		Registry:     registry,
		Snapshots:    bomSvc,
		Reservations: resSvc,
		Applier:      handler,
		Outbox:       emitter,
		InlineApply:  inline,
		Now:          clock.Now,
	})
	require.NoError(t, err)

	actor := uuid.New()
	create := func(typ enums.MaterialType, code string, opening string) materials.Ref {
		stock, err := ledgerSvc.CreateMaterial(ctx, ledger.CreateMaterialInput{
			Type:            typ,
			Code:            code,
			Name:            code,
			OpeningQuantity: dec(opening),
			ActorID:         actor,
		})
		require.NoError(t, err)
		return stock.Ref
	}
	product := create(enums.MaterialTypeFinished, "CHAIR", "0")
	steel := create(enums.MaterialTypeRaw, "STEEL", "1000")
	paint := create(enums.MaterialTypeSemi, "PRIMER", "200")

	_, err = bomSvc.DefineBOM(ctx, product.ID, []bom.DefinitionLine{
		{Material: steel, QuantityPerUnit: dec("1")},
		{Material: paint, QuantityPerUnit: dec("0.25")},
	})
	require.NoError(t, err)
	emitter.events = nil

	return fixture{
		client:       client,
		registry:     registry,
		emitter:      emitter,
		repo:         repo,
		ledger:       ledgerSvc,
		reservations: resSvc,
		bom:          bomSvc,
		handler:      handler,
		svc:          svc,
		actor:        actor,
		product:      product,
		steel:        steel,
		paint:        paint,
	}
}

func (f fixture) createPlan(t *testing.T, planned string, orderID *uuid.UUID) models.ProductionPlan {
	t.Helper()
	view, err := f.svc.CreatePlan(context.Background(), CreatePlanInput{
		ProductID:       f.product.ID,
		OrderID:         orderID,
		PlannedQuantity: dec(planned),
		ActorID:         f.actor,
	})
	require.NoError(t, err)
	return view.Plan
}

func (f fixture) record(t *testing.T, planID uuid.UUID, qty string) RecordResult {
	t.Helper()
	res, err := f.svc.RecordProduction(context.Background(), RecordInput{
		PlanID:           planID,
		QuantityProduced: dec(qty),
		ActorID:          f.actor,
	})
	require.NoError(t, err)
	return res
}

func (f fixture) stock(t *testing.T, ref materials.Ref) materials.Stock {
	t.Helper()
	stock, err := f.registry.Get(f.client.DB(), ref)
	require.NoError(t, err)
	return stock
}

func (f fixture) event(t *testing.T, id uuid.UUID) *models.ProductionEvent {
	t.Helper()
	event, err := f.repo.GetEvent(context.Background(), id)
	require.NoError(t, err)
	return event
}

func (f fixture) movements(t *testing.T, ref materials.Ref, movementType enums.MovementType) []models.StockMovement {
	t.Helper()
	var rows []models.StockMovement
	require.NoError(t, f.client.DB().
		Where("material_type = ? AND material_id = ? AND movement_type = ?", ref.Type, ref.ID, movementType).
		Order("created_at ASC").
		Find(&rows).Error)
	return rows
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}
