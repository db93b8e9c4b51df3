package reservations

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/mfg-ledger-backend/internal/materials"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/db"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/db/dbtest"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/db/models"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/mfg-ledger-backend/pkg/errors"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/outbox"
)

type fakeEmitter struct {
	events []outbox.DomainEvent
}

func (f *fakeEmitter) Emit(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	f.events = append(f.events, event)
	return nil
}

type fixture struct {
	client   *db.Client
	svc      *Service
	registry *materials.Registry
	emitter  *fakeEmitter
	steel    materials.Ref
	paint    materials.Ref
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	client := dbtest.Open(t)
	registry := materials.NewRegistry()
	emitter := &fakeEmitter{}
	svc, err := NewService(ServiceParams{
		DB:         client,
		Repository: NewRepository(client.DB()),
		Registry:   registry,
		Outbox:     emitter,
		Now:        func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)

	f := fixture{client: client, svc: svc, registry: registry, emitter: emitter}
	require.NoError(t, client.WithTx(context.Background(), func(tx *gorm.DB) error {
		steel, err := registry.Create(tx, enums.MaterialTypeRaw, materials.CreateInput{Code: "STEEL", Name: "Steel"})
		if err != nil {
			return err
		}
		paint, err := registry.Create(tx, enums.MaterialTypeSemi, materials.CreateInput{Code: "PAINT", Name: "Primer"})
		if err != nil {
			return err
		}
		f.steel, f.paint = steel.Ref, paint.Ref
		return nil
	}))
	return f
}

func (f fixture) reserved(t *testing.T, ref materials.Ref) decimal.Decimal {
	t.Helper()
	stock, err := f.registry.Get(f.client.DB(), ref)
	require.NoError(t, err)
	return stock.Reserved
}

func (f fixture) consume(t *testing.T, planID uuid.UUID, orderID uuid.UUID, ref materials.Ref, amount string) (decimal.Decimal, *models.MaterialReservation) {
	t.Helper()
	var (
		taken decimal.Decimal
		res   *models.MaterialReservation
	)
	require.NoError(t, f.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		var err error
		res, err = f.svc.ActiveFor(context.Background(), tx, planID, &orderID, ref)
		if err != nil {
			return err
		}
		require.NotNil(t, res)
		taken, err = f.svc.Consume(context.Background(), tx, res, dec(amount))
		return err
	}))
	return taken, res
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestReserveForOrderRaisesMaterialReserved(t *testing.T) {
	f := newFixture(t)
	orderID := uuid.New()

	ids, err := f.svc.ReserveForOrder(context.Background(), orderID, []Line{
		{Material: f.steel, Quantity: dec("12.5")},
		{Material: f.paint, Quantity: dec("3")},
	})
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.True(t, f.reserved(t, f.steel).Equal(dec("12.5")))
	assert.True(t, f.reserved(t, f.paint).Equal(dec("3")))

	require.Len(t, f.emitter.events, 1)
	assert.Equal(t, enums.EventReservationsCreated, f.emitter.events[0].EventType)
	assert.Equal(t, orderID, f.emitter.events[0].AggregateID)
}

func TestReserveValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ReserveForOrder(ctx, uuid.New(), nil)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	_, err = f.svc.ReserveForOrder(ctx, uuid.New(), []Line{{Material: f.steel, Quantity: dec("0")}})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	_, err = f.svc.ReserveForOrder(ctx, uuid.New(), []Line{
		{Material: f.steel, Quantity: dec("1")},
		{Material: f.steel, Quantity: dec("2")},
	})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	_, err = f.svc.ReserveForOrder(ctx, uuid.Nil, []Line{{Material: f.steel, Quantity: dec("1")}})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestSecondActiveReservationConflicts(t *testing.T) {
	f := newFixture(t)
	orderID := uuid.New()
	ctx := context.Background()

	_, err := f.svc.ReserveForOrder(ctx, orderID, []Line{{Material: f.steel, Quantity: dec("5")}})
	require.NoError(t, err)

	_, err = f.svc.ReserveForOrder(ctx, orderID, []Line{{Material: f.steel, Quantity: dec("1")}})
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.CodeOf(err))
	assert.True(t, f.reserved(t, f.steel).Equal(dec("5")), "rejected reservation must not touch reserved quantity")
}

func TestConsumeCompletesAfterFullDraw(t *testing.T) {
	f := newFixture(t)
	orderID, planID := uuid.New(), uuid.New()
	require.NoError(t, f.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		_, err := f.svc.Reserve(context.Background(), tx, orderID, &planID, []Line{{Material: f.steel, Quantity: dec("500")}})
		return err
	}))

	taken, res := f.consume(t, planID, orderID, f.steel, "100")
	assert.True(t, taken.Equal(dec("100")))
	taken, res = f.consume(t, planID, orderID, f.steel, "150")
	assert.True(t, taken.Equal(dec("150")))
	assert.True(t, res.ConsumedQuantity.Equal(dec("250")))
	assert.True(t, res.ReservedQuantity.Equal(dec("250")))
	assert.Equal(t, enums.ReservationStatusActive, res.Status)
	assert.True(t, f.reserved(t, f.steel).Equal(dec("250")))

	taken, res = f.consume(t, planID, orderID, f.steel, "250")
	assert.True(t, taken.Equal(dec("250")))
	assert.True(t, res.ConsumedQuantity.Equal(dec("500")))
	assert.True(t, res.ReservedQuantity.IsZero())
	assert.Equal(t, enums.ReservationStatusCompleted, res.Status)
	assert.NotNil(t, res.ClosedAt)
	assert.True(t, f.reserved(t, f.steel).IsZero())
}

func TestConsumeClampsToOutstandingHold(t *testing.T) {
	f := newFixture(t)
	orderID, planID := uuid.New(), uuid.New()
	require.NoError(t, f.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		_, err := f.svc.Reserve(context.Background(), tx, orderID, &planID, []Line{{Material: f.steel, Quantity: dec("10")}})
		return err
	}))

	taken, res := f.consume(t, planID, orderID, f.steel, "25")
	assert.True(t, taken.Equal(dec("10")))
	assert.True(t, res.ConsumedQuantity.Equal(res.OriginalQuantity))
	assert.Equal(t, enums.ReservationStatusCompleted, res.Status)

	err := f.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		_, err := f.svc.Consume(context.Background(), tx, res, dec("1"))
		return err
	})
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))
}

func TestCancelReleasesOnlyOutstanding(t *testing.T) {
	f := newFixture(t)
	orderID, planID := uuid.New(), uuid.New()
	ctx := context.Background()
	require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := f.svc.Reserve(ctx, tx, orderID, &planID, []Line{
			{Material: f.steel, Quantity: dec("40")},
			{Material: f.paint, Quantity: dec("8")},
		})
		return err
	}))
	f.consume(t, planID, orderID, f.steel, "15")

	result, err := f.svc.CancelReservations(ctx, orderID)
	require.NoError(t, err)
	assert.Len(t, result.Cancelled, 2)
	assert.True(t, f.reserved(t, f.steel).IsZero())
	assert.True(t, f.reserved(t, f.paint).IsZero())

	totals, err := f.svc.Totals(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, 2, totals.Cancelled)
	assert.Equal(t, 0, totals.Active)
	for _, m := range totals.Materials {
		assert.True(t, m.Reserved.IsZero())
		if m.Material == f.steel {
			assert.True(t, m.Consumed.Equal(dec("15")), "consumed amounts are not reversed")
			assert.True(t, m.Original.Equal(dec("40")))
		}
	}

	again, err := f.svc.CancelReservations(ctx, orderID)
	require.NoError(t, err)
	assert.Empty(t, again.Cancelled)
}

func TestCancelLocksMaterialsBeforeHolds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orderID := uuid.New()
	_, err := f.svc.ReserveForOrder(ctx, orderID, []Line{
		{Material: f.steel, Quantity: dec("10")},
		{Material: f.paint, Quantity: dec("2")},
	})
	require.NoError(t, err)

	var locked []string
	require.NoError(t, f.client.DB().Callback().Query().After("gorm:query").Register("test:lock_order", func(tx *gorm.DB) {
		if _, ok := tx.Statement.Clauses["FOR"]; ok {
			locked = append(locked, tx.Statement.Table)
		}
	}))

	_, err = f.svc.CancelReservations(ctx, orderID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(locked), 3, "%v", locked)
	assert.ElementsMatch(t, []string{"raw_materials", "semi_finished_products"}, locked[:2])
	assert.Equal(t, "material_reservations", locked[2])
}

func TestCancelClampsWhenMaterialReservedIsStale(t *testing.T) {
	f := newFixture(t)
	orderID := uuid.New()
	ctx := context.Background()
	_, err := f.svc.ReserveForOrder(ctx, orderID, []Line{{Material: f.steel, Quantity: dec("30")}})
	require.NoError(t, err)

	// drift the material's own counter below the hold
	require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := f.registry.AdjustReserved(tx, f.steel, dec("-20"))
		return err
	}))

	_, err = f.svc.CancelReservations(ctx, orderID)
	require.NoError(t, err)
	assert.True(t, f.reserved(t, f.steel).IsZero(), "release must never drive reserved negative")
}

func TestCompleteForPlanReleasesLeftovers(t *testing.T) {
	f := newFixture(t)
	orderID, planID := uuid.New(), uuid.New()
	ctx := context.Background()
	require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := f.svc.Reserve(ctx, tx, orderID, &planID, []Line{{Material: f.steel, Quantity: dec("20")}})
		return err
	}))
	f.consume(t, planID, orderID, f.steel, "12")

	var closed []models.MaterialReservation
	require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		closed, err = f.svc.CompleteForPlan(ctx, tx, planID)
		return err
	}))
	require.Len(t, closed, 1)
	assert.Equal(t, enums.ReservationStatusCompleted, closed[0].Status)
	assert.True(t, f.reserved(t, f.steel).IsZero())

	rows, err := f.svc.List(ctx, orderID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].ConsumedQuantity.Equal(dec("12")))
	assert.True(t, rows[0].ReservedQuantity.IsZero())

	last := f.emitter.events[len(f.emitter.events)-1]
	assert.Equal(t, enums.EventReservationReleased, last.EventType)
}

func TestActiveForFallsBackToOrder(t *testing.T) {
	f := newFixture(t)
	orderID := uuid.New()
	ctx := context.Background()
	_, err := f.svc.ReserveForOrder(ctx, orderID, []Line{{Material: f.paint, Quantity: dec("2")}})
	require.NoError(t, err)

	require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
		res, err := f.svc.ActiveFor(ctx, tx, uuid.New(), nil, f.paint)
		require.NoError(t, err)
		assert.Nil(t, res)

		res, err = f.svc.ActiveFor(ctx, tx, uuid.New(), &orderID, f.paint)
		require.NoError(t, err)
		require.NotNil(t, res)
		assert.Equal(t, orderID, res.OrderID)
		return nil
	}))
}
