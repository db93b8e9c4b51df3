package ledger

import (
	"context"
	"errors"
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
	"github.com/angelmondragon/mfg-ledger-backend/pkg/pagination"
)

type fakeEmitter struct {
	events []outbox.DomainEvent
	err    error
}

func (f *fakeEmitter) Emit(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

type stepClock struct {
	t time.Time
}

func (c *stepClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

type ledgerFixture struct {
	client  *db.Client
	svc     *Service
	emitter *fakeEmitter
	clock   *stepClock
	actor   uuid.UUID
	steel   materials.Ref
}

func newLedgerFixture(t *testing.T, allowNegative bool) ledgerFixture {
	t.Helper()
	client := dbtest.Open(t)
	emitter := &fakeEmitter{}
	clock := &stepClock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	svc, err := NewService(ServiceParams{
		DB:                 client,
		Repository:         NewRepository(client.DB()),
		Registry:           materials.NewRegistry(),
		Outbox:             emitter,
		AllowNegativeStock: allowNegative,
		Now:                clock.Now,
	})
	require.NoError(t, err)

	actor := uuid.New()
	steel, err := svc.CreateMaterial(context.Background(), CreateMaterialInput{
		Type:            enums.MaterialTypeRaw,
		Code:            "STEEL",
		Name:            "Steel tube",
		Unit:            "m",
		OpeningQuantity: dec("100"),
		ActorID:         actor,
	})
	require.NoError(t, err)
	require.True(t, steel.Quantity.Equal(dec("100")))

	return ledgerFixture{client: client, svc: svc, emitter: emitter, clock: clock, actor: actor, steel: steel.Ref}
}

func (f ledgerFixture) post(t *testing.T, in PostInput) (models.StockMovement, error) {
	t.Helper()
	var movement models.StockMovement
	err := f.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		var err error
		movement, err = f.svc.Post(context.Background(), tx, in)
		return err
	})
	return movement, err
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	assert.Error(t, err)

	client := dbtest.Open(t)
	_, err = NewService(ServiceParams{DB: client, Registry: materials.NewRegistry()})
	assert.Error(t, err)
}

func TestPostKeepsOnHandReconstructable(t *testing.T) {
	f := newLedgerFixture(t, true)
	ctx := context.Background()

	for _, q := range []string{"-12.5", "40", "-0.25", "-27.25"} {
		m, err := f.post(t, PostInput{
			Material:     f.steel,
			MovementType: enums.MovementTypeConsumption,
			Quantity:     dec(q),
			ActorID:      f.actor,
		})
		require.NoError(t, err)
		assert.True(t, m.AfterQuantity.Equal(m.BeforeQuantity.Add(m.Quantity)))
	}

	stock, err := f.svc.OnHand(ctx, f.steel)
	require.NoError(t, err)
	assert.True(t, stock.Quantity.Equal(dec("100")), "got %s", stock.Quantity)

	rec, err := f.svc.Reconstruct(ctx, f.steel)
	require.NoError(t, err)
	assert.True(t, rec.Consistent)
	assert.Equal(t, 5, rec.Movements)
	assert.True(t, rec.Sum.Equal(stock.Quantity))
	assert.Empty(t, rec.ChainBreaks)
}

func TestPostRejectsSecondMovementForEventMaterial(t *testing.T) {
	f := newLedgerFixture(t, true)
	eventID := uuid.New()
	in := PostInput{
		Material:          f.steel,
		MovementType:      enums.MovementTypeConsumption,
		Quantity:          dec("-10"),
		ActorID:           f.actor,
		ProductionEventID: &eventID,
	}

	_, err := f.post(t, in)
	require.NoError(t, err)

	_, err = f.post(t, in)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateMovement))
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.CodeOf(err))

	stock, err := f.svc.OnHand(context.Background(), f.steel)
	require.NoError(t, err)
	assert.True(t, stock.Quantity.Equal(dec("90")), "duplicate must not change on-hand, got %s", stock.Quantity)
}

func TestPostNegativeStockGuard(t *testing.T) {
	strict := newLedgerFixture(t, false)
	_, err := strict.post(t, PostInput{
		Material:     strict.steel,
		MovementType: enums.MovementTypeConsumption,
		Quantity:     dec("-100.01"),
		ActorID:      strict.actor,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNegativeStock))
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))

	lenient := newLedgerFixture(t, true)
	m, err := lenient.post(t, PostInput{
		Material:     lenient.steel,
		MovementType: enums.MovementTypeConsumption,
		Quantity:     dec("-100.01"),
		ActorID:      lenient.actor,
	})
	require.NoError(t, err)
	assert.True(t, m.AfterQuantity.Equal(dec("-0.01")))
}

func TestPostValidatesInput(t *testing.T) {
	f := newLedgerFixture(t, true)
	cases := map[string]PostInput{
		"zero quantity": {Material: f.steel, MovementType: enums.MovementTypeEntry, Quantity: decimal.Zero, ActorID: f.actor},
		"no actor":      {Material: f.steel, MovementType: enums.MovementTypeEntry, Quantity: dec("1")},
		"bad type":      {Material: f.steel, MovementType: "gift", Quantity: dec("1"), ActorID: f.actor},
		"bad ref":       {Material: materials.Ref{Type: "wood", ID: uuid.New()}, MovementType: enums.MovementTypeEntry, Quantity: dec("1"), ActorID: f.actor},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.post(t, in)
			assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
		})
	}

	_, err := f.post(t, PostInput{Material: materials.Raw(uuid.New()), MovementType: enums.MovementTypeEntry, Quantity: dec("1"), ActorID: f.actor})
	assert.True(t, errors.Is(err, materials.ErrMaterialNotFound))
}

func TestRecordManualMovements(t *testing.T) {
	f := newLedgerFixture(t, false)
	ctx := context.Background()
	emittedBefore := len(f.emitter.events)

	entry, err := f.svc.Record(ctx, RecordInput{Material: f.steel, MovementType: enums.MovementTypeEntry, Quantity: dec("20"), ActorID: f.actor, Description: "delivery 114"})
	require.NoError(t, err)
	assert.True(t, entry.Quantity.Equal(dec("20")))
	assert.Equal(t, "delivery 114", entry.Description)

	exit, err := f.svc.Record(ctx, RecordInput{Material: f.steel, MovementType: enums.MovementTypeExit, Quantity: dec("5"), ActorID: f.actor})
	require.NoError(t, err)
	assert.True(t, exit.Quantity.Equal(dec("-5")))

	sale, err := f.svc.Record(ctx, RecordInput{Material: f.steel, MovementType: enums.MovementTypeSale, Quantity: dec("15"), ActorID: f.actor})
	require.NoError(t, err)
	assert.True(t, sale.AfterQuantity.Equal(dec("100")))

	transfer, err := f.svc.Record(ctx, RecordInput{Material: f.steel, MovementType: enums.MovementTypeTransfer, Quantity: dec("-30"), ActorID: f.actor})
	require.NoError(t, err)
	assert.True(t, transfer.AfterQuantity.Equal(dec("70")))

	target := dec("72.5")
	count, err := f.svc.Record(ctx, RecordInput{Material: f.steel, MovementType: enums.MovementTypeCountAdjustment, TargetCount: &target, ActorID: f.actor})
	require.NoError(t, err)
	assert.True(t, count.Quantity.Equal(dec("2.5")))
	assert.True(t, count.AfterQuantity.Equal(target))

	assert.Len(t, f.emitter.events, emittedBefore+5)
	last := f.emitter.events[len(f.emitter.events)-1]
	assert.Equal(t, enums.EventStockMovementRecorded, last.EventType)
	assert.Equal(t, f.steel.ID, last.AggregateID)

	rec, err := f.svc.Reconstruct(ctx, f.steel)
	require.NoError(t, err)
	assert.True(t, rec.Consistent)
}

func TestRecordRejectsInvalidManualMovements(t *testing.T) {
	f := newLedgerFixture(t, false)
	ctx := context.Background()
	same := dec("100")
	negative := dec("-1")
	fine := dec("99.12345")

	cases := map[string]RecordInput{
		"production is automatic": {Material: f.steel, MovementType: enums.MovementTypeProduction, Quantity: dec("1"), ActorID: f.actor},
		"negative entry":          {Material: f.steel, MovementType: enums.MovementTypeEntry, Quantity: dec("-1"), ActorID: f.actor},
		"zero transfer":           {Material: f.steel, MovementType: enums.MovementTypeTransfer, Quantity: decimal.Zero, ActorID: f.actor},
		"count without target":    {Material: f.steel, MovementType: enums.MovementTypeCountAdjustment, ActorID: f.actor},
		"count matches on-hand":   {Material: f.steel, MovementType: enums.MovementTypeCountAdjustment, TargetCount: &same, ActorID: f.actor},
		"negative count":          {Material: f.steel, MovementType: enums.MovementTypeCountAdjustment, TargetCount: &negative, ActorID: f.actor},
		"entry past column scale": {Material: f.steel, MovementType: enums.MovementTypeEntry, Quantity: dec("1.00005"), ActorID: f.actor},
		"count past column scale": {Material: f.steel, MovementType: enums.MovementTypeCountAdjustment, TargetCount: &fine, ActorID: f.actor},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Record(ctx, in)
			assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
		})
	}

	_, err := f.svc.Record(ctx, RecordInput{Material: f.steel, MovementType: enums.MovementTypeExit, Quantity: dec("101"), ActorID: f.actor})
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))

	exact, err := f.svc.Record(ctx, RecordInput{Material: f.steel, MovementType: enums.MovementTypeEntry, Quantity: dec("0.0001"), ActorID: f.actor})
	require.NoError(t, err)
	assert.True(t, exact.AfterQuantity.Equal(exact.BeforeQuantity.Add(dec("0.0001"))))
}

func TestRecordRollsBackWhenOutboxFails(t *testing.T) {
	f := newLedgerFixture(t, true)
	f.emitter.err = errors.New("outbox down")

	_, err := f.svc.Record(context.Background(), RecordInput{Material: f.steel, MovementType: enums.MovementTypeEntry, Quantity: dec("5"), ActorID: f.actor})
	require.Error(t, err)

	stock, err := f.svc.OnHand(context.Background(), f.steel)
	require.NoError(t, err)
	assert.True(t, stock.Quantity.Equal(dec("100")))
}

func TestHistoryPaginatesInOrder(t *testing.T) {
	f := newLedgerFixture(t, true)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, err := f.svc.Record(ctx, RecordInput{Material: f.steel, MovementType: enums.MovementTypeEntry, Quantity: dec("1"), ActorID: f.actor})
		require.NoError(t, err)
	}

	var seen []models.StockMovement
	cursor := ""
	pages := 0
	for {
		page, err := f.svc.History(ctx, f.steel, pagination.Params{Limit: 2, Cursor: cursor})
		require.NoError(t, err)
		seen = append(seen, page.Movements...)
		pages++
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	assert.Equal(t, 3, pages)
	require.Len(t, seen, 5)
	for i := 1; i < len(seen); i++ {
		assert.True(t, seen[i].BeforeQuantity.Equal(seen[i-1].AfterQuantity))
		assert.False(t, seen[i].CreatedAt.Before(seen[i-1].CreatedAt))
	}

	_, err := f.svc.History(ctx, f.steel, pagination.Params{Cursor: "%%%"})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
	_, err = f.svc.History(ctx, materials.Raw(uuid.New()), pagination.Params{})
	assert.True(t, errors.Is(err, materials.ErrMaterialNotFound))
}

func TestPostBackfillComputesBalancesAtEventTime(t *testing.T) {
	f := newLedgerFixture(t, true)
	ctx := context.Background()

	// a debit that reached on-hand without a movement: 100 -> 60
	require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
		return f.svc.Registry().SetQuantity(tx, f.steel, dec("60"))
	}))
	_, err := f.post(t, PostInput{Material: f.steel, MovementType: enums.MovementTypeEntry, Quantity: dec("10"), ActorID: f.actor})
	require.NoError(t, err)

	history, err := f.svc.History(ctx, f.steel, pagination.Params{})
	require.NoError(t, err)
	require.Len(t, history.Movements, 2)
	eventAt := history.Movements[0].CreatedAt.Add(500 * time.Millisecond)

	eventID := uuid.New()
	var gap models.StockMovement
	require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		gap, err = f.svc.PostBackfill(ctx, tx, PostInput{
			Material:          f.steel,
			MovementType:      enums.MovementTypeConsumption,
			Quantity:          dec("-40"),
			ActorID:           f.actor,
			ProductionEventID: &eventID,
			OccurredAt:        eventAt,
			Synthesized:       true,
		}, false)
		return err
	}))

	assert.True(t, gap.Synthesized)
	assert.True(t, gap.BeforeQuantity.Equal(dec("100")), "before=%s", gap.BeforeQuantity)
	assert.True(t, gap.AfterQuantity.Equal(dec("60")), "after=%s", gap.AfterQuantity)
	assert.True(t, gap.CreatedAt.Equal(eventAt.UTC()))

	stock, err := f.svc.OnHand(ctx, f.steel)
	require.NoError(t, err)
	assert.True(t, stock.Quantity.Equal(dec("70")))

	rec, err := f.svc.Reconstruct(ctx, f.steel)
	require.NoError(t, err)
	assert.True(t, rec.Consistent, "sum=%s onHand=%s", rec.Sum, rec.OnHand)

	require.Error(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := f.svc.PostBackfill(ctx, tx, PostInput{
			Material:          f.steel,
			MovementType:      enums.MovementTypeConsumption,
			Quantity:          dec("-40"),
			ActorID:           f.actor,
			ProductionEventID: &eventID,
			OccurredAt:        eventAt,
			Synthesized:       true,
		}, false)
		return err
	}))
}

func TestPostBackfillAppliesToOnHand(t *testing.T) {
	f := newLedgerFixture(t, true)
	ctx := context.Background()
	eventID := uuid.New()

	var gap models.StockMovement
	require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		gap, err = f.svc.PostBackfill(ctx, tx, PostInput{
			Material:          f.steel,
			MovementType:      enums.MovementTypeConsumption,
			Quantity:          dec("-25"),
			ActorID:           f.actor,
			ProductionEventID: &eventID,
			OccurredAt:        f.clock.t.Add(time.Hour),
			Synthesized:       true,
		}, true)
		return err
	}))
	assert.True(t, gap.BeforeQuantity.Equal(dec("100")))
	assert.True(t, gap.AfterQuantity.Equal(dec("75")))

	stock, err := f.svc.OnHand(ctx, f.steel)
	require.NoError(t, err)
	assert.True(t, stock.Quantity.Equal(dec("75")))
}

func TestLinkEventOnlyFillsEmptyLinks(t *testing.T) {
	f := newLedgerFixture(t, true)
	ctx := context.Background()
	m, err := f.svc.Record(ctx, RecordInput{Material: f.steel, MovementType: enums.MovementTypeExit, Quantity: dec("4"), ActorID: f.actor})
	require.NoError(t, err)

	first, second := uuid.New(), uuid.New()
	require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
		linked, err := f.svc.LinkEvent(ctx, tx, m.ID, first)
		require.NoError(t, err)
		assert.True(t, linked)

		linked, err = f.svc.LinkEvent(ctx, tx, m.ID, second)
		require.NoError(t, err)
		assert.False(t, linked)

		rows, err := f.svc.ForEvent(ctx, tx, first)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.True(t, rows[0].Quantity.Equal(dec("-4")), "link must not touch quantities")
		return nil
	}))
}

func TestUnlinkedCandidatesFiltersByActorAndWindow(t *testing.T) {
	f := newLedgerFixture(t, true)
	ctx := context.Background()
	other := uuid.New()

	mine, err := f.svc.Record(ctx, RecordInput{Material: f.steel, MovementType: enums.MovementTypeExit, Quantity: dec("3"), ActorID: f.actor})
	require.NoError(t, err)
	_, err = f.svc.Record(ctx, RecordInput{Material: f.steel, MovementType: enums.MovementTypeExit, Quantity: dec("3"), ActorID: other})
	require.NoError(t, err)

	require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := f.svc.UnlinkedCandidates(ctx, tx, f.steel, f.actor, mine.CreatedAt.Add(-time.Minute), mine.CreatedAt.Add(time.Minute))
		require.NoError(t, err)
		// the opening entry by the same actor is inside the window too
		ids := make([]uuid.UUID, 0, len(rows))
		for _, r := range rows {
			assert.Equal(t, f.actor, r.ActorID)
			ids = append(ids, r.ID)
		}
		assert.Contains(t, ids, mine.ID)

		rows, err = f.svc.UnlinkedCandidates(ctx, tx, f.steel, f.actor, mine.CreatedAt.Add(time.Hour), mine.CreatedAt.Add(2*time.Hour))
		require.NoError(t, err)
		assert.Empty(t, rows)
		return nil
	}))
}
