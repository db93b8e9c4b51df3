package outboxpub

import (
	"context"
	"errors"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/mfg-ledger-backend/pkg/config"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/db"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/db/dbtest"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/db/models"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/enums"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/logger"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/outbox"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/outbox/registry"
)

type sent struct {
	topic string
	msg   *gcppubsub.Message
}

type fakePublisher struct {
	sent []sent
	// errs is consumed one per publish; nil entries succeed.
	errs []error
}

func (f *fakePublisher) Ping(context.Context) error { return nil }

func (f *fakePublisher) Publish(_ context.Context, topic string, msg *gcppubsub.Message) error {
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return err
		}
	}
	f.sent = append(f.sent, sent{topic: topic, msg: msg})
	return nil
}

type fixture struct {
	client     *db.Client
	emitter    *outbox.Service
	publisher  *fakePublisher
	dispatcher *Dispatcher
}

func newFixture(t *testing.T, maxAttempts int) fixture {
	t.Helper()
	client := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "outbox-test"})
	repo := outbox.NewRepository(client.DB())
	reg, err := registry.NewEventRegistry(config.PubSubConfig{ProductionTopic: "production", LedgerTopic: "ledger"})
	require.NoError(t, err)
	pub := &fakePublisher{}
	dispatcher, err := New(Params{
		DB:          client,
		Repository:  repo,
		DLQ:         outbox.NewDLQRepository(client.DB()),
		Registry:    reg,
		Publisher:   pub,
		Logger:      logg,
		MaxAttempts: maxAttempts,
	})
	require.NoError(t, err)
	return fixture{client: client, emitter: outbox.NewService(repo, logg), publisher: pub, dispatcher: dispatcher}
}

func (f fixture) emit(t *testing.T, event outbox.DomainEvent) {
	t.Helper()
	require.NoError(t, f.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return f.emitter.Emit(context.Background(), tx, event)
	}))
}

func (f fixture) rows(t *testing.T) []models.OutboxEvent {
	t.Helper()
	var rows []models.OutboxEvent
	require.NoError(t, f.client.DB().Order("created_at ASC").Find(&rows).Error)
	return rows
}

func recorded(id uuid.UUID) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     enums.EventProductionRecorded,
		AggregateType: enums.AggregateProductionEvent,
		AggregateID:   id,
		Data: payloads.ProductionRecordedEvent{
			ProductionEventID: id,
			PlanID:            uuid.New(),
			QuantityProduced:  decimal.NewFromInt(100),
			ActorID:           uuid.New(),
			OccurredAt:        time.Now().UTC(),
		},
	}
}

func TestDispatchRoutesByEventType(t *testing.T) {
	f := newFixture(t, 3)
	eventID := uuid.New()
	f.emit(t, recorded(eventID))
	f.emit(t, outbox.DomainEvent{
		EventType:     enums.EventReconciliationCompleted,
		AggregateType: enums.AggregateReconciliation,
		AggregateID:   uuid.New(),
		Data:          payloads.ReconciliationCompletedEvent{ReportID: uuid.New(), Trigger: "cron"},
	})

	stats, err := f.dispatcher.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BatchStats{Fetched: 2, Published: 2}, stats)

	require.Len(t, f.publisher.sent, 2)
	topics := map[string]string{}
	for _, s := range f.publisher.sent {
		topics[s.msg.Attributes["event_type"]] = s.topic
	}
	assert.Equal(t, "production", topics[string(enums.EventProductionRecorded)])
	assert.Equal(t, "ledger", topics[string(enums.EventReconciliationCompleted)])
	for _, s := range f.publisher.sent {
		assert.NotEmpty(t, s.msg.Attributes["event_id"])
		assert.NotEmpty(t, s.msg.Attributes["created_at"])
	}

	for _, row := range f.rows(t) {
		assert.NotNil(t, row.PublishedAt)
		assert.False(t, row.Pending())
	}
	stats, err = f.dispatcher.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Fetched)
}

func TestDispatchRetriesThenDeadLetters(t *testing.T) {
	f := newFixture(t, 2)
	f.emit(t, recorded(uuid.New()))
	f.publisher.errs = []error{errors.New("unavailable"), errors.New("unavailable")}

	stats, err := f.dispatcher.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Retried)
	row := f.rows(t)[0]
	assert.Equal(t, 1, row.AttemptCount)
	assert.Nil(t, row.PublishedAt)
	assert.True(t, row.Pending())
	require.NotNil(t, row.LastError)

	stats, err = f.dispatcher.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Dead)
	row = f.rows(t)[0]
	assert.NotNil(t, row.TerminalAt)

	dead, err := outbox.NewDLQRepository(f.client.DB()).FindByEventID(context.Background(), row.ID)
	require.NoError(t, err)
	require.NotNil(t, dead)
	assert.Equal(t, enums.OutboxDLQReasonMaxAttempts, dead.ErrorReason)
	assert.Empty(t, f.publisher.sent)
}

func TestDispatchDeadLettersUnknownRows(t *testing.T) {
	f := newFixture(t, 5)
	require.NoError(t, f.client.DB().Create(&models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventProductionRecorded,
		AggregateType: enums.AggregateProductionEvent,
		AggregateID:   uuid.New(),
		Payload:       []byte(`{"version":1,"eventId":"x","data":null}`),
	}).Error)

	stats, err := f.dispatcher.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Dead)
	assert.Empty(t, f.publisher.sent)

	dead, err := outbox.NewDLQRepository(f.client.DB()).List(context.Background(), enums.OutboxDLQReasonNonRetryable, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, dead[0].ErrorReason)
}

func TestNewValidatesParams(t *testing.T) {
	_, err := New(Params{})
	assert.Error(t, err)
}
