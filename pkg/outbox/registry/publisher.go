package registry

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/mfg-ledger-backend/pkg/config"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/db/models"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/enums"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/outbox"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/outbox/payloads"
)

// Route says where an event type is published and how its payload decodes.
type Route struct {
	EventType enums.OutboxEventType
	Aggregate enums.OutboxAggregateType
	Topic     string
	decode    DecodeFunc
}

func route[T any](eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType, topic string) Route {
	return Route{EventType: eventType, Aggregate: aggregate, Topic: topic, decode: JSON[T]()}
}

// ResolvedEvent is an outbox row that passed routing and payload decoding.
type ResolvedEvent struct {
	Route    Route
	Envelope outbox.PayloadEnvelope
	Payload  any
}

// EventRegistry is the publisher-side routing table.
type EventRegistry struct {
	routes map[enums.OutboxEventType]Route
}

// NonRetryableError marks a row that will never publish and belongs in the DLQ.
type NonRetryableError struct {
	Err error
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

// NewEventRegistry routes production recordings to the topic the ledger
// worker consumes and every other event to the ledger fan-out topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	var err error
	if cfg.ProductionTopic == "" {
		err = multierr.Append(err, errors.New("production topic is required"))
	}
	if cfg.LedgerTopic == "" {
		err = multierr.Append(err, errors.New("ledger topic is required"))
	}
	if err != nil {
		return nil, err
	}

	prod, ledger := cfg.ProductionTopic, cfg.LedgerTopic
	r := &EventRegistry{routes: map[enums.OutboxEventType]Route{}}
	for _, rt := range []Route{
		route[payloads.ProductionRecordedEvent](enums.EventProductionRecorded, enums.AggregateProductionEvent, prod),
		route[payloads.ProductionAppliedEvent](enums.EventProductionApplied, enums.AggregateProductionEvent, ledger),
		route[payloads.ProductionPlanCreatedEvent](enums.EventProductionPlanCreated, enums.AggregateProductionPlan, ledger),
		route[payloads.ProductionPlanCompletedEvent](enums.EventProductionPlanCompleted, enums.AggregateProductionPlan, ledger),
		route[payloads.ReservationsCreatedEvent](enums.EventReservationsCreated, enums.AggregateOrder, ledger),
		route[payloads.ReservationReleasedEvent](enums.EventReservationReleased, enums.AggregateOrder, ledger),
		route[payloads.StockMovementRecordedEvent](enums.EventStockMovementRecorded, enums.AggregateMaterial, ledger),
		route[payloads.ReconciliationCompletedEvent](enums.EventReconciliationCompleted, enums.AggregateReconciliation, ledger),
	} {
		r.routes[rt.EventType] = rt
	}
	return r, nil
}

// Topics lists the distinct topics in sorted order.
func (r *EventRegistry) Topics() []string {
	set := map[string]struct{}{}
	for _, rt := range r.routes {
		set[rt.Topic] = struct{}{}
	}
	topics := make([]string, 0, len(set))
	for t := range set {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// Resolve routes the row and decodes its payload. Every failure is
// non-retryable: a row that does not decode now never will.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	rt, ok := r.routes[event.EventType]
	switch {
	case !ok:
		return nil, NewNonRetryableError(fmt.Errorf("no route for event type %q", event.EventType))
	case rt.Aggregate != event.AggregateType:
		return nil, NewNonRetryableError(fmt.Errorf("%s carries aggregate %s, want %s", event.EventType, event.AggregateType, rt.Aggregate))
	case event.AggregateID == uuid.Nil:
		return nil, NewNonRetryableError(fmt.Errorf("%s has no aggregate id", event.EventType))
	}

	env, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("%s: %w", event.EventType, err))
	}
	payload, err := rt.decode(env.Data)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}
	return &ResolvedEvent{Route: rt, Envelope: env, Payload: payload}, nil
}
