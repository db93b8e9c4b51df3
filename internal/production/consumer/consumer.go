// Package consumer applies production events delivered over Pub/Sub.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/mfg-ledger-backend/internal/production"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/mfg-ledger-backend/pkg/errors"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/logger"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/outbox"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/outbox/registry"
)

const consumerName = "production-consumer"

type applier interface {
	Apply(ctx context.Context, eventID uuid.UUID) (production.Result, error)
}

type idempotencyChecker interface {
	Claim(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Release(ctx context.Context, consumer string, eventID uuid.UUID) error
}

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

// Consumer receives production_event_recorded messages and applies them.
type Consumer struct {
	subscription receiver
	applier      applier
	manager      idempotencyChecker
	logg         *logger.Logger
}

func New(subscription receiver, applier applier, manager idempotencyChecker, logg *logger.Logger) (*Consumer, error) {
	if subscription == nil {
		return nil, errors.New("production subscription is required")
	}
	if applier == nil {
		return nil, errors.New("production applier is required")
	}
	if manager == nil {
		return nil, errors.New("idempotency manager is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Consumer{subscription: subscription, applier: applier, manager: manager, logg: logg}, nil
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.subscription.Receive(ctx, func(innerCtx context.Context, msg *gcppubsub.Message) {
		if c.process(innerCtx, msg) {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type message struct {
	outboxEventID uuid.UUID
	data          payloads.ProductionRecordedEvent
}

// process reports whether the message should be redelivered.
func (c *Consumer) process(ctx context.Context, msg *gcppubsub.Message) bool {
	logCtx := c.logg.WithField(ctx, "message_id", msg.ID)

	decoded, err := decode(msg)
	if err != nil {
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "invalid production message")
		return false
	}
	logCtx = c.logg.WithEventID(logCtx, decoded.data.ProductionEventID.String())
	logCtx = c.logg.WithPlanID(logCtx, decoded.data.PlanID.String())

	claimed, err := c.manager.Claim(logCtx, consumerName, decoded.outboxEventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return true
	}
	if !claimed {
		c.logg.Info(logCtx, "production message already processed")
		return false
	}

	if _, err := c.applier.Apply(logCtx, decoded.data.ProductionEventID); err != nil {
		if pkgerrors.IsRetryable(err) {
			_ = c.manager.Release(logCtx, consumerName, decoded.outboxEventID)
			c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "production apply failed, redelivering")
			return true
		}
		// the event is marked failed; the retry pool and reconciliation take it from here
		c.logg.Warn(c.logg.WithFields(logCtx, map[string]any{
			"error":      err.Error(),
			"error_code": pkgerrors.CodeOf(err),
		}), "production apply rejected")
		return false
	}
	return false
}

var decoders = func() *registry.PayloadDecoders {
	d := registry.NewPayloadDecoders()
	d.Register(enums.EventProductionRecorded, 1, registry.JSON[payloads.ProductionRecordedEvent]())
	return d
}()

func decode(msg *gcppubsub.Message) (message, error) {
	eventType := strings.TrimSpace(msg.Attributes["event_type"])
	if eventType != string(enums.EventProductionRecorded) {
		return message{}, fmt.Errorf("unexpected event_type %q", eventType)
	}
	envelope, err := outbox.DecodeEnvelope(msg.Data)
	if err != nil {
		return message{}, err
	}
	eventID := strings.TrimSpace(envelope.EventID)
	if eventID == "" {
		eventID = strings.TrimSpace(msg.Attributes["event_id"])
	}
	outboxID, err := uuid.Parse(eventID)
	if err != nil {
		return message{}, fmt.Errorf("event_id: %w", err)
	}
	decoded, err := decoders.Decode(enums.EventProductionRecorded, envelope)
	if err != nil {
		return message{}, fmt.Errorf("decode production payload: %w", err)
	}
	data := decoded.(*payloads.ProductionRecordedEvent)
	if data.ProductionEventID == uuid.Nil {
		return message{}, errors.New("production_event_id missing")
	}
	return message{outboxEventID: outboxID, data: *data}, nil
}
