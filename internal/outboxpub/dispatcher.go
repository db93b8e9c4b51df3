// Package outboxpub drains outbox_events onto Pub/Sub topics.
package outboxpub

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/mfg-ledger-backend/pkg/db/models"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/enums"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/logger"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

type txRunner interface {
	Ping(ctx context.Context) error
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxStore interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type deadLetters interface {
	Record(tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error, failedAt time.Time) error
}

type resolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

// Publisher sends one message to a topic and waits for the server ack.
type Publisher interface {
	Ping(ctx context.Context) error
	Publish(ctx context.Context, topic string, msg *gcppubsub.Message) error
}

type Params struct {
	DB             txRunner
	Repository     outboxStore
	DLQ            deadLetters
	Registry       resolver
	Publisher      Publisher
	Logger         *logger.Logger
	BatchSize      int
	MaxAttempts    int
	PollInterval   time.Duration
	PublishTimeout time.Duration
	Now            func() time.Time
}

// Dispatcher publishes pending outbox rows in batches. Each batch runs in one
// transaction that holds the fetched rows locked until they are marked.
type Dispatcher struct {
	db          txRunner
	repo        outboxStore
	dlq         deadLetters
	registry    resolver
	publisher   Publisher
	logg        *logger.Logger
	batchSize   int
	maxAttempts int
	poll        time.Duration
	timeout     time.Duration
	now         func() time.Time
}

func New(params Params) (*Dispatcher, error) {
	switch {
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case params.DLQ == nil:
		return nil, errors.New("dlq repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	case params.Publisher == nil:
		return nil, errors.New("publisher is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	}
	d := &Dispatcher{
		db:          params.DB,
		repo:        params.Repository,
		dlq:         params.DLQ,
		registry:    params.Registry,
		publisher:   params.Publisher,
		logg:        params.Logger,
		batchSize:   params.BatchSize,
		maxAttempts: params.MaxAttempts,
		poll:        params.PollInterval,
		timeout:     params.PublishTimeout,
		now:         params.Now,
	}
	if d.batchSize <= 0 {
		d.batchSize = defaultBatchSize
	}
	if d.maxAttempts <= 0 {
		d.maxAttempts = defaultMaxAttempts
	}
	if d.poll <= 0 {
		d.poll = defaultPollInterval
	}
	if d.timeout <= 0 {
		d.timeout = defaultPublishTimeout
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d, nil
}

// Run polls until ctx is cancelled. Batch errors back off exponentially.
func (d *Dispatcher) Run(ctx context.Context) error {
	if err := d.db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if err := d.publisher.Ping(ctx); err != nil {
		return fmt.Errorf("pubsub ping failed: %w", err)
	}

	backoff := d.poll
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats, err := d.DispatchOnce(ctx)
		wait := d.poll
		switch {
		case err != nil:
			d.logg.Error(ctx, "outbox batch failed", err)
			backoff = min(backoff*2, maxBackoff)
			wait = backoff
		case stats.Fetched > 0:
			backoff = d.poll
			continue
		default:
			backoff = d.poll
		}
		if err := sleep(ctx, jitter(wait)); err != nil {
			return err
		}
	}
}

// BatchStats counts what one batch did.
type BatchStats struct {
	Fetched   int
	Published int
	Retried   int
	Dead      int
}

// DispatchOnce publishes one batch.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (BatchStats, error) {
	var stats BatchStats
	err := d.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := d.repo.FetchUnpublishedForPublish(tx, d.batchSize, d.maxAttempts)
		if err != nil {
			return err
		}
		stats.Fetched = len(events)
		for _, event := range events {
			if err := d.dispatch(ctx, tx, event, &stats); err != nil {
				return err
			}
		}
		return nil
	})
	return stats, err
}

func (d *Dispatcher) dispatch(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, stats *BatchStats) error {
	if !event.Pending() {
		return nil
	}
	logCtx := d.logg.WithFields(ctx, map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
	})

	resolved, err := d.registry.Resolve(event)
	if err != nil {
		stats.Dead++
		return d.deadLetter(logCtx, tx, event, enums.OutboxDLQReasonNonRetryable, err)
	}
	logCtx = d.logg.WithFields(logCtx, map[string]any{
		"event_id": resolved.Envelope.EventID,
		"topic":    resolved.Route.Topic,
	})

	err = d.publish(ctx, event, resolved)
	if err == nil {
		if markErr := d.repo.MarkPublishedTx(tx, event.ID); markErr != nil {
			return fmt.Errorf("mark published %s: %w", event.ID, markErr)
		}
		stats.Published++
		d.logg.Debug(logCtx, "outbox event published")
		return nil
	}

	var nonRetryable registry.NonRetryableError
	if errors.As(err, &nonRetryable) {
		stats.Dead++
		return d.deadLetter(logCtx, tx, event, enums.OutboxDLQReasonNonRetryable, err)
	}
	if event.AttemptCount+1 >= d.maxAttempts {
		stats.Dead++
		return d.deadLetter(logCtx, tx, event, enums.OutboxDLQReasonMaxAttempts, fmt.Errorf("max publish attempts reached: %w", err))
	}
	d.logg.Warn(d.logg.WithField(logCtx, "error", err.Error()), "outbox publish failed, will retry")
	if markErr := d.repo.MarkFailedTx(tx, event.ID, err); markErr != nil {
		return fmt.Errorf("mark failure %s: %w", event.ID, markErr)
	}
	stats.Retried++
	return nil
}

func (d *Dispatcher) publish(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	msg := &gcppubsub.Message{
		Data: event.Payload,
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID.String(),
			"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
	publishCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.publisher.Publish(publishCtx, resolved.Route.Topic, msg)
}

func (d *Dispatcher) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	d.logg.Warn(d.logg.WithFields(ctx, map[string]any{
		"error_reason": reason,
		"error":        cause.Error(),
	}), "outbox event moved to dead letters")

	if err := d.dlq.Record(tx, event, reason, cause, d.now()); err != nil {
		return fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := d.repo.MarkTerminalTx(tx, event.ID, cause, d.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func jitter(d time.Duration) time.Duration {
	return d + rand.N(jitterWindow)
}
