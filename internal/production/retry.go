package production

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/angelmondragon/mfg-ledger-backend/pkg/db/models"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/logger"
)

const (
	defaultRetryConcurrency = 4
	defaultRetryBatch       = 100
)

type RetryPoolParams struct {
	DB          txRunner
	Repository  Repository
	Applier     eventApplier
	Logger      *logger.Logger
	Concurrency int
	MaxAttempts int
	Grace       time.Duration
	BatchSize   int
	Now         func() time.Time
}

// RetryPool re-applies received or failed events that have been sitting for
// longer than the grace period.
type RetryPool struct {
	tx          txRunner
	repo        Repository
	applier     eventApplier
	logg        *logger.Logger
	concurrency int
	maxAttempts int
	grace       time.Duration
	batch       int
	now         func() time.Time
}

func NewRetryPool(params RetryPoolParams) (*RetryPool, error) {
	if params.DB == nil {
		return nil, errors.New("transaction runner required")
	}
	if params.Repository == nil {
		return nil, errors.New("production repository required")
	}
	if params.Applier == nil {
		return nil, errors.New("event applier required")
	}
	concurrency := params.Concurrency
	if concurrency <= 0 {
		concurrency = defaultRetryConcurrency
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultRetryBatch
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &RetryPool{
		tx:          params.DB,
		repo:        params.Repository,
		applier:     params.Applier,
		logg:        params.Logger,
		concurrency: concurrency,
		maxAttempts: params.MaxAttempts,
		grace:       params.Grace,
		batch:       batch,
		now:         now,
	}, nil
}

// RetrySummary counts one pass of the pool.
type RetrySummary struct {
	Scanned int `json:"scanned"`
	Applied int `json:"applied"`
	Failed  int `json:"failed"`
}

// RunOnce applies one batch of stale events with bounded concurrency. Per-event
// failures are recorded on the event by Apply and do not stop the batch.
func (p *RetryPool) RunOnce(ctx context.Context) (RetrySummary, error) {
	cutoff := p.now().Add(-p.grace)
	var pending []models.ProductionEvent
	err := p.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		pending, err = p.repo.WithTx(tx).Retryable(ctx, cutoff, p.maxAttempts, p.batch)
		return err
	})
	if err != nil {
		return RetrySummary{}, err
	}

	var applied, failed atomic.Int64
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.concurrency)
	for _, event := range pending {
		eventID := event.ID
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			if _, err := p.applier.Apply(groupCtx, eventID); err != nil {
				failed.Add(1)
				return nil
			}
			applied.Add(1)
			return nil
		})
	}
	waitErr := group.Wait()

	summary := RetrySummary{Scanned: len(pending), Applied: int(applied.Load()), Failed: int(failed.Load())}
	if p.logg != nil && summary.Scanned > 0 {
		logCtx := p.logg.WithFields(ctx, map[string]any{
			"scanned": summary.Scanned,
			"applied": summary.Applied,
			"failed":  summary.Failed,
		})
		p.logg.Info(logCtx, "production retry pass finished")
	}
	return summary, waitErr
}

// Run repeats RunOnce every interval until ctx is cancelled.
func (p *RetryPool) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := p.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) && p.logg != nil {
			p.logg.Error(ctx, "production retry pass failed", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
