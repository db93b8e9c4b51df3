package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/mfg-ledger-backend/pkg/logger"
)

const (
	defaultOutboxRetention = 30 * 24 * time.Hour
	defaultOutboxBatch     = 500
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPruner interface {
	DeletePublishedBefore(tx *gorm.DB, cutoff time.Time, limit int) (int64, error)
}

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Repository outboxPruner
	Retention  time.Duration
	BatchSize  int
	Now        func() time.Time
}

// OutboxRetentionJob deletes published outbox rows past the retention window,
// one bounded batch per transaction.
type OutboxRetentionJob struct {
	logg      *logger.Logger
	db        txRunner
	repo      outboxPruner
	retention time.Duration
	batch     int
	now       func() time.Time
}

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (*OutboxRetentionJob, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	job := &OutboxRetentionJob{
		logg:      params.Logger,
		db:        params.DB,
		repo:      params.Repository,
		retention: params.Retention,
		batch:     params.BatchSize,
		now:       params.Now,
	}
	if job.retention <= 0 {
		job.retention = defaultOutboxRetention
	}
	if job.batch <= 0 {
		job.batch = defaultOutboxBatch
	}
	if job.now == nil {
		job.now = time.Now
	}
	return job, nil
}

func (j *OutboxRetentionJob) Name() string { return "outbox-retention" }

func (j *OutboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var deleted int64
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			deleted, err = j.repo.DeletePublishedBefore(tx, cutoff, j.batch)
			return err
		})
		if err != nil {
			return fmt.Errorf("outbox retention: %w", err)
		}
		total += deleted
		if deleted < int64(j.batch) {
			break
		}
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"rows_deleted": total,
	}), "outbox retention cleanup complete")
	return nil
}
