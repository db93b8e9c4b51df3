package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/mfg-ledger-backend/internal/production"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/logger"
)

type retryRunner interface {
	RunOnce(ctx context.Context) (production.RetrySummary, error)
}

// ProductionRetryJob re-drives received or failed production events.
type ProductionRetryJob struct {
	logg *logger.Logger
	pool retryRunner
}

func NewProductionRetryJob(logg *logger.Logger, pool retryRunner) (*ProductionRetryJob, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if pool == nil {
		return nil, fmt.Errorf("retry pool required")
	}
	return &ProductionRetryJob{logg: logg, pool: pool}, nil
}

func (j *ProductionRetryJob) Name() string { return "production-retry" }

func (j *ProductionRetryJob) Run(ctx context.Context) error {
	summary, err := j.pool.RunOnce(ctx)
	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		j.logg.Warn(j.logg.WithField(ctx, "failed", summary.Failed), "production events still failing after retry")
	}
	return nil
}
