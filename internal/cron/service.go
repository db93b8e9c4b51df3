package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/mfg-ledger-backend/pkg/logger"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/metrics"
)

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Locker   Locker
	Metrics  *metrics.CronJobMetrics
	Now      func() time.Time
}

// Service runs every registered job on its own ticker. A tick that cannot
// take the job's lock is skipped.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	locker   Locker
	metrics  *metrics.CronJobMetrics
	now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Locker == nil {
		return nil, fmt.Errorf("locker required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		locker:   params.Locker,
		metrics:  params.Metrics,
		now:      now,
	}, nil
}

// Run blocks until ctx is cancelled. Each job runs once immediately.
func (s *Service) Run(ctx context.Context) error {
	entries := s.registry.Entries()
	if len(entries) == 0 {
		return errors.New("no cron jobs registered")
	}
	group, groupCtx := errgroup.WithContext(ctx)
	for _, entry := range entries {
		group.Go(func() error {
			s.loop(groupCtx, entry)
			return nil
		})
	}
	_ = group.Wait()
	s.logg.Info(ctx, "cron service stopped")
	return ctx.Err()
}

func (s *Service) loop(ctx context.Context, entry Entry) {
	s.Tick(ctx, entry)
	ticker := time.NewTicker(entry.Every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx, entry)
		}
	}
}

// Tick runs entry once under its lock and reports whether the job ran.
func (s *Service) Tick(ctx context.Context, entry Entry) bool {
	name := entry.Job.Name()
	jobCtx := s.logg.WithFields(ctx, map[string]any{"job": name, "event": "cron.job"})

	ttl := entry.LockTTL
	if ttl <= 0 {
		ttl = entry.Every
	}
	lease, ok, err := s.locker.TryLock(ctx, name, ttl)
	if err != nil {
		s.logg.Error(jobCtx, "cron lock acquire failed", err)
		s.metrics.NotRun(name, metrics.JobLockError)
		return false
	}
	if !ok {
		s.logg.Debug(jobCtx, "job held elsewhere, skipping tick")
		s.metrics.NotRun(name, metrics.JobSkipped)
		return false
	}
	defer func() {
		if relErr := lease.Release(context.WithoutCancel(ctx)); relErr != nil {
			s.logg.Error(jobCtx, "failed to release cron lock", relErr)
		}
	}()

	start := s.now()
	err = entry.Job.Run(jobCtx)
	end := s.now()
	s.metrics.Ran(name, end.Sub(start), end, err)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", end.Sub(start).Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		return true
	}
	s.logg.Info(jobCtx, "job completed")
	return true
}
