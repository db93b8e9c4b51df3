package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/mfg-ledger-backend/pkg/logger"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type runner interface {
	Run(ctx context.Context) error
}

type retrier interface {
	Run(ctx context.Context, interval time.Duration) error
}

type ServiceParams struct {
	Logger *logger.Logger
	// Dependencies are pinged once before the loops start.
	Dependencies map[string]pinger
	Consumer     runner
	RetryPool    retrier
	// RetryInterval is how often the pool sweeps failed events.
	RetryInterval time.Duration
}

// Service runs the production consumer next to the retry pool.
type Service struct {
	logg          *logger.Logger
	deps          map[string]pinger
	consumer      runner
	pool          retrier
	retryInterval time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.Consumer == nil:
		return nil, errors.New("production consumer is required")
	case params.RetryPool == nil:
		return nil, errors.New("retry pool is required")
	}
	return &Service{
		logg:          params.Logger,
		deps:          params.Dependencies,
		consumer:      params.Consumer,
		pool:          params.RetryPool,
		retryInterval: params.RetryInterval,
	}, nil
}

func (s *Service) ready(ctx context.Context) error {
	names := make([]string, 0, len(s.deps))
	for name := range s.deps {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := s.deps[name].Ping(ctx); err != nil {
			return fmt.Errorf("%s not ready: %w", name, err)
		}
	}
	s.logg.Info(ctx, "worker dependencies ready")
	return nil
}

// Run blocks until ctx is cancelled or either loop fails; the first failure
// stops the other loop.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.guard(gctx, "production consumer", s.consumer.Run(gctx))
	})
	g.Go(func() error {
		return s.guard(gctx, "production retry pool", s.pool.Run(gctx, s.retryInterval))
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (s *Service) guard(ctx context.Context, name string, err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	s.logg.Error(ctx, name+" stopped unexpectedly", err)
	return fmt.Errorf("%s: %w", name, err)
}
