package cron

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/mfg-ledger-backend/internal/production"
	"github.com/angelmondragon/mfg-ledger-backend/internal/reconcile"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/logger"
)

type fakeReconciler struct {
	opts   []reconcile.Options
	report reconcile.Report
	err    error
}

func (f *fakeReconciler) Run(_ context.Context, opts reconcile.Options) (reconcile.Report, error) {
	f.opts = append(f.opts, opts)
	return f.report, f.err
}

type fakeRetryRunner struct {
	summary production.RetrySummary
	err     error
	calls   int
}

func (f *fakeRetryRunner) RunOnce(context.Context) (production.RetrySummary, error) {
	f.calls++
	return f.summary, f.err
}

func TestReconcileJobUsesCronTrigger(t *testing.T) {
	engine := &fakeReconciler{report: reconcile.Report{ID: uuid.New(), GapsFound: 2}}
	job, err := NewReconcileJob(logger.New(logger.Options{ServiceName: "test"}), engine)
	require.NoError(t, err)

	require.NoError(t, job.Run(context.Background()))
	require.Len(t, engine.opts, 1)
	assert.Equal(t, reconcile.TriggerCron, engine.opts[0].Trigger)
}

func TestReconcileJobFailsOnRunErrors(t *testing.T) {
	engine := &fakeReconciler{err: reconcile.ErrConsistency}
	job, err := NewReconcileJob(logger.New(logger.Options{ServiceName: "test"}), engine)
	require.NoError(t, err)

	err = job.Run(context.Background())
	assert.ErrorIs(t, err, reconcile.ErrConsistency)
}

func TestProductionRetryJob(t *testing.T) {
	pool := &fakeRetryRunner{summary: production.RetrySummary{Scanned: 3, Applied: 2, Failed: 1}}
	job, err := NewProductionRetryJob(logger.New(logger.Options{ServiceName: "test"}), pool)
	require.NoError(t, err)
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 1, pool.calls)

	pool.err = errors.New("db down")
	assert.Error(t, job.Run(context.Background()))

	_, err = NewProductionRetryJob(nil, pool)
	assert.Error(t, err)
}
