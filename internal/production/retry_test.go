package production

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/mfg-ledger-backend/pkg/db/models"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/enums"
)

func TestRetryPoolAppliesStaleEvents(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	plan := f.createPlan(t, "10", nil)
	first := f.record(t, plan.ID, "2")
	second := f.record(t, plan.ID, "3")

	pool, err := NewRetryPool(RetryPoolParams{
		DB:          f.client,
		Repository:  f.repo,
		Applier:     f.handler,
		Concurrency: 2,
		MaxAttempts: 3,
	})
	require.NoError(t, err)

	summary, err := pool.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, RetrySummary{Scanned: 2, Applied: 2}, summary)
	assert.Equal(t, enums.ProductionEventLinked, f.event(t, first.EventID).Status)
	assert.Equal(t, enums.ProductionEventLinked, f.event(t, second.EventID).Status)
	assert.True(t, f.stock(t, f.product).Quantity.Equal(dec("5")))

	summary, err = pool.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.Scanned)
}

func TestRetryPoolStopsAtMaxAttempts(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	plan := f.createPlan(t, "10", nil)
	f.record(t, plan.ID, "2")
	require.NoError(t, f.client.DB().Where("plan_id = ?", plan.ID).Delete(&models.BOMSnapshotLine{}).Error)

	pool, err := NewRetryPool(RetryPoolParams{DB: f.client, Repository: f.repo, Applier: f.handler, MaxAttempts: 2})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		summary, err := pool.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Failed)
	}
	summary, err := pool.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.Scanned, "exhausted events are left for reconciliation")
}
