package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronJobMetricsResults(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)
	end := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	m.Ran("ledger-reconcile", 2*time.Second, end, nil)
	m.Ran("ledger-reconcile", time.Second, end.Add(time.Minute), errors.New("db down"))
	m.NotRun("ledger-reconcile", JobSkipped)
	m.NotRun("", JobLockError)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("ledger-reconcile", JobSucceeded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("ledger-reconcile", JobFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("ledger-reconcile", JobSkipped)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("unknown", JobLockError)))
	// the failed run must not move the success timestamp
	assert.Equal(t, float64(end.Unix()), testutil.ToFloat64(m.lastSuccess.WithLabelValues("ledger-reconcile")))

	count, err := testutil.GatherAndCount(reg, "mfg_ledger_cron_job_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCronJobMetricsNilSafe(t *testing.T) {
	var m *CronJobMetrics
	m.Ran("job", time.Second, time.Now(), nil)
	m.NotRun("job", JobSkipped)
	NewCronJobMetrics(nil).Ran("job", time.Second, time.Now(), nil)
}
