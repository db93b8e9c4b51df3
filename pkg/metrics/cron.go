package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Cron tick results.
const (
	JobSucceeded = "success"
	JobFailed    = "failure"
	JobSkipped   = "skipped"
	JobLockError = "lock_error"
)

// CronJobMetrics covers the scheduled reconciliation, retry and retention jobs.
// last_success_timestamp lets alerts fire when reconciliation stops running.
type CronJobMetrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
}

func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return &CronJobMetrics{}
	}
	m := &CronJobMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "job_runs_total",
			Help:      "Cron ticks by job and result.",
		}, []string{"job", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "job_duration_seconds",
			Help:      "Wall time of cron jobs that acquired their lock.",
			Buckets:   []float64{0.05, 0.25, 1, 5, 15, 60, 300},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "job_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run per job.",
		}, []string{"job"}),
	}
	reg.MustRegister(m.runs, m.duration, m.lastSuccess)
	return m
}

// Ran records a job that held the lock and finished at end.
func (c *CronJobMetrics) Ran(job string, took time.Duration, end time.Time, err error) {
	if c == nil || c.runs == nil {
		return
	}
	job = normalizeLabel(job)
	c.duration.WithLabelValues(job).Observe(took.Seconds())
	if err != nil {
		c.runs.WithLabelValues(job, JobFailed).Inc()
		return
	}
	c.runs.WithLabelValues(job, JobSucceeded).Inc()
	c.lastSuccess.WithLabelValues(job).Set(float64(end.Unix()))
}

// NotRun records a tick that never reached the job (JobSkipped or JobLockError).
func (c *CronJobMetrics) NotRun(job, result string) {
	if c == nil || c.runs == nil {
		return
	}
	c.runs.WithLabelValues(normalizeLabel(job), result).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
