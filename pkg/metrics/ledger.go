package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mfg_ledger"

// Production event outcomes reported by the handler.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
)

// LedgerMetrics tracks stock movements, production events and reconciliation.
type LedgerMetrics struct {
	movements        *prometheus.CounterVec
	productionEvents *prometheus.CounterVec
	skippedDebits    prometheus.Counter
	applyDuration    prometheus.Histogram
	gaps             *prometheus.CounterVec
	reconcileRuns    *prometheus.CounterVec
	reconcileLatency prometheus.Histogram
}

// NewLedgerMetrics registers the ledger collectors. A nil registerer yields a
// no-op recorder so unit tests can skip prometheus entirely.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	m := &LedgerMetrics{
		movements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_movements_total",
			Help:      "Stock movements posted to the ledger.",
		}, []string{"material_type", "movement_type"}),
		productionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "production_events_total",
			Help:      "Production events handled, by outcome.",
		}, []string{"outcome"}),
		skippedDebits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_debits_total",
			Help:      "Consumption debits that rounded to zero and were not posted.",
		}),
		applyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "production_apply_duration_seconds",
			Help:      "Time spent applying a production event.",
			Buckets:   prometheus.DefBuckets,
		}),
		gaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_gaps_total",
			Help:      "Ledger gaps detected by reconciliation, by resolution.",
		}, []string{"resolution"}),
		reconcileRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_runs_total",
			Help:      "Reconciliation runs, by trigger.",
		}, []string{"trigger"}),
		reconcileLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconciliation_duration_seconds",
			Help:      "Duration of reconciliation runs.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}),
	}
	reg.MustRegister(m.movements, m.productionEvents, m.skippedDebits, m.applyDuration, m.gaps, m.reconcileRuns, m.reconcileLatency)
	return m
}

func (m *LedgerMetrics) IncMovement(materialType, movementType string) {
	if m == nil || m.movements == nil {
		return
	}
	m.movements.WithLabelValues(normalizeLabel(materialType), normalizeLabel(movementType)).Inc()
}

func (m *LedgerMetrics) IncProductionEvent(outcome string) {
	if m == nil || m.productionEvents == nil {
		return
	}
	m.productionEvents.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *LedgerMetrics) AddSkippedDebits(n int) {
	if m == nil || m.skippedDebits == nil || n <= 0 {
		return
	}
	m.skippedDebits.Add(float64(n))
}

func (m *LedgerMetrics) ObserveApply(d time.Duration) {
	if m == nil || m.applyDuration == nil {
		return
	}
	m.applyDuration.Observe(d.Seconds())
}

// AddGaps counts gaps by how they were resolved (synthesized, linked, conflict, error).
func (m *LedgerMetrics) AddGaps(resolution string, n int) {
	if m == nil || m.gaps == nil || n <= 0 {
		return
	}
	m.gaps.WithLabelValues(normalizeLabel(resolution)).Add(float64(n))
}

func (m *LedgerMetrics) ObserveReconcile(trigger string, d time.Duration) {
	if m == nil || m.reconcileRuns == nil {
		return
	}
	m.reconcileRuns.WithLabelValues(normalizeLabel(trigger)).Inc()
	m.reconcileLatency.Observe(d.Seconds())
}
