package reconcile

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/mfg-ledger-backend/pkg/db/models"
)

// matchLegacy picks the unlinked movement that most plausibly belongs to an
// event: same sign as expected, within tolerance, closest to the event time.
// Candidates are already filtered by material, actor and window.
func matchLegacy(candidates []models.StockMovement, expected decimal.Decimal, at time.Time, window time.Duration, tolerance decimal.Decimal) (models.StockMovement, bool) {
	var (
		best      models.StockMovement
		bestGap   time.Duration
		found     bool
		expected0 = expected.Sign()
	)
	for _, c := range candidates {
		if c.Quantity.Sign() != expected0 || expected0 == 0 {
			continue
		}
		if c.Quantity.Sub(expected).Abs().GreaterThan(tolerance) {
			continue
		}
		gap := c.CreatedAt.Sub(at)
		if gap < 0 {
			gap = -gap
		}
		if window > 0 && gap > window {
			continue
		}
		if !found || gap < bestGap {
			best, bestGap, found = c, gap, true
		}
	}
	return best, found
}

// linkedWithinTolerance accepts a linked legacy movement whose quantity was
// matched within tolerance. Synthesized movements are always exact.
func linkedWithinTolerance(m models.StockMovement, expected, tolerance decimal.Decimal) bool {
	if m.Synthesized || m.Quantity.Sign() != expected.Sign() {
		return false
	}
	return m.Quantity.Sub(expected).Abs().LessThanOrEqual(tolerance)
}

// driftCovers reports whether an unexplained on-hand drift already contains the
// whole expected change.
func driftCovers(drift, expected decimal.Decimal) bool {
	if expected.IsZero() || drift.Sign() != expected.Sign() {
		return false
	}
	return drift.Abs().GreaterThanOrEqual(expected.Abs())
}
