package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/mfg-ledger-backend/internal/reconcile"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/logger"
)

type reconciler interface {
	Run(ctx context.Context, opts reconcile.Options) (reconcile.Report, error)
}

// ReconcileJob runs the ledger reconciliation pass.
type ReconcileJob struct {
	logg   *logger.Logger
	engine reconciler
}

func NewReconcileJob(logg *logger.Logger, engine reconciler) (*ReconcileJob, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if engine == nil {
		return nil, fmt.Errorf("reconcile engine required")
	}
	return &ReconcileJob{logg: logg, engine: engine}, nil
}

func (j *ReconcileJob) Name() string { return "ledger-reconcile" }

// Run fails the job when any event could not be reconciled so the failure
// counter alerts; the report itself is already persisted by then.
func (j *ReconcileJob) Run(ctx context.Context) error {
	report, err := j.engine.Run(ctx, reconcile.Options{Trigger: reconcile.TriggerCron})
	if err != nil {
		return fmt.Errorf("reconcile run %s: %w", report.ID, err)
	}
	if report.GapsFound > 0 {
		j.logg.Warn(j.logg.WithFields(ctx, map[string]any{
			"report_id":  report.ID.String(),
			"gaps_found": report.GapsFound,
		}), "reconciliation repaired ledger gaps")
	}
	return nil
}
