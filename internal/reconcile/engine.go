package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/mfg-ledger-backend/internal/bom"
	"github.com/angelmondragon/mfg-ledger-backend/internal/ledger"
	"github.com/angelmondragon/mfg-ledger-backend/internal/materials"
	"github.com/angelmondragon/mfg-ledger-backend/internal/production"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/db/models"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/mfg-ledger-backend/pkg/errors"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/logger"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/metrics"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/outbox"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/pagination"
)

// Run triggers.
const (
	TriggerManual = "manual"
	TriggerCron   = "cron"
)

// ErrConsistency marks ledger state reconciliation refuses to touch.
var ErrConsistency = errors.New("ledger consistency violation")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type snapshotLoader interface {
	LoadSnapshot(tx *gorm.DB, planID uuid.UUID) ([]bom.Line, error)
}

type ledgerRepairer interface {
	ForEvent(ctx context.Context, tx *gorm.DB, eventID uuid.UUID) ([]models.StockMovement, error)
	PostBackfill(ctx context.Context, tx *gorm.DB, in ledger.PostInput, applyToOnHand bool) (models.StockMovement, error)
	LinkEvent(ctx context.Context, tx *gorm.DB, movementID, eventID uuid.UUID) (bool, error)
	UnlinkedCandidates(ctx context.Context, tx *gorm.DB, ref materials.Ref, actorID uuid.UUID, from, to time.Time) ([]models.StockMovement, error)
	ReconstructTx(ctx context.Context, tx *gorm.DB, ref materials.Ref) (ledger.Reconstruction, error)
}

type reservationConsumer interface {
	ActiveFor(ctx context.Context, tx *gorm.DB, planID uuid.UUID, orderID *uuid.UUID, ref materials.Ref) (*models.MaterialReservation, error)
	Consume(ctx context.Context, tx *gorm.DB, res *models.MaterialReservation, amount decimal.Decimal) (decimal.Decimal, error)
	CompleteForPlan(ctx context.Context, tx *gorm.DB, planID uuid.UUID) ([]models.MaterialReservation, error)
}

type eventApplier interface {
	Apply(ctx context.Context, eventID uuid.UUID) (production.Result, error)
}

// Params wires the engine. Zero durations and limits fall back to defaults.
type Params struct {
	DB              txRunner
	Production      production.Repository
	Snapshots       snapshotLoader
	Ledger          ledgerRepairer
	Reservations    reservationConsumer
	Applier         eventApplier
	Reports         ReportRepository
	Outbox          eventEmitter
	Metrics         *metrics.LedgerMetrics
	Logger          *logger.Logger
	Limit           int
	Lookback        time.Duration
	Grace           time.Duration
	LegacyWindow    time.Duration
	LegacyTolerance decimal.Decimal
	LinkLegacy      bool
	Now             func() time.Time
}

// Options narrow a single run.
type Options struct {
	Limit int
	// Since overrides the lookback window.
	Since *time.Time
	// LinkLegacy overrides the configured legacy linking switch.
	LinkLegacy *bool
	Trigger    string
}

// Engine audits production events against the ledger and repairs gaps.
type Engine struct {
	tx           txRunner
	production   production.Repository
	snapshots    snapshotLoader
	ledger       ledgerRepairer
	reservations reservationConsumer
	applier      eventApplier
	reports      ReportRepository
	outbox       eventEmitter
	metrics      *metrics.LedgerMetrics
	logg         *logger.Logger

	limit      int
	lookback   time.Duration
	grace      time.Duration
	window     time.Duration
	tolerance  decimal.Decimal
	linkLegacy bool
	now        func() time.Time
}

func NewEngine(params Params) (*Engine, error) {
	if params.DB == nil {
		return nil, errors.New("transaction runner required")
	}
	if params.Production == nil {
		return nil, errors.New("production repository required")
	}
	if params.Snapshots == nil {
		return nil, errors.New("snapshot loader required")
	}
	if params.Ledger == nil {
		return nil, errors.New("ledger required")
	}
	if params.Reservations == nil {
		return nil, errors.New("reservations required")
	}
	if params.Applier == nil {
		return nil, errors.New("production applier required")
	}
	if params.Reports == nil {
		return nil, errors.New("report repository required")
	}
	e := &Engine{
		tx:           params.DB,
		production:   params.Production,
		snapshots:    params.Snapshots,
		ledger:       params.Ledger,
		reservations: params.Reservations,
		applier:      params.Applier,
		reports:      params.Reports,
		outbox:       params.Outbox,
		metrics:      params.Metrics,
		logg:         params.Logger,
		limit:        params.Limit,
		lookback:     params.Lookback,
		grace:        params.Grace,
		window:       params.LegacyWindow,
		tolerance:    params.LegacyTolerance,
		linkLegacy:   params.LinkLegacy,
		now:          params.Now,
	}
	if e.limit <= 0 {
		e.limit = 250
	}
	if e.lookback <= 0 {
		e.lookback = 7 * 24 * time.Hour
	}
	if e.window <= 0 {
		e.window = 10 * time.Minute
	}
	if e.tolerance.IsNegative() {
		e.tolerance = decimal.Zero
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// Run scans production events older than the grace period and repairs what it
// can. The report is persisted even when some events failed; the returned
// error aggregates every per-event failure and conflict.
func (e *Engine) Run(ctx context.Context, opts Options) (Report, error) {
	started := e.now().UTC()
	trigger := opts.Trigger
	if trigger == "" {
		trigger = TriggerManual
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = e.limit
	}
	since := started.Add(-e.lookback)
	if opts.Since != nil {
		since = opts.Since.UTC()
	}
	linkLegacy := e.linkLegacy
	if opts.LinkLegacy != nil {
		linkLegacy = *opts.LinkLegacy
	}
	if e.logg != nil {
		ctx = e.logg.WithField(ctx, "trigger", trigger)
	}

	var after *pagination.Cursor
	if opts.Since == nil {
		cursor, err := e.resumeFrom(ctx, since)
		if err != nil {
			return Report{}, err
		}
		after = cursor
	}
	events, err := e.scan(ctx, since, started.Add(-e.grace), after, limit)
	if err != nil {
		return Report{}, fmt.Errorf("list production events: %w", err)
	}

	report := Report{ID: uuid.New(), Trigger: trigger, StartedAt: started, EventsScanned: len(events)}
	if len(events) == limit {
		last := events[len(events)-1]
		report.ResumeCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	var runErr error
	for _, event := range events {
		gaps, err := e.reconcileEvent(ctx, event, linkLegacy)
		for _, gap := range gaps {
			report.add(gap)
		}
		if err != nil {
			runErr = multierr.Append(runErr, fmt.Errorf("event %s: %w", event.ID, err))
		}
	}
	report.FinishedAt = e.now().UTC()
	if report.Gaps == nil {
		report.Gaps = []GapRecord{}
	}

	if err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := e.reports.Create(ctx, tx, report); err != nil {
			return err
		}
		return e.emit(ctx, tx, enums.EventReconciliationCompleted, enums.AggregateReconciliation, report.ID, payloads.ReconciliationCompletedEvent{
			ReportID:         report.ID,
			Trigger:          report.Trigger,
			EventsScanned:    report.EventsScanned,
			GapsFound:        report.GapsFound,
			MovementsCreated: report.MovementsCreated,
			LinksAttached:    report.LinksAttached,
			Conflicts:        report.Conflicts,
			Errors:           report.Errors,
		})
	}); err != nil {
		return report, multierr.Append(runErr, fmt.Errorf("persist reconciliation report: %w", err))
	}

	e.record(report)
	if e.logg != nil {
		logCtx := e.logg.WithFields(ctx, map[string]any{
			"report_id":         report.ID.String(),
			"events_scanned":    report.EventsScanned,
			"gaps_found":        report.GapsFound,
			"movements_created": report.MovementsCreated,
			"links_attached":    report.LinksAttached,
			"events_applied":    report.EventsApplied,
			"conflicts":         report.Conflicts,
			"errors":            report.Errors,
		})
		if runErr != nil {
			e.logg.Error(logCtx, "reconciliation finished with errors", runErr)
		} else {
			e.logg.Info(logCtx, "reconciliation finished")
		}
	}
	return report, runErr
}

// scan reads up to limit events after the cursor. When the end of the window
// comes first it wraps around to the window's start, stopping before events it
// already holds.
func (e *Engine) scan(ctx context.Context, since, before time.Time, after *pagination.Cursor, limit int) ([]models.ProductionEvent, error) {
	events, err := e.production.ForReconcile(ctx, since, before, after, limit)
	if err != nil || after == nil || len(events) >= limit {
		return events, err
	}
	head, err := e.production.ForReconcile(ctx, since, before, nil, limit-len(events))
	if err != nil {
		return nil, err
	}
	seen := make(map[uuid.UUID]bool, len(events))
	for _, event := range events {
		seen[event.ID] = true
	}
	for _, event := range head {
		if seen[event.ID] {
			break
		}
		events = append(events, event)
	}
	return events, nil
}

// resumeFrom returns where the previous run stopped, or nil to start at the
// beginning of the window.
func (e *Engine) resumeFrom(ctx context.Context, since time.Time) (*pagination.Cursor, error) {
	latest, err := e.reports.Latest(ctx)
	if err != nil {
		return nil, fmt.Errorf("load previous reconciliation report: %w", err)
	}
	if latest == nil || latest.ResumeCursor == "" {
		return nil, nil
	}
	cursor, err := pagination.ParseCursor(latest.ResumeCursor)
	if err != nil {
		if e.logg != nil {
			e.logg.Warn(e.logg.WithField(ctx, "error", err.Error()), "ignoring unreadable reconciliation cursor")
		}
		return nil, nil
	}
	if cursor.CreatedAt.Before(since) {
		return nil, nil
	}
	return cursor, nil
}

func (e *Engine) record(report Report) {
	counts := map[string]int{}
	for _, gap := range report.Gaps {
		counts[gap.Action]++
	}
	for action, n := range counts {
		e.metrics.AddGaps(action, n)
	}
	e.metrics.ObserveReconcile(report.Trigger, report.FinishedAt.Sub(report.StartedAt))
}

var errDelegate = errors.New("event has no movements")

func (e *Engine) reconcileEvent(ctx context.Context, event models.ProductionEvent, linkLegacy bool) ([]GapRecord, error) {
	if e.logg != nil {
		ctx = e.logg.WithEventID(ctx, event.ID.String())
		ctx = e.logg.WithPlanID(ctx, event.PlanID.String())
	}

	var gaps []GapRecord
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		gaps, err = e.repair(ctx, tx, event.ID, linkLegacy)
		return err
	})
	switch {
	case errors.Is(err, errDelegate):
		return e.delegate(ctx, event)
	case errors.Is(err, ErrConsistency):
		gap := GapRecord{Kind: KindDuplicate}
		if details, ok := pkgerrors.As(err).Details().(GapRecord); ok {
			gap = details
		}
		gap.EventID, gap.PlanID = event.ID, event.PlanID
		gap.Action = ActionConflict
		gap.Detail = err.Error()
		if e.logg != nil {
			e.logg.Error(ctx, "ledger consistency violation, not repaired", err)
		}
		return []GapRecord{gap}, err
	case err != nil:
		if e.logg != nil {
			e.logg.Error(ctx, "reconcile production event failed", err)
		}
		return []GapRecord{{EventID: event.ID, PlanID: event.PlanID, Kind: KindMissing, Action: ActionFailed, Detail: err.Error()}}, err
	}
	return gaps, nil
}

// delegate hands an event that never produced a single movement to the regular
// handler.
func (e *Engine) delegate(ctx context.Context, event models.ProductionEvent) ([]GapRecord, error) {
	gap := GapRecord{EventID: event.ID, PlanID: event.PlanID, Kind: KindUnapplied, Expected: event.QuantityProduced}
	result, err := e.applier.Apply(ctx, event.ID)
	if err != nil {
		gap.Action = ActionFailed
		gap.Detail = err.Error()
		return []GapRecord{gap}, err
	}
	if result.Outcome != metrics.OutcomeApplied {
		return nil, nil
	}
	gap.Action = ActionApplied
	if e.logg != nil {
		e.logg.Warn(e.logg.WithField(ctx, "movements", len(result.Movements)), "reconciliation applied an unapplied production event")
	}
	return []GapRecord{gap}, nil
}

// repair runs inside one transaction: it locks the event and plan, re-reads
// the event's movements and fills every missing pair.
func (e *Engine) repair(ctx context.Context, tx *gorm.DB, eventID uuid.UUID, linkLegacy bool) ([]GapRecord, error) {
	repo := e.production.WithTx(tx)
	event, err := repo.LockEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	plan, err := repo.LockPlan(ctx, event.PlanID)
	if err != nil {
		return nil, err
	}
	existing, err := e.ledger.ForEvent(ctx, tx, event.ID)
	if err != nil {
		return nil, err
	}
	linked := event.Status == enums.ProductionEventLinked
	if len(existing) == 0 && !linked {
		return nil, errDelegate
	}

	snapshot, err := e.snapshots.LoadSnapshot(tx, plan.ID)
	if err != nil {
		return nil, err
	}
	cmd, err := production.PlanCommand(*plan, *event, snapshot)
	if err != nil {
		return nil, err
	}

	byRef := make(map[materials.Ref][]models.StockMovement, len(existing))
	for _, m := range existing {
		ref := materials.Ref{Type: m.MaterialType, ID: m.MaterialID}
		byRef[ref] = append(byRef[ref], m)
	}
	for ref, rows := range byRef {
		if len(rows) > 1 {
			return nil, conflict(event.ID, ref, KindDuplicate, fmt.Sprintf("%d movements for %s", len(rows), ref))
		}
		want, ok := cmd.Expected(ref)
		if !ok {
			continue
		}
		if !rows[0].Quantity.Equal(want.Quantity) && !linkedWithinTolerance(rows[0], want.Quantity, e.tolerance) {
			return nil, conflict(event.ID, ref, KindMismatch, fmt.Sprintf("movement %s for %s has quantity %s, expected %s", rows[0].ID, ref, rows[0].Quantity, want.Quantity))
		}
	}

	var (
		gaps      []GapRecord
		posted    []models.StockMovement
		synthetic bool
	)
	for _, w := range cmd.Writes() {
		if len(byRef[w.Material]) > 0 {
			continue
		}
		ref := w.Material
		gap := GapRecord{EventID: event.ID, PlanID: plan.ID, Material: &ref, Kind: KindMissing, Expected: w.Quantity}
		logCtx := ctx
		if e.logg != nil {
			logCtx = e.logg.WithMaterial(ctx, string(ref.Type), ref.ID.String())
		}

		if linkLegacy {
			movement, ok, err := e.linkLegacyMovement(ctx, tx, *event, w)
			if err != nil {
				return nil, err
			}
			if ok {
				gap.Action = ActionLinked
				gap.MovementID = &movement.ID
				gap.Detail = fmt.Sprintf("legacy movement %s linked by time and quantity match", movement.ID)
				gaps = append(gaps, gap)
				posted = append(posted, movement)
				if e.logg != nil {
					e.logg.Warn(e.logg.WithField(logCtx, "movement_id", movement.ID.String()), "linked legacy movement to production event, match is not authoritative")
				}
				continue
			}
		}

		movement, applied, err := e.synthesize(ctx, tx, *plan, *event, w)
		if err != nil {
			return nil, err
		}
		synthetic = true
		gap.MovementID = &movement.ID
		if applied {
			gap.Action = ActionSynthesized
		} else {
			gap.Action = ActionRecordedOnly
			gap.Detail = "on-hand already reflected the change"
		}
		gaps = append(gaps, gap)
		posted = append(posted, movement)
		if e.logg != nil {
			e.logg.Warn(e.logg.WithFields(logCtx, map[string]any{
				"movement_id":     movement.ID.String(),
				"expected":        w.Quantity.String(),
				"applied_to_hand": applied,
			}), "synthesized missing ledger movement")
		}
	}

	now := e.now().UTC()
	if !linked {
		plan.ProducedQuantity = cmd.ProducedAfter
		plan.Status = cmd.StatusAfter
		plan.UpdatedAt = now
		if cmd.Completes {
			plan.CompletedAt = &now
		}
		if err := repo.UpdatePlanProgress(ctx, plan); err != nil {
			return nil, err
		}
		if cmd.Completes {
			if _, err := e.reservations.CompleteForPlan(ctx, tx, plan.ID); err != nil {
				return nil, err
			}
			if err := e.emit(ctx, tx, enums.EventProductionPlanCompleted, enums.AggregateProductionPlan, plan.ID, payloads.ProductionPlanCompletedEvent{
				PlanID:           plan.ID,
				ProducedQuantity: plan.ProducedQuantity,
				CompletedAt:      now,
			}); err != nil {
				return nil, err
			}
		}
		if err := repo.MarkLinked(ctx, event.ID, now); err != nil {
			return nil, err
		}
	}
	if len(posted) > 0 {
		all := append(existing, posted...)
		if err := e.emit(ctx, tx, enums.EventProductionApplied, enums.AggregateProductionEvent, event.ID, production.AppliedPayload(*event, all, cmd.Skipped, synthetic)); err != nil {
			return nil, err
		}
	}
	return gaps, nil
}

// synthesize backfills one missing movement at the event's time. When the
// material's on-hand already differs from its movement sum by at least the
// expected change in the same direction, the stock was moved without a ledger
// entry and only the entry is written. Each record-only entry shrinks the
// drift, so several events that lost movements on one material each claim
// their own share of it and none is applied twice.
func (e *Engine) synthesize(ctx context.Context, tx *gorm.DB, plan models.ProductionPlan, event models.ProductionEvent, w production.Write) (models.StockMovement, bool, error) {
	state, err := e.ledger.ReconstructTx(ctx, tx, w.Material)
	if err != nil {
		return models.StockMovement{}, false, err
	}
	applyToOnHand := !driftCovers(state.OnHand.Sub(state.Sum), w.Quantity)

	eventID := event.ID
	movement, err := e.ledger.PostBackfill(ctx, tx, ledger.PostInput{
		Material:          w.Material,
		MovementType:      w.MovementType,
		Quantity:          w.Quantity,
		ActorID:           event.ActorID,
		Description:       w.Description + " (reconciled)",
		ProductionEventID: &eventID,
		OccurredAt:        event.OccurredAt,
		Synthesized:       true,
	}, applyToOnHand)
	if err != nil {
		return models.StockMovement{}, false, err
	}
	if applyToOnHand && w.Consume.IsPositive() {
		res, err := e.reservations.ActiveFor(ctx, tx, plan.ID, plan.OrderID, w.Material)
		if err != nil {
			return models.StockMovement{}, false, err
		}
		if res != nil {
			if _, err := e.reservations.Consume(ctx, tx, res, w.Consume); err != nil {
				return models.StockMovement{}, false, err
			}
		}
	}
	return movement, applyToOnHand, nil
}

func (e *Engine) linkLegacyMovement(ctx context.Context, tx *gorm.DB, event models.ProductionEvent, w production.Write) (models.StockMovement, bool, error) {
	at := event.OccurredAt.UTC()
	candidates, err := e.ledger.UnlinkedCandidates(ctx, tx, w.Material, event.ActorID, at.Add(-e.window), at.Add(e.window))
	if err != nil {
		return models.StockMovement{}, false, err
	}
	match, ok := matchLegacy(candidates, w.Quantity, at, e.window, e.tolerance)
	if !ok {
		return models.StockMovement{}, false, nil
	}
	linked, err := e.ledger.LinkEvent(ctx, tx, match.ID, event.ID)
	if err != nil || !linked {
		return models.StockMovement{}, false, err
	}
	eventID := event.ID
	match.ProductionEventID = &eventID
	return match, true, nil
}

func conflict(eventID uuid.UUID, ref materials.Ref, kind, detail string) error {
	return pkgerrors.Wrap(pkgerrors.CodeConsistency, ErrConsistency,
		fmt.Sprintf("production event %s: %s", eventID, detail)).WithDetails(GapRecord{Material: &ref, Kind: kind})
}

func (e *Engine) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType, aggregateID uuid.UUID, data any) error {
	if e.outbox == nil {
		return nil
	}
	return e.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: aggregate,
		AggregateID:   aggregateID,
		Data:          data,
	})
}

// Reports lists persisted runs, newest first.
func (e *Engine) Reports(ctx context.Context, limit int) ([]Report, error) {
	return e.reports.List(ctx, limit)
}

// Report returns one persisted run.
func (e *Engine) Report(ctx context.Context, id uuid.UUID) (Report, error) {
	return e.reports.Get(ctx, id)
}
