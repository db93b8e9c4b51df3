package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/mfg-ledger-backend/internal/materials"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/mfg-ledger-backend/pkg/errors"
)

// Gap kinds.
const (
	KindUnapplied = "unapplied_event"
	KindMissing   = "missing_movement"
	KindDuplicate = "duplicate_movement"
	KindMismatch  = "quantity_mismatch"
)

// Gap actions.
const (
	ActionApplied      = "applied"
	ActionSynthesized  = "synthesized"
	ActionRecordedOnly = "recorded_only"
	ActionLinked       = "linked_legacy"
	ActionConflict     = "conflict"
	ActionFailed       = "failed"
)

// GapRecord is one finding of a run.
type GapRecord struct {
	EventID    uuid.UUID       `json:"eventId"`
	PlanID     uuid.UUID       `json:"planId"`
	Material   *materials.Ref  `json:"material,omitempty"`
	Kind       string          `json:"kind"`
	Expected   decimal.Decimal `json:"expected"`
	Action     string          `json:"action"`
	MovementID *uuid.UUID      `json:"movementId,omitempty"`
	Detail     string          `json:"detail,omitempty"`
}

// Report summarizes a run.
type Report struct {
	ID               uuid.UUID   `json:"id"`
	Trigger          string      `json:"trigger"`
	StartedAt        time.Time   `json:"startedAt"`
	FinishedAt       time.Time   `json:"finishedAt"`
	EventsScanned    int         `json:"eventsScanned"`
	GapsFound        int         `json:"gapsFound"`
	MovementsCreated int         `json:"movementsCreated"`
	LinksAttached    int         `json:"linksAttached"`
	EventsApplied    int         `json:"eventsApplied"`
	Conflicts        int         `json:"conflicts"`
	Errors           int         `json:"errors"`
	Gaps             []GapRecord `json:"gaps"`
	// ResumeCursor is set when the run stopped at its limit before the end of
	// the window.
	ResumeCursor     string      `json:"resumeCursor,omitempty"`
}

func (r *Report) add(gap GapRecord) {
	r.Gaps = append(r.Gaps, gap)
	r.GapsFound++
	switch gap.Action {
	case ActionSynthesized, ActionRecordedOnly:
		r.MovementsCreated++
	case ActionLinked:
		r.LinksAttached++
	case ActionApplied:
		r.EventsApplied++
	case ActionConflict:
		r.Conflicts++
	case ActionFailed:
		r.Errors++
	}
}

// ErrReportNotFound is wrapped with CodeNotFound.
var ErrReportNotFound = errors.New("reconciliation report not found")

// ReportRepository persists run reports.
type ReportRepository interface {
	Create(ctx context.Context, tx *gorm.DB, report Report) error
	List(ctx context.Context, limit int) ([]Report, error)
	Get(ctx context.Context, id uuid.UUID) (Report, error)
	// Latest returns the newest report, or nil when none exist.
	Latest(ctx context.Context) (*Report, error)
}

type reportRepository struct {
	db *gorm.DB
}

func NewReportRepository(db *gorm.DB) ReportRepository {
	return &reportRepository{db: db}
}

func (r *reportRepository) Create(ctx context.Context, tx *gorm.DB, report Report) error {
	if tx == nil {
		tx = r.db
	}
	gaps := report.Gaps
	if gaps == nil {
		gaps = []GapRecord{}
	}
	details, err := json.Marshal(gaps)
	if err != nil {
		return fmt.Errorf("encode gap records: %w", err)
	}
	row := models.ReconciliationReport{
		ID:               report.ID,
		Trigger:          report.Trigger,
		StartedAt:        report.StartedAt.UTC(),
		FinishedAt:       report.FinishedAt.UTC(),
		EventsScanned:    report.EventsScanned,
		GapsFound:        report.GapsFound,
		MovementsCreated: report.MovementsCreated,
		LinksAttached:    report.LinksAttached,
		EventsApplied:    report.EventsApplied,
		Conflicts:        report.Conflicts,
		Errors:           report.Errors,
		Details:          details,
		ResumeCursor:     report.ResumeCursor,
		CreatedAt:        report.FinishedAt.UTC(),
	}
	return tx.WithContext(ctx).Create(&row).Error
}

func (r *reportRepository) List(ctx context.Context, limit int) ([]Report, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []models.ReconciliationReport
	if err := r.db.WithContext(ctx).Order("started_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Report, 0, len(rows))
	for _, row := range rows {
		report, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, report)
	}
	return out, nil
}

func (r *reportRepository) Get(ctx context.Context, id uuid.UUID) (Report, error) {
	var row models.ReconciliationReport
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Report{}, pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrReportNotFound, fmt.Sprintf("reconciliation report %s not found", id))
		}
		return Report{}, err
	}
	return fromRow(row)
}

func (r *reportRepository) Latest(ctx context.Context) (*Report, error) {
	var row models.ReconciliationReport
	err := r.db.WithContext(ctx).Order("started_at DESC").Order("id DESC").Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	report, err := fromRow(row)
	if err != nil {
		return nil, err
	}
	return &report, nil
}

func fromRow(row models.ReconciliationReport) (Report, error) {
	report := Report{
		ID:               row.ID,
		Trigger:          row.Trigger,
		StartedAt:        row.StartedAt,
		FinishedAt:       row.FinishedAt,
		EventsScanned:    row.EventsScanned,
		GapsFound:        row.GapsFound,
		MovementsCreated: row.MovementsCreated,
		LinksAttached:    row.LinksAttached,
		EventsApplied:    row.EventsApplied,
		Conflicts:        row.Conflicts,
		Errors:           row.Errors,
		Gaps:             []GapRecord{},
		ResumeCursor:     row.ResumeCursor,
	}
	if len(row.Details) > 0 {
		if err := json.Unmarshal(row.Details, &report.Gaps); err != nil {
			return Report{}, fmt.Errorf("decode gap records of %s: %w", row.ID, err)
		}
	}
	return report, nil
}
