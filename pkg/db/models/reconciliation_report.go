package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ReconciliationReport summarizes one reconciliation run. Details carries the
// per-gap records as JSON.
type ReconciliationReport struct {
	ID               uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Trigger          string          `gorm:"column:trigger;not null"`
	StartedAt        time.Time       `gorm:"column:started_at;not null"`
	FinishedAt       time.Time       `gorm:"column:finished_at;not null"`
	EventsScanned    int             `gorm:"column:events_scanned;not null"`
	GapsFound        int             `gorm:"column:gaps_found;not null"`
	MovementsCreated int             `gorm:"column:movements_created;not null"`
	LinksAttached    int             `gorm:"column:links_attached;not null"`
	EventsApplied    int             `gorm:"column:events_applied;not null"`
	Conflicts        int             `gorm:"column:conflicts;not null"`
	Errors           int             `gorm:"column:errors;not null"`
	Details          json.RawMessage `gorm:"column:details;type:jsonb"`
	// ResumeCursor is where the next scheduled run picks up; empty once a run
	// reached the end of its window.
	ResumeCursor     string          `gorm:"column:resume_cursor;not null;default:''"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (ReconciliationReport) TableName() string { return "reconciliation_reports" }
