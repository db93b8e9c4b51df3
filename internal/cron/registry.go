package cron

import (
	"context"
	"time"
)

// Job is a unit of scheduled work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Entry binds a job to its cadence.
type Entry struct {
	Job   Job
	Every time.Duration
	// LockTTL bounds how long a crashed run can hold the job. Defaults to Every.
	LockTTL time.Duration
}

// Registry is the ordered set of scheduled entries.
type Registry struct {
	entries []Entry
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds job to run every interval. Nil jobs and non-positive
// intervals are ignored.
func (r *Registry) Register(job Job, every time.Duration) {
	if job == nil || every <= 0 {
		return
	}
	r.entries = append(r.entries, Entry{Job: job, Every: every, LockTTL: every})
}

// Entries returns a copy of the registered entries.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}
