// Package runstore persists pipeline run and stage outcomes in SQLite so the
// daemon can answer status queries across restarts.
package runstore

import (
	"context"
	"time"
)

// RunRecord is a persisted pipeline run. The JSON shape is what the daemon's
// run endpoints serve.
type RunRecord struct {
	ID          string    `json:"id"`
	Trigger     string    `json:"trigger"`
	Status      string    `json:"status"`
	CommitSHA   string    `json:"commit_sha,omitempty"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
	DurationMS  int64     `json:"duration_ms"`
}

// StepRecord is a persisted step execution within a run.
type StepRecord struct {
	ID         int64  `json:"id"`
	RunID      string `json:"run_id"`
	Stage      string `json:"stage"`
	Step       string `json:"step"`
	Status     string `json:"status"`
	ExitCode   int    `json:"exit_code"`
	Output     string `json:"output,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// Store defines the persistence interface for runs and their steps.
type Store interface {
	// CreateRun inserts a new run in its initial status.
	CreateRun(ctx context.Context, run RunRecord) error

	// CompleteRun records the terminal status of a run.
	CompleteRun(ctx context.Context, id, status, errMsg string, completedAt time.Time, duration time.Duration) error

	// RecordStep appends a step execution to a run.
	RecordStep(ctx context.Context, step StepRecord) error

	// GetRun returns a run and its step executions.
	GetRun(ctx context.Context, id string) (*RunRecord, []StepRecord, error)

	// ListRecent returns the most recent runs, newest first.
	ListRecent(ctx context.Context, limit int) ([]RunRecord, error)

	// Prune removes finished runs beyond the newest keep entries.
	Prune(ctx context.Context, keep int) error

	// Close closes the store and releases resources.
	Close() error
}
