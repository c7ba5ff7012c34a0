package pipeline

import (
	"time"
)

// StageName is a strongly-typed identifier for a run stage. All canonical
// stages are declared as constants here for compile-time safety.
type StageName string

// Canonical stage names. Checkout and publish are native runner stages;
// preflight and linkcheck are optional validation stages; the shell stages
// between checkout and publish carry their configured names (install and
// build by default).
const (
	StageCheckout  StageName = "checkout"
	StagePreflight StageName = "preflight"
	StageInstall   StageName = "install"
	StageBuild     StageName = "build"
	StageLinkCheck StageName = "linkcheck"
	StagePublish   StageName = "publish"
)

// RunStatus represents the current status of a pipeline run.
type RunStatus string

const (
	StatusQueued   RunStatus = "queued"
	StatusRunning  RunStatus = "running"
	StatusSuccess  RunStatus = "success"
	StatusFailed   RunStatus = "failed"
	StatusCanceled RunStatus = "canceled"
)

// TriggerKind identifies what instantiated a run.
type TriggerKind string

const (
	TriggerManual    TriggerKind = "manual"
	TriggerWebhook   TriggerKind = "webhook"
	TriggerScheduled TriggerKind = "scheduled"
)

// StageOutcome records the result of a single stage within a run.
type StageOutcome struct {
	Stage    StageName
	Status   RunStatus
	Duration time.Duration
	Err      error
}

// Run is the in-memory record of one pipeline execution. Exactly one run
// exists per trigger event; the run store persists its terminal state.
type Run struct {
	ID          string
	Trigger     TriggerKind
	Status      RunStatus
	CommitSHA   string
	Stages      []StageOutcome
	Err         error
	StartedAt   time.Time
	CompletedAt time.Time
}

// Duration returns the total wall time of the run.
func (r *Run) Duration() time.Duration {
	if r.CompletedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// FailedStage returns the stage where the run failed, or "" for successful runs.
func (r *Run) FailedStage() StageName {
	for _, s := range r.Stages {
		if s.Status == StatusFailed || s.Status == StatusCanceled {
			return s.Stage
		}
	}
	return ""
}
