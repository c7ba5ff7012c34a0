package events

import "time"

// PushReceived indicates a source-control push webhook arrived. The payload
// beyond occurrence is informational only; the runner does not depend on it.
type PushReceived struct {
	Forge      string
	Repository string
	Branch     string
	ReceivedAt time.Time
}

// RunQueued is emitted when a trigger event instantiates a pipeline run.
type RunQueued struct {
	RunID    string
	Trigger  string
	QueuedAt time.Time
}

// RunStarted is emitted when a worker picks up a queued run.
type RunStarted struct {
	RunID     string
	Trigger   string
	StartedAt time.Time
}

// StageCompleted is emitted after each stage finishes, success or not.
type StageCompleted struct {
	RunID    string
	Stage    string
	Status   string
	Duration time.Duration
}

// RunCompleted is emitted when a run reaches a terminal state.
type RunCompleted struct {
	RunID       string
	Status      string
	FailedStage string
	Error       string
	Duration    time.Duration
	CompletedAt time.Time
}
