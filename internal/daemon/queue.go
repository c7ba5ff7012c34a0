package daemon

import (
	"errors"
	"sync"
	"time"

	"git.home.fjellstad.io/blog/blogpipe/internal/metrics"
	"git.home.fjellstad.io/blog/blogpipe/internal/pipeline"
)

// ErrQueueFull is returned when a trigger arrives while the queue is at
// capacity. Callers surface it as backpressure (HTTP 429); the push is not
// lost, the next accepted trigger builds the same head.
var ErrQueueFull = errors.New("run queue is full")

// ErrQueueClosed is returned when enqueueing after shutdown began.
var ErrQueueClosed = errors.New("run queue is closed")

// Trigger is a queued request for one pipeline run.
type Trigger struct {
	Kind       pipeline.TriggerKind
	Forge      string // forge detected from webhook headers, informational
	ReceivedAt time.Time
}

// Queue is a bounded FIFO of pending run triggers, consumed by a single
// worker so runs never overlap.
type Queue struct {
	mu       sync.Mutex
	ch       chan Trigger
	closed   bool
	recorder metrics.Recorder
}

// NewQueue creates a queue with the given capacity.
func NewQueue(size int, recorder metrics.Recorder) *Queue {
	if size <= 0 {
		size = 1
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Queue{ch: make(chan Trigger, size), recorder: recorder}
}

// Enqueue adds a trigger without blocking. A full queue rejects.
func (q *Queue) Enqueue(t Trigger) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- t:
		q.recorder.SetQueueDepth(len(q.ch))
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue exposes the consumer side. The channel closes when the queue does.
func (q *Queue) Dequeue() <-chan Trigger { return q.ch }

// Depth returns the number of pending triggers.
func (q *Queue) Depth() int { return len(q.ch) }

// Taken must be called by the consumer after receiving a trigger so the
// depth gauge stays accurate.
func (q *Queue) Taken() { q.recorder.SetQueueDepth(len(q.ch)) }

// Close stops intake. Pending triggers remain readable until drained.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}
