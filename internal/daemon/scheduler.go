package daemon

import (
	"fmt"
	"log/slog"
	"time"

	"git.home.fjellstad.io/blog/blogpipe/internal/logfields"
	"git.home.fjellstad.io/blog/blogpipe/internal/pipeline"
	"github.com/go-co-op/gocron/v2"
)

// Scheduler periodically enqueues rebuild triggers so the published site
// converges on the branch head even when a webhook delivery was missed.
type Scheduler struct {
	scheduler gocron.Scheduler
	enqueue   func(Trigger) error
}

// NewScheduler creates a scheduler delivering into the run queue.
func NewScheduler(enqueue func(Trigger) error) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Scheduler{scheduler: s, enqueue: enqueue}, nil
}

// SchedulePeriodicRebuild registers the recurring trigger and starts the
// scheduler.
func (s *Scheduler) SchedulePeriodicRebuild(interval time.Duration) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.fire),
		gocron.WithName("periodic-rebuild"),
	)
	if err != nil {
		return fmt.Errorf("failed to create periodic rebuild job: %w", err)
	}

	slog.Info("Periodic rebuild scheduled", slog.Duration("interval", interval))
	s.scheduler.Start()
	return nil
}

func (s *Scheduler) fire() {
	err := s.enqueue(Trigger{Kind: pipeline.TriggerScheduled, ReceivedAt: time.Now()})
	if err == ErrQueueFull {
		// A run is already pending; it will build the same head.
		slog.Debug("Skipping scheduled rebuild, queue full")
		return
	}
	if err != nil {
		slog.Warn("Failed to enqueue scheduled rebuild", logfields.Error(err))
	}
}

// Stop shuts the scheduler down.
func (s *Scheduler) Stop() error {
	return s.scheduler.Shutdown()
}
