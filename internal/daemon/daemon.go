// Package daemon runs the pipeline as a long-lived service: an HTTP webhook
// endpoint feeds a bounded queue consumed by a single worker, with optional
// periodic rebuilds and live configuration reload.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"git.home.fjellstad.io/blog/blogpipe/internal/config"
	perrors "git.home.fjellstad.io/blog/blogpipe/internal/errors"
	"git.home.fjellstad.io/blog/blogpipe/internal/events"
	"git.home.fjellstad.io/blog/blogpipe/internal/logfields"
	"git.home.fjellstad.io/blog/blogpipe/internal/metrics"
	"git.home.fjellstad.io/blog/blogpipe/internal/pipeline"
	"git.home.fjellstad.io/blog/blogpipe/internal/runstore"
)

// RunExecutor performs one pipeline run. Satisfied by pipeline.Runner.
type RunExecutor interface {
	Execute(ctx context.Context, trigger pipeline.TriggerKind) (*pipeline.Run, error)
}

// Options carries the daemon's collaborators. Executor is required; the rest
// are optional.
type Options struct {
	Executor       RunExecutor
	Bus            *events.Bus
	Store          runstore.Store
	Recorder       metrics.Recorder
	MetricsHandler http.Handler
	// ConfigPath enables live reload when set.
	ConfigPath string
	// OnReload builds a replacement executor for a changed configuration
	// (rebuilding the environment image first if its descriptor changed).
	OnReload func(ctx context.Context, cfg *config.Config) (RunExecutor, error)
}

// Daemon owns the long-running mode: HTTP server, trigger queue, worker,
// scheduler, and config watcher.
type Daemon struct {
	mu       sync.RWMutex
	cfg      *config.Config
	executor RunExecutor

	opts      Options
	queue     *Queue
	server    *Server
	scheduler *Scheduler
	watcher   *ConfigWatcher

	workerDone chan struct{}
}

// New validates the configuration and assembles the daemon.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	if cfg.Daemon == nil {
		return nil, perrors.DaemonError("daemon configuration required", nil)
	}
	if opts.Executor == nil {
		return nil, perrors.DaemonError("run executor required", nil)
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.NoopRecorder{}
	}

	d := &Daemon{
		cfg:        cfg,
		executor:   opts.Executor,
		opts:       opts,
		workerDone: make(chan struct{}),
	}
	d.queue = NewQueue(cfg.Daemon.QueueSize, opts.Recorder)
	d.server = NewServer(*cfg.Daemon, d.Enqueue, opts.Bus, opts.Store, opts.MetricsHandler)
	return d, nil
}

// Start brings up the HTTP server, worker, and the optional scheduler and
// config watcher. It returns once everything is running.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.server.Start(ctx); err != nil {
		return perrors.DaemonError("failed to start HTTP server", err)
	}

	go d.worker(ctx)

	if interval := d.cfg.Daemon.ScheduleInterval.Std(); interval > 0 {
		scheduler, err := NewScheduler(d.Enqueue)
		if err != nil {
			return perrors.DaemonError("failed to create scheduler", err)
		}
		if err := scheduler.SchedulePeriodicRebuild(interval); err != nil {
			return perrors.DaemonError("failed to schedule periodic rebuild", err)
		}
		d.scheduler = scheduler
	}

	if d.opts.ConfigPath != "" {
		watcher, err := NewConfigWatcher(d.opts.ConfigPath, d.ReloadConfig)
		if err != nil {
			return perrors.DaemonError("failed to create config watcher", err)
		}
		if err := watcher.Start(ctx); err != nil {
			return perrors.DaemonError("failed to start config watcher", err)
		}
		d.watcher = watcher
	}

	slog.Info("Daemon started", slog.String("listen", d.cfg.Daemon.Listen))
	return nil
}

// Stop shuts down gracefully: intake closes first, then the worker drains
// the queue, bounded by the configured shutdown timeout.
func (d *Daemon) Stop(ctx context.Context) error {
	slog.Info("Daemon stopping")

	timeout := d.cfg.Daemon.ShutdownTimeout.Std()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			slog.Warn("Failed to stop config watcher", logfields.Error(err))
		}
	}
	if d.scheduler != nil {
		if err := d.scheduler.Stop(); err != nil {
			slog.Warn("Failed to stop scheduler", logfields.Error(err))
		}
	}
	if err := d.server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP server shutdown error", logfields.Error(err))
	}

	d.queue.Close()
	select {
	case <-d.workerDone:
	case <-shutdownCtx.Done():
		slog.Warn("Shutdown timeout reached with worker still busy")
		return fmt.Errorf("shutdown timed out after %s", timeout)
	}

	slog.Info("Daemon stopped")
	return nil
}

// Enqueue adds a trigger to the run queue.
func (d *Daemon) Enqueue(t Trigger) error {
	if err := d.queue.Enqueue(t); err != nil {
		return err
	}
	if d.opts.Bus != nil {
		publishCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = d.opts.Bus.Publish(publishCtx, events.RunQueued{
			Trigger:  string(t.Kind),
			QueuedAt: t.ReceivedAt,
		})
		cancel()
	}
	return nil
}

// worker consumes triggers one at a time. Runs never overlap; the queue
// serializes them.
func (d *Daemon) worker(ctx context.Context) {
	defer close(d.workerDone)

	for trigger := range d.queue.Dequeue() {
		d.queue.Taken()
		if ctx.Err() != nil {
			slog.Info("Skipping queued trigger, daemon stopping", logfields.Trigger(string(trigger.Kind)))
			continue
		}

		executor := d.currentExecutor()
		if _, err := executor.Execute(ctx, trigger.Kind); err != nil {
			// Execute logs the failure with full context; the worker moves on.
			slog.Debug("Run failed", logfields.Error(err))
		}
		d.pruneHistory(ctx)
	}
}

func (d *Daemon) pruneHistory(ctx context.Context) {
	if d.opts.Store == nil {
		return
	}
	keep := d.cfg.Daemon.RunHistory
	if keep <= 0 {
		return
	}
	if err := d.opts.Store.Prune(context.WithoutCancel(ctx), keep); err != nil {
		slog.Warn("Failed to prune run history", logfields.Error(err))
	}
}

func (d *Daemon) currentExecutor() RunExecutor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.executor
}

// Config returns the active configuration.
func (d *Daemon) Config() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// ReloadConfig applies a new configuration. The HTTP listener keeps its
// original address; changing it requires a restart.
func (d *Daemon) ReloadConfig(ctx context.Context, newCfg *config.Config) error {
	if newCfg.Daemon == nil {
		return fmt.Errorf("reloaded configuration has no daemon section")
	}

	current := d.Config()
	if newCfg.Daemon.Listen != current.Daemon.Listen {
		slog.Warn("Listen address change requires a restart, keeping current listener",
			slog.String("current", current.Daemon.Listen),
			slog.String("new", newCfg.Daemon.Listen))
	}

	executor := d.currentExecutor()
	if d.opts.OnReload != nil {
		var err error
		executor, err = d.opts.OnReload(ctx, newCfg)
		if err != nil {
			return fmt.Errorf("failed to rebuild executor: %w", err)
		}
	}

	d.mu.Lock()
	d.cfg = newCfg
	d.executor = executor
	d.mu.Unlock()
	return nil
}
