package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"git.home.fjellstad.io/blog/blogpipe/internal/config"
	perrors "git.home.fjellstad.io/blog/blogpipe/internal/errors"
	"git.home.fjellstad.io/blog/blogpipe/internal/events"
	"git.home.fjellstad.io/blog/blogpipe/internal/git"
	"git.home.fjellstad.io/blog/blogpipe/internal/logfields"
	"git.home.fjellstad.io/blog/blogpipe/internal/metrics"
	"git.home.fjellstad.io/blog/blogpipe/internal/publish"
	"git.home.fjellstad.io/blog/blogpipe/internal/runstore"
	"git.home.fjellstad.io/blog/blogpipe/internal/shell"
	"git.home.fjellstad.io/blog/blogpipe/internal/workspace"
	"github.com/google/uuid"
)

// StageHook is an optional validation pass over a directory tree (the
// checkout for preflight, the artifact for link checking). A returned error
// fails the run.
type StageHook func(ctx context.Context, dir string) error

// Runner executes the fixed, linear pipeline: checkout, shell stages
// (install, build), then atomic publish. A stage failure aborts the run
// immediately; the publish stage only runs after a fully successful build.
type Runner struct {
	cfg            *config.Config
	recorder       metrics.Recorder
	bus            *events.Bus
	store          runstore.Store
	workspaceBase  string
	containerImage string
	preflight      StageHook
	linkcheck      StageHook
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRecorder injects a metrics recorder.
func WithRecorder(rec metrics.Recorder) RunnerOption {
	return func(r *Runner) { r.recorder = rec }
}

// WithBus injects an event bus for run lifecycle events.
func WithBus(bus *events.Bus) RunnerOption {
	return func(r *Runner) { r.bus = bus }
}

// WithStore injects a run store for persistence.
func WithStore(store runstore.Store) RunnerOption {
	return func(r *Runner) { r.store = store }
}

// WithPersistentWorkspace reuses a fixed checkout directory across runs
// (pull instead of reclone).
func WithPersistentWorkspace(baseDir string) RunnerOption {
	return func(r *Runner) { r.workspaceBase = baseDir }
}

// WithContainerImage runs shell stages inside the environment image.
func WithContainerImage(image string) RunnerOption {
	return func(r *Runner) { r.containerImage = image }
}

// WithPreflight installs a checkout validation hook, run before install.
func WithPreflight(hook StageHook) RunnerOption {
	return func(r *Runner) { r.preflight = hook }
}

// WithLinkCheck installs an artifact validation hook, run before publish.
func WithLinkCheck(hook StageHook) RunnerOption {
	return func(r *Runner) { r.linkcheck = hook }
}

// NewRunner creates a runner for the given configuration.
func NewRunner(cfg *config.Config, opts ...RunnerOption) *Runner {
	r := &Runner{
		cfg:      cfg,
		recorder: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute performs one pipeline run. The returned Run always carries the
// per-stage outcomes; err is non-nil iff the run did not succeed.
func (r *Runner) Execute(ctx context.Context, trigger TriggerKind) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString()[:8],
		Trigger:   trigger,
		Status:    StatusRunning,
		StartedAt: time.Now(),
	}

	slog.Info("Pipeline run started", logfields.RunID(run.ID), logfields.Trigger(string(trigger)))
	r.persistCreate(ctx, run)
	r.emit(ctx, events.RunStarted{RunID: run.ID, Trigger: string(trigger), StartedAt: run.StartedAt})

	err := r.execute(ctx, run)

	run.CompletedAt = time.Now()
	if err != nil {
		run.Err = err
		run.Status = StatusFailed
		if ctx.Err() != nil {
			run.Status = StatusCanceled
		}
	} else {
		run.Status = StatusSuccess
	}

	r.finalize(run)
	return run, err
}

// execute walks the stages in their fixed order, stopping at the first failure.
func (r *Runner) execute(ctx context.Context, run *Run) error {
	var ws *workspace.Manager
	if r.workspaceBase != "" {
		ws = workspace.NewPersistentManager(r.workspaceBase, "checkout")
	} else {
		ws = workspace.NewManager("")
	}
	if err := ws.Create(); err != nil {
		return r.failStage(ctx, run, StageCheckout, 0, perrors.WorkspaceError("create", err))
	}
	defer func() {
		if err := ws.Cleanup(); err != nil {
			slog.Warn("Failed to cleanup workspace", logfields.Error(err))
		}
	}()

	// Stage 1: checkout — acquire the watched branch head.
	checkoutStart := time.Now()
	client := git.NewClient(ws.Path())
	checkoutPath, head, err := client.Checkout(r.cfg.Repository)
	checkoutDur := time.Since(checkoutStart)
	r.recordStep(ctx, run.ID, StageCheckout, "git checkout", err, "", checkoutDur)
	if err != nil {
		return r.failStage(ctx, run, StageCheckout, checkoutDur, perrors.GitCheckoutError(r.cfg.Repository.Name, err))
	}
	run.CommitSHA = head
	r.passStage(ctx, run, StageCheckout, checkoutDur)

	// Optional preflight validation of the checked-out content.
	if r.preflight != nil {
		start := time.Now()
		if err := r.preflight(ctx, checkoutPath); err != nil {
			d := time.Since(start)
			r.recordStep(ctx, run.ID, StagePreflight, "validate posts", err, "", d)
			return r.failStage(ctx, run, StagePreflight, d, perrors.BuildFailure("preflight", err))
		}
		r.passStage(ctx, run, StagePreflight, time.Since(start))
	}

	// Shell stages (install, build, ...), strictly in declared order.
	executor := shell.NewExecutor(checkoutPath, r.cfg.Pipeline.StepTimeout.Std())
	if r.containerImage != "" {
		executor = executor.WithContainer(shell.ContainerSpec{
			Tool:  r.cfg.Environment.ContainerTool,
			Image: r.containerImage,
		})
	}
	for _, stage := range r.cfg.Pipeline.Stages {
		stageName := StageName(stage.Name)
		stageStart := time.Now()
		for _, step := range stage.Steps {
			res, err := executor.Run(ctx, step.Run)
			r.recordStepResult(ctx, run.ID, stageName, step.Name, res, err)
			if err != nil {
				slog.Error("Step failed",
					logfields.RunID(run.ID),
					logfields.Stage(stage.Name),
					logfields.Step(step.Name),
					slog.Int("exit_code", res.ExitCode),
					logfields.Error(err))
				return r.failStage(ctx, run, stageName, time.Since(stageStart), r.stageFailure(stage.Name, step.Name, err))
			}
			slog.Debug("Step completed",
				logfields.RunID(run.ID),
				logfields.Stage(stage.Name),
				logfields.Step(step.Name),
				logfields.DurationMS(float64(res.Duration.Milliseconds())))
		}
		r.passStage(ctx, run, stageName, time.Since(stageStart))
	}

	// The build must have produced the output tree.
	artifactDir := filepath.Join(checkoutPath, r.cfg.Pipeline.OutputDir)
	if info, err := os.Stat(artifactDir); err != nil || !info.IsDir() {
		berr := perrors.BuildFailure("output verification",
			fmt.Errorf("generator output missing at %s", artifactDir))
		return r.failStage(ctx, run, StageBuild, 0, berr)
	}

	// Optional link verification of the generated artifact.
	if r.linkcheck != nil {
		start := time.Now()
		if err := r.linkcheck(ctx, artifactDir); err != nil {
			d := time.Since(start)
			r.recordStep(ctx, run.ID, StageLinkCheck, "verify links", err, "", d)
			return r.failStage(ctx, run, StageLinkCheck, d, perrors.BuildFailure("linkcheck", err))
		}
		r.passStage(ctx, run, StageLinkCheck, time.Since(start))
	}

	// Stage: publish — atomic swap into the destination.
	publishStart := time.Now()
	publisher := publish.NewPublisher(r.cfg.Publish.Destination, publish.WithKeepPrevious(r.cfg.Publish.KeepPrevious))
	err = publisher.Publish(artifactDir)
	publishDur := time.Since(publishStart)
	r.recordStep(ctx, run.ID, StagePublish, "swap artifact", err, "", publishDur)
	if err != nil {
		return r.failStage(ctx, run, StagePublish, publishDur, perrors.ArtifactPublishFailure(r.cfg.Publish.Destination, err))
	}
	r.recorder.IncPublishSwap()
	r.passStage(ctx, run, StagePublish, publishDur)

	return nil
}

// stageFailure maps a failed shell stage onto the run failure taxonomy:
// the install stage tags DependencyInstallFailure, every other generation
// stage tags BuildFailure.
func (r *Runner) stageFailure(stage, step string, err error) error {
	if stage == config.DefaultInstallStage {
		return perrors.DependencyInstallFailure(step, err)
	}
	return perrors.BuildFailure(step, err)
}

func (r *Runner) passStage(ctx context.Context, run *Run, name StageName, d time.Duration) {
	run.Stages = append(run.Stages, StageOutcome{Stage: name, Status: StatusSuccess, Duration: d})
	r.recorder.ObserveStageDuration(string(name), d)
	r.recorder.IncStageResult(string(name), metrics.ResultSuccess)
	r.emit(ctx, events.StageCompleted{RunID: run.ID, Stage: string(name), Status: string(StatusSuccess), Duration: d})
}

func (r *Runner) failStage(ctx context.Context, run *Run, name StageName, d time.Duration, err error) error {
	status := StatusFailed
	label := metrics.ResultFailed
	if ctx.Err() != nil {
		status = StatusCanceled
		label = metrics.ResultCanceled
	}
	run.Stages = append(run.Stages, StageOutcome{Stage: name, Status: status, Duration: d, Err: err})
	r.recorder.ObserveStageDuration(string(name), d)
	r.recorder.IncStageResult(string(name), label)
	r.emit(ctx, events.StageCompleted{RunID: run.ID, Stage: string(name), Status: string(status), Duration: d})
	return err
}

func (r *Runner) finalize(run *Run) {
	duration := run.Duration()
	r.recorder.ObserveRunDuration(duration)
	r.recorder.IncRunOutcome(string(run.Status))

	errMsg := ""
	if run.Err != nil {
		errMsg = run.Err.Error()
	}
	r.persistComplete(run, errMsg, duration)

	evt := events.RunCompleted{
		RunID:       run.ID,
		Status:      string(run.Status),
		FailedStage: string(run.FailedStage()),
		Error:       errMsg,
		Duration:    duration,
		CompletedAt: run.CompletedAt,
	}
	// Completion must go out even when the run context is gone.
	r.emit(context.Background(), evt)

	if run.Status == StatusSuccess {
		slog.Info("Pipeline run succeeded",
			logfields.RunID(run.ID),
			logfields.DurationMS(float64(duration.Milliseconds())))
	} else {
		slog.Error("Pipeline run failed",
			logfields.RunID(run.ID),
			logfields.Status(string(run.Status)),
			logfields.Stage(string(run.FailedStage())),
			logfields.Error(run.Err))
	}
}

func (r *Runner) emit(ctx context.Context, evt any) {
	if r.bus == nil {
		return
	}
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.bus.Publish(publishCtx, evt); err != nil {
		slog.Debug("Event publish failed", logfields.Error(err))
	}
}

func (r *Runner) persistCreate(ctx context.Context, run *Run) {
	if r.store == nil {
		return
	}
	rec := runstore.RunRecord{
		ID:        run.ID,
		Trigger:   string(run.Trigger),
		Status:    string(StatusRunning),
		StartedAt: run.StartedAt,
	}
	if err := r.store.CreateRun(context.WithoutCancel(ctx), rec); err != nil {
		slog.Warn("Failed to persist run", logfields.RunID(run.ID), logfields.Error(err))
	}
}

func (r *Runner) persistComplete(run *Run, errMsg string, duration time.Duration) {
	if r.store == nil {
		return
	}
	err := r.store.CompleteRun(context.Background(), run.ID, string(run.Status), errMsg, run.CompletedAt, duration)
	if err != nil {
		slog.Warn("Failed to persist run completion", logfields.RunID(run.ID), logfields.Error(err))
	}
}

func (r *Runner) recordStep(ctx context.Context, runID string, stage StageName, step string, err error, output string, d time.Duration) {
	if r.store == nil {
		return
	}
	status := string(StatusSuccess)
	if err != nil {
		status = string(StatusFailed)
		if output == "" {
			output = err.Error()
		}
	}
	rec := runstore.StepRecord{
		RunID:      runID,
		Stage:      string(stage),
		Step:       step,
		Status:     status,
		Output:     output,
		DurationMS: d.Milliseconds(),
	}
	if serr := r.store.RecordStep(context.WithoutCancel(ctx), rec); serr != nil {
		slog.Warn("Failed to persist step", logfields.RunID(runID), logfields.Error(serr))
	}
}

func (r *Runner) recordStepResult(ctx context.Context, runID string, stage StageName, step string, res shell.Result, err error) {
	if r.store == nil {
		return
	}
	status := string(StatusSuccess)
	if err != nil {
		status = string(StatusFailed)
	}
	rec := runstore.StepRecord{
		RunID:      runID,
		Stage:      string(stage),
		Step:       step,
		Status:     status,
		ExitCode:   res.ExitCode,
		Output:     res.Output,
		DurationMS: res.Duration.Milliseconds(),
	}
	if serr := r.store.RecordStep(context.WithoutCancel(ctx), rec); serr != nil {
		slog.Warn("Failed to persist step", logfields.RunID(runID), logfields.Error(serr))
	}
}
