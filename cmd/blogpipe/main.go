package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"git.home.fjellstad.io/blog/blogpipe/internal/config"
	"git.home.fjellstad.io/blog/blogpipe/internal/daemon"
	"git.home.fjellstad.io/blog/blogpipe/internal/envimage"
	"git.home.fjellstad.io/blog/blogpipe/internal/events"
	"git.home.fjellstad.io/blog/blogpipe/internal/linkcheck"
	"git.home.fjellstad.io/blog/blogpipe/internal/metrics"
	"git.home.fjellstad.io/blog/blogpipe/internal/notify"
	"git.home.fjellstad.io/blog/blogpipe/internal/pipeline"
	"git.home.fjellstad.io/blog/blogpipe/internal/preflight"
	"git.home.fjellstad.io/blog/blogpipe/internal/runstore"
	"github.com/alecthomas/kong"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"blogpipe.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Run struct {
		ForceImage bool `help:"Rebuild the environment image even when unchanged"`
	} `cmd:"" help:"Execute one pipeline run and exit"`

	Daemon struct {
		DataDir string `short:"d" help:"Data directory for daemon state" default:"./data"`
	} `cmd:"" help:"Run as a webhook-triggered build service"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Write an example configuration file"`

	Env struct {
		Hash struct{} `cmd:"" help:"Print the environment descriptor hash"`

		Build struct {
			Force bool `help:"Rebuild even when the descriptor is unchanged"`
		} `cmd:"" help:"Build the environment image"`
	} `cmd:"" help:"Environment image operations"`
}

func main() {
	ctx := kong.Parse(&CLI)

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	var err error
	switch ctx.Command() {
	case "run":
		err = runOnce()
	case "daemon":
		err = runDaemon()
	case "init":
		slog.Info("Initializing configuration", "path", CLI.Config, "force", CLI.Init.Force)
		err = config.Init(CLI.Config, CLI.Init.Force)
	case "env hash":
		err = envHash()
	case "env build":
		err = envBuild()
	}
	if err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

// runOnce performs a single manual pipeline run.
func runOnce() error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	image, err := ensureImage(ctx, cfg, CLI.Run.ForceImage)
	if err != nil {
		return err
	}

	runner := buildRunner(cfg, image, nil)
	run, err := runner.Execute(ctx, pipeline.TriggerManual)
	if err != nil {
		return err
	}
	slog.Info("Run completed", "run_id", run.ID, "status", string(run.Status))
	return nil
}

// runDaemon starts the long-running webhook service.
func runDaemon() error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}
	if cfg.Daemon == nil {
		return fmt.Errorf("daemon section missing in %s", CLI.Config)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := os.MkdirAll(CLI.Daemon.DataDir, 0o750); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	storePath := cfg.Daemon.StorePath
	if storePath == "" {
		storePath = filepath.Join(CLI.Daemon.DataDir, "runs.db")
	}
	store, err := runstore.NewSQLiteStore(storePath)
	if err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}
	defer store.Close()

	bus := events.NewBus()
	defer bus.Close()

	var recorder metrics.Recorder = metrics.NoopRecorder{}
	var metricsHandler *metrics.PrometheusRecorder
	if cfg.Metrics.Enabled {
		metricsHandler = metrics.NewPrometheusRecorder(nil)
		recorder = metricsHandler
	}

	if cfg.Notify.Enabled {
		notifier, err := notify.NewNotifier(cfg.Notify)
		if err != nil {
			return fmt.Errorf("failed to set up notifier: %w", err)
		}
		defer notifier.Close()
		go notifier.Run(ctx, bus)
	}

	makeExecutor := func(ctx context.Context, cfg *config.Config) (daemon.RunExecutor, error) {
		image, err := ensureImage(ctx, cfg, false)
		if err != nil {
			return nil, err
		}
		return buildRunner(cfg, image, &runnerDeps{
			bus:           bus,
			store:         store,
			recorder:      recorder,
			workspaceBase: filepath.Join(CLI.Daemon.DataDir, "workspace"),
		}), nil
	}

	executor, err := makeExecutor(ctx, cfg)
	if err != nil {
		return err
	}

	opts := daemon.Options{
		Executor:   executor,
		Bus:        bus,
		Store:      store,
		Recorder:   recorder,
		ConfigPath: CLI.Config,
		OnReload:   makeExecutor,
	}
	if metricsHandler != nil {
		opts.MetricsHandler = metricsHandler.Handler()
	}

	d, err := daemon.New(cfg, opts)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}
	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	slog.Info("Daemon running, waiting for shutdown signal")
	<-ctx.Done()
	slog.Info("Shutdown signal received")

	return d.Stop(context.Background())
}

func envHash() error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}
	hash, err := envimage.Hash(cfg.Environment)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

func envBuild() error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}
	if cfg.Environment.BaseImage == "" {
		return fmt.Errorf("no environment descriptor in %s", CLI.Config)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	hash, err := envimage.NewBuilder(cfg.Environment).EnsureImage(ctx, CLI.Env.Build.Force)
	if err != nil {
		return err
	}
	slog.Info("Environment image ready", "image_hash", hash, "name", cfg.Environment.ImageName)
	return nil
}

// ensureImage rebuilds the environment image when the descriptor changed and
// returns the image name the runner should execute steps in ("" for host
// execution).
func ensureImage(ctx context.Context, cfg *config.Config, force bool) (string, error) {
	if cfg.Environment.BaseImage == "" {
		return "", nil
	}
	if _, err := envimage.NewBuilder(cfg.Environment).EnsureImage(ctx, force); err != nil {
		return "", err
	}
	return cfg.Environment.ImageName, nil
}

// runnerDeps carries the daemon-mode collaborators into the runner. One-shot
// runs pass nil and get a bare runner.
type runnerDeps struct {
	bus           *events.Bus
	store         runstore.Store
	recorder      metrics.Recorder
	workspaceBase string
}

func buildRunner(cfg *config.Config, image string, deps *runnerDeps) *pipeline.Runner {
	opts := []pipeline.RunnerOption{}
	if image != "" {
		opts = append(opts, pipeline.WithContainerImage(image))
	}
	if cfg.Preflight.Enabled {
		opts = append(opts, pipeline.WithPreflight(preflight.NewChecker(cfg.Preflight).Hook()))
	}
	if cfg.LinkCheck.Enabled {
		opts = append(opts, pipeline.WithLinkCheck(linkcheck.NewChecker(cfg.LinkCheck).Hook()))
	}
	if deps != nil {
		opts = append(opts,
			pipeline.WithBus(deps.bus),
			pipeline.WithStore(deps.store),
			pipeline.WithRecorder(deps.recorder),
			pipeline.WithPersistentWorkspace(deps.workspaceBase),
		)
	}
	return pipeline.NewRunner(cfg, opts...)
}
