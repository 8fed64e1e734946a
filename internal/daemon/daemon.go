// Package daemon drives repeated indexing runs on a fixed interval, with
// config hot-reload and optional Prometheus metrics.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/themeindex/internal/config"
	"git.home.luguber.info/inful/themeindex/internal/forge"
	"git.home.luguber.info/inful/themeindex/internal/logfields"
	"git.home.luguber.info/inful/themeindex/internal/pipeline"
)

// Runner executes one indexing iteration. *pipeline.Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, publishEnabled bool) (*pipeline.Stats, error)
}

// RunnerFactory builds a fresh runner for the current configuration. Each
// iteration gets its own runner so a config reload takes effect on the next
// tick without tearing the daemon down.
type RunnerFactory func(cfg *config.Config) Runner

func defaultRunnerFactory(cfg *config.Config) Runner {
	return pipeline.New(cfg, forge.NewClient(pipeline.ForgeOptions(cfg)))
}

// Daemon schedules indexing runs until its context is cancelled.
type Daemon struct {
	configPath string
	factory    RunnerFactory
	metrics    *Metrics

	mu  sync.RWMutex
	cfg *config.Config
}

// New creates a daemon over an already-validated configuration.
func New(configPath string, cfg *config.Config) *Daemon {
	return &Daemon{
		configPath: configPath,
		factory:    defaultRunnerFactory,
		metrics:    NewMetrics(),
		cfg:        cfg,
	}
}

// Config returns the currently active configuration.
func (d *Daemon) Config() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// Run blocks until ctx is cancelled. One iteration runs immediately at
// startup, then on every scan interval tick. Singleton mode guarantees two
// iterations never overlap even when a run outlasts the interval.
func (d *Daemon) Run(ctx context.Context) error {
	cfg := d.Config()

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(cfg.ScanInterval()),
		gocron.NewTask(d.iterate, ctx),
		gocron.WithName("index-run"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule indexing job: %w", err)
	}

	d.metrics.Serve(ctx, cfg.MetricsAddr)

	watcher, err := newConfigWatcher(d.configPath, d.reload)
	if err != nil {
		slog.Warn("Config watcher unavailable, hot reload disabled", logfields.Error(err))
	} else {
		watcher.start(ctx)
		defer watcher.stop()
	}

	slog.Info("Daemon started",
		slog.Duration("interval", cfg.ScanInterval()),
		slog.String("config", d.configPath))
	scheduler.Start()

	<-ctx.Done()
	slog.Info("Daemon shutting down")
	return scheduler.Shutdown()
}

// iterate performs one indexing run and records its outcome. Failures are
// logged, never fatal to the loop.
func (d *Daemon) iterate(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	cfg := d.Config()

	stats, err := d.factory(cfg).Run(ctx, cfg.Publish.Enabled)
	d.metrics.RecordRun(stats, err)
	if err != nil {
		slog.Error("Indexing run failed", logfields.Error(err))
		return
	}
	slog.Info("Indexing run finished",
		slog.Int("written", stats.Written),
		slog.Bool("changed", stats.Changed))
}

// reload re-reads the config file. An unloadable or invalid file keeps the
// previous configuration active.
func (d *Daemon) reload() {
	cfg, err := config.Load(d.configPath)
	if err != nil {
		slog.Error("Config reload failed, keeping previous configuration", logfields.Error(err))
		return
	}

	d.mu.Lock()
	old := d.cfg
	d.cfg = cfg
	d.mu.Unlock()

	if old.ScanIntervalSeconds != cfg.ScanIntervalSeconds {
		// interval changes apply after restart; the job keeps its cadence
		slog.Warn("Scan interval changed, restart to apply",
			slog.Int("old_seconds", old.ScanIntervalSeconds),
			slog.Int("new_seconds", cfg.ScanIntervalSeconds))
	}
	slog.Info("Configuration reloaded", slog.String("config", d.configPath))
}
