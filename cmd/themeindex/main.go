package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/themeindex/internal/config"
	"git.home.luguber.info/inful/themeindex/internal/daemon"
	"git.home.luguber.info/inful/themeindex/internal/forge"
	"git.home.luguber.info/inful/themeindex/internal/pipeline"
	"git.home.luguber.info/inful/themeindex/internal/publish"
	"git.home.luguber.info/inful/themeindex/internal/state"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"config.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Run struct {
		Publish bool `help:"Commit and push the artifacts when they changed"`
	} `cmd:"" help:"Execute one indexing run and exit"`

	Loop struct {
	} `cmd:"" help:"Run indexing continuously on the configured interval"`

	Validate struct {
		Artifact string `arg:"" optional:"" help:"Artifact to check (defaults to the configured output path)"`
	} `cmd:"" help:"Validate a registry artifact against the schema"`

	Prune struct {
		OlderThanDays int `default:"90" help:"Delete fingerprints last refreshed more than this many days ago"`
	} `cmd:"" help:"Remove long-untouched fingerprint rows from the state store"`
}

func main() {
	kctx := kong.Parse(&CLI)

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(CLI.Config)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch kctx.Command() {
	case "run":
		if err := runOnce(ctx, cfg); err != nil {
			slog.Error("Run failed", "error", err)
			os.Exit(1)
		}

	case "loop":
		if err := daemon.New(CLI.Config, cfg).Run(ctx); err != nil {
			slog.Error("Daemon failed", "error", err)
			os.Exit(1)
		}

	case "validate", "validate <artifact>":
		path := CLI.Validate.Artifact
		if path == "" {
			path = cfg.OutputPath
		}
		if err := validateArtifact(path); err != nil {
			slog.Error("Validation failed", "path", path, "error", err)
			os.Exit(1)
		}
		fmt.Printf("%s: valid\n", path)

	case "prune":
		if err := pruneState(ctx, cfg, CLI.Prune.OlderThanDays); err != nil {
			slog.Error("Prune failed", "error", err)
			os.Exit(1)
		}

	default:
		slog.Error("Unknown command", "command", kctx.Command())
		os.Exit(1)
	}
}

func pruneState(ctx context.Context, cfg *config.Config, olderThanDays int) error {
	store, err := state.Open(cfg.StateDBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	cutoff := time.Now().Add(-time.Duration(olderThanDays) * 24 * time.Hour)
	n, err := store.PruneStale(ctx, cutoff)
	if err != nil {
		return err
	}
	slog.Info("Pruned fingerprint rows", "removed", n, "older_than_days", olderThanDays)
	return nil
}

func runOnce(ctx context.Context, cfg *config.Config) error {
	slog.Debug("Effective configuration", "config", cfg.Describe())

	client := forge.NewClient(pipeline.ForgeOptions(cfg))
	if !client.Authenticated() {
		slog.Warn("No GITHUB_TOKEN set, using anonymous rate limits")
	}

	publishEnabled := cfg.Publish.Enabled || CLI.Run.Publish
	stats, err := pipeline.New(cfg, client).Run(ctx, publishEnabled)
	if err != nil {
		return err
	}
	slog.Info("Run summary",
		"discovered", stats.Discovered,
		"fetched", stats.Fetched,
		"cached", stats.Cached,
		"skipped", stats.Skipped,
		"errors", stats.Errors,
		"written", stats.Written,
		"changed", stats.Changed,
		"pushed", stats.Pushed)
	return nil
}

func validateArtifact(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read artifact: %w", err)
	}
	return publish.ValidateArtifact(data)
}
