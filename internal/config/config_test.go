package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "indexer.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Topics) != 3 {
		t.Fatalf("expected 3 default topics got %d", len(cfg.Topics))
	}
	if cfg.PerPage != 100 || cfg.RetryLimit != 3 || cfg.StaleAfterDays != 14 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.SortBy != SortByStars || cfg.SortOrder != SortDesc {
		t.Fatalf("unexpected default sort: %s/%s", cfg.SortBy, cfg.SortOrder)
	}
}

func TestLoadClampsAndFallsBack(t *testing.T) {
	path := writeConfig(t, `
topics: ["neovim-colorscheme", "neovim-colorscheme", ""]
per_page: 500
max_pages_per_topic: 99
retry_limit: 0
stale_after_days: 0
scan_interval_seconds: 5
sort_by: "downloads"
sort_order: "sideways"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Topics) != 1 {
		t.Fatalf("expected topic dedupe to 1 got %d", len(cfg.Topics))
	}
	if cfg.PerPage != 100 {
		t.Fatalf("expected per_page clamp to 100 got %d", cfg.PerPage)
	}
	if cfg.MaxPagesPerTopic != 50 {
		t.Fatalf("expected max pages clamp to 50 got %d", cfg.MaxPagesPerTopic)
	}
	if cfg.RetryLimit != 3 {
		t.Fatalf("expected retry_limit fallback 3 got %d", cfg.RetryLimit)
	}
	if cfg.StaleAfterDays != 14 {
		t.Fatalf("expected stale_after_days fallback 14 got %d", cfg.StaleAfterDays)
	}
	if cfg.ScanIntervalSeconds != 60 {
		t.Fatalf("expected interval clamp to 60 got %d", cfg.ScanIntervalSeconds)
	}
	if cfg.SortBy != SortByStars || cfg.SortOrder != SortDesc {
		t.Fatalf("expected sort fallback got %s/%s", cfg.SortBy, cfg.SortOrder)
	}
}

func TestLoadZeroPagesMeansUnbounded(t *testing.T) {
	path := writeConfig(t, "max_pages_per_topic: 0\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MaxPagesPerTopic != 0 {
		t.Fatalf("explicit zero pages must survive, got %d", cfg.MaxPagesPerTopic)
	}
}

func TestLoadEnvExpansion(t *testing.T) {
	t.Setenv("THEMEINDEX_OUTPUT", "custom/themes.json")
	path := writeConfig(t, "output_path: ${THEMEINDEX_OUTPUT}\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.OutputPath != "custom/themes.json" {
		t.Fatalf("expected env expansion, got %q", cfg.OutputPath)
	}
}

func TestLoadMalformedIsFatal(t *testing.T) {
	path := writeConfig(t, "topics: [unterminated\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for malformed yaml")
	}
}

func TestValidateRejectsCollidingPaths(t *testing.T) {
	path := writeConfig(t, "output_path: same.json\nmanifest_path: same.json\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for colliding output and manifest paths")
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	cfg.RequestDelayMS = 250
	cfg.StaleAfterDays = 7
	if cfg.RequestDelay() != 250*time.Millisecond {
		t.Fatalf("unexpected request delay %v", cfg.RequestDelay())
	}
	if cfg.StaleAfter() != 7*24*time.Hour {
		t.Fatalf("unexpected stale window %v", cfg.StaleAfter())
	}
}

func TestPublishDefaults(t *testing.T) {
	path := writeConfig(t, "publish:\n  enabled: true\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Publish.Enabled {
		t.Fatalf("expected publish enabled")
	}
	if cfg.Publish.Remote != "origin" || cfg.Publish.Branch != "master" {
		t.Fatalf("expected remote/branch defaults got %s/%s", cfg.Publish.Remote, cfg.Publish.Branch)
	}
	if cfg.Publish.CommitMessage == "" {
		t.Fatalf("expected default commit message")
	}
}
