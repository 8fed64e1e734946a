// Package config loads and validates the indexer configuration document.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/themeindex/internal/errors"
)

// SortField selects which entry field orders the output artifact.
type SortField string

const (
	SortByStars     SortField = "stars"
	SortByUpdatedAt SortField = "updated_at"
	SortByName      SortField = "name"
)

// SortOrder selects ascending or descending output order.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Config represents the indexer configuration
type Config struct {
	// Discovery inputs
	Topics       []string `yaml:"topics"`
	IncludeRepos []string `yaml:"include_repos,omitempty"`

	// Pagination and pacing
	PerPage          int `yaml:"per_page"`
	MaxPagesPerTopic int `yaml:"max_pages_per_topic"` // 0 means fetch until exhausted
	RequestDelayMS   int `yaml:"request_delay_ms"`
	RetryLimit       int `yaml:"retry_limit"`

	// Quality gate
	MinStars     int  `yaml:"min_stars"`
	SkipArchived bool `yaml:"skip_archived"`
	SkipDisabled bool `yaml:"skip_disabled"`

	// Staleness
	StaleAfterDays int `yaml:"stale_after_days"`

	// Paths
	OutputPath    string `yaml:"output_path"`
	ManifestPath  string `yaml:"manifest_path"`
	OverridesPath string `yaml:"overrides_path"`
	StateDBPath   string `yaml:"state_db_path"`

	// Ordering
	SortBy    SortField `yaml:"sort_by"`
	SortOrder SortOrder `yaml:"sort_order"`

	// Loop mode
	ScanIntervalSeconds int    `yaml:"scan_interval_seconds"`
	MetricsAddr         string `yaml:"metrics_addr,omitempty"`

	// Publication
	Publish PublishConfig `yaml:"publish"`
}

// PublishConfig controls the guarded commit/push step.
type PublishConfig struct {
	Enabled       bool   `yaml:"enabled"`
	RepoRoot      string `yaml:"repo_root,omitempty"` // defaults to the working directory
	Remote        string `yaml:"remote"`
	Branch        string `yaml:"branch"`
	CommitMessage string `yaml:"commit_message"`
	AuthorName    string `yaml:"author_name,omitempty"`
	AuthorEmail   string `yaml:"author_email,omitempty"`
}

// Default returns the built-in configuration used when the document omits fields.
func Default() *Config {
	return &Config{
		Topics:              []string{"neovim-colorscheme", "nvim-theme", "vim-colorscheme"},
		PerPage:             100,
		MaxPagesPerTopic:    5,
		RequestDelayMS:      250,
		RetryLimit:          3,
		MinStars:            0,
		SkipArchived:        true,
		SkipDisabled:        true,
		StaleAfterDays:      14,
		OutputPath:          "themes.json",
		ManifestPath:        "artifacts/latest.json",
		OverridesPath:       "overrides.json",
		StateDBPath:         ".state/indexer.db",
		SortBy:              SortByStars,
		SortOrder:           SortDesc,
		ScanIntervalSeconds: 1800,
		Publish: PublishConfig{
			Remote:        "origin",
			Branch:        "master",
			CommitMessage: "chore(registry): publish latest index artifacts",
		},
	}
}

// Load loads configuration from the specified file.
// A missing file yields the defaults; a malformed file is a fatal ConfigError.
func Load(configPath string) (*Config, error) {
	// Load .env file if it exists so ${VAR} expansion below can see it.
	_ = godotenv.Load()

	cfg := Default()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, errors.Wrap(err, errors.CategoryConfig, errors.SeverityFatal, "failed to read config file").
			WithContext("path", configPath)
	}

	// Expand environment variables in the YAML content
	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, errors.Wrap(err, errors.CategoryConfig, errors.SeverityFatal, "failed to unmarshal config").
			WithContext("path", configPath)
	}

	cfg.applyBounds()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyBounds clamps numeric fields to their documented ranges and resets
// unknown enum values to defaults, matching the lenient original behavior.
func (c *Config) applyBounds() {
	def := Default()

	c.PerPage = clampInt(c.PerPage, 1, 100, def.PerPage)
	c.MaxPagesPerTopic = clampInt(c.MaxPagesPerTopic, 0, 50, def.MaxPagesPerTopic)
	c.RequestDelayMS = clampInt(c.RequestDelayMS, 0, 1<<30, def.RequestDelayMS)
	c.RetryLimit = clampInt(c.RetryLimit, 1, 10, def.RetryLimit)
	c.StaleAfterDays = clampInt(c.StaleAfterDays, 1, 1<<30, def.StaleAfterDays)
	c.MinStars = clampInt(c.MinStars, 0, 1<<30, def.MinStars)
	c.ScanIntervalSeconds = clampInt(c.ScanIntervalSeconds, 60, 1<<30, def.ScanIntervalSeconds)

	switch c.SortBy {
	case SortByStars, SortByUpdatedAt, SortByName:
	default:
		c.SortBy = def.SortBy
	}
	switch c.SortOrder {
	case SortAsc, SortDesc:
	default:
		c.SortOrder = def.SortOrder
	}

	c.Topics = dedupeStrings(c.Topics)
	if len(c.Topics) == 0 {
		c.Topics = def.Topics
	}
	c.IncludeRepos = dedupeStrings(c.IncludeRepos)

	if c.Publish.Remote == "" {
		c.Publish.Remote = def.Publish.Remote
	}
	if c.Publish.Branch == "" {
		c.Publish.Branch = def.Publish.Branch
	}
	if c.Publish.CommitMessage == "" {
		c.Publish.CommitMessage = def.Publish.CommitMessage
	}
}

// Validate checks the fields that cannot be repaired by clamping.
func (c *Config) Validate() error {
	if c.OutputPath == "" {
		return errors.ConfigError("output_path must not be empty")
	}
	if c.ManifestPath == "" {
		return errors.ConfigError("manifest_path must not be empty")
	}
	if c.StateDBPath == "" {
		return errors.ConfigError("state_db_path must not be empty")
	}
	if c.OutputPath == c.ManifestPath {
		return errors.ConfigError("output_path and manifest_path must differ")
	}
	return nil
}

// RequestDelay returns the inter-request pacing delay as a duration.
func (c *Config) RequestDelay() time.Duration {
	return time.Duration(c.RequestDelayMS) * time.Millisecond
}

// ScanInterval returns the loop-mode interval as a duration.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalSeconds) * time.Second
}

// StaleAfter returns the staleness window as a duration.
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterDays) * 24 * time.Hour
}

// Token returns the optional discovery credential from the environment.
// Absence is not fatal; the client degrades to the unauthenticated quota.
func Token() string {
	return os.Getenv("GITHUB_TOKEN")
}

func clampInt(v, minimum, maximum, def int) int {
	if v == 0 && def != 0 && minimum > 0 {
		// zero means "unset" for fields whose valid range excludes zero
		return def
	}
	if v < minimum {
		return minimum
	}
	if v > maximum {
		return maximum
	}
	return v
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Describe returns a short human-readable summary for startup logging.
func (c *Config) Describe() string {
	return fmt.Sprintf("topics=%d include=%d per_page=%d pages=%d delay=%dms retries=%d stale_days=%d sort=%s/%s",
		len(c.Topics), len(c.IncludeRepos), c.PerPage, c.MaxPagesPerTopic,
		c.RequestDelayMS, c.RetryLimit, c.StaleAfterDays, c.SortBy, c.SortOrder)
}
