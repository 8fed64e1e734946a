// Package pipeline orchestrates one full indexing run: discovery, per-repo
// fetch with fingerprint shortcuts, normalization, override merging, and
// guarded publication. A run is strictly sequential; the loop driver ensures
// two runs never overlap.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/themeindex/internal/config"
	"git.home.luguber.info/inful/themeindex/internal/errors"
	"git.home.luguber.info/inful/themeindex/internal/forge"
	"git.home.luguber.info/inful/themeindex/internal/logfields"
	"git.home.luguber.info/inful/themeindex/internal/normalize"
	"git.home.luguber.info/inful/themeindex/internal/overrides"
	"git.home.luguber.info/inful/themeindex/internal/publish"
	"git.home.luguber.info/inful/themeindex/internal/registry"
	"git.home.luguber.info/inful/themeindex/internal/retry"
	"git.home.luguber.info/inful/themeindex/internal/state"
)

// State is the pipeline's observable lifecycle phase.
type State string

const (
	StateIdle        State = "idle"
	StateDiscovering State = "discovering"
	StateNormalizing State = "normalizing"
	StateMerging     State = "merging"
	StatePublishing  State = "publishing"
	StateFailed      State = "failed"
)

// Forge is the repository source the pipeline crawls. *forge.Client
// implements it; tests substitute a fake.
type Forge interface {
	Discover(ctx context.Context, topics []string, perPage, maxPages int) ([]forge.SearchResult, []error)
	FetchRepository(ctx context.Context, repo string) (*forge.RawRepository, error)
	FetchTree(ctx context.Context, repo, ref string) ([]forge.TreeEntry, error)
}

// Stats summarizes one run for logging and metrics.
type Stats struct {
	Discovered int
	Fetched    int
	Cached     int
	Skipped    int
	Errors     int
	Written    int
	// Changed is true when the artifact checksum differs from the previous
	// run's, i.e. the run produced something new.
	Changed bool
	// Pushed is true when the git publication step ran and succeeded.
	Pushed   bool
	Duration time.Duration
}

// Pipeline runs indexing iterations against a single configuration.
type Pipeline struct {
	cfg   *config.Config
	forge Forge

	mu    sync.Mutex
	state State
}

// New builds a pipeline over the given forge client.
func New(cfg *config.Config, f Forge) *Pipeline {
	return &Pipeline{cfg: cfg, forge: f, state: StateIdle}
}

// ForgeOptions derives the forge client options from the configuration.
// RetryLimit counts total attempts, the policy counts retries after the
// first attempt.
func ForgeOptions(cfg *config.Config) forge.Options {
	return forge.Options{
		Token:  config.Token(),
		Delay:  cfg.RequestDelay(),
		Policy: retry.NewPolicy(retry.BackoffExponential, time.Second, 60*time.Second, cfg.RetryLimit-1),
	}
}

// State returns the current lifecycle phase.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Run executes one complete indexing iteration. When publishEnabled is set
// and the artifact changed, the run ends with a git commit and push.
//
// Fingerprints staged during the run reach the database only after the
// output artifacts are validated and written, so an aborted run leaves the
// store exactly as the previous run committed it.
func (p *Pipeline) Run(ctx context.Context, publishEnabled bool) (*Stats, error) {
	runID := uuid.NewString()[:8]
	log := slog.With(logfields.RunID(runID))
	started := time.Now()
	stats := &Stats{}

	fail := func(err error) (*Stats, error) {
		p.setState(StateFailed)
		stats.Duration = time.Since(started)
		return stats, err
	}

	store, err := state.Open(p.cfg.StateDBPath)
	if err != nil {
		return fail(errors.Wrap(err, errors.CategoryState, errors.SeverityFatal, "failed to open fingerprint store"))
	}
	defer store.Close()

	// Overrides are an input document; load them before spending any
	// requests so a malformed file fails the run immediately.
	doc, err := overrides.Load(p.cfg.OverridesPath)
	if err != nil {
		return fail(err)
	}
	excluded := make(map[string]struct{}, len(doc.Excluded))
	for _, repo := range doc.Excluded {
		excluded[repo] = struct{}{}
	}

	p.setState(StateDiscovering)
	log.Info("Starting discovery",
		logfields.Stage("discover"),
		slog.Int("topics", len(p.cfg.Topics)))

	results, discoverErrs := p.forge.Discover(ctx, p.cfg.Topics, p.cfg.PerPage, p.cfg.MaxPagesPerTopic)
	stats.Errors += len(discoverErrs)
	for _, derr := range discoverErrs {
		log.Warn("Topic discovery error", logfields.Error(derr))
	}
	if err := ctx.Err(); err != nil {
		store.Discard()
		return fail(errors.Wrap(err, errors.CategoryCrawl, errors.SeverityFatal, "discovery cancelled"))
	}
	results = appendIncludes(results, p.cfg.IncludeRepos)
	stats.Discovered = len(results)
	log.Info("Discovery complete", logfields.Stage("discover"), logfields.Count(len(results)))

	p.setState(StateNormalizing)
	now := time.Now()
	entries := make([]*registry.ThemeEntry, 0, len(results))
	for _, res := range results {
		if err := ctx.Err(); err != nil {
			store.Discard()
			return fail(errors.Wrap(err, errors.CategoryCrawl, errors.SeverityFatal, "run cancelled mid-fetch"))
		}
		if _, drop := excluded[res.Repo]; drop {
			stats.Skipped++
			continue
		}

		entry, outcome := p.processRepo(ctx, log, store, res, now)
		switch outcome {
		case outcomeCached:
			stats.Cached++
		case outcomeFetched:
			stats.Fetched++
		case outcomeSkipped:
			stats.Skipped++
		case outcomeError:
			stats.Errors++
		}
		if entry != nil {
			entries = append(entries, entry)
		}
	}

	p.setState(StateMerging)
	merged, mergeErrs := overrides.Apply(entries, doc)
	stats.Errors += len(mergeErrs)
	registry.Sort(merged, p.cfg.SortBy, p.cfg.SortOrder)
	log.Info("Merge complete", logfields.Stage("merge"), logfields.Count(len(merged)))

	p.setState(StatePublishing)
	result, err := publish.New(p.cfg.OutputPath, p.cfg.ManifestPath).Write(merged)
	if err != nil {
		store.Discard()
		return fail(err)
	}
	stats.Written = len(merged)
	stats.Changed = result.Changed

	// The output set exists on disk; fingerprints may now be committed.
	if err := store.Commit(ctx); err != nil {
		return fail(errors.Wrap(err, errors.CategoryState, errors.SeverityFatal, "failed to commit fingerprints"))
	}

	if publishEnabled {
		if result.Changed {
			if err := publish.Push(ctx, p.cfg.Publish, config.Token(), p.cfg.OutputPath, p.cfg.ManifestPath); err != nil {
				return fail(err)
			}
			stats.Pushed = true
		} else {
			log.Info("Artifact unchanged, skipping publication", logfields.Stage("publish"))
		}
	}

	p.setState(StateIdle)
	stats.Duration = time.Since(started)
	log.Info("Run complete",
		slog.Int("discovered", stats.Discovered),
		slog.Int("fetched", stats.Fetched),
		slog.Int("cached", stats.Cached),
		slog.Int("skipped", stats.Skipped),
		slog.Int("errors", stats.Errors),
		slog.Int("written", stats.Written),
		slog.Bool("changed", stats.Changed),
		logfields.DurationMS(float64(stats.Duration.Milliseconds())))
	return stats, nil
}

type outcome int

const (
	outcomeCached outcome = iota
	outcomeFetched
	outcomeSkipped
	outcomeError
)

// processRepo resolves one discovered repository into an entry, reusing the
// cached normalization when the fingerprint shortcut applies. Fetch failures
// are remembered in the store so the repo is retried next run.
func (p *Pipeline) processRepo(ctx context.Context, log *slog.Logger, store *state.Store, res forge.SearchResult, now time.Time) (*registry.ThemeEntry, outcome) {
	fp, err := store.Lookup(ctx, res.Repo)
	if err != nil {
		log.Warn("Fingerprint lookup failed", logfields.Repository(res.Repo), logfields.Error(err))
		fp = nil
	}
	if !state.NeedsRefresh(fp, res.UpdatedAt, now, p.cfg.StaleAfter()) {
		log.Debug("Reusing cached entry", logfields.Repository(res.Repo))
		return fp.Entry.Clone(), outcomeCached
	}

	raw, err := p.forge.FetchRepository(ctx, res.Repo)
	if err != nil {
		log.Warn("Repository fetch failed", logfields.Repository(res.Repo), logfields.Error(err))
		store.StageError(res.Repo, res.UpdatedAt, now, err)
		return nil, outcomeError
	}

	if reason := normalize.Gate(raw, p.cfg); reason != normalize.SkipNone {
		log.Debug("Repository gated out",
			logfields.Repository(res.Repo),
			slog.String("reason", string(reason)))
		return nil, outcomeSkipped
	}

	tree, err := p.forge.FetchTree(ctx, raw.FullName, raw.DefaultBranch)
	if err != nil {
		if err == forge.ErrNotFound {
			// empty repos have no tree; they simply list no variants
			tree = nil
		} else {
			log.Warn("Tree fetch failed", logfields.Repository(res.Repo), logfields.Error(err))
			store.StageError(res.Repo, raw.Fingerprint(), now, err)
			return nil, outcomeError
		}
	}

	entry, warnings := normalize.Entry(raw, tree)
	for _, w := range warnings {
		log.Warn("Normalization warning", logfields.Repository(w.Repo), slog.String("detail", w.Message))
	}
	store.Stage(res.Repo, raw.Fingerprint(), now, entry)
	return entry, outcomeFetched
}

// appendIncludes adds the always-indexed repos that topic search missed.
// Their empty fingerprint makes the staleness window the only shortcut.
func appendIncludes(results []forge.SearchResult, includes []string) []forge.SearchResult {
	seen := make(map[string]struct{}, len(results))
	for _, r := range results {
		seen[r.Repo] = struct{}{}
	}
	for _, repo := range includes {
		repo = forge.NormalizeRepo(repo)
		if repo == "" {
			continue
		}
		if _, dup := seen[repo]; dup {
			continue
		}
		seen[repo] = struct{}{}
		results = append(results, forge.SearchResult{Repo: repo})
	}
	return results
}
