// Package state persists per-repository change fingerprints and the cached
// normalized entries between runs. Writes are staged in memory during a run
// and committed in a single transaction only after the run's output set has
// been assembled, so a crash mid-run never leaves a fingerprint referencing
// a fetch that produced no output.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/themeindex/internal/registry"
)

// Fingerprint is the stored record for one tracked repository.
type Fingerprint struct {
	Repo            string
	LastFingerprint string
	LastFetchedAt   time.Time
	// Entry is the normalized entry from the last successful fetch; nil when
	// the last fetch failed.
	Entry *registry.ThemeEntry
	// FetchError remembers a failed fetch so the repo is retried next run
	// regardless of its fingerprint.
	FetchError string
}

// Store is the sqlite-backed fingerprint store. It assumes single-writer
// access, enforced with an advisory file lock held for the store's lifetime.
type Store struct {
	db      *sql.DB
	lock    *flock.Flock
	pending map[string]*Fingerprint
}

// Open opens (creating if necessary) the store at dbPath and acquires the
// advisory lock. Use ":memory:" for tests; the lock is skipped then.
func Open(dbPath string) (*Store, error) {
	var lock *flock.Flock
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
		lock = flock.New(dbPath + ".lock")
		locked, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquire state lock: %w", err)
		}
		if !locked {
			return nil, fmt.Errorf("state store %s is locked by another process", dbPath)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		if lock != nil {
			_ = lock.Unlock()
		}
		return nil, fmt.Errorf("open state database: %w", err)
	}

	s := &Store{db: db, lock: lock, pending: make(map[string]*Fingerprint)}
	if err := s.initialize(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS repo_cache (
		repo TEXT PRIMARY KEY,
		fingerprint TEXT NOT NULL DEFAULT '',
		fetched_at INTEGER NOT NULL,
		entry_json TEXT,
		fetch_error TEXT
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Lookup returns the committed fingerprint for repo, or nil when the repo is
// unknown. Staged-but-uncommitted writes are not visible.
func (s *Store) Lookup(ctx context.Context, repo string) (*Fingerprint, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT repo, fingerprint, fetched_at, entry_json, fetch_error FROM repo_cache WHERE repo = ?", repo)

	var (
		fp        Fingerprint
		fetchedAt int64
		entryJSON sql.NullString
		fetchErr  sql.NullString
	)
	err := row.Scan(&fp.Repo, &fp.LastFingerprint, &fetchedAt, &entryJSON, &fetchErr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", repo, err)
	}

	fp.LastFetchedAt = time.Unix(fetchedAt, 0)
	fp.FetchError = fetchErr.String
	if entryJSON.Valid && entryJSON.String != "" {
		var entry registry.ThemeEntry
		if err := json.Unmarshal([]byte(entryJSON.String), &entry); err == nil {
			fp.Entry = &entry
		}
		// an unreadable cached entry behaves like a failed fetch: the repo
		// is simply re-fetched next run
	}
	return &fp, nil
}

// Stage records a successful fetch for later commit.
func (s *Store) Stage(repo, fingerprint string, fetchedAt time.Time, entry *registry.ThemeEntry) {
	s.pending[repo] = &Fingerprint{
		Repo:            repo,
		LastFingerprint: fingerprint,
		LastFetchedAt:   fetchedAt,
		Entry:           entry,
	}
}

// StageError records a failed fetch for later commit so the repo is retried
// on the next run.
func (s *Store) StageError(repo, fingerprint string, fetchedAt time.Time, fetchErr error) {
	s.pending[repo] = &Fingerprint{
		Repo:            repo,
		LastFingerprint: fingerprint,
		LastFetchedAt:   fetchedAt,
		FetchError:      fetchErr.Error(),
	}
}

// Pending reports how many staged writes await commit.
func (s *Store) Pending() int { return len(s.pending) }

// Discard drops all staged writes without touching the database.
func (s *Store) Discard() {
	s.pending = make(map[string]*Fingerprint)
}

// Commit writes every staged fingerprint in one transaction and clears the
// staging area. Called only after the run's output set exists.
func (s *Store) Commit(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO repo_cache (repo, fingerprint, fetched_at, entry_json, fetch_error)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(repo) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			fetched_at = excluded.fetched_at,
			entry_json = excluded.entry_json,
			fetch_error = excluded.fetch_error`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, fp := range s.pending {
		var entryJSON any
		if fp.Entry != nil {
			data, err := json.Marshal(fp.Entry)
			if err != nil {
				return fmt.Errorf("marshal entry for %s: %w", fp.Repo, err)
			}
			entryJSON = string(data)
		}
		var fetchErr any
		if fp.FetchError != "" {
			fetchErr = fp.FetchError
		}
		if _, err := stmt.ExecContext(ctx, fp.Repo, fp.LastFingerprint, fp.LastFetchedAt.Unix(), entryJSON, fetchErr); err != nil {
			return fmt.Errorf("upsert %s: %w", fp.Repo, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit fingerprints: %w", err)
	}
	s.pending = make(map[string]*Fingerprint)
	return nil
}

// PruneStale deletes committed rows whose last fetch is older than the
// cutoff. This is the explicit aging policy; rows are never deleted
// automatically during normal runs.
func (s *Store) PruneStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM repo_cache WHERE fetched_at < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("prune stale rows: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the database and the advisory lock.
func (s *Store) Close() error {
	err := s.db.Close()
	if s.lock != nil {
		if unlockErr := s.lock.Unlock(); err == nil {
			err = unlockErr
		}
	}
	return err
}

// NeedsRefresh decides whether a repository must be re-fetched. A nil
// fingerprint, a remembered fetch error, a changed upstream marker, or age
// beyond the staleness window all force a fetch; otherwise the cached entry
// is reusable and the expensive requests are skipped.
func NeedsRefresh(fp *Fingerprint, upstreamFingerprint string, now time.Time, staleAfter time.Duration) bool {
	if fp == nil {
		return true
	}
	if fp.FetchError != "" || fp.Entry == nil {
		return true
	}
	if upstreamFingerprint != "" && upstreamFingerprint != fp.LastFingerprint {
		return true
	}
	return now.Sub(fp.LastFetchedAt) >= staleAfter
}
