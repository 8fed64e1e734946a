package state

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"git.home.luguber.info/inful/themeindex/internal/registry"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "indexer.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleEntry(repo string) *registry.ThemeEntry {
	return &registry.ThemeEntry{Name: "sample", Repo: repo, Colorscheme: "sample"}
}

func TestLookupUnknownRepo(t *testing.T) {
	s := openTestStore(t)
	fp, err := s.Lookup(context.Background(), "acme/unknown.nvim")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if fp != nil {
		t.Fatalf("expected nil fingerprint got %+v", fp)
	}
}

func TestStagedWritesInvisibleUntilCommit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	fetched := time.Now().Truncate(time.Second)

	s.Stage("acme/sample.nvim", "2026-08-01T00:00:00Z", fetched, sampleEntry("acme/sample.nvim"))

	fp, err := s.Lookup(ctx, "acme/sample.nvim")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if fp != nil {
		t.Fatalf("staged write must not be visible before commit")
	}
	if s.Pending() != 1 {
		t.Fatalf("expected 1 pending write got %d", s.Pending())
	}

	if err := s.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if s.Pending() != 0 {
		t.Fatalf("commit must clear the staging area")
	}

	fp, err = s.Lookup(ctx, "acme/sample.nvim")
	if err != nil {
		t.Fatalf("lookup after commit: %v", err)
	}
	if fp == nil || fp.LastFingerprint != "2026-08-01T00:00:00Z" {
		t.Fatalf("unexpected fingerprint: %+v", fp)
	}
	if fp.Entry == nil || fp.Entry.Name != "sample" {
		t.Fatalf("cached entry missing: %+v", fp)
	}
	if !fp.LastFetchedAt.Equal(fetched) {
		t.Fatalf("fetched_at mismatch: %v vs %v", fp.LastFetchedAt, fetched)
	}
}

func TestDiscardDropsStagedWrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.Stage("acme/sample.nvim", "fp", time.Now(), sampleEntry("acme/sample.nvim"))
	s.Discard()
	if err := s.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	fp, err := s.Lookup(ctx, "acme/sample.nvim")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if fp != nil {
		t.Fatalf("discarded write must never reach the database")
	}
}

func TestStageErrorForcesRefresh(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.StageError("acme/flaky.nvim", "fp-1", time.Now(), errors.New("boom"))
	if err := s.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	fp, err := s.Lookup(ctx, "acme/flaky.nvim")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if fp == nil || fp.FetchError == "" {
		t.Fatalf("expected remembered fetch error got %+v", fp)
	}
	if !NeedsRefresh(fp, "fp-1", time.Now(), 24*time.Hour) {
		t.Fatalf("a remembered fetch error must force a refresh")
	}
}

func TestUpsertReplacesExistingRow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.Stage("acme/sample.nvim", "fp-1", time.Now().Add(-time.Hour), sampleEntry("acme/sample.nvim"))
	if err := s.Commit(ctx); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	s.Stage("acme/sample.nvim", "fp-2", time.Now(), sampleEntry("acme/sample.nvim"))
	if err := s.Commit(ctx); err != nil {
		t.Fatalf("second commit: %v", err)
	}

	fp, err := s.Lookup(ctx, "acme/sample.nvim")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if fp.LastFingerprint != "fp-2" {
		t.Fatalf("expected updated fingerprint fp-2 got %s", fp.LastFingerprint)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "indexer.db")
	ctx := context.Background()

	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.Stage("acme/sample.nvim", "fp-1", time.Now(), sampleEntry("acme/sample.nvim"))
	if err := s.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := Open(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	fp, err := s2.Lookup(ctx, "acme/sample.nvim")
	if err != nil {
		t.Fatalf("lookup after reopen: %v", err)
	}
	if fp == nil || fp.LastFingerprint != "fp-1" {
		t.Fatalf("state lost across reopen: %+v", fp)
	}
}

func TestAdvisoryLockRejectsSecondWriter(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "indexer.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if _, err := Open(dbPath); err == nil {
		t.Fatalf("expected second writer to be rejected by the advisory lock")
	}
}

func TestPruneStale(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.Stage("acme/old.nvim", "fp", time.Now().Add(-48*time.Hour), sampleEntry("acme/old.nvim"))
	s.Stage("acme/new.nvim", "fp", time.Now(), sampleEntry("acme/new.nvim"))
	if err := s.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	n, err := s.PruneStale(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned row got %d", n)
	}
	fp, _ := s.Lookup(ctx, "acme/new.nvim")
	if fp == nil {
		t.Fatalf("recent row must survive pruning")
	}
}

func TestNeedsRefresh(t *testing.T) {
	now := time.Now()
	fresh := &Fingerprint{
		Repo:            "acme/sample.nvim",
		LastFingerprint: "fp-1",
		LastFetchedAt:   now.Add(-24 * time.Hour),
		Entry:           sampleEntry("acme/sample.nvim"),
	}

	if !NeedsRefresh(nil, "fp-1", now, 7*24*time.Hour) {
		t.Fatalf("unknown repo must be fetched")
	}
	if NeedsRefresh(fresh, "fp-1", now, 7*24*time.Hour) {
		t.Fatalf("unchanged fingerprint within the window must reuse the cache")
	}
	if !NeedsRefresh(fresh, "fp-2", now, 7*24*time.Hour) {
		t.Fatalf("changed fingerprint must force a fetch")
	}
	// empty upstream marker (include-list repos) relies on staleness only
	if NeedsRefresh(fresh, "", now, 7*24*time.Hour) {
		t.Fatalf("empty upstream marker within the window must reuse the cache")
	}

	// staleness: fetched at T, checked at T+7d with stale_after_days=7
	atT := &Fingerprint{
		Repo:            "acme/stale.nvim",
		LastFingerprint: "fp-1",
		LastFetchedAt:   now.Add(-7 * 24 * time.Hour),
		Entry:           sampleEntry("acme/stale.nvim"),
	}
	if !NeedsRefresh(atT, "fp-1", now, 7*24*time.Hour) {
		t.Fatalf("repo at the staleness boundary must be re-fetched")
	}
}
