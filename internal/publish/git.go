package publish

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	git "github.com/go-git/go-git/v5"
	gitcfg "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport/http"

	"git.home.luguber.info/inful/themeindex/internal/config"
	"git.home.luguber.info/inful/themeindex/internal/errors"
)

const (
	defaultAuthorName  = "themeindex"
	defaultAuthorEmail = "themeindex@localhost"
)

// Push stages the given files, commits, and pushes to the configured remote.
// The caller is responsible for only invoking this when the artifact changed.
// A clean worktree after staging is not an error; it just means another
// process already committed the same content.
func Push(ctx context.Context, cfg config.PublishConfig, token string, paths ...string) error {
	repoRoot := cfg.RepoRoot
	if repoRoot == "" {
		repoRoot = "."
	}
	absRoot, err := filepath.Abs(repoRoot)
	if err != nil {
		return errors.Wrap(err, errors.CategoryPublish, errors.SeverityError, "failed to resolve publish repo root")
	}

	repo, err := git.PlainOpen(absRoot)
	if err != nil {
		return errors.Wrap(err, errors.CategoryPublish, errors.SeverityError, "failed to open publish repository").
			WithContext("path", absRoot)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return errors.Wrap(err, errors.CategoryPublish, errors.SeverityError, "failed to open worktree")
	}

	for _, p := range paths {
		rel, err := repoRelative(absRoot, p)
		if err != nil {
			return err
		}
		if _, err := wt.Add(rel); err != nil {
			return errors.Wrap(err, errors.CategoryPublish, errors.SeverityError, "failed to stage artifact").
				WithContext("path", rel)
		}
	}

	status, err := wt.Status()
	if err != nil {
		return errors.Wrap(err, errors.CategoryPublish, errors.SeverityError, "failed to read worktree status")
	}
	if status.IsClean() {
		slog.Info("Publish worktree already clean, nothing to commit")
		return nil
	}

	author := &object.Signature{
		Name:  cfg.AuthorName,
		Email: cfg.AuthorEmail,
		When:  time.Now(),
	}
	if author.Name == "" {
		author.Name = defaultAuthorName
	}
	if author.Email == "" {
		author.Email = defaultAuthorEmail
	}

	hash, err := wt.Commit(cfg.CommitMessage, &git.CommitOptions{Author: author})
	if err != nil {
		return errors.Wrap(err, errors.CategoryPublish, errors.SeverityError, "failed to commit artifacts")
	}
	slog.Info("Committed registry artifacts", slog.String("commit", hash.String()[:8]))

	pushOpts := &git.PushOptions{RemoteName: cfg.Remote}
	if cfg.Branch != "" {
		pushOpts.RefSpecs = []gitcfg.RefSpec{
			gitcfg.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", cfg.Branch, cfg.Branch)),
		}
	}
	if token != "" {
		pushOpts.Auth = &http.BasicAuth{Username: "x-access-token", Password: token}
	}
	if err := repo.PushContext(ctx, pushOpts); err != nil {
		if err == git.NoErrAlreadyUpToDate {
			slog.Info("Remote already up to date", slog.String("remote", cfg.Remote))
			return nil
		}
		// The commit is in; only the push failed. Retryable on the next run.
		return errors.WrapRetryable(err, errors.CategoryPublish, errors.SeverityError, "failed to push artifacts").
			WithContext("remote", cfg.Remote)
	}

	slog.Info("Pushed registry artifacts",
		slog.String("remote", cfg.Remote),
		slog.String("branch", cfg.Branch))
	return nil
}

// repoRelative resolves a configured artifact path against the repo root.
func repoRelative(absRoot, path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryPublish, errors.SeverityError, "failed to resolve artifact path").
			WithContext("path", path)
	}
	rel, err := filepath.Rel(absRoot, abs)
	if err != nil || filepath.IsAbs(rel) || rel == ".." || len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator) {
		return "", errors.New(errors.CategoryPublish, errors.SeverityError, "artifact path is outside the publish repository").
			WithContext("path", path).
			WithContext("repo_root", absRoot)
	}
	return filepath.ToSlash(rel), nil
}
