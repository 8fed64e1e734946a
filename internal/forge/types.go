// Package forge implements the discovery client against the repository
// hosting service's REST API: topic search, repository metadata, and the
// theme-definition tree listing used for variant detection.
package forge

import (
	"errors"
	"strings"
)

// ErrNotFound is returned when the service reports a missing resource.
var ErrNotFound = errors.New("forge: not found")

// SearchResult is one lightweight hit from a topic search page. UpdatedAt is
// the service-provided revision marker used as the change fingerprint.
type SearchResult struct {
	Repo      string
	UpdatedAt string
}

// RawRepository is the full metadata record for one repository. It is
// transient per run and immutable once fetched.
type RawRepository struct {
	Owner         string
	Name          string
	FullName      string
	Stars         int
	Description   *string
	Homepage      *string
	Topics        []string
	Archived      bool
	Disabled      bool
	UpdatedAt     string
	DefaultBranch string
}

// Fingerprint returns the opaque change marker for this record.
func (r *RawRepository) Fingerprint() string {
	return r.UpdatedAt
}

// TreeEntry is one object in a repository tree listing.
type TreeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"`
}

// NormalizeRepo canonicalizes an owner/repo identifier: trims whitespace,
// strips a trailing .git, and removes surrounding slashes.
func NormalizeRepo(repo string) string {
	repo = strings.TrimSpace(repo)
	repo = strings.TrimSuffix(repo, ".git")
	return strings.Trim(repo, "/")
}
