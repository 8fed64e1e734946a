// Package registry defines the theme catalog data model and its canonical
// JSON encoding. The artifact bytes produced here must be byte-stable for
// identical input so the publish guard can compare checksums across runs.
package registry

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"

	"git.home.luguber.info/inful/themeindex/internal/config"
)

var (
	namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	repoPattern = regexp.MustCompile(`^[^/\s]+/[^/\s]+$`)
)

// Variant is an alternate named configuration of a theme, derived from a
// file within the theme-definition directory.
type Variant struct {
	Name        string   `json:"name,omitempty"`
	Colorscheme string   `json:"colorscheme"`
	Tags        []string `json:"tags,omitempty"`
}

// ThemeEntry is one catalog record. Optional descriptive fields use pointers
// so absent upstream metadata is emitted as absent, never as "".
type ThemeEntry struct {
	Name        string    `json:"name"`
	Repo        string    `json:"repo"`
	Colorscheme string    `json:"colorscheme"`
	Stars       *int      `json:"stars,omitempty"`
	Description *string   `json:"description,omitempty"`
	Homepage    *string   `json:"homepage,omitempty"`
	UpdatedAt   string    `json:"updated_at,omitempty"`
	Topics      []string  `json:"topics,omitempty"`
	Archived    bool      `json:"archived,omitempty"`
	Disabled    bool      `json:"disabled,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Deps        []string  `json:"deps,omitempty"`
	Variants    []Variant `json:"variants,omitempty"`
}

// Validate checks the required fields and key patterns.
func (e *ThemeEntry) Validate() error {
	if !namePattern.MatchString(e.Name) {
		return fmt.Errorf("invalid entry name %q", e.Name)
	}
	if !repoPattern.MatchString(e.Repo) {
		return fmt.Errorf("invalid repository identifier %q", e.Repo)
	}
	if e.Colorscheme == "" {
		return fmt.Errorf("entry %q has no colorscheme", e.Repo)
	}
	seen := make(map[string]struct{}, len(e.Variants))
	for _, v := range e.Variants {
		if v.Colorscheme == "" {
			return fmt.Errorf("entry %q has a variant without a colorscheme", e.Repo)
		}
		if _, dup := seen[v.Colorscheme]; dup {
			return fmt.Errorf("entry %q has duplicate variant colorscheme %q", e.Repo, v.Colorscheme)
		}
		seen[v.Colorscheme] = struct{}{}
	}
	return nil
}

// Clone returns a deep copy; override application mutates the copy, never
// the normalized original.
func (e *ThemeEntry) Clone() *ThemeEntry {
	c := *e
	if e.Stars != nil {
		s := *e.Stars
		c.Stars = &s
	}
	if e.Description != nil {
		d := *e.Description
		c.Description = &d
	}
	if e.Homepage != nil {
		h := *e.Homepage
		c.Homepage = &h
	}
	c.Topics = append([]string(nil), e.Topics...)
	c.Tags = append([]string(nil), e.Tags...)
	c.Deps = append([]string(nil), e.Deps...)
	if e.Variants != nil {
		c.Variants = make([]Variant, len(e.Variants))
		for i, v := range e.Variants {
			cv := v
			cv.Tags = append([]string(nil), v.Tags...)
			c.Variants[i] = cv
		}
	}
	return &c
}

// Sort orders entries by the configured field and direction, with ties broken
// by repo lexical order for reproducibility.
func Sort(entries []*ThemeEntry, field config.SortField, order config.SortOrder) {
	desc := order == config.SortDesc
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		var less, equal bool
		switch field {
		case config.SortByName:
			less, equal = a.Name < b.Name, a.Name == b.Name
		case config.SortByUpdatedAt:
			less, equal = a.UpdatedAt < b.UpdatedAt, a.UpdatedAt == b.UpdatedAt
		default: // stars
			as, bs := 0, 0
			if a.Stars != nil {
				as = *a.Stars
			}
			if b.Stars != nil {
				bs = *b.Stars
			}
			less, equal = as < bs, as == bs
		}
		if equal {
			return a.Repo < b.Repo
		}
		if desc {
			return !less
		}
		return less
	})
}

// EncodeArtifact produces the canonical artifact bytes: two-space indented
// JSON with struct field order and a trailing newline. Identical entry sets
// always yield identical bytes.
func EncodeArtifact(entries []*ThemeEntry) ([]byte, error) {
	if entries == nil {
		entries = []*ThemeEntry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal artifact: %w", err)
	}
	return append(data, '\n'), nil
}
