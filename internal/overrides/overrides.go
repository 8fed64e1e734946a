// Package overrides loads the manually authored override document and
// applies it to the normalized entry set: field-level replacement keyed by
// repository identity, followed by exclusions.
package overrides

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"git.home.luguber.info/inful/themeindex/internal/errors"
	"git.home.luguber.info/inful/themeindex/internal/forge"
	"git.home.luguber.info/inful/themeindex/internal/logfields"
	"git.home.luguber.info/inful/themeindex/internal/registry"
)

// Record is one manual correction keyed by repo. Pointer fields distinguish
// "field present in the document" from "leave the auto-fetched value alone".
// A present field replaces the corresponding value wholesale; arrays are
// never merged element-wise.
type Record struct {
	Repo        string              `json:"repo"`
	Name        *string             `json:"name,omitempty"`
	Colorscheme *string             `json:"colorscheme,omitempty"`
	Stars       *int                `json:"stars,omitempty"`
	Description *string             `json:"description,omitempty"`
	Homepage    *string             `json:"homepage,omitempty"`
	UpdatedAt   *string             `json:"updated_at,omitempty"`
	Topics      *[]string           `json:"topics,omitempty"`
	Archived    *bool               `json:"archived,omitempty"`
	Disabled    *bool               `json:"disabled,omitempty"`
	Tags        *[]string           `json:"tags,omitempty"`
	Deps        *[]string           `json:"deps,omitempty"`
	Variants    *[]registry.Variant `json:"variants,omitempty"`
}

// Document is the override file shape.
type Document struct {
	Overrides []Record `json:"overrides"`
	Excluded  []string `json:"excluded"`
}

// Load reads the override document. A missing file yields an empty document;
// a malformed one is a fatal ConfigError (the document is an input, not
// derived state).
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Document{}, nil
		}
		return nil, errors.Wrap(err, errors.CategoryConfig, errors.SeverityFatal, "failed to read overrides").
			WithContext("path", path)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, errors.CategoryConfig, errors.SeverityFatal, "failed to parse overrides").
			WithContext("path", path)
	}
	for i := range doc.Overrides {
		doc.Overrides[i].Repo = forge.NormalizeRepo(doc.Overrides[i].Repo)
	}
	for i := range doc.Excluded {
		doc.Excluded[i] = forge.NormalizeRepo(doc.Excluded[i])
	}
	return &doc, nil
}

// Apply merges the document into the normalized entries and returns the
// resulting set (unsorted) plus one error per skipped override record.
// Exclusions run last and win over overrides.
func Apply(entries []*registry.ThemeEntry, doc *Document) ([]*registry.ThemeEntry, []error) {
	byRepo := make(map[string]*registry.ThemeEntry, len(entries))
	order := make([]string, 0, len(entries))
	for _, e := range entries {
		if _, dup := byRepo[e.Repo]; !dup {
			order = append(order, e.Repo)
		}
		byRepo[e.Repo] = e
	}

	var mergeErrs []error
	for _, rec := range doc.Overrides {
		if rec.Repo == "" {
			mergeErrs = append(mergeErrs, errors.New(errors.CategoryMerge, errors.SeverityWarning,
				"override record without a repo skipped"))
			continue
		}

		if existing, ok := byRepo[rec.Repo]; ok {
			byRepo[rec.Repo] = applyTo(existing, rec)
			continue
		}

		created, err := entryFrom(rec)
		if err != nil {
			mergeErrs = append(mergeErrs, err)
			slog.Warn("Skipping invalid override record", logfields.Repository(rec.Repo), logfields.Error(err))
			continue
		}
		byRepo[rec.Repo] = created
		order = append(order, rec.Repo)
	}

	excluded := make(map[string]struct{}, len(doc.Excluded))
	for _, repo := range doc.Excluded {
		excluded[repo] = struct{}{}
	}

	out := make([]*registry.ThemeEntry, 0, len(order))
	for _, repo := range order {
		if _, drop := excluded[repo]; drop {
			continue
		}
		out = append(out, byRepo[repo])
	}
	return out, mergeErrs
}

// applyTo replaces each field present in the record on a copy of the entry.
func applyTo(entry *registry.ThemeEntry, rec Record) *registry.ThemeEntry {
	e := entry.Clone()
	if rec.Name != nil {
		e.Name = *rec.Name
	}
	if rec.Colorscheme != nil {
		e.Colorscheme = *rec.Colorscheme
	}
	if rec.Stars != nil {
		e.Stars = rec.Stars
	}
	if rec.Description != nil {
		e.Description = rec.Description
	}
	if rec.Homepage != nil {
		e.Homepage = rec.Homepage
	}
	if rec.UpdatedAt != nil {
		e.UpdatedAt = *rec.UpdatedAt
	}
	if rec.Topics != nil {
		e.Topics = *rec.Topics
	}
	if rec.Archived != nil {
		e.Archived = *rec.Archived
	}
	if rec.Disabled != nil {
		e.Disabled = *rec.Disabled
	}
	if rec.Tags != nil {
		e.Tags = *rec.Tags
	}
	if rec.Deps != nil {
		e.Deps = *rec.Deps
	}
	if rec.Variants != nil {
		e.Variants = *rec.Variants
	}
	return e
}

// entryFrom builds a brand-new entry from an override record. The record
// must supply at least name, repo, and colorscheme.
func entryFrom(rec Record) (*registry.ThemeEntry, error) {
	if rec.Name == nil || rec.Colorscheme == nil {
		return nil, errors.New(errors.CategoryMerge, errors.SeverityWarning,
			fmt.Sprintf("override for unknown repo %s must supply name and colorscheme", rec.Repo))
	}
	e := applyTo(&registry.ThemeEntry{Repo: rec.Repo}, rec)
	if err := e.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.CategoryMerge, errors.SeverityWarning,
			"override record produced an invalid entry")
	}
	return e, nil
}
