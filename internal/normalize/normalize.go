// Package normalize converts raw repository records into canonical theme
// entries: name sanitization, base colorscheme selection, variant detection
// from the theme-definition directory, and the quality gate.
package normalize

import (
	"fmt"
	"regexp"
	"strings"

	"git.home.luguber.info/inful/themeindex/internal/config"
	"git.home.luguber.info/inful/themeindex/internal/forge"
	"git.home.luguber.info/inful/themeindex/internal/registry"
)

// colorsFile matches a colorscheme definition directly inside colors/.
var colorsFile = regexp.MustCompile(`^colors/([^/]+)\.(vim|lua)$`)

// invalidNameChars covers everything outside the entry name alphabet.
var invalidNameChars = regexp.MustCompile(`[^a-z0-9_-]+`)

// suffixes stripped from repository names when deriving the theme name.
var nameSuffixes = []string{
	".nvim", ".vim", ".lua", "-nvim", "_nvim", "-vim", "_vim", "-colorscheme",
}

// degenerate names that fall back to the sanitized owner.
var degenerateNames = map[string]struct{}{
	"": {}, "nvim": {}, "vim": {}, "neovim": {}, "theme": {}, "colorscheme": {},
}

// Warning records a data-quality issue that did not drop the entry.
type Warning struct {
	Repo    string
	Message string
}

func (w Warning) String() string { return fmt.Sprintf("%s: %s", w.Repo, w.Message) }

// SkipReason explains why the quality gate dropped a repository. Empty means
// the repository passed.
type SkipReason string

const (
	SkipNone     SkipReason = ""
	SkipStars    SkipReason = "below_min_stars"
	SkipArchived SkipReason = "archived"
	SkipDisabled SkipReason = "disabled"
)

// Gate applies the configured quality gate. Dropping is a filter, not an
// error.
func Gate(raw *forge.RawRepository, cfg *config.Config) SkipReason {
	if raw.Stars < cfg.MinStars {
		return SkipStars
	}
	if cfg.SkipArchived && raw.Archived {
		return SkipArchived
	}
	if cfg.SkipDisabled && raw.Disabled {
		return SkipDisabled
	}
	return SkipNone
}

// Entry builds a ThemeEntry from a raw record and an optional tree listing.
// Variants follow listing order; duplicate derived colorscheme names keep the
// first occurrence and surface as warnings.
func Entry(raw *forge.RawRepository, tree []forge.TreeEntry) (*registry.ThemeEntry, []Warning) {
	name := ThemeName(raw.FullName)

	variants, warnings := detectVariants(raw.FullName, tree)
	names := make([]string, len(variants))
	for i, v := range variants {
		names[i] = v.Colorscheme
	}

	entry := &registry.ThemeEntry{
		Name:        name,
		Repo:        raw.FullName,
		Colorscheme: BaseColorscheme(name, names),
		UpdatedAt:   raw.UpdatedAt,
		Archived:    raw.Archived,
		Disabled:    raw.Disabled,
		Variants:    variants,
	}
	stars := raw.Stars
	entry.Stars = &stars
	entry.Description = raw.Description
	entry.Homepage = raw.Homepage
	if len(raw.Topics) > 0 {
		entry.Topics = append([]string(nil), raw.Topics...)
	}
	return entry, warnings
}

// detectVariants extracts one Variant per colorscheme file in the listing.
func detectVariants(repo string, tree []forge.TreeEntry) ([]registry.Variant, []Warning) {
	var (
		variants []registry.Variant
		warnings []Warning
		seen     = make(map[string]struct{})
	)
	for _, item := range tree {
		if item.Type != "blob" {
			continue
		}
		m := colorsFile.FindStringSubmatch(item.Path)
		if m == nil {
			continue
		}
		cs := strings.TrimSpace(m[1])
		if cs == "" || strings.ContainsAny(cs, "/\\") {
			continue
		}
		if _, dup := seen[cs]; dup {
			warnings = append(warnings, Warning{
				Repo:    repo,
				Message: fmt.Sprintf("duplicate variant colorscheme %q dropped (kept first occurrence)", cs),
			})
			continue
		}
		seen[cs] = struct{}{}
		variants = append(variants, registry.Variant{Name: cs, Colorscheme: cs})
	}
	return variants, warnings
}

// ThemeName derives the display name from an owner/repo identifier.
func ThemeName(fullRepo string) string {
	owner, repoName, _ := strings.Cut(fullRepo, "/")
	cleaned := sanitizeName(repoName)
	if _, bad := degenerateNames[cleaned]; bad {
		if fallback := sanitizeName(owner); fallback != "" {
			return fallback
		}
	}
	if cleaned != "" {
		return cleaned
	}
	if fallback := sanitizeName(owner); fallback != "" {
		return fallback
	}
	return "theme"
}

func sanitizeName(name string) string {
	candidate := strings.ToLower(strings.TrimSpace(name))
	for _, suffix := range nameSuffixes {
		if strings.HasSuffix(candidate, suffix) && len(candidate) > len(suffix) {
			candidate = candidate[:len(candidate)-len(suffix)]
		}
	}
	// repository names may carry dots or other punctuation; entry names
	// only allow [a-z0-9_-]
	candidate = invalidNameChars.ReplaceAllString(candidate, "-")
	return strings.Trim(candidate, "-_")
}

// BaseColorscheme picks the entry-level colorscheme command among the
// detected ones: exact (or dash/underscore-swapped) match on the theme name
// first, then the plainest candidate, then the first detected. With no
// detections the theme name itself is the command.
func BaseColorscheme(themeName string, detected []string) string {
	if len(detected) == 0 {
		return themeName
	}

	preferred := map[string]struct{}{
		themeName: {},
		strings.ReplaceAll(themeName, "-", "_"): {},
		strings.ReplaceAll(themeName, "_", "-"): {},
	}
	for _, candidate := range detected {
		if _, ok := preferred[candidate]; ok {
			return candidate
		}
	}
	for _, candidate := range detected {
		if !strings.ContainsAny(candidate, "-_") {
			return candidate
		}
	}
	return detected[0]
}
