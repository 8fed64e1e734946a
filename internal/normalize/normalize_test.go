package normalize

import (
	"testing"

	"git.home.luguber.info/inful/themeindex/internal/config"
	"git.home.luguber.info/inful/themeindex/internal/forge"
)

func TestThemeName(t *testing.T) {
	cases := map[string]string{
		"morhetz/gruvbox":          "gruvbox",
		"folke/tokyonight.nvim":    "tokyonight",
		"acme/sample-colorscheme":  "sample",
		"acme/cool_nvim":           "cool",
		"catppuccin/nvim":          "catppuccin",
		"someone/vim":              "someone",
		"WeirdOwner/THEME":         "weirdowner",
		"owner/-dashes-.nvim":      "dashes",
	}
	for in, want := range cases {
		if got := ThemeName(in); got != want {
			t.Fatalf("ThemeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestThemeNameMapsDisallowedCharacters(t *testing.T) {
	cases := map[string]string{
		"acme/my.theme":         "my-theme",
		"acme/gruvbox.material": "gruvbox-material",
		"acme/awesome+theme":    "awesome-theme",
		"acme/..dotted..":       "dotted",
	}
	for in, want := range cases {
		if got := ThemeName(in); got != want {
			t.Fatalf("ThemeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEntryNameWithDottedRepoIsValid(t *testing.T) {
	entry, _ := Entry(&forge.RawRepository{FullName: "acme/my.theme"}, nil)
	if entry.Name != "my-theme" {
		t.Fatalf("expected sanitized name my-theme got %q", entry.Name)
	}
	if err := entry.Validate(); err != nil {
		t.Fatalf("entry from dotted repo name must validate: %v", err)
	}
}

func TestBaseColorschemeHeuristic(t *testing.T) {
	// exact match on theme name wins
	if got := BaseColorscheme("tokyonight", []string{"tokyonight-storm", "tokyonight"}); got != "tokyonight" {
		t.Fatalf("expected exact match, got %q", got)
	}
	// dash/underscore swap counts as a match
	if got := BaseColorscheme("rose-pine", []string{"rose_pine"}); got != "rose_pine" {
		t.Fatalf("expected swapped separator match, got %q", got)
	}
	// otherwise the plainest candidate
	if got := BaseColorscheme("night", []string{"night-storm", "nightfall"}); got != "nightfall" {
		t.Fatalf("expected plain candidate, got %q", got)
	}
	// otherwise the first detected
	if got := BaseColorscheme("x", []string{"a-b", "c-d"}); got != "a-b" {
		t.Fatalf("expected first candidate, got %q", got)
	}
	// no detections: the theme name itself
	if got := BaseColorscheme("plain", nil); got != "plain" {
		t.Fatalf("expected theme name, got %q", got)
	}
}

func TestEntryVariantDetectionKeepsListingOrder(t *testing.T) {
	raw := &forge.RawRepository{
		FullName:  "folke/tokyonight.nvim",
		Stars:     100,
		UpdatedAt: "2026-08-01T00:00:00Z",
	}
	tree := []forge.TreeEntry{
		{Path: "colors/tokyonight-storm.lua", Type: "blob"},
		{Path: "colors/tokyonight.lua", Type: "blob"},
		{Path: "colors/tokyonight-day.lua", Type: "blob"},
		{Path: "lua/tokyonight/init.lua", Type: "blob"},
		{Path: "colors", Type: "tree"},
		{Path: "colors/README.md", Type: "blob"},
	}

	entry, warnings := Entry(raw, tree)
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if entry.Colorscheme != "tokyonight" {
		t.Fatalf("expected base colorscheme tokyonight got %q", entry.Colorscheme)
	}
	want := []string{"tokyonight-storm", "tokyonight", "tokyonight-day"}
	if len(entry.Variants) != len(want) {
		t.Fatalf("expected %d variants got %d", len(want), len(entry.Variants))
	}
	for i, w := range want {
		if entry.Variants[i].Colorscheme != w {
			t.Fatalf("variant %d: expected %q got %q", i, w, entry.Variants[i].Colorscheme)
		}
	}
}

func TestEntryDuplicateVariantKeepsFirstAndWarns(t *testing.T) {
	raw := &forge.RawRepository{FullName: "acme/dup.nvim"}
	tree := []forge.TreeEntry{
		{Path: "colors/dup.vim", Type: "blob"},
		{Path: "colors/dup.lua", Type: "blob"},
	}

	entry, warnings := Entry(raw, tree)
	if len(entry.Variants) != 1 {
		t.Fatalf("expected exactly one kept variant got %d", len(entry.Variants))
	}
	if len(warnings) != 1 {
		t.Fatalf("expected exactly one warning got %d", len(warnings))
	}
	if warnings[0].Repo != "acme/dup.nvim" {
		t.Fatalf("warning should carry the repo, got %+v", warnings[0])
	}
}

func TestEntryAbsentFieldsStayAbsent(t *testing.T) {
	raw := &forge.RawRepository{FullName: "acme/min.nvim", Stars: 3}
	entry, _ := Entry(raw, nil)
	if entry.Description != nil || entry.Homepage != nil {
		t.Fatalf("absent upstream fields must stay nil: %+v", entry)
	}
	if entry.Stars == nil || *entry.Stars != 3 {
		t.Fatalf("stars should be carried: %+v", entry.Stars)
	}
	if entry.Variants != nil {
		t.Fatalf("no listing must mean no variants")
	}
}

func TestGate(t *testing.T) {
	cfg := config.Default()
	cfg.MinStars = 10
	cfg.SkipArchived = true
	cfg.SkipDisabled = true

	if got := Gate(&forge.RawRepository{Stars: 3}, cfg); got != SkipStars {
		t.Fatalf("expected star gate, got %q", got)
	}
	if got := Gate(&forge.RawRepository{Stars: 50, Archived: true}, cfg); got != SkipArchived {
		t.Fatalf("expected archived gate, got %q", got)
	}
	if got := Gate(&forge.RawRepository{Stars: 50, Disabled: true}, cfg); got != SkipDisabled {
		t.Fatalf("expected disabled gate, got %q", got)
	}
	if got := Gate(&forge.RawRepository{Stars: 50}, cfg); got != SkipNone {
		t.Fatalf("expected pass, got %q", got)
	}

	cfg.SkipArchived = false
	if got := Gate(&forge.RawRepository{Stars: 50, Archived: true}, cfg); got != SkipNone {
		t.Fatalf("archived allowed when configured, got %q", got)
	}
}
