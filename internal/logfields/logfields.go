package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyRunID      = "run_id"
	KeyStage      = "stage"
	KeyRepo       = "repository"
	KeyTopic      = "topic"
	KeyPage       = "page"
	KeyCount      = "count"
	KeyPath       = "path"
	KeyDurationMS = "duration_ms"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func RunID(id string) slog.Attr        { return slog.String(KeyRunID, id) }
func Stage(name string) slog.Attr      { return slog.String(KeyStage, name) }
func Repository(r string) slog.Attr    { return slog.String(KeyRepo, r) }
func Topic(t string) slog.Attr         { return slog.String(KeyTopic, t) }
func Page(p int) slog.Attr             { return slog.Int(KeyPage, p) }
func Count(n int) slog.Attr            { return slog.Int(KeyCount, n) }
func Path(p string) slog.Attr          { return slog.String(KeyPath, p) }
func DurationMS(ms float64) slog.Attr  { return slog.Float64(KeyDurationMS, ms) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
