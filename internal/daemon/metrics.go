package daemon

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"git.home.luguber.info/inful/themeindex/internal/pipeline"
)

// Metrics exposes loop-mode run counters on a dedicated registry.
type Metrics struct {
	registry *prom.Registry

	runs        *prom.CounterVec
	runDuration prom.Histogram
	entries     prom.Gauge
	repoResults *prom.CounterVec
	pushes      prom.Counter
}

// NewMetrics constructs and registers the run metrics.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prom.NewRegistry()}
	m.runs = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "themeindex",
		Name:      "runs_total",
		Help:      "Indexing runs by outcome",
	}, []string{"outcome"})
	m.runDuration = prom.NewHistogram(prom.HistogramOpts{
		Namespace: "themeindex",
		Name:      "run_duration_seconds",
		Help:      "Total duration of an indexing run",
		Buckets:   prom.DefBuckets,
	})
	m.entries = prom.NewGauge(prom.GaugeOpts{
		Namespace: "themeindex",
		Name:      "registry_entries",
		Help:      "Entries written by the last successful run",
	})
	m.repoResults = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "themeindex",
		Name:      "repositories_total",
		Help:      "Per-repository processing results across runs",
	}, []string{"result"})
	m.pushes = prom.NewCounter(prom.CounterOpts{
		Namespace: "themeindex",
		Name:      "publications_total",
		Help:      "Successful git publications",
	})
	m.registry.MustRegister(m.runs, m.runDuration, m.entries, m.repoResults, m.pushes)
	return m
}

// RecordRun folds one run's stats into the counters.
func (m *Metrics) RecordRun(stats *pipeline.Stats, runErr error) {
	outcome := "ok"
	if runErr != nil {
		outcome = "error"
	}
	m.runs.WithLabelValues(outcome).Inc()
	if stats == nil {
		return
	}
	m.runDuration.Observe(stats.Duration.Seconds())
	m.repoResults.WithLabelValues("fetched").Add(float64(stats.Fetched))
	m.repoResults.WithLabelValues("cached").Add(float64(stats.Cached))
	m.repoResults.WithLabelValues("skipped").Add(float64(stats.Skipped))
	m.repoResults.WithLabelValues("error").Add(float64(stats.Errors))
	if runErr == nil {
		m.entries.Set(float64(stats.Written))
	}
	if stats.Pushed {
		m.pushes.Inc()
	}
}

// Serve runs the /metrics endpoint until the context ends. A zero addr
// disables the listener.
func (m *Metrics) Serve(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		slog.Info("Serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics listener failed", "error", err)
		}
	}()
}
