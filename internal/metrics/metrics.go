// Package metrics provides Prometheus metrics for the tile worker.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the tile worker. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	// Fetch metrics
	Fetches            *prometheus.CounterVec
	FetchBytes         *prometheus.HistogramVec
	OutstandingFetches prometheus.Gauge
	DedupHits          prometheus.Counter

	// Build metrics
	Builds             *prometheus.CounterVec
	BuildDuration      *prometheus.HistogramVec
	ValidationFailures prometheus.Counter
	BusyRejections     prometheus.Counter
	WorkerStatus       *prometheus.GaugeVec
	TileCacheHits      prometheus.Counter

	// Publish metrics
	PublishesSkipped prometheus.Counter
	StorageErrors    *prometheus.CounterVec
	CatalogErrors    prometheus.Counter
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // e.g. ":9090"
}

var defaultMetrics *Metrics

// Init creates metrics on the default registerer and makes them the
// global instance. Call this once at startup.
func Init(namespace string) *Metrics {
	m := New(namespace, prometheus.DefaultRegisterer)
	defaultMetrics = m
	return m
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// New creates metrics registered on reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "tile_worker"
	}
	f := promauto.With(reg)

	return &Metrics{
		Fetches: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetches_total",
				Help:      "Total number of resource fetches by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		FetchBytes: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_bytes",
				Help:      "Size of fetched payloads in bytes",
				Buckets:   prometheus.ExponentialBuckets(256, 4, 10), // 256B to ~64MB
			},
			[]string{"kind"},
		),
		OutstandingFetches: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "outstanding_fetches",
				Help:      "Number of fetches issued and not yet completed",
			},
		),
		DedupHits: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dedup_hits_total",
				Help:      "Fetched payloads discarded because an identical fingerprint was cached",
			},
		),
		Builds: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "builds_total",
				Help:      "Total number of builds by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		BuildDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "build_duration_seconds",
				Help:      "Time from request acceptance to result",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
			},
			[]string{"mode"},
		),
		ValidationFailures: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validation_failures_total",
				Help:      "Builds rejected by package validation",
			},
		),
		BusyRejections: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "busy_rejections_total",
				Help:      "Requests rejected because the worker was not ready",
			},
		),
		WorkerStatus: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_status",
				Help:      "Current worker status (0=ready, 1=building, 2=busy)",
			},
			[]string{"worker_id"},
		),
		TileCacheHits: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tile_cache_hits_total",
				Help:      "Tiles served from the built tile cache",
			},
		),
		PublishesSkipped: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "publishes_skipped_total",
				Help:      "Styles not republished because their digest was unchanged",
			},
		),
		StorageErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_errors_total",
				Help:      "Total number of storage write errors",
			},
			[]string{"backend"},
		),
		CatalogErrors: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "catalog_errors_total",
				Help:      "Total number of build catalog errors",
			},
		),
	}
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return http.ListenAndServe(address, mux)
}

// IncFetch records one completed fetch.
func (m *Metrics) IncFetch(kind, outcome string) {
	if m == nil {
		return
	}
	m.Fetches.WithLabelValues(kind, outcome).Inc()
}

// ObserveFetchBytes records the size of a fetched payload.
func (m *Metrics) ObserveFetchBytes(kind string, n int) {
	if m == nil {
		return
	}
	m.FetchBytes.WithLabelValues(kind).Observe(float64(n))
}

// AddOutstanding adjusts the outstanding fetch gauge.
func (m *Metrics) AddOutstanding(delta int) {
	if m == nil {
		return
	}
	m.OutstandingFetches.Add(float64(delta))
}

// IncDedupHit records a fetched payload discarded as a duplicate.
func (m *Metrics) IncDedupHit() {
	if m == nil {
		return
	}
	m.DedupHits.Inc()
}

// IncBuild records a finished build.
func (m *Metrics) IncBuild(mode, outcome string) {
	if m == nil {
		return
	}
	m.Builds.WithLabelValues(mode, outcome).Inc()
}

// ObserveBuildDuration records the duration of a build.
func (m *Metrics) ObserveBuildDuration(mode string, seconds float64) {
	if m == nil {
		return
	}
	m.BuildDuration.WithLabelValues(mode).Observe(seconds)
}

// IncValidationFailure records a build rejected by validation.
func (m *Metrics) IncValidationFailure() {
	if m == nil {
		return
	}
	m.ValidationFailures.Inc()
}

// IncBusyRejection records a request rejected by a non-ready worker.
func (m *Metrics) IncBusyRejection() {
	if m == nil {
		return
	}
	m.BusyRejections.Inc()
}

// SetWorkerStatus records the status of one worker.
func (m *Metrics) SetWorkerStatus(workerID string, status int) {
	if m == nil {
		return
	}
	m.WorkerStatus.WithLabelValues(workerID).Set(float64(status))
}

// IncTileCacheHit records a tile served from cache.
func (m *Metrics) IncTileCacheHit() {
	if m == nil {
		return
	}
	m.TileCacheHits.Inc()
}

// IncPublishSkipped records a style whose publish was skipped.
func (m *Metrics) IncPublishSkipped() {
	if m == nil {
		return
	}
	m.PublishesSkipped.Inc()
}

// IncStorageErrors increments the storage errors counter.
func (m *Metrics) IncStorageErrors(backend string) {
	if m == nil {
		return
	}
	m.StorageErrors.WithLabelValues(backend).Inc()
}

// IncCatalogErrors increments the catalog errors counter.
func (m *Metrics) IncCatalogErrors() {
	if m == nil {
		return
	}
	m.CatalogErrors.Inc()
}
