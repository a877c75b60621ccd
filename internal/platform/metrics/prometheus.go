package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Migration metrics
	MigrationsApplied  *prometheus.CounterVec
	MigrationFailures  *prometheus.CounterVec
	MigrationDuration  *prometheus.HistogramVec
	MigrationRuns      *prometheus.CounterVec
	MigrationsPending  *prometheus.GaugeVec
	WatermarkTimestamp *prometheus.GaugeVec

	// Lock and publishing metrics
	LockContention  prometheus.Counter
	EventsPublished *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them on a dedicated registry
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		MigrationsApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "migrations_applied_total",
				Help:      "Total number of migrations applied",
			},
			[]string{"source", "kind"},
		),
		MigrationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "migration_failures_total",
				Help:      "Total number of migrations that failed to apply",
			},
			[]string{"source", "kind"},
		),
		MigrationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "migration_duration_seconds",
				Help:      "Time taken to apply a single migration",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 30, 60, 300, 900, 1800},
			},
			[]string{"kind"},
		),
		MigrationRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "migration_runs_total",
				Help:      "Total number of migration runs by result",
			},
			[]string{"result"},
		),
		MigrationsPending: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "migration_pending",
				Help:      "Number of migrations waiting to be applied",
			},
			[]string{"source"},
		),
		WatermarkTimestamp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "migration_watermark_timestamp_seconds",
				Help:      "Date of the latest applied migration as a unix timestamp",
			},
			[]string{"source"},
		),

		LockContention: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "migration_lock_contention_total",
				Help:      "Runs skipped because another runner held the lock",
			},
		),
		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "migration_events_published_total",
				Help:      "Migration events handed to the event publisher",
			},
			[]string{"type", "status"},
		),
	}

	m.register()

	return m
}

func (m *Metrics) register() {
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.MigrationsApplied,
		m.MigrationFailures,
		m.MigrationDuration,
		m.MigrationRuns,
		m.MigrationsPending,
		m.WatermarkTimestamp,
		m.LockContention,
		m.EventsPublished,
	)
}

// Registry exposes the registry the metrics live on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveMigration records the outcome of applying one migration
func (m *Metrics) ObserveMigration(source, kind string, duration time.Duration, err error) {
	if err != nil {
		m.MigrationFailures.WithLabelValues(source, kind).Inc()
		return
	}
	m.MigrationsApplied.WithLabelValues(source, kind).Inc()
	m.MigrationDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObserveRun records the result of a whole run
func (m *Metrics) ObserveRun(result string) {
	m.MigrationRuns.WithLabelValues(result).Inc()
}

// SetPending records the number of pending migrations for a source
func (m *Metrics) SetPending(source string, n int) {
	m.MigrationsPending.WithLabelValues(source).Set(float64(n))
}

// SetWatermark records the date a source's watermark points at
func (m *Metrics) SetWatermark(source string, t time.Time) {
	m.WatermarkTimestamp.WithLabelValues(source).Set(float64(t.Unix()))
}

// HTTPMetricsMiddleware returns middleware that collects HTTP metrics
func (m *Metrics) HTTPMetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			status := strconv.Itoa(wrapped.statusCode)
			m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
