package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ingest outcomes
const (
	OutcomeSuccess   = "success"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
)

// Metrics holds the service collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requestTotal       *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	ingestTotal        *prometheus.CounterVec
	extractionDuration *prometheus.HistogramVec
	validationWarnings prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "invoices",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "invoices",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	ingestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "invoices",
			Subsystem: "ingest",
			Name:      "files_total",
			Help:      "Total uploaded files processed by outcome.",
		},
		[]string{"outcome"},
	)
	extractionDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "invoices",
			Subsystem: "ingest",
			Name:      "extraction_duration_seconds",
			Help:      "AI extraction round trip in seconds by status.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"status"},
	)
	validationWarnings := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "invoices",
			Subsystem: "ingest",
			Name:      "validation_warnings_total",
			Help:      "Extracted invoices that failed field validation.",
		},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		ingestTotal,
		extractionDuration,
		validationWarnings,
	)

	return &Metrics{
		registry:           registry,
		requestTotal:       requestTotal,
		requestDuration:    requestDuration,
		ingestTotal:        ingestTotal,
		extractionDuration: extractionDuration,
		validationWarnings: validationWarnings,
	}
}

// Handler exposes the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveHTTP(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (m *Metrics) RecordIngestOutcome(outcome string) {
	if m == nil {
		return
	}
	m.ingestTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveExtraction(duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.extractionDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func (m *Metrics) RecordValidationWarning() {
	if m == nil {
		return
	}
	m.validationWarnings.Inc()
}
