// Package metrics exposes Prometheus collectors for imports, classification
// and the HTTP API.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

const namespace = "books"

// Metrics implements the recorder interfaces of the classify, llm, engine and
// api packages.
type Metrics struct {
	classifications *prometheus.CounterVec
	confidence      *prometheus.HistogramVec
	aiRequests      *prometheus.CounterVec
	aiDuration      *prometheus.HistogramVec
	importsTotal    *prometheus.CounterVec
	importedRows    *prometheus.CounterVec
	parseWarnings   *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		classifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "classifications_total",
				Help:      "Total number of settled classifications by source",
			},
			[]string{"source"},
		),
		confidence: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "classification_confidence",
				Help:      "Confidence of settled classifications",
				Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
			},
			[]string{"source"},
		),
		aiRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ai_requests_total",
				Help:      "Total number of AI classification requests by outcome",
			},
			[]string{"provider", "outcome"},
		),
		aiDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ai_request_duration_seconds",
				Help:      "AI classification request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		importsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "imports_total",
				Help:      "Total number of import attempts by format and status",
			},
			[]string{"format", "status"},
		),
		importedRows: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "imported_transactions_total",
				Help:      "Total number of parsed transactions by dedup outcome",
			},
			[]string{"outcome"},
		),
		parseWarnings: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "parse_warnings_total",
				Help:      "Total number of per-row parse warnings",
			},
			[]string{"format"},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// ObserveClassification records a settled classification.
func (m *Metrics) ObserveClassification(source model.ClassificationSource, confidence float64) {
	m.classifications.WithLabelValues(string(source)).Inc()
	m.confidence.WithLabelValues(string(source)).Observe(confidence)
}

// ObserveAIRequest records one AI classifier call.
func (m *Metrics) ObserveAIRequest(provider, outcome string, duration time.Duration) {
	m.aiRequests.WithLabelValues(provider, outcome).Inc()
	if duration > 0 {
		m.aiDuration.WithLabelValues(provider).Observe(duration.Seconds())
	}
}

// ObserveImport records the outcome of one import.
func (m *Metrics) ObserveImport(format, status string, unique, duplicates, warnings int) {
	m.importsTotal.WithLabelValues(format, status).Inc()
	m.importedRows.WithLabelValues("unique").Add(float64(unique))
	m.importedRows.WithLabelValues("duplicate").Add(float64(duplicates))
	m.parseWarnings.WithLabelValues(format).Add(float64(warnings))
}

// ObserveHTTPRequest records one served request.
func (m *Metrics) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
