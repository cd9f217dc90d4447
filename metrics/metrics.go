// Package metrics declares the prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const prefix = "payload_forge_"

// Outcome labels
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

var storeOperations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "template_store_operations_total",
		Help: "Template store operations by backend, operation and outcome",
	},
	[]string{"backend", "operation", "outcome"},
)

var storeOperationDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    prefix + "template_store_operation_duration_seconds",
		Help:    "Latency of template store operations",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"backend", "operation"},
)

var storedTemplates = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: prefix + "templates_stored",
		Help: "Number of templates in the store at the last health check",
	},
)

var storeUp = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: prefix + "template_store_up",
		Help: "1 if the last store health check succeeded, 0 otherwise",
	},
)

var artifactSearches = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "artifact_searches_total",
		Help: "Artifact searches by outcome",
	},
	[]string{"outcome"},
)

var artifactSearchDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Name:    prefix + "artifact_search_duration_seconds",
		Help:    "Latency of the token exchange plus search against the artifact repository",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	},
)

var autoSaves = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "autosaves_total",
		Help: "Debounced template auto-saves by outcome",
	},
	[]string{"outcome"},
)

var activeSessions = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: prefix + "sessions_active",
		Help: "Open configurator sessions",
	},
)

var payloadExports = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "payload_exports_total",
		Help: "Generated payload documents by destination",
	},
	[]string{"destination"},
)

var httpRequests = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "http_requests_total",
		Help: "HTTP requests by method, route and status code",
	},
	[]string{"method", "route", "status"},
)

var httpRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    prefix + "http_request_duration_seconds",
		Help:    "HTTP request latency by method and route",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"method", "route"},
)

func outcome(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}

func RecordStoreOperation(backend, operation string, duration time.Duration, err error) {
	storeOperations.WithLabelValues(backend, operation, outcome(err)).Inc()
	storeOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

func RecordStoreHealth(up bool, templates int) {
	if !up {
		storeUp.Set(0)
		return
	}
	storeUp.Set(1)
	storedTemplates.Set(float64(templates))
}

func RecordArtifactSearch(duration time.Duration, err error) {
	artifactSearches.WithLabelValues(outcome(err)).Inc()
	artifactSearchDuration.Observe(duration.Seconds())
}

func RecordAutoSave(outcome string) {
	autoSaves.WithLabelValues(outcome).Inc()
}

func SetActiveSessions(n int) {
	activeSessions.Set(float64(n))
}

func RecordExport(destination string) {
	payloadExports.WithLabelValues(destination).Inc()
}

func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
