// Package metrics provides Prometheus instrumentation for the listing
// assistant. All metric collectors are registered via the Init function and
// exposed through the Handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts total requests by endpoint, method, and HTTP status code.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listing_requests_total",
			Help: "Total HTTP requests processed",
		},
		[]string{"endpoint", "method", "status"},
	)

	// RequestDuration observes request latency in seconds by endpoint and method.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "listing_request_duration_seconds",
			Help:    "Request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	// ActiveRequests tracks the number of in-flight requests.
	ActiveRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "listing_active_requests",
			Help: "Number of in-flight requests currently being processed",
		},
	)

	// AnalysisTotal counts analysis invocations by language and outcome. The
	// outcome label carries the failure classification ("success",
	// "validation", "circuit_open", "provider_transient",
	// "provider_permanent", "unknown").
	AnalysisTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listing_analysis_total",
			Help: "Total product analysis invocations by outcome",
		},
		[]string{"language", "outcome"},
	)

	// AnalysisDuration observes end-to-end analysis latency in seconds,
	// including retries and backoff waits.
	AnalysisDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "listing_analysis_duration_seconds",
			Help:    "End-to-end analysis latency in seconds including retries",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60},
		},
	)

	// CircuitBreakerState exposes the current breaker state per provider
	// (0=closed, 1=open, 2=half-open).
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "listing_circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"provider"},
	)

	// CircuitBreakerStateChanges counts breaker transitions by provider and edge.
	CircuitBreakerStateChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listing_circuit_breaker_state_changes_total",
			Help: "Total circuit breaker state transitions",
		},
		[]string{"provider", "from", "to"},
	)

	// RetryTotal counts retry attempts (not first attempts) by provider.
	RetryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listing_retries_total",
			Help: "Total retry attempts against the provider",
		},
		[]string{"provider"},
	)

	// ProviderErrors counts provider call failures by provider and failure class.
	ProviderErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listing_provider_errors_total",
			Help: "Total provider call failures by class",
		},
		[]string{"provider", "class"},
	)

	// RateLimitHits counts inbound rate limit rejections.
	RateLimitHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "listing_rate_limit_hits_total",
			Help: "Total inbound rate limit rejections",
		},
	)

	// AuthFailures counts authentication failures by reason.
	AuthFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listing_auth_failures_total",
			Help: "Total authentication failures",
		},
		[]string{"reason"},
	)
)

// Init registers all metric collectors with the default Prometheus registry.
// Must be called once at startup before handling requests.
func Init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		ActiveRequests,
		AnalysisTotal,
		AnalysisDuration,
		CircuitBreakerState,
		CircuitBreakerStateChanges,
		RetryTotal,
		ProviderErrors,
		RateLimitHits,
		AuthFailures,
	)
}

// Handler returns an http.Handler that serves the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
