package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCollectorsAreGatherable(t *testing.T) {
	// Use a custom registry to avoid duplicate-registration panics across tests.
	reg := prometheus.NewRegistry()
	reg.MustRegister(
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

	RequestsTotal.WithLabelValues("/v1/listings", "POST", "200").Inc()
	AnalysisTotal.WithLabelValues("en", "success").Inc()
	CircuitBreakerState.WithLabelValues("gemini").Set(1)
	CircuitBreakerStateChanges.WithLabelValues("gemini", "closed", "open").Inc()
	RetryTotal.WithLabelValues("gemini").Inc()
	ProviderErrors.WithLabelValues("gemini", "timeout").Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected at least one metric family")
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"listing_requests_total",
		"listing_analysis_total",
		"listing_circuit_breaker_state",
		"listing_circuit_breaker_state_changes_total",
		"listing_retries_total",
		"listing_provider_errors_total",
	} {
		if !names[want] {
			t.Errorf("metric family %q not gathered", want)
		}
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	// The default registry always exposes Go runtime metrics.
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("expected go runtime metrics in scrape output")
	}
}
