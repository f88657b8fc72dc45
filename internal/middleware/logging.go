package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/praciller/listing-assistant/internal/metrics"
)

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

// Logging returns middleware that logs each request as structured JSON
// including method, path, status code, latency, and client IP, and records
// the per-endpoint Prometheus request metrics.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			metrics.ActiveRequests.Inc()
			defer metrics.ActiveRequests.Dec()

			recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(recorder, r)

			elapsed := time.Since(start)
			endpoint := normalizeEndpoint(r.URL.Path)

			metrics.RequestsTotal.WithLabelValues(endpoint, r.Method, strconv.Itoa(recorder.statusCode)).Inc()
			metrics.RequestDuration.WithLabelValues(endpoint, r.Method).Observe(elapsed.Seconds())

			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", recorder.statusCode,
				"latency_ms", elapsed.Milliseconds(),
				"client_ip", r.RemoteAddr,
				"request_id", GetRequestID(r.Context()),
			)
		})
	}
}

// normalizeEndpoint collapses unknown paths into a single label value to
// keep metric cardinality bounded against path scanning.
func normalizeEndpoint(path string) string {
	switch {
	case path == "/v1/listings",
		path == "/v1/languages",
		path == "/healthz",
		path == "/readyz",
		path == "/metrics":
		return path
	case strings.HasPrefix(path, "/admin/"):
		return "/admin"
	default:
		return "other"
	}
}
