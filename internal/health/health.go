// Package health provides liveness and readiness probe HTTP handlers.
package health

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/praciller/listing-assistant/internal/circuitbreaker"
)

// Pre-serialized liveness response avoids json.Encoder allocation.
var livenessBody = []byte(`{"status":"ok"}` + "\n")

// Handler provides /healthz and /readyz endpoints. Readiness reflects the
// provider circuit breaker: an open circuit means the service cannot do its
// one job, so load balancers should drain it until the cooldown elapses.
type Handler struct {
	provider string
	status   func() circuitbreaker.Status
	logger   *slog.Logger
}

// New creates a health check Handler. status returns the current breaker
// snapshot for the named provider.
func New(provider string, status func() circuitbreaker.Status, logger *slog.Logger) *Handler {
	return &Handler{provider: provider, status: status, logger: logger}
}

// RegisterRoutes adds the probe routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.liveness)
	mux.HandleFunc("/readyz", h.readiness)
}

func (h *Handler) liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(livenessBody)
}

func (h *Handler) readiness(w http.ResponseWriter, r *http.Request) {
	st := h.status()

	httpStatus := http.StatusOK
	statusStr := "ready"
	if st.State == circuitbreaker.StateOpen {
		httpStatus = http.StatusServiceUnavailable
		statusStr = "not ready"
		h.logger.Warn("readiness degraded, circuit breaker open",
			"provider", h.provider,
			"retry_in", st.TimeUntilRetry,
		)
	}

	body, _ := json.Marshal(map[string]interface{}{
		"status": statusStr,
		"provider": map[string]interface{}{
			"name":          h.provider,
			"breaker_state": st.State.String(),
			"failure_count": st.FailureCount,
			"retry_in_ms":   st.TimeUntilRetry.Milliseconds(),
		},
	})
	body = append(body, '\n')

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	w.Write(body)
}
