// Package admin provides operator endpoints for runtime inspection of the
// circuit breaker and active configuration. All endpoints are protected by
// IP allowlist.
package admin

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"

	"github.com/praciller/listing-assistant/internal/circuitbreaker"
	"github.com/praciller/listing-assistant/internal/config"
)

// Breaker is the subset of the analysis service the admin API needs.
type Breaker interface {
	BreakerStatus() circuitbreaker.Status
	ResetBreaker()
}

// ConfigProvider abstracts config access for testability.
type ConfigProvider interface {
	Current() *config.Config
}

// Handler provides the admin API endpoints.
type Handler struct {
	reloader    ConfigProvider
	breaker     Breaker
	provider    string
	allowedNets []*net.IPNet
	logger      *slog.Logger
}

// New creates an admin Handler. The allowlist CIDRs must be pre-validated
// (config validation ensures this).
func New(reloader ConfigProvider, breaker Breaker, provider string, allowlist []string, logger *slog.Logger) *Handler {
	nets := make([]*net.IPNet, 0, len(allowlist))
	for _, cidr := range allowlist {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue // already validated by config
		}
		nets = append(nets, ipNet)
	}
	return &Handler{
		reloader:    reloader,
		breaker:     breaker,
		provider:    provider,
		allowedNets: nets,
		logger:      logger,
	}
}

// RegisterRoutes adds admin routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/admin/breaker", h.guard(http.MethodGet, h.breakerHandler))
	mux.HandleFunc("/admin/breaker/reset", h.guard(http.MethodPost, h.resetHandler))
	mux.HandleFunc("/admin/config", h.guard(http.MethodGet, h.configHandler))
}

// guard wraps a handler with method and IP allowlist checking.
func (h *Handler) guard(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{
				"error": "Method Not Allowed",
			})
			return
		}

		ip := extractIP(r.RemoteAddr)
		if !h.isAllowed(ip) {
			h.logger.Warn("admin access denied", "client_ip", ip, "path", r.URL.Path)
			writeJSON(w, http.StatusForbidden, map[string]string{
				"error": "Forbidden",
			})
			return
		}
		next(w, r)
	}
}

func (h *Handler) isAllowed(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, n := range h.allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func extractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// breakerStatus is the response type for /admin/breaker.
type breakerStatus struct {
	Provider       string `json:"provider"`
	State          string `json:"state"`
	FailureCount   int    `json:"failure_count"`
	Threshold      int    `json:"threshold"`
	TimeUntilRetry string `json:"time_until_retry,omitempty"`
}

func (h *Handler) breakerHandler(w http.ResponseWriter, r *http.Request) {
	st := h.breaker.BreakerStatus()

	resp := breakerStatus{
		Provider:     h.provider,
		State:        st.State.String(),
		FailureCount: st.FailureCount,
		Threshold:    st.Threshold,
	}
	if st.TimeUntilRetry > 0 {
		resp.TimeUntilRetry = st.TimeUntilRetry.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) resetHandler(w http.ResponseWriter, r *http.Request) {
	h.breaker.ResetBreaker()
	h.logger.Info("circuit breaker reset by operator",
		"provider", h.provider,
		"client_ip", extractIP(r.RemoteAddr),
	)
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "reset",
		"state":  h.breaker.BreakerStatus().State.String(),
	})
}

func (h *Handler) configHandler(w http.ResponseWriter, r *http.Request) {
	cfg := h.reloader.Current()

	// Shallow copy and redact secrets. The api_key field is already
	// excluded from JSON serialization by its struct tag.
	redacted := *cfg
	if redacted.Auth.JWTSecret != "" {
		redacted.Auth.JWTSecret = "***"
	}

	writeJSON(w, http.StatusOK, redacted)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
