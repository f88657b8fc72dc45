// Package apierror provides a centralized error response format for the
// listing assistant API. All handlers use WriteJSON to produce consistent,
// machine-readable error responses with stable error codes.
package apierror

import (
	"encoding/json"
	"net/http"
)

// ErrorCode is a machine-readable error classification string.
type ErrorCode string

// Service error codes. These form a public API contract — clients can program
// against these stable codes. Do not rename or remove existing codes.
const (
	ValidationFailed    ErrorCode = "LISTING_VALIDATION_FAILED"
	CircuitOpen         ErrorCode = "LISTING_CIRCUIT_OPEN"
	ProviderRateLimited ErrorCode = "LISTING_PROVIDER_RATE_LIMITED"
	AnalysisFailed      ErrorCode = "LISTING_ANALYSIS_FAILED"
	MethodNotAllowed    ErrorCode = "LISTING_METHOD_NOT_ALLOWED"
	NotFound            ErrorCode = "LISTING_NOT_FOUND"
	RateLimitExceeded   ErrorCode = "LISTING_RATE_LIMIT_EXCEEDED"
	AuthMissingToken    ErrorCode = "LISTING_AUTH_MISSING_TOKEN"
	AuthInvalidToken    ErrorCode = "LISTING_AUTH_INVALID_TOKEN"
	InternalError       ErrorCode = "LISTING_INTERNAL_ERROR"
	BodyTooLarge        ErrorCode = "LISTING_BODY_TOO_LARGE"
	DeadlineExceeded    ErrorCode = "LISTING_DEADLINE_EXCEEDED"
)

// ErrorResponse is the standardized error body. Success is always false and
// mirrors the top-level shape of successful analysis responses, so frontends
// can branch on a single field.
type ErrorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// Pre-serialized JSON bodies for the most common error responses.
// Avoids json.Encoder allocation on every error in the hot path.
// These do NOT include request_id since it varies per request.
var (
	preCircuitOpen       = mustMarshal(http.StatusServiceUnavailable, CircuitOpen, "analysis temporarily unavailable, circuit breaker open")
	preRateLimitExceeded = mustMarshal(http.StatusTooManyRequests, RateLimitExceeded, "rate limit exceeded, retry later")
	preAuthMissingToken  = mustMarshal(http.StatusUnauthorized, AuthMissingToken, "missing or malformed Authorization header")
	preNotFound          = mustMarshal(http.StatusNotFound, NotFound, "no such endpoint")
)

func mustMarshal(status int, code ErrorCode, message string) []byte {
	b, _ := json.Marshal(ErrorResponse{
		Error:     http.StatusText(status),
		ErrorCode: string(code),
		Message:   message,
	})
	return append(b, '\n')
}

// WriteJSON writes a structured JSON error response. For common error
// code+message combinations, pre-serialized bodies are used (no allocation).
// When request_id is available (from X-Request-ID header), it is included in
// the response. The request parameter may be nil for contexts where the
// request is not available.
func WriteJSON(w http.ResponseWriter, r *http.Request, status int, code ErrorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	requestID := ""
	if r != nil {
		requestID = r.Header.Get("X-Request-ID")
	}

	if requestID == "" {
		if body := preSerialized(status, code, message); body != nil {
			w.Write(body) //nolint:errcheck
			return
		}
	}

	json.NewEncoder(w).Encode(ErrorResponse{
		Error:     http.StatusText(status),
		ErrorCode: string(code),
		Message:   message,
		RequestID: requestID,
	})
}

// preSerialized returns a pre-built response body for common error
// combinations, or nil if no match.
func preSerialized(status int, code ErrorCode, message string) []byte {
	switch {
	case code == CircuitOpen && status == http.StatusServiceUnavailable && message == "analysis temporarily unavailable, circuit breaker open":
		return preCircuitOpen
	case code == RateLimitExceeded && status == http.StatusTooManyRequests && message == "rate limit exceeded, retry later":
		return preRateLimitExceeded
	case code == AuthMissingToken && status == http.StatusUnauthorized && message == "missing or malformed Authorization header":
		return preAuthMissingToken
	case code == NotFound && status == http.StatusNotFound && message == "no such endpoint":
		return preNotFound
	}
	return nil
}
