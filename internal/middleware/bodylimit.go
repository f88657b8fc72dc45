package middleware

import (
	"net/http"

	"github.com/praciller/listing-assistant/internal/apierror"
)

// BodyLimit returns middleware that limits the size of request bodies.
// Requests exceeding maxBytes receive a 413 Request Entity Too Large
// response. Content-Length is checked upfront for an early reject; the
// body is also wrapped with http.MaxBytesReader as a safety net for
// chunked uploads.
func BodyLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				WriteBodyLimitError(w, r)
				return
			}
			if r.Body != nil && r.ContentLength != 0 {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WriteBodyLimitError writes a 413 JSON error response. Also called by
// handlers that detect a MaxBytesReader error mid-read.
func WriteBodyLimitError(w http.ResponseWriter, r *http.Request) {
	apierror.WriteJSON(w, r, http.StatusRequestEntityTooLarge, apierror.BodyTooLarge,
		"request body exceeds maximum allowed size")
}
