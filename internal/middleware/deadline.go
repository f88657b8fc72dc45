package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/praciller/listing-assistant/internal/apierror"
)

// Deadline returns middleware that applies a global request deadline to the
// entire chain. If the deadline fires before the handler completes, a 504
// Gateway Timeout is returned. Pass 0 to disable. The deadline must exceed
// the worst-case retry/backoff budget of an analysis call or every slow
// provider episode turns into a 504.
func Deadline(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if timeout <= 0 {
			return next // disabled
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			done := make(chan struct{})
			tw := &deadlineWriter{ResponseWriter: w}

			go func() {
				next.ServeHTTP(tw, r.WithContext(ctx))
				close(done)
			}()

			select {
			case <-done:
				// Handler completed before deadline.
			case <-ctx.Done():
				// Only write 504 if the handler hasn't started writing.
				if tw.tryClaimWrite() {
					apierror.WriteJSON(w, r, http.StatusGatewayTimeout, apierror.DeadlineExceeded,
						"request deadline exceeded")
				}
				// Wait for the handler goroutine to finish to avoid leaks.
				<-done
			}
		})
	}
}

// deadlineWriter tracks whether any bytes have been written so the timeout
// path never stomps a response that already started.
type deadlineWriter struct {
	http.ResponseWriter
	claimed bool
}

func (dw *deadlineWriter) tryClaimWrite() bool {
	if dw.claimed {
		return false
	}
	dw.claimed = true
	return true
}

func (dw *deadlineWriter) WriteHeader(code int) {
	dw.claimed = true
	dw.ResponseWriter.WriteHeader(code)
}

func (dw *deadlineWriter) Write(b []byte) (int, error) {
	dw.claimed = true
	return dw.ResponseWriter.Write(b)
}
