package analysis

import (
	"errors"
	"fmt"
	"time"

	"github.com/praciller/listing-assistant/internal/circuitbreaker"
	"github.com/praciller/listing-assistant/internal/provider"
)

// Kind classifies an analysis failure. The HTTP layer maps kinds onto status
// codes; the kinds are also the "outcome" label on analysis metrics.
type Kind string

const (
	// KindValidation is a caller fault. Never retried, never counted
	// against the circuit breaker.
	KindValidation Kind = "validation"
	// KindCircuitOpen means the breaker rejected the invocation. Not
	// itself counted as a new failure.
	KindCircuitOpen Kind = "circuit_open"
	// KindBusy means the local concurrency cap rejected the invocation
	// before any provider call. Not counted against the breaker.
	KindBusy Kind = "busy"
	// KindTransient is a connection/timeout/quota-class provider failure
	// that survived the retry budget. Counts as one breaker failure.
	KindTransient Kind = "provider_transient"
	// KindPermanent is a malformed or rejected provider response. Surfaces
	// immediately without retries; counts as one breaker failure.
	KindPermanent Kind = "provider_permanent"
	// KindUnknown is anything uncategorized, treated conservatively as
	// non-retryable. Counts as one breaker failure.
	KindUnknown Kind = "unknown"
)

// Error is the classified failure returned by Service.Analyze.
type Error struct {
	Kind        Kind
	Message     string
	RateLimited bool          // transient failures caused by provider rate/quota limits
	RetryAfter  time.Duration // remaining breaker cooldown for KindCircuitOpen
	err         error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("analysis failed (%s): %s: %v", e.Kind, e.Message, e.err)
	}
	return fmt.Sprintf("analysis failed (%s): %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.err }

func validationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// classify maps an error from the breaker/retry/provider pipeline onto the
// failure taxonomy.
func classify(err error) *Error {
	var oe *circuitbreaker.OpenError
	if errors.As(err, &oe) {
		return &Error{
			Kind:       KindCircuitOpen,
			Message:    oe.Error(),
			RetryAfter: oe.RetryAfter,
			err:        err,
		}
	}

	var ce *provider.CallError
	if errors.As(err, &ce) {
		switch {
		case ce.Transient():
			return &Error{
				Kind:        KindTransient,
				Message:     ce.Message,
				RateLimited: ce.Class == provider.FailureRateLimited,
				err:         err,
			}
		default:
			return &Error{Kind: KindPermanent, Message: ce.Message, err: err}
		}
	}

	return &Error{Kind: KindUnknown, Message: err.Error(), err: err}
}
