// Package circuitbreaker provides a consecutive-failure circuit breaker that
// shields the service from a failing analysis provider. After a configured
// number of consecutive failures the breaker opens and rejects calls until a
// cooldown elapses, bounding tail latency during provider outages.
package circuitbreaker

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/praciller/listing-assistant/internal/metrics"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal operation; calls pass through.
	StateOpen                  // Failing; calls are rejected immediately.
	StateHalfOpen              // Probing; calls allowed to test recovery.
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// OpenError is returned by Admit when the circuit is open. RetryAfter is the
// remaining cooldown before the breaker will allow a probe.
type OpenError struct {
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker is open, retry in %s", e.RetryAfter.Round(time.Millisecond))
}

// Status is a read-only snapshot of the breaker.
type Status struct {
	State          State
	FailureCount   int
	Threshold      int
	TimeUntilRetry time.Duration
}

// Breaker counts consecutive failures and opens once the threshold is
// reached. Counting is deliberately not windowed: a single success fully
// resets the counter, which is the right trade-off for bursty outages.
//
// There is no background timer. The Open → HalfOpen transition is evaluated
// lazily on the next Admit call, so an idle breaker can stay Open
// indefinitely without harm. All state is guarded by a single mutex; the
// caller must never hold Admit's result across backoff sleeps.
type Breaker struct {
	mu sync.Mutex

	state       State
	failures    int
	lastFailure time.Time
	threshold   int
	openTimeout time.Duration
	provider    string
	logger      *slog.Logger
	now         func() time.Time
}

// New creates a breaker for the named provider. threshold is the number of
// consecutive failures that opens the circuit; openTimeout is the cooldown
// before a probe is allowed. now is the clock used for cooldown arithmetic;
// pass nil for time.Now (tests inject a fake clock).
func New(provider string, threshold int, openTimeout time.Duration, now func() time.Time, logger *slog.Logger) *Breaker {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{
		state:       StateClosed,
		threshold:   threshold,
		openTimeout: openTimeout,
		provider:    provider,
		logger:      logger,
		now:         now,
	}
}

// Admit reports whether a logical invocation may proceed. It is called once
// per invocation, not once per retry attempt: all retries within one
// invocation share a single admission decision.
//
// When the circuit is Open and the cooldown has elapsed, the breaker moves to
// HalfOpen and the call is admitted as a probe. Concurrent probes are not
// bounded; see the package tests for the accepted looseness.
func (b *Breaker) Admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		elapsed := b.now().Sub(b.lastFailure)
		if elapsed >= b.openTimeout {
			b.transitionTo(StateHalfOpen)
			return nil
		}
		return &OpenError{RetryAfter: b.openTimeout - elapsed}
	case StateHalfOpen:
		return nil
	default:
		return nil
	}
}

// RecordSuccess resets the consecutive-failure count and closes the circuit.
// Idempotent.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.transitionTo(StateClosed)
}

// RecordFailure increments the consecutive-failure count and stamps the
// failure time. Once the threshold is reached the circuit opens, regardless
// of the prior state — a failure in HalfOpen is a failed probe and reopens
// the circuit immediately (the count never dropped below the threshold).
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()
	if b.failures >= b.threshold {
		b.transitionTo(StateOpen)
	}
}

// Reset is the operator override: it unconditionally closes the circuit and
// clears all failure bookkeeping, independent of the cooldown.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.lastFailure = time.Time{}
	b.transitionTo(StateClosed)
}

// Current returns the breaker state without evaluating the lazy Open →
// HalfOpen transition.
func (b *Breaker) Current() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Status returns a read-only snapshot. TimeUntilRetry is the remaining
// cooldown when Open, clamped at zero, and zero in all other states.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	var remaining time.Duration
	if b.state == StateOpen {
		remaining = b.openTimeout - b.now().Sub(b.lastFailure)
		if remaining < 0 {
			remaining = 0
		}
	}
	return Status{
		State:          b.state,
		FailureCount:   b.failures,
		Threshold:      b.threshold,
		TimeUntilRetry: remaining,
	}
}

// transitionTo changes the breaker state, emitting metrics and logging.
// Must be called with b.mu held.
func (b *Breaker) transitionTo(newState State) {
	if b.state == newState {
		return
	}

	from := b.state
	b.state = newState

	metrics.CircuitBreakerStateChanges.WithLabelValues(b.provider, from.String(), newState.String()).Inc()
	metrics.CircuitBreakerState.WithLabelValues(b.provider).Set(float64(newState))

	b.logger.Info("circuit breaker state change",
		"provider", b.provider,
		"from", from.String(),
		"to", newState.String(),
		"failures", b.failures,
	)
}
