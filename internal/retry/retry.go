// Package retry provides bounded retries with exponential backoff for calls
// to the analysis provider. Only errors the caller designates as transient
// are retried; everything else propagates immediately.
package retry

import (
	"context"
	"time"
)

// Config configures the retry policy.
type Config struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	// Default: 3
	MaxAttempts int

	// BaseWait is the backoff before the first retry. The wait doubles on
	// each subsequent retry. Default: 4s
	BaseWait time.Duration

	// MaxWait caps the backoff between attempts. Default: 10s
	MaxWait time.Duration

	// OnRetry is called before each backoff wait with the 1-based index of
	// the attempt that just failed, its error, and the upcoming wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Policy executes operations with bounded retries and exponential backoff.
type Policy struct {
	config Config

	// sleep waits for the backoff duration or context cancellation.
	// Overridable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a retry policy, applying defaults for unset config fields.
func New(config Config) *Policy {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.BaseWait <= 0 {
		config.BaseWait = 4 * time.Second
	}
	if config.MaxWait <= 0 {
		config.MaxWait = 10 * time.Second
	}
	return &Policy{config: config, sleep: sleepCtx}
}

// Do runs op up to MaxAttempts times. After a failed attempt, op is retried
// only when retryable(err) reports true; a non-retryable error is returned
// immediately without consuming further attempts. The backoff wait occurs
// only before a retried attempt, never after the final one.
//
// When every attempt fails with a retryable error, the last such error is
// returned as-is — callers see the underlying failure, not a synthetic
// "retries exhausted" wrapper.
func (p *Policy) Do(ctx context.Context, op func(context.Context) error, retryable func(error) bool) error {
	var lastErr error

	for attempt := 1; attempt <= p.config.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt >= p.config.MaxAttempts {
			break
		}

		wait := p.backoff(attempt)
		if p.config.OnRetry != nil {
			p.config.OnRetry(attempt, err, wait)
		}
		if err := p.sleep(ctx, wait); err != nil {
			return err
		}
	}

	return lastErr
}

// backoff returns the wait before retrying after the given 1-based failed
// attempt: min(MaxWait, BaseWait * 2^(attempt-1)).
func (p *Policy) backoff(attempt int) time.Duration {
	wait := p.config.BaseWait
	for i := 1; i < attempt; i++ {
		wait *= 2
		if wait >= p.config.MaxWait {
			return p.config.MaxWait
		}
	}
	if wait > p.config.MaxWait {
		return p.config.MaxWait
	}
	return wait
}

// Config returns the policy configuration with defaults applied.
func (p *Policy) Config() Config {
	return p.config
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
