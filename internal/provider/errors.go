package provider

import (
	"errors"
	"fmt"
)

// FailureClass categorizes a provider call failure. The class determines
// whether the resilience layer retries the call.
type FailureClass string

const (
	// FailureConnection covers network-level failures reaching the provider.
	FailureConnection FailureClass = "connection"
	// FailureTimeout covers request deadlines and provider timeouts.
	FailureTimeout FailureClass = "timeout"
	// FailureRateLimited covers HTTP 429 and quota-exhaustion responses.
	FailureRateLimited FailureClass = "rate_limited"
	// FailureOverloaded covers provider-side 5xx responses.
	FailureOverloaded FailureClass = "overloaded"
	// FailureAPI covers non-retryable API rejections (bad key, bad request).
	FailureAPI FailureClass = "api"
	// FailureMalformed covers unparseable or schema-violating provider output.
	FailureMalformed FailureClass = "malformed"
)

// CallError is the single error type produced by provider calls.
type CallError struct {
	Class   FailureClass
	Status  int // HTTP status when applicable, else 0
	Message string
	Err     error // underlying cause, may be nil
}

func (e *CallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s failure: %s: %v", e.Class, e.Message, e.Err)
	}
	return fmt.Sprintf("provider %s failure: %s", e.Class, e.Message)
}

func (e *CallError) Unwrap() error { return e.Err }

// Transient reports whether the failure is expected to self-resolve shortly
// and is therefore eligible for retry. Malformed output and outright API
// rejections will not improve on immediate retry.
func (e *CallError) Transient() bool {
	switch e.Class {
	case FailureConnection, FailureTimeout, FailureRateLimited, FailureOverloaded:
		return true
	default:
		return false
	}
}

// Transient reports whether err is a transient provider failure.
func Transient(err error) bool {
	var ce *CallError
	return errors.As(err, &ce) && ce.Transient()
}

// RateLimited reports whether err is a provider rate/quota rejection.
func RateLimited(err error) bool {
	var ce *CallError
	return errors.As(err, &ce) && ce.Class == FailureRateLimited
}
