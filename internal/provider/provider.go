// Package provider defines the remote content-generation collaborator and
// its Gemini implementation. The resilience layer treats a provider as an
// opaque fallible call: bytes plus parameters in, a structured listing or a
// classified error out. Providers carry no retry or backoff logic of their
// own; that policy lives entirely in the caller.
package provider

import "context"

// Listing is the structured result of a product image analysis.
type Listing struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// Provider is a remote generative-vision backend.
type Provider interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// Analyze generates listing content for a product image in the given
	// language. Failures are *CallError values classified for the
	// resilience layer.
	Analyze(ctx context.Context, image []byte, language string) (*Listing, error)
}
