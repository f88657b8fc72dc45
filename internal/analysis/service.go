// Package analysis composes the resilience layer around the content
// generation provider: input validation, circuit breaker admission, and a
// bounded retry loop. One Service instance is shared by all inbound
// requests; the breaker state inside it is the only cross-request mutable
// state in the process.
package analysis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/praciller/listing-assistant/internal/circuitbreaker"
	"github.com/praciller/listing-assistant/internal/metrics"
	"github.com/praciller/listing-assistant/internal/provider"
	"github.com/praciller/listing-assistant/internal/retry"
)

// DefaultMaxImageBytes caps uploaded product images at 10 MiB.
const DefaultMaxImageBytes = 10 << 20

// Config holds the validation and concurrency settings for the Service.
type Config struct {
	// MaxImageBytes rejects images larger than this. Default: 10 MiB.
	MaxImageBytes int64

	// Languages is the allowed language set, code → display name.
	// Default: provider.LanguageNames.
	Languages map[string]string

	// MaxConcurrent caps in-flight provider calls. 0 disables the cap.
	MaxConcurrent int
}

// Service is the resilience façade in front of the provider. The invocation
// pipeline is: validate → breaker admission → retry loop → provider call,
// with the outcome recorded back into the breaker.
type Service struct {
	provider  provider.Provider
	breaker   *circuitbreaker.Breaker
	retry     *retry.Policy
	bulkhead  *circuitbreaker.Bulkhead
	maxImage  int64
	languages map[string]string
	logger    *slog.Logger
}

// New creates the analysis service. breaker and policy are constructed by
// the caller so their configuration stays an explicit, immutable record —
// the algorithms here never consult ambient configuration.
func New(p provider.Provider, breaker *circuitbreaker.Breaker, policy *retry.Policy, cfg Config, logger *slog.Logger) *Service {
	maxImage := cfg.MaxImageBytes
	if maxImage <= 0 {
		maxImage = DefaultMaxImageBytes
	}
	languages := cfg.Languages
	if len(languages) == 0 {
		languages = provider.LanguageNames
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		provider:  p,
		breaker:   breaker,
		retry:     policy,
		bulkhead:  circuitbreaker.NewBulkhead(cfg.MaxConcurrent),
		maxImage:  maxImage,
		languages: languages,
		logger:    logger,
	}
}

// Analyze runs one logical invocation against the provider. The breaker is
// consulted exactly once per invocation — all retry attempts inside share
// that single admission decision. Validation failures never touch breaker
// statistics; they are caller faults, not provider unreliability.
func (s *Service) Analyze(ctx context.Context, image []byte, language string) (*provider.Listing, error) {
	start := time.Now()

	if err := s.validate(image, language); err != nil {
		metrics.AnalysisTotal.WithLabelValues(language, string(KindValidation)).Inc()
		return nil, err
	}

	if err := s.breaker.Admit(); err != nil {
		aerr := classify(err)
		metrics.AnalysisTotal.WithLabelValues(language, string(aerr.Kind)).Inc()
		s.logger.Warn("invocation rejected, circuit open",
			"provider", s.provider.Name(),
			"retry_after", aerr.RetryAfter,
		)
		return nil, aerr
	}

	if !s.bulkhead.Acquire() {
		// Local overload guard, not a provider failure: nothing is
		// recorded against the breaker.
		metrics.AnalysisTotal.WithLabelValues(language, string(KindBusy)).Inc()
		return nil, &Error{Kind: KindBusy, Message: "too many concurrent analyses in flight"}
	}
	defer s.bulkhead.Release()

	var listing *provider.Listing
	op := func(ctx context.Context) error {
		result, err := s.provider.Analyze(ctx, image, language)
		if err != nil {
			var ce *provider.CallError
			if errors.As(err, &ce) {
				metrics.ProviderErrors.WithLabelValues(s.provider.Name(), string(ce.Class)).Inc()
			}
			return err
		}
		listing = result
		return nil
	}

	err := s.retry.Do(ctx, op, provider.Transient)
	metrics.AnalysisDuration.Observe(time.Since(start).Seconds())

	if err == nil {
		s.breaker.RecordSuccess()
		metrics.AnalysisTotal.WithLabelValues(language, "success").Inc()
		s.logger.Info("product analysis completed",
			"provider", s.provider.Name(),
			"language", language,
			"duration", time.Since(start),
		)
		return listing, nil
	}

	s.breaker.RecordFailure()
	aerr := classify(err)
	metrics.AnalysisTotal.WithLabelValues(language, string(aerr.Kind)).Inc()
	s.logger.Error("product analysis failed",
		"provider", s.provider.Name(),
		"language", language,
		"kind", string(aerr.Kind),
		"error", err,
		"failures", s.breaker.Status().FailureCount,
	)
	return nil, aerr
}

// BreakerStatus mirrors the circuit breaker's read-only snapshot for the
// admin and health surfaces.
func (s *Service) BreakerStatus() circuitbreaker.Status {
	return s.breaker.Status()
}

// ResetBreaker is the operator recovery action, distinct from the automatic
// cooldown-based half-open transition.
func (s *Service) ResetBreaker() {
	s.logger.Info("circuit breaker manually reset", "provider", s.provider.Name())
	s.breaker.Reset()
}

// Languages returns the allowed language set (code → display name) for
// caller-side pre-validation.
func (s *Service) Languages() map[string]string {
	out := make(map[string]string, len(s.languages))
	for code, name := range s.languages {
		out[code] = name
	}
	return out
}

// ValidLanguage reports whether code is in the allowed language set.
func (s *Service) ValidLanguage(code string) bool {
	_, ok := s.languages[code]
	return ok
}
