// Package config provides YAML configuration loading with validation and
// environment variable substitution for the listing assistant.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/praciller/listing-assistant/internal/provider"
)

// Config is the top-level service configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" json:"server"`
	Metrics    MetricsConfig    `yaml:"metrics" json:"metrics"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit" json:"rate_limit"`
	Auth       AuthConfig       `yaml:"auth" json:"auth"`
	Admin      AdminConfig      `yaml:"admin" json:"admin"`
	Resilience ResilienceConfig `yaml:"resilience" json:"resilience"`
	Analysis   AnalysisConfig   `yaml:"analysis" json:"analysis"`
	Provider   ProviderConfig   `yaml:"provider" json:"provider"`

	// Warnings holds non-fatal config issues detected during loading.
	// Stored on the Config itself (not a package-level var) so it is
	// safe to call Load concurrently from the hot-reload goroutine.
	Warnings []string `yaml:"-" json:"-"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" json:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	TrustedProxies  []string      `yaml:"trusted_proxies" json:"trusted_proxies"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" json:"max_body_bytes"`
	GlobalTimeoutMs int           `yaml:"global_timeout_ms" json:"global_timeout_ms"`
	TLS             TLSConfig     `yaml:"tls" json:"tls"`
}

// GlobalTimeout returns the global request deadline as a time.Duration.
// Returns 0 (disabled) when GlobalTimeoutMs is not set.
func (s ServerConfig) GlobalTimeout() time.Duration {
	if s.GlobalTimeoutMs <= 0 {
		return 0
	}
	return time.Duration(s.GlobalTimeoutMs) * time.Millisecond
}

// TLSConfig holds TLS termination settings.
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	CertFile   string `yaml:"cert_file" json:"cert_file"`
	KeyFile    string `yaml:"key_file" json:"key_file"`
	MinVersion string `yaml:"min_version" json:"min_version"` // "1.2" or "1.3"; default: "1.2"
}

// MetricsConfig holds Prometheus metrics endpoint settings.
// Enabled defaults to true; set to false to disable metrics.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// IsEnabled returns whether metrics are enabled (defaults to true).
func (m MetricsConfig) IsEnabled() bool {
	if m.Enabled == nil {
		return true
	}
	return *m.Enabled
}

// LoggingConfig holds log output, format, and rotation settings.
type LoggingConfig struct {
	Output     string `yaml:"output" json:"output"`           // "stdout", "stderr", or file path; default: "stdout"
	Format     string `yaml:"format" json:"format"`           // "json" or "text"; default: "json"
	Level      string `yaml:"level" json:"level"`             // "debug", "info", "warn", "error"; default: "info"
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"` // max log file size before rotation; default: 100
	MaxBackups int    `yaml:"max_backups" json:"max_backups"` // number of rotated files to keep; default: 3
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"` // max days to retain rotated files; default: 30
}

// RateLimitConfig holds the inbound per-client rate limiter settings.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" json:"burst_size"`
}

// AuthConfig holds JWT authentication settings for the /v1 API.
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	JWTSecret string `yaml:"jwt_secret" json:"jwt_secret"`
	Issuer    string `yaml:"issuer" json:"issuer"`
	Audience  string `yaml:"audience" json:"audience"`
}

// AdminConfig holds admin API settings.
type AdminConfig struct {
	Enabled     bool     `yaml:"enabled" json:"enabled"`           // default: false
	IPAllowlist []string `yaml:"ip_allowlist" json:"ip_allowlist"` // CIDR notation
}

// ResilienceConfig holds the retry policy and circuit breaker settings.
// These are read once at construction; changing them requires a restart.
type ResilienceConfig struct {
	Retry          RetryConfig          `yaml:"retry" json:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" json:"circuit_breaker"`

	// MaxConcurrent caps in-flight provider calls. 0 disables the cap.
	MaxConcurrent int `yaml:"max_concurrent" json:"max_concurrent"`
}

// RetryConfig holds the retry policy settings.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts"`
	BaseWait    time.Duration `yaml:"base_wait" json:"base_wait"`
	MaxWait     time.Duration `yaml:"max_wait" json:"max_wait"`
}

// CircuitBreakerConfig holds the consecutive-failure breaker settings.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout" json:"open_timeout"`
}

// AnalysisConfig holds input validation settings.
type AnalysisConfig struct {
	MaxImageBytes int64 `yaml:"max_image_bytes" json:"max_image_bytes"`

	// Languages restricts the allowed language codes. Empty means all
	// codes the provider supports.
	Languages []string `yaml:"languages" json:"languages"`
}

// LanguageSet resolves the allowed languages to a code → display name map.
func (a AnalysisConfig) LanguageSet() map[string]string {
	if len(a.Languages) == 0 {
		out := make(map[string]string, len(provider.LanguageNames))
		for code, name := range provider.LanguageNames {
			out[code] = name
		}
		return out
	}
	out := make(map[string]string, len(a.Languages))
	for _, code := range a.Languages {
		out[code] = provider.LanguageNames[code]
	}
	return out
}

// ProviderConfig holds the generative provider client settings.
type ProviderConfig struct {
	APIKey   string        `yaml:"api_key" json:"-"` // never serialized
	Model    string        `yaml:"model" json:"model"`
	Endpoint string        `yaml:"endpoint" json:"endpoint"` // override for local testing
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`   // per-attempt deadline
}

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns in s with the corresponding
// environment variable value.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		key := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return match
	})
}

// Load reads and parses a YAML configuration file, applies environment
// variable substitution, sets defaults, and validates the result.
// Warnings are stored on cfg.Warnings (goroutine-safe, no package-level state).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes. Useful for testing.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.Warnings = collectWarnings(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		// Must cover the full retry/backoff budget of one invocation.
		cfg.Server.WriteTimeout = 2 * time.Minute
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.MaxBodyBytes == 0 {
		// Image cap plus multipart framing overhead.
		cfg.Server.MaxBodyBytes = 12 << 20
	}
	if cfg.Server.TLS.Enabled && cfg.Server.TLS.MinVersion == "" {
		cfg.Server.TLS.MinVersion = "1.2"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 3
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 30
	}

	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 10
	}
	if cfg.RateLimit.BurstSize == 0 {
		cfg.RateLimit.BurstSize = 20
	}

	r := &cfg.Resilience
	if r.Retry.MaxAttempts == 0 {
		r.Retry.MaxAttempts = 3
	}
	if r.Retry.BaseWait == 0 {
		r.Retry.BaseWait = 4 * time.Second
	}
	if r.Retry.MaxWait == 0 {
		r.Retry.MaxWait = 10 * time.Second
	}
	if r.CircuitBreaker.FailureThreshold == 0 {
		r.CircuitBreaker.FailureThreshold = 5
	}
	if r.CircuitBreaker.OpenTimeout == 0 {
		r.CircuitBreaker.OpenTimeout = 60 * time.Second
	}

	if cfg.Analysis.MaxImageBytes == 0 {
		cfg.Analysis.MaxImageBytes = 10 << 20
	}

	if cfg.Provider.Model == "" {
		cfg.Provider.Model = "gemini-2.0-flash-exp"
	}
	if cfg.Provider.Timeout == 0 {
		cfg.Provider.Timeout = 30 * time.Second
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Server.MaxBodyBytes < 0 {
		return fmt.Errorf("server.max_body_bytes must be positive")
	}
	if cfg.Server.GlobalTimeoutMs < 0 {
		return fmt.Errorf("server.global_timeout_ms must be non-negative")
	}

	if cfg.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate_limit.requests_per_second must be positive")
	}
	if cfg.RateLimit.BurstSize <= 0 {
		return fmt.Errorf("rate_limit.burst_size must be positive")
	}

	if cfg.Auth.Enabled {
		if cfg.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret is required when auth is enabled")
		}
		if cfg.Auth.Issuer == "" {
			return fmt.Errorf("auth.issuer is required when auth is enabled")
		}
		if cfg.Auth.Audience == "" {
			return fmt.Errorf("auth.audience is required when auth is enabled")
		}
	}

	r := cfg.Resilience
	if r.Retry.MaxAttempts < 1 {
		return fmt.Errorf("resilience.retry.max_attempts must be positive")
	}
	if r.Retry.BaseWait <= 0 {
		return fmt.Errorf("resilience.retry.base_wait must be positive")
	}
	if r.Retry.MaxWait < r.Retry.BaseWait {
		return fmt.Errorf("resilience.retry.max_wait must be >= base_wait")
	}
	if r.CircuitBreaker.FailureThreshold < 1 {
		return fmt.Errorf("resilience.circuit_breaker.failure_threshold must be positive")
	}
	if r.CircuitBreaker.OpenTimeout <= 0 {
		return fmt.Errorf("resilience.circuit_breaker.open_timeout must be positive")
	}
	if r.MaxConcurrent < 0 {
		return fmt.Errorf("resilience.max_concurrent must be non-negative")
	}

	if cfg.Analysis.MaxImageBytes < 1 {
		return fmt.Errorf("analysis.max_image_bytes must be positive")
	}
	for i, code := range cfg.Analysis.Languages {
		if _, ok := provider.LanguageNames[code]; !ok {
			return fmt.Errorf("analysis.languages[%d]: unknown language code %q", i, code)
		}
	}

	if cfg.Provider.APIKey == "" && cfg.Provider.Endpoint == "" {
		return fmt.Errorf("provider.api_key is required (set GOOGLE_API_KEY or provider.api_key)")
	}
	if cfg.Provider.Endpoint != "" {
		u, err := url.Parse(cfg.Provider.Endpoint)
		if err != nil {
			return fmt.Errorf("provider.endpoint: invalid URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("provider.endpoint: scheme must be http or https, got %q", u.Scheme)
		}
	}
	if cfg.Provider.Timeout <= 0 {
		return fmt.Errorf("provider.timeout must be positive")
	}

	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be \"json\" or \"text\", got %q", cfg.Logging.Format)
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Output != "stdout" && cfg.Logging.Output != "stderr" {
		if cfg.Logging.MaxSizeMB < 1 {
			return fmt.Errorf("logging.max_size_mb must be positive when output is a file path")
		}
	}

	if cfg.Server.TLS.Enabled {
		if cfg.Server.TLS.CertFile == "" {
			return fmt.Errorf("server.tls.cert_file is required when TLS is enabled")
		}
		if cfg.Server.TLS.KeyFile == "" {
			return fmt.Errorf("server.tls.key_file is required when TLS is enabled")
		}
		if cfg.Server.TLS.MinVersion != "1.2" && cfg.Server.TLS.MinVersion != "1.3" {
			return fmt.Errorf("server.tls.min_version must be \"1.2\" or \"1.3\", got %q", cfg.Server.TLS.MinVersion)
		}
	}

	if cfg.Admin.Enabled {
		if len(cfg.Admin.IPAllowlist) == 0 {
			return fmt.Errorf("admin.ip_allowlist is required when admin is enabled")
		}
		for i, cidr := range cfg.Admin.IPAllowlist {
			if _, _, err := net.ParseCIDR(cidr); err != nil {
				return fmt.Errorf("admin.ip_allowlist[%d]: invalid CIDR %q: %w", i, cidr, err)
			}
		}
	}

	for i, cidr := range cfg.Server.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("server.trusted_proxies[%d]: invalid CIDR %q: %w", i, cidr, err)
		}
	}

	return nil
}

func collectWarnings(cfg *Config) []string {
	var warnings []string

	if cfg.Resilience.CircuitBreaker.FailureThreshold == 1 {
		warnings = append(warnings,
			"resilience.circuit_breaker.failure_threshold is 1: the circuit opens after a single failure")
	}
	if cfg.Server.MaxBodyBytes > 0 && cfg.Server.MaxBodyBytes < cfg.Analysis.MaxImageBytes {
		warnings = append(warnings, fmt.Sprintf(
			"server.max_body_bytes (%d) is below analysis.max_image_bytes (%d): large uploads will be rejected at the transport layer",
			cfg.Server.MaxBodyBytes, cfg.Analysis.MaxImageBytes))
	}
	if !cfg.Auth.Enabled {
		warnings = append(warnings, "auth is disabled: the analysis API is unauthenticated")
	}
	if cfg.Provider.APIKey == "" {
		warnings = append(warnings, "provider.api_key is empty: only an unauthenticated endpoint override will work")
	}

	return warnings
}
