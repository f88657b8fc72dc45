package config

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const minimalConfig = `
provider:
  api_key: test-key
`

func TestLoadFromBytesDefaults(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(minimalConfig))
	if err != nil {
		t.Fatalf("LoadFromBytes: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("default port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.WriteTimeout != 2*time.Minute {
		t.Errorf("default write timeout = %v, want 2m", cfg.Server.WriteTimeout)
	}
	if cfg.Server.MaxBodyBytes != 12<<20 {
		t.Errorf("default max body bytes = %d, want %d", cfg.Server.MaxBodyBytes, 12<<20)
	}
	if !cfg.Metrics.IsEnabled() {
		t.Error("metrics should be enabled by default")
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("default metrics path = %q, want /metrics", cfg.Metrics.Path)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "info" {
		t.Errorf("default logging = %s/%s, want json/info", cfg.Logging.Format, cfg.Logging.Level)
	}
	if cfg.RateLimit.RequestsPerSecond != 10 || cfg.RateLimit.BurstSize != 20 {
		t.Errorf("default rate limit = %v/%d, want 10/20",
			cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.BurstSize)
	}

	r := cfg.Resilience
	if r.Retry.MaxAttempts != 3 {
		t.Errorf("default max attempts = %d, want 3", r.Retry.MaxAttempts)
	}
	if r.Retry.BaseWait != 4*time.Second || r.Retry.MaxWait != 10*time.Second {
		t.Errorf("default retry waits = %v/%v, want 4s/10s", r.Retry.BaseWait, r.Retry.MaxWait)
	}
	if r.CircuitBreaker.FailureThreshold != 5 {
		t.Errorf("default failure threshold = %d, want 5", r.CircuitBreaker.FailureThreshold)
	}
	if r.CircuitBreaker.OpenTimeout != 60*time.Second {
		t.Errorf("default open timeout = %v, want 60s", r.CircuitBreaker.OpenTimeout)
	}

	if cfg.Analysis.MaxImageBytes != 10<<20 {
		t.Errorf("default max image bytes = %d, want %d", cfg.Analysis.MaxImageBytes, 10<<20)
	}
	if cfg.Provider.Model != "gemini-2.0-flash-exp" {
		t.Errorf("default model = %q", cfg.Provider.Model)
	}
	if cfg.Provider.Timeout != 30*time.Second {
		t.Errorf("default provider timeout = %v, want 30s", cfg.Provider.Timeout)
	}
}

func TestLoadFromBytesFullConfig(t *testing.T) {
	yaml := `
server:
  port: 9090
  read_timeout: 5s
  max_body_bytes: 20971520
  trusted_proxies:
    - 10.0.0.0/8
metrics:
  enabled: false
logging:
  format: text
  level: debug
rate_limit:
  requests_per_second: 2.5
  burst_size: 5
auth:
  enabled: true
  jwt_secret: secret
  issuer: listingd
  audience: api
admin:
  enabled: true
  ip_allowlist:
    - 127.0.0.0/8
resilience:
  retry:
    max_attempts: 5
    base_wait: 1s
    max_wait: 8s
  circuit_breaker:
    failure_threshold: 3
    open_timeout: 30s
  max_concurrent: 16
analysis:
  max_image_bytes: 5242880
  languages: [en, th, ja]
provider:
  api_key: key
  model: gemini-2.0-flash
  timeout: 10s
`
	cfg, err := LoadFromBytes([]byte(yaml))
	if err != nil {
		t.Fatalf("LoadFromBytes: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Metrics.IsEnabled() {
		t.Error("metrics should be disabled")
	}
	if cfg.RateLimit.RequestsPerSecond != 2.5 {
		t.Errorf("rps = %v, want 2.5", cfg.RateLimit.RequestsPerSecond)
	}
	if cfg.Resilience.Retry.MaxAttempts != 5 {
		t.Errorf("max attempts = %d, want 5", cfg.Resilience.Retry.MaxAttempts)
	}
	if cfg.Resilience.CircuitBreaker.FailureThreshold != 3 {
		t.Errorf("failure threshold = %d, want 3", cfg.Resilience.CircuitBreaker.FailureThreshold)
	}
	if cfg.Resilience.MaxConcurrent != 16 {
		t.Errorf("max concurrent = %d, want 16", cfg.Resilience.MaxConcurrent)
	}

	langs := cfg.Analysis.LanguageSet()
	if len(langs) != 3 {
		t.Fatalf("language set size = %d, want 3", len(langs))
	}
	if langs["th"] != "Thai" {
		t.Errorf("langs[th] = %q, want Thai", langs["th"])
	}
}

func TestLanguageSetDefaultsToAll(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(minimalConfig))
	if err != nil {
		t.Fatalf("LoadFromBytes: %v", err)
	}
	langs := cfg.Analysis.LanguageSet()
	if len(langs) != 12 {
		t.Errorf("language set size = %d, want 12", len(langs))
	}
	if langs["en"] != "English" {
		t.Errorf("langs[en] = %q, want English", langs["en"])
	}
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "invalid port",
			yaml:    "server:\n  port: 70000\nprovider:\n  api_key: k\n",
			wantErr: "server.port",
		},
		{
			name:    "missing api key",
			yaml:    "server:\n  port: 8080\n",
			wantErr: "provider.api_key",
		},
		{
			name:    "negative rps",
			yaml:    "rate_limit:\n  requests_per_second: -1\nprovider:\n  api_key: k\n",
			wantErr: "rate_limit.requests_per_second",
		},
		{
			name:    "auth enabled without secret",
			yaml:    "auth:\n  enabled: true\nprovider:\n  api_key: k\n",
			wantErr: "auth.jwt_secret",
		},
		{
			name:    "max_wait below base_wait",
			yaml:    "resilience:\n  retry:\n    base_wait: 10s\n    max_wait: 2s\nprovider:\n  api_key: k\n",
			wantErr: "max_wait",
		},
		{
			name:    "unknown language code",
			yaml:    "analysis:\n  languages: [en, xx]\nprovider:\n  api_key: k\n",
			wantErr: "unknown language code",
		},
		{
			name:    "bad endpoint scheme",
			yaml:    "provider:\n  api_key: k\n  endpoint: ftp://example.com\n",
			wantErr: "provider.endpoint",
		},
		{
			name:    "bad logging level",
			yaml:    "logging:\n  level: trace\nprovider:\n  api_key: k\n",
			wantErr: "logging.level",
		},
		{
			name:    "admin enabled without allowlist",
			yaml:    "admin:\n  enabled: true\nprovider:\n  api_key: k\n",
			wantErr: "admin.ip_allowlist",
		},
		{
			name:    "invalid admin CIDR",
			yaml:    "admin:\n  enabled: true\n  ip_allowlist: [not-a-cidr]\nprovider:\n  api_key: k\n",
			wantErr: "invalid CIDR",
		},
		{
			name:    "invalid trusted proxy CIDR",
			yaml:    "server:\n  trusted_proxies: [10.0.0.1]\nprovider:\n  api_key: k\n",
			wantErr: "server.trusted_proxies",
		},
		{
			name:    "tls enabled without cert",
			yaml:    "server:\n  tls:\n    enabled: true\nprovider:\n  api_key: k\n",
			wantErr: "server.tls.cert_file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestEnvVarExpansion(t *testing.T) {
	os.Setenv("LISTING_TEST_KEY", "from-env")
	defer os.Unsetenv("LISTING_TEST_KEY")

	yaml := "provider:\n  api_key: ${LISTING_TEST_KEY}\n"
	cfg, err := LoadFromBytes([]byte(yaml))
	if err != nil {
		t.Fatalf("LoadFromBytes: %v", err)
	}
	if cfg.Provider.APIKey != "from-env" {
		t.Errorf("api_key = %q, want from-env", cfg.Provider.APIKey)
	}
}

func TestEnvVarUnsetLeftVerbatim(t *testing.T) {
	os.Unsetenv("LISTING_DEFINITELY_UNSET")
	yaml := "provider:\n  api_key: k\n  model: ${LISTING_DEFINITELY_UNSET}\n"
	cfg, err := LoadFromBytes([]byte(yaml))
	if err != nil {
		t.Fatalf("LoadFromBytes: %v", err)
	}
	if cfg.Provider.Model != "${LISTING_DEFINITELY_UNSET}" {
		t.Errorf("model = %q, want placeholder left as-is", cfg.Provider.Model)
	}
}

func TestCollectWarnings(t *testing.T) {
	yaml := `
server:
  max_body_bytes: 1048576
resilience:
  circuit_breaker:
    failure_threshold: 1
analysis:
  max_image_bytes: 10485760
provider:
  endpoint: http://localhost:9999
`
	cfg, err := LoadFromBytes([]byte(yaml))
	if err != nil {
		t.Fatalf("LoadFromBytes: %v", err)
	}

	wantSubstrings := []string{
		"failure_threshold is 1",
		"server.max_body_bytes",
		"auth is disabled",
		"provider.api_key is empty",
	}
	for _, want := range wantSubstrings {
		found := false
		for _, w := range cfg.Warnings {
			if strings.Contains(w, want) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("warnings %v missing %q", cfg.Warnings, want)
		}
	}
}

func TestGlobalTimeout(t *testing.T) {
	var s ServerConfig
	if got := s.GlobalTimeout(); got != 0 {
		t.Errorf("GlobalTimeout() = %v, want 0 when unset", got)
	}
	s.GlobalTimeoutMs = 1500
	if got := s.GlobalTimeout(); got != 1500*time.Millisecond {
		t.Errorf("GlobalTimeout() = %v, want 1.5s", got)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestReloaderSwapsOnValidChange(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.yaml"

	if err := os.WriteFile(path, []byte("rate_limit:\n  requests_per_second: 5\nprovider:\n  api_key: k\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	initial, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	r := NewReloader(path, initial, discardLogger())
	notified := make(chan *Config, 1)
	r.OnReload(func(c *Config) { notified <- c })

	if err := os.WriteFile(path, []byte("rate_limit:\n  requests_per_second: 7\nprovider:\n  api_key: k\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !r.Reload() {
		t.Fatal("Reload returned false for valid config")
	}

	select {
	case c := <-notified:
		if c.RateLimit.RequestsPerSecond != 7 {
			t.Errorf("reloaded rps = %v, want 7", c.RateLimit.RequestsPerSecond)
		}
	default:
		t.Fatal("callback not invoked")
	}

	if r.Current().RateLimit.RequestsPerSecond != 7 {
		t.Errorf("Current() rps = %v, want 7", r.Current().RateLimit.RequestsPerSecond)
	}
}

func TestReloaderKeepsCurrentOnInvalidChange(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.yaml"

	if err := os.WriteFile(path, []byte("provider:\n  api_key: k\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	initial, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	r := NewReloader(path, initial, discardLogger())

	if err := os.WriteFile(path, []byte("server:\n  port: -1\nprovider:\n  api_key: k\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if r.Reload() {
		t.Fatal("Reload returned true for invalid config")
	}
	if r.Current() != initial {
		t.Error("Current() changed after failed reload")
	}
}
