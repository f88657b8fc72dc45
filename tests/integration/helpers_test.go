//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/praciller/listing-assistant/internal/analysis"
	"github.com/praciller/listing-assistant/internal/api"
	"github.com/praciller/listing-assistant/internal/auth"
	"github.com/praciller/listing-assistant/internal/circuitbreaker"
	"github.com/praciller/listing-assistant/internal/config"
	"github.com/praciller/listing-assistant/internal/health"
	"github.com/praciller/listing-assistant/internal/metrics"
	"github.com/praciller/listing-assistant/internal/middleware"
	"github.com/praciller/listing-assistant/internal/provider"
	"github.com/praciller/listing-assistant/internal/ratelimit"
	"github.com/praciller/listing-assistant/internal/retry"
)

const (
	jwtSecret = "integration-test-secret-key-32chars!!"
	jwtIssuer = "listingd"
	jwtAud    = "listing-api"
)

var httpClient = &http.Client{Timeout: 10 * time.Second}

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

// fakeGemini is a scripted generateContent endpoint. Failures are queued
// with failNext; once drained it serves a canned listing.
type fakeGemini struct {
	mu       sync.Mutex
	failures []int // HTTP status codes to serve, in order
	calls    int
}

func (f *fakeGemini) failNext(codes ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, codes...)
}

func (f *fakeGemini) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeGemini) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls++
		var code int
		if len(f.failures) > 0 {
			code = f.failures[0]
			f.failures = f.failures[1:]
		}
		f.mu.Unlock()

		if code != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(code)
			fmt.Fprintf(w, `{"error":{"code":%d,"message":%q}}`, code, http.StatusText(code))
			return
		}

		listing := `{"title":"Handwoven Basket","description":"A sturdy handwoven storage basket.","tags":["basket","handmade","storage"]}`
		resp := map[string]interface{}{
			"candidates": []map[string]interface{}{
				{"content": map[string]interface{}{
					"parts": []map[string]string{{"text": "```json\n" + listing + "\n```"}},
				}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})
}

// stack is a fully assembled in-process service instance, wired the same
// way the listingd binary wires it, backed by a scripted provider.
type stack struct {
	srv    *httptest.Server
	gemini *fakeGemini
	svc    *analysis.Service
}

const baseConfig = `
server:
  trusted_proxies: []
rate_limit:
  requests_per_second: 1000
  burst_size: 1000
auth:
  enabled: true
  jwt_secret: "` + jwtSecret + `"
  issuer: "` + jwtIssuer + `"
  audience: "` + jwtAud + `"
resilience:
  retry:
    max_attempts: 3
    base_wait: 1ms
    max_wait: 4ms
  circuit_breaker:
    failure_threshold: 3
    open_timeout: 60s
analysis:
  max_image_bytes: 1048576
provider:
  api_key: test-key
  timeout: 5s
`

func newStack(t *testing.T, mutate func(*config.Config)) *stack {
	t.Helper()

	cfg, err := config.LoadFromBytes([]byte(baseConfig))
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}
	if mutate != nil {
		mutate(cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	gemini := &fakeGemini{}
	providerSrv := httptest.NewServer(gemini.handler())
	t.Cleanup(providerSrv.Close)

	client := provider.NewGemini(provider.GeminiConfig{
		APIKey:   cfg.Provider.APIKey,
		Model:    cfg.Provider.Model,
		Endpoint: providerSrv.URL,
		Timeout:  cfg.Provider.Timeout,
	}, logger)

	breaker := circuitbreaker.New(
		client.Name(),
		cfg.Resilience.CircuitBreaker.FailureThreshold,
		cfg.Resilience.CircuitBreaker.OpenTimeout,
		nil,
		logger,
	)

	policy := retry.New(retry.Config{
		MaxAttempts: cfg.Resilience.Retry.MaxAttempts,
		BaseWait:    cfg.Resilience.Retry.BaseWait,
		MaxWait:     cfg.Resilience.Retry.MaxWait,
	})

	svc := analysis.New(client, breaker, policy, analysis.Config{
		MaxImageBytes: cfg.Analysis.MaxImageBytes,
		Languages:     cfg.Analysis.LanguageSet(),
		MaxConcurrent: cfg.Resilience.MaxConcurrent,
	}, logger)

	limiter := ratelimit.New(cfg.RateLimit, cfg.Server.TrustedProxies, logger)
	t.Cleanup(limiter.Stop)

	apiHandler := api.New(svc, logger)
	apiMux := http.NewServeMux()
	apiHandler.RegisterRoutes(apiMux)

	var handler http.Handler = apiMux
	handler = auth.Middleware(cfg.Auth, auth.ProtectV1, logger)(handler)
	handler = limiter.Middleware()(handler)
	handler = middleware.BodyLimit(cfg.Server.MaxBodyBytes)(handler)
	handler = middleware.CORS(middleware.DefaultCORSConfig())(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.SecurityHeaders()(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Recovery(logger)(handler)

	sideMux := http.NewServeMux()
	healthHandler := health.New(client.Name(), svc.BreakerStatus, logger)
	healthHandler.RegisterRoutes(sideMux)
	sideMux.Handle("/metrics", metrics.Handler())

	combined := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" || r.URL.Path == "/metrics" {
			sideMux.ServeHTTP(w, r)
			return
		}
		handler.ServeHTTP(w, r)
	})

	srv := httptest.NewServer(combined)
	t.Cleanup(srv.Close)

	return &stack{srv: srv, gemini: gemini, svc: svc}
}

func generateJWT(sub string, expiry time.Duration) string {
	claims := jwt.MapClaims{
		"sub": sub,
		"iss": jwtIssuer,
		"aud": jwtAud,
		"exp": time.Now().Add(expiry).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(jwtSecret))
	if err != nil {
		panic(fmt.Sprintf("generateJWT: %v", err))
	}
	return s
}

// multipartImage builds a multipart body with an image part and an optional
// language field. A tiny PNG header makes content sniffing return image/png.
func multipartImage(t *testing.T, language string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("image", "product.png")
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte("\x89PNG\r\n\x1a\nfakeimagedata"))

	if language != "" {
		mw.WriteField("language", language)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func postListing(t *testing.T, s *stack, language, token string) (*http.Response, []byte) {
	t.Helper()
	body, contentType := multipartImage(t, language)
	req, err := http.NewRequest(http.MethodPost, s.srv.URL+"/v1/listings", body)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", contentType)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}

func httpDo(t *testing.T, method, url string, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}

func httpGet(t *testing.T, url string, headers map[string]string) (*http.Response, []byte) {
	return httpDo(t, http.MethodGet, url, headers)
}

func authHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func parseJSON(t *testing.T, data []byte) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("failed to parse JSON %q: %v", string(data), err)
	}
	return m
}

func assertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

func assertErrorCode(t *testing.T, body []byte, expected string) {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(body, &m); err != nil {
		t.Fatalf("failed to parse error response: %v\nbody: %s", err, string(body))
	}
	code, ok := m["error_code"].(string)
	if !ok {
		t.Fatalf("error_code field missing or not a string in %s", string(body))
	}
	if code != expected {
		t.Errorf("expected error_code %q, got %q", expected, code)
	}
}

func assertHeader(t *testing.T, resp *http.Response, key, expected string) {
	t.Helper()
	if got := resp.Header.Get(key); got != expected {
		t.Errorf("expected header %s=%q, got %q", key, expected, got)
	}
}

func assertBodyContains(t *testing.T, body []byte, substr string) {
	t.Helper()
	if !strings.Contains(string(body), substr) {
		t.Errorf("expected body to contain %q, got %q", substr, string(body))
	}
}
