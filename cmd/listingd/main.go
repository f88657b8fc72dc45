// Package main is the entry point for the listing assistant service. It
// loads configuration, assembles the analysis pipeline and middleware
// stack, starts the HTTP server, and handles graceful shutdown on
// SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/praciller/listing-assistant/internal/admin"
	"github.com/praciller/listing-assistant/internal/analysis"
	"github.com/praciller/listing-assistant/internal/api"
	"github.com/praciller/listing-assistant/internal/auth"
	"github.com/praciller/listing-assistant/internal/circuitbreaker"
	"github.com/praciller/listing-assistant/internal/config"
	"github.com/praciller/listing-assistant/internal/health"
	"github.com/praciller/listing-assistant/internal/logging"
	"github.com/praciller/listing-assistant/internal/metrics"
	"github.com/praciller/listing-assistant/internal/middleware"
	"github.com/praciller/listing-assistant/internal/provider"
	"github.com/praciller/listing-assistant/internal/ratelimit"
	"github.com/praciller/listing-assistant/internal/retry"
	"github.com/praciller/listing-assistant/internal/tlsutil"
)

func main() {
	configPath := flag.String("config", "configs/listingd.yaml", "path to configuration file")
	flag.Parse()

	// .env is optional; environment variables referenced by the config
	// (e.g. GOOGLE_API_KEY) may come from it in development.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	for _, w := range cfg.Warnings {
		logger.Warn("config warning", "message", w)
	}

	logger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"model", cfg.Provider.Model,
		"languages", len(cfg.Analysis.LanguageSet()),
		"auth_enabled", cfg.Auth.Enabled,
		"metrics_enabled", cfg.Metrics.IsEnabled(),
		"retry_max_attempts", cfg.Resilience.Retry.MaxAttempts,
		"breaker_threshold", cfg.Resilience.CircuitBreaker.FailureThreshold,
	)

	if cfg.Metrics.IsEnabled() {
		metrics.Init()
	}

	// Assemble the analysis pipeline: provider client → retry policy →
	// circuit breaker → service façade.
	gemini := provider.NewGemini(provider.GeminiConfig{
		APIKey:   cfg.Provider.APIKey,
		Model:    cfg.Provider.Model,
		Endpoint: cfg.Provider.Endpoint,
		Timeout:  cfg.Provider.Timeout,
	}, logger)

	breaker := circuitbreaker.New(
		gemini.Name(),
		cfg.Resilience.CircuitBreaker.FailureThreshold,
		cfg.Resilience.CircuitBreaker.OpenTimeout,
		nil,
		logger,
	)

	policy := retry.New(retry.Config{
		MaxAttempts: cfg.Resilience.Retry.MaxAttempts,
		BaseWait:    cfg.Resilience.Retry.BaseWait,
		MaxWait:     cfg.Resilience.Retry.MaxWait,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			metrics.RetryTotal.WithLabelValues("gemini").Inc()
			logger.Warn("retrying provider call",
				"attempt", attempt,
				"wait", wait,
				"error", err,
			)
		},
	})

	svc := analysis.New(gemini, breaker, policy, analysis.Config{
		MaxImageBytes: cfg.Analysis.MaxImageBytes,
		Languages:     cfg.Analysis.LanguageSet(),
		MaxConcurrent: cfg.Resilience.MaxConcurrent,
	}, logger)

	limiter := ratelimit.New(cfg.RateLimit, cfg.Server.TrustedProxies, logger)
	defer limiter.Stop()

	apiHandler := api.New(svc, logger)
	apiMux := http.NewServeMux()
	apiHandler.RegisterRoutes(apiMux)

	// Middleware stack:
	// Recovery → RequestID → SecurityHeaders → Logging → CORS → Deadline →
	// BodyLimit → RateLimit → Auth → API
	var handler http.Handler = apiMux
	handler = auth.Middleware(cfg.Auth, auth.ProtectV1, logger)(handler)
	handler = limiter.Middleware()(handler)
	handler = middleware.BodyLimit(cfg.Server.MaxBodyBytes)(handler)
	handler = middleware.Deadline(cfg.Server.GlobalTimeout())(handler)
	handler = middleware.CORS(middleware.DefaultCORSConfig())(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.SecurityHeaders()(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Recovery(logger)(handler)

	// Health probes, metrics, and admin live on a side mux that bypasses
	// the API middleware stack.
	sideMux := http.NewServeMux()
	healthHandler := health.New(gemini.Name(), svc.BreakerStatus, logger)
	healthHandler.RegisterRoutes(sideMux)

	metricsPath := cfg.Metrics.Path
	if cfg.Metrics.IsEnabled() {
		sideMux.Handle(metricsPath, metrics.Handler())
		logger.Info("metrics endpoint registered", "path", metricsPath)
	}

	reloader := config.NewReloader(*configPath, cfg, logger)
	reloader.Start()
	defer reloader.Stop()

	reloader.OnReload(func(newCfg *config.Config) {
		limiter.UpdateConfig(newCfg.RateLimit)
	})

	if cfg.Admin.Enabled {
		adminHandler := admin.New(reloader, svc, gemini.Name(), cfg.Admin.IPAllowlist, logger)
		adminHandler.RegisterRoutes(sideMux)
		logger.Info("admin endpoints registered", "allowlist", cfg.Admin.IPAllowlist)
	}

	combined := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" ||
			strings.HasPrefix(r.URL.Path, "/admin/") ||
			(cfg.Metrics.IsEnabled() && r.URL.Path == metricsPath) {
			sideMux.ServeHTTP(w, r)
			return
		}
		handler.ServeHTTP(w, r)
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      combined,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var certLoader *tlsutil.CertLoader
	if cfg.Server.TLS.Enabled {
		certLoader, err = tlsutil.New(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile, logger)
		if err != nil {
			logger.Error("failed to load TLS certificate", "error", err)
			os.Exit(1)
		}
		defer certLoader.Stop()
		srv.TLSConfig = certLoader.ServerConfig(cfg.Server.TLS)
	}

	go func() {
		logger.Info("starting listing assistant", "addr", srv.Addr, "tls", cfg.Server.TLS.Enabled)
		var err error
		if cfg.Server.TLS.Enabled {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutdown signal received", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	logger.Info("draining in-flight requests", "timeout", cfg.Server.ShutdownTimeout)
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("listing assistant stopped gracefully")
}
