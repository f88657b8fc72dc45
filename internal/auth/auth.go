// Package auth provides JWT Bearer token validation middleware for the
// listing API. Only /v1/ routes are protected; health, metrics, and admin
// endpoints have their own guards.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/praciller/listing-assistant/internal/apierror"
	"github.com/praciller/listing-assistant/internal/config"
	"github.com/praciller/listing-assistant/internal/metrics"
)

type contextKey string

// ClaimsKey is the context key used to store validated JWT claims.
const ClaimsKey contextKey = "jwt_claims"

// Claims represents the validated JWT claims injected into the request context.
type Claims struct {
	Subject  string `json:"sub"`
	Issuer   string `json:"iss"`
	Audience string `json:"aud"`
}

// Middleware returns an HTTP middleware that validates JWT Bearer tokens on
// the routes selected by requiresAuth. When auth is disabled in the config
// all requests pass through.
func Middleware(cfg config.AuthConfig, requiresAuth func(path string) bool, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled || !requiresAuth(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			tokenStr, ok := extractBearerToken(r)
			if !ok {
				metrics.AuthFailures.WithLabelValues("missing_token").Inc()
				apierror.WriteJSON(w, r, http.StatusUnauthorized, apierror.AuthMissingToken,
					"missing or malformed Authorization header")
				return
			}

			claims, err := validateToken(tokenStr, cfg)
			if err != nil {
				logger.Warn("auth failure", "error", err, "path", r.URL.Path)
				metrics.AuthFailures.WithLabelValues("invalid_token").Inc()
				apierror.WriteJSON(w, r, http.StatusUnauthorized, apierror.AuthInvalidToken, err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ProtectV1 reports whether a path belongs to the authenticated API surface.
func ProtectV1(path string) bool {
	return strings.HasPrefix(path, "/v1/")
}

// GetClaims extracts the validated claims from a context. Returns nil when
// the request was not authenticated.
func GetClaims(ctx context.Context) *Claims {
	if c, ok := ctx.Value(ClaimsKey).(*Claims); ok {
		return c
	}
	return nil
}

func extractBearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", false
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}

func validateToken(tokenStr string, cfg config.AuthConfig) (*Claims, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(cfg.JWTSecret), nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithAudience(cfg.Audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	claims := &Claims{}

	if sub, ok := mapClaims["sub"].(string); ok {
		claims.Subject = sub
	}
	if iss, ok := mapClaims["iss"].(string); ok {
		claims.Issuer = iss
	}

	// aud can be a string or a list per RFC 7519
	switch aud := mapClaims["aud"].(type) {
	case string:
		claims.Audience = aud
	case []interface{}:
		if len(aud) > 0 {
			if s, ok := aud[0].(string); ok {
				claims.Audience = s
			}
		}
	}

	return claims, nil
}
