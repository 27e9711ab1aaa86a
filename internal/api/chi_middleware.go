// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

package api

import (
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/tomtom215/questline/internal/logging"
)

// ChiMiddlewareConfig configures the CORS and rate limiting middleware.
type ChiMiddlewareConfig struct {
	CORSAllowedOrigins []string
	CORSAllowedMethods []string
	CORSAllowedHeaders []string
	CORSMaxAge         int // seconds

	// Upgrade flood guard, keyed by client address.
	UpgradeRateLimitRequests int
	UpgradeRateLimitWindow   time.Duration
	UpgradeRateLimitDisabled bool

	// TrustProxyHeaders takes the client address from X-Forwarded-For and
	// X-Real-IP. Only enable it behind a proxy that overwrites them.
	TrustProxyHeaders bool
}

// DefaultChiMiddlewareConfig allows every origin, matching the websocket
// gateway's default origin policy.
func DefaultChiMiddlewareConfig() *ChiMiddlewareConfig {
	return &ChiMiddlewareConfig{
		CORSAllowedOrigins: []string{"*"},
		CORSAllowedMethods: []string{"GET", "OPTIONS"},
		CORSAllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
		CORSMaxAge:         86400,

		UpgradeRateLimitRequests: 60,
		UpgradeRateLimitWindow:   time.Minute,
	}
}

// ChiMiddleware builds chi-compatible middleware from a config.
type ChiMiddleware struct {
	config *ChiMiddlewareConfig
	cors   func(http.Handler) http.Handler
}

func NewChiMiddleware(config *ChiMiddlewareConfig) *ChiMiddleware {
	if config == nil {
		config = DefaultChiMiddlewareConfig()
	}

	corsHandler := cors.Handler(cors.Options{
		AllowedOrigins:   config.CORSAllowedOrigins,
		AllowedMethods:   config.CORSAllowedMethods,
		AllowedHeaders:   config.CORSAllowedHeaders,
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           config.CORSMaxAge,
	})

	return &ChiMiddleware{
		config: config,
		cors:   corsHandler,
	}
}

// CORS returns the go-chi/cors handler.
func (m *ChiMiddleware) CORS() func(http.Handler) http.Handler {
	return m.cors
}

// RealIP rewrites the request's remote address from proxy headers when
// they are trusted, and passes requests through unchanged otherwise.
func (m *ChiMiddleware) RealIP() func(http.Handler) http.Handler {
	if !m.config.TrustProxyHeaders {
		return func(next http.Handler) http.Handler {
			return next
		}
	}
	return chimiddleware.RealIP
}

// RateLimitUpgrade limits websocket upgrade attempts per client address
// before any handshake work is done. It sits in front of the connection
// limiter, which only counts authenticated admissions.
func (m *ChiMiddleware) RateLimitUpgrade() func(http.Handler) http.Handler {
	if m.config.UpgradeRateLimitDisabled || m.config.UpgradeRateLimitRequests <= 0 {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	return httprate.Limit(
		m.config.UpgradeRateLimitRequests,
		m.config.UpgradeRateLimitWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			logging.Ctx(r.Context()).Warn().
				Str("remote_addr", r.RemoteAddr).
				Msg("Upgrade rate limit exceeded")
			respondError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many connection attempts")
		}),
	)
}
