// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/tomtom215/questline/internal/limiter"
	"github.com/tomtom215/questline/internal/middleware"
	"github.com/tomtom215/questline/internal/rooms"
)

// Components the health handlers report on. The realtime server passes
// its registry, limiter, authorizer, heartbeat monitor and verifier.
type (
	RegistryStats interface{ Stats() rooms.Stats }
	LimiterStats  interface{ Stats() limiter.Stats }
	BreakerState  interface{ State() string }
	HeartbeatStat interface{ Tracked() int }
	SecretStatus  interface{ Misconfigured() bool }
)

// Dependencies are the handlers and status sources the router serves.
// Authorizer may be nil when no directory is configured.
type Dependencies struct {
	Gateway    http.Handler
	Registry   RegistryStats
	Limiter    LimiterStats
	Authorizer BreakerState
	Heartbeats HeartbeatStat
	Verifier   SecretStatus

	// IngestEnabled is reported as-is in /healthz.
	IngestEnabled bool
}

// Router owns the chi mux and the health handlers.
type Router struct {
	deps       Dependencies
	middleware *ChiMiddleware
	startTime  time.Time
}

func NewRouter(deps Dependencies, mw *ChiMiddleware) *Router {
	if mw == nil {
		mw = NewChiMiddleware(nil)
	}
	return &Router{
		deps:       deps,
		middleware: mw,
		startTime:  time.Now(),
	}
}

// Handler builds the route tree.
func (router *Router) Handler() http.Handler {
	r := chi.NewRouter()

	// Applied to all routes in order.
	r.Use(middleware.RequestID)
	r.Use(router.middleware.RealIP())
	r.Use(chimiddleware.Recoverer)
	r.Use(router.middleware.CORS())

	r.With(
		router.middleware.RateLimitUpgrade(),
		middleware.PrometheusMetrics,
	).Get("/ws", router.deps.Gateway.ServeHTTP)

	r.Route("/healthz", func(r chi.Router) {
		r.Use(middleware.PrometheusMetrics)
		r.Get("/", router.Health)
		r.Get("/live", router.HealthLive)
		r.Get("/ready", router.HealthReady)
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
		httpSwagger.DeepLinking(true),
		httpSwagger.DocExpansion("list"),
		httpSwagger.DomID("swagger-ui"),
	))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "no such route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})

	return r
}
