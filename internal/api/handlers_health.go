// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/questline/internal/limiter"
	"github.com/tomtom215/questline/internal/rooms"
)

const (
	statusHealthy  = "healthy"
	statusDegraded = "degraded"
)

// HealthStatus is the /healthz payload.
type HealthStatus struct {
	Status           string        `json:"status"`
	Uptime           float64       `json:"uptime_seconds"`
	Connections      int           `json:"connections"`
	Rooms            int           `json:"rooms"`
	Limiter          limiter.Stats `json:"limiter"`
	HeartbeatTracked int           `json:"heartbeat_tracked"`
	DirectoryBreaker string        `json:"directory_breaker,omitempty"`
	Misconfigured    bool          `json:"server_misconfigured"`
	IngestEnabled    bool          `json:"ingest_enabled"`
}

// Health reports component status. The server is degraded while the JWT
// secret is missing or the directory breaker is open; the response is 200
// either way.
//
// @Summary Component health
// @Description Reports connection, room, limiter, heartbeat and directory breaker status.
// @Tags Health
// @Produce json
// @Success 200 {object} APIResponse{data=HealthStatus} "Health status retrieved successfully"
// @Router /healthz [get]
func (router *Router) Health(w http.ResponseWriter, _ *http.Request) {
	d := router.deps
	var regStats rooms.Stats
	if d.Registry != nil {
		regStats = d.Registry.Stats()
	}

	health := HealthStatus{
		Status:        statusHealthy,
		Uptime:        time.Since(router.startTime).Seconds(),
		Connections:   regStats.Members,
		Rooms:         regStats.Rooms,
		Misconfigured: router.misconfigured(),
		IngestEnabled: d.IngestEnabled,
	}
	if d.Limiter != nil {
		health.Limiter = d.Limiter.Stats()
	}
	if d.Heartbeats != nil {
		health.HeartbeatTracked = d.Heartbeats.Tracked()
	}
	if d.Authorizer != nil {
		health.DirectoryBreaker = d.Authorizer.State()
	}

	if health.Misconfigured || health.DirectoryBreaker == "open" {
		health.Status = statusDegraded
	}

	respondData(w, http.StatusOK, health)
}

// HealthLive answers 200 while the process can serve HTTP.
//
// @Summary Liveness probe
// @Tags Health
// @Produce json
// @Success 200 {object} APIResponse "Process is alive"
// @Router /healthz/live [get]
func (router *Router) HealthLive(w http.ResponseWriter, _ *http.Request) {
	respondData(w, http.StatusOK, map[string]interface{}{
		"alive":  true,
		"uptime": time.Since(router.startTime).Seconds(),
	})
}

// HealthReady answers 503 while no connection can be admitted.
//
// @Summary Readiness probe
// @Tags Health
// @Produce json
// @Success 200 {object} APIResponse "Ready to admit connections"
// @Failure 503 {object} APIResponse "JWT secret is not configured"
// @Router /healthz/ready [get]
func (router *Router) HealthReady(w http.ResponseWriter, _ *http.Request) {
	if router.misconfigured() {
		respondError(w, http.StatusServiceUnavailable, "SERVER_MISCONFIGURED", "JWT secret is not configured")
		return
	}
	respondData(w, http.StatusOK, map[string]interface{}{"ready": true})
}

func (router *Router) misconfigured() bool {
	return router.deps.Verifier != nil && router.deps.Verifier.Misconfigured()
}
