// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

// Package api is the realtime server's HTTP surface: the websocket upgrade
// route, health probes and the Prometheus scrape endpoint, served by a chi
// router.
//
//	GET /ws             websocket upgrade (rate limited per client address)
//	GET /healthz        component status
//	GET /healthz/live   liveness
//	GET /healthz/ready  readiness (503 while the JWT secret is missing)
//	GET /metrics        Prometheus exposition
//	GET /swagger/*      API documentation (served from the registered swag spec)
package api
