// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

// Package main provides the Questline realtime HTTP server
//
// @title Questline Realtime API
// @version 1.0
// @description Realtime event distribution for Questline. Clients hold a websocket at /ws
// @description and receive gamification events (XP, badges, streaks, leaderboards, pattern
// @description progress) for their user, the rooms they joined, and broadcasts.
// @description
// @description ## Authentication
// @description
// @description The websocket handshake accepts an HS256 bearer token in the Authorization
// @description header, the `token` query parameter, or an `auth` frame sent right after the
// @description upgrade. Rejections arrive as a `connect_error` frame followed by close code
// @description 4001 (auth), 4029 (capacity) or 4500 (server misconfigured).
// @description
// @description ## Error Responses
// @description
// @description All HTTP error responses follow this format:
// @description ```json
// @description {
// @description   "status": "error",
// @description   "data": null,
// @description   "error": {"code": "ERROR_CODE", "message": "Human-readable error message"},
// @description   "metadata": {"timestamp": "2026-03-01T12:34:56Z"}
// @description }
// @description ```
//
// @contact.name GitHub Repository
// @contact.url https://github.com/tomtom215/questline/issues
//
// @license.name AGPL-3.0-or-later
// @license.url https://www.gnu.org/licenses/agpl-3.0.html
//
// @host localhost:8081
// @BasePath /
// @schemes http https
//
// @tag.name Health
// @tag.description Liveness, readiness and component status
//
// @tag.name Realtime
// @tag.description Websocket connections for live gamification events
package main
