// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

// Package metrics holds the Prometheus instruments of the realtime layer.
// All collectors register with the default registry and are served by
// promhttp at /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection lifecycle

	RealtimeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_connections",
			Help: "Current number of admitted realtime connections",
		},
	)

	RealtimeAdmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_admissions_total",
			Help: "Handshake outcomes by result (admitted or a rejection code)",
		},
		[]string{"outcome"},
	)

	RealtimeHandshakeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "realtime_handshake_duration_seconds",
			Help:    "Time from upgrade to admission or rejection",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
	)

	// RealtimeServerMisconfigured is 1 while no signing secret is configured.
	RealtimeServerMisconfigured = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_server_misconfigured",
			Help: "1 when the server rejects all admissions because the signing secret is missing",
		},
	)

	// Rooms

	RealtimeRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_rooms",
			Help: "Current number of non-empty rooms",
		},
	)

	RealtimeRoomJoins = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_room_joins_total",
			Help: "Room join attempts by room kind and decision",
		},
		[]string{"kind", "decision"},
	)

	// Delivery

	RealtimeEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_published_total",
			Help: "Domain events published by kind and scope",
		},
		[]string{"kind", "scope"},
	)

	RealtimeDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_deliveries_total",
			Help: "Per-connection delivery outcomes (queued or dropped)",
		},
		[]string{"result"},
	)

	RealtimeInboundMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_inbound_messages_total",
			Help: "Client frames received by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	// Heartbeat

	RealtimeHeartbeatRTT = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "realtime_heartbeat_rtt_seconds",
			Help:    "Heartbeat round trip time by quality bucket",
			Buckets: []float64{0.01, 0.05, 0.1, 0.2, 0.3, 0.5, 1, 2},
		},
		[]string{"quality"},
	)

	// Ingest

	IngestMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_messages_total",
			Help: "Producer messages consumed from NATS by outcome",
		},
		[]string{"outcome"},
	)

	// Directory circuit breaker: 0=closed, 1=half-open, 2=open
	DirectoryBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "directory_circuit_breaker_state",
			Help: "Membership directory circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	DirectoryLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "directory_lookups_total",
			Help: "Membership directory lookups by result",
		},
		[]string{"result"},
	)

	// HTTP

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Number of HTTP requests currently being served",
		},
	)
)

// RecordAdmission records a handshake outcome and its latency.
func RecordAdmission(outcome string, duration time.Duration) {
	RealtimeAdmissions.WithLabelValues(outcome).Inc()
	RealtimeHandshakeDuration.Observe(duration.Seconds())
}

// RecordAPIRequest records an HTTP request.
func RecordAPIRequest(method, endpoint string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest increments or decrements the in-flight request gauge.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// SetServerMisconfigured flips the misconfiguration gauge.
func SetServerMisconfigured(misconfigured bool) {
	if misconfigured {
		RealtimeServerMisconfigured.Set(1)
		return
	}
	RealtimeServerMisconfigured.Set(0)
}
