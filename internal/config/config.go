// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

// Package config loads the realtime layer's configuration.
//
// Values are layered with koanf: struct defaults, then an optional YAML file
// (CONFIG_PATH or one of DefaultConfigPaths), then environment variables
// listed in the env mapping table. Unknown environment variables are ignored.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config is the complete configuration of the realtime server and the
// reference client.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Security  SecurityConfig  `koanf:"security"`
	Limits    LimitsConfig    `koanf:"limits"`
	Heartbeat HeartbeatConfig `koanf:"heartbeat"`
	Directory DirectoryConfig `koanf:"directory"`
	NATS      NATSConfig      `koanf:"nats"`
	Client    ClientConfig    `koanf:"client"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// SecurityConfig holds the handshake settings.
type SecurityConfig struct {
	// JWTSecret signs HS256 bearer tokens. When empty every admission is
	// rejected as server_misconfigured.
	JWTSecret      string        `koanf:"jwt_secret"`
	AllowedOrigins []string      `koanf:"allowed_origins"`
	AuthTimeout    time.Duration `koanf:"auth_timeout"`

	// Upgrade route flood guard, applied per client address before the
	// websocket handshake.
	UpgradeRateLimitRequests int           `koanf:"upgrade_rate_limit_requests"`
	UpgradeRateLimitWindow   time.Duration `koanf:"upgrade_rate_limit_window"`

	// TrustProxyHeaders derives the client address from X-Forwarded-For and
	// X-Real-IP. The per-address limits are only as good as that address.
	TrustProxyHeaders bool `koanf:"trust_proxy_headers"`
}

// LimitsConfig holds connection admission and inbound frame limits.
type LimitsConfig struct {
	MaxPerUser    int           `koanf:"max_per_user"`
	MaxPerAddress int           `koanf:"max_per_address"`
	Window        time.Duration `koanf:"window"`

	InboundRate  float64 `koanf:"inbound_rate"`
	InboundBurst int     `koanf:"inbound_burst"`
}

type HeartbeatConfig struct {
	Interval time.Duration `koanf:"interval"`
}

// DirectoryConfig points at the membership service that answers group and
// challenge lookups. An empty URL selects the in-memory directory.
type DirectoryConfig struct {
	URL             string        `koanf:"url"`
	Timeout         time.Duration `koanf:"timeout"`
	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout"`
}

// NATSConfig configures producer event ingest.
type NATSConfig struct {
	Enabled      bool   `koanf:"enabled"`
	URL          string `koanf:"url"`
	Embedded     bool   `koanf:"embedded"`
	EmbeddedPort int    `koanf:"embedded_port"`
	Subject      string `koanf:"subject"`
	QueueGroup   string `koanf:"queue_group"`
	Subscribers  int    `koanf:"subscribers"`
}

// ClientConfig configures the reference client pipeline.
type ClientConfig struct {
	MaxReconnectAttempts int           `koanf:"max_reconnect_attempts"`
	BackoffBase          time.Duration `koanf:"backoff_base"`
	BackoffCap           time.Duration `koanf:"backoff_cap"`
	BackoffJitter        float64       `koanf:"backoff_jitter"`
	AuthFailureLimit     int           `koanf:"auth_failure_limit"`
	HeartbeatTimeout     time.Duration `koanf:"heartbeat_timeout"`
	DedupCapacity        int           `koanf:"dedup_capacity"`
	BatchInterval        time.Duration `koanf:"batch_interval"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Addr returns the host:port the HTTP server listens on.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// ReadDeadline is how long a connection may stay silent before it is
// treated as failed: two missed heartbeats plus a grace period.
func (h HeartbeatConfig) ReadDeadline() time.Duration {
	return 2*h.Interval + 10*time.Second
}
