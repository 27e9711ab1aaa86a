// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that the configuration is usable. A missing JWT secret is
// deliberately not an error here: the server starts and rejects every
// admission as server_misconfigured, which is reported by the gateway.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateSecurity(); err != nil {
		return err
	}
	if err := c.validateLimits(); err != nil {
		return err
	}
	if err := c.validateHeartbeat(); err != nil {
		return err
	}
	if err := c.validateDirectory(); err != nil {
		return err
	}
	if err := c.validateNATS(); err != nil {
		return err
	}
	if err := c.validateClient(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive")
	}
	return nil
}

func (c *Config) validateSecurity() error {
	if err := c.validateJWTSecret(); err != nil {
		return err
	}
	if len(c.Security.AllowedOrigins) == 0 {
		return fmt.Errorf("ALLOWED_ORIGINS must list at least one origin (use * to allow any)")
	}
	if c.Security.AuthTimeout <= 0 {
		return fmt.Errorf("AUTH_TIMEOUT must be positive")
	}
	if c.Security.UpgradeRateLimitRequests < 1 {
		return fmt.Errorf("WS_RATE_LIMIT_REQUESTS must be at least 1")
	}
	if c.Security.UpgradeRateLimitWindow <= 0 {
		return fmt.Errorf("WS_RATE_LIMIT_WINDOW must be positive")
	}
	return nil
}

func (c *Config) validateJWTSecret() error {
	secret := c.Security.JWTSecret
	if secret == "" {
		return nil
	}
	if len(secret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters for security")
	}
	if containsPlaceholder(secret) {
		return fmt.Errorf("JWT_SECRET contains a placeholder value - generate a secure secret with: openssl rand -base64 32")
	}
	return nil
}

// HasWildcardOrigin reports whether any origin is accepted.
func (c *Config) HasWildcardOrigin() bool {
	for _, o := range c.Security.AllowedOrigins {
		if o == "*" {
			return true
		}
	}
	return false
}

func (c *Config) validateLimits() error {
	l := c.Limits
	if l.MaxPerUser < 1 {
		return fmt.Errorf("MAX_CONNECTIONS_PER_USER must be at least 1")
	}
	if l.MaxPerAddress < 1 {
		return fmt.Errorf("MAX_CONNECTIONS_PER_ADDRESS must be at least 1")
	}
	if l.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
	}
	if l.InboundRate <= 0 || l.InboundBurst < 1 {
		return fmt.Errorf("INBOUND_RATE_LIMIT and INBOUND_RATE_BURST must be positive")
	}
	return nil
}

func (c *Config) validateHeartbeat() error {
	if c.Heartbeat.Interval <= 0 {
		return fmt.Errorf("HEARTBEAT_INTERVAL must be positive")
	}
	return nil
}

func (c *Config) validateDirectory() error {
	if c.Directory.URL != "" {
		u, err := url.Parse(c.Directory.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("DIRECTORY_URL must be an absolute http(s) URL, got %q", c.Directory.URL)
		}
	}
	if c.Directory.Timeout <= 0 {
		return fmt.Errorf("DIRECTORY_TIMEOUT must be positive")
	}
	if c.Directory.BreakerFailures == 0 {
		return fmt.Errorf("DIRECTORY_BREAKER_FAILURES must be at least 1")
	}
	return nil
}

func (c *Config) validateNATS() error {
	if !c.NATS.Enabled {
		return nil
	}
	if !c.NATS.Embedded && c.NATS.URL == "" {
		return fmt.Errorf("NATS_URL is required when NATS_ENABLED is true")
	}
	if c.NATS.Subject == "" {
		return fmt.Errorf("NATS_SUBJECT is required when NATS_ENABLED is true")
	}
	if c.NATS.Subscribers < 1 {
		return fmt.Errorf("NATS_SUBSCRIBERS must be at least 1")
	}
	if c.NATS.Embedded && (c.NATS.EmbeddedPort < 1 || c.NATS.EmbeddedPort > 65535) {
		return fmt.Errorf("NATS_EMBEDDED_PORT must be between 1 and 65535")
	}
	return nil
}

func (c *Config) validateClient() error {
	cl := c.Client
	if cl.MaxReconnectAttempts < 1 {
		return fmt.Errorf("MAX_RECONNECT_ATTEMPTS must be at least 1")
	}
	if cl.BackoffBase <= 0 || cl.BackoffCap < cl.BackoffBase {
		return fmt.Errorf("RECONNECT_BACKOFF_BASE must be positive and not exceed RECONNECT_BACKOFF_CAP")
	}
	if cl.BackoffJitter < 0 || cl.BackoffJitter > 1 {
		return fmt.Errorf("RECONNECT_BACKOFF_JITTER must be between 0 and 1")
	}
	if cl.AuthFailureLimit < 1 {
		return fmt.Errorf("AUTH_FAILURE_LIMIT must be at least 1")
	}
	if cl.DedupCapacity < 2 {
		return fmt.Errorf("DEDUP_CAPACITY must be at least 2")
	}
	if cl.BatchInterval <= 0 || cl.HeartbeatTimeout <= 0 {
		return fmt.Errorf("BATCH_INTERVAL and CLIENT_HEARTBEAT_TIMEOUT must be positive")
	}
	return nil
}

var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true,
}

var validLogFormats = map[string]bool{
	"json": true, "console": true,
}

func (c *Config) validateLogging() error {
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of: trace, debug, info, warn, error")
	}
	if c.Logging.Format != "" && !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, console")
	}
	return nil
}

var placeholderPatterns = []string{
	"REPLACE",
	"CHANGEME",
	"CHANGE_ME",
	"YOUR_SECRET",
	"PLACEHOLDER",
	"EXAMPLE",
}

func containsPlaceholder(value string) bool {
	upper := strings.ToUpper(value)
	for _, p := range placeholderPatterns {
		if strings.Contains(upper, p) {
			return true
		}
	}
	return false
}
