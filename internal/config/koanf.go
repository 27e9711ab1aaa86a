// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order; the first existing file wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/questline/realtime.yaml",
	"/etc/questline/realtime.yml",
}

// ConfigPathEnvVar overrides the config file search.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8081,
			ShutdownTimeout: 10 * time.Second,
		},
		Security: SecurityConfig{
			JWTSecret:                "",
			AllowedOrigins:           []string{"*"},
			AuthTimeout:              10 * time.Second,
			UpgradeRateLimitRequests: 60,
			UpgradeRateLimitWindow:   time.Minute,
		},
		Limits: LimitsConfig{
			MaxPerUser:    5,
			MaxPerAddress: 10,
			Window:        60 * time.Second,
			InboundRate:   20,
			InboundBurst:  40,
		},
		Heartbeat: HeartbeatConfig{
			Interval: 30 * time.Second,
		},
		Directory: DirectoryConfig{
			URL:             "",
			Timeout:         3 * time.Second,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		NATS: NATSConfig{
			Enabled:      false,
			URL:          "nats://127.0.0.1:4222",
			Embedded:     false,
			EmbeddedPort: 4222,
			Subject:      "questline.events",
			QueueGroup:   "questline-realtime",
			Subscribers:  1,
		},
		Client: ClientConfig{
			MaxReconnectAttempts: 5,
			BackoffBase:          2 * time.Second,
			BackoffCap:           10 * time.Second,
			BackoffJitter:        0.5,
			AuthFailureLimit:     3,
			HeartbeatTimeout:     70 * time.Second,
			DedupCapacity:        1000,
			BatchInterval:        100 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file and
// the environment, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// sliceConfigPaths arrive from the environment as comma separated strings.
var sliceConfigPaths = []string{
	"security.allowed_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		raw, ok := k.Get(path).(string)
		if !ok || raw == "" {
			continue
		}
		parts := strings.Split(raw, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) == 0 {
			continue
		}
		if err := k.Set(path, out); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps lower-cased environment variable names to config keys.
var envMappings = map[string]string{
	"http_host":        "server.host",
	"http_port":        "server.port",
	"shutdown_timeout": "server.shutdown_timeout",

	"jwt_secret":             "security.jwt_secret",
	"allowed_origins":        "security.allowed_origins",
	"auth_timeout":           "security.auth_timeout",
	"ws_rate_limit_requests": "security.upgrade_rate_limit_requests",
	"ws_rate_limit_window":   "security.upgrade_rate_limit_window",
	"trust_proxy_headers":    "security.trust_proxy_headers",

	"max_connections_per_user":    "limits.max_per_user",
	"max_connections_per_address": "limits.max_per_address",
	"rate_limit_window":           "limits.window",
	"inbound_rate_limit":          "limits.inbound_rate",
	"inbound_rate_burst":          "limits.inbound_burst",

	"heartbeat_interval": "heartbeat.interval",

	"directory_url":              "directory.url",
	"directory_timeout":          "directory.timeout",
	"directory_breaker_failures": "directory.breaker_failures",
	"directory_breaker_timeout":  "directory.breaker_timeout",

	"nats_enabled":       "nats.enabled",
	"nats_url":           "nats.url",
	"nats_embedded":      "nats.embedded",
	"nats_embedded_port": "nats.embedded_port",
	"nats_subject":       "nats.subject",
	"nats_queue_group":   "nats.queue_group",
	"nats_subscribers":   "nats.subscribers",

	"max_reconnect_attempts":   "client.max_reconnect_attempts",
	"reconnect_backoff_base":   "client.backoff_base",
	"reconnect_backoff_cap":    "client.backoff_cap",
	"reconnect_backoff_jitter": "client.backoff_jitter",
	"auth_failure_limit":       "client.auth_failure_limit",
	"client_heartbeat_timeout": "client.heartbeat_timeout",
	"dedup_capacity":           "client.dedup_capacity",
	"batch_interval":           "client.batch_interval",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc returns "" for unmapped variables so that unrelated
// environment does not leak into the config tree.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
