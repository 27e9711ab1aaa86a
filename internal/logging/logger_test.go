// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// captureLogs points the global logger at a buffer for the duration of a test.
func captureLogs(t *testing.T, level string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	Init(Config{Level: level, Format: "json", Output: &buf})
	t.Cleanup(func() { Init(DefaultConfig()) })
	return &buf
}

func decodeLine(t *testing.T, line string) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		t.Fatalf("invalid JSON log line %q: %v", line, err)
	}
	return m
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Level != "info" {
		t.Errorf("Level = %q, want info", cfg.Level)
	}
	if cfg.Format != "json" {
		t.Errorf("Format = %q, want json", cfg.Format)
	}
	if !cfg.Timestamp {
		t.Error("expected timestamps enabled by default")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{" error ", zerolog.ErrorLevel},
		{"disabled", zerolog.Disabled},
		{"nonsense", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if IsValidLevel("verbose") {
		t.Error("verbose should not be a valid level")
	}
	if !IsValidLevel("warn") {
		t.Error("warn should be a valid level")
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := captureLogs(t, "warn")

	Info().Msg("dropped")
	Warn().Msg("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Error("info entry written at warn level")
	}
	if !strings.Contains(out, "kept") {
		t.Error("warn entry missing")
	}
}

func TestWithComponent(t *testing.T) {
	buf := captureLogs(t, "info")

	l := WithComponent("gateway")
	l.Info().Msg("hello")

	m := decodeLine(t, strings.TrimSpace(buf.String()))
	if m["component"] != "gateway" {
		t.Errorf("component = %v, want gateway", m["component"])
	}
	if m["message"] != "hello" {
		t.Errorf("message = %v, want hello", m["message"])
	}
}

func TestCtxAddsIDs(t *testing.T) {
	buf := captureLogs(t, "info")

	ctx := ContextWithCorrelationID(context.Background(), "corr1234")
	ctx = ContextWithRequestID(ctx, "req-1")
	Ctx(ctx).Info().Msg("with ids")

	m := decodeLine(t, strings.TrimSpace(buf.String()))
	if m["correlation_id"] != "corr1234" {
		t.Errorf("correlation_id = %v", m["correlation_id"])
	}
	if m["request_id"] != "req-1" {
		t.Errorf("request_id = %v", m["request_id"])
	}
}

func TestCtxWithoutIDs(t *testing.T) {
	buf := captureLogs(t, "info")

	Ctx(context.Background()).Info().Msg("plain")

	m := decodeLine(t, strings.TrimSpace(buf.String()))
	if _, ok := m["correlation_id"]; ok {
		t.Error("unexpected correlation_id field")
	}
}

func TestGenerateIDs(t *testing.T) {
	if got := len(GenerateCorrelationID()); got != 8 {
		t.Errorf("correlation ID length = %d, want 8", got)
	}
	if GenerateRequestID() == GenerateRequestID() {
		t.Error("request IDs should be unique")
	}
}

func TestSlogHandler(t *testing.T) {
	buf := captureLogs(t, "debug")

	logger := NewSlogLogger().With("service", "hub").WithGroup("restart")
	logger.Warn("service restarted", "attempt", 3, "err", errors.New("boom"))

	m := decodeLine(t, strings.TrimSpace(buf.String()))
	if m["level"] != "warn" {
		t.Errorf("level = %v, want warn", m["level"])
	}
	if m["service"] != "hub" {
		t.Errorf("service = %v", m["service"])
	}
	if m["restart.attempt"] != float64(3) {
		t.Errorf("restart.attempt = %v", m["restart.attempt"])
	}
	if m["restart.err"] != "boom" {
		t.Errorf("restart.err = %v", m["restart.err"])
	}
}

func TestSlogHandlerEnabled(t *testing.T) {
	captureLogs(t, "error")

	h := NewSlogHandler()
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info should be disabled at error level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("error should be enabled at error level")
	}
}

func TestWatermillAdapter(t *testing.T) {
	buf := captureLogs(t, "debug")

	var a watermill.LoggerAdapter = NewWatermillAdapter("ingest")
	a = a.With(watermill.LogFields{"topic": "questline.events"})
	a.Error("handler failed", errors.New("bad payload"), watermill.LogFields{"uuid": "m1"})

	m := decodeLine(t, strings.TrimSpace(buf.String()))
	if m["component"] != "ingest" || m["topic"] != "questline.events" || m["uuid"] != "m1" {
		t.Errorf("unexpected fields: %v", m)
	}
	if m["error"] != "bad payload" {
		t.Errorf("error = %v", m["error"])
	}
}
