// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/tomtom215/questline/internal/auth"
	"github.com/tomtom215/questline/internal/client"
)

func TestParseFlags(t *testing.T) {
	t.Setenv("QUESTLINE_TOKEN", "")

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"token", []string{"-token", "abc", "-room", "pattern:p1", "-room", "group:g1"}, ""},
		{"minted", []string{"-secret", "s3cret", "-user", "alice"}, ""},
		{"secret without user", []string{"-secret", "s3cret"}, "-user is required"},
		{"no token", []string{"-room", "pattern:p1"}, "a token is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFlags(tt.args)
			if tt.wantErr == "" && err != nil {
				t.Fatalf("parseFlags: %v", err)
			}
			if tt.wantErr != "" && (err == nil || !strings.Contains(err.Error(), tt.wantErr)) {
				t.Fatalf("parseFlags err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseFlagsMintsVerifiableToken(t *testing.T) {
	t.Setenv("QUESTLINE_TOKEN", "")
	o, err := parseFlags([]string{"-secret", "s3cret", "-user", "alice", "-leaderboard", "weekly"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	id, err := auth.NewVerifier("s3cret").Verify(o.token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.UserID != "alice" {
		t.Errorf("UserID = %q", id.UserID)
	}
	if len(o.leaderboards) != 1 || o.leaderboards[0] != "weekly" {
		t.Errorf("leaderboards = %v", o.leaderboards)
	}
}

func TestPrinterState(t *testing.T) {
	var buf bytes.Buffer
	p := &printer{out: &buf}
	p.state(client.Transition{From: client.StateConnected, To: client.StateReconnecting, Cause: client.CausePingTimeout})

	got := strings.TrimSpace(buf.String())
	want := `{"cause":"ping_timeout","from":"connected","to":"reconnecting"}`
	if got != want {
		t.Errorf("line = %s, want %s", got, want)
	}
}
