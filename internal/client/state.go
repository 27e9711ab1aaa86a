// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

package client

// State is the connection manager's lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	// StateFallback is reached once retries are exhausted or credentials
	// were rejected. Only Retry or SetToken leave it.
	StateFallback
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Cause says why a connection or connection attempt ended.
type Cause string

const (
	CauseNone                Cause = ""
	CauseClientClose         Cause = "client_close"
	CauseServerClose         Cause = "server_close"
	CausePingTimeout         Cause = "ping_timeout"
	CauseTransportError      Cause = "transport_error"
	CauseAuthRejected        Cause = "auth_rejected"
	CauseCapacityRejected    Cause = "capacity_rejected"
	CauseServerMisconfigured Cause = "server_misconfigured"
)

// Transition describes one state change.
type Transition struct {
	From  State
	To    State
	Cause Cause
}
