// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

// Package protocol defines the JSON frames exchanged over the realtime
// websocket. Every frame is a Message envelope whose Type selects the shape
// of Data. Domain events reuse their kind as the type and add the
// idempotency key and emission timestamp to the envelope.
package protocol

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/questline/internal/events"
)

// Client to server frame types.
const (
	TypeAuth                   = "auth"
	TypeJoinRoom               = "join_room"
	TypeLeaveRoom              = "leave_room"
	TypeSubscribeLeaderboard   = "subscribe_leaderboard"
	TypeUnsubscribeLeaderboard = "unsubscribe_leaderboard"
)

// Server to client frame types. Domain events use events.Kind values.
const (
	TypeConnected          = "connected"
	TypeConnectError       = "connect_error"
	TypeJoinGroupError     = "join_group_error"
	TypeJoinChallengeError = "join_challenge_error"
	TypeJoinRoomError      = "join_room_error"
	TypeRoomJoined         = "room_joined"
	TypeRoomLeft           = "room_left"
	TypeHeartbeatResponse  = "heartbeat_response"
	TypeServerShutdown     = "server_shutdown"
	TypeError              = "error"
)

// TypeHeartbeat flows both ways: the server probes and the client echoes.
const TypeHeartbeat = "heartbeat"

// Close codes used when the server ends a connection.
const (
	CloseAuthFailed          = 4001
	CloseCapacityExceeded    = 4029
	CloseServerMisconfigured = 4500
)

// Message is the envelope of every frame.
type Message struct {
	Type           string          `json:"type"`
	Data           json.RawMessage `json:"data,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Timestamp      *time.Time      `json:"timestamp,omitempty"`
}

// Auth is the first frame a client sends.
type Auth struct {
	Token string `json:"token"`
}

// RoomRequest is the payload of join_room and leave_room.
type RoomRequest struct {
	Room string `json:"room" validate:"required,room_name"`
}

// LeaderboardRequest is the payload of (un)subscribe_leaderboard.
type LeaderboardRequest struct {
	Type string `json:"type" validate:"required,room_id"`
}

// Connected confirms admission.
type Connected struct {
	UserID     string    `json:"user_id"`
	ServerTime time.Time `json:"server_time"`
}

// ConnectError precedes the close frame of a rejected connection.
type ConnectError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// JoinError reports a denied room join. The connection stays open.
type JoinError struct {
	Room   string `json:"room"`
	Reason string `json:"reason"`
}

// RoomAck confirms a join or leave.
type RoomAck struct {
	Room string `json:"room"`
}

// Heartbeat is the probe and its echo. Timestamp is unix milliseconds.
type Heartbeat struct {
	Timestamp int64  `json:"timestamp"`
	Seq       uint64 `json:"seq"`
}

// HeartbeatResponse reports the measured round trip of an echoed probe.
type HeartbeatResponse struct {
	Timestamp int64  `json:"timestamp"`
	LatencyMS int64  `json:"latency_ms"`
	Quality   string `json:"quality"`
}

// ServerShutdown warns clients before the server closes them.
type ServerShutdown struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Error reports a problem with a client frame.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes carried by Error frames.
const (
	CodeRateLimited    = "rate_limited"
	CodeInvalidMessage = "invalid_message"
	CodeInvalidPayload = "invalid_payload"
	CodeUnknownType    = "unknown_type"
)

// IsEventType reports whether a frame type is a domain event kind.
func IsEventType(t string) bool {
	return events.Kind(t).Valid()
}
