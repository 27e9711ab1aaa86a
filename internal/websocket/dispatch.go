// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

package websocket

import (
	"errors"

	"github.com/tomtom215/questline/internal/logging"
	"github.com/tomtom215/questline/internal/metrics"
	"github.com/tomtom215/questline/internal/protocol"
	"github.com/tomtom215/questline/internal/rooms"
	"github.com/tomtom215/questline/internal/validation"
)

// Inbound outcomes for the realtime_inbound_messages_total metric.
const (
	outcomeOK          = "ok"
	outcomeDenied      = "denied"
	outcomeInvalid     = "invalid"
	outcomeRateLimited = "rate_limited"
	outcomeIgnored     = "ignored"
)

// dispatch handles one client frame. Frames from one connection are handled
// in arrival order on its read pump.
func (g *Gateway) dispatch(c *Conn, data []byte) {
	if !c.inbound.Allow() {
		metrics.RealtimeInboundMessages.WithLabelValues("unknown", outcomeRateLimited).Inc()
		g.sendError(c, protocol.CodeRateLimited, "too many messages, slow down")
		return
	}

	msg, err := protocol.Decode(data)
	if err != nil {
		metrics.RealtimeInboundMessages.WithLabelValues("unknown", outcomeInvalid).Inc()
		g.sendError(c, protocol.CodeInvalidMessage, "frame is not a valid message")
		return
	}

	var outcome string
	switch msg.Type {
	case protocol.TypeJoinRoom:
		var req protocol.RoomRequest
		if outcome = g.decodeRequest(c, msg, &req); outcome == outcomeOK {
			outcome = g.join(c, req.Room)
		}
	case protocol.TypeLeaveRoom:
		var req protocol.RoomRequest
		if outcome = g.decodeRequest(c, msg, &req); outcome == outcomeOK {
			outcome = g.leave(c, req.Room)
		}
	case protocol.TypeSubscribeLeaderboard:
		var req protocol.LeaderboardRequest
		if outcome = g.decodeRequest(c, msg, &req); outcome == outcomeOK {
			outcome = g.join(c, rooms.LeaderboardRoom(req.Type))
		}
	case protocol.TypeUnsubscribeLeaderboard:
		var req protocol.LeaderboardRequest
		if outcome = g.decodeRequest(c, msg, &req); outcome == outcomeOK {
			outcome = g.leave(c, rooms.LeaderboardRoom(req.Type))
		}
	case protocol.TypeHeartbeat:
		var hb protocol.Heartbeat
		if outcome = g.decodeRequest(c, msg, &hb); outcome == outcomeOK {
			if _, ok := g.monitor.Observe(c.id, hb); !ok {
				outcome = outcomeIgnored
			}
		}
	case protocol.TypeAuth:
		// Already authenticated; a late auth frame changes nothing.
		outcome = outcomeIgnored
	default:
		outcome = outcomeInvalid
		g.sendError(c, protocol.CodeUnknownType, "unknown message type "+sanitizeLogValue(msg.Type))
		metrics.RealtimeInboundMessages.WithLabelValues("unknown", outcome).Inc()
		return
	}

	metrics.RealtimeInboundMessages.WithLabelValues(msg.Type, outcome).Inc()
}

func (g *Gateway) decodeRequest(c *Conn, msg protocol.Message, v interface{}) string {
	if err := msg.DecodeData(v); err != nil {
		g.sendError(c, protocol.CodeInvalidPayload, err.Error())
		return outcomeInvalid
	}
	if verr := validation.ValidateStruct(v); verr != nil {
		g.sendError(c, protocol.CodeInvalidPayload, verr.Error())
		return outcomeInvalid
	}
	return outcomeOK
}

func (g *Gateway) join(c *Conn, room string) string {
	err := g.registry.Join(c.ctx, c, room)
	if err == nil {
		c.Enqueue(protocol.MustEncode(protocol.TypeRoomJoined, protocol.RoomAck{Room: room}))
		return outcomeOK
	}

	var denied *rooms.AuthorizationError
	switch {
	case errors.As(err, &denied):
		c.Enqueue(protocol.MustEncode(joinErrorType(room), protocol.JoinError{Room: room, Reason: string(denied.Decision)}))
		logging.Debug().
			Str("conn_id", c.id).
			Str("user_id", c.userID).
			Str("room", room).
			Str("reason", string(denied.Decision)).
			Msg("room join denied")
		return outcomeDenied
	case errors.Is(err, rooms.ErrInvalidName):
		c.Enqueue(protocol.MustEncode(protocol.TypeJoinRoomError, protocol.JoinError{Room: room, Reason: "invalid_room"}))
		return outcomeInvalid
	default:
		// Not admitted: the connection is already being torn down.
		return outcomeIgnored
	}
}

func (g *Gateway) leave(c *Conn, room string) string {
	if err := g.registry.Leave(c, room); err != nil {
		g.sendError(c, protocol.CodeInvalidPayload, err.Error())
		return outcomeInvalid
	}
	c.Enqueue(protocol.MustEncode(protocol.TypeRoomLeft, protocol.RoomAck{Room: room}))
	return outcomeOK
}

func joinErrorType(room string) string {
	name, err := rooms.Parse(room)
	if err != nil {
		return protocol.TypeJoinRoomError
	}
	switch name.Kind {
	case rooms.KindGroup:
		return protocol.TypeJoinGroupError
	case rooms.KindChallenge:
		return protocol.TypeJoinChallengeError
	default:
		return protocol.TypeJoinRoomError
	}
}

func (g *Gateway) sendError(c *Conn, code, message string) {
	c.Enqueue(protocol.MustEncode(protocol.TypeError, protocol.Error{Code: code, Message: message}))
}
