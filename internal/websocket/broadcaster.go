// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

package websocket

import (
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/questline/internal/events"
	"github.com/tomtom215/questline/internal/logging"
	"github.com/tomtom215/questline/internal/metrics"
	"github.com/tomtom215/questline/internal/protocol"
	"github.com/tomtom215/questline/internal/rooms"
)

// CloseSlowConsumer is sent to connections whose send queue overflowed.
const CloseSlowConsumer = websocket.ClosePolicyViolation

// Delivery summarizes one publish.
type Delivery struct {
	Recipients int `json:"recipients"`
	Queued     int `json:"queued"`
	Dropped    int `json:"dropped"`
}

// Broadcaster fans events out to registry members.
type Broadcaster struct {
	registry *rooms.Registry[*Conn]

	// mu serializes publishes so every connection sees publish order.
	mu sync.Mutex
}

func NewBroadcaster(registry *rooms.Registry[*Conn]) *Broadcaster {
	return &Broadcaster{registry: registry}
}

// Publish delivers e to every connection in its scope. A room scope naming
// a room with no members is a no-op. A connection whose queue is full is
// closed as a slow consumer; the others still receive the event.
func (b *Broadcaster) Publish(e events.DomainEvent) (Delivery, error) {
	if err := e.Validate(); err != nil {
		return Delivery{}, fmt.Errorf("publish: %w", err)
	}
	frame, err := protocol.EncodeEvent(e)
	if err != nil {
		return Delivery{}, fmt.Errorf("publish: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	targets := b.resolve(e.Scope)
	metrics.RealtimeEventsPublished.WithLabelValues(string(e.Kind()), string(e.Scope.Type)).Inc()

	d := Delivery{Recipients: len(targets)}
	for _, c := range targets {
		if c.Enqueue(frame) {
			d.Queued++
			continue
		}
		d.Dropped++
		logging.Warn().
			Str("conn_id", c.ID()).
			Str("user_id", c.UserID()).
			Str("kind", string(e.Kind())).
			Msg("send queue full, closing slow consumer")
		c.kick(CloseSlowConsumer, "slow consumer")
	}

	if d.Queued > 0 {
		metrics.RealtimeDeliveries.WithLabelValues("queued").Add(float64(d.Queued))
	}
	if d.Dropped > 0 {
		metrics.RealtimeDeliveries.WithLabelValues("dropped").Add(float64(d.Dropped))
	}

	logging.Debug().
		Str("kind", string(e.Kind())).
		Str("scope", e.Scope.String()).
		Str("idempotency_key", e.IdempotencyKey).
		Int("recipients", d.Recipients).
		Int("dropped", d.Dropped).
		Msg("event published")
	return d, nil
}

// resolve returns the target connections ordered by ID.
func (b *Broadcaster) resolve(scope events.TargetScope) []*Conn {
	switch scope.Type {
	case events.ScopeUser:
		return b.registry.Members(rooms.UserRoom(scope.UserID))
	case events.ScopeRoom:
		return b.registry.Members(scope.Room)
	default:
		return b.registry.All()
	}
}
