// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/questline/internal/events"
	"github.com/tomtom215/questline/internal/limiter"
	"github.com/tomtom215/questline/internal/logging"
	"github.com/tomtom215/questline/internal/protocol"
	"github.com/tomtom215/questline/internal/rooms"
)

// ShutdownReason identifies why the hub is shutting down.
type ShutdownReason string

const (
	// ShutdownReasonContextCanceled is the normal graceful path (SIGTERM).
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"

	// ShutdownReasonContextDeadline may indicate a hung operation.
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

const publishQueueSize = 256

// ErrHubStopped is returned by Publish once the hub loop has exited.
var ErrHubStopped = errors.New("hub stopped")

// Hub owns the publish queue and the periodic limiter sweep.
type Hub struct {
	registry    *rooms.Registry[*Conn]
	limiter     *limiter.Limiter
	broadcaster *Broadcaster

	publish  chan events.DomainEvent
	stopped  chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewHub creates a hub over the shared registry and limiter.
func NewHub(registry *rooms.Registry[*Conn], lim *limiter.Limiter) *Hub {
	return &Hub{
		registry:    registry,
		limiter:     lim,
		broadcaster: NewBroadcaster(registry),
		publish:     make(chan events.DomainEvent, publishQueueSize),
		stopped:     make(chan struct{}),
		now:         time.Now,
	}
}

// Broadcaster returns the hub's broadcaster.
func (h *Hub) Broadcaster() *Broadcaster { return h.broadcaster }

// Publish queues e for delivery. It blocks while the queue is full until
// ctx is done.
func (h *Hub) Publish(ctx context.Context, e events.DomainEvent) error {
	if err := e.Validate(); err != nil {
		return err
	}
	select {
	case <-h.stopped:
		return ErrHubStopped
	default:
	}
	select {
	case h.publish <- e:
		return nil
	case <-h.stopped:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunWithContext drains the publish queue and sweeps the limiter until ctx
// is canceled. Designed for use with suture supervision.
//
// When the context is canceled:
//  1. Every connection gets a server_shutdown frame
//  2. Every connection is closed with 1001 (going away)
//  3. The method returns ctx.Err()
//
// DETERMINISM: Uses priority-based selection:
//   - Priority 1: Context cancellation (shutdown)
//   - Priority 2: Queued publishes
//   - Priority 3: Limiter sweep
func (h *Hub) RunWithContext(ctx context.Context) error {
	sweep := time.NewTicker(h.limiter.Window())
	defer sweep.Stop()

	logging.Info().Str("component", "websocket-hub").Msg("websocket hub started")

	for {
		// Priority 1: Check for shutdown (non-blocking)
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		// Priority 2: Drain publishes before housekeeping (non-blocking)
		select {
		case e := <-h.publish:
			h.deliver(e)
			continue
		default:
		}

		// Priority 3: Wait for any event (blocking)
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()

		case e := <-h.publish:
			h.deliver(e)

		case <-sweep.C:
			if pruned := h.limiter.Sweep(h.now()); pruned > 0 {
				logging.Debug().Int("pruned", pruned).Msg("limiter sweep")
			}
		}
	}
}

func (h *Hub) deliver(e events.DomainEvent) {
	if _, err := h.broadcaster.Publish(e); err != nil {
		logging.Warn().Err(err).Str("kind", string(e.Kind())).Msg("failed to publish event")
	}
}

// shutdown notifies and closes every connection, in ID order, and logs the
// outcome without an error field since cancellation is expected.
func (h *Hub) shutdown(ctx context.Context) {
	h.stopOnce.Do(func() { close(h.stopped) })

	notice := protocol.MustEncode(protocol.TypeServerShutdown, protocol.ServerShutdown{
		Message:   "server is shutting down, please reconnect shortly",
		Timestamp: h.now().UTC(),
	})

	conns := h.registry.All()
	for _, c := range conns {
		c.Enqueue(notice)
		c.Close(websocket.CloseGoingAway, "server shutting down")
	}

	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", string(getShutdownReason(ctx))).
		Int("clients_closed", len(conns)).
		Int("pending_events", len(h.publish)).
		Msg("websocket hub stopped")
}

func getShutdownReason(ctx context.Context) ShutdownReason {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return ShutdownReasonContextDeadline
	default:
		return ShutdownReasonContextCanceled
	}
}
