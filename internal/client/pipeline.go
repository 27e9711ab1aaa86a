// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

package client

import (
	"github.com/tomtom215/questline/internal/logging"
	"github.com/tomtom215/questline/internal/protocol"
)

// Pipeline routes inbound frames through the deduplicator into the batcher.
// Frames that are not domain events are ignored.
type Pipeline struct {
	dedup   *Deduplicator
	batcher *Batcher
}

func NewPipeline(dedup *Deduplicator, batcher *Batcher) *Pipeline {
	return &Pipeline{dedup: dedup, batcher: batcher}
}

// Handle reports whether msg was accepted for the next batch. It is
// suitable as Callbacks.OnMessage.
func (p *Pipeline) Handle(msg protocol.Message) bool {
	if !protocol.IsEventType(msg.Type) {
		return false
	}
	e, err := protocol.DecodeEvent(msg)
	if err != nil {
		logging.Debug().Err(err).Str("type", msg.Type).Msg("Dropping undecodable event")
		return false
	}
	if !p.dedup.Accept(e.IdempotencyKey) {
		logging.Debug().Str("idempotency_key", e.IdempotencyKey).Msg("Dropping duplicate event")
		return false
	}
	return p.batcher.Add(e)
}

// Close flushes pending events.
func (p *Pipeline) Close() {
	p.batcher.Close()
}
