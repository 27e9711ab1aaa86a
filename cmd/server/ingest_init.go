// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/tomtom215/questline/internal/config"
	"github.com/tomtom215/questline/internal/ingest"
	"github.com/tomtom215/questline/internal/logging"
)

// IngestComponents holds the NATS ingest pieces for lifecycle management.
type IngestComponents struct {
	server     *ingest.EmbeddedServer
	subscriber *ingest.Subscriber

	mu      sync.Mutex
	running bool
}

// InitIngest builds the producer event ingest when NATS_ENABLED=true. It
// returns nil, nil when ingest is disabled.
func InitIngest(cfg *config.Config, sink ingest.Sink) (*IngestComponents, error) {
	if !cfg.NATS.Enabled {
		logging.Info().Msg("NATS ingest disabled (NATS_ENABLED=false)")
		return nil, nil
	}

	c := &IngestComponents{}
	url := cfg.NATS.URL
	if cfg.NATS.Embedded {
		srv, err := ingest.NewEmbeddedServer("127.0.0.1", cfg.NATS.EmbeddedPort)
		if err != nil {
			return nil, fmt.Errorf("start embedded NATS: %w", err)
		}
		c.server = srv
		url = srv.ClientURL()
		logging.Info().Str("url", url).Msg("Embedded NATS server started")
	}

	sub, err := ingest.NewSubscriber(ingest.Config{
		URL:         url,
		Subject:     cfg.NATS.Subject,
		QueueGroup:  cfg.NATS.QueueGroup,
		Subscribers: cfg.NATS.Subscribers,
	}, sink)
	if err != nil {
		c.Shutdown(context.Background())
		return nil, fmt.Errorf("create ingest subscriber: %w", err)
	}
	c.subscriber = sub
	c.running = true

	logging.Info().
		Str("url", url).
		Str("subject", cfg.NATS.Subject).
		Str("queue_group", cfg.NATS.QueueGroup).
		Msg("NATS ingest initialized")
	return c, nil
}

// Subscriber returns the ingest subscriber, or nil when ingest is disabled.
func (c *IngestComponents) Subscriber() *ingest.Subscriber {
	if c == nil {
		return nil
	}
	return c.subscriber
}

// IsRunning returns true if the components have been initialized and not
// shut down.
func (c *IngestComponents) IsRunning() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Shutdown closes the subscriber, then stops the embedded server. Call it
// after the supervisor tree has stopped.
func (c *IngestComponents) Shutdown(ctx context.Context) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.subscriber != nil {
		if err := c.subscriber.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing ingest subscriber")
		}
		c.subscriber = nil
	}
	if c.server != nil {
		if err := c.server.Shutdown(ctx); err != nil {
			logging.Error().Err(err).Msg("Error stopping embedded NATS server")
		}
		c.server = nil
	}
	c.running = false
}
