// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/questline/internal/events"
	"github.com/tomtom215/questline/internal/logging"
)

// ErrPublisherClosed is returned by Publish after Close.
var ErrPublisherClosed = errors.New("ingest: publisher is closed")

// Metadata keys set on every published message.
const (
	MetadataKind  = "kind"
	MetadataScope = "scope"
)

// Publisher sends domain events to the ingest subject. Producers use it;
// the realtime server only needs it for tooling and tests.
type Publisher struct {
	publisher message.Publisher
	subject   string
	breaker   *gobreaker.CircuitBreaker[interface{}]
	logger    watermill.LoggerAdapter

	mu     sync.RWMutex
	closed bool
}

// NewPublisher connects to NATS. Publishes go through a circuit breaker
// that opens after five consecutive failures.
func NewPublisher(cfg Config) (*Publisher, error) {
	cfg = cfg.withDefaults()
	logger := logging.NewWatermillAdapter("ingest")

	wmConfig := wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOptions(cfg, "publisher", logger),
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled: true,
		},
	}

	pub, err := wmNats.NewPublisher(wmConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        "ingest-publish",
		MaxRequests: 1,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("Circuit breaker state changed", watermill.LogFields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})

	return &Publisher{
		publisher: pub,
		subject:   cfg.Subject,
		breaker:   breaker,
		logger:    logger,
	}, nil
}

// Publish validates and sends one event. The message UUID is the event's
// idempotency key so duplicates can be recognised downstream.
func (p *Publisher) Publish(ctx context.Context, e events.DomainEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := e.Validate(); err != nil {
		return err
	}
	data, err := events.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := message.NewMessage(e.IdempotencyKey, data)
	msg.Metadata.Set(MetadataKind, string(e.Kind()))
	msg.Metadata.Set(MetadataScope, e.Scope.String())
	msg.SetContext(ctx)

	_, err = p.breaker.Execute(func() (interface{}, error) {
		return nil, p.publisher.Publish(p.subject, msg)
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", e.Kind(), err)
	}
	return nil
}

// BreakerState reports the publish circuit breaker state.
func (p *Publisher) BreakerState() gobreaker.State {
	return p.breaker.State()
}

// Close flushes and closes the NATS connection. It is safe to call twice.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.publisher.Close()
}
