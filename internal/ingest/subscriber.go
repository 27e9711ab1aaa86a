// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/questline/internal/events"
	"github.com/tomtom215/questline/internal/logging"
	"github.com/tomtom215/questline/internal/metrics"
)

// Outcomes for the ingest_messages_total metric.
const (
	OutcomeDelivered = "delivered"
	OutcomeInvalid   = "invalid"
	OutcomeRejected  = "rejected"
)

// Sink receives decoded events. The hub implements it.
type Sink interface {
	Publish(ctx context.Context, e events.DomainEvent) error
}

// Subscriber consumes producer events from NATS and forwards them to a
// Sink. Undecodable messages are acked and dropped; messages the sink
// refuses are nacked.
type Subscriber struct {
	subscriber message.Subscriber
	config     Config
	sink       Sink
	logger     watermill.LoggerAdapter
}

// NewSubscriber connects to NATS. The connection is retried in the
// background when the broker is not reachable yet.
func NewSubscriber(cfg Config, sink Sink) (*Subscriber, error) {
	if sink == nil {
		return nil, errors.New("ingest: nil sink")
	}
	cfg = cfg.withDefaults()
	logger := logging.NewWatermillAdapter("ingest")

	wmConfig := wmNats.SubscriberConfig{
		URL:              cfg.URL,
		QueueGroupPrefix: cfg.QueueGroup,
		SubscribersCount: cfg.Subscribers,
		AckWaitTimeout:   cfg.AckWaitTimeout,
		CloseTimeout:     cfg.CloseTimeout,
		NatsOptions:      natsOptions(cfg, "subscriber", logger),
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled: true,
		},
	}

	sub, err := wmNats.NewSubscriber(wmConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill subscriber: %w", err)
	}

	return &Subscriber{
		subscriber: sub,
		config:     cfg,
		sink:       sink,
		logger:     logger,
	}, nil
}

// Serve subscribes and forwards messages until ctx is done or the
// subscription channel closes.
func (s *Subscriber) Serve(ctx context.Context) error {
	messages, err := s.subscriber.Subscribe(ctx, s.config.Subject)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", s.config.Subject, err)
	}

	s.logger.Info("Ingest subscriber started", watermill.LogFields{
		"subject":     s.config.Subject,
		"queue_group": s.config.QueueGroup,
	})

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return errors.New("ingest: subscription closed")
			}
			s.handle(ctx, msg)
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, msg *message.Message) {
	e, err := events.Unmarshal(msg.Payload)
	if err != nil {
		metrics.IngestMessages.WithLabelValues(OutcomeInvalid).Inc()
		s.logger.Error("Dropping undecodable event", err, watermill.LogFields{
			"message_uuid": msg.UUID,
		})
		msg.Ack()
		return
	}

	if err := s.sink.Publish(ctx, e); err != nil {
		metrics.IngestMessages.WithLabelValues(OutcomeRejected).Inc()
		s.logger.Error("Hub refused event", err, watermill.LogFields{
			"message_uuid":    msg.UUID,
			"kind":            string(e.Kind()),
			"idempotency_key": e.IdempotencyKey,
		})
		msg.Nack()
		return
	}

	metrics.IngestMessages.WithLabelValues(OutcomeDelivered).Inc()
	msg.Ack()
}

// Close stops the subscriber and its NATS connection.
func (s *Subscriber) Close() error {
	return s.subscriber.Close()
}

func (s *Subscriber) String() string {
	return "ingest-subscriber(" + s.config.Subject + ")"
}
