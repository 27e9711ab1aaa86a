// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

package ingest

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/questline/internal/events"
	"github.com/tomtom215/questline/internal/logging"
	"github.com/tomtom215/questline/internal/metrics"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{
		Level:  "info",
		Format: "console",
		Output: io.Discard,
	})
}

type fakeSink struct {
	events chan events.DomainEvent
	err    error
}

func newFakeSink() *fakeSink {
	return &fakeSink{events: make(chan events.DomainEvent, 64)}
}

func (f *fakeSink) Publish(_ context.Context, e events.DomainEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events <- e
	return nil
}

func startServer(t *testing.T) *EmbeddedServer {
	t.Helper()
	srv, err := NewEmbeddedServer("127.0.0.1", -1)
	if err != nil {
		t.Fatalf("NewEmbeddedServer: %v", err)
	}
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func TestEmbeddedServerLifecycle(t *testing.T) {
	srv, err := NewEmbeddedServer("127.0.0.1", -1)
	if err != nil {
		t.Fatalf("NewEmbeddedServer: %v", err)
	}
	if !srv.IsRunning() {
		t.Error("server should be running")
	}
	if srv.ClientURL() == "" {
		t.Error("ClientURL is empty")
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
	if srv.IsRunning() {
		t.Error("server still running after Shutdown")
	}
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	srv := startServer(t)
	cfg := DefaultConfig()
	cfg.URL = srv.ClientURL()
	cfg.Subject = "questline.test.events"

	sink := newFakeSink()
	sub, err := NewSubscriber(cfg, sink)
	if err != nil {
		t.Fatalf("NewSubscriber: %v", err)
	}
	defer sub.Close()

	pub, err := NewPublisher(cfg)
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sub.Serve(ctx) }()

	// Core NATS drops messages published before the subscription exists,
	// so keep publishing until the first one arrives.
	base := time.Now()
	var got events.DomainEvent
	deadline := time.After(5 * time.Second)
	for i := 1; got.Payload == nil; i++ {
		e := events.New(events.XPGained{UserID: "alice", Amount: i, Source: "problem"}, events.ToUser("alice"), base.Add(time.Duration(i)*time.Millisecond))
		if err := pub.Publish(ctx, e); err != nil {
			t.Fatalf("Publish: %v", err)
		}
		select {
		case got = <-sink.events:
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatal("no event reached the sink")
		}
	}

	if got.Kind() != events.KindXPGained || got.Scope != events.ToUser("alice") {
		t.Errorf("event = %+v", got)
	}
	if got.IdempotencyKey == "" {
		t.Error("idempotency key lost in transit")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestPublisherClosed(t *testing.T) {
	srv := startServer(t)
	cfg := DefaultConfig()
	cfg.URL = srv.ClientURL()

	pub, err := NewPublisher(cfg)
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	e := events.New(events.Notification{ID: "n1", Title: "hi"}, events.Broadcast(), time.Now())
	if err := pub.Publish(context.Background(), e); !errors.Is(err, ErrPublisherClosed) {
		t.Errorf("Publish after Close = %v, want ErrPublisherClosed", err)
	}
}

func TestPublishRejectsInvalidEvent(t *testing.T) {
	srv := startServer(t)
	cfg := DefaultConfig()
	cfg.URL = srv.ClientURL()

	pub, err := NewPublisher(cfg)
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	defer pub.Close()

	if err := pub.Publish(context.Background(), events.DomainEvent{}); err == nil {
		t.Error("event without payload should be rejected")
	}
}

func TestNewSubscriberRequiresSink(t *testing.T) {
	if _, err := NewSubscriber(DefaultConfig(), nil); err == nil {
		t.Error("nil sink should be rejected")
	}
}

func TestHandleOutcomes(t *testing.T) {
	valid, err := events.Marshal(events.New(events.LevelUp{UserID: "bob", Level: 3}, events.ToUser("bob"), time.Now()))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	tests := []struct {
		name    string
		payload []byte
		sinkErr error
		outcome string
		acked   bool
	}{
		{"delivered", valid, nil, OutcomeDelivered, true},
		{"garbage", []byte("{not json"), nil, OutcomeInvalid, true},
		{"unknown kind", []byte(`{"kind":"teleported","scope":{"type":"broadcast"},"payload":{}}`), nil, OutcomeInvalid, true},
		{"sink refuses", valid, errors.New("hub stopped"), OutcomeRejected, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := newFakeSink()
			sink.err = tt.sinkErr
			s := &Subscriber{config: DefaultConfig(), sink: sink, logger: logging.NewWatermillAdapter("ingest")}

			before := testutil.ToFloat64(metrics.IngestMessages.WithLabelValues(tt.outcome))
			msg := message.NewMessage("m-1", tt.payload)
			s.handle(context.Background(), msg)

			if got := testutil.ToFloat64(metrics.IngestMessages.WithLabelValues(tt.outcome)) - before; got != 1 {
				t.Errorf("%s counter moved by %v, want 1", tt.outcome, got)
			}
			select {
			case <-msg.Acked():
				if !tt.acked {
					t.Error("message acked, want nack")
				}
			case <-msg.Nacked():
				if tt.acked {
					t.Error("message nacked, want ack")
				}
			default:
				t.Error("message neither acked nor nacked")
			}
		})
	}
}
