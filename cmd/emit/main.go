// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

// Command emit publishes one domain event to the realtime server's NATS
// ingest subject, the way a producer service would.
//
//	emit -kind xp_gained -user alice -data '{"user_id":"alice","amount":25,"source":"problem"}'
//	emit -kind leaderboard_update -room leaderboard:weekly -data '{"type":"weekly","entries":[]}'
//	emit -kind notification -data '{"id":"n1","title":"Maintenance","message":"Back in 5"}'
//
// The scope is the user's room with -user, the named room with -room, and a
// broadcast otherwise.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/tomtom215/questline/internal/events"
	"github.com/tomtom215/questline/internal/ingest"
	"github.com/tomtom215/questline/internal/logging"
)

type options struct {
	url     string
	subject string
	kind    string
	user    string
	room    string
	data    string
	key     string
	timeout time.Duration
}

func parseFlags(args []string) (options, error) {
	def := ingest.DefaultConfig()
	var o options
	fs := flag.NewFlagSet("emit", flag.ContinueOnError)
	fs.StringVar(&o.url, "nats", def.URL, "NATS server URL")
	fs.StringVar(&o.subject, "subject", def.Subject, "ingest subject")
	fs.StringVar(&o.kind, "kind", "", "event kind, e.g. xp_gained")
	fs.StringVar(&o.user, "user", "", "deliver to this user's connections")
	fs.StringVar(&o.room, "room", "", "deliver to this room")
	fs.StringVar(&o.data, "data", "", "JSON payload for the kind")
	fs.StringVar(&o.key, "key", "", "idempotency key (default derived from the event)")
	fs.DurationVar(&o.timeout, "timeout", 10*time.Second, "publish timeout")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.kind == "" || o.data == "" {
		return o, errors.New("-kind and -data are required")
	}
	if o.user != "" && o.room != "" {
		return o, errors.New("-user and -room are mutually exclusive")
	}
	return o, nil
}

// buildEvent decodes the payload for the kind and applies the scope.
func buildEvent(o options, now time.Time) (events.DomainEvent, error) {
	payload, err := events.DecodePayload(events.Kind(o.kind), []byte(o.data))
	if err != nil {
		return events.DomainEvent{}, err
	}

	scope := events.Broadcast()
	switch {
	case o.user != "":
		scope = events.ToUser(o.user)
	case o.room != "":
		scope = events.ToRoom(o.room)
	}

	e := events.New(payload, scope, now).WithKey(o.key)
	if err := e.Validate(); err != nil {
		return events.DomainEvent{}, err
	}
	return e, nil
}

func run(o options) error {
	e, err := buildEvent(o, time.Now())
	if err != nil {
		return fmt.Errorf("build event: %w", err)
	}

	pub, err := ingest.NewPublisher(ingest.Config{URL: o.url, Subject: o.subject})
	if err != nil {
		return fmt.Errorf("connect publisher: %w", err)
	}
	defer func() {
		if err := pub.Close(); err != nil {
			logging.Warn().Err(err).Msg("Error closing publisher")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()
	if err := pub.Publish(ctx, e); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	logging.Info().
		Str("kind", string(e.Kind())).
		Str("scope", e.Scope.String()).
		Str("idempotency_key", e.IdempotencyKey).
		Msg("Event published")
	return nil
}

func main() {
	logging.Init(logging.Config{Level: "info", Format: "console", Output: os.Stderr})

	o, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := run(o); err != nil {
		logging.Fatal().Err(err).Msg("emit failed")
	}
}
