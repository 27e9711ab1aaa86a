// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

// Command listen connects to a Questline realtime server, joins rooms and
// prints every flushed event batch and connection state change.
//
//	listen -url ws://localhost:8081/ws -token $TOKEN -room pattern:two-pointers -leaderboard weekly
//
// With -secret and -user instead of -token, listen mints its own HS256
// token, which is convenient against a development server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/questline/internal/auth"
	"github.com/tomtom215/questline/internal/client"
	"github.com/tomtom215/questline/internal/config"
	"github.com/tomtom215/questline/internal/logging"
	"github.com/tomtom215/questline/internal/protocol"
)

type listOfStrings []string

func (l *listOfStrings) String() string { return strings.Join(*l, ",") }

func (l *listOfStrings) Set(v string) error {
	*l = append(*l, v)
	return nil
}

type options struct {
	url          string
	token        string
	secret       string
	user         string
	rooms        listOfStrings
	leaderboards listOfStrings
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("listen", flag.ContinueOnError)
	fs.StringVar(&o.url, "url", "ws://localhost:8081/ws", "realtime endpoint")
	fs.StringVar(&o.token, "token", os.Getenv("QUESTLINE_TOKEN"), "bearer token (default $QUESTLINE_TOKEN)")
	fs.StringVar(&o.secret, "secret", "", "mint a token with this HS256 secret instead of -token")
	fs.StringVar(&o.user, "user", "", "user id for a minted token")
	fs.Var(&o.rooms, "room", "room to join after connecting (repeatable)")
	fs.Var(&o.leaderboards, "leaderboard", "leaderboard type to subscribe to (repeatable)")
	if err := fs.Parse(args); err != nil {
		return o, err
	}

	if o.token == "" && o.secret != "" {
		if o.user == "" {
			return o, errors.New("-user is required with -secret")
		}
		tok, err := auth.NewIssuer(o.secret, time.Hour).Issue(o.user, o.user, time.Now())
		if err != nil {
			return o, fmt.Errorf("mint token: %w", err)
		}
		o.token = tok
	}
	if o.token == "" {
		return o, errors.New("a token is required: pass -token, set QUESTLINE_TOKEN or use -secret and -user")
	}
	return o, nil
}

// printer writes batches and state changes as JSON lines.
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *printer) line(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to encode output line")
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, string(data))
}

func (p *printer) batch(b client.Batch) {
	p.line(map[string]interface{}{
		"batch":       b.FlushedAt,
		"progress":    b.Progress,
		"activity":    b.Activity,
		"leaderboard": b.Leaderboard,
	})
}

func (p *printer) state(t client.Transition) {
	p.line(map[string]string{
		"from":  t.From.String(),
		"to":    t.To.String(),
		"cause": string(t.Cause),
	})
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: "console",
		Output: os.Stderr,
	})

	out := &printer{out: os.Stdout}
	batcher := client.NewBatcher(client.BatcherConfig{Interval: cfg.Client.BatchInterval}, out.batch)
	pipeline := client.NewPipeline(client.NewDeduplicator(cfg.Client.DedupCapacity), batcher)
	defer pipeline.Close()

	fallback := client.NewFallbackDetector(func(active bool, cause client.Cause) {
		if active {
			logging.Warn().Str("cause", string(cause)).Msg("Live updates unavailable; press Ctrl+C to quit")
		} else {
			logging.Info().Msg("Live updates restored")
		}
	})

	var m *client.Manager
	m = client.NewManager(client.Config{
		URL:   opts.url,
		Token: opts.token,
		Policy: client.Policy{
			Base:             cfg.Client.BackoffBase,
			Cap:              cfg.Client.BackoffCap,
			Jitter:           cfg.Client.BackoffJitter,
			MaxAttempts:      cfg.Client.MaxReconnectAttempts,
			AuthFailureLimit: cfg.Client.AuthFailureLimit,
		},
		HeartbeatTimeout: cfg.Client.HeartbeatTimeout,
	}, client.Callbacks{
		OnStateChange: func(t client.Transition) {
			out.state(t)
			fallback.Observe(t)
		},
		OnConnected: func(c protocol.Connected) {
			logging.Info().Str("user_id", c.UserID).Msg("Connected")
			for _, room := range opts.rooms {
				if err := m.JoinRoom(room); err != nil {
					logging.Warn().Err(err).Str("room", room).Msg("Failed to join room")
				}
			}
			for _, board := range opts.leaderboards {
				if err := m.SubscribeLeaderboard(board); err != nil {
					logging.Warn().Err(err).Str("leaderboard", board).Msg("Failed to subscribe")
				}
			}
		},
		OnMessage: func(msg protocol.Message) {
			if pipeline.Handle(msg) {
				return
			}
			switch msg.Type {
			case protocol.TypeJoinRoomError, protocol.TypeJoinGroupError, protocol.TypeJoinChallengeError, protocol.TypeError:
				logging.Warn().Str("type", msg.Type).RawJSON("data", msg.Data).Msg("Server reported an error")
			}
		},
		OnCredentialsRejected: func() {
			logging.Error().Msg("Token rejected repeatedly; obtain a new token and restart")
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m.Connect()
	<-ctx.Done()
	m.Close()
}
