// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

/*
Package websocket is the server side of the Questline realtime layer.

It accepts websocket connections, authenticates them, keeps them in rooms
and fans domain events out to them.

Key Components:

  - Gateway: upgrades HTTP requests, runs the bounded auth handshake,
    consults the connection limiter and admits connections to the registry
  - Conn: one admitted connection with its read and write pumps
  - Broadcaster: resolves an event's target scope and enqueues the encoded
    frame on every matching connection without blocking
  - HeartbeatMonitor: per-connection liveness probes and RTT quality
  - Hub: the supervised loop that drains the publish queue, sweeps the
    limiter and notifies clients on shutdown

Architecture:

	producers / NATS ingest
	         │
	     ┌───┴───┐        ┌──────────────┐
	     │  Hub  │───────▶│ Broadcaster  │
	     └───┬───┘        └──────┬───────┘
	         │ sweep             │ Members / All
	  ┌──────┴──────┐     ┌──────┴───────┐
	  │   Limiter   │     │   Registry   │◀── Gateway (admit, join, leave)
	  └─────────────┘     └──────┬───────┘
	                             │
	                  Conn1  Conn2  Conn3 ...

Each connection has two goroutines and, while admitted, one heartbeat
probe:

  - readPump: reads client frames, extends the read deadline, dispatches
    join/leave/heartbeat requests, and runs disconnect cleanup on exit
  - writePump: the only writer of the socket; drains the send queue and
    writes the close frame

Disconnect cleanup runs exactly once per connection: the heartbeat probe is
stopped, the connection is removed from every room, and its per-user
limiter slot is released.

Frames:

Every frame is a protocol.Message. See package protocol for the types and
payloads.

Usage Example:

	reg := rooms.NewRegistry[*websocket.Conn](authorizer)
	lim := limiter.New(limiter.DefaultConfig())
	mon := websocket.NewHeartbeatMonitor(30 * time.Second)
	hub := websocket.NewHub(reg, lim)
	gw := websocket.NewGateway(websocket.DefaultOptions(), verifier, lim, reg, mon)

	go hub.RunWithContext(ctx)
	router.Get("/ws", gw.ServeHTTP)

	hub.Publish(ctx, events.New(events.LevelUp{UserID: "u1", Level: 5},
	    events.ToUser("u1"), time.Now()))
*/
package websocket
