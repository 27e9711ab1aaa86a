// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

/*
Package main is the entry point for the Questline realtime server.

The server keeps connected clients informed of gamification events (XP
gained, badges, streaks, leaderboard changes, pattern completion). Clients
connect over a websocket at /ws, authenticate with an HS256 bearer token and
join rooms; producers publish events to NATS, and the hub fans them out to
the connections in the event's scope.

# Application Architecture

	RootSupervisor ("questline")
	├── MessagingSupervisor ("messaging-layer")
	│   ├── Realtime Hub (publish queue, limiter sweep, shutdown notice)
	│   └── NATS ingest (optional, NATS_ENABLED=true)
	└── APISupervisor ("api-layer")
	    └── HTTP Server (/ws, /healthz, /metrics)

Component initialization order:

 1. Configuration: Koanf v2 with environment variables and config files
 2. Logging: zerolog with JSON/console output modes
 3. Token verifier, connection limiter and membership directory
 4. Room registry, heartbeat monitor, gateway and hub
 5. NATS ingest, with an embedded server when NATS_EMBEDDED=true
 6. Supervisor Tree: Suture v4 process supervision
 7. HTTP Server: Chi router with middleware stack

# Configuration

	Priority: Environment variables > Config file > Defaults

Core environment variables:

	HTTP_PORT=8081                    # listener port
	JWT_SECRET=<secret>               # required; without it every connection is rejected
	ALLOWED_ORIGINS=*                 # comma separated
	HEARTBEAT_INTERVAL=30s
	MAX_CONNECTIONS_PER_USER=5
	MAX_CONNECTIONS_PER_ADDRESS=10    # per RATE_LIMIT_WINDOW
	TRUST_PROXY_HEADERS=false         # true only behind a proxy that sets X-Forwarded-For
	DIRECTORY_URL=http://members:8080 # empty uses the in-memory directory
	NATS_ENABLED=true
	NATS_EMBEDDED=true
	LOG_LEVEL=info
	LOG_FORMAT=json

# Graceful Shutdown

On SIGINT or SIGTERM the supervisor stops its services: the HTTP server
stops accepting upgrades, the hub sends server_shutdown to every connection
and closes it with 1001, and the ingest subscriber stops. The embedded NATS
server, if any, is stopped last.

# Usage

	export JWT_SECRET=$(openssl rand -base64 32)
	export NATS_ENABLED=true NATS_EMBEDDED=true
	go run ./cmd/server
*/
package main
