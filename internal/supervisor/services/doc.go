// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

/*
Package services adapts the realtime server's components to suture's
Serve(ctx) error lifecycle.

  - HTTPServerService runs an *http.Server and shuts it down gracefully
    when the context ends.
  - HubService runs websocket.Hub.RunWithContext.
  - IngestService runs the NATS ingest subscriber.

The wrappers depend on small interfaces rather than the concrete types so
that this package does not import the websocket or ingest packages. Each
implements fmt.Stringer, which suture uses to name the service in its
event log.
*/
package services
