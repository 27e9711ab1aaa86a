// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

/*
Package supervisor runs the realtime server's long-lived services under a
suture v4 tree.

Services are grouped into two layers so a failure in one does not restart
the other:

	RootSupervisor ("questline")
	├── MessagingSupervisor ("messaging-layer")
	│   ├── HubService
	│   └── IngestService (if NATS_ENABLED)
	└── APISupervisor ("api-layer")
	    └── HTTPServerService

A crashed service is restarted with suture's backoff. Cancelling the
context passed to Serve stops every service; each gets ShutdownTimeout to
return. Supervisor events are logged through sutureslog into the zerolog
logger (see logging.NewSlogLogger).

Usage:

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
	    return err
	}
	tree.AddMessagingService(services.NewHubService(hub))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	return tree.Serve(ctx)

Services that never stop in time are listed by UnstoppedServiceReport.
*/
package supervisor
