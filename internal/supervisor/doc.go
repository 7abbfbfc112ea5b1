// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

/*
Package supervisor provides process supervision for SitePulse using suture v4.

# Overview

Long-running components are grouped into three layers:

	RootSupervisor ("sitepulse")
	├── DataSupervisor ("data-layer")
	│   ├── journal-retry-loop   (if JOURNAL_ENABLED)
	│   └── presence-sweeper
	├── MessagingSupervisor ("messaging-layer")
	│   ├── websocket-hub
	│   └── event-router
	└── APISupervisor ("api-layer")
	    └── http-server

A crashed service is restarted by its layer. When failures exceed
FailureThreshold the layer backs off for FailureBackoff; other layers keep
running. The presence registry lives in the Coordinator, not in any service,
so restarting the sweeper or the hub never loses live sessions.

# Usage

	tree, err := supervisor.NewSupervisorTree(nil, supervisor.DefaultTreeConfig())
	if err != nil {
	    return err
	}
	tree.AddDataService(services.NewSweeperService(sweeper))
	tree.AddMessagingService(hub)
	tree.AddAPIService(services.NewHTTPServerService(srv, srv.Addr, 10*time.Second))

	errCh := tree.ServeBackground(ctx)

# Service Interface

	type Service interface {
	    Serve(ctx context.Context) error
	}

Returning ctx.Err() after cancellation is a clean stop. Any other return
is a failure and triggers a restart; return suture.ErrDoNotRestart for a
service that finished for good.

# Logging

Supervisor events (start, failure, backoff, stop timeout) are emitted
through sutureslog into the zerolog-backed slog handler of the logging
package.

# Shutdown

Canceling the context stops every service, each bounded by
ShutdownTimeout. UnstoppedServiceReport lists the ones that did not stop.
*/
package supervisor
