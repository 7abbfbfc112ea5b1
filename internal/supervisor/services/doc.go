// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

/*
Package services provides suture.Service wrappers for SitePulse components
whose lifecycle is not already Serve(ctx) shaped.

HTTPServerService translates ListenAndServe/Shutdown into Serve with a
bounded graceful drain.

LoopService wraps a blocking Run(ctx) loop. It is used for the presence
sweeper (NewSweeperService) and the journal retry loop
(NewJournalRetryService).

The websocket hub and the event router implement suture.Service themselves
and are added to the tree directly.
*/
package services
