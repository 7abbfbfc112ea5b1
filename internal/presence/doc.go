// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

// Package presence tracks which visitor sessions are live on each website.
//
// The Registry is the authoritative in-memory table of live sessions, sharded
// by website so that traffic for one site never contends with another. The
// Coordinator owns the registry and applies channel events to it:
//
//	session-start  absent -> live (or re-attach when already live)
//	page-view      live   -> live, broadcast
//	heartbeat      live   -> live, no broadcast
//	disconnect     live   -> absent, duration = now - startTime
//	idle sweep     live   -> absent, duration = lastActivity - startTime
//	end signal     live   -> absent, duration reported by the client
//
// Every termination goes through an atomic compare-and-delete on the
// registry. Whichever trigger removes the entry is the only one that issues
// the durable duration write, so a session is closed at most once per
// process. The write itself is handed to a Closer and never blocks or
// reverts the removal.
//
// Events that reference a session which is not live are ignored. A client
// re-establishes presence by sending session-start again.
package presence
