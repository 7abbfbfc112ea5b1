// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

// Package eventprocessor publishes domain events and runs their consumers.
//
// Two events are emitted: visits.recorded after a page view reaches the
// store, and sessions.closed after a session duration is written. Events
// travel over an in-process Watermill GoChannel by default, or over NATS
// (optionally JetStream) when configured, so other services can consume
// them.
//
// The Router wraps the Watermill router with panic recovery and retry. The
// built-in SessionStatsHandler feeds the session duration histogram and
// per-website close counters.
package eventprocessor
