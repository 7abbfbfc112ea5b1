// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

// Package wal is a durable journal of session-close writes that could not
// reach the store.
//
// A close that fails (store down, breaker open, timeout) is persisted to
// BadgerDB and replayed by the RetryLoop with exponential backoff. Replays
// go through the same idempotent close operation, so an entry that is
// replayed after a write that actually succeeded changes nothing.
//
//	Close → store write ─ok→ done
//	              └─fail→ WAL Write → RetryLoop → Replay → Confirm
//
// Entries are dropped once they exceed MaxRetries or EntryTTL; both count
// towards close_writes_dropped_total.
package wal
