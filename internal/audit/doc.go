// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

// Package audit keeps a trail of dashboard logins and website management
// actions.
//
// # Event Types
//
//   - auth.success, auth.failure, auth.lockout: dashboard logins
//   - website.created, website.updated, website.deleted: website lifecycle
//   - website.key_rotated: API key regeneration
//
// # Architecture
//
//	Logger.Log() -> Event Buffer (chan) -> Async Writer -> Store
//	                     |                      |
//	                 Non-blocking           Background goroutine
//
// Log never blocks the request path. When the buffer is full the event is
// dropped and counted in audit_events_total{result="dropped"}.
// Close drains the buffer before returning.
//
// SQLStore shares the visit database (DuckDB or PostgreSQL) and creates its
// table on start. MemoryStore is bounded and backs tests.
//
// # Retention
//
// Logger.Serve runs under the supervisor tree and deletes events older than
// AUDIT_RETENTION_DAYS every AUDIT_CLEANUP_INTERVAL.
//
// # Usage
//
//	store := audit.NewSQLStore(db, database.DuckDB)
//	if err := store.CreateTable(ctx); err != nil {
//	    return err
//	}
//	logger := audit.NewLogger(store, audit.ConfigFrom(cfg.Audit))
//	defer logger.Close()
//
//	logger.LogAuthFailure(ctx, "admin", audit.Source{IPAddress: ip}, "invalid credentials")
//
// A nil *Logger accepts every Log call and discards it, which is how the
// trail is disabled.
package audit
