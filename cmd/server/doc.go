// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

/*
Package main is the entry point for the SitePulse server.

SitePulse records website visits and tracks which visitors are on a site
right now. Trackers hold a realtime channel open while a page is visible;
the server keeps a registry of live sessions, pushes presence updates to
dashboards, and writes each session's duration exactly once when it ends.

# Application Architecture

The server runs its long-lived components under Suture v4 supervision:

	RootSupervisor ("sitepulse")
	├── DataSupervisor ("data-layer")
	│   ├── Presence sweeper (closes idle sessions)
	│   ├── Journal retry loop (optional, JOURNAL_ENABLED)
	│   └── Audit retention cleanup (optional, AUDIT_ENABLED)
	├── MessagingSupervisor ("messaging-layer")
	│   ├── WebSocket Hub (tracker channels and dashboard sockets)
	│   └── Event router (session statistics consumer)
	└── APISupervisor ("api-layer")
	    └── HTTP Server (Chi router)

Component initialization order:

 1. Configuration: Koanf v2 with environment variables and config files
 2. Logging: zerolog with JSON/console output modes
 3. Database: DuckDB or PostgreSQL, writes behind a circuit breaker
 4. Audit: trail of logins and website changes on the same database
 5. Journal: BadgerDB journal of session closes that failed to write
 6. Events: Watermill over GoChannel or NATS JetStream
 7. Presence: coordinator, close dispatcher and sweeper
 8. Ingestion: API key resolver and visit recorder
 9. Authentication: JWT with login lockout
 10. Supervisor Tree and HTTP Server

# Configuration

Configuration is loaded via Koanf v2 with layered sources (highest priority wins):
  - Environment variables
  - Config file (config.yaml, or CONFIG_PATH)
  - Built-in defaults

Required:
  - JWT_SECRET: 32+ character secret for token signing
  - ADMIN_USERNAME, ADMIN_PASSWORD: dashboard login

Common:
  - HTTP_PORT (default 3001), DB_DRIVER (duckdb or postgres)
  - DUCKDB_PATH or DATABASE_URL
  - PRESENCE_INACTIVITY_THRESHOLD, PRESENCE_SWEEP_INTERVAL
  - JOURNAL_ENABLED, JOURNAL_PATH
  - NATS_ENABLED, NATS_URL
  - AUDIT_ENABLED, AUDIT_RETENTION_DAYS
  - TRACKER_PUBLIC_URL: base URL advertised to trackers

# Signal Handling

SIGINT and SIGTERM stop the supervisor tree: the HTTP server drains, tracker
channels are closed, then pending duration writes are awaited before the
event pipeline, journal, audit log and database are closed.

# Example Usage

	export JWT_SECRET=$(openssl rand -base64 32)
	export ADMIN_USERNAME=admin
	export ADMIN_PASSWORD=secure-password
	./sitepulse
*/
package main
