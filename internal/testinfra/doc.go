// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

// Package testinfra starts throwaway PostgreSQL and NATS servers for
// integration tests using testcontainers-go.
//
// Everything here is behind the integration build tag:
//
//	go test -tags integration ./internal/database/postgres/ ./internal/eventprocessor/
//
// Tests are skipped when Docker is not available. First runs pull the
// images; later runs use the local cache.
package testinfra
