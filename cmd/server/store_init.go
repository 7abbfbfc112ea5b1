// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package main

import (
	"context"
	"fmt"

	"github.com/tomtom215/sitepulse/internal/config"
	"github.com/tomtom215/sitepulse/internal/database"
	"github.com/tomtom215/sitepulse/internal/database/postgres"
)

// OpenStore opens the configured backend and guards its writes with a
// circuit breaker. The unguarded SQL store is returned for components that
// share the connection.
func OpenStore(ctx context.Context, cfg *config.DatabaseConfig) (*database.BreakerStore, *database.SQLStore, error) {
	var (
		inner *database.SQLStore
		err   error
	)
	switch cfg.Driver {
	case "postgres":
		inner, err = postgres.Open(ctx, cfg)
	case "duckdb", "":
		inner, err = database.OpenDuckDB(cfg)
	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, nil, err
	}
	return database.NewBreakerStore(inner, database.DefaultBreakerConfig()), inner, nil
}
