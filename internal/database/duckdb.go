// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tomtom215/sitepulse/internal/config"
	"github.com/tomtom215/sitepulse/internal/logging"
)

// duckdbSchema creates the tables on first start. PostgreSQL uses versioned
// migrations instead.
var duckdbSchema = []string{
	`CREATE TABLE IF NOT EXISTS websites (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		url TEXT NOT NULL,
		domain TEXT NOT NULL,
		api_key TEXT NOT NULL UNIQUE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS visits (
		id TEXT PRIMARY KEY,
		website_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		visitor_id TEXT NOT NULL,
		session_start TIMESTAMP NOT NULL,
		session_duration BIGINT,
		ip_address TEXT NOT NULL DEFAULT '',
		ip_source TEXT NOT NULL DEFAULT '',
		country TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		region TEXT NOT NULL DEFAULT '',
		isp TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		browser TEXT NOT NULL DEFAULT '',
		browser_version TEXT NOT NULL DEFAULT '',
		os TEXT NOT NULL DEFAULT '',
		os_version TEXT NOT NULL DEFAULT '',
		device TEXT NOT NULL DEFAULT '',
		screen_width INTEGER NOT NULL DEFAULT 0,
		screen_height INTEGER NOT NULL DEFAULT 0,
		timezone TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT '',
		referrer TEXT NOT NULL DEFAULT '',
		page_url TEXT NOT NULL,
		page_title TEXT NOT NULL DEFAULT '',
		battery_level DOUBLE,
		battery_charging BOOLEAN,
		connection_type TEXT NOT NULL DEFAULT '',
		do_not_track BOOLEAN NOT NULL DEFAULT FALSE,
		device_memory DOUBLE NOT NULL DEFAULT 0,
		visited_at TIMESTAMP NOT NULL,
		last_activity TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_visits_session ON visits(website_id, session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_visits_visitor_page ON visits(website_id, visitor_id, page_url)`,
	`CREATE INDEX IF NOT EXISTS idx_visits_visited_at ON visits(website_id, visited_at)`,
	`CREATE INDEX IF NOT EXISTS idx_websites_owner ON websites(owner_id)`,
}

// OpenDuckDB opens (creating if needed) the embedded database file and its schema.
func OpenDuckDB(cfg *config.DatabaseConfig) (*SQLStore, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	if cfg.Path != ":memory:" {
		dbDir := filepath.Dir(cfg.Path)
		if dbDir != "" && dbDir != "." {
			if err := os.MkdirAll(dbDir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
			}
		}
	}

	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d", cfg.Path, numThreads)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = runtime.NumCPU()
	}
	conn.SetMaxOpenConns(maxOpen)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(time.Hour)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	if err := createSchema(conn, duckdbSchema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	logging.Info().Str("path", cfg.Path).Int("threads", numThreads).Msg("DuckDB store ready")
	return NewSQLStore(conn, DuckDB), nil
}

func createSchema(conn *sql.DB, queries []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, query := range queries {
		if _, err := conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}
	return nil
}
