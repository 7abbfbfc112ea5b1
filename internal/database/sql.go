// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// Dialect captures the differences between the supported SQL backends.
type Dialect struct {
	Name        string
	Placeholder sq.PlaceholderFormat
}

// Supported dialects.
var (
	DuckDB   = Dialect{Name: "duckdb", Placeholder: sq.Question}
	Postgres = Dialect{Name: "postgres", Placeholder: sq.Dollar}
)

// SQLStore implements Store over database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	sb      sq.StatementBuilderType
	now     func() time.Time
}

// NewSQLStore wraps an open connection. The schema must already exist.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{
		db:      db,
		dialect: dialect,
		sb:      sq.StatementBuilder.PlaceholderFormat(dialect.Placeholder),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Dialect returns the backend dialect.
func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

// DB returns the underlying connection.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.db.PingContext(ctx)
}

// Close closes the underlying connection.
func (s *SQLStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// nullableInt64 and friends bind NULL as an untyped nil so every driver
// accepts it.
func nullableInt64(p *int64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func nullableFloat(p *float64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func nullableBool(p *bool) interface{} {
	if p == nil {
		return nil
	}
	return *p
}
