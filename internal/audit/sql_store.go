// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/goccy/go-json"

	"github.com/tomtom215/sitepulse/internal/database"
)

// schema is valid on both DuckDB and PostgreSQL.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS audit_events (
		id TEXT PRIMARY KEY,
		occurred_at TIMESTAMP NOT NULL,
		event_type TEXT NOT NULL,
		severity TEXT NOT NULL,
		outcome TEXT NOT NULL,
		actor TEXT NOT NULL,
		target_id TEXT NOT NULL DEFAULT '',
		target_type TEXT NOT NULL DEFAULT '',
		target_name TEXT NOT NULL DEFAULT '',
		source_ip TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		metadata TEXT,
		request_id TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_actor_time ON audit_events(actor, occurred_at)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_target ON audit_events(target_id)`,
}

var eventColumns = []string{
	"id", "occurred_at", "event_type", "severity", "outcome", "actor",
	"target_id", "target_type", "target_name", "source_ip", "user_agent",
	"description", "metadata", "request_id",
}

// SQLStore implements Store on the visit database.
type SQLStore struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

// NewSQLStore uses an open connection of the given dialect.
func NewSQLStore(db *sql.DB, dialect database.Dialect) *SQLStore {
	return &SQLStore{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(dialect.Placeholder),
	}
}

// CreateTable creates the audit table if it does not exist.
func (s *SQLStore) CreateTable(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create audit schema: %w", err)
		}
	}
	return nil
}

// Save inserts an event.
func (s *SQLStore) Save(ctx context.Context, event *Event) error {
	var target Target
	if event.Target != nil {
		target = *event.Target
	}
	var metadata interface{}
	if len(event.Metadata) > 0 {
		metadata = string(event.Metadata)
	}

	q, args, err := s.sb.Insert("audit_events").
		Columns(eventColumns...).
		Values(
			event.ID, event.Timestamp.UTC(), string(event.Type), string(event.Severity), string(event.Outcome), event.Actor,
			target.ID, target.Type, target.Name, event.Source.IPAddress, event.Source.UserAgent,
			event.Description, metadata, event.RequestID,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("building audit insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("inserting audit event: %w", err)
	}
	return nil
}

// Get returns an event by ID.
func (s *SQLStore) Get(ctx context.Context, id string) (*Event, error) {
	q, args, err := s.sb.Select(eventColumns...).
		From("audit_events").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building audit query: %w", err)
	}
	event, err := scanEvent(s.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	return event, err
}

// Query returns matching events, most recent first.
func (s *SQLStore) Query(ctx context.Context, filter QueryFilter) ([]Event, error) {
	query := s.sb.Select(eventColumns...).
		From("audit_events").
		OrderBy("occurred_at DESC", "id DESC").
		Limit(uint64(filter.limit()))

	if filter.Actor != "" {
		query = query.Where(sq.Eq{"actor": filter.Actor})
	}
	if filter.TargetID != "" {
		query = query.Where(sq.Eq{"target_id": filter.TargetID})
	}
	if filter.Since != nil {
		query = query.Where(sq.GtOrEq{"occurred_at": filter.Since.UTC()})
	}
	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		query = query.Where(sq.Eq{"event_type": types})
	}

	q, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building audit query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}
	return events, rows.Err()
}

// Delete removes events older than the cutoff.
func (s *SQLStore) Delete(ctx context.Context, olderThan time.Time) (int64, error) {
	q, args, err := s.sb.Delete("audit_events").
		Where(sq.Lt{"occurred_at": olderThan.UTC()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building audit delete: %w", err)
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("deleting audit events: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var (
		e                                Event
		eventType, severity, outcome     string
		targetID, targetType, targetName string
		metadata                         sql.NullString
	)
	err := row.Scan(
		&e.ID, &e.Timestamp, &eventType, &severity, &outcome, &e.Actor,
		&targetID, &targetType, &targetName, &e.Source.IPAddress, &e.Source.UserAgent,
		&e.Description, &metadata, &e.RequestID,
	)
	if err != nil {
		return nil, err
	}
	e.Timestamp = e.Timestamp.UTC()
	e.Type = EventType(eventType)
	e.Severity = Severity(severity)
	e.Outcome = Outcome(outcome)
	if targetID != "" {
		e.Target = &Target{ID: targetID, Type: targetType, Name: targetName}
	}
	if metadata.Valid && metadata.String != "" {
		e.Metadata = json.RawMessage(metadata.String)
	}
	return &e, nil
}
