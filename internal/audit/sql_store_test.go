// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package audit

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/sitepulse/internal/config"
	"github.com/tomtom215/sitepulse/internal/database"
)

func setupSQLStore(t *testing.T) *SQLStore {
	t.Helper()

	db, err := database.OpenDuckDB(&config.DatabaseConfig{Path: ":memory:", Threads: 1, MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := NewSQLStore(db.DB(), db.Dialect())
	require.NoError(t, s.CreateTable(context.Background()))
	require.NoError(t, s.CreateTable(context.Background()), "schema creation is repeatable")
	return s
}

func TestSQLStore_SaveGetQueryDelete(t *testing.T) {
	s := setupSQLStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	events := []*Event{
		{ID: "e1", Timestamp: base, Type: EventTypeAuthFailure, Severity: SeverityWarning, Outcome: OutcomeFailure,
			Actor: "admin", Source: Source{IPAddress: "198.51.100.7"}, Description: "Dashboard login failed: invalid credentials"},
		{ID: "e2", Timestamp: base.Add(time.Minute), Type: EventTypeWebsiteCreated, Severity: SeverityInfo, Outcome: OutcomeSuccess,
			Actor: "admin", Target: &Target{ID: "w1", Type: "website", Name: "Blog"},
			Metadata: json.RawMessage(`{"domain":"blog.example.com"}`), RequestID: "req-1"},
		{ID: "e3", Timestamp: base.Add(2 * time.Minute), Type: EventTypeWebsiteKeyRotated, Severity: SeverityInfo, Outcome: OutcomeSuccess,
			Actor: "other", Target: &Target{ID: "w9", Type: "website", Name: "Shop"}},
	}
	for _, e := range events {
		require.NoError(t, s.Save(ctx, e))
	}

	got, err := s.Get(ctx, "e2")
	require.NoError(t, err)
	assert.Equal(t, base.Add(time.Minute), got.Timestamp)
	assert.Equal(t, EventTypeWebsiteCreated, got.Type)
	require.NotNil(t, got.Target)
	assert.Equal(t, "Blog", got.Target.Name)
	assert.JSONEq(t, `{"domain":"blog.example.com"}`, string(got.Metadata))
	assert.Equal(t, "req-1", got.RequestID)

	first, err := s.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Nil(t, first.Target)
	assert.Nil(t, first.Metadata)
	assert.Equal(t, "198.51.100.7", first.Source.IPAddress)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrEventNotFound)

	mine, err := s.Query(ctx, QueryFilter{Actor: "admin"})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "e2", mine[0].ID, "most recent first")

	byType, err := s.Query(ctx, QueryFilter{Types: []EventType{EventTypeWebsiteCreated, EventTypeWebsiteKeyRotated}, TargetID: "w9"})
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, "e3", byType[0].ID)

	since := base.Add(30 * time.Second)
	recent, err := s.Query(ctx, QueryFilter{Since: &since, Limit: 1})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "e3", recent[0].ID)

	n, err := s.Delete(ctx, base.Add(90*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	all, err := s.Query(ctx, DefaultQueryFilter())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "e3", all[0].ID)
}
