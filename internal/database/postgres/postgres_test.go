// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package postgres

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/sitepulse/internal/config"
	"github.com/tomtom215/sitepulse/internal/database"
	"github.com/tomtom215/sitepulse/internal/models"
)

const (
	testWebsiteID = "site-1"
	testSessionID = "ses_abc"
)

var websiteColumns = []string{"id", "owner_id", "name", "url", "domain", "api_key", "is_active", "created_at"}

func newMockStore(t *testing.T) (*database.SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return database.NewSQLStore(db, database.Postgres), mock
}

func testVisit() *models.Visit {
	return &models.Visit{
		WebsiteID: testWebsiteID,
		SessionID: testSessionID,
		VisitorID: "vis_xyz",
		PageURL:   "https://example.com/",
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrations.ReadDir("migrations")
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, e := range entries {
		names[e.Name()] = true
	}
	for _, want := range []string{
		"000001_websites.up.sql",
		"000001_websites.down.sql",
		"000002_visits.up.sql",
		"000002_visits.down.sql",
	} {
		assert.True(t, names[want], "expected migration file %s", want)
	}

	up, err := migrations.ReadFile("migrations/000002_visits.up.sql")
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(up), "session_duration BIGINT"))
}

func TestOpen_MissingDSN(t *testing.T) {
	_, err := Open(context.Background(), &config.DatabaseConfig{Driver: "postgres"})
	assert.ErrorIs(t, err, ErrMissingDSN)
}

func TestCloseSession_UpdatesOnlyUndatedRows(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(
		"UPDATE visits SET session_duration = $1, last_activity = $2 WHERE session_id = $3 AND website_id = $4 AND session_duration IS NULL",
	)).
		WithArgs(int64(45000), sqlmock.AnyArg(), testSessionID, testWebsiteID).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.CloseSession(context.Background(), testWebsiteID, testSessionID, 45*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCloseSession_Error(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE visits SET session_duration").
		WillReturnError(errors.New("connection reset"))

	_, err := store.CloseSession(context.Background(), testWebsiteID, testSessionID, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closing session")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordVisit_Insert(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM visits WHERE .* ORDER BY visited_at DESC LIMIT 1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT session_start FROM visits WHERE .* ORDER BY visited_at ASC LIMIT 1`).
		WillReturnRows(sqlmock.NewRows([]string{"session_start"}))
	mock.ExpectExec(`INSERT INTO visits`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	v := testVisit()
	res, err := store.RecordVisit(context.Background(), v)
	require.NoError(t, err)
	assert.False(t, res.Deduplicated)
	assert.NotEmpty(t, res.VisitID)
	assert.True(t, res.SessionStart.Equal(v.Timestamp))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordVisit_InheritsSessionStart(t *testing.T) {
	store, mock := newMockStore(t)
	started := time.Date(2026, 3, 1, 11, 30, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM visits`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT session_start FROM visits`).
		WillReturnRows(sqlmock.NewRows([]string{"session_start"}).AddRow(started))
	mock.ExpectExec(`INSERT INTO visits`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := store.RecordVisit(context.Background(), testVisit())
	require.NoError(t, err)
	assert.True(t, res.SessionStart.Equal(started))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordVisit_Dedupe(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM visits`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("visit-1"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE visits SET last_activity = $1 WHERE id = $2")).
		WithArgs(sqlmock.AnyArg(), "visit-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := store.RecordVisit(context.Background(), testVisit())
	require.NoError(t, err)
	assert.True(t, res.Deduplicated)
	assert.Equal(t, "visit-1", res.VisitID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordVisit_RollsBackOnInsertError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM visits`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT session_start FROM visits`).
		WillReturnRows(sqlmock.NewRows([]string{"session_start"}))
	mock.ExpectExec(`INSERT INTO visits`).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := store.RecordVisit(context.Background(), testVisit())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inserting visit")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebsiteByAPIKey(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		store, mock := newMockStore(t)
		created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		mock.ExpectQuery(regexp.QuoteMeta("SELECT id, owner_id, name, url, domain, api_key, is_active, created_at FROM websites WHERE api_key = $1 LIMIT 1")).
			WithArgs("atk_key").
			WillReturnRows(sqlmock.NewRows(websiteColumns).
				AddRow(testWebsiteID, "admin", "Blog", "https://example.com", "example.com", "atk_key", true, created))

		w, err := store.WebsiteByAPIKey(context.Background(), "atk_key")
		require.NoError(t, err)
		assert.Equal(t, testWebsiteID, w.ID)
		assert.True(t, w.IsActive)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(`FROM websites WHERE api_key`).
			WillReturnRows(sqlmock.NewRows(websiteColumns))

		_, err := store.WebsiteByAPIKey(context.Background(), "missing")
		assert.ErrorIs(t, err, database.ErrWebsiteNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDeleteWebsite_NotFoundRollsBack(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM visits WHERE website_id = $1")).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM websites WHERE id = $1")).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.DeleteWebsite(context.Background(), "missing")
	assert.ErrorIs(t, err, database.ErrWebsiteNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
