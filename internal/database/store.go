// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

// Package database is the durable visit and website store.
//
// The SQL implementation is dialect-agnostic and runs on the embedded DuckDB
// file by default or on PostgreSQL (see the postgres subpackage). A memory
// implementation backs unit tests of the packages that consume the store.
//
// The one operation the presence engine depends on is CloseSession: it sets
// the session duration on every row of a session that has none yet, so
// re-invoking it after the rows are dated changes nothing.
package database

import (
	"context"
	"errors"
	"time"

	"github.com/tomtom215/sitepulse/internal/models"
)

// Sentinel errors returned by stores.
var (
	ErrWebsiteNotFound = errors.New("website not found")
	ErrWebsiteInactive = errors.New("website is not active")
	ErrSessionNotFound = errors.New("session not found")
)

// DedupeWindow is how long a repeat view of the same page by the same
// visitor only refreshes lastActivity instead of adding a row.
const DedupeWindow = time.Hour

// DedupeMessage is reported to trackers when a view was deduplicated.
const DedupeMessage = "Visitor already tracked for this page in the last hour"

// RecordResult reports the outcome of RecordVisit.
type RecordResult struct {
	VisitID      string
	Deduplicated bool
	// SessionStart is the start time persisted for the row, inherited from
	// the earliest row of the session when one exists.
	SessionStart time.Time
}

// VisitStore persists page-view records and session durations.
type VisitStore interface {
	// RecordVisit appends a visit with a null duration, or refreshes the
	// lastActivity of a matching row seen within DedupeWindow.
	RecordVisit(ctx context.Context, v *models.Visit) (RecordResult, error)

	// CloseSession sets duration on every row of the session that has none
	// and returns how many rows were updated.
	CloseSession(ctx context.Context, websiteID, sessionID string, duration time.Duration) (int64, error)

	SessionDetail(ctx context.Context, websiteID, sessionID string) (*models.SessionDetail, error)
	Summary(ctx context.Context, websiteID string, since time.Time) (*models.Summary, error)

	// Dashboard aggregates the visits of several websites since a time.
	// ChartData holds only the hours that saw traffic; see HourlyChart.
	Dashboard(ctx context.Context, websiteIDs []string, since time.Time) (*models.Dashboard, error)
}

// WebsiteStore manages tracked websites.
type WebsiteStore interface {
	CreateWebsite(ctx context.Context, w *models.Website) error
	Website(ctx context.Context, id string) (*models.Website, error)
	WebsiteByAPIKey(ctx context.Context, apiKey string) (*models.Website, error)
	ListWebsites(ctx context.Context, ownerID string) ([]models.Website, error)
	UpdateWebsite(ctx context.Context, w *models.Website) error
	DeleteWebsite(ctx context.Context, id string) error
	RotateAPIKey(ctx context.Context, id, apiKey string) error
}

// Store is the full durable store.
type Store interface {
	VisitStore
	WebsiteStore
	Ping(ctx context.Context) error
	Close() error
}

// ensureContext applies a default deadline to contexts that carry none.
func ensureContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), 30*time.Second)
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		return context.WithTimeout(ctx, 30*time.Second)
	}
	return ctx, func() {}
}
