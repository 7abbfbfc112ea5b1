// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/tomtom215/sitepulse/internal/metrics"
	"github.com/tomtom215/sitepulse/internal/models"
)

var visitColumns = []string{
	"id", "website_id", "session_id", "visitor_id", "session_start", "session_duration",
	"ip_address", "ip_source", "country", "city", "region", "isp",
	"user_agent", "browser", "browser_version", "os", "os_version", "device",
	"screen_width", "screen_height", "timezone", "language",
	"referrer", "page_url", "page_title",
	"battery_level", "battery_charging", "connection_type", "do_not_track", "device_memory",
	"visited_at", "last_activity",
}

func visitValues(v *models.Visit) []interface{} {
	return []interface{}{
		v.ID, v.WebsiteID, v.SessionID, v.VisitorID, v.SessionStart, nullableInt64(v.SessionDuration),
		v.IPAddress, v.IPSource, v.Country, v.City, v.Region, v.ISP,
		v.UserAgent, v.Browser, v.BrowserVersion, v.OS, v.OSVersion, v.Device,
		v.ScreenWidth, v.ScreenHeight, v.Timezone, v.Language,
		v.Referrer, v.PageURL, v.PageTitle,
		nullableFloat(v.BatteryLevel), nullableBool(v.BatteryCharging), v.Connection, v.DoNotTrack, v.DeviceMemory,
		v.Timestamp, v.LastActivity,
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanVisit(row rowScanner) (models.Visit, error) {
	var (
		v        models.Visit
		duration sql.NullInt64
		level    sql.NullFloat64
		charging sql.NullBool
	)
	err := row.Scan(
		&v.ID, &v.WebsiteID, &v.SessionID, &v.VisitorID, &v.SessionStart, &duration,
		&v.IPAddress, &v.IPSource, &v.Country, &v.City, &v.Region, &v.ISP,
		&v.UserAgent, &v.Browser, &v.BrowserVersion, &v.OS, &v.OSVersion, &v.Device,
		&v.ScreenWidth, &v.ScreenHeight, &v.Timezone, &v.Language,
		&v.Referrer, &v.PageURL, &v.PageTitle,
		&level, &charging, &v.Connection, &v.DoNotTrack, &v.DeviceMemory,
		&v.Timestamp, &v.LastActivity,
	)
	if err != nil {
		return v, err
	}
	if duration.Valid {
		d := duration.Int64
		v.SessionDuration = &d
	}
	if level.Valid {
		l := level.Float64
		v.BatteryLevel = &l
	}
	if charging.Valid {
		c := charging.Bool
		v.BatteryCharging = &c
	}
	return v, nil
}

// RecordVisit appends a visit record, deduplicating repeat views of the same
// page by the same visitor within DedupeWindow.
func (s *SQLStore) RecordVisit(ctx context.Context, v *models.Visit) (res RecordResult, err error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	start := time.Now()
	defer func() { metrics.RecordStoreOp(s.dialect.Name, "record_visit", time.Since(start), err) }()

	now := s.now()
	if v.Timestamp.IsZero() {
		v.Timestamp = now
	}
	v.LastActivity = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin record visit: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	existing, err := s.recentVisitID(ctx, tx, v, now.Add(-DedupeWindow))
	if err != nil {
		return res, err
	}
	if existing != "" {
		q, args, buildErr := s.sb.Update("visits").
			Set("last_activity", now).
			Where(sq.Eq{"id": existing}).
			ToSql()
		if buildErr != nil {
			return res, fmt.Errorf("building touch query: %w", buildErr)
		}
		if _, err = tx.ExecContext(ctx, q, args...); err != nil {
			return res, fmt.Errorf("touching visit: %w", err)
		}
		if err = tx.Commit(); err != nil {
			return res, fmt.Errorf("commit record visit: %w", err)
		}
		return RecordResult{VisitID: existing, Deduplicated: true}, nil
	}

	inherited, err := s.sessionStart(ctx, tx, v.WebsiteID, v.SessionID)
	if err != nil {
		return res, err
	}
	switch {
	case !inherited.IsZero():
		v.SessionStart = inherited
	case v.SessionStart.IsZero():
		v.SessionStart = v.Timestamp
	}
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	v.SessionDuration = nil

	q, args, err := s.sb.Insert("visits").Columns(visitColumns...).Values(visitValues(v)...).ToSql()
	if err != nil {
		return res, fmt.Errorf("building insert query: %w", err)
	}
	if _, err = tx.ExecContext(ctx, q, args...); err != nil {
		return res, fmt.Errorf("inserting visit: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return res, fmt.Errorf("commit record visit: %w", err)
	}
	return RecordResult{VisitID: v.ID, SessionStart: v.SessionStart}, nil
}

func (s *SQLStore) recentVisitID(ctx context.Context, tx *sql.Tx, v *models.Visit, cutoff time.Time) (string, error) {
	q, args, err := s.sb.Select("id").
		From("visits").
		Where(sq.Eq{"website_id": v.WebsiteID, "visitor_id": v.VisitorID, "page_url": v.PageURL}).
		Where(sq.GtOrEq{"visited_at": cutoff}).
		OrderBy("visited_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("building dedupe query: %w", err)
	}
	var id string
	err = tx.QueryRowContext(ctx, q, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("querying recent visit: %w", err)
	}
	return id, nil
}

func (s *SQLStore) sessionStart(ctx context.Context, tx *sql.Tx, websiteID, sessionID string) (time.Time, error) {
	q, args, err := s.sb.Select("session_start").
		From("visits").
		Where(sq.Eq{"website_id": websiteID, "session_id": sessionID}).
		OrderBy("visited_at ASC").
		Limit(1).
		ToSql()
	if err != nil {
		return time.Time{}, fmt.Errorf("building session start query: %w", err)
	}
	var started time.Time
	err = tx.QueryRowContext(ctx, q, args...).Scan(&started)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("querying session start: %w", err)
	}
	return started.UTC(), nil
}

// CloseSession writes duration to every undated row of the session. Rows
// that already carry a duration are left untouched.
func (s *SQLStore) CloseSession(ctx context.Context, websiteID, sessionID string, duration time.Duration) (n int64, err error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	start := time.Now()
	defer func() { metrics.RecordStoreOp(s.dialect.Name, "close_session", time.Since(start), err) }()

	if duration < 0 {
		duration = 0
	}

	q, args, err := s.sb.Update("visits").
		Set("session_duration", duration.Milliseconds()).
		Set("last_activity", s.now()).
		Where(sq.Eq{"website_id": websiteID, "session_id": sessionID}).
		Where("session_duration IS NULL").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building close query: %w", err)
	}

	result, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("closing session: %w", err)
	}
	n, err = result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading affected rows: %w", err)
	}
	return n, nil
}

// SessionDetail returns the durable history of a session.
func (s *SQLStore) SessionDetail(ctx context.Context, websiteID, sessionID string) (*models.SessionDetail, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	q, args, err := s.sb.Select(visitColumns...).
		From("visits").
		Where(sq.Eq{"website_id": websiteID, "session_id": sessionID}).
		OrderBy("visited_at ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building session query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var visits []models.Visit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning visit: %w", err)
		}
		visits = append(visits, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating visits: %w", err)
	}
	if len(visits) == 0 {
		return nil, ErrSessionNotFound
	}
	return BuildSessionDetail(visits), nil
}

// BuildSessionDetail folds the rows of one session, ordered by time, into a
// SessionDetail.
func BuildSessionDetail(visits []models.Visit) *models.SessionDetail {
	first := visits[0]
	detail := &models.SessionDetail{
		WebsiteID:    first.WebsiteID,
		SessionID:    first.SessionID,
		VisitorID:    first.VisitorID,
		SessionStart: first.SessionStart.UTC(),
		Country:      first.Country,
		City:         first.City,
		Device:       first.Device,
		Browser:      first.Browser,
		OS:           first.OS,
		PageViews:    make([]models.PageViewRecord, 0, len(visits)),
	}
	for i := range visits {
		v := visits[i]
		if v.SessionDuration != nil && detail.SessionDuration == nil {
			d := *v.SessionDuration
			detail.SessionDuration = &d
		}
		if v.LastActivity.After(detail.LastActivity) {
			detail.LastActivity = v.LastActivity.UTC()
		}
		detail.PageViews = append(detail.PageViews, models.PageViewRecord{
			PageURL:   v.PageURL,
			PageTitle: v.PageTitle,
			Referrer:  v.Referrer,
			Timestamp: v.Timestamp.UTC(),
		})
	}
	return detail
}

// Summary aggregates visits recorded since the given time.
func (s *SQLStore) Summary(ctx context.Context, websiteID string, since time.Time) (*models.Summary, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	window := sq.And{sq.Eq{"website_id": websiteID}, sq.GtOrEq{"visited_at": since}}
	summary := &models.Summary{WebsiteID: websiteID, Since: since}

	q, args, err := s.sb.Select("COUNT(DISTINCT visitor_id)", "COUNT(*)").
		From("visits").
		Where(window).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building totals query: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&summary.TotalVisitors, &summary.TotalPageViews); err != nil {
		return nil, fmt.Errorf("querying totals: %w", err)
	}

	perSession := s.sb.Select("MAX(session_duration) AS d").
		From("visits").
		Where(window).
		Where("session_duration IS NOT NULL").
		GroupBy("session_id")
	q, args, err = s.sb.Select("AVG(d)").FromSelect(perSession, "s").ToSql()
	if err != nil {
		return nil, fmt.Errorf("building duration query: %w", err)
	}
	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&avg); err != nil {
		return nil, fmt.Errorf("querying average duration: %w", err)
	}
	if avg.Valid {
		summary.AvgSessionDuration = avg.Float64 / 1000
	}

	if summary.Browsers, err = s.breakdown(ctx, "browser", window); err != nil {
		return nil, err
	}
	if summary.Devices, err = s.breakdown(ctx, "device", window); err != nil {
		return nil, err
	}
	return summary, nil
}

// breakdown counts distinct visitors per value of column, which must be a
// trusted identifier.
func (s *SQLStore) breakdown(ctx context.Context, column string, window sq.Sqlizer) ([]models.Breakdown, error) {
	q, args, err := s.sb.Select(
		fmt.Sprintf("COALESCE(NULLIF(%s, ''), 'Unknown') AS name", column),
		"COUNT(DISTINCT visitor_id) AS c",
	).
		From("visits").
		Where(window).
		GroupBy("name").
		OrderBy("c DESC", "name ASC").
		Limit(10).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building %s breakdown: %w", column, err)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s breakdown: %w", column, err)
	}
	defer func() { _ = rows.Close() }()

	out := []models.Breakdown{}
	for rows.Next() {
		var b models.Breakdown
		if err := rows.Scan(&b.Name, &b.Count); err != nil {
			return nil, fmt.Errorf("scanning %s breakdown: %w", column, err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
