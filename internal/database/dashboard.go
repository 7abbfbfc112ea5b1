// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/tomtom215/sitepulse/internal/models"
)

// DashboardHours is the length of the dashboard chart.
const DashboardHours = 24

// Dashboard implements VisitStore.
func (s *SQLStore) Dashboard(ctx context.Context, websiteIDs []string, since time.Time) (*models.Dashboard, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	dash := newDashboard(websiteIDs, since)
	if len(websiteIDs) == 0 {
		return dash, nil
	}
	window := sq.And{sq.Eq{"website_id": websiteIDs}, sq.GtOrEq{"visited_at": since}}

	q, args, err := s.sb.Select("COUNT(DISTINCT visitor_id)", "COUNT(*)").
		From("visits").
		Where(window).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building dashboard totals query: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&dash.TotalVisitors, &dash.TotalPageViews); err != nil {
		return nil, fmt.Errorf("querying dashboard totals: %w", err)
	}

	perSession := s.sb.Select("MAX(session_duration) AS d").
		From("visits").
		Where(window).
		Where(sq.Gt{"session_duration": 0}).
		GroupBy("session_id")
	q, args, err = s.sb.Select("AVG(d)").FromSelect(perSession, "s").ToSql()
	if err != nil {
		return nil, fmt.Errorf("building dashboard duration query: %w", err)
	}
	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&avg); err != nil {
		return nil, fmt.Errorf("querying dashboard average duration: %w", err)
	}
	if avg.Valid {
		dash.AvgSessionDuration = avg.Float64 / 1000
	}

	if dash.DeviceData, err = s.deviceViews(ctx, window); err != nil {
		return nil, err
	}
	if dash.ChartData, err = s.hourlyTraffic(ctx, window); err != nil {
		return nil, err
	}
	return dash, nil
}

// deviceViews counts page views per device class.
func (s *SQLStore) deviceViews(ctx context.Context, window sq.Sqlizer) ([]models.Breakdown, error) {
	q, args, err := s.sb.Select("device", "COUNT(*) AS c").
		From("visits").
		Where(window).
		GroupBy("device").
		OrderBy("c DESC", "device ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building device query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []models.Breakdown{}
	for rows.Next() {
		var b models.Breakdown
		if err := rows.Scan(&b.Name, &b.Count); err != nil {
			return nil, fmt.Errorf("scanning device row: %w", err)
		}
		b.Name = DeviceLabel(b.Name)
		out = append(out, b)
	}
	return out, rows.Err()
}

// hourlyTraffic buckets visitors and page views by UTC hour.
func (s *SQLStore) hourlyTraffic(ctx context.Context, window sq.Sqlizer) ([]models.HourlyPoint, error) {
	q, args, err := s.sb.Select("date_trunc('hour', visited_at) AS h", "COUNT(DISTINCT visitor_id)", "COUNT(*)").
		From("visits").
		Where(window).
		GroupBy("h").
		OrderBy("h").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building hourly query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying hourly traffic: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []models.HourlyPoint{}
	for rows.Next() {
		var p models.HourlyPoint
		if err := rows.Scan(&p.Hour, &p.Visitors, &p.PageViews); err != nil {
			return nil, fmt.Errorf("scanning hourly row: %w", err)
		}
		p.Hour = p.Hour.UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

// Dashboard implements VisitStore.
func (m *MemoryStore) Dashboard(_ context.Context, websiteIDs []string, since time.Time) (*models.Dashboard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dash := newDashboard(websiteIDs, since)
	sites := make(map[string]struct{}, len(websiteIDs))
	for _, id := range websiteIDs {
		sites[id] = struct{}{}
	}

	visitors := make(map[string]struct{})
	durations := make(map[string]int64)
	devices := make(map[string]int64)
	hourVisitors := make(map[time.Time]map[string]struct{})
	hourViews := make(map[time.Time]int64)

	for _, row := range m.visits {
		if _, ok := sites[row.WebsiteID]; !ok || row.Timestamp.Before(since) {
			continue
		}
		dash.TotalPageViews++
		visitors[row.VisitorID] = struct{}{}
		if row.SessionDuration != nil && *row.SessionDuration > 0 {
			key := row.WebsiteID + "/" + row.SessionID
			if cur, ok := durations[key]; !ok || *row.SessionDuration > cur {
				durations[key] = *row.SessionDuration
			}
		}
		devices[row.Device]++

		hour := row.Timestamp.UTC().Truncate(time.Hour)
		if hourVisitors[hour] == nil {
			hourVisitors[hour] = make(map[string]struct{})
		}
		hourVisitors[hour][row.VisitorID] = struct{}{}
		hourViews[hour]++
	}
	dash.TotalVisitors = int64(len(visitors))

	if len(durations) > 0 {
		var total int64
		for _, d := range durations {
			total += d
		}
		dash.AvgSessionDuration = float64(total) / float64(len(durations)) / 1000
	}

	for device, n := range devices {
		dash.DeviceData = append(dash.DeviceData, models.Breakdown{Name: DeviceLabel(device), Count: n})
	}
	sort.Slice(dash.DeviceData, func(i, j int) bool {
		if dash.DeviceData[i].Count != dash.DeviceData[j].Count {
			return dash.DeviceData[i].Count > dash.DeviceData[j].Count
		}
		return dash.DeviceData[i].Name < dash.DeviceData[j].Name
	})

	for hour, n := range hourViews {
		dash.ChartData = append(dash.ChartData, models.HourlyPoint{
			Hour:      hour,
			Visitors:  int64(len(hourVisitors[hour])),
			PageViews: n,
		})
	}
	sort.Slice(dash.ChartData, func(i, j int) bool { return dash.ChartData[i].Hour.Before(dash.ChartData[j].Hour) })
	return dash, nil
}

func newDashboard(websiteIDs []string, since time.Time) *models.Dashboard {
	return &models.Dashboard{
		Since:      since,
		Websites:   len(websiteIDs),
		DeviceData: []models.Breakdown{},
		ChartData:  []models.HourlyPoint{},
	}
}

// DeviceLabel capitalizes a stored device class for display.
func DeviceLabel(device string) string {
	if device == "" {
		return "Unknown"
	}
	return strings.ToUpper(device[:1]) + device[1:]
}

// HourlyChart expands sparse hourly points into the hours consecutive
// buckets ending with the hour of end. Hours without traffic are zero.
func HourlyChart(points []models.HourlyPoint, end time.Time, hours int) []models.HourlyPoint {
	byHour := make(map[int64]models.HourlyPoint, len(points))
	for _, p := range points {
		byHour[p.Hour.UTC().Unix()] = p
	}

	last := end.UTC().Truncate(time.Hour)
	out := make([]models.HourlyPoint, 0, hours)
	for i := hours - 1; i >= 0; i-- {
		hour := last.Add(-time.Duration(i) * time.Hour)
		p := byHour[hour.Unix()]
		p.Hour = hour
		p.Time = hour.Format("15:04")
		out = append(out, p)
	}
	return out
}
