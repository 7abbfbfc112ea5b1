// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/sitepulse/internal/models"
)

// MemoryStore is an in-process Store with the same semantics as SQLStore.
// It is used by tests and by ephemeral deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	websites map[string]*models.Website
	visits   []*models.Visit
	now      func() time.Time

	// FailCloses makes CloseSession return the error when non-nil.
	FailCloses error
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		websites: make(map[string]*models.Website),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the store clock.
func (m *MemoryStore) SetNow(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// SetCloseError makes later CloseSession calls fail with err, or succeed when nil.
func (m *MemoryStore) SetCloseError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailCloses = err
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

// RecordVisit implements VisitStore.
func (m *MemoryStore) RecordVisit(_ context.Context, v *models.Visit) (RecordResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if v.Timestamp.IsZero() {
		v.Timestamp = now
	}
	v.LastActivity = now

	cutoff := now.Add(-DedupeWindow)
	var (
		recent   *models.Visit
		earliest *models.Visit
	)
	for _, row := range m.visits {
		if row.WebsiteID != v.WebsiteID {
			continue
		}
		if row.VisitorID == v.VisitorID && row.PageURL == v.PageURL && !row.Timestamp.Before(cutoff) {
			if recent == nil || row.Timestamp.After(recent.Timestamp) {
				recent = row
			}
		}
		if row.SessionID == v.SessionID {
			if earliest == nil || row.Timestamp.Before(earliest.Timestamp) {
				earliest = row
			}
		}
	}
	if recent != nil {
		recent.LastActivity = now
		return RecordResult{VisitID: recent.ID, Deduplicated: true}, nil
	}

	switch {
	case earliest != nil:
		v.SessionStart = earliest.SessionStart
	case v.SessionStart.IsZero():
		v.SessionStart = v.Timestamp
	}
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	v.SessionDuration = nil

	row := *v
	m.visits = append(m.visits, &row)
	return RecordResult{VisitID: row.ID, SessionStart: row.SessionStart}, nil
}

// CloseSession implements VisitStore.
func (m *MemoryStore) CloseSession(_ context.Context, websiteID, sessionID string, duration time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailCloses != nil {
		return 0, m.FailCloses
	}
	if duration < 0 {
		duration = 0
	}
	ms := duration.Milliseconds()
	now := m.now()

	var n int64
	for _, row := range m.visits {
		if row.WebsiteID != websiteID || row.SessionID != sessionID || row.SessionDuration != nil {
			continue
		}
		d := ms
		row.SessionDuration = &d
		row.LastActivity = now
		n++
	}
	return n, nil
}

// Visits returns copies of every row of a session, ordered by time.
func (m *MemoryStore) Visits(websiteID, sessionID string) []models.Visit {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Visit
	for _, row := range m.visits {
		if row.WebsiteID == websiteID && row.SessionID == sessionID {
			out = append(out, *row)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// SessionDetail implements VisitStore.
func (m *MemoryStore) SessionDetail(_ context.Context, websiteID, sessionID string) (*models.SessionDetail, error) {
	visits := m.Visits(websiteID, sessionID)
	if len(visits) == 0 {
		return nil, ErrSessionNotFound
	}
	return BuildSessionDetail(visits), nil
}

// Summary implements VisitStore.
func (m *MemoryStore) Summary(_ context.Context, websiteID string, since time.Time) (*models.Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	visitors := make(map[string]struct{})
	durations := make(map[string]int64)
	browsers := make(map[string]map[string]struct{})
	devices := make(map[string]map[string]struct{})

	summary := &models.Summary{WebsiteID: websiteID, Since: since}
	for _, row := range m.visits {
		if row.WebsiteID != websiteID || row.Timestamp.Before(since) {
			continue
		}
		summary.TotalPageViews++
		visitors[row.VisitorID] = struct{}{}
		if row.SessionDuration != nil {
			if cur, ok := durations[row.SessionID]; !ok || *row.SessionDuration > cur {
				durations[row.SessionID] = *row.SessionDuration
			}
		}
		countDistinct(browsers, labelOrUnknown(row.Browser), row.VisitorID)
		countDistinct(devices, labelOrUnknown(row.Device), row.VisitorID)
	}
	summary.TotalVisitors = int64(len(visitors))

	if len(durations) > 0 {
		var total int64
		for _, d := range durations {
			total += d
		}
		summary.AvgSessionDuration = float64(total) / float64(len(durations)) / 1000
	}
	summary.Browsers = rankBreakdown(browsers)
	summary.Devices = rankBreakdown(devices)
	return summary, nil
}

func labelOrUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

func countDistinct(into map[string]map[string]struct{}, label, visitor string) {
	set, ok := into[label]
	if !ok {
		set = make(map[string]struct{})
		into[label] = set
	}
	set[visitor] = struct{}{}
}

func rankBreakdown(in map[string]map[string]struct{}) []models.Breakdown {
	out := make([]models.Breakdown, 0, len(in))
	for name, set := range in {
		out = append(out, models.Breakdown{Name: name, Count: int64(len(set))})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > 10 {
		out = out[:10]
	}
	return out
}

// CreateWebsite implements WebsiteStore.
func (m *MemoryStore) CreateWebsite(_ context.Context, w *models.Website) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = m.now()
	}
	cp := *w
	m.websites[w.ID] = &cp
	return nil
}

// Website implements WebsiteStore.
func (m *MemoryStore) Website(_ context.Context, id string) (*models.Website, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.websites[id]
	if !ok {
		return nil, ErrWebsiteNotFound
	}
	cp := *w
	return &cp, nil
}

// WebsiteByAPIKey implements WebsiteStore.
func (m *MemoryStore) WebsiteByAPIKey(_ context.Context, apiKey string) (*models.Website, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, w := range m.websites {
		if w.APIKey == apiKey {
			cp := *w
			return &cp, nil
		}
	}
	return nil, ErrWebsiteNotFound
}

// ListWebsites implements WebsiteStore.
func (m *MemoryStore) ListWebsites(_ context.Context, ownerID string) ([]models.Website, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []models.Website{}
	for _, w := range m.websites {
		if ownerID == "" || w.OwnerID == ownerID {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// UpdateWebsite implements WebsiteStore.
func (m *MemoryStore) UpdateWebsite(_ context.Context, w *models.Website) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.websites[w.ID]
	if !ok {
		return ErrWebsiteNotFound
	}
	cur.Name = w.Name
	cur.URL = w.URL
	cur.Domain = w.Domain
	cur.IsActive = w.IsActive
	return nil
}

// RotateAPIKey implements WebsiteStore.
func (m *MemoryStore) RotateAPIKey(_ context.Context, id, apiKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.websites[id]
	if !ok {
		return ErrWebsiteNotFound
	}
	cur.APIKey = apiKey
	return nil
}

// DeleteWebsite implements WebsiteStore.
func (m *MemoryStore) DeleteWebsite(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.websites[id]; !ok {
		return ErrWebsiteNotFound
	}
	delete(m.websites, id)
	kept := m.visits[:0]
	for _, row := range m.visits {
		if row.WebsiteID != id {
			kept = append(kept, row)
		}
	}
	m.visits = kept
	return nil
}
