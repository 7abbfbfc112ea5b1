// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/sitepulse/internal/database"
	"github.com/tomtom215/sitepulse/pkg/protocol"
)

// summaryPeriods are the accepted ?period= values.
var summaryPeriods = map[string]time.Duration{
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

// ActiveSessions returns the live sessions of a website straight from the
// registry.
func (h *Handler) ActiveSessions(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	website, ok := h.ownedWebsite(w, r)
	if !ok {
		return
	}

	sessions := h.coordinator.ActiveSessions(website.ID)
	if sessions == nil {
		sessions = []protocol.ActiveSession{}
	}
	respondSuccess(w, http.StatusOK, protocol.ActiveSessionsUpdate{
		ActiveCount: len(sessions),
		Sessions:    sessions,
	}, started)
}

// Summary aggregates visits over ?period=24h|7d|30d (default 24h).
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	website, ok := h.ownedWebsite(w, r)
	if !ok {
		return
	}

	period := r.URL.Query().Get("period")
	if period == "" {
		period = "24h"
	}
	window, valid := summaryPeriods[period]
	if !valid {
		respondError(w, r, http.StatusBadRequest, ErrCodeValidation, "period must be one of: 24h 7d 30d", nil)
		return
	}

	summary, err := h.store.Summary(r.Context(), website.ID, h.now().Add(-window))
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeDatabase, "Failed to load summary", err)
		return
	}
	summary.ActiveSessions = h.coordinator.ActiveCount(website.ID)

	respondSuccess(w, http.StatusOK, summary, started)
}

// Dashboard aggregates the last 24 hours across every website of the caller,
// with an hourly chart and a device breakdown.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	username, ok := owner(w, r)
	if !ok {
		return
	}

	sites, err := h.store.ListWebsites(r.Context(), username)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeDatabase, "Failed to list websites", err)
		return
	}
	ids := make([]string, 0, len(sites))
	active := 0
	for i := range sites {
		ids = append(ids, sites[i].ID)
		active += h.coordinator.ActiveCount(sites[i].ID)
	}

	now := h.now()
	dash, err := h.store.Dashboard(r.Context(), ids, now.Add(-database.DashboardHours*time.Hour))
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeDatabase, "Failed to load dashboard", err)
		return
	}
	dash.ActiveSessions = active
	dash.ChartData = database.HourlyChart(dash.ChartData, now, database.DashboardHours)

	respondSuccess(w, http.StatusOK, dash, started)
}

// SessionDetail returns a stored session with its page views.
func (h *Handler) SessionDetail(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	website, ok := h.ownedWebsite(w, r)
	if !ok {
		return
	}

	detail, err := h.store.SessionDetail(r.Context(), website.ID, chi.URLParam(r, "sessionID"))
	switch {
	case errors.Is(err, database.ErrSessionNotFound):
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "Session not found", nil)
		return
	case err != nil:
		respondError(w, r, http.StatusInternalServerError, ErrCodeDatabase, "Failed to load session", err)
		return
	}
	respondSuccess(w, http.StatusOK, detail, started)
}

// sessionStatsResponse adds the derived average to event counters.
type sessionStatsResponse struct {
	SessionsClosed     int64            `json:"sessionsClosed"`
	ClosedByTrigger    map[string]int64 `json:"closedByTrigger"`
	AvgDurationSeconds float64          `json:"avgDurationSeconds"`
	VisitsRecorded     int64            `json:"visitsRecorded"`
	VisitsDeduplicated int64            `json:"visitsDeduplicated"`
	LastSessionClose   *time.Time       `json:"lastSessionClose,omitempty"`
	ActiveSessions     int              `json:"activeSessions"`
}

// SessionStats returns counters maintained by the event consumer since
// process start.
func (h *Handler) SessionStats(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	website, ok := h.ownedWebsite(w, r)
	if !ok {
		return
	}
	if h.stats == nil {
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Event statistics are disabled", nil)
		return
	}

	s := h.stats.Stats(website.ID)
	resp := sessionStatsResponse{
		SessionsClosed:     s.SessionsClosed,
		ClosedByTrigger:    s.ClosedByTrigger,
		AvgDurationSeconds: s.AvgDurationSeconds(),
		VisitsRecorded:     s.VisitsRecorded,
		VisitsDeduplicated: s.VisitsDeduped,
		ActiveSessions:     h.coordinator.ActiveCount(website.ID),
	}
	if resp.ClosedByTrigger == nil {
		resp.ClosedByTrigger = map[string]int64{}
	}
	if !s.LastSessionClose.IsZero() {
		last := s.LastSessionClose
		resp.LastSessionClose = &last
	}
	respondSuccess(w, http.StatusOK, resp, started)
}

// LiveSessions upgrades to a dashboard socket receiving presence updates
// for one website.
func (h *Handler) LiveSessions(w http.ResponseWriter, r *http.Request) {
	website, ok := h.ownedWebsite(w, r)
	if !ok {
		return
	}
	h.channels.ServeWatch(w, r, website)
}
