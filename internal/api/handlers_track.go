// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/tomtom215/sitepulse/internal/database"
	"github.com/tomtom215/sitepulse/internal/ingest"
	"github.com/tomtom215/sitepulse/internal/logging"
	"github.com/tomtom215/sitepulse/internal/models"
	"github.com/tomtom215/sitepulse/internal/persist"
	"github.com/tomtom215/sitepulse/pkg/protocol"
)

const msgWebsiteNotFound = "Website not found or inactive"

// apiKeyFrom prefers the key in the body, then the header, then the query string.
func apiKeyFrom(r *http.Request, bodyKey string) string {
	if bodyKey != "" {
		return bodyKey
	}
	if key := r.Header.Get(protocol.APIKeyHeader); key != "" {
		return key
	}
	return r.URL.Query().Get(protocol.APIKeyQueryParam)
}

// resolveWebsite maps key to its active website. On failure the error
// response has already been written.
func (h *Handler) resolveWebsite(w http.ResponseWriter, r *http.Request, key string) (*models.Website, bool) {
	if key == "" {
		respondError(w, r, http.StatusUnauthorized, ErrCodeInvalidAPIKey, "API key required", nil)
		return nil, false
	}

	website, err := h.resolver.Resolve(r.Context(), key)
	switch {
	case errors.Is(err, database.ErrWebsiteNotFound), errors.Is(err, database.ErrWebsiteInactive):
		respondError(w, r, http.StatusNotFound, ErrCodeInvalidAPIKey, msgWebsiteNotFound, nil)
		return nil, false
	case err != nil:
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Website lookup failed", err)
		return nil, false
	}
	return website, true
}

// Track records a visit sent over the HTTP fallback.
//
// A repeat of the same visitor and page within an hour is acknowledged with
// 200 and only refreshes the existing row; a new visit returns 201.
func (h *Handler) Track(w http.ResponseWriter, r *http.Request) {
	var visit protocol.Visit
	if !decodeBody(w, r, &visit) {
		return
	}

	website, ok := h.resolveWebsite(w, r, apiKeyFrom(r, visit.APIKey))
	if !ok {
		return
	}

	res, err := h.recorder.Record(r.Context(), website, &visit, ingest.ClientIP(r))
	if err != nil {
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeDatabase, "Failed to record visit", err)
		return
	}

	if res.Deduplicated {
		writeJSON(w, http.StatusOK, protocol.TrackResponse{
			Success: true,
			Message: database.DedupeMessage,
			VisitID: res.VisitID,
		})
		return
	}
	writeJSON(w, http.StatusCreated, protocol.TrackResponse{Success: true, VisitID: res.VisitID})
}

// SessionEnd records the duration reported by an unload handler.
//
// The write only touches rows without a duration. When the store is
// unavailable and the close has been journaled, 202 is returned with
// updated set to 0.
func (h *Handler) SessionEnd(w http.ResponseWriter, r *http.Request) {
	var req protocol.SessionEnd
	if !decodeBody(w, r, &req) {
		return
	}

	website, ok := h.resolveWebsite(w, r, apiKeyFrom(r, req.APIKey))
	if !ok {
		return
	}

	reported := time.Duration(req.Duration) * time.Millisecond
	updated, err := h.coordinator.EndSession(r.Context(), website.ID, req.SessionID, reported)
	switch {
	case errors.Is(err, persist.ErrDeferred):
		writeJSON(w, http.StatusAccepted, protocol.SessionEndResponse{Success: true})
		return
	case err != nil:
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeDatabase, "Failed to end session", err)
		return
	}

	logging.Ctx(r.Context()).Debug().
		Str("website_id", website.ID).
		Str("session_id", sanitizeLogValue(req.SessionID)).
		Int64("duration_ms", req.Duration).
		Int64("updated", updated).
		Msg("Session end reported")

	writeJSON(w, http.StatusOK, protocol.SessionEndResponse{Success: true, Updated: updated})
}

// TrackerConfig tells SDK clients where to send data.
func (h *Handler) TrackerConfig(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.resolveWebsite(w, r, apiKeyFrom(r, "")); !ok {
		return
	}

	base := strings.TrimRight(h.config.Tracker.PublicURL, "/")
	if base == "" {
		base = requestBaseURL(r)
	}

	writeJSON(w, http.StatusOK, protocol.TrackerConfig{
		TrackerURL:        base + "/api/track",
		SessionEndURL:     base + "/api/session-end",
		ChannelURL:        channelURL(base) + "/ws",
		SessionDuration:   h.config.Tracker.SessionDuration.Milliseconds(),
		HeartbeatInterval: h.config.Presence.HeartbeatInterval.Milliseconds(),
	})
}

// requestBaseURL rebuilds scheme and host from the request, honoring
// X-Forwarded-Proto from a reverse proxy.
func requestBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "https" || proto == "http" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}

func channelURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}
