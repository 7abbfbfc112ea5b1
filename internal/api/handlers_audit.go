// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/sitepulse/internal/audit"
)

// AuditEvents lists the caller's audit trail, most recent first.
//
// Query parameters: type (comma separated), website, since (RFC 3339) and
// limit (at most audit.MaxQueryLimit).
func (h *Handler) AuditEvents(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	username, ok := owner(w, r)
	if !ok {
		return
	}
	if h.audit == nil {
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Audit logging is disabled", nil)
		return
	}

	filter := audit.DefaultQueryFilter()
	filter.Actor = username
	filter.TargetID = r.URL.Query().Get("website")

	q := r.URL.Query()
	if raw := q.Get("type"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter.Types = append(filter.Types, audit.EventType(t))
			}
		}
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, ErrCodeValidation, "since must be an RFC 3339 timestamp", nil)
			return
		}
		filter.Since = &since
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > audit.MaxQueryLimit {
			respondError(w, r, http.StatusBadRequest, ErrCodeValidation, "limit must be between 1 and "+strconv.Itoa(audit.MaxQueryLimit), nil)
			return
		}
		filter.Limit = limit
	}

	events, err := h.audit.Query(r.Context(), filter)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeDatabase, "Failed to load audit events", err)
		return
	}
	respondSuccess(w, http.StatusOK, events, started)
}
