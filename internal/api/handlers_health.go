// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package api

import (
	"context"
	"net/http"
	"time"
)

// HealthStatus is the body of the health endpoint.
type HealthStatus struct {
	Status            string  `json:"status"`
	DatabaseConnected bool    `json:"databaseConnected"`
	LiveSessions      int     `json:"liveSessions"`
	SessionsClosed    int64   `json:"sessionsClosed"`
	Channels          int     `json:"channels"`
	Uptime            float64 `json:"uptime"`
}

// Health reports store connectivity and presence counters. A store outage
// reports degraded with 503; presence keeps working without the store.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	dbConnected := h.store != nil && h.store.Ping(ctx) == nil

	health := HealthStatus{
		Status:            "healthy",
		DatabaseConnected: dbConnected,
		Uptime:            time.Since(h.startTime).Seconds(),
	}
	if h.coordinator != nil {
		stats := h.coordinator.Stats()
		health.LiveSessions = stats.Live
		health.SessionsClosed = stats.Closed
	}
	if h.clients != nil {
		health.Channels = h.clients.GetClientCount()
	}

	status := http.StatusOK
	if !dbConnected {
		health.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	respondSuccess(w, status, health, started)
}
