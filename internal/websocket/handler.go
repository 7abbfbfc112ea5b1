// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package websocket

import (
	"context"
	"errors"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/sitepulse/internal/database"
	"github.com/tomtom215/sitepulse/internal/ingest"
	"github.com/tomtom215/sitepulse/internal/logging"
	"github.com/tomtom215/sitepulse/internal/metrics"
	"github.com/tomtom215/sitepulse/internal/models"
	"github.com/tomtom215/sitepulse/internal/presence"
	"github.com/tomtom215/sitepulse/pkg/protocol"
)

// Presence is the part of the presence coordinator driven by channels.
type Presence interface {
	SessionStart(websiteID string, ch presence.ChannelID, v *protocol.Visit) presence.LiveSession
	PageView(websiteID string, pv *protocol.PageView) bool
	Heartbeat(websiteID, sessionID string) bool
	Disconnect(websiteID string, ch presence.ChannelID) int
	ActiveSessions(websiteID string) []protocol.ActiveSession
}

// Recorder stores visit rows reported over the channel.
type Recorder interface {
	Record(ctx context.Context, website *models.Website, v *protocol.Visit, clientIP string) (database.RecordResult, error)
}

// KeyResolver maps an API key to its active website.
type KeyResolver interface {
	Resolve(ctx context.Context, apiKey string) (*models.Website, error)
}

// Handshake rejection reasons, used as metric labels.
const (
	RejectMissingKey = "missing_key"
	RejectUnknownKey = "unknown_key"
	RejectInactive   = "inactive_website"
	RejectStoreError = "store_error"
)

// Handler upgrades HTTP requests to realtime channels.
type Handler struct {
	ctx      context.Context
	hub      *Hub
	presence Presence
	recorder Recorder
	resolver KeyResolver
	upgrader websocket.Upgrader
}

// NewHandler wires a channel endpoint. ctx bounds store calls made by
// clients and should live as long as the server.
func NewHandler(ctx context.Context, hub *Hub, p Presence, recorder Recorder, resolver KeyResolver) *Handler {
	return &Handler{
		ctx:      ctx,
		hub:      hub,
		presence: p,
		recorder: recorder,
		resolver: resolver,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Trackers are embedded on arbitrary origins; the API key
			// authenticates the connection instead.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// APIKeyFromRequest reads the tracker key from the header or query string.
func APIKeyFromRequest(r *http.Request) string {
	if key := r.Header.Get(protocol.APIKeyHeader); key != "" {
		return key
	}
	if key := r.URL.Query().Get(protocol.APIKeyQueryParam); key != "" {
		return key
	}
	return r.URL.Query().Get("apiKey")
}

// ServeHTTP authenticates the API key and upgrades to a tracker channel.
// The handshake is rejected before upgrading when the key is missing,
// unknown or belongs to an inactive website.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := APIKeyFromRequest(r)
	if key == "" {
		h.reject(w, http.StatusUnauthorized, RejectMissingKey, "API key required")
		return
	}

	website, err := h.resolver.Resolve(r.Context(), key)
	switch {
	case errors.Is(err, database.ErrWebsiteNotFound):
		h.reject(w, http.StatusForbidden, RejectUnknownKey, "Invalid or inactive API key")
		return
	case errors.Is(err, database.ErrWebsiteInactive):
		h.reject(w, http.StatusForbidden, RejectInactive, "Invalid or inactive API key")
		return
	case err != nil:
		logging.Error().Err(err).Msg("channel handshake lookup failed")
		h.reject(w, http.StatusServiceUnavailable, RejectStoreError, "Authentication failed")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		logging.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(h.hub, conn, website, RoleTracker)
	client.ctx = h.ctx
	client.presence = h.presence
	client.recorder = h.recorder
	client.clientIP = ingest.ClientIP(r)

	h.hub.join(client)
	client.Start()
}

// ServeWatch upgrades an already authorized dashboard request to a watcher
// channel for website. The current presence snapshot is sent first.
func (h *Handler) ServeWatch(w http.ResponseWriter, r *http.Request, website *models.Website) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(h.hub, conn, website, RoleWatcher)
	sessions := h.presence.ActiveSessions(website.ID)
	if frame, err := protocol.Encode(protocol.EventActiveSessionsUpdate, protocol.ActiveSessionsUpdate{
		ActiveCount: len(sessions),
		Sessions:    sessions,
	}); err == nil {
		client.enqueue(frame)
	}

	h.hub.join(client)
	client.Start()
}

func (h *Handler) reject(w http.ResponseWriter, status int, reason, message string) {
	metrics.WSHandshakeRejections.WithLabelValues(reason).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(protocol.ErrorPayload{Code: reason, Message: message})
}
