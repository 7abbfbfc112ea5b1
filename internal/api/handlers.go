// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/tomtom215/sitepulse/internal/audit"
	"github.com/tomtom215/sitepulse/internal/auth"
	"github.com/tomtom215/sitepulse/internal/config"
	"github.com/tomtom215/sitepulse/internal/database"
	"github.com/tomtom215/sitepulse/internal/eventprocessor"
	"github.com/tomtom215/sitepulse/internal/models"
	"github.com/tomtom215/sitepulse/internal/presence"
	"github.com/tomtom215/sitepulse/pkg/protocol"
)

// Coordinator is the part of the presence coordinator used by HTTP handlers.
type Coordinator interface {
	EndSession(ctx context.Context, websiteID, sessionID string, reported time.Duration) (int64, error)
	ActiveCount(websiteID string) int
	ActiveSessions(websiteID string) []protocol.ActiveSession
	Stats() presence.Stats
}

// Recorder stores visits received over HTTP.
type Recorder interface {
	Record(ctx context.Context, website *models.Website, v *protocol.Visit, clientIP string) (database.RecordResult, error)
}

// KeyResolver maps API keys to active websites and forgets cached entries.
type KeyResolver interface {
	Resolve(ctx context.Context, apiKey string) (*models.Website, error)
	Invalidate(websiteID string)
}

// ChannelHandler serves tracker and dashboard websockets.
type ChannelHandler interface {
	http.Handler
	ServeWatch(w http.ResponseWriter, r *http.Request, website *models.Website)
}

// StatsSource reports counters built from domain events.
type StatsSource interface {
	Stats(websiteID string) eventprocessor.WebsiteStats
}

// ClientCounter reports connected websocket clients.
type ClientCounter interface {
	GetClientCount() int
}

// Dependencies groups what the handlers need. Stats, Clients and Audit are
// optional.
type Dependencies struct {
	Config      *config.Config
	Store       database.Store
	Coordinator Coordinator
	Recorder    Recorder
	Resolver    KeyResolver
	Channels    ChannelHandler
	JWT         *auth.JWTManager
	Credentials *auth.Credentials
	Stats       StatsSource
	Clients     ClientCounter
	Audit       *audit.Logger
}

// Handler contains dependencies for API handlers
//
// Handler methods are split across files:
//   - handlers_track.go: tracker ingestion, session end, tracker config
//   - handlers_auth.go: dashboard login
//   - handlers_websites.go: website management
//   - handlers_audit.go: audit trail
//   - handlers_presence.go: live sessions, summaries, dashboard, session detail, live socket
//   - handlers_health.go: health
type Handler struct {
	config      *config.Config
	store       database.Store
	coordinator Coordinator
	recorder    Recorder
	resolver    KeyResolver
	channels    ChannelHandler
	jwtManager  *auth.JWTManager
	credentials *auth.Credentials
	stats       StatsSource
	clients     ClientCounter
	audit       *audit.Logger
	startTime   time.Time
	now         func() time.Time
}

// NewHandler creates a new API handler.
func NewHandler(deps Dependencies) *Handler {
	cfg := deps.Config
	if cfg == nil {
		cfg = &config.Config{}
	}
	return &Handler{
		config:      cfg,
		store:       deps.Store,
		coordinator: deps.Coordinator,
		recorder:    deps.Recorder,
		resolver:    deps.Resolver,
		channels:    deps.Channels,
		jwtManager:  deps.JWT,
		credentials: deps.Credentials,
		stats:       deps.Stats,
		clients:     deps.Clients,
		audit:       deps.Audit,
		startTime:   time.Now(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}
