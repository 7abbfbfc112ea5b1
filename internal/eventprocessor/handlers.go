// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package eventprocessor

import (
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/sitepulse/internal/logging"
	"github.com/tomtom215/sitepulse/internal/metrics"
)

// WebsiteStats aggregates closed sessions and recorded visits for one website
// since process start.
type WebsiteStats struct {
	WebsiteID        string           `json:"website_id"`
	SessionsClosed   int64            `json:"sessions_closed"`
	ClosedByTrigger  map[string]int64 `json:"closed_by_trigger"`
	TotalDurationMS  int64            `json:"total_duration_ms"`
	VisitsRecorded   int64            `json:"visits_recorded"`
	VisitsDeduped    int64            `json:"visits_deduplicated"`
	LastSessionClose time.Time        `json:"last_session_close,omitempty"`
}

// AvgDurationSeconds returns the mean closed-session duration.
func (s WebsiteStats) AvgDurationSeconds() float64 {
	if s.SessionsClosed == 0 {
		return 0
	}
	return float64(s.TotalDurationMS) / float64(s.SessionsClosed) / 1000
}

// SessionStatsHandler consumes domain events and keeps per-website counters.
type SessionStatsHandler struct {
	mu    sync.RWMutex
	sites map[string]*WebsiteStats
}

// NewSessionStatsHandler returns an empty handler.
func NewSessionStatsHandler() *SessionStatsHandler {
	return &SessionStatsHandler{sites: make(map[string]*WebsiteStats)}
}

// Register subscribes the handler to both topics on r.
func (h *SessionStatsHandler) Register(r *Router, sub message.Subscriber, prefix string) {
	r.AddConsumerHandler("session-stats-closed", TopicName(prefix, TopicSessionClosed), sub, h.HandleSessionClosed)
	r.AddConsumerHandler("session-stats-visits", TopicName(prefix, TopicVisitRecorded), sub, h.HandleVisitRecorded)
}

// HandleSessionClosed processes one sessions.closed message. Malformed
// payloads are logged and acked so they are not redelivered forever.
func (h *SessionStatsHandler) HandleSessionClosed(msg *message.Message) error {
	var event SessionClosedEvent
	if err := Unmarshal(msg.Payload, &event); err != nil {
		logging.Warn().Err(err).Str("message_id", msg.UUID).Msg("Dropping malformed session event")
		return nil
	}
	if event.RowsUpdated == 0 {
		return nil
	}

	metrics.SessionDuration.Observe(float64(event.DurationMS) / 1000)

	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.site(event.WebsiteID)
	s.SessionsClosed++
	s.ClosedByTrigger[event.Trigger]++
	s.TotalDurationMS += event.DurationMS
	if event.EndTime.After(s.LastSessionClose) {
		s.LastSessionClose = event.EndTime
	}
	return nil
}

// HandleVisitRecorded processes one visits.recorded message.
func (h *SessionStatsHandler) HandleVisitRecorded(msg *message.Message) error {
	var event VisitRecordedEvent
	if err := Unmarshal(msg.Payload, &event); err != nil {
		logging.Warn().Err(err).Str("message_id", msg.UUID).Msg("Dropping malformed visit event")
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.site(event.WebsiteID)
	if event.Deduplicated {
		s.VisitsDeduped++
	} else {
		s.VisitsRecorded++
	}
	return nil
}

func (h *SessionStatsHandler) site(websiteID string) *WebsiteStats {
	s, ok := h.sites[websiteID]
	if !ok {
		s = &WebsiteStats{WebsiteID: websiteID, ClosedByTrigger: make(map[string]int64)}
		h.sites[websiteID] = s
	}
	return s
}

// Stats returns a copy of the counters for websiteID.
func (h *SessionStatsHandler) Stats(websiteID string) WebsiteStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s, ok := h.sites[websiteID]
	if !ok {
		return WebsiteStats{WebsiteID: websiteID, ClosedByTrigger: map[string]int64{}}
	}
	cp := *s
	cp.ClosedByTrigger = make(map[string]int64, len(s.ClosedByTrigger))
	for k, v := range s.ClosedByTrigger {
		cp.ClosedByTrigger[k] = v
	}
	return cp
}
