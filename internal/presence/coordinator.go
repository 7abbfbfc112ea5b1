// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package presence

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"

	"github.com/tomtom215/sitepulse/internal/logging"
	"github.com/tomtom215/sitepulse/internal/metrics"
	"github.com/tomtom215/sitepulse/pkg/protocol"
)

// Closure describes a terminated session whose duration must be persisted.
type Closure struct {
	WebsiteID string
	SessionID string
	VisitorID string
	Duration  time.Duration
	Trigger   string
	StartTime time.Time
	EndTime   time.Time
}

// Closer persists session durations.
type Closer interface {
	// Close schedules the write and returns immediately.
	Close(c Closure)

	// CloseNow writes synchronously and returns the number of visit rows dated.
	CloseNow(ctx context.Context, c Closure) (int64, error)
}

// Broadcaster fans a message out to every channel subscribed to a website.
type Broadcaster interface {
	BroadcastToWebsite(websiteID, eventType string, data interface{})
}

// Config tunes the coordinator.
type Config struct {
	// InactivityThreshold is the idle time after which the sweep closes a session.
	InactivityThreshold time.Duration

	// SweepBatch bounds the sessions closed per website per sweep tick.
	SweepBatch int
}

// Stats is a point-in-time view of coordinator counters.
type Stats struct {
	Live          int
	Closed        int64
	SkippedCloses int64
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock replaces the real clock, for tests.
func WithClock(clock quartz.Clock) Option {
	return func(c *Coordinator) { c.clock = clock }
}

// WithRegistry uses an existing registry instead of a fresh one.
func WithRegistry(r *Registry) Option {
	return func(c *Coordinator) { c.registry = r }
}

// Coordinator applies channel events, idle sweeps and end signals to the
// registry and triggers one durable write per terminated session.
type Coordinator struct {
	cfg         Config
	registry    *Registry
	closer      Closer
	broadcaster Broadcaster
	clock       quartz.Clock
	logger      zerolog.Logger

	closed  atomic.Int64
	skipped atomic.Int64
}

// NewCoordinator creates a coordinator. broadcaster may be nil.
func NewCoordinator(cfg Config, closer Closer, broadcaster Broadcaster, opts ...Option) *Coordinator {
	if cfg.InactivityThreshold <= 0 {
		cfg.InactivityThreshold = 5 * time.Minute
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 500
	}
	c := &Coordinator{
		cfg:         cfg,
		closer:      closer,
		broadcaster: broadcaster,
		clock:       quartz.NewReal(),
		logger:      logging.WithComponent("presence"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.registry == nil {
		c.registry = NewRegistry()
	}
	return c
}

// Registry exposes the underlying registry for read-only queries.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// Clock returns the coordinator's clock.
func (c *Coordinator) Clock() quartz.Clock {
	return c.clock
}

// SessionStart creates a live session attached to ch, or re-attaches an
// existing one without touching its start time.
func (c *Coordinator) SessionStart(websiteID string, ch ChannelID, v *protocol.Visit) LiveSession {
	now := c.clock.Now()
	ls, created := c.registry.Attach(websiteID, v.SessionID, v.VisitorID, ch, PageContextFromVisit(v), now)

	kind := "reattach"
	if created {
		kind = "new"
	}
	metrics.SessionsStarted.WithLabelValues(kind).Inc()
	metrics.LiveSessions.Set(float64(c.registry.Len()))

	c.logger.Debug().
		Str("website_id", websiteID).
		Str("session_id", v.SessionID).
		Uint64("channel", uint64(ch)).
		Str("kind", kind).
		Msg("Session started")

	c.broadcast(websiteID)
	return ls
}

// PageView records navigation within a live session and broadcasts.
func (c *Coordinator) PageView(websiteID string, pv *protocol.PageView) bool {
	page := PageContext{PageURL: pv.PageURL, PageTitle: pv.PageTitle}
	if _, ok := c.registry.Touch(websiteID, pv.SessionID, c.clock.Now(), &page); !ok {
		c.unknown(protocol.EventPageView, websiteID, pv.SessionID)
		return false
	}
	c.broadcast(websiteID)
	return true
}

// Heartbeat bumps LastActivity only.
func (c *Coordinator) Heartbeat(websiteID, sessionID string) bool {
	if _, ok := c.registry.Touch(websiteID, sessionID, c.clock.Now(), nil); !ok {
		c.unknown(protocol.EventHeartbeat, websiteID, sessionID)
		return false
	}
	return true
}

// Disconnect terminates every session attached to ch. Duration is measured
// from StartTime to now.
func (c *Coordinator) Disconnect(websiteID string, ch ChannelID) int {
	now := c.clock.Now()
	removed := c.registry.Detach(websiteID, ch)
	for i := range removed {
		c.terminate(&removed[i], now.Sub(removed[i].StartTime), now, metrics.TriggerDisconnect)
	}
	if len(removed) > 0 {
		c.broadcast(websiteID)
	}
	return len(removed)
}

// Sweep closes sessions idle for longer than the inactivity threshold.
// Duration is measured from StartTime to LastActivity, the moment the
// session went quiet. Each website is processed independently and at most
// SweepBatch sessions are closed per website per call.
func (c *Coordinator) Sweep() int {
	started := time.Now()
	now := c.clock.Now()
	cutoff := now.Add(-c.cfg.InactivityThreshold)
	stillStale := func(ls LiveSession) bool { return ls.LastActivity.Before(cutoff) }

	total := 0
	for _, websiteID := range c.registry.Websites() {
		closed := 0
		for _, sessionID := range c.registry.StaleCandidates(websiteID, cutoff, c.cfg.SweepBatch) {
			ls, ok := c.registry.RemoveIf(websiteID, sessionID, stillStale)
			if !ok {
				c.skipped.Add(1)
				metrics.DuplicateCloses.WithLabelValues(metrics.TriggerSweep).Inc()
				c.logger.Debug().
					Str("website_id", websiteID).
					Str("session_id", sessionID).
					Str("trigger", metrics.TriggerSweep).
					Msg("Session no longer stale, close skipped")
				continue
			}
			c.terminate(&ls, ls.LastActivity.Sub(ls.StartTime), now, metrics.TriggerSweep)
			closed++
		}
		if closed > 0 {
			c.broadcast(websiteID)
		}
		total += closed
	}

	metrics.SweepDuration.Observe(time.Since(started).Seconds())
	if total > 0 {
		c.logger.Info().Int("closed", total).Msg("Idle sessions swept")
	}
	return total
}

// EndSession handles the explicit end-of-session signal. A live entry, if
// any, is removed without a second write; the reported duration is then
// written synchronously to every still-undated row of the session.
func (c *Coordinator) EndSession(ctx context.Context, websiteID, sessionID string, reported time.Duration) (int64, error) {
	now := c.clock.Now()
	closure := Closure{
		WebsiteID: websiteID,
		SessionID: sessionID,
		Duration:  reported,
		Trigger:   metrics.TriggerEndSignal,
		EndTime:   now,
	}

	if ls, ok := c.registry.RemoveIf(websiteID, sessionID, nil); ok {
		closure.VisitorID = ls.VisitorID
		closure.StartTime = ls.StartTime
		if closure.Duration <= 0 {
			closure.Duration = now.Sub(ls.StartTime)
		}
		c.recordClose(&ls, metrics.TriggerEndSignal)
		c.broadcast(websiteID)
	}

	if closure.Duration <= 0 {
		return 0, nil
	}
	return c.closer.CloseNow(ctx, closure)
}

// ActiveCount returns the number of live sessions of websiteID.
func (c *Coordinator) ActiveCount(websiteID string) int {
	return c.registry.Count(websiteID)
}

// ActiveSessions lists live sessions of websiteID with their running duration.
func (c *Coordinator) ActiveSessions(websiteID string) []protocol.ActiveSession {
	return c.snapshot(websiteID, c.clock.Now())
}

// Stats returns coordinator counters.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Live:          c.registry.Len(),
		Closed:        c.closed.Load(),
		SkippedCloses: c.skipped.Load(),
	}
}

func (c *Coordinator) terminate(ls *LiveSession, duration time.Duration, now time.Time, trigger string) {
	if duration < 0 {
		duration = 0
	}
	c.recordClose(ls, trigger)
	c.closer.Close(Closure{
		WebsiteID: ls.WebsiteID,
		SessionID: ls.SessionID,
		VisitorID: ls.VisitorID,
		Duration:  duration,
		Trigger:   trigger,
		StartTime: ls.StartTime,
		EndTime:   now,
	})
}

func (c *Coordinator) recordClose(ls *LiveSession, trigger string) {
	c.closed.Add(1)
	metrics.RecordSessionClosed(trigger)
	metrics.LiveSessions.Set(float64(c.registry.Len()))
	c.logger.Info().
		Str("website_id", ls.WebsiteID).
		Str("session_id", ls.SessionID).
		Str("trigger", trigger).
		Msg("Session closed")
}

func (c *Coordinator) unknown(event, websiteID, sessionID string) {
	metrics.UnknownSessionEvents.WithLabelValues(event).Inc()
	c.logger.Debug().
		Str("website_id", websiteID).
		Str("session_id", sessionID).
		Str("event", event).
		Msg("Event for unknown session ignored")
}

func (c *Coordinator) snapshot(websiteID string, now time.Time) []protocol.ActiveSession {
	return activeSessions(c.registry.List(websiteID), now)
}

func activeSessions(live []LiveSession, now time.Time) []protocol.ActiveSession {
	out := make([]protocol.ActiveSession, 0, len(live))
	for i := range live {
		ls := &live[i]
		out = append(out, protocol.ActiveSession{
			SessionID:    ls.SessionID,
			VisitorID:    ls.VisitorID,
			StartTime:    ls.StartTime.UnixMilli(),
			LastActivity: ls.LastActivity.UnixMilli(),
			Duration:     now.Sub(ls.StartTime).Milliseconds(),
			PageURL:      ls.Page.PageURL,
			PageTitle:    ls.Page.PageTitle,
			Referrer:     ls.Page.Referrer,
			Country:      ls.Page.Country,
			City:         ls.Page.City,
			Device:       ls.Page.Device,
			Browser:      ls.Page.Browser,
			OS:           ls.Page.OS,
		})
	}
	return out
}

func (c *Coordinator) broadcast(websiteID string) {
	if c.broadcaster == nil {
		return
	}
	// Snapshot and enqueue under one lock: concurrent updates for a website
	// reach subscribers in snapshot order.
	c.registry.Publish(websiteID, func(live []LiveSession) {
		sessions := activeSessions(live, c.clock.Now())
		c.broadcaster.BroadcastToWebsite(websiteID, protocol.EventActiveSessionsUpdate, protocol.ActiveSessionsUpdate{
			ActiveCount: len(sessions),
			Sessions:    sessions,
		})
	})
}
