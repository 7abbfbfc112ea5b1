// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

// Package persist writes session durations to the durable store on behalf
// of the presence coordinator.
//
// Writes triggered by disconnects and idle sweeps are fire-and-forget: the
// registry entry is already gone when the write starts. A write that fails
// is appended to the journal and replayed later by the wal.RetryLoop; a
// write that can neither reach the store nor the journal is counted and
// dropped.
//
// The flow for each closure is:
//  1. CloseSession on the store
//  2. On success: publish a sessions.closed event
//  3. On failure: append a PendingClose to the journal
package persist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/sitepulse/internal/database"
	"github.com/tomtom215/sitepulse/internal/eventprocessor"
	"github.com/tomtom215/sitepulse/internal/logging"
	"github.com/tomtom215/sitepulse/internal/metrics"
	"github.com/tomtom215/sitepulse/internal/presence"
	"github.com/tomtom215/sitepulse/internal/wal"
)

// ErrDeferred is returned by CloseNow when the store write failed but the
// closure was journaled for replay.
var ErrDeferred = errors.New("session close deferred to journal")

// DefaultTimeout bounds each asynchronous write.
const DefaultTimeout = 10 * time.Second

// Journal durably records closes that could not be written.
type Journal interface {
	Write(ctx context.Context, event interface{}) (string, error)
}

// EventPublisher receives sessions.closed events.
type EventPublisher interface {
	PublishSessionClosed(ctx context.Context, event *eventprocessor.SessionClosedEvent) error
}

// PendingClose is the journal payload of a deferred close.
type PendingClose struct {
	WebsiteID  string    `json:"website_id"`
	SessionID  string    `json:"session_id"`
	VisitorID  string    `json:"visitor_id,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	Trigger    string    `json:"trigger"`
	StartTime  time.Time `json:"start_time,omitempty"`
	EndedAt    time.Time `json:"ended_at"`
}

func pendingFrom(c presence.Closure) PendingClose {
	return PendingClose{
		WebsiteID:  c.WebsiteID,
		SessionID:  c.SessionID,
		VisitorID:  c.VisitorID,
		DurationMS: c.Duration.Milliseconds(),
		Trigger:    c.Trigger,
		StartTime:  c.StartTime,
		EndedAt:    c.EndTime,
	}
}

func (p PendingClose) closure() presence.Closure {
	return presence.Closure{
		WebsiteID: p.WebsiteID,
		SessionID: p.SessionID,
		VisitorID: p.VisitorID,
		Duration:  time.Duration(p.DurationMS) * time.Millisecond,
		Trigger:   p.Trigger,
		StartTime: p.StartTime,
		EndTime:   p.EndedAt,
	}
}

// Dispatcher implements presence.Closer and wal.Replayer.
type Dispatcher struct {
	store     database.VisitStore
	journal   Journal
	publisher EventPublisher
	timeout   time.Duration

	wg sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithJournal enables journaling of failed writes.
func WithJournal(j Journal) Option {
	return func(d *Dispatcher) { d.journal = j }
}

// WithPublisher enables sessions.closed events.
func WithPublisher(p EventPublisher) Option {
	return func(d *Dispatcher) { d.publisher = p }
}

// WithTimeout overrides DefaultTimeout for asynchronous writes.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// NewDispatcher creates a dispatcher writing to store.
func NewDispatcher(store database.VisitStore, opts ...Option) *Dispatcher {
	d := &Dispatcher{store: store, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Close schedules the write in the background and returns immediately.
func (d *Dispatcher) Close(c presence.Closure) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if _, err := d.CloseNow(ctx, c); err != nil && !errors.Is(err, ErrDeferred) {
			logging.Error().
				Err(err).
				Str("website_id", c.WebsiteID).
				Str("session_id", c.SessionID).
				Str("trigger", c.Trigger).
				Msg("Session close write lost")
		}
	}()
}

// CloseNow writes the duration synchronously. When the store fails and the
// closure was journaled, it returns 0 and ErrDeferred.
func (d *Dispatcher) CloseNow(ctx context.Context, c presence.Closure) (int64, error) {
	rows, err := d.store.CloseSession(ctx, c.WebsiteID, c.SessionID, c.Duration)
	if err == nil {
		d.publish(ctx, c, rows)
		return rows, nil
	}

	logging.Warn().
		Err(err).
		Str("website_id", c.WebsiteID).
		Str("session_id", c.SessionID).
		Str("trigger", c.Trigger).
		Msg("Session close write failed")

	if d.journal == nil {
		metrics.CloseWritesDropped.Inc()
		return 0, fmt.Errorf("close session %s: %w", c.SessionID, err)
	}

	// The caller's context may already be expired; the journal write gets its own.
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	entryID, jerr := d.journal.Write(jctx, pendingFrom(c))
	if jerr != nil {
		metrics.CloseWritesDropped.Inc()
		return 0, fmt.Errorf("close session %s: %w (journal: %v)", c.SessionID, err, jerr)
	}

	logging.Debug().
		Str("session_id", c.SessionID).
		Str("wal_entry_id", entryID).
		Msg("Session close journaled for replay")
	return 0, ErrDeferred
}

// Replay implements wal.Replayer for journaled closes.
func (d *Dispatcher) Replay(ctx context.Context, entry *wal.Entry) error {
	var p PendingClose
	if err := entry.UnmarshalPayload(&p); err != nil {
		return err
	}
	c := p.closure()
	rows, err := d.store.CloseSession(ctx, c.WebsiteID, c.SessionID, c.Duration)
	if err != nil {
		return err
	}
	d.publish(ctx, c, rows)
	return nil
}

// Wait blocks until in-flight asynchronous writes finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) publish(ctx context.Context, c presence.Closure, rows int64) {
	if d.publisher == nil {
		return
	}
	event := &eventprocessor.SessionClosedEvent{
		EventID:     uuid.NewString(),
		WebsiteID:   c.WebsiteID,
		SessionID:   c.SessionID,
		VisitorID:   c.VisitorID,
		DurationMS:  max(c.Duration.Milliseconds(), 0),
		Trigger:     c.Trigger,
		StartTime:   c.StartTime,
		EndTime:     c.EndTime,
		RowsUpdated: rows,
	}
	if err := d.publisher.PublishSessionClosed(ctx, event); err != nil {
		logging.Warn().Err(err).Str("session_id", c.SessionID).Msg("Failed to publish session closed event")
	}
}
