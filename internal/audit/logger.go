// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package audit

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/sitepulse/internal/config"
	"github.com/tomtom215/sitepulse/internal/logging"
	"github.com/tomtom215/sitepulse/internal/metrics"
)

// Config holds configuration for the audit logger.
type Config struct {
	// RetentionDays is how long to keep audit events.
	RetentionDays int

	// CleanupInterval is how often Serve runs retention cleanup.
	CleanupInterval time.Duration

	// BufferSize is the size of the async write buffer.
	BufferSize int

	// LogToStdout also writes events to the application log.
	LogToStdout bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		RetentionDays:   90,
		CleanupInterval: 24 * time.Hour,
		BufferSize:      1000,
	}
}

// ConfigFrom converts application configuration.
func ConfigFrom(cfg config.AuditConfig) Config {
	return Config{
		RetentionDays:   cfg.RetentionDays,
		CleanupInterval: cfg.CleanupInterval,
		BufferSize:      cfg.BufferSize,
		LogToStdout:     cfg.LogToStdout,
	}
}

// Logger buffers audit events and writes them to a Store in the background.
// A nil *Logger discards events, so callers need no enabled checks.
type Logger struct {
	config    Config
	store     Store
	eventChan chan *Event
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	now       func() time.Time
}

// NewLogger creates a logger and starts its writer.
func NewLogger(store Store, cfg Config) *Logger {
	defaults := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaults.BufferSize
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = defaults.RetentionDays
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaults.CleanupInterval
	}

	l := &Logger{
		config:    cfg,
		store:     store,
		eventChan: make(chan *Event, cfg.BufferSize),
		stopChan:  make(chan struct{}),
		now:       func() time.Time { return time.Now().UTC() },
	}

	l.wg.Add(1)
	go l.asyncWriter()

	return l
}

func (l *Logger) asyncWriter() {
	defer l.wg.Done()

	for {
		select {
		case <-l.stopChan:
			// Drain remaining events
			for {
				select {
				case event := <-l.eventChan:
					l.writeEvent(event)
				default:
					return
				}
			}
		case event := <-l.eventChan:
			l.writeEvent(event)
		}
	}
}

func (l *Logger) writeEvent(event *Event) {
	if l.config.LogToStdout {
		if data, err := json.Marshal(event); err == nil {
			logging.Info().RawJSON("event", data).Msg("Audit event")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := l.store.Save(ctx, event); err != nil {
		metrics.AuditEvents.WithLabelValues("failed").Inc()
		logging.Error().Err(err).Str("event_type", string(event.Type)).Msg("Failed to save audit event")
		return
	}
	metrics.AuditEvents.WithLabelValues("saved").Inc()
}

// Log queues an event. It never blocks; when the buffer is full the event
// is dropped and counted.
func (l *Logger) Log(event *Event) {
	if l == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now()
	}

	select {
	case l.eventChan <- event:
	default:
		metrics.AuditEvents.WithLabelValues("dropped").Inc()
		logging.Warn().Str("event_id", event.ID).Msg("Audit event buffer full, dropping event")
	}
}

// Close flushes buffered events and stops the writer. Safe to call twice.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.stopOnce.Do(func() { close(l.stopChan) })
	l.wg.Wait()
	return nil
}

// Cleanup deletes events past the retention period.
func (l *Logger) Cleanup(ctx context.Context) (int64, error) {
	cutoff := l.now().AddDate(0, 0, -l.config.RetentionDays)
	return l.store.Delete(ctx, cutoff)
}

// Serve runs retention cleanup until ctx is canceled. It implements
// suture.Service.
func (l *Logger) Serve(ctx context.Context) error {
	ticker := time.NewTicker(l.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			count, err := l.Cleanup(ctx)
			if err != nil {
				logging.Error().Err(err).Msg("Audit cleanup error")
			} else if count > 0 {
				logging.Info().Int64("count", count).Msg("Cleaned up old audit events")
			}
		}
	}
}

// String names the service in supervisor logs.
func (l *Logger) String() string {
	return "audit-retention"
}

// Query returns matching events, most recent first.
func (l *Logger) Query(ctx context.Context, filter QueryFilter) ([]Event, error) {
	return l.store.Query(ctx, filter)
}

// LogAuthSuccess records a successful dashboard login.
func (l *Logger) LogAuthSuccess(ctx context.Context, username string, source Source) {
	l.Log(&Event{
		Type:        EventTypeAuthSuccess,
		Severity:    SeverityInfo,
		Outcome:     OutcomeSuccess,
		Actor:       username,
		Source:      source,
		Description: "Dashboard login",
		RequestID:   logging.RequestIDFromContext(ctx),
	})
}

// LogAuthFailure records a rejected login attempt.
func (l *Logger) LogAuthFailure(ctx context.Context, username string, source Source, reason string) {
	l.Log(&Event{
		Type:        EventTypeAuthFailure,
		Severity:    SeverityWarning,
		Outcome:     OutcomeFailure,
		Actor:       username,
		Source:      source,
		Description: "Dashboard login failed: " + reason,
		RequestID:   logging.RequestIDFromContext(ctx),
	})
}

// LogAuthLockout records a login refused because of repeated failures.
func (l *Logger) LogAuthLockout(ctx context.Context, username string, source Source, remaining time.Duration) {
	l.Log(&Event{
		Type:        EventTypeAuthLockout,
		Severity:    SeverityWarning,
		Outcome:     OutcomeFailure,
		Actor:       username,
		Source:      source,
		Description: "Login refused while locked out",
		Metadata:    mustJSON(map[string]interface{}{"remainingSeconds": int(remaining.Seconds())}),
		RequestID:   logging.RequestIDFromContext(ctx),
	})
}

// LogWebsiteChange records a website management action by its owner.
func (l *Logger) LogWebsiteChange(ctx context.Context, eventType EventType, actor string, target Target, source Source, metadata map[string]interface{}) {
	target.Type = "website"
	l.Log(&Event{
		Type:        eventType,
		Severity:    SeverityInfo,
		Outcome:     OutcomeSuccess,
		Actor:       actor,
		Target:      &target,
		Source:      source,
		Description: describeWebsiteChange(eventType, target.Name),
		Metadata:    mustJSON(metadata),
		RequestID:   logging.RequestIDFromContext(ctx),
	})
}

func describeWebsiteChange(eventType EventType, name string) string {
	switch eventType {
	case EventTypeWebsiteCreated:
		return "Website created: " + name
	case EventTypeWebsiteDeleted:
		return "Website deleted: " + name
	case EventTypeWebsiteKeyRotated:
		return "API key regenerated: " + name
	default:
		return "Website updated: " + name
	}
}

func mustJSON(v map[string]interface{}) json.RawMessage {
	if len(v) == 0 {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
