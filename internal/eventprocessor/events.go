// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package eventprocessor

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Topic suffixes. The configured subject prefix is prepended.
const (
	TopicSessionClosed = "sessions.closed"
	TopicVisitRecorded = "visits.recorded"
)

// SessionClosedEvent is emitted once a session duration has been written.
type SessionClosedEvent struct {
	EventID    string    `json:"event_id"`
	WebsiteID  string    `json:"website_id"`
	SessionID  string    `json:"session_id"`
	VisitorID  string    `json:"visitor_id,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	Trigger    string    `json:"trigger"`
	StartTime  time.Time `json:"start_time,omitempty"`
	EndTime    time.Time `json:"end_time"`
	// RowsUpdated is how many visit rows received the duration.
	RowsUpdated int64 `json:"rows_updated"`
}

// Validate checks required fields.
func (e *SessionClosedEvent) Validate() error {
	switch {
	case e.EventID == "":
		return fmt.Errorf("event_id is required")
	case e.WebsiteID == "":
		return fmt.Errorf("website_id is required")
	case e.SessionID == "":
		return fmt.Errorf("session_id is required")
	case e.DurationMS < 0:
		return fmt.Errorf("duration_ms must be non-negative")
	}
	return nil
}

// VisitRecordedEvent is emitted after a page view is stored.
type VisitRecordedEvent struct {
	EventID      string    `json:"event_id"`
	VisitID      string    `json:"visit_id"`
	WebsiteID    string    `json:"website_id"`
	SessionID    string    `json:"session_id"`
	VisitorID    string    `json:"visitor_id"`
	PageURL      string    `json:"page_url"`
	Deduplicated bool      `json:"deduplicated"`
	Timestamp    time.Time `json:"timestamp"`
}

// Validate checks required fields.
func (e *VisitRecordedEvent) Validate() error {
	switch {
	case e.EventID == "":
		return fmt.Errorf("event_id is required")
	case e.WebsiteID == "":
		return fmt.Errorf("website_id is required")
	case e.SessionID == "":
		return fmt.Errorf("session_id is required")
	}
	return nil
}

type validatable interface {
	Validate() error
}

// Marshal validates and encodes an event.
func Marshal(event validatable) ([]byte, error) {
	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("validate event: %w", err)
	}
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a message payload into v.
func Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal event: %w", err)
	}
	return nil
}
