// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package audit

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
)

// EventType categorizes audit events.
type EventType string

const (
	// Authentication events
	EventTypeAuthSuccess EventType = "auth.success"
	EventTypeAuthFailure EventType = "auth.failure"
	EventTypeAuthLockout EventType = "auth.lockout"

	// Website management events
	EventTypeWebsiteCreated    EventType = "website.created"
	EventTypeWebsiteUpdated    EventType = "website.updated"
	EventTypeWebsiteDeleted    EventType = "website.deleted"
	EventTypeWebsiteKeyRotated EventType = "website.key_rotated"
)

// Severity indicates the severity level of an audit event.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
)

// Outcome indicates whether an action succeeded or failed.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// ErrEventNotFound is returned by Get for unknown IDs.
var ErrEventNotFound = errors.New("audit event not found")

// Event is one entry of the audit trail.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Severity  Severity  `json:"severity"`
	Outcome   Outcome   `json:"outcome"`

	// Actor is the dashboard username, or the attempted one for failed logins.
	Actor string `json:"actor"`

	Target *Target `json:"target,omitempty"`
	Source Source  `json:"source"`

	Description string          `json:"description"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	RequestID   string          `json:"requestId,omitempty"`
}

// Target is the object of an action.
type Target struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// Source is where a request originated.
type Source struct {
	IPAddress string `json:"ipAddress"`
	UserAgent string `json:"userAgent,omitempty"`
}

// Store persists audit events.
type Store interface {
	Save(ctx context.Context, event *Event) error
	Get(ctx context.Context, id string) (*Event, error)

	// Query returns matching events, most recent first.
	Query(ctx context.Context, filter QueryFilter) ([]Event, error)

	// Delete removes events older than the cutoff and returns how many.
	Delete(ctx context.Context, olderThan time.Time) (int64, error)
}

// QueryFilter selects audit events. Zero fields match everything.
type QueryFilter struct {
	Actor    string
	Types    []EventType
	TargetID string
	Since    *time.Time
	Limit    int
}

// Query limits.
const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 500
)

// DefaultQueryFilter returns a filter for the most recent events.
func DefaultQueryFilter() QueryFilter {
	return QueryFilter{Limit: DefaultQueryLimit}
}

func (f QueryFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return DefaultQueryLimit
	case f.Limit > MaxQueryLimit:
		return MaxQueryLimit
	default:
		return f.Limit
	}
}
