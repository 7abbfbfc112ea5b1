// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

// Package protocol defines the messages exchanged between the tracker SDK and
// the SitePulse server, over the realtime channel and the HTTP fallback.
//
// Every channel frame is an Envelope:
//
//	{"type": "session-start", "data": {"sessionId": "ses_...", "visitorId": "vis_...", ...}}
//
// Timestamps and durations on the wire are Unix milliseconds.
package protocol

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Client to server events.
const (
	EventSessionStart = "session-start"
	EventPageView     = "page-view"
	EventHeartbeat    = "heartbeat"
)

// Server to client events.
const (
	EventActiveSessionsUpdate = "active-sessions-update"
	EventError                = "error"
)

// APIKeyHeader carries the per-website key on the handshake and HTTP fallback.
const APIKeyHeader = "X-API-Key"

// APIKeyQueryParam is the query-string alternative to APIKeyHeader.
const APIKeyQueryParam = "key"

// Envelope is one channel frame.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode builds a frame of the given type.
func Encode(eventType string, payload interface{}) ([]byte, error) {
	env := Envelope{Type: eventType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", eventType, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// Decode parses a frame without interpreting its payload.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode frame: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("decode frame: missing type")
	}
	return env, nil
}

// Bind unmarshals the frame payload into v.
func (e Envelope) Bind(v interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%s: %w", e.Type, err)
	}
	return nil
}

// Screen is a width/height pair in CSS pixels.
type Screen struct {
	Width  int `json:"width,omitempty" validate:"gte=0,lte=100000"`
	Height int `json:"height,omitempty" validate:"gte=0,lte=100000"`
}

// Visit is the full collected payload. It is the body of a session-start
// frame and of the HTTP fallback track request.
type Visit struct {
	APIKey       string `json:"apiKey,omitempty"`
	SessionID    string `json:"sessionId" validate:"required,max=128"`
	VisitorID    string `json:"visitorId" validate:"required,max=128"`
	SessionStart int64  `json:"sessionStart,omitempty"`
	Timestamp    int64  `json:"timestamp,omitempty"`

	PageURL   string `json:"pageUrl" validate:"max=2048"`
	PageTitle string `json:"pageTitle,omitempty" validate:"max=1024"`
	Referrer  string `json:"referrer,omitempty" validate:"max=2048"`

	UserAgent      string `json:"userAgent,omitempty" validate:"max=1024"`
	Browser        string `json:"browser,omitempty"`
	BrowserVersion string `json:"browserVersion,omitempty"`
	OS             string `json:"os,omitempty"`
	OSVersion      string `json:"osVersion,omitempty"`
	Device         string `json:"device,omitempty"`
	GPU            string `json:"gpu,omitempty"`
	Screen         Screen `json:"screenResolution"`
	Viewport       Screen `json:"viewport"`
	Timezone       string `json:"timezone,omitempty"`
	Language       string `json:"language,omitempty"`

	IPAddress string `json:"ipAddress,omitempty"`
	IPSource  string `json:"ipSource,omitempty"`
	Country   string `json:"country,omitempty"`
	City      string `json:"city,omitempty"`
	Region    string `json:"region,omitempty"`
	ISP       string `json:"isp,omitempty"`

	BatteryLevel    *float64 `json:"batteryLevel"`
	BatteryCharging *bool    `json:"batteryCharging"`

	Environment Environment `json:"environment"`
}

// Environment holds browser environment hints.
type Environment struct {
	Connection   string  `json:"connection,omitempty"`
	DoNotTrack   bool    `json:"doNotTrack,omitempty"`
	DeviceMemory float64 `json:"deviceMemory,omitempty"`
}

// PageView reports navigation within a live session.
type PageView struct {
	SessionID string `json:"sessionId" validate:"required,max=128"`
	PageURL   string `json:"pageUrl" validate:"max=2048"`
	PageTitle string `json:"pageTitle,omitempty" validate:"max=1024"`
}

// Heartbeat keeps a live session from going idle.
type Heartbeat struct {
	SessionID string `json:"sessionId" validate:"required,max=128"`
}

// SessionEnd is the explicit end-of-session report sent from unload handlers.
// Duration is in milliseconds; zero or negative values carry no duration.
type SessionEnd struct {
	APIKey    string `json:"apiKey,omitempty"`
	SessionID string `json:"sessionId" validate:"required,max=128"`
	Duration  int64  `json:"duration"`
}

// ActiveSession is one entry of a presence update.
type ActiveSession struct {
	SessionID    string `json:"sessionId"`
	VisitorID    string `json:"visitorId"`
	StartTime    int64  `json:"startTime"`
	LastActivity int64  `json:"lastActivity"`
	Duration     int64  `json:"duration"`
	PageURL      string `json:"pageUrl"`
	PageTitle    string `json:"pageTitle"`
	Referrer     string `json:"referrer,omitempty"`
	Country      string `json:"country,omitempty"`
	City         string `json:"city,omitempty"`
	Device       string `json:"device,omitempty"`
	Browser      string `json:"browser,omitempty"`
	OS           string `json:"os,omitempty"`
}

// ActiveSessionsUpdate is broadcast to every subscriber of a website.
type ActiveSessionsUpdate struct {
	ActiveCount int             `json:"activeCount"`
	Sessions    []ActiveSession `json:"sessions"`
}

// ErrorPayload is sent before the server closes a channel.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// TrackerConfig is served to SDK clients at startup.
type TrackerConfig struct {
	TrackerURL        string `json:"trackerUrl"`
	SessionEndURL     string `json:"sessionEndUrl"`
	ChannelURL        string `json:"channelUrl"`
	SessionDuration   int64  `json:"sessionDuration"`
	HeartbeatInterval int64  `json:"heartbeatInterval"`
}

// TrackResponse is returned by the HTTP fallback track endpoint.
type TrackResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	VisitID string `json:"visitId,omitempty"`
}

// SessionEndResponse is returned by the session-end endpoint.
type SessionEndResponse struct {
	Success bool  `json:"success"`
	Updated int64 `json:"updated"`
}
