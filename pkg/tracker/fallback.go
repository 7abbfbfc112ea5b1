// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package tracker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/sitepulse/pkg/protocol"
)

// HTTP fallback send budget: a burst of 5 requests, then one per second.
const (
	fallbackBurst = 5
	fallbackEvery = time.Second
)

// StatusError is a non-2xx response from the server.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Body)
}

// HTTPSender delivers visits and end-of-session reports without a channel.
// Sends are rate limited so a flapping page cannot flood the server.
type HTTPSender struct {
	client        *http.Client
	apiKey        string
	trackURL      string
	sessionEndURL string
	limiter       *rate.Limiter
}

// NewHTTPSender creates a sender for the given endpoints.
func NewHTTPSender(client *http.Client, apiKey, trackURL, sessionEndURL string) *HTTPSender {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSender{
		client:        client,
		apiKey:        apiKey,
		trackURL:      trackURL,
		sessionEndURL: sessionEndURL,
		limiter:       rate.NewLimiter(rate.Every(fallbackEvery), fallbackBurst),
	}
}

// Track records a visit. A deduplicated visit is a success with Message set.
func (s *HTTPSender) Track(ctx context.Context, v *protocol.Visit) (*protocol.TrackResponse, error) {
	body := *v
	body.APIKey = s.apiKey

	var resp protocol.TrackResponse
	if err := s.post(ctx, s.trackURL, &body, &resp); err != nil {
		return nil, fmt.Errorf("track: %w", err)
	}
	return &resp, nil
}

// EndSession reports the final duration of sessionID and returns how many
// visit rows were updated. Non-positive durations are not sent.
func (s *HTTPSender) EndSession(ctx context.Context, sessionID string, duration time.Duration) (int64, error) {
	if duration <= 0 {
		return 0, nil
	}
	req := protocol.SessionEnd{
		APIKey:    s.apiKey,
		SessionID: sessionID,
		Duration:  duration.Milliseconds(),
	}
	var resp protocol.SessionEndResponse
	if err := s.post(ctx, s.sessionEndURL, &req, &resp); err != nil {
		return 0, fmt.Errorf("session end: %w", err)
	}
	return resp.Updated, nil
}

func (s *HTTPSender) post(ctx context.Context, endpoint string, in, out interface{}) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(protocol.APIKeyHeader, s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

// FetchConfig loads endpoint URLs and timings from a SitePulse server.
func FetchConfig(ctx context.Context, client *http.Client, serverURL, apiKey string) (*protocol.TrackerConfig, error) {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	endpoint := strings.TrimRight(serverURL, "/") + "/api/v1/tracker/config?" +
		url.Values{protocol.APIKeyQueryParam: {apiKey}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch tracker config: %w", err)
	}
	defer resp.Body.Close()

	var cfg protocol.TrackerConfig
	if err := decodeResponse(resp, &cfg); err != nil {
		return nil, fmt.Errorf("fetch tracker config: %w", err)
	}
	return &cfg, nil
}

func decodeResponse(resp *http.Response, out interface{}) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}
