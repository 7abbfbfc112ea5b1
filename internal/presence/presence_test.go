// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package presence

import (
	"context"
	"io"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"github.com/tomtom215/sitepulse/internal/logging"
	"github.com/tomtom215/sitepulse/pkg/protocol"
)

func init() {
	logging.Init(logging.Config{Level: "info", Format: "console", Output: io.Discard})
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingCloser struct {
	mu     sync.Mutex
	async  []Closure
	synced []Closure
}

func (r *recordingCloser) Close(c Closure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.async = append(r.async, c)
}

func (r *recordingCloser) CloseNow(_ context.Context, c Closure) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.synced = append(r.synced, c)
	return 1, nil
}

func (r *recordingCloser) closures() []Closure {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Closure(nil), r.async...)
}

func (r *recordingCloser) syncClosures() []Closure {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Closure(nil), r.synced...)
}

type update struct {
	websiteID string
	eventType string
	payload   protocol.ActiveSessionsUpdate
}

type recordingBroadcaster struct {
	mu      sync.Mutex
	updates []update
}

func (b *recordingBroadcaster) BroadcastToWebsite(websiteID, eventType string, data interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	u, _ := data.(protocol.ActiveSessionsUpdate)
	b.updates = append(b.updates, update{websiteID: websiteID, eventType: eventType, payload: u})
}

func (b *recordingBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.updates)
}

func (b *recordingBroadcaster) last() update {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.updates[len(b.updates)-1]
}

func visit(sessionID, visitorID, pageURL string) *protocol.Visit {
	return &protocol.Visit{SessionID: sessionID, VisitorID: visitorID, PageURL: pageURL, PageTitle: "Title " + pageURL}
}
