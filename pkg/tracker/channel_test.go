// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package tracker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/sitepulse/pkg/protocol"
)

const testAPIKey = "atk_test"

// channelServer is a scripted realtime endpoint.
type channelServer struct {
	srv      *httptest.Server
	frames   chan protocol.Envelope
	requests atomic.Int32
	accepted atomic.Int32

	// reject answers the handshake with this status.
	reject func(attempt int32) int
	// dropAfterStart closes the given accepted connection after its
	// session-start frame.
	dropAfterStart func(conn int32) bool
	pushPresence   bool

	mu   sync.Mutex
	keys []string
}

func newChannelServer(t *testing.T, configure func(*channelServer)) *channelServer {
	t.Helper()
	s := &channelServer{frames: make(chan protocol.Envelope, 64)}
	if configure != nil {
		configure(s)
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *channelServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
}

func (s *channelServer) serve(w http.ResponseWriter, r *http.Request) {
	attempt := s.requests.Add(1)
	if s.reject != nil {
		if status := s.reject(attempt); status != 0 {
			http.Error(w, http.StatusText(status), status)
			return
		}
	}

	s.mu.Lock()
	s.keys = append(s.keys, r.URL.Query().Get(protocol.APIKeyQueryParam), r.Header.Get(protocol.APIKeyHeader))
	s.mu.Unlock()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	n := s.accepted.Add(1)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := protocol.Decode(data)
		if err != nil {
			continue
		}
		s.frames <- env

		if env.Type != protocol.EventSessionStart {
			continue
		}
		if s.pushPresence {
			var v protocol.Visit
			_ = env.Bind(&v)
			frame, _ := protocol.Encode(protocol.EventActiveSessionsUpdate, protocol.ActiveSessionsUpdate{
				ActiveCount: 1,
				Sessions:    []protocol.ActiveSession{{SessionID: v.SessionID, PageURL: v.PageURL}},
			})
			_ = conn.WriteMessage(websocket.TextMessage, frame)
		}
		if s.dropAfterStart != nil && s.dropAfterStart(n) {
			return
		}
	}
}

func (s *channelServer) next(t *testing.T) protocol.Envelope {
	t.Helper()
	select {
	case env := <-s.frames:
		return env
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return protocol.Envelope{}
	}
}

func testVisit(sessionID string) *protocol.Visit {
	return &protocol.Visit{
		SessionID: sessionID,
		VisitorID: "vis_test",
		PageURL:   "https://example.com/",
		PageTitle: "Home",
	}
}

func TestChannel_SessionStartHeartbeatAndPageView(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	server := newChannelServer(t, func(s *channelServer) { s.pushPresence = true })
	mClock := quartz.NewMock(t)
	updates := make(chan protocol.ActiveSessionsUpdate, 4)

	ch := NewChannel(ChannelConfig{
		URL:        server.url(),
		APIKey:     testAPIKey,
		Clock:      mClock,
		OnPresence: func(u protocol.ActiveSessionsUpdate) { updates <- u },
	})
	require.NoError(t, ch.Connect(ctx, testVisit("ses_1")))
	assert.True(t, ch.Connected())

	env := server.next(t)
	require.Equal(t, protocol.EventSessionStart, env.Type)
	var start protocol.Visit
	require.NoError(t, env.Bind(&start))
	assert.Equal(t, "ses_1", start.SessionID)

	select {
	case u := <-updates:
		assert.Equal(t, 1, u.ActiveCount)
		assert.Equal(t, "ses_1", u.Sessions[0].SessionID)
	case <-ctx.Done():
		t.Fatal("no presence update delivered")
	}

	mClock.Advance(DefaultHeartbeatInterval).MustWait(ctx)
	env = server.next(t)
	require.Equal(t, protocol.EventHeartbeat, env.Type)
	var hb protocol.Heartbeat
	require.NoError(t, env.Bind(&hb))
	assert.Equal(t, "ses_1", hb.SessionID)

	require.NoError(t, ch.SendPageView(protocol.PageView{SessionID: "ses_1", PageURL: "https://example.com/docs", PageTitle: "Docs"}))
	env = server.next(t)
	require.Equal(t, protocol.EventPageView, env.Type)

	server.mu.Lock()
	assert.Equal(t, []string{testAPIKey, testAPIKey}, server.keys)
	server.mu.Unlock()

	require.NoError(t, ch.Close())
	assert.False(t, ch.Connected())
	assert.ErrorIs(t, ch.Heartbeat(), ErrChannelUnavailable)
}

func TestChannel_HandshakeRejectionIsTerminal(t *testing.T) {
	t.Parallel()

	server := newChannelServer(t, func(s *channelServer) {
		s.reject = func(int32) int { return http.StatusForbidden }
	})
	ch := NewChannel(ChannelConfig{
		URL:            server.url(),
		APIKey:         "atk_unknown",
		Clock:          quartz.NewMock(t),
		InitialBackoff: time.Millisecond,
	})
	defer ch.Close()

	err := ch.Connect(context.Background(), testVisit("ses_1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChannelUnavailable)

	var hs *HandshakeError
	require.True(t, errors.As(err, &hs))
	assert.Equal(t, http.StatusForbidden, hs.StatusCode)
	assert.Equal(t, int32(1), server.requests.Load(), "rejections are not retried")
}

func TestChannel_RetriesTransientDialFailures(t *testing.T) {
	t.Parallel()

	server := newChannelServer(t, func(s *channelServer) {
		s.reject = func(attempt int32) int {
			if attempt < 3 {
				return http.StatusServiceUnavailable
			}
			return 0
		}
	})
	ch := NewChannel(ChannelConfig{
		URL:            server.url(),
		APIKey:         testAPIKey,
		Clock:          quartz.NewMock(t),
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	})
	defer ch.Close()

	require.NoError(t, ch.Connect(context.Background(), testVisit("ses_1")))
	assert.Equal(t, int32(3), server.requests.Load())
	assert.Equal(t, protocol.EventSessionStart, server.next(t).Type)
}

func TestChannel_ReconnectResendsSessionStart(t *testing.T) {
	t.Parallel()

	server := newChannelServer(t, func(s *channelServer) {
		s.dropAfterStart = func(conn int32) bool { return conn == 1 }
	})
	ch := NewChannel(ChannelConfig{
		URL:            server.url(),
		APIKey:         testAPIKey,
		Clock:          quartz.NewMock(t),
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	})
	defer ch.Close()

	require.NoError(t, ch.Connect(context.Background(), testVisit("ses_1")))

	first := server.next(t)
	second := server.next(t)
	require.Equal(t, protocol.EventSessionStart, first.Type)
	require.Equal(t, protocol.EventSessionStart, second.Type)

	var v protocol.Visit
	require.NoError(t, second.Bind(&v))
	assert.Equal(t, "ses_1", v.SessionID)
	assert.Equal(t, int32(2), server.accepted.Load())
	assert.Eventually(t, ch.Connected, 5*time.Second, 10*time.Millisecond)
}

func TestChannel_UnavailableAfterReconnectsExhausted(t *testing.T) {
	t.Parallel()

	server := newChannelServer(t, func(s *channelServer) {
		s.reject = func(attempt int32) int {
			if attempt > 1 {
				return http.StatusBadGateway
			}
			return 0
		}
		s.dropAfterStart = func(int32) bool { return true }
	})

	lost := make(chan error, 2)
	ch := NewChannel(ChannelConfig{
		URL:            server.url(),
		APIKey:         testAPIKey,
		Clock:          quartz.NewMock(t),
		MaxReconnects:  2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		OnUnavailable:  func(err error) { lost <- err },
	})
	defer ch.Close()

	require.NoError(t, ch.Connect(context.Background(), testVisit("ses_1")))

	select {
	case err := <-lost:
		assert.ErrorIs(t, err, ErrChannelUnavailable)
	case <-time.After(5 * time.Second):
		t.Fatal("OnUnavailable was not called")
	}
	assert.False(t, ch.Connected())
	// One accepted connection, then the first redial and two retries.
	assert.Equal(t, int32(4), server.requests.Load())
	assert.Len(t, lost, 0)
}
