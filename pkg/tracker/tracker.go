// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tomtom215/sitepulse/pkg/protocol"
)

// Mode is how the tracker currently delivers data.
type Mode int

// Delivery modes.
const (
	ModeIdle Mode = iota
	ModeChannel
	ModeHTTP
)

func (m Mode) String() string {
	switch m {
	case ModeChannel:
		return "channel"
	case ModeHTTP:
		return "http"
	}
	return "idle"
}

// Config configures a Tracker. Either ServerURL or TrackerURL and
// SessionEndURL must be set; missing endpoints are fetched from ServerURL.
type Config struct {
	APIKey    string
	ServerURL string

	TrackerURL    string
	SessionEndURL string
	// ChannelURL may be empty to use HTTP delivery only.
	ChannelURL string

	SessionDuration   time.Duration
	HeartbeatInterval time.Duration
	MaxReconnects     int

	Storage     Storage
	HTTPClient  *http.Client
	Dialer      *websocket.Dialer
	Clock       quartz.Clock
	Logger      zerolog.Logger
	Collector   *Collector
	Environment Environment

	OnPresence func(protocol.ActiveSessionsUpdate)
}

// Tracker reports one browsing context to SitePulse: a live channel when
// possible, one-shot HTTP requests otherwise.
type Tracker struct {
	cfg       Config
	identity  *Identity
	collector *Collector
	sender    *HTTPSender
	scheduler *Scheduler
	logger    zerolog.Logger

	mu      sync.Mutex
	mode    Mode
	page    Page
	channel *Channel
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a tracker. Endpoints not given in cfg are fetched from
// cfg.ServerURL.
func New(ctx context.Context, cfg Config) (*Tracker, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("tracker: API key required")
	}
	if cfg.Clock == nil {
		cfg.Clock = quartz.NewReal()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}

	if cfg.TrackerURL == "" || cfg.SessionEndURL == "" {
		if cfg.ServerURL == "" {
			return nil, errors.New("tracker: ServerURL or explicit endpoints required")
		}
		remote, err := FetchConfig(ctx, cfg.HTTPClient, cfg.ServerURL, cfg.APIKey)
		if err != nil {
			return nil, err
		}
		applyRemoteConfig(&cfg, remote)
	}

	collector := cfg.Collector
	if collector == nil {
		collector = NewCollector(
			WithHTTPClient(cfg.HTTPClient),
			WithEnvironment(cfg.Environment),
			WithCollectorClock(cfg.Clock),
			WithCollectorLogger(cfg.Logger),
		)
	}

	identity := NewIdentity(cfg.Storage, cfg.Clock, cfg.SessionDuration)
	identity.SetLogger(cfg.Logger)

	tctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t := &Tracker{
		cfg:       cfg,
		identity:  identity,
		collector: collector,
		sender:    NewHTTPSender(cfg.HTTPClient, cfg.APIKey, cfg.TrackerURL, cfg.SessionEndURL),
		logger:    cfg.Logger,
		ctx:       tctx,
		cancel:    cancel,
	}
	t.scheduler = NewScheduler(cfg.Clock, t.onTrigger)
	return t, nil
}

func applyRemoteConfig(cfg *Config, remote *protocol.TrackerConfig) {
	if cfg.TrackerURL == "" {
		cfg.TrackerURL = remote.TrackerURL
	}
	if cfg.SessionEndURL == "" {
		cfg.SessionEndURL = remote.SessionEndURL
	}
	if cfg.ChannelURL == "" {
		cfg.ChannelURL = remote.ChannelURL
	}
	if cfg.SessionDuration <= 0 && remote.SessionDuration > 0 {
		cfg.SessionDuration = time.Duration(remote.SessionDuration) * time.Millisecond
	}
	if cfg.HeartbeatInterval <= 0 && remote.HeartbeatInterval > 0 {
		cfg.HeartbeatInterval = time.Duration(remote.HeartbeatInterval) * time.Millisecond
	}
}

// Identity exposes the visitor and session resolver.
func (t *Tracker) Identity() *Identity {
	return t.identity
}

// Triggers exposes the scheduler for load, visibility and resize events.
// Each elapsed trigger re-collects and re-sends the current page.
func (t *Tracker) Triggers() *Scheduler {
	return t.scheduler
}

// Mode reports the current delivery mode.
func (t *Tracker) Mode() Mode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mode
}

// Start collects the first payload for page and opens the channel. If the
// channel cannot be established the payload is sent over HTTP instead and
// the tracker stays in HTTP mode; the returned error is then only the HTTP
// delivery error, if any.
func (t *Tracker) Start(ctx context.Context, page Page) error {
	t.mu.Lock()
	t.page = page
	t.mu.Unlock()

	sessionID, _ := t.identity.SessionID()
	visit := t.collect(ctx, sessionID, page)

	if t.cfg.ChannelURL != "" {
		ch := NewChannel(ChannelConfig{
			URL:               t.cfg.ChannelURL,
			APIKey:            t.cfg.APIKey,
			HeartbeatInterval: t.cfg.HeartbeatInterval,
			MaxReconnects:     t.cfg.MaxReconnects,
			Dialer:            t.cfg.Dialer,
			Clock:             t.cfg.Clock,
			Logger:            t.logger,
			OnPresence:        t.cfg.OnPresence,
			OnUnavailable:     t.channelLost,
		})
		err := ch.Connect(ctx, visit)
		if err == nil {
			t.mu.Lock()
			t.channel = ch
			t.mode = ModeChannel
			t.mu.Unlock()
			return nil
		}
		_ = ch.Close()
		t.logger.Info().Err(err).Msg("Realtime channel unavailable, using HTTP delivery")
	}

	t.mu.Lock()
	t.mode = ModeHTTP
	t.mu.Unlock()
	_, err := t.sender.Track(ctx, visit)
	return err
}

// PageView reports navigation to page. Over the channel a page-view frame
// is enough unless the session rolled over, in which case a fresh
// session-start is sent.
func (t *Tracker) PageView(ctx context.Context, page Page) error {
	t.mu.Lock()
	t.page = page
	ch := t.channel
	mode := t.mode
	t.mu.Unlock()

	sessionID, renewed := t.identity.SessionID()

	if mode == ModeChannel && ch != nil && ch.Connected() {
		if renewed {
			return ch.SendSessionStart(t.collect(ctx, sessionID, page))
		}
		return ch.SendPageView(protocol.PageView{SessionID: sessionID, PageURL: page.URL, PageTitle: page.Title})
	}

	_, err := t.sender.Track(ctx, t.collect(ctx, sessionID, page))
	return err
}

// End reports the session duration over HTTP, as a page unload handler
// would. Nothing is sent when there is no session or the duration is not
// positive.
func (t *Tracker) End(ctx context.Context) (int64, error) {
	sessionID := t.identity.CurrentSessionID()
	if sessionID == "" {
		return 0, nil
	}
	duration := t.identity.SessionElapsed()
	if duration <= 0 {
		return 0, nil
	}
	return t.sender.EndSession(ctx, sessionID, duration)
}

// Close cancels pending triggers and disconnects the channel.
func (t *Tracker) Close() error {
	t.scheduler.Stop()
	t.cancel()

	t.mu.Lock()
	ch := t.channel
	t.channel = nil
	t.mode = ModeIdle
	t.mu.Unlock()

	if ch != nil {
		if err := ch.Close(); err != nil {
			return fmt.Errorf("close channel: %w", err)
		}
	}
	return nil
}

func (t *Tracker) collect(ctx context.Context, sessionID string, page Page) *protocol.Visit {
	return t.collector.Collect(ctx, t.identity.VisitorID(), sessionID, t.identity.SessionStart(), page)
}

// onTrigger re-collects the current page and re-sends it.
func (t *Tracker) onTrigger(trigger Trigger) {
	t.mu.Lock()
	page := t.page
	ch := t.channel
	mode := t.mode
	t.mu.Unlock()

	if mode == ModeIdle || t.ctx.Err() != nil {
		return
	}

	sessionID, _ := t.identity.SessionID()
	visit := t.collect(t.ctx, sessionID, page)

	var err error
	if mode == ModeChannel && ch != nil && ch.Connected() {
		err = ch.SendSessionStart(visit)
	} else {
		_, err = t.sender.Track(t.ctx, visit)
	}
	if err != nil {
		t.logger.Debug().Err(err).Str("trigger", string(trigger)).Msg("Triggered send failed")
	}
}

// channelLost switches to HTTP delivery once reconnection is exhausted.
func (t *Tracker) channelLost(err error) {
	t.logger.Info().Err(err).Msg("Realtime channel lost, switching to HTTP delivery")
	t.mu.Lock()
	if t.mode == ModeChannel {
		t.mode = ModeHTTP
	}
	t.mu.Unlock()
}
