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
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/quartz"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tomtom215/sitepulse/pkg/protocol"
)

// ErrChannelUnavailable is returned when the realtime channel cannot be
// established, either because the handshake was rejected or because
// reconnection attempts were exhausted.
var ErrChannelUnavailable = errors.New("tracker: realtime channel unavailable")

// Channel defaults.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultMaxReconnects     = 5
	defaultHandshakeTimeout  = 10 * time.Second
	writeWait                = 10 * time.Second
)

// HandshakeError is a terminal rejection of the channel handshake: the key
// is missing, unknown or its website is inactive.
type HandshakeError struct {
	StatusCode int
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("channel handshake rejected with status %d", e.StatusCode)
}

// ChannelConfig configures a Channel.
type ChannelConfig struct {
	URL               string
	APIKey            string
	HeartbeatInterval time.Duration
	// MaxReconnects bounds dial attempts after the first, both on Connect
	// and after a dropped connection.
	MaxReconnects  int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Dialer         *websocket.Dialer
	Clock          quartz.Clock
	Logger         zerolog.Logger
	// OnPresence receives presence updates pushed by the server.
	OnPresence func(protocol.ActiveSessionsUpdate)
	// OnUnavailable is called once when a dropped connection cannot be
	// re-established.
	OnUnavailable func(error)
}

// Channel is the client side of the realtime channel. After Connect it
// sends a heartbeat every HeartbeatInterval and transparently reconnects,
// re-sending the last session-start so the server re-attaches the session.
type Channel struct {
	cfg ChannelConfig

	writeMu sync.Mutex
	mu      sync.Mutex
	conn    *websocket.Conn
	start   *protocol.Visit
	stopHB  context.CancelFunc
	closed  bool
	down    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewChannel creates an unconnected channel.
func NewChannel(cfg ChannelConfig) *Channel {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.MaxReconnects < 0 {
		cfg.MaxReconnects = 0
	} else if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = DefaultMaxReconnects
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout}
	}
	if cfg.Clock == nil {
		cfg.Clock = quartz.NewReal()
	}
	return &Channel{cfg: cfg}
}

// Connect dials the server, retrying with backoff, and sends session-start
// with start. It returns an error wrapping ErrChannelUnavailable if no
// connection could be made; a HandshakeError in the chain means retrying is
// pointless.
func (c *Channel) Connect(ctx context.Context, start *protocol.Visit) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("%w: closed", ErrChannelUnavailable)
	}
	c.start = start
	if c.ctx == nil {
		c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	}
	c.mu.Unlock()

	conn, err := c.dialWithRetry(ctx)
	if err != nil {
		return err
	}
	if err := c.attach(conn); err != nil {
		_ = conn.Close()
		return fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}
	return nil
}

// Connected reports whether a connection is currently attached.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// SendSessionStart replaces the session payload and sends it. Used when the
// session id rolled over or the payload was re-collected; the server merges
// it into the live entry of the same session.
func (c *Channel) SendSessionStart(v *protocol.Visit) error {
	c.mu.Lock()
	c.start = v
	c.mu.Unlock()
	return c.send(protocol.EventSessionStart, v)
}

// SendPageView reports navigation within the live session.
func (c *Channel) SendPageView(pv protocol.PageView) error {
	c.mu.Lock()
	if c.start != nil {
		c.start.PageURL = pv.PageURL
		c.start.PageTitle = pv.PageTitle
	}
	c.mu.Unlock()
	return c.send(protocol.EventPageView, pv)
}

// Heartbeat sends one heartbeat for the current session.
func (c *Channel) Heartbeat() error {
	c.mu.Lock()
	if c.start == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: not started", ErrChannelUnavailable)
	}
	sessionID := c.start.SessionID
	c.mu.Unlock()
	return c.send(protocol.EventHeartbeat, protocol.Heartbeat{SessionID: sessionID})
}

// Close disconnects and stops reconnection. The server treats the
// disconnect as the end of the live session.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	if c.stopHB != nil {
		c.stopHB()
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	var err error
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = conn.Close()
	}
	c.wg.Wait()
	return err
}

func (c *Channel) send(eventType string, payload interface{}) error {
	frame, err := protocol.Encode(eventType, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: not connected", ErrChannelUnavailable)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("send %s: %w", eventType, err)
	}
	return nil
}

func (c *Channel) dialWithRetry(ctx context.Context) (*websocket.Conn, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.cfg.InitialBackoff
	eb.MaxInterval = c.cfg.MaxBackoff
	eb.MaxElapsedTime = 0
	bo := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.cfg.MaxReconnects)), ctx)

	var conn *websocket.Conn
	err := backoff.RetryNotify(func() error {
		var err error
		conn, err = c.dial(ctx)
		var hs *HandshakeError
		if errors.As(err, &hs) {
			return backoff.Permanent(err)
		}
		return err
	}, bo, func(err error, next time.Duration) {
		c.cfg.Logger.Debug().Err(err).Dur("retry_in", next).Msg("Channel dial failed")
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrChannelUnavailable, err)
	}
	return conn, nil
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("channel url: %w", err))
	}
	q := u.Query()
	q.Set(protocol.APIKeyQueryParam, c.cfg.APIKey)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set(protocol.APIKeyHeader, c.cfg.APIKey)

	conn, resp, err := c.cfg.Dialer.DialContext(ctx, u.String(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
				return nil, &HandshakeError{StatusCode: resp.StatusCode}
			}
			return nil, fmt.Errorf("dial (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial: %w", err)
	}
	return conn, nil
}

// attach installs conn, sends session-start and starts the read loop and
// heartbeat ticker for it.
func (c *Channel) attach(conn *websocket.Conn) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("closed")
	}
	c.conn = conn
	c.down = false
	start := c.start
	hbCtx, stopHB := context.WithCancel(c.ctx)
	c.stopHB = stopHB
	c.mu.Unlock()

	if start != nil {
		if err := c.send(protocol.EventSessionStart, start); err != nil {
			stopHB()
			c.mu.Lock()
			c.conn = nil
			c.mu.Unlock()
			return err
		}
	}

	c.wg.Add(1)
	go c.readLoop(conn, stopHB)

	c.cfg.Clock.TickerFunc(hbCtx, c.cfg.HeartbeatInterval, func() error {
		if err := c.Heartbeat(); err != nil {
			c.cfg.Logger.Debug().Err(err).Msg("Heartbeat failed")
		}
		return nil
	}, "tracker", "heartbeat")
	return nil
}

// readLoop consumes server frames until the connection fails, then cancels
// its heartbeat and reconnects unless the channel was closed.
func (c *Channel) readLoop(conn *websocket.Conn, stopHB context.CancelFunc) {
	defer c.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			stopHB()
			_ = conn.Close()
			c.reconnect(conn, err)
			return
		}
		c.handleFrame(data)
	}
}

func (c *Channel) handleFrame(data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		c.cfg.Logger.Debug().Err(err).Msg("Ignoring malformed frame")
		return
	}
	switch env.Type {
	case protocol.EventActiveSessionsUpdate:
		if c.cfg.OnPresence == nil {
			return
		}
		var update protocol.ActiveSessionsUpdate
		if err := env.Bind(&update); err == nil {
			c.cfg.OnPresence(update)
		}
	case protocol.EventError:
		var p protocol.ErrorPayload
		if err := env.Bind(&p); err == nil {
			c.cfg.Logger.Warn().Str("code", p.Code).Str("message", p.Message).Msg("Server reported channel error")
		}
	}
}

func (c *Channel) reconnect(dropped *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.closed || c.conn != dropped {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	ctx := c.ctx
	c.mu.Unlock()

	c.cfg.Logger.Debug().Err(cause).Msg("Channel dropped, reconnecting")

	conn, err := c.dialWithRetry(ctx)
	if err == nil {
		if err = c.attach(conn); err == nil {
			return
		}
		_ = conn.Close()
	}
	if ctx.Err() != nil {
		return
	}

	c.mu.Lock()
	alreadyDown := c.down
	c.down = true
	c.mu.Unlock()
	if !alreadyDown && c.cfg.OnUnavailable != nil {
		c.cfg.OnUnavailable(err)
	}
}
