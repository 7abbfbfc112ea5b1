// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package websocket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/sitepulse/internal/logging"
	"github.com/tomtom215/sitepulse/internal/models"
	"github.com/tomtom215/sitepulse/internal/presence"
	"github.com/tomtom215/sitepulse/internal/validation"
	"github.com/tomtom215/sitepulse/pkg/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	recordTimeout  = 5 * time.Second
)

// Role distinguishes tracker channels, which report sessions, from
// dashboard watchers, which only receive presence updates.
type Role string

const (
	RoleTracker Role = "tracker"
	RoleWatcher Role = "watcher"
)

// clientIDCounter hands out monotonically increasing client IDs. The ID is
// also the presence channel handle.
var clientIDCounter atomic.Uint64

// Client is a middleman between one websocket connection and the hub.
type Client struct {
	id        uint64
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	sendMu    sync.Mutex
	closed    bool
	role      Role
	website   *models.Website
	websiteID string
	clientIP  string

	// ctx bounds store calls made on behalf of this client.
	ctx      context.Context
	presence Presence
	recorder Recorder

	// lastVisit is the most recent session-start payload. Page views are
	// recorded as copies of it with the new page. Only readPump touches it.
	lastVisit *protocol.Visit
}

// NewClient creates a Client with a unique ID.
func NewClient(hub *Hub, conn *websocket.Conn, website *models.Website, role Role) *Client {
	return &Client{
		id:        clientIDCounter.Add(1),
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, 256),
		role:      role,
		website:   website,
		websiteID: website.ID,
		ctx:       context.Background(),
	}
}

// ID returns the client identifier.
func (c *Client) ID() uint64 {
	return c.id
}

// ChannelID returns the presence handle of this connection.
func (c *Client) ChannelID() presence.ChannelID {
	return presence.ChannelID(c.id)
}

func (c *Client) readPump() {
	defer func() {
		if c.role == RoleTracker && c.presence != nil {
			c.presence.Disconnect(c.websiteID, c.ChannelID())
		}
		c.hub.leave(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debug().Err(err).Uint64("client_id", c.id).Msg("unexpected websocket close")
			}
			return
		}
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			return
		}
		if c.role != RoleTracker {
			continue
		}
		c.handleFrame(frame)
	}
}

// handleFrame applies one inbound tracker frame. Malformed frames are
// answered with an error frame and otherwise ignored.
func (c *Client) handleFrame(frame []byte) {
	env, err := protocol.Decode(frame)
	if err != nil {
		c.sendError("bad_frame", err.Error())
		return
	}

	switch env.Type {
	case protocol.EventSessionStart:
		var v protocol.Visit
		if !c.bind(env, &v) {
			return
		}
		c.presence.SessionStart(c.websiteID, c.ChannelID(), &v)
		c.lastVisit = &v
		c.record(&v)

	case protocol.EventPageView:
		var pv protocol.PageView
		if !c.bind(env, &pv) {
			return
		}
		c.presence.PageView(c.websiteID, &pv)
		if c.lastVisit != nil && c.lastVisit.SessionID == pv.SessionID {
			v := *c.lastVisit
			v.PageURL = pv.PageURL
			v.PageTitle = pv.PageTitle
			v.Timestamp = time.Now().UnixMilli()
			c.record(&v)
		}

	case protocol.EventHeartbeat:
		var hb protocol.Heartbeat
		if !c.bind(env, &hb) {
			return
		}
		c.presence.Heartbeat(c.websiteID, hb.SessionID)

	default:
		c.sendError("unknown_event", "unknown event type "+env.Type)
	}
}

func (c *Client) bind(env protocol.Envelope, v interface{}) bool {
	if err := env.Bind(v); err != nil {
		c.sendError("bad_payload", err.Error())
		return false
	}
	if verr := validation.ValidateStruct(v); verr != nil {
		c.sendError("invalid_payload", verr.Error())
		return false
	}
	return true
}

func (c *Client) record(v *protocol.Visit) {
	if c.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.ctx, recordTimeout)
	defer cancel()
	if _, err := c.recorder.Record(ctx, c.website, v, c.clientIP); err != nil {
		logging.Warn().
			Err(err).
			Str("website_id", c.websiteID).
			Str("session_id", v.SessionID).
			Msg("failed to record visit from channel")
	}
}

func (c *Client) sendError(code, message string) {
	frame, err := protocol.Encode(protocol.EventError, protocol.ErrorPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	c.enqueue(frame)
}

// enqueue queues a frame without blocking, dropping it when the queue is
// full or closed.
func (c *Client) enqueue(frame []byte) {
	c.trySend(frame)
}

// trySend reports false only when the send queue is full.
func (c *Client) trySend(frame []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				logging.Debug().Err(err).Uint64("client_id", c.id).Msg("failed to write frame")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start begins reading and writing for the client.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}
