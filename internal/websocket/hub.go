// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/tomtom215/sitepulse/internal/logging"
	"github.com/tomtom215/sitepulse/internal/metrics"
	"github.com/tomtom215/sitepulse/pkg/protocol"
)

// ShutdownReason identifies why the hub is shutting down.
type ShutdownReason string

const (
	// ShutdownReasonContextCanceled is the normal graceful shutdown path.
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"

	// ShutdownReasonContextDeadline may indicate a hung operation during shutdown.
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// roomMessage is an encoded frame addressed to one website room.
type roomMessage struct {
	websiteID string
	frame     []byte
}

// Hub tracks connected clients grouped into one room per website and fans
// frames out to a room.
type Hub struct {
	clients    map[*Client]bool
	rooms      map[string]map[*Client]struct{}
	broadcast  chan roomMessage
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex

	// stopped is closed while the run loop is not running, so departing
	// clients can unregister without a receiver.
	stopped chan struct{}
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	stopped := make(chan struct{})
	close(stopped)
	return &Hub{
		broadcast:  make(chan roomMessage, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]struct{}),
		stopped:    stopped,
	}
}

// RunWithContext processes registrations and broadcasts until ctx is done,
// then closes every client and returns ctx.Err().
//
// Selection is prioritized: shutdown first, then client lifecycle events,
// then broadcasts, so a frame is never routed against stale room membership.
func (h *Hub) RunWithContext(ctx context.Context) error {
	h.mu.Lock()
	h.stopped = make(chan struct{})
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		close(h.stopped)
		h.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.register(client)
			continue
		case client := <-h.Unregister:
			h.unregister(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.register(client)
		case client := <-h.Unregister:
			h.unregister(client)
		case msg := <-h.broadcast:
			h.broadcastToRoom(msg)
		}
	}
}

// Serve runs the hub under a supervisor.
func (h *Hub) Serve(ctx context.Context) error {
	return h.RunWithContext(ctx)
}

// String implements fmt.Stringer for supervisor logging.
func (h *Hub) String() string {
	return "websocket-hub"
}

// join registers client through the run loop, or directly when the loop
// is not running.
func (h *Hub) join(client *Client) {
	h.mu.RLock()
	stopped := h.stopped
	h.mu.RUnlock()

	select {
	case h.Register <- client:
	case <-stopped:
		h.register(client)
	}
}

// leave unregisters client through the run loop, or directly when the
// loop is not running.
func (h *Hub) leave(client *Client) {
	h.mu.RLock()
	stopped := h.stopped
	h.mu.RUnlock()

	select {
	case h.Unregister <- client:
	case <-stopped:
		h.unregister(client)
	}
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	room, ok := h.rooms[client.websiteID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[client.websiteID] = room
	}
	room[client] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WSConnections.Set(float64(total))
	logging.Debug().
		Uint64("client_id", client.id).
		Str("website_id", client.websiteID).
		Int("total_clients", total).
		Msg("websocket client connected")
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		h.removeLocked(client)
	}
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WSConnections.Set(float64(total))
	logging.Debug().
		Uint64("client_id", client.id).
		Str("website_id", client.websiteID).
		Int("total_clients", total).
		Msg("websocket client disconnected")
}

// removeLocked drops client from the hub and closes its send queue.
// h.mu must be held.
func (h *Hub) removeLocked(client *Client) {
	delete(h.clients, client)
	if room, ok := h.rooms[client.websiteID]; ok {
		delete(room, client)
		if len(room) == 0 {
			delete(h.rooms, client.websiteID)
		}
	}
	client.closeSend()
}

func (h *Hub) logGracefulShutdown(ctx context.Context) {
	clientCount := h.GetClientCount()
	h.closeAllClients()

	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", string(getShutdownReason(ctx))).
		Int("clients_closed", clientCount).
		Msg("websocket hub stopped")
}

func getShutdownReason(ctx context.Context) ShutdownReason {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return ShutdownReasonContextDeadline
	default:
		return ShutdownReasonContextCanceled
	}
}

// broadcastToRoom delivers a frame to every client of a room in client ID
// order. Clients whose send queue is full are disconnected.
func (h *Hub) broadcastToRoom(msg roomMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room := h.rooms[msg.websiteID]
	clients := make([]*Client, 0, len(room))
	for client := range room {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	var toRemove []*Client
	for _, client := range clients {
		if !client.trySend(msg.frame) {
			toRemove = append(toRemove, client)
		}
	}

	for _, client := range toRemove {
		metrics.WSMessagesDropped.Inc()
		logging.Warn().
			Uint64("client_id", client.id).
			Str("website_id", client.websiteID).
			Msg("websocket client too slow, disconnecting")
		h.removeLocked(client)
	}
	if len(toRemove) > 0 {
		metrics.WSConnections.Set(float64(len(h.clients)))
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})
	for _, client := range clients {
		h.removeLocked(client)
	}
	metrics.WSConnections.Set(0)
}

// BroadcastToWebsite encodes one frame and queues it for every client of
// websiteID. The frame is dropped when the hub is saturated.
func (h *Hub) BroadcastToWebsite(websiteID, eventType string, data interface{}) {
	frame, err := protocol.Encode(eventType, data)
	if err != nil {
		logging.Error().Err(err).Str("event", eventType).Msg("failed to encode broadcast")
		return
	}

	select {
	case h.broadcast <- roomMessage{websiteID: websiteID, frame: frame}:
	default:
		metrics.WSMessagesDropped.Inc()
		logging.Warn().
			Str("website_id", websiteID).
			Str("event", eventType).
			Msg("broadcast channel full, dropping message")
	}
}

// GetClientCount returns the number of connected clients.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomSize returns the number of clients connected for websiteID.
func (h *Hub) RoomSize(websiteID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[websiteID])
}
