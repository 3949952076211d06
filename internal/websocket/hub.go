// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

package websocket

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/bandworks/chartsync/internal/logging"
	"github.com/bandworks/chartsync/internal/metrics"
)

// Protocol-level message types. Sync lifecycle event names (sync_completed,
// sync_failed, view_reset) are chosen by the producer and pass through the
// hub untouched.
const (
	MessageTypePing = "ping"
	MessageTypePong = "pong"
)

// Message is the wire envelope for hub-to-client traffic. UserID names the
// member a sync event belongs to; an empty UserID addresses every client.
type Message struct {
	Type   string      `json:"type"`
	UserID string      `json:"user_id,omitempty"`
	Data   interface{} `json:"data,omitempty"`
}

// Hub fans member events out to connected websocket clients. It is the
// synchronizer's notification bus: Broadcast never blocks, and a slow or
// dead client is dropped rather than stalling a pass.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates an empty hub. Start it with Serve before registering
// clients.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
	}
}

// String identifies the hub in supervisor logs.
func (h *Hub) String() string { return "websocket-hub" }

// Serve runs the hub loop until ctx is cancelled, then closes every
// connected client and returns ctx.Err(). It satisfies suture.Service.
//
// Go's select picks randomly among ready channels, so the loop checks in
// priority order: shutdown, then client lifecycle, then fan-out. The client
// set is settled before any message is delivered.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.addClient(client)
			continue
		case client := <-h.Unregister:
			h.removeClient(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.addClient(client)
		case client := <-h.Unregister:
			h.removeClient(client)
		case message := <-h.broadcast:
			h.fanOut(message)
		}
	}
}

// Broadcast queues one member event for delivery. It implements the bus
// contract of the synchronizer: the call never blocks, and when the queue
// is full the event is dropped. An empty userID addresses every client.
func (h *Hub) Broadcast(userID, event string, data interface{}) {
	message := Message{Type: event, UserID: userID, Data: data}
	select {
	case h.broadcast <- message:
	default:
		logging.Warn().Str("event", event).Str("user_id", userID).Msg("Broadcast queue full, event dropped")
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	total := len(h.clients)
	h.mu.Unlock()

	metrics.TrackWebSocket(true)
	logging.Info().
		Uint64("client_id", c.id).
		Str("user_id", c.userID).
		Int("total_clients", total).
		Msg("Websocket client connected")
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	total := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	metrics.TrackWebSocket(false)
	logging.Info().
		Uint64("client_id", c.id).
		Int("total_clients", total).
		Msg("Websocket client disconnected")
}

// fanOut delivers a message to every subscribed client in id order, keeping
// delivery order reproducible. A client whose send queue is full is closed
// and removed here; the later unregister from its read pump finds it gone.
func (h *Hub) fanOut(message Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	targets := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		if client.wants(message) {
			targets = append(targets, client)
		}
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].id < targets[j].id })

	var dropped []*Client
	for _, client := range targets {
		select {
		case client.send <- message:
		default:
			dropped = append(dropped, client)
		}
	}

	for _, client := range dropped {
		close(client.send)
		delete(h.clients, client)
		metrics.TrackWebSocket(false)
		logging.Warn().Uint64("client_id", client.id).Msg("Client send queue full, connection dropped")
	}
}

// shutdown closes every client in id order. Cancellation is the normal
// stop path and is not logged as an error.
func (h *Hub) shutdown(ctx context.Context) {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })
	for _, client := range clients {
		close(client.send)
		delete(h.clients, client)
		metrics.TrackWebSocket(false)
	}
	h.mu.Unlock()

	reason := "context_canceled"
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		reason = "context_deadline"
	}
	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", reason).
		Int("clients_closed", len(clients)).
		Msg("Websocket hub stopped")
}

// MarshalMessage encodes one wire envelope.
func MarshalMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}
