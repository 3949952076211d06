// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

package websocket

import (
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/bandworks/chartsync/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024 // inbound frames are protocol pings, nothing bigger
)

// clientIDCounter hands out the ids used for stable fan-out ordering.
var clientIDCounter atomic.Uint64

// Client pairs one websocket connection with its member subscription.
type Client struct {
	id     uint64
	hub    *Hub
	conn   *websocket.Conn
	userID string
	send   chan Message
}

// NewClient wraps an upgraded connection. userID narrows the feed to one
// member's events; leave it empty to receive the full feed.
func NewClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		id:     clientIDCounter.Add(1),
		hub:    hub,
		conn:   conn,
		userID: userID,
		send:   make(chan Message, 64),
	}
}

// ID returns the client's fan-out ordering key.
func (c *Client) ID() uint64 {
	return c.id
}

// UserID returns the member filter, empty for the full feed.
func (c *Client) UserID() string {
	return c.userID
}

// wants reports whether a message falls inside the client's subscription.
// Messages without a member address every client.
func (c *Client) wants(msg Message) bool {
	return c.userID == "" || msg.UserID == "" || c.userID == msg.UserID
}

// Start launches the read and write pumps. Call after registering the
// client with the hub.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// readPump drains the connection until it closes, answering protocol
// pings. Its defer is the unregister path for the client.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("Websocket read deadline rejected")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Debug().Err(err).Uint64("client_id", c.id).Msg("Websocket closed unexpectedly")
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Type == MessageTypePing {
			select {
			case c.send <- Message{Type: MessageTypePong}:
			default:
			}
		}
	}
}

// writePump serializes outbound traffic for the connection and keeps it
// alive with periodic pings. The hub signals shutdown by closing the send
// channel.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("Websocket write deadline rejected")
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			buf, err := MarshalMessage(message)
			if err != nil {
				logging.Error().Err(err).Str("type", message.Type).Msg("Event payload not serializable")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, buf); err != nil {
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
