// Ledgerwatch - Activity Audit and Compliance Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ledgerwatch

package websocket

import (
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/ledgerwatch/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

var clientIDCounter atomic.Uint64

// Client is one websocket connection registered with a Hub.
type Client struct {
	id     uint64
	userID string
	hub    *Hub
	conn   *websocket.Conn
	send   chan Message
	pongs  chan struct{}
}

// NewClient wraps conn for hub. userID is only used for logging.
func NewClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		id:     clientIDCounter.Add(1),
		userID: userID,
		hub:    hub,
		conn:   conn,
		send:   make(chan Message, sendBuffer),
		pongs:  make(chan struct{}, 1),
	}
}

// ID returns the connection-order identifier.
func (c *Client) ID() uint64 {
	return c.id
}

// readPump reads client frames until the connection fails. A {"type":"ping"}
// frame is answered with a pong by the write pump. The hub owns send, so the
// read side never writes to it.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.Unregister <- c:
		case <-c.hub.done:
		}
		if err := c.conn.Close(); err != nil {
			logging.Debug().Err(err).Uint64("client_id", c.id).Msg("websocket close")
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Warn().Err(err).Uint64("client_id", c.id).Msg("websocket read failed")
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == MessageTypePing {
			select {
			case c.pongs <- struct{}{}:
			default:
			}
		}
	}
}

// writePump drains the send buffer and keeps the connection alive with
// protocol pings. It exits when the hub closes the send channel.
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
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.write(message); err != nil {
				return
			}

		case <-c.pongs:
			if err := c.write(Message{Type: MessageTypePong}); err != nil {
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

// write encodes message as a text frame. Encoding failures are logged and
// skipped; only connection errors are returned.
func (c *Client) write(message Message) error {
	data, err := MarshalMessage(message)
	if err != nil {
		logging.Error().Err(err).Str("type", message.Type).Msg("websocket encode failed")
		return nil
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Start runs both pumps. Registration with the hub is the caller's job.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}
