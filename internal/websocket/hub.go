// Ledgerwatch - Activity Audit and Compliance Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ledgerwatch

// Package websocket pushes alerts to connected browsers.
//
// The Hub owns the set of clients and is registered with the alert
// dispatcher as a listener. Each Client runs a read pump (keepalive and
// ping/pong messages) and a write pump that drains its send buffer. A
// client whose buffer is full is dropped rather than allowed to stall the
// hub.
package websocket

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/tomtom215/ledgerwatch/internal/alerting"
	"github.com/tomtom215/ledgerwatch/internal/logging"
	"github.com/tomtom215/ledgerwatch/internal/metrics"
)

// ErrBroadcastFull is returned when the hub cannot accept another message.
var ErrBroadcastFull = errors.New("websocket: broadcast buffer full")

// ShutdownReason identifies why the hub stopped.
type ShutdownReason string

const (
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// Message types.
const (
	MessageTypeAlert = "alert"
	MessageTypePing  = "ping"
	MessageTypePong  = "pong"
)

// broadcastBuffer is the hub's pending message capacity.
const broadcastBuffer = 256

// Message is the envelope written to clients.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub maintains the set of active clients and broadcasts messages to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
}

// NewHub creates a Hub. RunWithContext must be running for registration and
// broadcasts to make progress.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan Message, broadcastBuffer),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		done:       make(chan struct{}),
	}
}

// Done is closed once the hub has stopped.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// RunWithContext processes registrations and broadcasts until ctx is
// canceled, then closes every client and returns ctx.Err().
//
// Shutdown is checked first, then lifecycle events, then broadcasts, so a
// client registered before a broadcast always receives it.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.add(client)
			continue
		case client := <-h.Unregister:
			h.remove(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.add(client)
		case client := <-h.Unregister:
			h.remove(client)
		case message := <-h.broadcast:
			h.broadcastToClients(message)
		}
	}
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WSConnections.Set(float64(n))
	logging.Info().Uint64("client_id", client.id).Str("user_id", client.userID).Int("total_clients", n).Msg("websocket client connected")
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WSConnections.Set(float64(n))
	logging.Info().Uint64("client_id", client.id).Int("total_clients", n).Msg("websocket client disconnected")
}

func (h *Hub) shutdown(ctx context.Context) {
	count := h.GetClientCount()
	h.closeAllClients()
	h.stopOnce.Do(func() { close(h.done) })

	reason := ShutdownReasonContextCanceled
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		reason = ShutdownReasonContextDeadline
	}
	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", string(reason)).
		Int("clients_closed", count).
		Msg("websocket hub stopped")
}

// sortedClients returns clients in connection order. Caller holds h.mu.
func (h *Hub) sortedClients() []*Client {
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})
	return clients
}

// broadcastToClients sends message to every client without blocking.
// Clients whose buffer is full are disconnected.
func (h *Hub) broadcastToClients(message Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var dropped []*Client
	for _, client := range h.sortedClients() {
		select {
		case client.send <- message:
		default:
			dropped = append(dropped, client)
		}
	}

	for _, client := range dropped {
		close(client.send)
		delete(h.clients, client)
		metrics.WSMessagesDropped.Inc()
		logging.Warn().Uint64("client_id", client.id).Msg("websocket client too slow, disconnecting")
	}
	if len(dropped) > 0 {
		metrics.WSConnections.Set(float64(len(h.clients)))
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.sortedClients() {
		close(client.send)
		delete(h.clients, client)
	}
	metrics.WSConnections.Set(0)
}

// Broadcast queues a message for all clients. It returns ErrBroadcastFull
// instead of blocking when the hub is backed up.
func (h *Hub) Broadcast(messageType string, data interface{}) error {
	select {
	case h.broadcast <- Message{Type: messageType, Data: data}:
		return nil
	default:
		metrics.WSMessagesDropped.Inc()
		return ErrBroadcastFull
	}
}

// OnAlert implements alerting.Listener.
func (h *Hub) OnAlert(_ context.Context, alert *alerting.Alert) error {
	return h.Broadcast(MessageTypeAlert, alert)
}

// GetClientCount returns the number of connected clients.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// MarshalMessage encodes a message as JSON.
func MarshalMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}
