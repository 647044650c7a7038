// Ledgerwatch - Activity Audit and Compliance Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ledgerwatch

package websocket

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/ledgerwatch/internal/logging"
)

// Upgrader returns a websocket upgrader accepting the given origins. "*"
// allows any origin; a request without an Origin header is refused.
func Upgrader(allowedOrigins []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r.Header.Get("Origin"), allowedOrigins)
		},
	}
}

func originAllowed(origin string, allowed []string) bool {
	if origin == "" {
		return false
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

// Handler upgrades the request and registers the connection with hub.
// userID names the connection owner in logs; it may return "".
func Handler(hub *Hub, upgrader *websocket.Upgrader, userID func(*http.Request) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Ctx(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		var uid string
		if userID != nil {
			uid = userID(r)
		}
		client := NewClient(hub, conn, uid)
		select {
		case hub.Register <- client:
		case <-hub.Done():
			_ = conn.Close()
			return
		case <-r.Context().Done():
			_ = conn.Close()
			return
		}
		client.Start()
	}
}
