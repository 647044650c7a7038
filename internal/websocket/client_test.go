// Ledgerwatch - Activity Audit and Compliance Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ledgerwatch

package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/ledgerwatch/internal/alerting"
)

const testOrigin = "http://console.example"

func setupServer(t *testing.T, hub *Hub, origins []string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(Handler(hub, Upgrader(origins), func(*http.Request) string { return "u1" }))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return websocket.DefaultDialer.Dial(url, header)
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}
	var msg Message
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return msg
}

func TestClient_ReceivesAlert(t *testing.T) {
	hub := startHub(t)
	srv := setupServer(t, hub, []string{testOrigin})

	conn, _, err := dial(t, srv, testOrigin)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitForClients(t, hub, 1)

	if err := hub.OnAlert(context.Background(), &alerting.Alert{ID: "al-9", RuleName: "Bulk export"}); err != nil {
		t.Fatalf("OnAlert: %v", err)
	}

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeAlert {
		t.Fatalf("Type = %q", msg.Type)
	}
	data, ok := msg.Data.(map[string]interface{})
	if !ok || data["id"] != "al-9" {
		t.Errorf("Data = %#v", msg.Data)
	}
}

func TestClient_PingPong(t *testing.T) {
	hub := startHub(t)
	srv := setupServer(t, hub, []string{"*"})

	conn, _, err := dial(t, srv, testOrigin)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != MessageTypePong {
		t.Errorf("Type = %q, want pong", msg.Type)
	}
}

func TestClient_DisconnectUnregisters(t *testing.T) {
	hub := startHub(t)
	srv := setupServer(t, hub, []string{testOrigin})

	conn, _, err := dial(t, srv, testOrigin)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	waitForClients(t, hub, 1)

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
	waitForClients(t, hub, 0)
}

func TestHandler_OriginCheck(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		wantOK  bool
	}{
		{"listed origin", []string{testOrigin}, testOrigin, true},
		{"wildcard", []string{"*"}, "http://anything.example", true},
		{"unlisted origin", []string{testOrigin}, "http://evil.example", false},
		{"missing origin", []string{"*"}, "", false},
		{"no origins configured", nil, testOrigin, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := startHub(t)
			srv := setupServer(t, hub, tt.allowed)

			conn, resp, err := dial(t, srv, tt.origin)
			if conn != nil {
				defer conn.Close()
			}
			if tt.wantOK {
				if err != nil {
					t.Fatalf("dial: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected handshake to be refused")
			}
			if resp == nil || resp.StatusCode != http.StatusForbidden {
				t.Errorf("response = %v, want 403", resp)
			}
		})
	}
}
