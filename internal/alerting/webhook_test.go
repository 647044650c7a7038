// Ledgerwatch - Activity Audit and Compliance Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ledgerwatch

package alerting

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
)

func TestWebhookSink_PostsPayload(t *testing.T) {
	var got WebhookPayload
	var auth, contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		contentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := NewWebhookSink(WebhookConfig{
		URL:           srv.URL,
		Headers:       map[string]string{"Authorization": "Bearer hook-token"},
		RatePerSecond: 100,
	})
	err := sink.Notify(context.Background(), "u1", "restricted delete", map[string]interface{}{"alert_id": "a1"})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if auth != "Bearer hook-token" {
		t.Errorf("Authorization = %q", auth)
	}
	if contentType != "application/json" {
		t.Errorf("Content-Type = %q", contentType)
	}
	if got.Recipient != "u1" || got.Message != "restricted delete" || got.Source != "ledgerwatch" {
		t.Errorf("payload = %+v", got)
	}
	if got.Metadata["alert_id"] != "a1" {
		t.Errorf("metadata = %v", got.Metadata)
	}
}

func TestWebhookSink_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := NewWebhookSink(WebhookConfig{URL: srv.URL, RatePerSecond: 100})
	if err := sink.Notify(context.Background(), "u1", "m", nil); err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestWebhookSink_BreakerOpensAfterFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sink := NewWebhookSink(WebhookConfig{
		URL:              srv.URL,
		RatePerSecond:    1000,
		Burst:            10,
		FailureThreshold: 3,
		OpenTimeout:      time.Hour,
	})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_ = sink.Notify(ctx, "u1", "m", nil)
	}
	if sink.State() != gobreaker.StateOpen {
		t.Fatalf("State = %s, want open", sink.State())
	}

	err := sink.Notify(ctx, "u1", "m", nil)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("err = %v, want ErrOpenState", err)
	}
	if hits.Load() != 3 {
		t.Errorf("endpoint hit %d times, want 3", hits.Load())
	}
}

func TestWebhookSink_RateLimitHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewWebhookSink(WebhookConfig{URL: srv.URL, RatePerSecond: 0.001, Burst: 1})
	if err := sink.Notify(context.Background(), "u1", "first", nil); err != nil {
		t.Fatalf("first Notify: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := sink.Notify(ctx, "u1", "second", nil); err == nil {
		t.Fatal("expected rate limit wait to fail")
	}
}
