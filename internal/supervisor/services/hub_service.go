// Ledgerwatch - Activity Audit and Compliance Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ledgerwatch

package services

import (
	"context"
	"time"

	"github.com/tomtom215/ledgerwatch/internal/alerting"
	"github.com/tomtom215/ledgerwatch/internal/logging"
)

// defaultResubscribeInterval is how often the hub's subscription is checked.
const defaultResubscribeInterval = 5 * time.Second

// LiveHub is satisfied by *websocket.Hub.
type LiveHub interface {
	alerting.Listener
	RunWithContext(ctx context.Context) error
}

// AlertSource is satisfied by *alerting.Dispatcher.
type AlertSource interface {
	Subscribe(l alerting.Listener) string
	Subscribed(id string) bool
	Unsubscribe(id string) bool
}

// HubService runs the websocket hub and keeps it subscribed to new alerts.
// The dispatcher drops a listener whose broadcast fails, which for the hub
// only means its buffer was momentarily full, so the service re-subscribes
// it on the next check.
type HubService struct {
	hub      LiveHub
	source   AlertSource
	interval time.Duration
	name     string
}

// NewHubService wraps hub. A non-positive interval uses five seconds.
func NewHubService(hub LiveHub, source AlertSource, interval time.Duration) *HubService {
	if interval <= 0 {
		interval = defaultResubscribeInterval
	}
	return &HubService{
		hub:      hub,
		source:   source,
		interval: interval,
		name:     "websocket-hub",
	}
}

// Serve implements suture.Service.
func (s *HubService) Serve(ctx context.Context) error {
	id := s.source.Subscribe(s.hub)
	defer func() { s.source.Unsubscribe(id) }()

	errCh := make(chan error, 1)
	go func() { errCh <- s.hub.RunWithContext(ctx) }()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case err := <-errCh:
			return err
		case <-ticker.C:
			if !s.source.Subscribed(id) {
				id = s.source.Subscribe(s.hub)
				logging.Warn().Str("subscription", id).Msg("Websocket hub re-subscribed to alerts")
			}
		}
	}
}

// String implements fmt.Stringer for supervisor logs.
func (s *HubService) String() string {
	return s.name
}
