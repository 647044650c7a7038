// Ledgerwatch - Activity Audit and Compliance Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ledgerwatch

package alerting

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/ledgerwatch/internal/logging"
	"github.com/tomtom215/ledgerwatch/internal/metrics"
)

// WebhookConfig configures a WebhookSink.
type WebhookConfig struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration

	// RatePerSecond and Burst pace outgoing requests.
	RatePerSecond float64
	Burst         int

	// The breaker opens after FailureThreshold consecutive failures and
	// probes again after OpenTimeout.
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// WebhookPayload is the JSON body posted for each notification.
type WebhookPayload struct {
	EventType string                 `json:"event_type"`
	Recipient string                 `json:"recipient"`
	Message   string                 `json:"message"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"`
}

// WebhookSink posts notifications to an HTTP endpoint.
type WebhookSink struct {
	url     string
	headers map[string]string
	client  *http.Client
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[struct{}]
	name    string
}

// NewWebhookSink builds a sink for config. Zero values take defaults: 10s
// timeout, 2 requests per second, 5 consecutive failures, 1 minute open.
func NewWebhookSink(config WebhookConfig) *WebhookSink {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.RatePerSecond <= 0 {
		config.RatePerSecond = 2
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = time.Minute
	}

	headers := make(map[string]string, len(config.Headers))
	for k, v := range config.Headers {
		headers[k] = v
	}

	name := "webhook-sink"
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)
	threshold := config.FailureThreshold

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     config.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})

	return &WebhookSink{
		url:     config.URL,
		headers: headers,
		client:  &http.Client{Timeout: config.Timeout},
		limiter: rate.NewLimiter(rate.Limit(config.RatePerSecond), config.Burst),
		cb:      cb,
		name:    name,
	}
}

// Name implements Sink.
func (w *WebhookSink) Name() string { return "webhook" }

// State reports the breaker state.
func (w *WebhookSink) State() gobreaker.State {
	return w.cb.State()
}

// Notify implements Sink. It waits for the rate limiter and fails fast
// while the breaker is open.
func (w *WebhookSink) Notify(ctx context.Context, recipient, message string, metadata map[string]interface{}) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("webhook rate limit: %w", err)
	}

	body, err := json.Marshal(WebhookPayload{
		EventType: "alert_notification",
		Recipient: recipient,
		Message:   message,
		Metadata:  metadata,
		Timestamp: time.Now().UTC(),
		Source:    "ledgerwatch",
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	_, err = w.cb.Execute(func() (struct{}, error) {
		return struct{}{}, w.post(ctx, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("webhook %s: %w", w.name, err)
	}
	return err
}

func (w *WebhookSink) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	}
	return -1
}
