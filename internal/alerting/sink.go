// Ledgerwatch - Activity Audit and Compliance Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ledgerwatch

package alerting

import (
	"context"
	"time"

	"github.com/tomtom215/ledgerwatch/internal/logging"
	"github.com/tomtom215/ledgerwatch/internal/metrics"
)

// drainTimeout bounds delivery of queued notifications at shutdown.
const drainTimeout = 5 * time.Second

// Sink delivers a notification outside the process.
type Sink interface {
	Name() string
	Notify(ctx context.Context, recipient, message string, metadata map[string]interface{}) error
}

// LogSink writes notifications to the structured log.
type LogSink struct{}

// Name implements Sink.
func (LogSink) Name() string { return "log" }

// Notify implements Sink.
func (LogSink) Notify(ctx context.Context, recipient, message string, metadata map[string]interface{}) error {
	logging.Ctx(ctx).Info().
		Str("recipient", recipient).
		Fields(metadata).
		Msg(message)
	return nil
}

func (d *Dispatcher) enqueue(ctx context.Context, alert *Alert, notes []Notification) {
	if len(d.sinks) == 0 {
		return
	}
	for i := range notes {
		select {
		case d.queue <- delivery{notification: notes[i], alert: *alert}:
		default:
			metrics.SinkDeliveries.WithLabelValues("queue", "dropped").Inc()
			logging.Ctx(ctx).Warn().
				Str("alert_id", alert.ID).
				Str("recipient", notes[i].RecipientID).
				Msg("Notification queue full, dropping sink delivery")
		}
	}
}

// RunWithContext drains the sink queue until ctx is canceled, then delivers
// whatever is still queued within a short grace period. It returns ctx.Err().
func (d *Dispatcher) RunWithContext(ctx context.Context) error {
	logging.Info().Int("sinks", len(d.sinks)).Msg("Notification sink worker started")
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return ctx.Err()
		case item := <-d.queue:
			d.deliver(ctx, &item)
		}
	}
}

func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case item := <-d.queue:
			d.deliver(ctx, &item)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, item *delivery) {
	n := &item.notification
	meta := map[string]interface{}{
		"notification_id": n.ID,
		"alert_id":        item.alert.ID,
		"rule_id":         item.alert.RuleID,
		"severity":        string(item.alert.Severity),
		"priority":        string(n.Priority),
		"title":           n.Title,
	}
	for _, sink := range d.sinks {
		if err := sink.Notify(ctx, n.RecipientID, n.Message, meta); err != nil {
			metrics.SinkDeliveries.WithLabelValues(sink.Name(), "error").Inc()
			logging.Error().Err(err).
				Str("sink", sink.Name()).
				Str("notification_id", n.ID).
				Msg("Sink delivery failed")
			continue
		}
		metrics.SinkDeliveries.WithLabelValues(sink.Name(), "ok").Inc()
	}
}
