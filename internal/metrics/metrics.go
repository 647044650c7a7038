// Ledgerwatch - Activity Audit and Compliance Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ledgerwatch

// Package metrics holds the Prometheus instruments for Ledgerwatch. All
// collectors register with the default registry through promauto and are
// scraped from /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Collection store
	StoreLockWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledgerwatch_store_lock_wait_seconds",
			Help:    "Time spent waiting for a collection lock",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"collection"},
	)

	StoreLockTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerwatch_store_lock_timeouts_total",
			Help: "Mutations abandoned because the collection lock could not be acquired in time",
		},
		[]string{"collection"},
	)

	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerwatch_store_operations_total",
			Help: "Collection reads and writes by outcome",
		},
		[]string{"collection", "operation", "result"}, // operation: read|write, result: ok|error
	)

	StoreRecords = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ledgerwatch_store_records",
			Help: "Record count of each collection after its last write",
		},
		[]string{"collection"},
	)

	// Event recorder
	ActivitiesRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerwatch_activities_recorded_total",
			Help: "Activity entries durably recorded",
		},
		[]string{"severity", "risk_level"},
	)

	ActivitiesEvicted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerwatch_activities_evicted_total",
			Help: "Activity entries removed by retention",
		},
		[]string{"reason"}, // cap|age
	)

	ActivityRecordFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledgerwatch_activity_record_failures_total",
			Help: "Activity entries that could not be persisted",
		},
	)

	// Rule evaluator
	RuleEvaluations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledgerwatch_rule_evaluations_total",
			Help: "Entries offered to the active rule set",
		},
	)

	RulesFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerwatch_rules_fired_total",
			Help: "Rule firings by rule id",
		},
		[]string{"rule_id"},
	)

	RuleEvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ledgerwatch_rule_evaluation_duration_seconds",
			Help:    "Time to evaluate one entry against all active rules",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Alert dispatcher
	AlertsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerwatch_alerts_dispatched_total",
			Help: "Alerts persisted by severity",
		},
		[]string{"severity"},
	)

	AlertTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerwatch_alert_transitions_total",
			Help: "Alert status transitions by outcome",
		},
		[]string{"from", "to", "result"}, // result: ok|rejected
	)

	SubscribersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledgerwatch_alert_subscribers",
			Help: "Live alert subscribers currently registered",
		},
	)

	SubscribersRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledgerwatch_alert_subscribers_removed_total",
			Help: "Subscribers dropped after refusing a broadcast",
		},
	)

	NotificationsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledgerwatch_notifications_created_total",
			Help: "Administrator notifications created",
		},
	)

	SinkDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerwatch_sink_deliveries_total",
			Help: "Notification sink deliveries by sink and result",
		},
		[]string{"sink", "result"}, // result: ok|error|dropped
	)

	// Circuit breaker
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ledgerwatch_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerwatch_circuit_breaker_state_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// WebSocket
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledgerwatch_websocket_connections",
			Help: "Connected websocket clients",
		},
	)

	WSMessagesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledgerwatch_websocket_messages_dropped_total",
			Help: "Broadcast messages dropped because a buffer was full",
		},
	)

	// HTTP API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerwatch_api_requests_total",
			Help: "API requests by route and status",
		},
		[]string{"method", "route", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledgerwatch_api_request_duration_seconds",
			Help:    "API request latency",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "route"},
	)
)

// RecordStoreOp counts a read or write against a collection.
func RecordStoreOp(collection, operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	StoreOperations.WithLabelValues(collection, operation, result).Inc()
}

// RecordLockWait observes how long a mutator waited for a collection lock.
func RecordLockWait(collection string, waited time.Duration, timedOut bool) {
	StoreLockWait.WithLabelValues(collection).Observe(waited.Seconds())
	if timedOut {
		StoreLockTimeouts.WithLabelValues(collection).Inc()
	}
}

// RecordAPIRequest records an HTTP request.
func RecordAPIRequest(method, route string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordTransition counts an alert status change attempt.
func RecordTransition(from, to string, err error) {
	result := "ok"
	if err != nil {
		result = "rejected"
	}
	AlertTransitions.WithLabelValues(from, to, result).Inc()
}
