// Ledgerwatch - Activity Audit and Compliance Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ledgerwatch

// Package alerting turns fired rules into alerts and notifications.
//
// A Dispatcher persists each alert as active, pushes it to live listeners,
// writes one notification per administrator, and queues delivery to
// external sinks. Alerts then move through a small state machine:
//
//	active -> acknowledged -> resolved
//	active -> resolved
//	active -> dismissed
//
// Resolved and dismissed are terminal. Alerts and notifications are never
// deleted.
package alerting

import (
	"errors"
	"time"

	"github.com/tomtom215/ledgerwatch/internal/risk"
)

// Collection names.
const (
	AlertsCollection        = "alerts"
	NotificationsCollection = "notifications"
	UsersCollection         = "users"
)

var (
	// ErrInvalidTransition is returned for status changes the state machine
	// does not allow. The alert is left unchanged.
	ErrInvalidTransition = errors.New("alerting: invalid status transition")

	// ErrAlertNotFound is returned for unknown alert ids.
	ErrAlertNotFound = errors.New("alerting: alert not found")

	// ErrNotificationNotFound is returned for unknown notification ids, or
	// ids that belong to another recipient.
	ErrNotificationNotFound = errors.New("alerting: notification not found")
)

// Status is the lifecycle state of an alert.
type Status string

const (
	StatusActive       Status = "active"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
	StatusDismissed    Status = "dismissed"
)

var transitions = map[Status]map[Status]bool{
	StatusActive: {
		StatusAcknowledged: true,
		StatusResolved:     true,
		StatusDismissed:    true,
	},
	StatusAcknowledged: {
		StatusResolved: true,
	},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusAcknowledged, StatusResolved, StatusDismissed:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether an alert may move from one status to another.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// Trigger describes the rule that fired.
type Trigger struct {
	RuleID      string
	RuleName    string
	Severity    risk.Level
	Description string
}

// Alert is a persisted rule firing.
type Alert struct {
	ID             string                 `json:"id"`
	RuleID         string                 `json:"rule_id"`
	RuleName       string                 `json:"rule_name"`
	Severity       risk.Level             `json:"severity"`
	Description    string                 `json:"description"`
	Actor          string                 `json:"actor"`
	EntryID        string                 `json:"entry_id"`
	TriggeredAt    time.Time              `json:"triggered_at"`
	Status         Status                 `json:"status"`
	AcknowledgedBy string                 `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time             `json:"acknowledged_at,omitempty"`
	ResolvedBy     string                 `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time             `json:"resolved_at,omitempty"`
	DismissedBy    string                 `json:"dismissed_by,omitempty"`
	DismissedAt    *time.Time             `json:"dismissed_at,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// apply records who moved the alert into status at and when.
func (a *Alert) apply(status Status, actor string, at time.Time) {
	a.Status = status
	switch status {
	case StatusAcknowledged:
		a.AcknowledgedBy, a.AcknowledgedAt = actor, &at
	case StatusResolved:
		a.ResolvedBy, a.ResolvedAt = actor, &at
	case StatusDismissed:
		a.DismissedBy, a.DismissedAt = actor, &at
	}
}

// Priority orders notifications for recipients.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// PriorityFor maps an alert severity onto a notification priority.
func PriorityFor(level risk.Level) Priority {
	switch level {
	case risk.LevelCritical:
		return PriorityUrgent
	case risk.LevelHigh:
		return PriorityHigh
	case risk.LevelMedium:
		return PriorityNormal
	}
	return PriorityLow
}

// Notification tells one user about one alert.
type Notification struct {
	ID          string     `json:"id"`
	RecipientID string     `json:"recipient_id"`
	AlertID     string     `json:"alert_id"`
	Title       string     `json:"title"`
	Message     string     `json:"message"`
	Priority    Priority   `json:"priority"`
	Read        bool       `json:"read"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether n has passed its expiry at now.
func (n *Notification) Expired(now time.Time) bool {
	return n.ExpiresAt != nil && now.After(*n.ExpiresAt)
}

// User is a record from the users collection. Administrators are the users
// whose Role is one of Config.AdminRoles.
type User struct {
	ID    string `json:"id" koanf:"id" validate:"required,max=128"`
	Name  string `json:"name" koanf:"name" validate:"max=128"`
	Email string `json:"email,omitempty" koanf:"email" validate:"omitempty,email"`
	Role  string `json:"role" koanf:"role" validate:"required,max=64"`
}

// AlertFilter narrows ListAlerts. Zero fields match everything.
type AlertFilter struct {
	Status   Status
	Severity risk.Level
	// MinSeverity keeps alerts at or above the level.
	MinSeverity risk.Level
	RuleID      string
	Limit       int
}

func (f AlertFilter) matches(a *Alert) bool {
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.Severity != "" && a.Severity != f.Severity {
		return false
	}
	if f.MinSeverity != "" && a.Severity.Rank() < f.MinSeverity.Rank() {
		return false
	}
	if f.RuleID != "" && a.RuleID != f.RuleID {
		return false
	}
	return true
}
