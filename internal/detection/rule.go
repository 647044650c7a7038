// Ledgerwatch - Activity Audit and Compliance Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ledgerwatch

// Package detection evaluates alert rules against new activity entries.
//
// A rule has static conditions on entry fields and an optional sliding
// window. Without a window a rule fires on every matching entry. With one,
// it fires when the same actor has at least Threshold matching entries in
// the last Minutes, counting the entry being evaluated. There is no
// cooldown: once the threshold is reached every further matching entry
// inside the window fires again.
package detection

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/ledgerwatch/internal/audit"
	"github.com/tomtom215/ledgerwatch/internal/risk"
	"github.com/tomtom215/ledgerwatch/internal/validation"
)

// RulesCollection is the store collection holding alert rules.
const RulesCollection = "alert_rules"

var (
	// ErrInvalidRule is returned when a rule fails validation. It is joined
	// with the *validation.RequestValidationError when one is available.
	ErrInvalidRule = errors.New("detection: invalid alert rule")

	// ErrRuleNotFound is returned for unknown rule ids.
	ErrRuleNotFound = errors.New("detection: alert rule not found")
)

// Conditions are matched against entry fields. Empty fields match anything.
// RiskLevel compares against the classifier's verdict, so a delete rule
// can be limited to restricted data.
type Conditions struct {
	Action    string         `json:"action,omitempty" validate:"max=64"`
	Resource  string         `json:"resource,omitempty" validate:"max=64"`
	ActorRole string         `json:"actor_role,omitempty" validate:"max=64"`
	Severity  audit.Severity `json:"severity,omitempty" validate:"omitempty,oneof=info warning error critical"`
	RiskLevel risk.Level     `json:"risk_level,omitempty" validate:"omitempty,oneof=low medium high critical"`
}

// Empty reports whether no condition is set.
func (c Conditions) Empty() bool {
	return c.Action == "" && c.Resource == "" && c.ActorRole == "" && c.Severity == "" && c.RiskLevel == ""
}

// Window turns a rule into a per-actor threshold over time.
type Window struct {
	Minutes   int `json:"minutes" validate:"gte=1,lte=43200"`
	Threshold int `json:"threshold" validate:"gte=1,lte=10000"`
}

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	return time.Duration(w.Minutes) * time.Minute
}

// AlertRule decides when an alert is raised.
type AlertRule struct {
	ID            string     `json:"id" validate:"required,max=64,ident"`
	Name          string     `json:"name" validate:"required,max=128"`
	Description   string     `json:"description,omitempty" validate:"max=1024"`
	Severity      risk.Level `json:"severity" validate:"required,oneof=low medium high critical"`
	Conditions    Conditions `json:"conditions"`
	Window        *Window    `json:"window,omitempty"`
	Active        bool       `json:"active"`
	LastTriggered *time.Time `json:"last_triggered,omitempty"`
}

// Validate checks field constraints and rejects rules without conditions,
// which would fire on every entry.
func (r *AlertRule) Validate() error {
	if verr := validation.ValidateStruct(r); verr != nil {
		return errors.Join(ErrInvalidRule, verr)
	}
	if r.Conditions.Empty() {
		return fmt.Errorf("%w: at least one condition is required", ErrInvalidRule)
	}
	return nil
}

// Matches reports whether entry satisfies the static conditions. Each set
// condition must equal the entry's field; action, resource and role compare
// case-insensitively.
func (r *AlertRule) Matches(entry *audit.ActivityEntry) bool {
	c := &r.Conditions
	if c.Action != "" && !strings.EqualFold(c.Action, entry.Action) {
		return false
	}
	if c.Resource != "" && !strings.EqualFold(c.Resource, entry.Resource) {
		return false
	}
	if c.ActorRole != "" && !strings.EqualFold(c.ActorRole, entry.Actor.Role) {
		return false
	}
	if c.Severity != "" && c.Severity != entry.Severity {
		return false
	}
	if c.RiskLevel != "" && c.RiskLevel != entry.RiskLevel {
		return false
	}
	return true
}

// DefaultRules are seeded into an empty rules collection.
func DefaultRules() []AlertRule {
	return []AlertRule{
		{
			ID:          "multiple-failed-logins",
			Name:        "Multiple failed logins",
			Description: "Three or more failed logins by one actor within 15 minutes",
			Severity:    risk.LevelHigh,
			Conditions:  Conditions{Action: "login_failed", Resource: "authentication"},
			Window:      &Window{Minutes: 15, Threshold: 3},
			Active:      true,
		},
		{
			ID:          "restricted-data-deletion",
			Name:        "Restricted data deletion",
			Description: "Any deletion of restricted data",
			Severity:    risk.LevelCritical,
			// Only delete on restricted data classifies as critical.
			Conditions: Conditions{RiskLevel: risk.LevelCritical},
			Active:     true,
		},
		{
			ID:          "bulk-export",
			Name:        "Bulk export",
			Description: "Five or more exports by one actor within an hour",
			Severity:    risk.LevelMedium,
			Conditions:  Conditions{Action: "export"},
			Window:      &Window{Minutes: 60, Threshold: 5},
			Active:      true,
		},
		{
			ID:          "privilege-change",
			Name:        "Privilege change",
			Description: "A role or permission assignment changed",
			Severity:    risk.LevelHigh,
			Conditions:  Conditions{Action: "role_change"},
			Active:      true,
		},
	}
}
