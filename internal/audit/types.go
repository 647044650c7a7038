// Ledgerwatch - Activity Audit and Compliance Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ledgerwatch

// Package audit records user activity for compliance review.
//
// Every entry is classified by the risk package, persisted to the
// "activities" collection, and handed to an Evaluator before LogActivity
// returns. Entries are immutable once written and are only removed in bulk,
// either by the max_entries cap or by the age sweep run by RetentionService.
package audit

import (
	"time"

	"github.com/tomtom215/ledgerwatch/internal/risk"
)

// CollectionName is the store collection holding activity entries.
const CollectionName = "activities"

// Severity indicates how noteworthy an activity is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// Actor identifies who performed an activity.
type Actor struct {
	ID   string `json:"id" validate:"required,max=128"`
	Name string `json:"name,omitempty" validate:"max=256"`
	Role string `json:"role,omitempty" validate:"max=64"`
}

// SystemActor is used for activities the service performs on its own.
func SystemActor() Actor {
	return Actor{ID: "system", Name: "Ledgerwatch", Role: "system"}
}

// Origin describes where a request came from.
type Origin struct {
	IPAddress string `json:"ip_address,omitempty" validate:"max=64"`
	UserAgent string `json:"user_agent,omitempty" validate:"max=512"`
}

// ActivityEntry is a persisted activity.
type ActivityEntry struct {
	ID                 string                 `json:"id"`
	Timestamp          time.Time              `json:"timestamp"`
	Actor              Actor                  `json:"actor"`
	Action             string                 `json:"action"`
	Description        string                 `json:"description,omitempty"`
	Resource           string                 `json:"resource"`
	ResourceID         string                 `json:"resource_id,omitempty"`
	Origin             Origin                 `json:"origin"`
	Severity           Severity               `json:"severity"`
	RiskLevel          risk.Level             `json:"risk_level"`
	ComplianceRelevant bool                   `json:"compliance_relevant"`
	DataClassification risk.Classification    `json:"data_classification"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
	CorrelationID      string                 `json:"correlation_id,omitempty"`
}

// ActivityInput is what callers supply to LogActivity. Severity and
// DataClassification default to info and internal. RiskLevel, when set,
// overrides the classifier's level.
type ActivityInput struct {
	Actor              Actor                  `json:"actor"`
	Action             string                 `json:"action" validate:"required,max=64"`
	Description        string                 `json:"description,omitempty" validate:"max=2048"`
	Resource           string                 `json:"resource" validate:"required,max=64"`
	ResourceID         string                 `json:"resource_id,omitempty" validate:"max=256"`
	Origin             Origin                 `json:"origin"`
	Severity           Severity               `json:"severity,omitempty" validate:"omitempty,oneof=info warning error critical"`
	RiskLevel          risk.Level             `json:"risk_level,omitempty" validate:"omitempty,oneof=low medium high critical"`
	DataClassification risk.Classification    `json:"data_classification,omitempty" validate:"omitempty,oneof=public internal confidential restricted"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
	CorrelationID      string                 `json:"correlation_id,omitempty" validate:"max=128"`
}
