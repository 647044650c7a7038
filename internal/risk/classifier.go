// Ledgerwatch - Activity Audit and Compliance Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ledgerwatch

// Package risk maps an activity to a risk level and a compliance flag.
//
// The mapping is a fixed table that compliance reporting depends on. It is
// deliberately not configurable, and an unrecognized action or
// classification is never an error: it falls through to LevelLow so that
// recording an activity cannot be blocked by classification.
package risk

import "strings"

// Level is the risk assigned to an activity.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Valid reports whether l is one of the four levels.
func (l Level) Valid() bool {
	switch l {
	case LevelLow, LevelMedium, LevelHigh, LevelCritical:
		return true
	}
	return false
}

// Rank orders levels from low (1) to critical (4); unknown levels rank 0.
func (l Level) Rank() int {
	switch l {
	case LevelLow:
		return 1
	case LevelMedium:
		return 2
	case LevelHigh:
		return 3
	case LevelCritical:
		return 4
	}
	return 0
}

// Classification is the sensitivity of the data an activity touched.
type Classification string

const (
	Public       Classification = "public"
	Internal     Classification = "internal"
	Confidential Classification = "confidential"
	Restricted   Classification = "restricted"
)

// Valid reports whether c is one of the four classifications.
func (c Classification) Valid() bool {
	switch c {
	case Public, Internal, Confidential, Restricted:
		return true
	}
	return false
}

// Result is the classifier output.
type Result struct {
	Level              Level `json:"risk_level"`
	ComplianceRelevant bool  `json:"compliance_relevant"`
}

// securityVerbs are action verbs in the authentication/security category.
var securityVerbs = map[string]bool{
	"login":        true,
	"logout":       true,
	"auth":         true,
	"authenticate": true,
	"password":     true,
	"mfa":          true,
	"permission":   true,
	"role":         true,
	"security":     true,
	"session":      true,
	"token":        true,
}

// securityResources mark an activity as security-relevant regardless of verb.
var securityResources = map[string]bool{
	"authentication": true,
	"auth":           true,
	"security":       true,
}

// Verb normalizes an action name to the verb the table is keyed on: the
// lowercased text before the first '_', '.', ':' or '-'. "DELETE",
// "delete" and "delete_document" all yield "delete".
func Verb(action string) string {
	a := strings.ToLower(strings.TrimSpace(action))
	if i := strings.IndexAny(a, "_.:-"); i >= 0 {
		return a[:i]
	}
	return a
}

// IsSecurityAction reports whether the action/resource pair belongs to the
// authentication or security category.
func IsSecurityAction(action, resource string) bool {
	return securityVerbs[Verb(action)] || securityResources[strings.ToLower(strings.TrimSpace(resource))]
}

// Classify returns the risk level and compliance relevance of an activity.
//
//	delete + restricted                  -> critical
//	export + confidential|restricted     -> high
//	update + restricted                  -> high
//	restricted (any other action)        -> medium
//	confidential (any other action)      -> low
//	anything else                        -> low
//
// The table is keyed on Verb(action), the leading word only: "delete_x"
// counts as delete while "bulk_delete" does not.
//
// ComplianceRelevant is true for confidential or restricted data, or when
// the action is in the authentication/security category.
func Classify(action, resource string, class Classification) Result {
	return Result{
		Level:              levelFor(Verb(action), class),
		ComplianceRelevant: class == Confidential || class == Restricted || IsSecurityAction(action, resource),
	}
}

func levelFor(verb string, class Classification) Level {
	switch {
	case verb == "delete" && class == Restricted:
		return LevelCritical
	case verb == "export" && (class == Confidential || class == Restricted):
		return LevelHigh
	case verb == "update" && class == Restricted:
		return LevelHigh
	case class == Restricted:
		return LevelMedium
	default:
		return LevelLow
	}
}
