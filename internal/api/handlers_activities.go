// Ledgerwatch - Activity Audit and Compliance Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ledgerwatch

package api

import (
	"net/http"

	"github.com/tomtom215/ledgerwatch/internal/audit"
	"github.com/tomtom215/ledgerwatch/internal/auth"
	"github.com/tomtom215/ledgerwatch/internal/risk"
)

const defaultActivityLimit = 100

// activityRequest is the body of POST /activities. Actor and Origin are
// honored only for administrators ingesting on behalf of another system;
// everyone else is recorded as the authenticated caller.
type activityRequest struct {
	Actor              *audit.Actor           `json:"actor,omitempty"`
	Origin             *audit.Origin          `json:"origin,omitempty"`
	Action             string                 `json:"action"`
	Description        string                 `json:"description,omitempty"`
	Resource           string                 `json:"resource"`
	ResourceID         string                 `json:"resource_id,omitempty"`
	Severity           audit.Severity         `json:"severity,omitempty"`
	RiskLevel          risk.Level             `json:"risk_level,omitempty"`
	DataClassification risk.Classification    `json:"data_classification,omitempty"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
	CorrelationID      string                 `json:"correlation_id,omitempty"`
}

// CreateActivity records one activity and returns its id.
func (h *Handler) CreateActivity(w http.ResponseWriter, r *http.Request) {
	skipAudit(r.Context())

	var req activityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, CodeValidation, err.Error(), nil)
		return
	}

	caller, _ := auth.ActorFromContext(r.Context())
	in := audit.ActivityInput{
		Actor:              caller,
		Action:             req.Action,
		Description:        req.Description,
		Resource:           req.Resource,
		ResourceID:         req.ResourceID,
		Origin:             audit.OriginFromRequest(r),
		Severity:           req.Severity,
		RiskLevel:          req.RiskLevel,
		DataClassification: req.DataClassification,
		Metadata:           req.Metadata,
		CorrelationID:      req.CorrelationID,
	}
	if h.enforcer.IsAdmin(caller.Role) {
		if req.Actor != nil {
			in.Actor = *req.Actor
		}
		if req.Origin != nil {
			in.Origin = *req.Origin
		}
	} else if req.Actor != nil && req.Actor.ID != caller.ID {
		respondError(w, http.StatusForbidden, CodeForbidden, "cannot record activity for another actor", nil)
		return
	}

	id, err := h.recorder.LogActivity(r.Context(), in)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondData(w, http.StatusCreated, map[string]string{"id": id})
}

// ListActivities returns entries newest first, optionally narrowed to one
// actor or one severity.
func (h *Handler) ListActivities(w http.ResponseWriter, r *http.Request) {
	limit := getIntParam(r, "limit", defaultActivityLimit)
	q := r.URL.Query()

	var entries []audit.ActivityEntry
	switch userID, severity := q.Get("user_id"), audit.Severity(q.Get("severity")); {
	case userID != "" && severity != "":
		respondError(w, http.StatusBadRequest, CodeValidation, "user_id and severity cannot be combined", nil)
		return
	case userID != "":
		entries = h.recorder.GetActivitiesByUser(r.Context(), userID, limit)
	case severity != "":
		if !severity.Valid() {
			respondError(w, http.StatusBadRequest, CodeValidation, "severity must be one of info, warning, error, critical", nil)
			return
		}
		entries = h.recorder.GetActivitiesBySeverity(r.Context(), severity, limit)
	default:
		entries = h.recorder.GetRecentActivities(r.Context(), limit)
	}
	if entries == nil {
		entries = []audit.ActivityEntry{}
	}
	respondData(w, http.StatusOK, entries, len(entries))
}

// Me returns the authenticated actor.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFromContext(r.Context())
	respondData(w, http.StatusOK, map[string]interface{}{
		"actor": actor,
		"admin": h.enforcer.IsAdmin(actor.Role),
	})
}
