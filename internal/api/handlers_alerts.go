// Ledgerwatch - Activity Audit and Compliance Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ledgerwatch

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/ledgerwatch/internal/alerting"
	"github.com/tomtom215/ledgerwatch/internal/audit"
	"github.com/tomtom215/ledgerwatch/internal/auth"
	"github.com/tomtom215/ledgerwatch/internal/risk"
)

type transitionRequest struct {
	Status alerting.Status `json:"status"`
}

// ListAlerts returns alerts newest first, filtered by status, severity and
// rule.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := alerting.AlertFilter{
		Status:      alerting.Status(q.Get("status")),
		Severity:    risk.Level(q.Get("severity")),
		MinSeverity: risk.Level(q.Get("min_severity")),
		RuleID:      q.Get("rule_id"),
		Limit:       getIntParam(r, "limit", 0),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		respondError(w, http.StatusBadRequest, CodeValidation, "unknown alert status", nil)
		return
	}
	if (filter.Severity != "" && !filter.Severity.Valid()) || (filter.MinSeverity != "" && !filter.MinSeverity.Valid()) {
		respondError(w, http.StatusBadRequest, CodeValidation, "severity must be one of low, medium, high, critical", nil)
		return
	}

	alerts := h.dispatcher.ListAlerts(r.Context(), filter)
	if alerts == nil {
		alerts = []alerting.Alert{}
	}
	respondData(w, http.StatusOK, alerts, len(alerts))
}

// GetAlert returns one alert.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := h.dispatcher.GetAlert(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondData(w, http.StatusOK, alert)
}

// TransitionAlert moves an alert to the requested status on behalf of the
// caller.
func (h *Handler) TransitionAlert(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, CodeValidation, err.Error(), nil)
		return
	}
	if !req.Status.Valid() {
		respondError(w, http.StatusBadRequest, CodeValidation, "status must be one of active, acknowledged, resolved, dismissed", nil)
		return
	}

	id := chi.URLParam(r, "id")
	noteAudit(r.Context(), func(o *audit.RequestOverrides) {
		o.Action = "alert_" + string(req.Status)
		o.Resource = "alerts"
	})

	actor, _ := auth.ActorFromContext(r.Context())
	alert, err := h.dispatcher.Transition(r.Context(), id, req.Status, actor.ID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondData(w, http.StatusOK, alert)
}
