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
	"github.com/tomtom215/ledgerwatch/internal/detection"
	"github.com/tomtom215/ledgerwatch/internal/risk"
)

// ListRules returns every alert rule.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules := h.evaluator.GetAlertRules(r.Context())
	if rules == nil {
		rules = []detection.AlertRule{}
	}
	respondData(w, http.StatusOK, rules, len(rules))
}

// GetRule returns one alert rule.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.evaluator.GetAlertRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondData(w, http.StatusOK, rule)
}

// UpdateRule replaces a rule. Rule edits are recorded as high risk
// configuration changes.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	var rule detection.AlertRule
	if err := decodeJSON(w, r, &rule); err != nil {
		respondError(w, http.StatusBadRequest, CodeValidation, err.Error(), nil)
		return
	}

	id := chi.URLParam(r, "id")
	noteAudit(r.Context(), func(o *audit.RequestOverrides) {
		o.Action = "update_rule"
		o.Resource = "alert_rules"
		o.DataClassification = risk.Confidential
		o.Metadata = map[string]interface{}{"active": rule.Active}
	})

	updated, err := h.evaluator.UpdateAlertRule(r.Context(), id, rule)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondData(w, http.StatusOK, updated)
}

// ListNotifications returns the caller's notifications, newest first.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFromContext(r.Context())
	notes := h.dispatcher.ListNotifications(r.Context(), actor.ID, getBoolParam(r, "unread"))
	if notes == nil {
		notes = []alerting.Notification{}
	}
	respondData(w, http.StatusOK, notes, len(notes))
}

// MarkNotificationRead marks one of the caller's notifications as read.
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFromContext(r.Context())
	noteAudit(r.Context(), func(o *audit.RequestOverrides) {
		o.Action = "read_notification"
		o.Resource = "notifications"
	})

	note, err := h.dispatcher.MarkNotificationRead(r.Context(), chi.URLParam(r, "id"), actor.ID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondData(w, http.StatusOK, note)
}
