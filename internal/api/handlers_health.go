// Ledgerwatch - Activity Audit and Compliance Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ledgerwatch

package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/ledgerwatch/internal/alerting"
	"github.com/tomtom215/ledgerwatch/internal/audit"
	"github.com/tomtom215/ledgerwatch/internal/detection"
)

// healthCollections are probed by the health endpoint.
var healthCollections = []string{
	audit.CollectionName,
	alerting.AlertsCollection,
	alerting.NotificationsCollection,
	alerting.UsersCollection,
	detection.RulesCollection,
}

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status      string            `json:"status"`
	Collections map[string]string `json:"collections"`
	LiveClients int               `json:"live_clients"`
	Uptime      float64           `json:"uptime_seconds"`
}

// Health reports whether every collection can be loaded. A corrupt or
// unreadable collection makes the service degraded with status 503.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:      "healthy",
		Collections: make(map[string]string, len(healthCollections)),
		Uptime:      time.Since(h.startTime).Seconds(),
	}
	if h.hub != nil {
		status.LiveClients = h.hub.GetClientCount()
	}

	for _, name := range healthCollections {
		if err := h.store.Check(r.Context(), name); err != nil {
			status.Status = "degraded"
			status.Collections[name] = err.Error()
			continue
		}
		status.Collections[name] = "ok"
	}

	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	respondData(w, code, status)
}
