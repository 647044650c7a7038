// Ledgerwatch - Activity Audit and Compliance Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ledgerwatch

package api

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/tomtom215/ledgerwatch/internal/alerting"
	"github.com/tomtom215/ledgerwatch/internal/audit"
	"github.com/tomtom215/ledgerwatch/internal/detection"
	"github.com/tomtom215/ledgerwatch/internal/risk"
)

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(audit.Actor{}, http.MethodGet, "/health", "")
	expectStatus(t, rec, http.StatusOK)
	var health HealthStatus
	decodeEnvelope(t, rec, &health)
	if health.Status != "healthy" {
		t.Errorf("Status = %q", health.Status)
	}
	if len(health.Collections) != len(healthCollections) {
		t.Errorf("Collections = %v", health.Collections)
	}

	path := filepath.Join(s.dir, audit.CollectionName+".json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("corrupt collection: %v", err)
	}
	rec = s.do(audit.Actor{}, http.MethodGet, "/health", "")
	expectStatus(t, rec, http.StatusServiceUnavailable)
	decodeEnvelope(t, rec, &health)
	if health.Status != "degraded" || health.Collections[audit.CollectionName] == "ok" {
		t.Errorf("health = %+v", health)
	}
}

func TestAuthentication(t *testing.T) {
	s := newTestServer(t)

	expectErrorCode(t, s.do(audit.Actor{}, http.MethodGet, "/api/v1/me", ""), http.StatusUnauthorized, CodeUnauthorized)

	rec := s.do(auditorActor, http.MethodGet, "/api/v1/me", "")
	expectStatus(t, rec, http.StatusOK)
	var me struct {
		Actor audit.Actor `json:"actor"`
		Admin bool        `json:"admin"`
	}
	decodeEnvelope(t, rec, &me)
	if me.Actor != auditorActor || me.Admin {
		t.Errorf("me = %+v", me)
	}
}

func TestRejectedTokensRaiseFailedLoginAlert(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		req := newRequest(http.MethodGet, "/api/v1/alerts", "")
		req.Header.Set("Authorization", "Bearer forged")
		rec := serve(s, req)
		expectErrorCode(t, rec, http.StatusUnauthorized, CodeUnauthorized)
	}

	entries := s.recorder.GetActivitiesByUser(ctx, "192.0.2.1", 0)
	if len(entries) != 3 {
		t.Fatalf("recorded %d rejected logins, want 3", len(entries))
	}
	if entries[0].Action != "login_failed" || entries[0].Resource != "authentication" {
		t.Errorf("entry = %+v", entries[0])
	}

	alerts := s.dispatcher.ListAlerts(ctx, alerting.AlertFilter{RuleID: "multiple-failed-logins"})
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerts))
	}
	if alerts[0].Severity != risk.LevelHigh || alerts[0].Actor != "192.0.2.1" {
		t.Errorf("alert = %+v", alerts[0])
	}
}

func TestAuthorization(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		actor  audit.Actor
		method string
		path   string
		body   string
		want   int
	}{
		{"member cannot list activities", memberActor, http.MethodGet, "/api/v1/activities", "", http.StatusForbidden},
		{"member cannot read alerts", memberActor, http.MethodGet, "/api/v1/alerts", "", http.StatusForbidden},
		{"member reads own notifications", memberActor, http.MethodGet, "/api/v1/notifications", "", http.StatusOK},
		{"auditor lists activities", auditorActor, http.MethodGet, "/api/v1/activities", "", http.StatusOK},
		{"auditor reads rules", auditorActor, http.MethodGet, "/api/v1/rules", "", http.StatusOK},
		{"auditor cannot edit rules", auditorActor, http.MethodPut, "/api/v1/rules/bulk-export", `{}`, http.StatusForbidden},
		{"auditor cannot transition", auditorActor, http.MethodPost, "/api/v1/alerts/a1/transition", `{"status":"resolved"}`, http.StatusForbidden},
		{"admin lists alerts", adminActor, http.MethodGet, "/api/v1/alerts", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectStatus(t, s.do(tt.actor, tt.method, tt.path, tt.body), tt.want)
		})
	}

	denied := s.recorder.GetActivitiesByUser(context.Background(), auditorActor.ID, 0)
	actions := map[string]int{}
	for _, e := range denied {
		actions[e.Action]++
	}
	if actions["access_denied"] != 2 {
		t.Errorf("auditor activity = %v, want two access_denied entries", actions)
	}
}

func TestCreateActivity(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	rec := s.do(memberActor, http.MethodPost, "/api/v1/activities",
		`{"action":"view_document","resource":"documents","resource_id":"d-1"}`)
	expectStatus(t, rec, http.StatusCreated)
	var created map[string]string
	decodeEnvelope(t, rec, &created)
	if created["id"] == "" {
		t.Fatal("missing id")
	}

	entries := s.recorder.GetRecentActivities(ctx, 0)
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1 (submission must not be recorded twice)", len(entries))
	}
	got := entries[0]
	if got.ID != created["id"] || got.Actor != memberActor || got.Origin.IPAddress != "192.0.2.1" {
		t.Errorf("entry = %+v", got)
	}
	if got.DataClassification != risk.Internal || got.Severity != audit.SeverityInfo {
		t.Errorf("defaults not applied: %+v", got)
	}
}

func TestCreateActivity_Rejects(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		actor  audit.Actor
		body   string
		status int
		code   string
	}{
		{"missing action", memberActor, `{"resource":"documents"}`, http.StatusBadRequest, CodeValidation},
		{"bad severity", memberActor, `{"action":"view","resource":"documents","severity":"loud"}`, http.StatusBadRequest, CodeValidation},
		{"unknown field", memberActor, `{"action":"view","resource":"documents","colour":"red"}`, http.StatusBadRequest, CodeValidation},
		{"empty body", memberActor, ``, http.StatusBadRequest, CodeValidation},
		{"impersonation", memberActor, `{"action":"view","resource":"documents","actor":{"id":"u-admin"}}`, http.StatusForbidden, CodeForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectErrorCode(t, s.do(tt.actor, http.MethodPost, "/api/v1/activities", tt.body), tt.status, tt.code)
		})
	}

	if n := len(s.recorder.GetRecentActivities(context.Background(), 0)); n != 0 {
		t.Errorf("rejected submissions recorded %d entries", n)
	}
}

func TestCreateActivity_AdminIngestsForAnotherActor(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(adminActor, http.MethodPost, "/api/v1/activities",
		`{"action":"export","resource":"reports","actor":{"id":"svc-batch","role":"service"},"origin":{"ip_address":"10.0.0.9"}}`)
	expectStatus(t, rec, http.StatusCreated)

	entries := s.recorder.GetActivitiesByUser(context.Background(), "svc-batch", 0)
	if len(entries) != 1 || entries[0].Origin.IPAddress != "10.0.0.9" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestListActivities(t *testing.T) {
	s := newTestServer(t)
	for _, body := range []string{
		`{"action":"view","resource":"documents"}`,
		`{"action":"view","resource":"documents","severity":"warning"}`,
		`{"action":"update","resource":"documents","severity":"warning"}`,
	} {
		expectStatus(t, s.do(memberActor, http.MethodPost, "/api/v1/activities", body), http.StatusCreated)
	}

	tests := []struct {
		query string
		want  int
	}{
		{"", 3},
		{"?limit=2", 2},
		{"?severity=warning", 2},
		{"?user_id=u-mem&limit=1", 1},
		{"?user_id=nobody", 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := s.do(auditorActor, http.MethodGet, "/api/v1/activities"+tt.query, "")
			expectStatus(t, rec, http.StatusOK)
			var entries []audit.ActivityEntry
			env := decodeEnvelope(t, rec, &entries)
			if len(entries) != tt.want || env.Metadata.Count == nil || *env.Metadata.Count != tt.want {
				t.Errorf("got %d entries (count %v), want %d", len(entries), env.Metadata.Count, tt.want)
			}
		})
	}

	var newest []audit.ActivityEntry
	decodeEnvelope(t, s.do(auditorActor, http.MethodGet, "/api/v1/activities?limit=1", ""), &newest)
	if len(newest) != 1 || newest[0].Action != "update" {
		t.Errorf("newest = %+v", newest)
	}

	expectErrorCode(t, s.do(auditorActor, http.MethodGet, "/api/v1/activities?severity=loud", ""), http.StatusBadRequest, CodeValidation)
	expectErrorCode(t, s.do(auditorActor, http.MethodGet, "/api/v1/activities?severity=info&user_id=u", ""), http.StatusBadRequest, CodeValidation)
}

func TestAlertLifecycle(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(adminActor, http.MethodPost, "/api/v1/activities",
		`{"action":"delete","resource":"documents","resource_id":"d-9","data_classification":"restricted"}`)
	expectStatus(t, rec, http.StatusCreated)

	var alerts []alerting.Alert
	decodeEnvelope(t, s.do(auditorActor, http.MethodGet, "/api/v1/alerts?status=active", ""), &alerts)
	if len(alerts) != 1 {
		t.Fatalf("active alerts = %d, want 1", len(alerts))
	}
	alert := alerts[0]
	if alert.RuleID != "restricted-data-deletion" || alert.Severity != risk.LevelCritical {
		t.Errorf("alert = %+v", alert)
	}

	var urgent []alerting.Alert
	decodeEnvelope(t, s.do(auditorActor, http.MethodGet, "/api/v1/alerts?min_severity=high", ""), &urgent)
	if len(urgent) != 1 {
		t.Errorf("alerts at or above high = %d, want 1", len(urgent))
	}
	expectErrorCode(t, s.do(auditorActor, http.MethodGet, "/api/v1/alerts?min_severity=severe", ""), http.StatusBadRequest, CodeValidation)

	var fetched alerting.Alert
	decodeEnvelope(t, s.do(auditorActor, http.MethodGet, "/api/v1/alerts/"+alert.ID, ""), &fetched)
	if fetched.ID != alert.ID {
		t.Errorf("GetAlert = %+v", fetched)
	}
	expectErrorCode(t, s.do(auditorActor, http.MethodGet, "/api/v1/alerts/missing", ""), http.StatusNotFound, CodeNotFound)

	transition := "/api/v1/alerts/" + alert.ID + "/transition"
	steps := []struct {
		status string
		want   int
	}{
		{"acknowledged", http.StatusOK},
		{"resolved", http.StatusOK},
		{"active", http.StatusConflict},
		{"dismissed", http.StatusConflict},
	}
	for _, step := range steps {
		rec := s.do(adminActor, http.MethodPost, transition, `{"status":"`+step.status+`"}`)
		expectStatus(t, rec, step.want)
	}
	expectErrorCode(t, s.do(adminActor, http.MethodPost, transition, `{"status":"archived"}`), http.StatusBadRequest, CodeValidation)
	expectErrorCode(t, s.do(adminActor, http.MethodPost, "/api/v1/alerts/missing/transition", `{"status":"resolved"}`), http.StatusNotFound, CodeNotFound)

	decodeEnvelope(t, s.do(auditorActor, http.MethodGet, "/api/v1/alerts/"+alert.ID, ""), &fetched)
	if fetched.Status != alerting.StatusResolved || fetched.AcknowledgedBy != adminActor.ID || fetched.ResolvedBy != adminActor.ID {
		t.Errorf("alert after transitions = %+v", fetched)
	}

	transitions := 0
	for _, e := range s.recorder.GetActivitiesByUser(context.Background(), adminActor.ID, 0) {
		if e.Resource == "alerts" && e.ResourceID == alert.ID {
			transitions++
		}
	}
	if transitions != len(steps)+1 {
		t.Errorf("recorded %d transition requests, want %d", transitions, len(steps)+1)
	}
}

func TestNotifications(t *testing.T) {
	s := newTestServer(t)
	expectStatus(t, s.do(memberActor, http.MethodPost, "/api/v1/activities",
		`{"action":"role_change","resource":"users","resource_id":"u-mem"}`), http.StatusCreated)

	var notes []alerting.Notification
	decodeEnvelope(t, s.do(adminActor, http.MethodGet, "/api/v1/notifications?unread=true", ""), &notes)
	if len(notes) != 1 || notes[0].Priority != alerting.PriorityHigh {
		t.Fatalf("notifications = %+v", notes)
	}

	var none []alerting.Notification
	decodeEnvelope(t, s.do(memberActor, http.MethodGet, "/api/v1/notifications", ""), &none)
	if len(none) != 0 {
		t.Errorf("member notifications = %+v", none)
	}

	markPath := "/api/v1/notifications/" + notes[0].ID + "/read"
	expectErrorCode(t, s.do(memberActor, http.MethodPost, markPath, ""), http.StatusNotFound, CodeNotFound)

	rec := s.do(adminActor, http.MethodPost, markPath, "")
	expectStatus(t, rec, http.StatusOK)
	var marked alerting.Notification
	decodeEnvelope(t, rec, &marked)
	if !marked.Read || marked.ReadAt == nil {
		t.Errorf("marked = %+v", marked)
	}

	decodeEnvelope(t, s.do(adminActor, http.MethodGet, "/api/v1/notifications?unread=true", ""), &notes)
	if len(notes) != 0 {
		t.Errorf("unread after mark = %d", len(notes))
	}
}

func TestRules(t *testing.T) {
	s := newTestServer(t)

	var rules []detection.AlertRule
	decodeEnvelope(t, s.do(auditorActor, http.MethodGet, "/api/v1/rules", ""), &rules)
	if len(rules) != len(detection.DefaultRules()) {
		t.Fatalf("rules = %d", len(rules))
	}

	var rule detection.AlertRule
	decodeEnvelope(t, s.do(auditorActor, http.MethodGet, "/api/v1/rules/bulk-export", ""), &rule)
	if rule.Window == nil || rule.Window.Threshold != 5 {
		t.Fatalf("bulk-export = %+v", rule)
	}
	expectErrorCode(t, s.do(auditorActor, http.MethodGet, "/api/v1/rules/nope", ""), http.StatusNotFound, CodeNotFound)

	updated := `{"name":"Bulk export","severity":"high","conditions":{"action":"export"},"window":{"minutes":30,"threshold":10},"active":false}`
	rec := s.do(adminActor, http.MethodPut, "/api/v1/rules/bulk-export", updated)
	expectStatus(t, rec, http.StatusOK)
	decodeEnvelope(t, rec, &rule)
	if rule.ID != "bulk-export" || rule.Active || rule.Severity != risk.LevelHigh || rule.Window.Threshold != 10 {
		t.Errorf("updated = %+v", rule)
	}

	tests := []struct {
		name   string
		path   string
		body   string
		status int
		code   string
	}{
		{"no conditions", "/api/v1/rules/bulk-export", `{"name":"x","severity":"low","active":true}`, http.StatusBadRequest, CodeValidation},
		{"bad severity", "/api/v1/rules/bulk-export", `{"name":"x","severity":"huge","conditions":{"action":"x"}}`, http.StatusBadRequest, CodeValidation},
		{"id mismatch", "/api/v1/rules/bulk-export", `{"id":"other","name":"x","severity":"low","conditions":{"action":"x"}}`, http.StatusBadRequest, CodeValidation},
		{"unknown rule", "/api/v1/rules/nope", `{"name":"x","severity":"low","conditions":{"action":"x"}}`, http.StatusNotFound, CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectErrorCode(t, s.do(adminActor, http.MethodPut, tt.path, tt.body), tt.status, tt.code)
		})
	}

	var edits int
	for _, e := range s.recorder.GetActivitiesByUser(context.Background(), adminActor.ID, 0) {
		if e.Action == "update_rule" {
			edits++
			if e.Resource != "alert_rules" || !e.ComplianceRelevant {
				t.Errorf("rule edit entry = %+v", e)
			}
		}
	}
	if edits != 1+len(tests) {
		t.Errorf("recorded %d rule edits, want %d", edits, 1+len(tests))
	}
}
