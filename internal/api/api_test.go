// Ledgerwatch - Activity Audit and Compliance Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ledgerwatch

package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/ledgerwatch/internal/alerting"
	"github.com/tomtom215/ledgerwatch/internal/audit"
	"github.com/tomtom215/ledgerwatch/internal/auth"
	"github.com/tomtom215/ledgerwatch/internal/authz"
	"github.com/tomtom215/ledgerwatch/internal/config"
	"github.com/tomtom215/ledgerwatch/internal/detection"
	"github.com/tomtom215/ledgerwatch/internal/logging"
	"github.com/tomtom215/ledgerwatch/internal/store"
	"github.com/tomtom215/ledgerwatch/internal/websocket"
)

//nolint:gochecknoinits // keep test output quiet
func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

const testSecret = "api_test_secret_key_with_enough_length_42"

var (
	adminActor   = audit.Actor{ID: "u-admin", Name: "Ada", Role: "admin"}
	auditorActor = audit.Actor{ID: "u-aud", Name: "Grace", Role: "auditor"}
	memberActor  = audit.Actor{ID: "u-mem", Name: "Linus", Role: "member"}
)

type testServer struct {
	t          *testing.T
	dir        string
	store      *store.Store
	recorder   *audit.Recorder
	dispatcher *alerting.Dispatcher
	evaluator  *detection.Evaluator
	hub        *websocket.Hub
	jwt        *auth.JWTManager
	handler    http.Handler
}

// newTestServer wires the full stack over a file store with the default
// rules and three users.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	s, err := store.Open(store.BackendFile, dir, store.Config{LockTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	recorder := audit.NewRecorder(s, audit.DefaultConfig())
	dispatcher := alerting.NewDispatcher(s, alerting.DefaultConfig())
	evaluator := detection.NewEvaluator(s, recorder, dispatcher)
	recorder.SetEvaluator(evaluator)
	if _, err := evaluator.SeedDefaults(ctx); err != nil {
		t.Fatalf("SeedDefaults: %v", err)
	}
	users := []alerting.User{
		{ID: adminActor.ID, Name: adminActor.Name, Role: adminActor.Role},
		{ID: auditorActor.ID, Name: auditorActor.Name, Role: auditorActor.Role},
		{ID: memberActor.ID, Name: memberActor.Name, Role: memberActor.Role},
	}
	if _, err := dispatcher.UpsertUsers(ctx, users); err != nil {
		t.Fatalf("UpsertUsers: %v", err)
	}

	hub := websocket.NewHub()
	hubCtx, cancel := context.WithCancel(ctx)
	go func() { _ = hub.RunWithContext(hubCtx) }()
	t.Cleanup(cancel)
	dispatcher.Subscribe(hub)

	enforcer, err := authz.NewEnforcer([]string{"admin"})
	if err != nil {
		t.Fatalf("NewEnforcer: %v", err)
	}
	security := &config.SecurityConfig{
		AuthMode:        "jwt",
		JWTSecret:       testSecret,
		JWTIssuer:       "ledgerwatch",
		TokenTTL:        time.Hour,
		RateLimitReqs:   1000,
		RateLimitWindow: time.Minute,
		CORSOrigins:     []string{"https://console.example"},
	}
	jwtManager, err := auth.NewJWTManager(security)
	if err != nil {
		t.Fatalf("NewJWTManager: %v", err)
	}

	handler := NewHandler(Dependencies{
		Store:         s,
		Recorder:      recorder,
		Dispatcher:    dispatcher,
		Evaluator:     evaluator,
		Hub:           hub,
		Enforcer:      enforcer,
		Authenticator: jwtManager,
	})

	return &testServer{
		t:          t,
		dir:        dir,
		store:      s,
		recorder:   recorder,
		dispatcher: dispatcher,
		evaluator:  evaluator,
		hub:        hub,
		jwt:        jwtManager,
		handler:    NewRouter(handler, security).SetupChi(),
	}
}

func (s *testServer) token(actor audit.Actor) string {
	s.t.Helper()
	token, err := s.jwt.GenerateToken(actor)
	if err != nil {
		s.t.Fatalf("GenerateToken: %v", err)
	}
	return token
}

// do sends a request as actor. A zero actor sends no credentials.
func (s *testServer) do(actor audit.Actor, method, path, body string) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if actor.ID != "" {
		req.Header.Set("Authorization", "Bearer "+s.token(actor))
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Status   string          `json:"status"`
	Data     json.RawMessage `json:"data"`
	Metadata Metadata        `json:"metadata"`
	Error    *APIError       `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder, into interface{}) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (body %s)", err, rec.Body.String())
	}
	if into != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, into); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
	return env
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, want, rec.Body.String())
	}
}

func expectErrorCode(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	expectStatus(t, rec, status)
	env := decodeEnvelope(t, rec, nil)
	if env.Status != "error" || env.Error == nil || env.Error.Code != code {
		t.Fatalf("error = %+v, want code %s", env.Error, code)
	}
}
