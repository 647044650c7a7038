// Ledgerwatch - Activity Audit and Compliance Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ledgerwatch

package audit

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/ledgerwatch/internal/logging"
	"github.com/tomtom215/ledgerwatch/internal/risk"
	"github.com/tomtom215/ledgerwatch/internal/store"
	"github.com/tomtom215/ledgerwatch/internal/validation"
)

//nolint:gochecknoinits // keep test output quiet
func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

// fakeClock hands out strictly increasing times.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingEvaluator struct {
	mu      sync.Mutex
	entries []ActivityEntry
	err     error
}

func (e *recordingEvaluator) Evaluate(_ context.Context, entry *ActivityEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = append(e.entries, *entry)
	return e.err
}

func newTestRecorder(t *testing.T, cfg Config, opts ...Option) (*Recorder, *store.Store) {
	t.Helper()
	s, err := store.Open(store.BackendFile, t.TempDir(), store.Config{})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewRecorder(s, cfg, opts...), s
}

func input(user, action string) ActivityInput {
	return ActivityInput{
		Actor:    Actor{ID: user, Name: user, Role: "viewer"},
		Action:   action,
		Resource: "documents",
	}
}

func TestLogActivity_AssignsDefaults(t *testing.T) {
	r, _ := newTestRecorder(t, Config{})
	ctx := context.Background()

	id, err := r.LogActivity(ctx, input("alice", "read"))
	if err != nil {
		t.Fatalf("LogActivity: %v", err)
	}
	if id == "" {
		t.Fatal("expected an id")
	}

	got := r.GetRecentActivities(ctx, 10)
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	e := got[0]
	if e.ID != id {
		t.Errorf("ID = %q, want %q", e.ID, id)
	}
	if e.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
	if e.Severity != SeverityInfo {
		t.Errorf("Severity = %q, want info", e.Severity)
	}
	if e.DataClassification != risk.Internal {
		t.Errorf("DataClassification = %q, want internal", e.DataClassification)
	}
	if e.RiskLevel != risk.LevelLow {
		t.Errorf("RiskLevel = %q, want low", e.RiskLevel)
	}
	if e.ComplianceRelevant {
		t.Error("internal read should not be compliance relevant")
	}
}

func TestLogActivity_DeleteRestrictedIsCritical(t *testing.T) {
	r, _ := newTestRecorder(t, Config{})
	ctx := context.Background()

	in := input("bob", "delete")
	in.DataClassification = risk.Restricted
	if _, err := r.LogActivity(ctx, in); err != nil {
		t.Fatalf("LogActivity: %v", err)
	}

	e := r.GetRecentActivities(ctx, 1)[0]
	if e.RiskLevel != risk.LevelCritical {
		t.Errorf("RiskLevel = %q, want critical", e.RiskLevel)
	}
	if !e.ComplianceRelevant {
		t.Error("restricted delete should be compliance relevant")
	}
}

func TestLogActivity_ExplicitRiskOverridesClassifier(t *testing.T) {
	r, _ := newTestRecorder(t, Config{})
	ctx := context.Background()

	in := input("carol", "read")
	in.RiskLevel = risk.LevelHigh
	if _, err := r.LogActivity(ctx, in); err != nil {
		t.Fatalf("LogActivity: %v", err)
	}
	if got := r.GetRecentActivities(ctx, 1)[0].RiskLevel; got != risk.LevelHigh {
		t.Errorf("RiskLevel = %q, want high", got)
	}
}

func TestLogActivity_Validation(t *testing.T) {
	r, _ := newTestRecorder(t, Config{})
	ctx := context.Background()

	tests := []struct {
		name  string
		in    ActivityInput
		field string
	}{
		{"missing actor", ActivityInput{Action: "read", Resource: "documents"}, "id"},
		{"missing action", ActivityInput{Actor: Actor{ID: "a"}, Resource: "documents"}, "action"},
		{"missing resource", ActivityInput{Actor: Actor{ID: "a"}, Action: "read"}, "resource"},
		{"bad severity", ActivityInput{Actor: Actor{ID: "a"}, Action: "read", Resource: "x", Severity: "loud"}, "severity"},
		{"bad classification", ActivityInput{Actor: Actor{ID: "a"}, Action: "read", Resource: "x", DataClassification: "secret"}, "data_classification"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.LogActivity(ctx, tt.in)
			var verr *validation.RequestValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want *RequestValidationError", err)
			}
			found := false
			for _, f := range verr.Fields {
				if f.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("fields = %+v, want one for %q", verr.Fields, tt.field)
			}
		})
	}

	if n := len(r.GetRecentActivities(ctx, 0)); n != 0 {
		t.Errorf("invalid input persisted %d entries", n)
	}
}

func TestLogActivity_RunsEvaluatorOnPersistedEntry(t *testing.T) {
	ev := &recordingEvaluator{}
	r, _ := newTestRecorder(t, Config{}, WithEvaluator(ev))
	ctx := context.Background()

	id, err := r.LogActivity(ctx, input("dave", "export"))
	if err != nil {
		t.Fatalf("LogActivity: %v", err)
	}
	if len(ev.entries) != 1 {
		t.Fatalf("evaluator saw %d entries, want 1", len(ev.entries))
	}
	if ev.entries[0].ID != id {
		t.Errorf("evaluated entry %q, want %q", ev.entries[0].ID, id)
	}
	// The evaluator must be able to see the entry in history.
	if len(r.Activities(ctx)) != 1 {
		t.Error("entry not persisted before evaluation")
	}
}

func TestLogActivity_EvaluatorErrorIsSwallowed(t *testing.T) {
	ev := &recordingEvaluator{err: errors.New("dispatch failed")}
	r, _ := newTestRecorder(t, Config{}, WithEvaluator(ev))

	if _, err := r.LogActivity(context.Background(), input("erin", "read")); err != nil {
		t.Fatalf("LogActivity returned evaluator error: %v", err)
	}
}

func TestLogActivity_MaxEntriesEvictsOldest(t *testing.T) {
	clock := newFakeClock()
	r, _ := newTestRecorder(t, Config{MaxEntries: 3}, WithClock(clock.Now))
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := r.LogActivity(ctx, input("frank", "read"))
		if err != nil {
			t.Fatalf("LogActivity: %v", err)
		}
		ids = append(ids, id)
	}

	got := r.Activities(ctx)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, e := range got {
		if e.ID != ids[i+2] {
			t.Errorf("entry %d = %q, want %q", i, e.ID, ids[i+2])
		}
	}
}

func TestQueries_NewestFirst(t *testing.T) {
	clock := newFakeClock()
	r, _ := newTestRecorder(t, Config{}, WithClock(clock.Now))
	ctx := context.Background()

	seed := []struct {
		user     string
		severity Severity
	}{
		{"alice", SeverityInfo},
		{"bob", SeverityWarning},
		{"alice", SeverityError},
		{"alice", SeverityWarning},
		{"bob", SeverityCritical},
	}
	for _, s := range seed {
		in := input(s.user, "read")
		in.Severity = s.severity
		if _, err := r.LogActivity(ctx, in); err != nil {
			t.Fatalf("LogActivity: %v", err)
		}
	}

	t.Run("recent", func(t *testing.T) {
		got := r.GetRecentActivities(ctx, 2)
		if len(got) != 2 {
			t.Fatalf("len = %d, want 2", len(got))
		}
		if got[0].Severity != SeverityCritical || got[1].Severity != SeverityWarning {
			t.Errorf("got %s, %s", got[0].Severity, got[1].Severity)
		}
		if !got[0].Timestamp.After(got[1].Timestamp) {
			t.Error("not newest first")
		}
	})

	t.Run("by user", func(t *testing.T) {
		got := r.GetActivitiesByUser(ctx, "alice", 0)
		want := []Severity{SeverityWarning, SeverityError, SeverityInfo}
		if len(got) != len(want) {
			t.Fatalf("len = %d, want %d", len(got), len(want))
		}
		for i := range want {
			if got[i].Severity != want[i] {
				t.Errorf("[%d] = %s, want %s", i, got[i].Severity, want[i])
			}
		}
	})

	t.Run("by severity with limit after filter", func(t *testing.T) {
		got := r.GetActivitiesBySeverity(ctx, SeverityWarning, 1)
		if len(got) != 1 {
			t.Fatalf("len = %d, want 1", len(got))
		}
		if got[0].Actor.ID != "alice" {
			t.Errorf("newest warning by %q, want alice", got[0].Actor.ID)
		}
	})

	t.Run("no match", func(t *testing.T) {
		if got := r.GetActivitiesByUser(ctx, "nobody", 10); len(got) != 0 {
			t.Errorf("len = %d, want 0", len(got))
		}
	})
}

func TestLogActivity_ConcurrentWritersKeepEverything(t *testing.T) {
	r, _ := newTestRecorder(t, Config{})
	ctx := context.Background()

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.LogActivity(ctx, input("gina", "read")); err != nil {
				t.Errorf("LogActivity: %v", err)
			}
		}()
	}
	wg.Wait()

	got := r.Activities(ctx)
	if len(got) != writers {
		t.Fatalf("len = %d, want %d", len(got), writers)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.Before(got[i-1].Timestamp) {
			t.Errorf("entry %d out of timestamp order", i)
		}
	}
}

func TestSweep_RemovesExpired(t *testing.T) {
	clock := newFakeClock()
	r, _ := newTestRecorder(t, Config{RetentionDays: 30}, WithClock(clock.Now))
	ctx := context.Background()

	if _, err := r.LogActivity(ctx, input("hank", "read")); err != nil {
		t.Fatal(err)
	}
	clock.Advance(31 * 24 * time.Hour)
	if _, err := r.LogActivity(ctx, input("hank", "update")); err != nil {
		t.Fatal(err)
	}

	removed, err := r.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	got := r.Activities(ctx)
	if len(got) != 1 || got[0].Action != "update" {
		t.Errorf("remaining = %+v, want the update only", got)
	}
}

func TestSweep_DisabledWithoutRetention(t *testing.T) {
	r, _ := newTestRecorder(t, Config{})
	if _, err := r.LogActivity(context.Background(), input("ivy", "read")); err != nil {
		t.Fatal(err)
	}
	removed, err := r.Sweep(context.Background())
	if err != nil || removed != 0 {
		t.Errorf("Sweep = %d, %v; want 0, nil", removed, err)
	}
}

func TestRetentionService_SweepsOnStart(t *testing.T) {
	clock := newFakeClock()
	r, _ := newTestRecorder(t, Config{RetentionDays: 1, CleanupInterval: time.Hour}, WithClock(clock.Now))
	ctx := context.Background()

	if _, err := r.LogActivity(ctx, input("jack", "read")); err != nil {
		t.Fatal(err)
	}
	clock.Advance(48 * time.Hour)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- NewRetentionService(r).RunWithContext(runCtx) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(r.Activities(ctx)) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("expired entry was not swept")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("RunWithContext = %v, want context.Canceled", err)
	}
}
