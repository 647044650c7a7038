// Ledgerwatch - Activity Audit and Compliance Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ledgerwatch

package services

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/ledgerwatch/internal/alerting"
	"github.com/tomtom215/ledgerwatch/internal/logging"
)

//nolint:gochecknoinits // keep test output quiet
func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

var (
	_ suture.Service = (*HTTPServerService)(nil)
	_ suture.Service = (*RunnerService)(nil)
	_ suture.Service = (*HubService)(nil)
)

type mockHTTPServer struct {
	listenErr     error
	shutdownErr   error
	shutdownCount atomic.Int32
	started       chan struct{}
	stopCh        chan struct{}
}

func newMockHTTPServer() *mockHTTPServer {
	return &mockHTTPServer{started: make(chan struct{}, 1), stopCh: make(chan struct{})}
}

func (m *mockHTTPServer) ListenAndServe() error {
	m.started <- struct{}{}
	if m.listenErr != nil {
		return m.listenErr
	}
	<-m.stopCh
	return http.ErrServerClosed
}

func (m *mockHTTPServer) Shutdown(context.Context) error {
	m.shutdownCount.Add(1)
	close(m.stopCh)
	return m.shutdownErr
}

func TestHTTPServerService(t *testing.T) {
	t.Run("graceful shutdown", func(t *testing.T) {
		server := newMockHTTPServer()
		svc := NewHTTPServerService(server, time.Second)
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan error, 1)
		go func() { done <- svc.Serve(ctx) }()
		<-server.started
		cancel()

		if err := <-done; !errors.Is(err, context.Canceled) {
			t.Errorf("Serve = %v, want context.Canceled", err)
		}
		if server.shutdownCount.Load() != 1 {
			t.Errorf("Shutdown called %d times", server.shutdownCount.Load())
		}
	})

	t.Run("listen failure", func(t *testing.T) {
		server := newMockHTTPServer()
		server.listenErr = errors.New("address in use")
		err := NewHTTPServerService(server, time.Second).Serve(context.Background())
		if err == nil || !errors.Is(err, server.listenErr) {
			t.Errorf("Serve = %v", err)
		}
	})

	t.Run("shutdown failure", func(t *testing.T) {
		server := newMockHTTPServer()
		server.shutdownErr = errors.New("connections still open")
		svc := NewHTTPServerService(server, time.Second)
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan error, 1)
		go func() { done <- svc.Serve(ctx) }()
		<-server.started
		cancel()
		if err := <-done; !errors.Is(err, server.shutdownErr) {
			t.Errorf("Serve = %v", err)
		}
	})

	t.Run("default timeout", func(t *testing.T) {
		svc := NewHTTPServerService(newMockHTTPServer(), 0)
		if svc.shutdownTimeout != 10*time.Second || svc.String() != "http-server" {
			t.Errorf("svc = %+v", svc)
		}
	})
}

type runnerFunc func(ctx context.Context) error

func (f runnerFunc) RunWithContext(ctx context.Context) error { return f(ctx) }

func TestRunnerService(t *testing.T) {
	ran := make(chan struct{})
	svc := NewRetentionService(runnerFunc(func(ctx context.Context) error {
		close(ran)
		<-ctx.Done()
		return ctx.Err()
	}))
	if svc.String() != "activity-retention" {
		t.Errorf("String() = %q", svc.String())
	}
	if NewSinkWorkerService(nil).String() != "notification-sinks" {
		t.Error("sink worker name")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()
	<-ran
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve = %v", err)
	}
}

type fakeHub struct{}

func (fakeHub) OnAlert(context.Context, *alerting.Alert) error { return nil }

func (fakeHub) RunWithContext(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

type fakeSource struct {
	mu     sync.Mutex
	next   int
	active map[string]bool
	total  int
}

func (f *fakeSource) Subscribe(alerting.Listener) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.total++
	id := string(rune('a' + f.next))
	f.active[id] = true
	return id
}

func (f *fakeSource) Subscribed(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[id]
}

func (f *fakeSource) Unsubscribe(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	ok := f.active[id]
	delete(f.active, id)
	return ok
}

func (f *fakeSource) drop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = map[string]bool{}
}

func (f *fakeSource) counts() (active, total int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.active), f.total
}

func TestHubService_Resubscribes(t *testing.T) {
	source := &fakeSource{active: map[string]bool{}}
	svc := NewHubService(fakeHub{}, source, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	waitFor(t, func() bool { a, _ := source.counts(); return a == 1 })
	source.drop()
	waitFor(t, func() bool { a, total := source.counts(); return a == 1 && total == 2 })

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve = %v", err)
	}
	if active, _ := source.counts(); active != 0 {
		t.Errorf("subscription left behind after stop: %d", active)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
