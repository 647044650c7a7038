// Ledgerwatch - Activity Audit and Compliance Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ledgerwatch

package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tomtom215/ledgerwatch/internal/alerting"
	"github.com/tomtom215/ledgerwatch/internal/api"
	"github.com/tomtom215/ledgerwatch/internal/audit"
	"github.com/tomtom215/ledgerwatch/internal/auth"
	"github.com/tomtom215/ledgerwatch/internal/authz"
	"github.com/tomtom215/ledgerwatch/internal/config"
	"github.com/tomtom215/ledgerwatch/internal/detection"
	"github.com/tomtom215/ledgerwatch/internal/logging"
	"github.com/tomtom215/ledgerwatch/internal/store"
	"github.com/tomtom215/ledgerwatch/internal/supervisor"
	"github.com/tomtom215/ledgerwatch/internal/supervisor/services"
	"github.com/tomtom215/ledgerwatch/internal/websocket"
)

// app holds the wired components of one server process.
type app struct {
	cfg        *config.Config
	store      *store.Store
	recorder   *audit.Recorder
	dispatcher *alerting.Dispatcher
	evaluator  *detection.Evaluator
	hub        *websocket.Hub
	handler    http.Handler
}

// newApp opens the store and wires every component. The caller must call
// close.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	s, err := store.Open(cfg.Store.Backend, cfg.Store.DataDir, store.Config{LockTimeout: cfg.Store.LockTimeout})
	if err != nil {
		return nil, fmt.Errorf("open %s store at %s: %w", cfg.Store.Backend, cfg.Store.DataDir, err)
	}
	a := &app{cfg: cfg, store: s}

	if err := a.wire(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	a.recorder = audit.NewRecorder(a.store, audit.Config{
		MaxEntries:      cfg.Audit.MaxEntries,
		RetentionDays:   cfg.Audit.RetentionDays,
		CleanupInterval: cfg.Audit.CleanupInterval,
	})
	a.dispatcher = alerting.NewDispatcher(a.store, alerting.Config{
		AdminRoles:      cfg.Alerting.AdminRoles,
		NotificationTTL: cfg.Alerting.NotificationTTL,
		QueueSize:       cfg.Alerting.QueueSize,
	}, alerting.WithSinks(buildSinks(&cfg.Notifier)...))
	a.evaluator = detection.NewEvaluator(a.store, a.recorder, a.dispatcher)
	a.recorder.SetEvaluator(a.evaluator)

	if cfg.Detection.SeedDefaults {
		seeded, err := a.evaluator.SeedDefaults(ctx)
		if err != nil {
			return err
		}
		if seeded > 0 {
			logging.Info().Int("rules", seeded).Msg("Seeded default alert rules")
		}
	}

	if len(cfg.Alerting.Users) > 0 {
		users := make([]alerting.User, len(cfg.Alerting.Users))
		for i, u := range cfg.Alerting.Users {
			users[i] = alerting.User{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role}
		}
		if _, err := a.dispatcher.UpsertUsers(ctx, users); err != nil {
			return fmt.Errorf("seed user directory: %w", err)
		}
	}

	enforcer, err := authz.NewEnforcer(cfg.Alerting.AdminRoles)
	if err != nil {
		return fmt.Errorf("build authorization policy: %w", err)
	}
	authenticator, err := newAuthenticator(&cfg.Security)
	if err != nil {
		return err
	}

	a.hub = websocket.NewHub()
	handler := api.NewHandler(api.Dependencies{
		Store:         a.store,
		Recorder:      a.recorder,
		Dispatcher:    a.dispatcher,
		Evaluator:     a.evaluator,
		Hub:           a.hub,
		Enforcer:      enforcer,
		Authenticator: authenticator,
	})
	a.handler = api.NewRouter(handler, &cfg.Security).SetupChi()
	return nil
}

func buildSinks(cfg *config.NotifierConfig) []alerting.Sink {
	var sinks []alerting.Sink
	if cfg.LogEnabled {
		sinks = append(sinks, alerting.LogSink{})
	}
	if w := cfg.Webhook; w.Enabled() {
		sinks = append(sinks, alerting.NewWebhookSink(alerting.WebhookConfig{
			URL:              w.URL,
			Headers:          w.Headers,
			Timeout:          w.Timeout,
			RatePerSecond:    w.RatePerSecond,
			Burst:            w.Burst,
			FailureThreshold: w.FailureThreshold,
			OpenTimeout:      w.OpenTimeout,
		}))
		logging.Info().Str("url", w.URL).Msg("Webhook notification sink enabled")
	}
	return sinks
}

func newAuthenticator(cfg *config.SecurityConfig) (auth.Authenticator, error) {
	if cfg.AuthMode == "none" {
		logging.Warn().Msg("Authentication is DISABLED (AUTH_MODE=none); every request acts as the system actor")
		return auth.NoAuth{}, nil
	}
	m, err := auth.NewJWTManager(cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize JWT authentication: %w", err)
	}
	return m, nil
}

// tree assembles the supervisor tree around the wired components.
func (a *app) tree() *supervisor.Tree {
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: a.cfg.Server.ShutdownTimeout,
	})

	tree.AddDataService(services.NewRetentionService(audit.NewRetentionService(a.recorder)))
	tree.AddMessagingService(services.NewHubService(a.hub, a.dispatcher, 0))
	tree.AddMessagingService(services.NewSinkWorkerService(a.dispatcher))

	server := &http.Server{
		Addr:              a.cfg.Server.Address(),
		Handler:           a.handler,
		ReadHeaderTimeout: a.cfg.Server.Timeout,
		ReadTimeout:       a.cfg.Server.Timeout,
		WriteTimeout:      a.cfg.Server.Timeout,
		IdleTimeout:       2 * a.cfg.Server.Timeout,
	}
	tree.AddAPIService(services.NewHTTPServerService(server, a.cfg.Server.ShutdownTimeout))
	return tree
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		logging.Error().Err(err).Msg("Error closing store")
	}
}
