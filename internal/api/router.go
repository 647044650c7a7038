// Ledgerwatch - Activity Audit and Compliance Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ledgerwatch

// Package api exposes the audit trail, alerts, rules and notifications over
// HTTP with chi.
//
// Every /api/v1 route is authenticated and authorized per object:
//
//	POST /activities               activities:write
//	GET  /activities               activities:read
//	GET  /alerts, /alerts/{id}     alerts:read
//	POST /alerts/{id}/transition   alerts:write
//	GET  /rules, /rules/{id}       rules:read
//	PUT  /rules/{id}               rules:write
//	GET  /notifications            notifications:read
//	POST /notifications/{id}/read  notifications:write
//	GET  /ws                       live:read
//
// Mutating requests are themselves recorded as activities.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/ledgerwatch/internal/alerting"
	"github.com/tomtom215/ledgerwatch/internal/audit"
	"github.com/tomtom215/ledgerwatch/internal/auth"
	"github.com/tomtom215/ledgerwatch/internal/authz"
	"github.com/tomtom215/ledgerwatch/internal/config"
	"github.com/tomtom215/ledgerwatch/internal/detection"
	"github.com/tomtom215/ledgerwatch/internal/store"
	"github.com/tomtom215/ledgerwatch/internal/websocket"
)

// Dependencies are the services the handlers call.
type Dependencies struct {
	Store         *store.Store
	Recorder      *audit.Recorder
	Dispatcher    *alerting.Dispatcher
	Evaluator     *detection.Evaluator
	Hub           *websocket.Hub
	Enforcer      *authz.Enforcer
	Authenticator auth.Authenticator
}

// Handler serves the API routes.
type Handler struct {
	store      *store.Store
	recorder   *audit.Recorder
	dispatcher *alerting.Dispatcher
	evaluator  *detection.Evaluator
	hub        *websocket.Hub
	enforcer   *authz.Enforcer
	auth       auth.Authenticator
	startTime  time.Time
}

// NewHandler creates a handler over deps.
func NewHandler(deps Dependencies) *Handler {
	return &Handler{
		store:      deps.Store,
		recorder:   deps.Recorder,
		dispatcher: deps.Dispatcher,
		evaluator:  deps.Evaluator,
		hub:        deps.Hub,
		enforcer:   deps.Enforcer,
		auth:       deps.Authenticator,
		startTime:  time.Now(),
	}
}

// Router assembles middleware and routes.
type Router struct {
	handler    *Handler
	middleware *ChiMiddleware
	origins    []string
}

// NewRouter creates a router using the security section of cfg.
func NewRouter(handler *Handler, cfg *config.SecurityConfig) *Router {
	mwConfig := DefaultChiMiddlewareConfig()
	mwConfig.CORSAllowedOrigins = cfg.CORSOrigins
	mwConfig.RateLimitRequests = cfg.RateLimitReqs
	mwConfig.RateLimitWindow = cfg.RateLimitWindow
	mwConfig.RateLimitDisabled = cfg.RateLimitDisabled

	return &Router{
		handler:    handler,
		middleware: NewChiMiddleware(mwConfig),
		origins:    cfg.CORSOrigins,
	}
}

// SetupChi builds the HTTP handler.
func (router *Router) SetupChi() http.Handler {
	h := router.handler
	r := chi.NewRouter()

	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.middleware.CORS())
	r.Use(PrometheusMetrics)

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(router.middleware.RateLimit())
		r.Use(SecurityHeaders)
		r.Use(h.authenticate)
		r.Use(h.RequestAudit)

		r.Get("/me", h.Me)

		r.With(h.authorize(authz.ObjectActivities, authz.ActionWrite)).Post("/activities", h.CreateActivity)
		r.With(h.authorize(authz.ObjectActivities, authz.ActionRead)).Get("/activities", h.ListActivities)

		r.Route("/alerts", func(r chi.Router) {
			r.With(h.authorize(authz.ObjectAlerts, authz.ActionRead)).Get("/", h.ListAlerts)
			r.With(h.authorize(authz.ObjectAlerts, authz.ActionRead)).Get("/{id}", h.GetAlert)
			r.With(h.authorize(authz.ObjectAlerts, authz.ActionWrite)).Post("/{id}/transition", h.TransitionAlert)
		})

		r.Route("/rules", func(r chi.Router) {
			r.With(h.authorize(authz.ObjectRules, authz.ActionRead)).Get("/", h.ListRules)
			r.With(h.authorize(authz.ObjectRules, authz.ActionRead)).Get("/{id}", h.GetRule)
			r.With(h.authorize(authz.ObjectRules, authz.ActionWrite)).Put("/{id}", h.UpdateRule)
		})

		r.Route("/notifications", func(r chi.Router) {
			r.With(h.authorize(authz.ObjectNotifications, authz.ActionRead)).Get("/", h.ListNotifications)
			r.With(h.authorize(authz.ObjectNotifications, authz.ActionWrite)).Post("/{id}/read", h.MarkNotificationRead)
		})

		r.With(h.authorize(authz.ObjectLive, authz.ActionRead)).Get("/ws", router.liveHandler())
	})

	return r
}

func (router *Router) liveHandler() http.HandlerFunc {
	return websocket.Handler(router.handler.hub, websocket.Upgrader(router.origins), func(r *http.Request) string {
		actor, _ := auth.ActorFromContext(r.Context())
		return actor.ID
	})
}
