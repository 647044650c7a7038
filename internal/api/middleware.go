// Ledgerwatch - Activity Audit and Compliance Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ledgerwatch

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/tomtom215/ledgerwatch/internal/audit"
	"github.com/tomtom215/ledgerwatch/internal/auth"
	"github.com/tomtom215/ledgerwatch/internal/logging"
	"github.com/tomtom215/ledgerwatch/internal/metrics"
)

// ChiMiddlewareConfig configures the CORS and rate limit factories.
type ChiMiddlewareConfig struct {
	CORSAllowedOrigins []string
	CORSAllowedMethods []string
	CORSAllowedHeaders []string
	CORSMaxAge         int // seconds

	RateLimitRequests int
	RateLimitWindow   time.Duration
	RateLimitDisabled bool
}

// DefaultChiMiddlewareConfig allows no cross-origin callers until origins
// are configured.
func DefaultChiMiddlewareConfig() *ChiMiddlewareConfig {
	return &ChiMiddlewareConfig{
		CORSAllowedOrigins: []string{},
		CORSAllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		CORSAllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
		CORSMaxAge:         86400,
		RateLimitRequests:  100,
		RateLimitWindow:    time.Minute,
	}
}

// ChiMiddleware builds chi-compatible middleware from one config.
type ChiMiddleware struct {
	config *ChiMiddlewareConfig
	cors   func(http.Handler) http.Handler
}

// NewChiMiddleware creates the factory. A nil config uses the defaults.
func NewChiMiddleware(config *ChiMiddlewareConfig) *ChiMiddleware {
	if config == nil {
		config = DefaultChiMiddlewareConfig()
	}
	return &ChiMiddleware{
		config: config,
		cors: cors.Handler(cors.Options{
			AllowedOrigins: config.CORSAllowedOrigins,
			AllowedMethods: config.CORSAllowedMethods,
			AllowedHeaders: config.CORSAllowedHeaders,
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         config.CORSMaxAge,
		}),
	}
}

// CORS returns the go-chi/cors handler.
func (m *ChiMiddleware) CORS() func(http.Handler) http.Handler {
	return m.cors
}

// RateLimit limits requests per client IP. It is a no-op when disabled.
func (m *ChiMiddleware) RateLimit() func(http.Handler) http.Handler {
	if m.config.RateLimitDisabled {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		m.config.RateLimitRequests,
		m.config.RateLimitWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			respondError(w, http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded", nil)
		}),
	)
}

// RequestIDWithLogging wraps chi's RequestID middleware and copies the
// request id into the logging context along with a fresh correlation id.
func RequestIDWithLogging() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		chiRequestID := chimiddleware.RequestID(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(chimiddleware.RequestIDHeader)
			if requestID == "" {
				requestID = logging.GenerateRequestID()
				r.Header.Set(chimiddleware.RequestIDHeader, requestID)
			}
			w.Header().Set(chimiddleware.RequestIDHeader, requestID)

			ctx := logging.ContextWithRequestID(r.Context(), requestID)
			ctx = logging.ContextWithCorrelationID(ctx, logging.GenerateCorrelationID())
			chiRequestID.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PrometheusMetrics records request counts and latency labeled by the
// matched route pattern, so path parameters do not explode cardinality.
func PrometheusMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RecordAPIRequest(r.Method, route, status, time.Since(start))
	})
}

// SecurityHeaders sets conservative browser headers on API responses.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// authenticate attaches the caller's actor to the request context. A
// request that presents a bad token is recorded as a failed login against
// the client address, so repeated attempts trip the failed-login rule.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return auth.Middleware(h.auth, h.onAuthFailure)(next)
}

func (h *Handler) onAuthFailure(w http.ResponseWriter, r *http.Request, err error) {
	if !errors.Is(err, auth.ErrNoCredentials) {
		origin := audit.OriginFromRequest(r)
		actorID := origin.IPAddress
		if actorID == "" {
			actorID = "anonymous"
		}
		_, logErr := h.recorder.LogRequest(r.Context(), r, audit.Actor{ID: actorID, Name: "anonymous"}, audit.RequestOverrides{
			Action:      "login_failed",
			Resource:    "authentication",
			Description: "rejected credentials: " + err.Error(),
			Severity:    audit.SeverityWarning,
			StatusCode:  http.StatusUnauthorized,
		})
		if logErr != nil {
			logging.Ctx(r.Context()).Error().Err(logErr).Msg("Failed to record rejected credentials")
		}
	}
	respondError(w, http.StatusUnauthorized, CodeUnauthorized, "authentication required", nil)
}

// authorize rejects callers whose role may not perform action on object.
func (h *Handler) authorize(object, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := auth.ActorFromContext(r.Context())
			if !ok {
				respondError(w, http.StatusUnauthorized, CodeUnauthorized, "authentication required", nil)
				return
			}
			allowed, err := h.enforcer.Allowed(actor.Role, object, action)
			if err != nil {
				respondError(w, http.StatusInternalServerError, CodeInternal, "authorization failed", err)
				return
			}
			if !allowed {
				logging.Ctx(r.Context()).Warn().
					Str("role", actor.Role).
					Str("object", object).
					Str("action", action).
					Msg("Access denied")
				respondError(w, http.StatusForbidden, CodeForbidden, "insufficient permissions", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type auditNoteKey struct{}

// noteAudit lets a handler refine what the request audit middleware
// records for the current request.
func noteAudit(ctx context.Context, fn func(*audit.RequestOverrides)) {
	if o, ok := ctx.Value(auditNoteKey{}).(*audit.RequestOverrides); ok {
		fn(o)
	}
}

// skipAudit marks requests that record their own activity.
func skipAudit(ctx context.Context) {
	noteAudit(ctx, func(o *audit.RequestOverrides) { o.Action = skipAction })
}

const skipAction = "-"

// RequestAudit records every mutating request as an activity once the
// handler has run, including rejected ones. Read requests pass through.
func (h *Handler) RequestAudit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isMutating(r.Method) {
			next.ServeHTTP(w, r)
			return
		}

		overrides := &audit.RequestOverrides{}
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), auditNoteKey{}, overrides)))

		if overrides.Action == skipAction {
			return
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		overrides.StatusCode = status
		if overrides.ResourceID == "" {
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				overrides.ResourceID = rctx.URLParam("id")
			}
		}
		if status == http.StatusForbidden {
			overrides.Action = "access_denied"
			overrides.Severity = audit.SeverityWarning
		}

		actor, ok := auth.ActorFromContext(r.Context())
		if !ok {
			return
		}
		if _, err := h.recorder.LogRequest(r.Context(), r, actor, *overrides); err != nil {
			logging.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("Failed to record request activity")
		}
	})
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
