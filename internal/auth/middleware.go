// Ledgerwatch - Activity Audit and Compliance Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ledgerwatch

package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/tomtom215/ledgerwatch/internal/audit"
	"github.com/tomtom215/ledgerwatch/internal/logging"
)

type contextKey string

const actorContextKey contextKey = "actor"

// TokenCookie is read when no Authorization header is present. Browsers
// cannot set headers on websocket upgrades.
const TokenCookie = "ledgerwatch_token"

// ContextWithActor attaches actor to ctx, including its id for logging.
func ContextWithActor(ctx context.Context, actor audit.Actor) context.Context {
	ctx = context.WithValue(ctx, actorContextKey, actor)
	return logging.ContextWithActorID(ctx, actor.ID)
}

// ActorFromContext returns the authenticated actor.
func ActorFromContext(ctx context.Context) (audit.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey).(audit.Actor)
	return actor, ok
}

// Authenticate validates the request token and returns its actor.
func (m *JWTManager) Authenticate(r *http.Request) (audit.Actor, error) {
	token := extractToken(r)
	if token == "" {
		return audit.Actor{}, ErrNoCredentials
	}
	claims, err := m.ValidateToken(token)
	if err != nil {
		return audit.Actor{}, err
	}
	return claims.Actor(), nil
}

func extractToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			if token := strings.TrimSpace(parts[1]); token != "" {
				return token
			}
		}
	}
	if cookie, err := r.Cookie(TokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return ""
}

// Authenticator resolves the actor of a request.
type Authenticator interface {
	Authenticate(r *http.Request) (audit.Actor, error)
}

// NoAuth treats every request as the system actor.
type NoAuth struct{}

// Authenticate implements Authenticator.
func (NoAuth) Authenticate(*http.Request) (audit.Actor, error) {
	return audit.SystemActor(), nil
}

// Middleware attaches the authenticated actor to the request context. onFail
// writes the response for requests that do not authenticate.
func Middleware(a Authenticator, onFail func(w http.ResponseWriter, r *http.Request, err error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := a.Authenticate(r)
			if err != nil {
				logging.Ctx(r.Context()).Debug().Err(err).Str("path", r.URL.Path).Msg("Authentication failed")
				onFail(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithActor(r.Context(), actor)))
		})
	}
}
