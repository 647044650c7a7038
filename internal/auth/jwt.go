// Ledgerwatch - Activity Audit and Compliance Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ledgerwatch

// Package auth turns bearer tokens into the actor recorded on activity
// entries.
//
// Tokens are HS256 JWTs whose subject is the actor id. Issuing tokens for
// end users is left to an external identity provider; GenerateToken exists
// for service accounts and tests.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/ledgerwatch/internal/audit"
	"github.com/tomtom215/ledgerwatch/internal/config"
)

var (
	// ErrNoCredentials is returned when a request carries no token.
	ErrNoCredentials = errors.New("auth: no credentials")

	// ErrInvalidCredentials is returned for malformed, tampered, or
	// wrongly signed tokens.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrExpiredCredentials is returned for expired tokens.
	ErrExpiredCredentials = errors.New("auth: credentials expired")
)

// Claims are the token claims. RegisteredClaims.Subject is the actor id.
type Claims struct {
	Name string `json:"name,omitempty"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Actor returns the actor the claims describe.
func (c *Claims) Actor() audit.Actor {
	return audit.Actor{ID: c.Subject, Name: c.Name, Role: c.Role}
}

// JWTManager signs and validates tokens.
type JWTManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTManager creates a manager from the security configuration.
func NewJWTManager(cfg *config.SecurityConfig) (*JWTManager, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required but was empty")
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JWTManager{
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.JWTIssuer,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// GenerateToken signs a token for actor valid for the configured TTL.
func (m *JWTManager) GenerateToken(actor audit.Actor) (string, error) {
	if actor.ID == "" {
		return "", fmt.Errorf("actor id is required")
	}
	now := m.now()
	claims := &Claims{
		Name: actor.Name,
		Role: actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			Issuer:    m.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken checks signature, algorithm, expiry and issuer, and
// requires a subject.
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrExpiredCredentials, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidCredentials)
	}
	return claims, nil
}
