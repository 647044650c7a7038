// Ledgerwatch - Activity Audit and Compliance Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ledgerwatch

package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tomtom215/ledgerwatch/internal/logging"
)

const (
	minRateLimitRequests = 1
	maxRateLimitRequests = 100000
	minRateLimitWindow   = time.Second
	maxRateLimitWindow   = time.Hour
	minJWTSecretLength   = 32
)

var validLogFormats = map[string]bool{"": true, "json": true, "console": true}

// Validate checks every section and returns the first problem found.
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateStore,
		c.validateAudit,
		c.validateAlerting,
		c.validateNotifier,
		c.validateServer,
		c.validateSecurity,
		c.validateLogging,
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Backend {
	case "file", "badger":
	default:
		return fmt.Errorf("store.backend must be file or badger, got %q", c.Store.Backend)
	}
	if c.Store.DataDir == "" {
		return fmt.Errorf("LEDGERWATCH_DATA_DIR is required")
	}
	if c.Store.LockTimeout < 0 {
		return fmt.Errorf("STORE_LOCK_TIMEOUT must not be negative")
	}
	return nil
}

func (c *Config) validateAudit() error {
	if c.Audit.MaxEntries < 0 {
		return fmt.Errorf("AUDIT_MAX_ENTRIES must not be negative")
	}
	if c.Audit.RetentionDays < 0 {
		return fmt.Errorf("AUDIT_RETENTION_DAYS must not be negative")
	}
	if c.Audit.RetentionDays > 0 && c.Audit.CleanupInterval < time.Minute {
		return fmt.Errorf("AUDIT_CLEANUP_INTERVAL must be at least 1m when retention is enabled")
	}
	return nil
}

func (c *Config) validateAlerting() error {
	if len(c.Alerting.AdminRoles) == 0 {
		return fmt.Errorf("ADMIN_ROLES must name at least one role")
	}
	if c.Alerting.QueueSize < 1 {
		return fmt.Errorf("NOTIFICATION_QUEUE_SIZE must be at least 1")
	}
	if c.Alerting.NotificationTTL < 0 {
		return fmt.Errorf("NOTIFICATION_TTL must not be negative")
	}
	seen := make(map[string]bool, len(c.Alerting.Users))
	for i, u := range c.Alerting.Users {
		if u.ID == "" || u.Role == "" {
			return fmt.Errorf("alerting.users[%d]: id and role are required", i)
		}
		if seen[u.ID] {
			return fmt.Errorf("alerting.users[%d]: duplicate id %q", i, u.ID)
		}
		seen[u.ID] = true
	}
	return nil
}

func (c *Config) validateNotifier() error {
	w := c.Notifier.Webhook
	if !w.Enabled() {
		return nil
	}
	u, err := url.Parse(w.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("NOTIFY_WEBHOOK_URL must be an absolute http(s) URL")
	}
	if w.RatePerSecond <= 0 {
		return fmt.Errorf("NOTIFY_WEBHOOK_RATE must be positive")
	}
	if w.FailureThreshold == 0 {
		return fmt.Errorf("NOTIFY_WEBHOOK_FAILURE_THRESHOLD must be at least 1")
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive")
	}
	return nil
}

func (c *Config) validateSecurity() error {
	switch c.Security.AuthMode {
	case "jwt":
		if err := c.validateJWTSecret(); err != nil {
			return err
		}
	case "none":
		if c.IsProduction() {
			return fmt.Errorf("AUTH_MODE=none is not allowed when ENVIRONMENT=production")
		}
	default:
		return fmt.Errorf("AUTH_MODE must be one of: none, jwt")
	}

	if c.Security.AuthMode != "none" && c.hasWildcardCORS() && c.IsProduction() {
		return fmt.Errorf("CORS_ORIGINS=* is not allowed in production with authentication enabled")
	}
	return c.validateRateLimits()
}

func (c *Config) validateJWTSecret() error {
	secret := c.Security.JWTSecret
	if secret == "" {
		return fmt.Errorf("JWT_SECRET is required when AUTH_MODE is jwt")
	}
	if len(secret) < minJWTSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters", minJWTSecretLength)
	}
	if containsPlaceholder(secret) {
		return fmt.Errorf("JWT_SECRET contains a placeholder value")
	}
	return nil
}

func (c *Config) validateRateLimits() error {
	if c.Security.RateLimitDisabled {
		return nil
	}
	if c.Security.RateLimitReqs < minRateLimitRequests || c.Security.RateLimitReqs > maxRateLimitRequests {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be between %d and %d", minRateLimitRequests, maxRateLimitRequests)
	}
	if c.Security.RateLimitWindow < minRateLimitWindow || c.Security.RateLimitWindow > maxRateLimitWindow {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be between %v and %v", minRateLimitWindow, maxRateLimitWindow)
	}
	return nil
}

func (c *Config) hasWildcardCORS() bool {
	for _, origin := range c.Security.CORSOrigins {
		if origin == "*" {
			return true
		}
	}
	return false
}

// ShouldWarnAboutCORS reports whether authenticated endpoints accept any
// origin.
func (c *Config) ShouldWarnAboutCORS() bool {
	return c.Security.AuthMode != "none" && c.hasWildcardCORS()
}

func (c *Config) validateLogging() error {
	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("LOG_LEVEL %q is not a valid level", c.Logging.Level)
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, console")
	}
	return nil
}

var placeholderPatterns = []string{"replace", "changeme", "change_me", "your_", "example", "placeholder"}

func containsPlaceholder(value string) bool {
	lower := strings.ToLower(value)
	for _, p := range placeholderPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
