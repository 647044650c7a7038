// Ledgerwatch - Activity Audit and Compliance Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ledgerwatch

/*
Package config loads Ledgerwatch configuration.

Values are layered with koanf, later layers overriding earlier ones:

 1. Built-in defaults (defaultConfig)
 2. An optional YAML file: CONFIG_PATH, or the first of DefaultConfigPaths
 3. Environment variables listed in envTransformFunc

Slice fields accept comma-separated environment values, for example
ADMIN_ROLES=admin,security.

# Example

	store:
	  backend: badger
	  data_dir: /var/lib/ledgerwatch
	  lock_timeout: 5s
	audit:
	  max_entries: 10000
	  retention_days: 90
	alerting:
	  admin_roles: [admin, security]
	  users:
	    - {id: u1, name: Ada, role: admin, email: ada@example.com}
	notifier:
	  webhook:
	    url: https://hooks.example.com/ledgerwatch
	    headers: {Authorization: "Bearer hook-token"}
*/
package config

import (
	"net"
	"strconv"
	"strings"
	"time"
)

// Config is the complete application configuration.
type Config struct {
	Store     StoreConfig     `koanf:"store"`
	Audit     AuditConfig     `koanf:"audit"`
	Detection DetectionConfig `koanf:"detection"`
	Alerting  AlertingConfig  `koanf:"alerting"`
	Notifier  NotifierConfig  `koanf:"notifier"`
	Server    ServerConfig    `koanf:"server"`
	Security  SecurityConfig  `koanf:"security"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// StoreConfig selects the collection backend.
type StoreConfig struct {
	// Backend is "file" (one JSON document per collection) or "badger".
	Backend     string        `koanf:"backend"`
	DataDir     string        `koanf:"data_dir"`
	LockTimeout time.Duration `koanf:"lock_timeout"`
}

// AuditConfig bounds the activity log.
type AuditConfig struct {
	MaxEntries      int           `koanf:"max_entries"`
	RetentionDays   int           `koanf:"retention_days"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
}

// DetectionConfig controls rule evaluation.
type DetectionConfig struct {
	// SeedDefaults writes the built-in rules when no rules are stored.
	SeedDefaults bool `koanf:"seed_defaults"`
}

// AlertingConfig controls alert fan-out.
type AlertingConfig struct {
	AdminRoles      []string      `koanf:"admin_roles"`
	NotificationTTL time.Duration `koanf:"notification_ttl"`
	QueueSize       int           `koanf:"queue_size"`

	// Users are upserted into the user directory at startup.
	Users []UserConfig `koanf:"users"`
}

// UserConfig is a user directory record.
type UserConfig struct {
	ID    string `koanf:"id"`
	Name  string `koanf:"name"`
	Email string `koanf:"email"`
	Role  string `koanf:"role"`
}

// NotifierConfig selects the notification sinks.
type NotifierConfig struct {
	LogEnabled bool          `koanf:"log_enabled"`
	Webhook    WebhookConfig `koanf:"webhook"`
}

// WebhookConfig configures the HTTP webhook sink. An empty URL disables it.
type WebhookConfig struct {
	URL              string            `koanf:"url"`
	Headers          map[string]string `koanf:"headers"`
	Timeout          time.Duration     `koanf:"timeout"`
	RatePerSecond    float64           `koanf:"rate_per_second"`
	Burst            int               `koanf:"burst"`
	FailureThreshold uint32            `koanf:"failure_threshold"`
	OpenTimeout      time.Duration     `koanf:"open_timeout"`
}

// Enabled reports whether a webhook URL is configured.
func (w WebhookConfig) Enabled() bool {
	return w.URL != ""
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Timeout         time.Duration `koanf:"timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	Environment     string        `koanf:"environment"`
}

// SecurityConfig configures authentication and request limits.
type SecurityConfig struct {
	// AuthMode is "jwt" or "none". With "none" every request acts as the
	// system actor, which is only allowed outside production.
	AuthMode          string        `koanf:"auth_mode"`
	JWTSecret         string        `koanf:"jwt_secret"`
	JWTIssuer         string        `koanf:"jwt_issuer"`
	TokenTTL          time.Duration `koanf:"token_ttl"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`
}

// LoggingConfig configures zerolog.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Address returns the listen address.
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Server.Environment)
	return env == "production" || env == "prod"
}
