// Ledgerwatch - Activity Audit and Compliance Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ledgerwatch

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/ledgerwatch/config.yaml",
	"/etc/ledgerwatch/config.yml",
}

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Backend:     "file",
			DataDir:     "/data/ledgerwatch",
			LockTimeout: 10 * time.Second,
		},
		Audit: AuditConfig{
			MaxEntries:      10000,
			RetentionDays:   90,
			CleanupInterval: 24 * time.Hour,
		},
		Detection: DetectionConfig{
			SeedDefaults: true,
		},
		Alerting: AlertingConfig{
			AdminRoles:      []string{"admin"},
			NotificationTTL: 30 * 24 * time.Hour,
			QueueSize:       256,
		},
		Notifier: NotifierConfig{
			LogEnabled: true,
			Webhook: WebhookConfig{
				Timeout:          10 * time.Second,
				RatePerSecond:    2,
				Burst:            1,
				FailureThreshold: 5,
				OpenTimeout:      time.Minute,
			},
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8417,
			Timeout:         30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			Environment:     "development",
		},
		Security: SecurityConfig{
			AuthMode:        "jwt",
			JWTIssuer:       "ledgerwatch",
			TokenTTL:        24 * time.Hour,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadWithKoanf loads defaults, then the optional config file, then the
// environment, and validates the result.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// findConfigFile returns CONFIG_PATH when it exists, else the first existing
// default path, else "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are split on commas when set from the environment.
var sliceConfigPaths = []string{
	"alerting.admin_roles",
	"security.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) == 0 {
			continue
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps lower-cased environment variable names to config paths.
// Unlisted variables are ignored.
var envMappings = map[string]string{
	// Store
	"ledgerwatch_store_backend": "store.backend",
	"ledgerwatch_data_dir":      "store.data_dir",
	"store_lock_timeout":        "store.lock_timeout",

	// Audit
	"audit_max_entries":      "audit.max_entries",
	"audit_retention_days":   "audit.retention_days",
	"audit_cleanup_interval": "audit.cleanup_interval",

	// Detection
	"seed_default_rules": "detection.seed_defaults",

	// Alerting
	"admin_roles":             "alerting.admin_roles",
	"notification_ttl":        "alerting.notification_ttl",
	"notification_queue_size": "alerting.queue_size",

	// Notifier
	"notify_log_enabled":                "notifier.log_enabled",
	"notify_webhook_url":                "notifier.webhook.url",
	"notify_webhook_timeout":            "notifier.webhook.timeout",
	"notify_webhook_rate":               "notifier.webhook.rate_per_second",
	"notify_webhook_burst":              "notifier.webhook.burst",
	"notify_webhook_failure_threshold":  "notifier.webhook.failure_threshold",
	"notify_webhook_breaker_open_after": "notifier.webhook.open_timeout",

	// Server
	"http_host":             "server.host",
	"http_port":             "server.port",
	"http_timeout":          "server.timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",
	"environment":           "server.environment",

	// Security
	"auth_mode":           "security.auth_mode",
	"jwt_secret":          "security.jwt_secret",
	"jwt_issuer":          "security.jwt_issuer",
	"jwt_token_ttl":       "security.token_ttl",
	"rate_limit_requests": "security.rate_limit_reqs",
	"rate_limit_window":   "security.rate_limit_window",
	"disable_rate_limit":  "security.rate_limit_disabled",
	"cors_origins":        "security.cors_origins",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc maps an environment variable name to its config path,
// for example LEDGERWATCH_DATA_DIR -> store.data_dir. Unknown names map to
// "" and are skipped.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
