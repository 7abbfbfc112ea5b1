// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

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

// DefaultConfigPaths lists config file locations in priority order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/sitepulse/config.yaml",
	"/etc/sitepulse/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            3001,
			Host:            "0.0.0.0",
			Timeout:         30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Presence: PresenceConfig{
			SweepInterval:       60 * time.Second,
			InactivityThreshold: 5 * time.Minute,
			HeartbeatInterval:   30 * time.Second,
			SweepBatch:          500,
			CloseTimeout:        5 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:       "duckdb",
			Path:         "/data/sitepulse.duckdb",
			Threads:      0,
			MaxOpenConns: 10,
		},
		Journal: JournalConfig{
			Enabled:       true,
			Path:          "/data/journal",
			RetryInterval: 30 * time.Second,
			MaxRetries:    100,
			BaseBackoff:   5 * time.Second,
			EntryTTL:      7 * 24 * time.Hour,
		},
		Events: EventsConfig{
			NATSEnabled:   false,
			NATSURL:       "nats://127.0.0.1:4222",
			JetStream:     true,
			SubjectPrefix: "sitepulse",
		},
		Audit: AuditConfig{
			Enabled:         true,
			RetentionDays:   90,
			CleanupInterval: 24 * time.Hour,
			BufferSize:      1000,
		},
		Security: SecurityConfig{
			SessionTimeout:  24 * time.Hour,
			AdminUsername:   "admin",
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   120,
			RateLimitWindow: time.Minute,
		},
		Tracker: TrackerConfig{
			PublicURL:       "http://localhost:3001",
			SessionDuration: time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from defaults, an optional YAML file, and the
// environment (ENV > file > defaults), then validates it.
func Load() (*Config, error) {
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

var sliceConfigPaths = []string{
	"security.cors_origins",
}

// processSliceFields splits comma-separated env values for slice fields.
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
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envMappings maps environment variable names (lowercased) to koanf paths.
// Unmapped variables are ignored.
var envMappings = map[string]string{
	"http_host":                     "server.host",
	"http_port":                     "server.port",
	"http_timeout":                  "server.timeout",
	"shutdown_timeout":              "server.shutdown_timeout",
	"presence_sweep_interval":       "presence.sweep_interval",
	"presence_inactivity_threshold": "presence.inactivity_threshold",
	"presence_heartbeat_interval":   "presence.heartbeat_interval",
	"presence_sweep_batch":          "presence.sweep_batch",
	"presence_close_timeout":        "presence.close_timeout",
	"db_driver":                     "database.driver",
	"duckdb_path":                   "database.path",
	"duckdb_threads":                "database.threads",
	"database_url":                  "database.dsn",
	"db_max_open_conns":             "database.max_open_conns",
	"journal_enabled":               "journal.enabled",
	"journal_path":                  "journal.path",
	"journal_retry_interval":        "journal.retry_interval",
	"journal_max_retries":           "journal.max_retries",
	"journal_base_backoff":          "journal.base_backoff",
	"journal_entry_ttl":             "journal.entry_ttl",
	"nats_enabled":                  "events.nats_enabled",
	"nats_url":                      "events.nats_url",
	"nats_jetstream":                "events.jetstream",
	"events_subject_prefix":         "events.subject_prefix",
	"audit_enabled":                 "audit.enabled",
	"audit_retention_days":          "audit.retention_days",
	"audit_cleanup_interval":        "audit.cleanup_interval",
	"audit_buffer_size":             "audit.buffer_size",
	"audit_log_to_stdout":           "audit.log_to_stdout",
	"jwt_secret":                    "security.jwt_secret",
	"session_timeout":               "security.session_timeout",
	"admin_username":                "security.admin_username",
	"admin_password":                "security.admin_password",
	"cors_origins":                  "security.cors_origins",
	"rate_limit_requests":           "security.rate_limit_reqs",
	"rate_limit_window":             "security.rate_limit_window",
	"disable_rate_limit":            "security.rate_limit_disabled",
	"tracker_public_url":            "tracker.public_url",
	"tracker_session_duration":      "tracker.session_duration",
	"log_level":                     "logging.level",
	"log_format":                    "logging.format",
	"log_caller":                    "logging.caller",
}

// envTransformFunc maps environment names to config paths, e.g.
// PRESENCE_SWEEP_INTERVAL -> presence.sweep_interval and DATABASE_URL -> database.dsn.
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
