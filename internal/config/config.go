// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

// Package config loads SitePulse configuration.
//
// Loading order (Koanf v2), later layers override earlier ones:
//  1. Defaults: built-in values from defaultConfig()
//  2. Config file: optional YAML (CONFIG_PATH or DefaultConfigPaths)
//  3. Environment variables: explicit mapping in envTransformFunc
//
//	cfg, err := config.Load()
//	if err != nil {
//	    logging.Fatal().Err(err).Msg("Failed to load configuration")
//	}
package config

import "time"

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Presence PresenceConfig `koanf:"presence"`
	Database DatabaseConfig `koanf:"database"`
	Journal  JournalConfig  `koanf:"journal"`
	Events   EventsConfig   `koanf:"events"`
	Audit    AuditConfig    `koanf:"audit"`
	Security SecurityConfig `koanf:"security"`
	Tracker  TrackerConfig  `koanf:"tracker"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	Host            string        `koanf:"host"`
	Timeout         time.Duration `koanf:"timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// PresenceConfig controls the live-session registry.
type PresenceConfig struct {
	// SweepInterval is how often idle sessions are looked for.
	SweepInterval time.Duration `koanf:"sweep_interval"`

	// InactivityThreshold is how long a session may go without any event
	// before the sweep closes it.
	InactivityThreshold time.Duration `koanf:"inactivity_threshold"`

	// HeartbeatInterval is advertised to clients through the tracker config endpoint.
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`

	// SweepBatch bounds how many sessions a single sweep tick may close per website.
	SweepBatch int `koanf:"sweep_batch"`

	// CloseTimeout bounds each fire-and-forget duration write.
	CloseTimeout time.Duration `koanf:"close_timeout"`
}

// DatabaseConfig selects and configures the durable visit store.
type DatabaseConfig struct {
	Driver       string `koanf:"driver"` // duckdb or postgres
	Path         string `koanf:"path"`
	DSN          string `koanf:"dsn"`
	Threads      int    `koanf:"threads"`
	MaxOpenConns int    `koanf:"max_open_conns"`
}

// JournalConfig controls the badger-backed journal of failed close writes.
type JournalConfig struct {
	Enabled       bool          `koanf:"enabled"`
	Path          string        `koanf:"path"`
	RetryInterval time.Duration `koanf:"retry_interval"`
	MaxRetries    int           `koanf:"max_retries"`
	BaseBackoff   time.Duration `koanf:"base_backoff"`
	EntryTTL      time.Duration `koanf:"entry_ttl"`
}

// EventsConfig controls domain event publishing.
type EventsConfig struct {
	NATSEnabled   bool   `koanf:"nats_enabled"`
	NATSURL       string `koanf:"nats_url"`
	JetStream     bool   `koanf:"jetstream"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// AuditConfig controls the trail of dashboard logins and website changes.
type AuditConfig struct {
	Enabled         bool          `koanf:"enabled"`
	RetentionDays   int           `koanf:"retention_days"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
	BufferSize      int           `koanf:"buffer_size"`
	LogToStdout     bool          `koanf:"log_to_stdout"`
}

// SecurityConfig holds authentication and request-limiting settings.
type SecurityConfig struct {
	JWTSecret         string        `koanf:"jwt_secret"`
	SessionTimeout    time.Duration `koanf:"session_timeout"`
	AdminUsername     string        `koanf:"admin_username"`
	AdminPassword     string        `koanf:"admin_password"`
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// TrackerConfig describes what the tracker config endpoint hands to clients.
type TrackerConfig struct {
	PublicURL       string        `koanf:"public_url"`
	SessionDuration time.Duration `koanf:"session_duration"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}
