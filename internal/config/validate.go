// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package config

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

const minJWTSecretLength = 32

// Validate checks that the configuration is complete and consistent.
// All problems are reported together.
func (c *Config) Validate() error {
	var result *multierror.Error

	for _, check := range []func() error{
		c.validateServer,
		c.validatePresence,
		c.validateDatabase,
		c.validateJournal,
		c.validateEvents,
		c.validateAudit,
		c.validateSecurity,
		c.validateLogging,
	} {
		if err := check(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be greater than 0")
	}
	return nil
}

func (c *Config) validatePresence() error {
	p := c.Presence
	if p.SweepInterval <= 0 {
		return fmt.Errorf("PRESENCE_SWEEP_INTERVAL must be greater than 0")
	}
	if p.InactivityThreshold <= 0 {
		return fmt.Errorf("PRESENCE_INACTIVITY_THRESHOLD must be greater than 0")
	}
	if p.HeartbeatInterval <= 0 || p.HeartbeatInterval >= p.InactivityThreshold {
		return fmt.Errorf("PRESENCE_HEARTBEAT_INTERVAL must be positive and shorter than PRESENCE_INACTIVITY_THRESHOLD (%s)", p.InactivityThreshold)
	}
	if p.SweepBatch < 1 {
		return fmt.Errorf("PRESENCE_SWEEP_BATCH must be at least 1, got %d", p.SweepBatch)
	}
	if p.CloseTimeout <= 0 {
		return fmt.Errorf("PRESENCE_CLOSE_TIMEOUT must be greater than 0")
	}
	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case "duckdb":
		if c.Database.Path == "" {
			return fmt.Errorf("DUCKDB_PATH is required when DB_DRIVER=duckdb")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("DB_DRIVER must be one of [duckdb, postgres], got %q", c.Database.Driver)
	}
	return nil
}

func (c *Config) validateJournal() error {
	if !c.Journal.Enabled {
		return nil
	}
	if c.Journal.Path == "" {
		return fmt.Errorf("JOURNAL_PATH is required when JOURNAL_ENABLED=true")
	}
	if c.Journal.RetryInterval <= 0 || c.Journal.BaseBackoff <= 0 {
		return fmt.Errorf("JOURNAL_RETRY_INTERVAL and JOURNAL_BASE_BACKOFF must be greater than 0")
	}
	return nil
}

func (c *Config) validateEvents() error {
	if c.Events.NATSEnabled && c.Events.NATSURL == "" {
		return fmt.Errorf("NATS_URL is required when NATS_ENABLED=true")
	}
	return nil
}

func (c *Config) validateAudit() error {
	if !c.Audit.Enabled {
		return nil
	}
	if c.Audit.RetentionDays < 1 || c.Audit.CleanupInterval <= 0 || c.Audit.BufferSize < 1 {
		return fmt.Errorf("AUDIT_RETENTION_DAYS, AUDIT_CLEANUP_INTERVAL and AUDIT_BUFFER_SIZE must be positive when AUDIT_ENABLED=true")
	}
	return nil
}

func (c *Config) validateSecurity() error {
	if len(c.Security.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters", minJWTSecretLength)
	}
	if c.Security.AdminUsername == "" || c.Security.AdminPassword == "" {
		return fmt.Errorf("ADMIN_USERNAME and ADMIN_PASSWORD are required")
	}
	if !c.Security.RateLimitDisabled && (c.Security.RateLimitReqs < 1 || c.Security.RateLimitWindow <= 0) {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be positive unless DISABLE_RATE_LIMIT=true")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of [trace, debug, info, warn, error], got %q", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("LOG_FORMAT must be either 'json' or 'console', got %q", c.Logging.Format)
	}
	return nil
}
