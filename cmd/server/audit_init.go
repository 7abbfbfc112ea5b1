// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package main

import (
	"context"
	"fmt"

	"github.com/tomtom215/sitepulse/internal/audit"
	"github.com/tomtom215/sitepulse/internal/config"
	"github.com/tomtom215/sitepulse/internal/database"
	"github.com/tomtom215/sitepulse/internal/logging"
)

// InitAudit creates the audit table on the visit database and starts the
// audit logger. It returns nil when auditing is disabled; a nil logger
// discards events.
func InitAudit(ctx context.Context, cfg config.AuditConfig, db *database.SQLStore) (*audit.Logger, error) {
	if !cfg.Enabled {
		logging.Info().Msg("Audit logging disabled")
		return nil, nil
	}

	store := audit.NewSQLStore(db.DB(), db.Dialect())
	if err := store.CreateTable(ctx); err != nil {
		return nil, fmt.Errorf("audit store: %w", err)
	}

	logger := audit.NewLogger(store, audit.ConfigFrom(cfg))
	logging.Info().Int("retention_days", cfg.RetentionDays).Msg("Audit logging enabled")
	return logger, nil
}
