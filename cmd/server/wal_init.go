// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package main

import (
	"github.com/tomtom215/sitepulse/internal/config"
	"github.com/tomtom215/sitepulse/internal/logging"
	"github.com/tomtom215/sitepulse/internal/persist"
	"github.com/tomtom215/sitepulse/internal/wal"
)

// JournalComponents holds the close journal and its retry loop.
type JournalComponents struct {
	wal       *wal.BadgerWAL
	retryLoop *wal.RetryLoop
}

// InitJournal opens the BadgerDB journal of session closes that could not
// be written. It returns nil when the journal is disabled.
func InitJournal(cfg config.JournalConfig) (*JournalComponents, error) {
	if !cfg.Enabled {
		logging.Warn().Msg("Journal disabled (JOURNAL_ENABLED=false). Session closes that fail to write will be lost.")
		return nil, nil
	}

	logging.Info().Str("path", cfg.Path).Msg("Opening close journal...")
	w, err := wal.Open(wal.ConfigFrom(cfg))
	if err != nil {
		return nil, err
	}

	stats := w.Stats()
	logging.Info().Int64("pending", stats.PendingCount).Msg("Close journal ready")
	return &JournalComponents{wal: w}, nil
}

// Journal returns the journal for the dispatcher, or nil when disabled.
func (c *JournalComponents) Journal() persist.Journal {
	if c == nil {
		return nil
	}
	return c.wal
}

// RetryLoop creates the loop replaying pending closes into replayer.
// Pending entries from a previous run are replayed on its first tick.
func (c *JournalComponents) RetryLoop(replayer wal.Replayer) *wal.RetryLoop {
	if c == nil {
		return nil
	}
	if c.retryLoop == nil {
		c.retryLoop = wal.NewRetryLoop(c.wal, replayer)
	}
	return c.retryLoop
}

// Close closes the journal. The retry loop must already be stopped.
func (c *JournalComponents) Close() error {
	if c == nil {
		return nil
	}
	logging.Info().Msg("Closing close journal...")
	return c.wal.Close()
}
