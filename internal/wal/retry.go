// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package wal

import (
	"context"
	"math"
	"time"

	"github.com/tomtom215/sitepulse/internal/logging"
	"github.com/tomtom215/sitepulse/internal/metrics"
)

// Replayer re-applies a journaled write.
type Replayer interface {
	Replay(ctx context.Context, entry *Entry) error
}

// ReplayFunc adapts a function to Replayer.
type ReplayFunc func(ctx context.Context, entry *Entry) error

// Replay calls f.
func (f ReplayFunc) Replay(ctx context.Context, entry *Entry) error {
	return f(ctx, entry)
}

// RetryLoop periodically replays pending entries.
type RetryLoop struct {
	wal      *BadgerWAL
	replayer Replayer
	config   Config
}

// NewRetryLoop creates a retry loop over w.
func NewRetryLoop(w *BadgerWAL, replayer Replayer) *RetryLoop {
	return &RetryLoop{wal: w, replayer: replayer, config: w.Config()}
}

// Run replays once immediately to recover entries left by a previous run,
// then on every RetryInterval until ctx is done.
func (r *RetryLoop) Run(ctx context.Context) error {
	logging.Info().
		Dur("interval", r.config.RetryInterval).
		Int("max_retries", r.config.MaxRetries).
		Msg("WAL retry loop started")

	r.RetryPending(ctx)

	waiter := r.wal.clock.TickerFunc(ctx, r.config.RetryInterval, func() error {
		r.RetryPending(ctx)
		return nil
	}, "wal", "retry")
	err := waiter.Wait()
	logging.Info().Msg("WAL retry loop stopped")
	return err
}

// retryResult tracks the outcome of processing a single entry.
type retryResult int

const (
	retryResultSuccess retryResult = iota
	retryResultFailed
	retryResultExpired
	retryResultMaxRetried
	retryResultSkipped
)

// RetryStats summarizes one pass.
type RetryStats struct {
	Succeeded  int
	Failed     int
	Expired    int
	MaxRetried int
	Skipped    int
}

// RetryPending makes one pass over the pending entries.
func (r *RetryLoop) RetryPending(ctx context.Context) RetryStats {
	var stats RetryStats

	entries, err := r.wal.GetPending(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("WAL retry: failed to get pending entries")
		return stats
	}
	if len(entries) == 0 {
		return stats
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		switch r.processEntry(ctx, entry) {
		case retryResultSuccess:
			stats.Succeeded++
		case retryResultFailed:
			stats.Failed++
		case retryResultExpired:
			stats.Expired++
		case retryResultMaxRetried:
			stats.MaxRetried++
		case retryResultSkipped:
			stats.Skipped++
		}
	}

	if stats.Succeeded > 0 || stats.Failed > 0 || stats.Expired > 0 || stats.MaxRetried > 0 {
		logging.Info().
			Int("succeeded", stats.Succeeded).
			Int("failed", stats.Failed).
			Int("expired", stats.Expired).
			Int("max_retried", stats.MaxRetried).
			Msg("WAL retry complete")
	}
	return stats
}

func (r *RetryLoop) processEntry(ctx context.Context, entry *Entry) retryResult {
	if !r.wal.TryClaimEntry(entry.ID) {
		return retryResultSkipped
	}
	defer r.wal.ReleaseEntry(entry.ID)

	if r.config.EntryTTL > 0 && r.wal.clock.Since(entry.CreatedAt) > r.config.EntryTTL {
		return r.drop(ctx, entry, retryResultExpired, "expired")
	}
	if r.config.MaxRetries > 0 && entry.Attempts >= r.config.MaxRetries {
		return r.drop(ctx, entry, retryResultMaxRetried, "max_retries")
	}
	if !r.isReadyForRetry(entry) {
		return retryResultSkipped
	}

	replayCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err := r.replayer.Replay(replayCtx, entry)
	cancel()

	if err != nil {
		logging.Warn().
			Err(err).
			Str("entry_id", entry.ID).
			Int("attempt", entry.Attempts+1).
			Msg("WAL retry: replay failed")
		if updateErr := r.wal.UpdateAttempt(ctx, entry.ID, err.Error()); updateErr != nil {
			logging.Error().Err(updateErr).Str("entry_id", entry.ID).Msg("WAL retry: failed to update attempt")
		}
		metrics.JournalRetries.WithLabelValues("failed").Inc()
		return retryResultFailed
	}

	if err := r.wal.Confirm(ctx, entry.ID); err != nil {
		logging.Error().Err(err).Str("entry_id", entry.ID).Msg("WAL retry: failed to confirm entry")
		return retryResultFailed
	}
	metrics.JournalRetries.WithLabelValues("succeeded").Inc()
	return retryResultSuccess
}

func (r *RetryLoop) drop(ctx context.Context, entry *Entry, result retryResult, reason string) retryResult {
	logging.Warn().
		Str("entry_id", entry.ID).
		Int("attempts", entry.Attempts).
		Str("reason", reason).
		Str("last_error", entry.LastError).
		Msg("WAL retry: dropping entry")
	if err := r.wal.DeleteEntry(ctx, entry.ID); err != nil {
		logging.Error().Err(err).Str("entry_id", entry.ID).Msg("WAL retry: failed to delete entry")
	}
	metrics.JournalRetries.WithLabelValues(reason).Inc()
	metrics.CloseWritesDropped.Inc()
	return result
}

// isReadyForRetry checks if enough time has passed since the last attempt.
func (r *RetryLoop) isReadyForRetry(entry *Entry) bool {
	if entry.LastAttemptAt.IsZero() {
		return true
	}
	return r.wal.clock.Since(entry.LastAttemptAt) >= r.calculateBackoff(entry.Attempts)
}

// calculateBackoff returns base * 2^(attempts-1), capped at five minutes.
func (r *RetryLoop) calculateBackoff(attempts int) time.Duration {
	base := r.config.RetryBackoff
	maxBackoff := 5 * time.Minute

	if attempts <= 0 {
		return 0
	}
	if attempts > 50 {
		return maxBackoff
	}

	backoff := time.Duration(float64(base) * math.Pow(2, float64(attempts-1)))
	if backoff < 0 || backoff > maxBackoff {
		backoff = maxBackoff
	}
	return backoff
}
