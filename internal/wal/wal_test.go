// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package wal

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/sitepulse/internal/config"
	"github.com/tomtom215/sitepulse/internal/logging"
)

func init() {
	logging.Init(logging.Config{Level: "info", Format: "console", Output: io.Discard})
}

type testEvent struct {
	WebsiteID string `json:"website_id"`
	SessionID string `json:"session_id"`
	Duration  int64  `json:"duration_ms"`
}

func testConfig() Config {
	return Config{
		InMemory:      true,
		EntryTTL:      24 * time.Hour,
		RetryInterval: 30 * time.Second,
		MaxRetries:    3,
		RetryBackoff:  10 * time.Second,
	}
}

func openTestWAL(t *testing.T, clock quartz.Clock) *BadgerWAL {
	t.Helper()
	w, err := Open(testConfig(), WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.JournalConfig{
		Path:          "/data/journal",
		RetryInterval: time.Minute,
		MaxRetries:    7,
		BaseBackoff:   2 * time.Second,
		EntryTTL:      time.Hour,
	})
	assert.Equal(t, "/data/journal", cfg.Path)
	assert.True(t, cfg.SyncWrites)
	assert.Equal(t, 7, cfg.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.RetryBackoff)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestWriteConfirmLifecycle(t *testing.T) {
	w := openTestWAL(t, quartz.NewMock(t))
	ctx := context.Background()

	id, err := w.Write(ctx, testEvent{WebsiteID: "w1", SessionID: "s1", Duration: 45000})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	pending, err := w.GetPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	var got testEvent
	require.NoError(t, pending[0].UnmarshalPayload(&got))
	assert.Equal(t, int64(45000), got.Duration)
	assert.Equal(t, int64(1), w.Stats().PendingCount)

	require.NoError(t, w.Confirm(ctx, id))
	pending, err = w.GetPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	stats := w.Stats()
	assert.Equal(t, int64(0), stats.PendingCount)
	assert.Equal(t, int64(1), stats.TotalWrites)
	assert.Equal(t, int64(1), stats.TotalConfirms)

	assert.ErrorIs(t, w.Confirm(ctx, id), ErrEntryNotFound)
	assert.ErrorIs(t, w.Confirm(ctx, ""), ErrEmptyEntryID)
}

func TestWrite_Errors(t *testing.T) {
	w := openTestWAL(t, quartz.NewMock(t))

	_, err := w.Write(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNilEvent)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	_, err = w.Write(context.Background(), testEvent{})
	assert.ErrorIs(t, err, ErrWALClosed)
	_, err = w.GetPending(context.Background())
	assert.ErrorIs(t, err, ErrWALClosed)
}

func TestPendingSurvivesReopen(t *testing.T) {
	cfg := testConfig()
	cfg.InMemory = false
	cfg.Path = filepath.Join(t.TempDir(), "wal")

	w, err := Open(cfg)
	require.NoError(t, err)
	_, err = w.Write(context.Background(), testEvent{SessionID: "s1"})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	reopened, err := Open(cfg)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	assert.Equal(t, int64(1), reopened.Stats().PendingCount)
	pending, err := reopened.GetPending(context.Background())
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestUpdateAttempt(t *testing.T) {
	mClock := quartz.NewMock(t)
	w := openTestWAL(t, mClock)
	ctx := context.Background()

	id, err := w.Write(ctx, testEvent{SessionID: "s1"})
	require.NoError(t, err)

	require.NoError(t, w.UpdateAttempt(ctx, id, "store unavailable"))
	pending, err := w.GetPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "store unavailable", pending[0].LastError)
	assert.True(t, pending[0].LastAttemptAt.Equal(mClock.Now().UTC()))

	assert.ErrorIs(t, w.UpdateAttempt(ctx, "missing", "x"), ErrEntryNotFound)
}

func TestClaims(t *testing.T) {
	w := openTestWAL(t, quartz.NewMock(t))
	assert.True(t, w.TryClaimEntry("a"))
	assert.False(t, w.TryClaimEntry("a"))
	w.ReleaseEntry("a")
	assert.True(t, w.TryClaimEntry("a"))
}

// scriptedReplayer fails the first failures calls, then succeeds.
type scriptedReplayer struct {
	mu       sync.Mutex
	failures int
	calls    int
	replayed []string
}

func (s *scriptedReplayer) Replay(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return errors.New("store unavailable")
	}
	s.replayed = append(s.replayed, entry.ID)
	return nil
}

func (s *scriptedReplayer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestRetryPending_SucceedsAndConfirms(t *testing.T) {
	w := openTestWAL(t, quartz.NewMock(t))
	ctx := context.Background()
	id, err := w.Write(ctx, testEvent{SessionID: "s1"})
	require.NoError(t, err)

	replayer := &scriptedReplayer{}
	stats := NewRetryLoop(w, replayer).RetryPending(ctx)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, []string{id}, replayer.replayed)
	assert.Equal(t, int64(0), w.Stats().PendingCount)
}

func TestRetryPending_BacksOff(t *testing.T) {
	mClock := quartz.NewMock(t)
	w := openTestWAL(t, mClock)
	ctx := context.Background()
	_, err := w.Write(ctx, testEvent{SessionID: "s1"})
	require.NoError(t, err)

	replayer := &scriptedReplayer{failures: 2}
	loop := NewRetryLoop(w, replayer)

	assert.Equal(t, 1, loop.RetryPending(ctx).Failed)

	// First backoff is the base interval.
	mClock.Advance(5 * time.Second)
	assert.Equal(t, 1, loop.RetryPending(ctx).Skipped)
	mClock.Advance(5 * time.Second)
	assert.Equal(t, 1, loop.RetryPending(ctx).Failed)

	// Second backoff doubles.
	mClock.Advance(10 * time.Second)
	assert.Equal(t, 1, loop.RetryPending(ctx).Skipped)
	mClock.Advance(10 * time.Second)
	assert.Equal(t, 1, loop.RetryPending(ctx).Succeeded)
	assert.Equal(t, 3, replayer.count())
}

func TestRetryPending_DropsAfterMaxRetries(t *testing.T) {
	mClock := quartz.NewMock(t)
	w := openTestWAL(t, mClock)
	ctx := context.Background()
	_, err := w.Write(ctx, testEvent{SessionID: "s1"})
	require.NoError(t, err)

	replayer := &scriptedReplayer{failures: 100}
	loop := NewRetryLoop(w, replayer)
	for i := 0; i < 3; i++ {
		assert.Equal(t, 1, loop.RetryPending(ctx).Failed)
		mClock.Advance(5 * time.Minute)
	}

	stats := loop.RetryPending(ctx)
	assert.Equal(t, 1, stats.MaxRetried)
	assert.Equal(t, 3, replayer.count())
	assert.Equal(t, int64(0), w.Stats().PendingCount)
}

func TestRetryPending_DropsExpired(t *testing.T) {
	mClock := quartz.NewMock(t)
	w := openTestWAL(t, mClock)
	ctx := context.Background()
	_, err := w.Write(ctx, testEvent{SessionID: "s1"})
	require.NoError(t, err)

	mClock.Advance(25 * time.Hour)
	replayer := &scriptedReplayer{}
	stats := NewRetryLoop(w, replayer).RetryPending(ctx)
	assert.Equal(t, 1, stats.Expired)
	assert.Zero(t, replayer.count())
}

func TestRetryPending_SkipsClaimedEntries(t *testing.T) {
	w := openTestWAL(t, quartz.NewMock(t))
	ctx := context.Background()
	id, err := w.Write(ctx, testEvent{SessionID: "s1"})
	require.NoError(t, err)

	require.True(t, w.TryClaimEntry(id))
	replayer := &scriptedReplayer{}
	assert.Equal(t, 1, NewRetryLoop(w, replayer).RetryPending(ctx).Skipped)
	assert.Zero(t, replayer.count())
}

func TestCalculateBackoff(t *testing.T) {
	loop := &RetryLoop{config: Config{RetryBackoff: 5 * time.Second}}
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 0},
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{4, 40 * time.Second},
		{10, 5 * time.Minute},
		{100, 5 * time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, loop.calculateBackoff(tt.attempts), "attempts=%d", tt.attempts)
	}
}

func TestRetryLoop_Run(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mClock := quartz.NewMock(t)
	trap := mClock.Trap().TickerFunc("wal", "retry")
	defer trap.Close()

	w := openTestWAL(t, mClock)
	_, err := w.Write(ctx, testEvent{SessionID: "left-over"})
	require.NoError(t, err)

	replayer := &scriptedReplayer{}
	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- NewRetryLoop(w, replayer).Run(runCtx) }()

	trap.MustWait(ctx).MustRelease(ctx)
	assert.Equal(t, 1, replayer.count(), "startup pass recovers leftovers")

	_, err = w.Write(ctx, testEvent{SessionID: "new"})
	require.NoError(t, err)
	mClock.Advance(30 * time.Second).MustWait(ctx)
	assert.Equal(t, 2, replayer.count())
	assert.Equal(t, int64(0), w.Stats().PendingCount)

	stop()
	assert.ErrorIs(t, <-done, context.Canceled)
}
