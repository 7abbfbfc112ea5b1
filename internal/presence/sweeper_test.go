// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeper_ClosesOnTickAfterThreshold(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mClock := quartz.NewMock(t)
	trap := mClock.Trap().TickerFunc("presence", "sweep")
	defer trap.Close()

	closer := &recordingCloser{}
	coord := NewCoordinator(Config{InactivityThreshold: 5 * time.Minute}, closer, nil, WithClock(mClock))
	coord.SessionStart(siteW, 1, visit("S1", "V1", "/"))

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- NewSweeper(coord, time.Minute).Run(runCtx) }()
	trap.MustWait(ctx).MustRelease(ctx)

	// Five ticks bring us exactly to the threshold: still live.
	for i := 0; i < 5; i++ {
		mClock.Advance(time.Minute).MustWait(ctx)
	}
	assert.Equal(t, 1, coord.ActiveCount(siteW))

	mClock.Advance(time.Minute).MustWait(ctx)
	assert.Equal(t, 0, coord.ActiveCount(siteW))
	closures := closer.closures()
	require.Len(t, closures, 1)
	assert.Equal(t, time.Duration(0), closures[0].Duration)

	stop()
	err := <-done
	assert.True(t, errors.Is(err, context.Canceled), "unexpected error %v", err)
}
