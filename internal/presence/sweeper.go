// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package presence

import (
	"context"
	"time"
)

// Sweeper runs the idle sweep on a fixed period, independent of channel traffic.
type Sweeper struct {
	coord    *Coordinator
	interval time.Duration
}

// NewSweeper creates a sweeper for coord. The coordinator's clock drives it.
func NewSweeper(coord *Coordinator, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{coord: coord, interval: interval}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	w := s.coord.clock.TickerFunc(ctx, s.interval, func() error {
		s.coord.Sweep()
		return nil
	}, "presence", "sweep")
	return w.Wait()
}
