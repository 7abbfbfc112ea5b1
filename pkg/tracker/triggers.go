// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package tracker

import (
	"sync"
	"time"

	"github.com/coder/quartz"
)

// Trigger names what caused a collection.
type Trigger string

// Collection triggers.
const (
	TriggerLoad       Trigger = "load"
	TriggerVisibility Trigger = "visibility"
	TriggerResize     Trigger = "resize"
)

// Trigger delays.
const (
	LoadDelay       = 500 * time.Millisecond
	VisibilityDelay = time.Second
	ResizeDebounce  = time.Second
)

// Scheduler defers collection so it never runs on the caller's path. Load
// and visibility changes each schedule one run; resize events are debounced
// so a burst produces a single run ResizeDebounce after the last event.
type Scheduler struct {
	clock quartz.Clock
	fire  func(Trigger)

	mu      sync.Mutex
	pending map[*quartz.Timer]struct{}
	resize  *quartz.Timer
	stopped bool
}

// NewScheduler calls fire from a timer goroutine for every elapsed trigger.
func NewScheduler(clock quartz.Clock, fire func(Trigger)) *Scheduler {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Scheduler{clock: clock, fire: fire, pending: make(map[*quartz.Timer]struct{})}
}

// OnLoad schedules the initial collection.
func (s *Scheduler) OnLoad() {
	s.once(LoadDelay, TriggerLoad)
}

// OnVisibilityChange schedules a collection after the page becomes visible
// or hidden.
func (s *Scheduler) OnVisibilityChange() {
	s.once(VisibilityDelay, TriggerVisibility)
}

// OnResize restarts the resize debounce.
func (s *Scheduler) OnResize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if s.resize != nil {
		s.resize.Reset(ResizeDebounce, "tracker", "resize")
		return
	}
	s.resize = s.clock.AfterFunc(ResizeDebounce, func() {
		s.mu.Lock()
		stopped := s.stopped
		s.mu.Unlock()
		if !stopped {
			s.fire(TriggerResize)
		}
	}, "tracker", "resize")
}

// Stop cancels every pending trigger. Later events are ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for t := range s.pending {
		t.Stop()
	}
	s.pending = nil
	if s.resize != nil {
		s.resize.Stop()
	}
}

func (s *Scheduler) once(d time.Duration, trigger Trigger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	var t *quartz.Timer
	t = s.clock.AfterFunc(d, func() {
		s.mu.Lock()
		stopped := s.stopped
		delete(s.pending, t)
		s.mu.Unlock()
		if !stopped {
			s.fire(trigger)
		}
	}, "tracker", string(trigger))
	s.pending[t] = struct{}{}
}
