// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package services

import (
	"context"
	"errors"
	"fmt"
)

// Runner is a periodic loop that blocks until its context is done, such as
// the presence sweeper or the journal retry loop.
type Runner interface {
	Run(ctx context.Context) error
}

// LoopService adapts a Runner to suture.Service.
type LoopService struct {
	runner Runner
	name   string
}

// NewLoopService wraps runner under name.
func NewLoopService(name string, runner Runner) *LoopService {
	return &LoopService{runner: runner, name: name}
}

// NewSweeperService supervises the presence idle sweep.
func NewSweeperService(runner Runner) *LoopService {
	return NewLoopService("presence-sweeper", runner)
}

// NewJournalRetryService supervises replay of journaled session closes.
func NewJournalRetryService(runner Runner) *LoopService {
	return NewLoopService("journal-retry-loop", runner)
}

// Serve runs the loop. Returning because ctx ended is a clean stop; any
// other return, including a nil one, is reported as a failure so the loop
// gets restarted.
func (s *LoopService) Serve(ctx context.Context) error {
	err := s.runner.Run(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err == nil || errors.Is(err, context.Canceled) {
		err = errors.New("exited unexpectedly")
	}
	return fmt.Errorf("%s: %w", s.name, err)
}

func (s *LoopService) String() string {
	return s.name
}
