// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package auth

import (
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/tomtom215/sitepulse/internal/logging"
)

// LockoutConfig holds configuration for the login lockout.
type LockoutConfig struct {
	// MaxAttempts is the number of failed attempts before lockout.
	MaxAttempts int

	// LockoutDuration is the base lockout period.
	LockoutDuration time.Duration

	// MaxLockoutDuration caps the doubled lockout period.
	MaxLockoutDuration time.Duration
}

// DefaultLockoutConfig returns sensible defaults.
func DefaultLockoutConfig() LockoutConfig {
	return LockoutConfig{
		MaxAttempts:        5,
		LockoutDuration:    15 * time.Minute,
		MaxLockoutDuration: 24 * time.Hour,
	}
}

type lockoutEntry struct {
	failedAttempts int
	lockoutCount   int // for exponential backoff
	lockedUntil    time.Time
}

// Lockout tracks failed logins per subject (username or "ip:<addr>") in memory.
type Lockout struct {
	config  LockoutConfig
	clock   quartz.Clock
	mu      sync.Mutex
	entries map[string]*lockoutEntry
}

// NewLockout creates a lockout tracker.
func NewLockout(config LockoutConfig, clock quartz.Clock) *Lockout {
	if config.MaxAttempts <= 0 {
		config = DefaultLockoutConfig()
	}
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Lockout{
		config:  config,
		clock:   clock,
		entries: make(map[string]*lockoutEntry),
	}
}

// Locked reports whether subject is locked and for how much longer.
func (l *Lockout) Locked(subject string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[subject]
	if !ok {
		return false, 0
	}
	now := l.clock.Now()
	if now.Before(e.lockedUntil) {
		return true, e.lockedUntil.Sub(now)
	}
	return false, 0
}

// Fail records a failed attempt and reports whether the subject is now locked.
func (l *Lockout) Fail(subject string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	e, ok := l.entries[subject]
	if !ok {
		e = &lockoutEntry{}
		l.entries[subject] = e
	}
	if now.Before(e.lockedUntil) {
		return true, e.lockedUntil.Sub(now)
	}

	e.failedAttempts++
	if e.failedAttempts < l.config.MaxAttempts {
		return false, 0
	}

	d := calculateLockoutDuration(l.config, e.lockoutCount)
	e.lockedUntil = now.Add(d)
	e.lockoutCount++
	e.failedAttempts = 0

	logging.Warn().
		Str("subject", subject).
		Dur("duration", d).
		Int("lockout_count", e.lockoutCount).
		Msg("Login locked")

	return true, d
}

// Clear forgets all state for subject after a successful login.
func (l *Lockout) Clear(subject string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, subject)
}

// calculateLockoutDuration doubles the base period for each previous lockout.
func calculateLockoutDuration(config LockoutConfig, lockoutCount int) time.Duration {
	duration := config.LockoutDuration
	if lockoutCount == 0 {
		return duration
	}
	if lockoutCount > 16 {
		return config.MaxLockoutDuration
	}

	duration = time.Duration(int64(duration) * int64(1<<lockoutCount))
	if config.MaxLockoutDuration > 0 && duration > config.MaxLockoutDuration {
		return config.MaxLockoutDuration
	}
	return duration
}
