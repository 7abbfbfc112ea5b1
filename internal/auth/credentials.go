// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials is returned for a wrong username or password.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrLockedOut is returned while a subject is locked after repeated failures.
	ErrLockedOut = errors.New("too many failed login attempts")
)

// bcryptCost matches the cost used for operator passwords elsewhere.
const bcryptCost = 12

// Credentials verifies the single operator account. The password is hashed
// once at startup so no plaintext stays in memory.
type Credentials struct {
	username     string
	passwordHash []byte
	lockout      *Lockout
}

// NewCredentials hashes password with bcrypt. lockout may be nil.
func NewCredentials(username, password string, lockout *Lockout) (*Credentials, error) {
	if username == "" {
		return nil, fmt.Errorf("username is required")
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	return &Credentials{
		username:     username,
		passwordHash: hash,
		lockout:      lockout,
	}, nil
}

// LockedError carries the remaining lockout time.
type LockedError struct {
	Remaining time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s, retry in %s", ErrLockedOut, e.Remaining.Round(time.Second))
}

func (e *LockedError) Unwrap() error { return ErrLockedOut }

// Verify checks a login attempt from ip. Failures count against both the
// username and the client address.
func (c *Credentials) Verify(username, password, ip string) error {
	subjects := []string{username}
	if ip != "" {
		subjects = append(subjects, "ip:"+ip)
	}

	if c.lockout != nil {
		for _, s := range subjects {
			if locked, remaining := c.lockout.Locked(s); locked {
				return &LockedError{Remaining: remaining}
			}
		}
	}

	// Both comparisons always run.
	usernameMatch := subtle.ConstantTimeCompare([]byte(username), []byte(c.username)) == 1
	passwordMatch := bcrypt.CompareHashAndPassword(c.passwordHash, []byte(password)) == nil

	if usernameMatch && passwordMatch {
		if c.lockout != nil {
			for _, s := range subjects {
				c.lockout.Clear(s)
			}
		}
		return nil
	}

	if c.lockout != nil {
		for _, s := range subjects {
			if locked, remaining := c.lockout.Fail(s); locked {
				return &LockedError{Remaining: remaining}
			}
		}
	}
	return ErrInvalidCredentials
}
