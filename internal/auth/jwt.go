// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/sitepulse/internal/config"
)

// RoleAdmin is the only dashboard role. Website ownership is keyed by Username.
const RoleAdmin = "admin"

// ErrMissingSecret is returned when the JWT secret is not configured.
var ErrMissingSecret = errors.New("JWT_SECRET is required but was empty")

// Claims represents JWT claims
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// JWTManager handles JWT token creation and validation
type JWTManager struct {
	secret  []byte
	timeout time.Duration
	clock   quartz.Clock
}

// NewJWTManager creates a token manager with the configured secret and timeout.
//
// Tokens are signed with HMAC-SHA256. The secret is kept as []byte and an
// empty secret is rejected.
//
// Example:
//
//	jwtManager, err := auth.NewJWTManager(&cfg.Security)
//	if err != nil {
//	    return fmt.Errorf("jwt: %w", err)
//	}
func NewJWTManager(cfg *config.SecurityConfig) (*JWTManager, error) {
	if cfg == nil || cfg.JWTSecret == "" {
		return nil, ErrMissingSecret
	}

	timeout := cfg.SessionTimeout
	if timeout <= 0 {
		timeout = 24 * time.Hour
	}

	return &JWTManager{
		secret:  []byte(cfg.JWTSecret),
		timeout: timeout,
		clock:   quartz.NewReal(),
	}, nil
}

// WithClock swaps the clock used for issuing and validating tokens.
func (m *JWTManager) WithClock(clock quartz.Clock) *JWTManager {
	m.clock = clock
	return m
}

// Timeout returns how long issued tokens stay valid.
func (m *JWTManager) Timeout() time.Duration { return m.timeout }

// GenerateToken creates a signed token for an authenticated user.
//
// The token carries the username and role and expires after the configured
// session timeout. Tokens are stateless and cannot be revoked early.
func (m *JWTManager) GenerateToken(username, role string) (string, error) {
	now := m.clock.Now()
	claims := &Claims{
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.timeout)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signedToken, nil
}

// ValidateToken validates a token string and extracts the user claims.
//
// Tokens signed with anything other than HMAC are rejected, which closes the
// "alg: none" and RS/HS confusion paths. Expiry and not-before are checked
// against the manager clock.
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return m.clock.Now() }))

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.Username == "" {
		return nil, fmt.Errorf("invalid token claims: missing username")
	}

	return claims, nil
}
