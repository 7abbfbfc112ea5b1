// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package database

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/sitepulse/internal/logging"
	"github.com/tomtom215/sitepulse/internal/metrics"
	"github.com/tomtom215/sitepulse/internal/models"
)

// BreakerConfig configures the circuit breaker guarding store writes.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// DefaultBreakerConfig returns the breaker settings used in production.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "store",
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// BreakerStore guards the write path of a Store with a circuit breaker so a
// failing backend sheds load quickly. Reads pass straight through.
type BreakerStore struct {
	Store
	cb *gobreaker.CircuitBreaker[interface{}]
}

// NewBreakerStore wraps inner.
func NewBreakerStore(inner Store, cfg BreakerConfig) *BreakerStore {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrWebsiteNotFound) ||
				errors.Is(err, ErrSessionNotFound) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	}
	metrics.CircuitBreakerState.WithLabelValues(cfg.Name).Set(0)
	return &BreakerStore{Store: inner, cb: gobreaker.NewCircuitBreaker[interface{}](settings)}
}

// State returns the breaker state name.
func (b *BreakerStore) State() string {
	return b.cb.State().String()
}

// RecordVisit records through the breaker.
func (b *BreakerStore) RecordVisit(ctx context.Context, v *models.Visit) (RecordResult, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.Store.RecordVisit(ctx, v)
	})
	if err != nil {
		return RecordResult{}, err
	}
	return out.(RecordResult), nil
}

// CloseSession closes through the breaker.
func (b *BreakerStore) CloseSession(ctx context.Context, websiteID, sessionID string, duration time.Duration) (int64, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.Store.CloseSession(ctx, websiteID, sessionID, duration)
	})
	if err != nil {
		return 0, err
	}
	return out.(int64), nil
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
