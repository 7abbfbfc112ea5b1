// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package main

import (
	"fmt"

	"github.com/tomtom215/sitepulse/internal/config"
	"github.com/tomtom215/sitepulse/internal/eventprocessor"
	"github.com/tomtom215/sitepulse/internal/logging"
)

// EventComponents holds the domain event pipeline: a transport (in-process
// or NATS), the publisher used by the dispatcher and ingestor, and the
// router feeding the session statistics consumer.
type EventComponents struct {
	transport *eventprocessor.Transport
	publisher *eventprocessor.Publisher
	router    *eventprocessor.Router
	stats     *eventprocessor.SessionStatsHandler
}

// InitEvents connects the configured transport and registers the consumers.
func InitEvents(cfg config.EventsConfig) (*EventComponents, error) {
	logger := logging.NewWatermillAdapter()

	transport, err := eventprocessor.NewTransport(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect event transport: %w", err)
	}

	publisher := eventprocessor.NewPublisher(transport.Publisher, cfg.SubjectPrefix)
	publisher.SetCircuitBreaker(eventprocessor.NewPublishBreaker("event-publisher"))

	router, err := eventprocessor.NewRouter(nil, logger)
	if err != nil {
		_ = transport.Close()
		return nil, err
	}

	stats := eventprocessor.NewSessionStatsHandler()
	stats.Register(router, transport.Subscriber, cfg.SubjectPrefix)

	logging.Info().
		Str("transport", transport.Name).
		Str("subject_prefix", cfg.SubjectPrefix).
		Msg("Event pipeline initialized")

	return &EventComponents{
		transport: transport,
		publisher: publisher,
		router:    router,
		stats:     stats,
	}, nil
}

// Shutdown closes the publisher and transport. The router is stopped by the
// supervisor tree.
func (c *EventComponents) Shutdown() error {
	if c == nil {
		return nil
	}
	logging.Info().Msg("Shutting down event pipeline...")
	if err := c.publisher.Close(); err != nil {
		return err
	}
	return c.transport.Close()
}
