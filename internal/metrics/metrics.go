// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

// Package metrics holds the Prometheus collectors for SitePulse.
//
// Collectors are registered with the default registry through promauto and
// exposed by the API router at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Close triggers, used as the "trigger" label.
const (
	TriggerDisconnect = "disconnect"
	TriggerSweep      = "sweep"
	TriggerEndSignal  = "end_signal"
	TriggerReplay     = "replay"
)

var (
	// Presence Metrics
	LiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "presence_live_sessions",
			Help: "Current number of live sessions across all websites",
		},
	)

	SessionsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_sessions_started_total",
			Help: "Sessions created or re-attached in the registry",
		},
		[]string{"kind"}, // "new", "reattach"
	)

	SessionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_sessions_closed_total",
			Help: "Sessions removed from the registry, by trigger",
		},
		[]string{"trigger"},
	)

	DuplicateCloses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_duplicate_close_total",
			Help: "Close attempts that found no matching registry entry",
		},
		[]string{"trigger"},
	)

	UnknownSessionEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_unknown_session_events_total",
			Help: "Channel events referencing a session that is not live",
		},
		[]string{"event"},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "presence_sweep_duration_seconds",
			Help:    "Duration of one idle sweep tick",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)

	SessionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "session_duration_seconds",
			Help:    "Final durations of closed sessions",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600, 7200},
		},
	)

	// Store Metrics
	StoreOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_operation_duration_seconds",
			Help:    "Duration of durable store operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	StoreOpErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_operation_errors_total",
			Help: "Durable store operation failures",
		},
		[]string{"backend", "operation"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CloseWritesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "close_writes_dropped_total",
			Help: "Duration writes that failed and could not be journaled",
		},
	)

	// Journal Metrics
	JournalPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "journal_pending_entries",
			Help: "Close writes waiting for replay",
		},
	)

	JournalRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journal_retries_total",
			Help: "Journal replay attempts by outcome",
		},
		[]string{"outcome"}, // "succeeded", "failed", "expired", "max_retried"
	)

	// Realtime Channel Metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Number of connected realtime channel clients",
		},
	)

	WSHandshakeRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_handshake_rejections_total",
			Help: "Rejected channel handshakes by reason",
		},
		[]string{"reason"}, // "missing_key", "unknown_key", "inactive"
	)

	WSMessagesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_dropped_total",
			Help: "Outbound messages dropped because a buffer was full",
		},
	)

	// Event Metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Domain events published",
		},
		[]string{"topic", "result"},
	)

	// Audit Metrics
	AuditEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_events_total",
			Help: "Audit events by write result (saved, failed, dropped)",
		},
		[]string{"result"},
	)

	// API Metrics
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Requests currently being served",
		},
	)
)

// RecordStoreOp records a durable store operation.
func RecordStoreOp(backend, operation string, duration time.Duration, err error) {
	StoreOpDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	if err != nil {
		StoreOpErrors.WithLabelValues(backend, operation).Inc()
	}
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks in-flight API requests.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordSessionClosed counts a registry removal for the given trigger.
func RecordSessionClosed(trigger string) {
	SessionsClosed.WithLabelValues(trigger).Inc()
}
