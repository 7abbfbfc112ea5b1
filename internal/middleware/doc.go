// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

/*
Package middleware provides HTTP infrastructure middleware.

All middleware use the chi signature func(http.Handler) http.Handler and keep
the wrapped writer hijackable so websocket upgrades pass through.

Key Components:

  - RequestID: X-Request-ID propagation into the request context and logger
  - PrometheusMetrics: request count, latency and in-flight gauge labelled by route pattern
  - AccessLog: one structured zerolog line per request

Middleware Stack:

	r.Use(middleware.RequestID)
	r.Use(middleware.PrometheusMetrics)
	r.Use(middleware.AccessLog)
*/
package middleware
