// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/sitepulse/internal/auth"
	"github.com/tomtom215/sitepulse/internal/middleware"
)

// Router binds handlers to routes.
type Router struct {
	handler       *Handler
	middleware    *auth.Middleware
	chiMiddleware *ChiMiddleware
}

// NewRouter creates a router.
func NewRouter(handler *Handler, authMiddleware *auth.Middleware, chiMW *ChiMiddleware) *Router {
	if chiMW == nil {
		chiMW = NewChiMiddleware(nil)
	}
	return &Router{
		handler:       handler,
		middleware:    authMiddleware,
		chiMiddleware: chiMW,
	}
}

// SetupChi configures all HTTP routes.
func (router *Router) SetupChi() http.Handler {
	r := chi.NewRouter()

	// ========================
	// Global Middleware Stack
	// ========================
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.PrometheusMetrics)
	r.Use(middleware.AccessLog)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", router.handler.Health)
	r.Get("/api/v1/health", router.handler.Health)

	// ========================
	// Tracker Endpoints
	// ========================
	// Authenticated by the website API key and reachable from any origin.
	r.Group(func(r chi.Router) {
		r.Use(router.chiMiddleware.TrackerCORS())

		r.Get("/ws", router.handler.channels.ServeHTTP)
		r.Get("/api/v1/tracker/config", router.handler.TrackerConfig)

		r.Group(func(r chi.Router) {
			r.Use(router.chiMiddleware.RateLimit())

			r.Post("/api/track", router.handler.Track)
			r.Post("/api/v1/track", router.handler.Track)
			r.Post("/api/session-end", router.handler.SessionEnd)
			r.Post("/api/v1/session-end", router.handler.SessionEnd)
		})
	})

	// ========================
	// Dashboard Endpoints
	// ========================
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(router.chiMiddleware.DashboardCORS())
		r.Use(router.chiMiddleware.SecurityHeaders())

		r.With(router.chiMiddleware.RateLimitLogin()).Post("/auth/login", router.handler.Login)
		r.With(router.middleware.Authenticate).Get("/audit", router.handler.AuditEvents)
		r.With(router.middleware.Authenticate).Get("/dashboard", router.handler.Dashboard)

		r.Route("/websites", func(r chi.Router) {
			r.Use(router.middleware.Authenticate)

			r.Get("/", router.handler.ListWebsites)
			r.Post("/", router.handler.CreateWebsite)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", router.handler.GetWebsite)
				r.Put("/", router.handler.UpdateWebsite)
				r.Delete("/", router.handler.DeleteWebsite)
				r.Post("/regenerate-key", router.handler.RegenerateKey)

				r.Get("/active", router.handler.ActiveSessions)
				r.Get("/summary", router.handler.Summary)
				r.Get("/stats", router.handler.SessionStats)
				r.Get("/sessions/{sessionID}", router.handler.SessionDetail)
				r.Get("/live", router.handler.LiveSessions)
			})
		})
	})

	return r
}
