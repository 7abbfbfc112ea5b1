// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

/*
Package auth provides dashboard authentication.

Tracker traffic authenticates with a per-website API key and never touches
this package. Dashboard routes (website management, summaries, the live
watch socket) require a bearer token issued by POST /api/v1/auth/login.

Key Components:

  - JWTManager: HS256 token generation and validation
  - Credentials: bcrypt-hashed operator password checked at login
  - Lockout: per-username and per-IP failed attempt tracking with doubling lockouts
  - Middleware: chi-compatible bearer authentication storing Claims in the context

Usage Example:

	jwtManager, err := auth.NewJWTManager(&cfg.Security)
	if err != nil {
	    return err
	}
	mw := auth.NewMiddleware(jwtManager)
	r.With(mw.Authenticate).Get("/api/v1/websites", handler.ListWebsites)

Inside a handler the username is the website owner:

	claims, _ := auth.ClaimsFromContext(r.Context())
	sites, err := store.ListWebsites(ctx, claims.Username)
*/
package auth
