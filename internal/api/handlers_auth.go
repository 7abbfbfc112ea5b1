// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/tomtom215/sitepulse/internal/audit"
	"github.com/tomtom215/sitepulse/internal/auth"
	"github.com/tomtom215/sitepulse/internal/ingest"
	"github.com/tomtom215/sitepulse/internal/logging"
	"github.com/tomtom215/sitepulse/internal/models"
)

// Login exchanges operator credentials for a dashboard token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	if h.credentials == nil || h.jwtManager == nil {
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Login is not configured", nil)
		return
	}

	var req models.LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ip := ingest.ClientIP(r)
	source := audit.Source{IPAddress: ip, UserAgent: r.UserAgent()}
	err := h.credentials.Verify(req.Username, req.Password, ip)
	var locked *auth.LockedError
	switch {
	case errors.As(err, &locked):
		h.audit.LogAuthLockout(r.Context(), sanitizeLogValue(req.Username), source, locked.Remaining)
		w.Header().Set("Retry-After", strconv.Itoa(int(locked.Remaining.Seconds())+1))
		respondError(w, r, http.StatusTooManyRequests, ErrCodeTooManyRequests, "Too many failed login attempts", nil)
		return
	case err != nil:
		logging.Ctx(r.Context()).Warn().
			Str("username", sanitizeLogValue(req.Username)).
			Str("ip", ip).
			Msg("Failed login")
		h.audit.LogAuthFailure(r.Context(), sanitizeLogValue(req.Username), source, "invalid credentials")
		respondError(w, r, http.StatusUnauthorized, ErrCodeUnauthorized, "Invalid username or password", nil)
		return
	}

	token, err := h.jwtManager.GenerateToken(req.Username, auth.RoleAdmin)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to issue token", err)
		return
	}

	h.audit.LogAuthSuccess(r.Context(), req.Username, source)

	expiresAt := time.Now().Add(h.jwtManager.Timeout()).UTC()
	http.SetCookie(w, &http.Cookie{
		Name:     auth.TokenCookie,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})

	respondSuccess(w, http.StatusOK, models.LoginResponse{Token: token, ExpiresAt: expiresAt}, started)
}
