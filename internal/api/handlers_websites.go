// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/sitepulse/internal/audit"
	"github.com/tomtom215/sitepulse/internal/auth"
	"github.com/tomtom215/sitepulse/internal/database"
	"github.com/tomtom215/sitepulse/internal/ingest"
	"github.com/tomtom215/sitepulse/internal/logging"
	"github.com/tomtom215/sitepulse/internal/models"
)

// owner returns the authenticated username. Routes using it sit behind
// auth.Middleware, so a missing claim is a wiring error.
func owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		respondError(w, r, http.StatusUnauthorized, ErrCodeUnauthorized, "Unauthorized", nil)
		return "", false
	}
	return claims.Username, true
}

// ownedWebsite loads the {id} website and checks the caller owns it.
// Websites of other owners are reported as not found.
func (h *Handler) ownedWebsite(w http.ResponseWriter, r *http.Request) (*models.Website, bool) {
	username, ok := owner(w, r)
	if !ok {
		return nil, false
	}

	website, err := h.store.Website(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, database.ErrWebsiteNotFound):
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "Website not found", nil)
		return nil, false
	case err != nil:
		respondError(w, r, http.StatusInternalServerError, ErrCodeDatabase, "Failed to load website", err)
		return nil, false
	}
	if website.OwnerID != username {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "Website not found", nil)
		return nil, false
	}
	return website, true
}

// auditWebsite records a website change made by the caller.
func (h *Handler) auditWebsite(r *http.Request, eventType audit.EventType, website *models.Website, metadata map[string]interface{}) {
	h.audit.LogWebsiteChange(r.Context(), eventType, website.OwnerID,
		audit.Target{ID: website.ID, Name: website.Name},
		audit.Source{IPAddress: ingest.ClientIP(r), UserAgent: r.UserAgent()},
		metadata)
}

// ListWebsites returns the caller's websites.
func (h *Handler) ListWebsites(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	username, ok := owner(w, r)
	if !ok {
		return
	}

	sites, err := h.store.ListWebsites(r.Context(), username)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeDatabase, "Failed to list websites", err)
		return
	}
	respondSuccess(w, http.StatusOK, sites, started)
}

// CreateWebsite registers a website and issues its API key.
func (h *Handler) CreateWebsite(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	username, ok := owner(w, r)
	if !ok {
		return
	}

	var req models.WebsiteRequest
	if !decodeBody(w, r, &req) {
		return
	}

	domain, err := database.DomainFromURL(req.URL)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeValidation, "url must be a valid URL", nil)
		return
	}
	key, err := database.GenerateAPIKey()
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to generate API key", err)
		return
	}

	website := &models.Website{
		OwnerID:  username,
		Name:     req.Name,
		URL:      req.URL,
		Domain:   domain,
		APIKey:   key,
		IsActive: req.IsActive == nil || *req.IsActive,
	}
	if err := h.store.CreateWebsite(r.Context(), website); err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeDatabase, "Failed to create website", err)
		return
	}

	logging.Ctx(r.Context()).Info().Str("website_id", website.ID).Str("domain", domain).Msg("Website created")
	h.auditWebsite(r, audit.EventTypeWebsiteCreated, website, map[string]interface{}{"domain": domain})
	respondSuccess(w, http.StatusCreated, website, started)
}

// GetWebsite returns one of the caller's websites.
func (h *Handler) GetWebsite(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	website, ok := h.ownedWebsite(w, r)
	if !ok {
		return
	}
	respondSuccess(w, http.StatusOK, website, started)
}

// UpdateWebsite changes name, URL and the active flag. Deactivating a
// website makes its key fail handshakes and ingestion immediately.
func (h *Handler) UpdateWebsite(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	website, ok := h.ownedWebsite(w, r)
	if !ok {
		return
	}

	var req models.WebsiteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	domain, err := database.DomainFromURL(req.URL)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeValidation, "url must be a valid URL", nil)
		return
	}

	website.Name = req.Name
	website.URL = req.URL
	website.Domain = domain
	if req.IsActive != nil {
		website.IsActive = *req.IsActive
	}
	if err := h.store.UpdateWebsite(r.Context(), website); err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeDatabase, "Failed to update website", err)
		return
	}
	h.resolver.Invalidate(website.ID)
	h.auditWebsite(r, audit.EventTypeWebsiteUpdated, website, map[string]interface{}{
		"domain":   website.Domain,
		"isActive": website.IsActive,
	})

	respondSuccess(w, http.StatusOK, website, started)
}

// DeleteWebsite removes a website and all its visits.
func (h *Handler) DeleteWebsite(w http.ResponseWriter, r *http.Request) {
	website, ok := h.ownedWebsite(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteWebsite(r.Context(), website.ID); err != nil && !errors.Is(err, database.ErrWebsiteNotFound) {
		respondError(w, r, http.StatusInternalServerError, ErrCodeDatabase, "Failed to delete website", err)
		return
	}
	h.resolver.Invalidate(website.ID)

	logging.Ctx(r.Context()).Info().Str("website_id", website.ID).Msg("Website deleted")
	h.auditWebsite(r, audit.EventTypeWebsiteDeleted, website, nil)
	w.WriteHeader(http.StatusNoContent)
}

// RegenerateKey replaces a website's API key. The old key stops working at
// once; channels already open under it stay connected until they drop.
func (h *Handler) RegenerateKey(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	website, ok := h.ownedWebsite(w, r)
	if !ok {
		return
	}

	key, err := database.GenerateAPIKey()
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to generate API key", err)
		return
	}
	if err := h.store.RotateAPIKey(r.Context(), website.ID, key); err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeDatabase, "Failed to rotate API key", err)
		return
	}
	h.resolver.Invalidate(website.ID)
	h.auditWebsite(r, audit.EventTypeWebsiteKeyRotated, website, nil)

	website.APIKey = key
	respondSuccess(w, http.StatusOK, website, started)
}
