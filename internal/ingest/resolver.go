// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package ingest

import (
	"context"
	"time"

	"github.com/tomtom215/sitepulse/internal/cache"
	"github.com/tomtom215/sitepulse/internal/database"
	"github.com/tomtom215/sitepulse/internal/models"
)

// KeyResolver maps tracker API keys to active websites, caching hits.
// Unknown keys are not cached so a newly created website resolves at once.
type KeyResolver struct {
	store database.WebsiteStore
	cache *cache.LRU[models.Website]
}

// NewKeyResolver caches up to capacity websites for ttl.
func NewKeyResolver(store database.WebsiteStore, capacity int, ttl time.Duration, opts ...cache.Option) *KeyResolver {
	return &KeyResolver{
		store: store,
		cache: cache.NewLRU[models.Website](capacity, ttl, opts...),
	}
}

// Resolve returns the active website owning apiKey, or
// database.ErrWebsiteNotFound / database.ErrWebsiteInactive.
func (r *KeyResolver) Resolve(ctx context.Context, apiKey string) (*models.Website, error) {
	if apiKey == "" {
		return nil, database.ErrWebsiteNotFound
	}
	if w, ok := r.cache.Get(apiKey); ok {
		if !w.IsActive {
			return nil, database.ErrWebsiteInactive
		}
		return &w, nil
	}

	w, err := r.store.WebsiteByAPIKey(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	r.cache.Add(apiKey, *w)
	if !w.IsActive {
		return nil, database.ErrWebsiteInactive
	}
	return w, nil
}

// Invalidate drops every cached key of websiteID. Call it after the
// website is updated, deleted or has its key rotated.
func (r *KeyResolver) Invalidate(websiteID string) {
	r.cache.RemoveFunc(func(w models.Website) bool { return w.ID == websiteID })
}
