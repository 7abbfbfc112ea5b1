// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

// Package cache provides a bounded, TTL-expiring LRU cache.
//
// It fronts hot read paths that would otherwise hit the store on every
// request, such as resolving a tracker API key to its website on each
// ingestion call and channel handshake.
package cache
