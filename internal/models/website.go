// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package models

import "time"

// Website is a tracked site. Its APIKey authenticates tracker traffic.
type Website struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Domain    string    `json:"domain"`
	APIKey    string    `json:"apiKey"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
}

// WebsiteRequest is the body of website create and update calls.
type WebsiteRequest struct {
	Name     string `json:"name" validate:"required,max=200"`
	URL      string `json:"url" validate:"required,url,max=2048"`
	IsActive *bool  `json:"isActive,omitempty"`
}

// LoginRequest is the body of the dashboard login call.
type LoginRequest struct {
	Username string `json:"username" validate:"required,max=128"`
	Password string `json:"password" validate:"required,max=256"`
}

// LoginResponse carries an issued dashboard token.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}
