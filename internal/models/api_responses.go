// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package models

import (
	"time"
)

// APIResponse is the envelope of every dashboard API response.
//
//	{
//	  "status": "success",
//	  "data": {"activeCount": 3, "sessions": [...]},
//	  "metadata": {"timestamp": "2026-05-01T12:00:00Z", "query_time_ms": 2}
//	}
//
// Status is "success" or "error"; Error is set only for errors.
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata contains response timing information.
type Metadata struct {
	Timestamp   time.Time `json:"timestamp"`
	QueryTimeMS int64     `json:"query_time_ms,omitempty"`
}

// APIError is a machine-readable error.
//
// Common codes: VALIDATION_ERROR, INVALID_API_KEY, WEBSITE_INACTIVE,
// NOT_FOUND, UNAUTHORIZED, FORBIDDEN, DATABASE_ERROR, RATE_LIMIT_EXCEEDED.
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}
