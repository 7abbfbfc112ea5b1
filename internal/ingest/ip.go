// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package ingest

import (
	"net"
	"net/http"
	"strings"
)

// IPSourceServer marks an address taken from the connection rather than
// reported by the client.
const IPSourceServer = "server"

// ClientIP returns the caller address: first X-Forwarded-For hop, then
// X-Real-IP, then RemoteAddr. IPv4-mapped IPv6 addresses are unwrapped.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return NormalizeIP(ip)
		}
	}
	if xr := strings.TrimSpace(r.Header.Get("X-Real-IP")); xr != "" {
		return NormalizeIP(xr)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return NormalizeIP(r.RemoteAddr)
	}
	return NormalizeIP(host)
}

// NormalizeIP strips the ::ffff: prefix of IPv4-mapped addresses.
func NormalizeIP(ip string) string {
	return strings.TrimPrefix(ip, "::ffff:")
}
