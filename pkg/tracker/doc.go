// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

/*
Package tracker is the client SDK for SitePulse.

A Tracker reports one browsing context: it resolves a persistent visitor id
and a rolling session id, collects a visit payload with bounded-latency
enrichment, and delivers it over the realtime channel, falling back to the
HTTP endpoints when the channel cannot be established or is lost.

Usage:

	store, err := tracker.OpenFileStorage(filepath.Join(dir, "sitepulse.json"))
	if err != nil {
		return err
	}
	tr, err := tracker.New(ctx, tracker.Config{
		APIKey:    "atk_...",
		ServerURL: "https://pulse.example.com",
		Storage:   store,
	})
	if err != nil {
		return err
	}
	if err := tr.Start(ctx, tracker.Page{URL: pageURL, Title: title}); err != nil {
		log.Printf("track: %v", err)
	}

	// On unload: report the duration first, then disconnect.
	_, _ = tr.End(ctx)
	_ = tr.Close()

# Identity

Visitor id, session id, session start and last activity are kept in a
Storage under opaque keys. A session id is reused while the gap between
activities stays within the session duration (one hour by default). When the
Storage fails, Identity continues in memory.

# Enrichment

The public address is resolved by trying a list of lookup services in order,
each bounded by a timeout. A local private address probe runs alongside; it
is used when every service fails, and "unknown" when neither yields an
address. Battery state is read from sysfs where available.

# Delivery

The channel sends session-start on connect and on every reconnect, a
heartbeat every HeartbeatInterval, and page-view frames on navigation.
Handshake rejections (401, 403, 404) are not retried. Load, visibility and
resize triggers re-collect the current page through the Scheduler.
*/
package tracker
