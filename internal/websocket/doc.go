// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

/*
Package websocket implements the server side of the realtime channel.

Tracker SDKs connect with their website API key; the handshake is rejected
before the upgrade when the key is missing (401), unknown or belongs to an
inactive website (403). Each accepted connection joins the room of its
website, so presence updates fan out only to that website's channels.

Architecture:

	             ┌──────────────┐
	frames  ───► │   Client     │ ──► Presence (session-start, page-view, heartbeat)
	             │ readPump     │ ──► Recorder (visit rows)
	             │ writePump ◄──┼──── Hub room "website-id" ◄── BroadcastToWebsite
	             └──────────────┘

Each client has two goroutines:
  - readPump: decodes frames and drives the presence coordinator; on exit
    it disconnects the channel's sessions and unregisters from the hub
  - writePump: writes queued frames and pings

Dashboard watchers connect through ServeWatch after JWT authorization. They
receive the current snapshot immediately and every update afterwards, and
their inbound frames are ignored.

Frames:

	{"type": "session-start", "data": {...Visit}}
	{"type": "page-view", "data": {"sessionId": "...", "pageUrl": "...", "pageTitle": "..."}}
	{"type": "heartbeat", "data": {"sessionId": "..."}}
	{"type": "active-sessions-update", "data": {"activeCount": 2, "sessions": [...]}}
	{"type": "error", "data": {"code": "invalid_payload", "message": "..."}}

A client whose send queue is full when a broadcast arrives is disconnected
rather than allowed to stall the room.

Configuration:
  - writeWait: 10 seconds
  - pongWait: 60 seconds
  - pingPeriod: 54 seconds
  - maxMessageSize: 64 KB
*/
package websocket
