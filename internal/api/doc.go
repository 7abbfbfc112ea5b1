// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

/*
Package api provides the HTTP surface of SitePulse.

Routes fall into two groups with different authentication and CORS rules.

Tracker endpoints are called from instrumented pages on any origin and are
authenticated by the website API key (body field, X-API-Key header or ?key=):

	GET  /ws                        presence channel (websocket upgrade)
	GET  /api/v1/tracker/config     endpoint URLs and timing for SDK clients
	POST /api/track                 record a visit (HTTP fallback)
	POST /api/session-end           report an explicit end of session

The v1 aliases /api/v1/track and /api/v1/session-end are also served.

Dashboard endpoints live under /api/v1, require a JWT issued by
POST /api/v1/auth/login and only expose websites owned by the caller:

	GET|POST        /api/v1/websites
	GET|PUT|DELETE  /api/v1/websites/{id}
	POST            /api/v1/websites/{id}/regenerate-key
	GET             /api/v1/websites/{id}/active
	GET             /api/v1/websites/{id}/summary?period=24h|7d|30d
	GET             /api/v1/websites/{id}/stats
	GET             /api/v1/websites/{id}/sessions/{sessionID}
	GET             /api/v1/websites/{id}/live   (websocket upgrade)

Dashboard responses use the models.APIResponse envelope. Tracker responses
are the flat protocol types so the SDK can decode them directly.
*/
package api
