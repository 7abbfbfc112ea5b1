// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/sitepulse/internal/audit"
	"github.com/tomtom215/sitepulse/internal/auth"
	"github.com/tomtom215/sitepulse/internal/config"
	"github.com/tomtom215/sitepulse/internal/database"
	"github.com/tomtom215/sitepulse/internal/eventprocessor"
	"github.com/tomtom215/sitepulse/internal/ingest"
	"github.com/tomtom215/sitepulse/internal/logging"
	"github.com/tomtom215/sitepulse/internal/models"
	"github.com/tomtom215/sitepulse/internal/persist"
	"github.com/tomtom215/sitepulse/internal/presence"
	"github.com/tomtom215/sitepulse/pkg/protocol"
)

func init() {
	logging.Init(logging.Config{Level: "error", Format: "console", Output: io.Discard})
}

const (
	testAdmin    = "admin"
	testPassword = "correct-horse-battery"
	testAPIKey   = "atk_testkey0000000000000000000000000"
)

// stubChannels records dashboard socket requests and answers 204 instead
// of upgrading.
type stubChannels struct {
	mu      sync.Mutex
	watched []string
}

func (s *stubChannels) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (s *stubChannels) ServeWatch(w http.ResponseWriter, _ *http.Request, website *models.Website) {
	s.mu.Lock()
	s.watched = append(s.watched, website.ID)
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

// memJournal accepts every deferred close.
type memJournal struct {
	mu      sync.Mutex
	entries []interface{}
}

func (j *memJournal) Write(_ context.Context, event interface{}) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, event)
	return "entry", nil
}

type fixture struct {
	store    *database.MemoryStore
	coord    *presence.Coordinator
	channels *stubChannels
	journal  *memJournal
	stats    *eventprocessor.SessionStatsHandler
	audit    *audit.MemoryStore
	server   *httptest.Server
	jwt      *auth.JWTManager
	website  *models.Website
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := &config.Config{
		Presence: config.PresenceConfig{HeartbeatInterval: 30 * time.Second},
		Security: config.SecurityConfig{
			JWTSecret:         "test-secret-with-at-least-32-characters!",
			SessionTimeout:    time.Hour,
			RateLimitDisabled: true,
		},
		Tracker: config.TrackerConfig{PublicURL: "https://pulse.example.com/", SessionDuration: time.Hour},
	}

	store := database.NewMemoryStore()
	journal := &memJournal{}
	dispatcher := persist.NewDispatcher(store, persist.WithJournal(journal))
	coord := presence.NewCoordinator(presence.Config{InactivityThreshold: 5 * time.Minute}, dispatcher, nil)

	jwtManager, err := auth.NewJWTManager(&cfg.Security)
	require.NoError(t, err)
	creds, err := auth.NewCredentials(testAdmin, testPassword, auth.NewLockout(auth.LockoutConfig{MaxAttempts: 3, LockoutDuration: time.Minute}, nil))
	require.NoError(t, err)

	channels := &stubChannels{}
	stats := eventprocessor.NewSessionStatsHandler()
	auditStore := audit.NewMemoryStore(100)
	auditLog := audit.NewLogger(auditStore, audit.DefaultConfig())
	t.Cleanup(func() { _ = auditLog.Close() })
	handler := NewHandler(Dependencies{
		Config:      cfg,
		Store:       store,
		Coordinator: coord,
		Recorder:    ingest.NewIngestor(store, nil),
		Resolver:    ingest.NewKeyResolver(store, 100, time.Minute),
		Channels:    channels,
		JWT:         jwtManager,
		Credentials: creds,
		Stats:       stats,
		Audit:       auditLog,
	})
	router := NewRouter(handler, auth.NewMiddleware(jwtManager), NewChiMiddleware(ChiMiddlewareConfigFrom(&cfg.Security)))

	website := &models.Website{
		OwnerID:  testAdmin,
		Name:     "Blog",
		URL:      "https://blog.example.com",
		Domain:   "blog.example.com",
		APIKey:   testAPIKey,
		IsActive: true,
	}
	require.NoError(t, store.CreateWebsite(context.Background(), website))

	server := httptest.NewServer(router.SetupChi())
	t.Cleanup(server.Close)

	return &fixture{
		store:    store,
		coord:    coord,
		channels: channels,
		journal:  journal,
		stats:    stats,
		audit:    auditStore,
		server:   server,
		jwt:      jwtManager,
		website:  website,
	}
}

func (f *fixture) token(t *testing.T, username string) string {
	t.Helper()
	token, err := f.jwt.GenerateToken(username, auth.RoleAdmin)
	require.NoError(t, err)
	return token
}

func (f *fixture) do(t *testing.T, method, path, token string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

// envelope decodes the data field of a dashboard response into v.
func envelope(t *testing.T, body []byte, v interface{}) models.APIResponse {
	t.Helper()
	var raw struct {
		models.APIResponse
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &raw))
	if v != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, v))
	}
	return raw.APIResponse
}

func visit(sessionID, page string) protocol.Visit {
	return protocol.Visit{
		APIKey:    testAPIKey,
		SessionID: sessionID,
		VisitorID: "vis_abc123def_1700000000000",
		PageURL:   page,
		PageTitle: "Home",
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Screen:    protocol.Screen{Width: 1920, Height: 1080},
	}
}

func TestTrack(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/track", "", visit("ses_1", "https://blog.example.com/"))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var tr protocol.TrackResponse
	require.NoError(t, json.Unmarshal(body, &tr))
	assert.True(t, tr.Success)
	assert.NotEmpty(t, tr.VisitID)

	rows := f.store.Visits(f.website.ID, "ses_1")
	require.Len(t, rows, 1)
	assert.Equal(t, "Chrome", rows[0].Browser)
	assert.Equal(t, "Windows", rows[0].OS)
	assert.Equal(t, "desktop", rows[0].Device)
	assert.Equal(t, "127.0.0.1", rows[0].IPAddress)
	assert.Equal(t, ingest.IPSourceServer, rows[0].IPSource)
	assert.Nil(t, rows[0].SessionDuration)

	// Same visitor and page within the hour.
	resp, body = f.do(t, http.MethodPost, "/api/v1/track", "", visit("ses_1", "https://blog.example.com/"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &tr))
	assert.Equal(t, database.DedupeMessage, tr.Message)
	assert.Len(t, f.store.Visits(f.website.ID, "ses_1"), 1)
}

func TestTrack_Rejections(t *testing.T) {
	f := newFixture(t)

	inactive := &models.Website{OwnerID: testAdmin, Name: "Old", URL: "https://old.example.com", APIKey: "atk_inactive", IsActive: false}
	require.NoError(t, f.store.CreateWebsite(context.Background(), inactive))

	noKey := visit("ses_1", "/")
	noKey.APIKey = ""
	unknown := visit("ses_1", "/")
	unknown.APIKey = "atk_nope"
	off := visit("ses_1", "/")
	off.APIKey = "atk_inactive"
	invalid := visit("", "/")

	tests := []struct {
		name   string
		body   interface{}
		status int
		code   string
	}{
		{"missing key", noKey, http.StatusUnauthorized, ErrCodeInvalidAPIKey},
		{"unknown key", unknown, http.StatusNotFound, ErrCodeInvalidAPIKey},
		{"inactive website", off, http.StatusNotFound, ErrCodeInvalidAPIKey},
		{"missing session id", invalid, http.StatusBadRequest, ErrCodeValidation},
		{"not json", "plain", http.StatusBadRequest, ErrCodeBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.do(t, http.MethodPost, "/api/track", "", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			env := envelope(t, body, nil)
			assert.Equal(t, "error", env.Status)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}
}

func TestTrack_KeyFromHeader(t *testing.T) {
	f := newFixture(t)

	v := visit("ses_h", "/")
	v.APIKey = ""
	data, err := json.Marshal(v)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/api/track", bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set(protocol.APIKeyHeader, testAPIKey)
	req.Header.Set("X-Forwarded-For", "::ffff:203.0.113.9, 10.0.0.1")

	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	rows := f.store.Visits(f.website.ID, "ses_h")
	require.Len(t, rows, 1)
	assert.Equal(t, "203.0.113.9", rows[0].IPAddress)
}

func TestSessionEnd_WritesOnce(t *testing.T) {
	f := newFixture(t)

	_, _ = f.do(t, http.MethodPost, "/api/track", "", visit("ses_1", "/a"))
	_, _ = f.do(t, http.MethodPost, "/api/track", "", visit("ses_1", "/b"))
	v := visit("ses_1", "/b")
	f.coord.SessionStart(f.website.ID, presence.ChannelID(7), &v)
	require.Equal(t, 1, f.coord.ActiveCount(f.website.ID))

	end := protocol.SessionEnd{APIKey: testAPIKey, SessionID: "ses_1", Duration: 45000}
	resp, body := f.do(t, http.MethodPost, "/api/session-end", "", end)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var ser protocol.SessionEndResponse
	require.NoError(t, json.Unmarshal(body, &ser))
	assert.True(t, ser.Success)
	assert.Equal(t, int64(2), ser.Updated)
	assert.Zero(t, f.coord.ActiveCount(f.website.ID), "live entry removed by the end signal")

	for _, row := range f.store.Visits(f.website.ID, "ses_1") {
		require.NotNil(t, row.SessionDuration)
		assert.Equal(t, int64(45000), *row.SessionDuration)
	}

	end.Duration = 99000
	resp, body = f.do(t, http.MethodPost, "/api/v1/session-end", "", end)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &ser))
	assert.Zero(t, ser.Updated)
	for _, row := range f.store.Visits(f.website.ID, "ses_1") {
		assert.Equal(t, int64(45000), *row.SessionDuration)
	}
}

func TestSessionEnd_NonPositiveDurationWithoutLiveSession(t *testing.T) {
	for _, duration := range []int64{0, -5000} {
		t.Run(fmt.Sprintf("duration %d", duration), func(t *testing.T) {
			f := newFixture(t)
			_, _ = f.do(t, http.MethodPost, "/api/track", "", visit("ses_z", "/"))

			resp, body := f.do(t, http.MethodPost, "/api/session-end", "", protocol.SessionEnd{APIKey: testAPIKey, SessionID: "ses_z", Duration: duration})
			require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
			var ser protocol.SessionEndResponse
			require.NoError(t, json.Unmarshal(body, &ser))
			assert.True(t, ser.Success)
			assert.Zero(t, ser.Updated)
			assert.Nil(t, f.store.Visits(f.website.ID, "ses_z")[0].SessionDuration)
		})
	}
}

func TestSessionEnd_DeferredWhenStoreFails(t *testing.T) {
	f := newFixture(t)
	_, _ = f.do(t, http.MethodPost, "/api/track", "", visit("ses_1", "/"))
	f.store.SetCloseError(errors.New("database is locked"))

	resp, body := f.do(t, http.MethodPost, "/api/session-end", "", protocol.SessionEnd{APIKey: testAPIKey, SessionID: "ses_1", Duration: 1000})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	var ser protocol.SessionEndResponse
	require.NoError(t, json.Unmarshal(body, &ser))
	assert.True(t, ser.Success)
	assert.Zero(t, ser.Updated)

	f.journal.mu.Lock()
	defer f.journal.mu.Unlock()
	assert.Len(t, f.journal.entries, 1)
}

func TestTrackerConfig(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/api/v1/tracker/config?key="+testAPIKey, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var tc protocol.TrackerConfig
	require.NoError(t, json.Unmarshal(body, &tc))
	assert.Equal(t, "https://pulse.example.com/api/track", tc.TrackerURL)
	assert.Equal(t, "https://pulse.example.com/api/session-end", tc.SessionEndURL)
	assert.Equal(t, "wss://pulse.example.com/ws", tc.ChannelURL)
	assert.Equal(t, int64(time.Hour/time.Millisecond), tc.SessionDuration)
	assert.Equal(t, int64(30000), tc.HeartbeatInterval)

	resp, _ = f.do(t, http.MethodGet, "/api/v1/tracker/config?key=atk_nope", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestChannelURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:3857", channelURL("http://localhost:3857"))
	assert.Equal(t, "wss://a.b", channelURL("https://a.b"))
	assert.Equal(t, "a.b", channelURL("a.b"))
}

func TestLogin(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/v1/auth/login", "", models.LoginRequest{Username: testAdmin, Password: testPassword})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var lr models.LoginResponse
	env := envelope(t, body, &lr)
	assert.Equal(t, "success", env.Status)
	claims, err := f.jwt.ValidateToken(lr.Token)
	require.NoError(t, err)
	assert.Equal(t, testAdmin, claims.Username)

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == auth.TokenCookie {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
}

func TestLogin_FailuresLockOut(t *testing.T) {
	f := newFixture(t)
	bad := models.LoginRequest{Username: testAdmin, Password: "wrong-password"}

	for i := 0; i < 2; i++ {
		resp, _ := f.do(t, http.MethodPost, "/api/v1/auth/login", "", bad)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
	resp, _ := f.do(t, http.MethodPost, "/api/v1/auth/login", "", bad)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/v1/auth/login", "", models.LoginRequest{Username: testAdmin, Password: testPassword})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestAuditEvents(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/api/v1/auth/login", "", models.LoginRequest{Username: testAdmin, Password: "wrong-password"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPost, "/api/v1/auth/login", "", models.LoginRequest{Username: testAdmin, Password: testPassword})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	token := f.token(t, testAdmin)
	resp, body := f.do(t, http.MethodPost, "/api/v1/websites", token, models.WebsiteRequest{Name: "Docs", URL: "https://docs.example.com"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var created models.Website
	envelope(t, body, &created)

	var events []audit.Event
	require.Eventually(t, func() bool {
		_, body := f.do(t, http.MethodGet, "/api/v1/audit", token, nil)
		events = nil
		envelope(t, body, &events)
		return len(events) == 3
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, audit.EventTypeWebsiteCreated, events[0].Type)
	require.NotNil(t, events[0].Target)
	assert.Equal(t, created.ID, events[0].Target.ID)
	assert.Equal(t, audit.EventTypeAuthSuccess, events[1].Type)
	assert.Equal(t, audit.EventTypeAuthFailure, events[2].Type)
	assert.Equal(t, "127.0.0.1", events[2].Source.IPAddress)

	resp, body = f.do(t, http.MethodGet, "/api/v1/audit?type=auth.failure,auth.lockout", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events = nil
	envelope(t, body, &events)
	require.Len(t, events, 1)

	// Another user's trail is empty.
	_, body = f.do(t, http.MethodGet, "/api/v1/audit", f.token(t, "mallory"), nil)
	events = nil
	envelope(t, body, &events)
	assert.Empty(t, events)

	resp, _ = f.do(t, http.MethodGet, "/api/v1/audit?limit=0", token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/api/v1/audit?since=yesterday", token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/api/v1/audit", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebsites_RequireToken(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, http.MethodGet, "/api/v1/websites", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebsites_CRUD(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, testAdmin)

	resp, body := f.do(t, http.MethodPost, "/api/v1/websites", token, models.WebsiteRequest{Name: "Shop", URL: "https://www.shop.example.com/path"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var created models.Website
	envelope(t, body, &created)
	assert.NotEmpty(t, created.ID)
	assert.True(t, strings.HasPrefix(created.APIKey, database.APIKeyPrefix))
	assert.True(t, created.IsActive)
	assert.Equal(t, testAdmin, created.OwnerID)
	assert.Equal(t, "www.shop.example.com", created.Domain)
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))

	resp, body = f.do(t, http.MethodGet, "/api/v1/websites", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []models.Website
	envelope(t, body, &list)
	assert.Len(t, list, 2)

	// Deactivate: the key stops resolving.
	off := false
	resp, body = f.do(t, http.MethodPut, "/api/v1/websites/"+created.ID, token, models.WebsiteRequest{Name: "Shop 2", URL: created.URL, IsActive: &off})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	v := visit("ses_x", "/")
	v.APIKey = created.APIKey
	resp, _ = f.do(t, http.MethodPost, "/api/track", "", v)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	on := true
	resp, _ = f.do(t, http.MethodPut, "/api/v1/websites/"+created.ID, token, models.WebsiteRequest{Name: "Shop 2", URL: created.URL, IsActive: &on})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Rotate: the old key stops working, the new one works.
	resp, body = f.do(t, http.MethodPost, "/api/v1/websites/"+created.ID+"/regenerate-key", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var rotated models.Website
	envelope(t, body, &rotated)
	assert.NotEqual(t, created.APIKey, rotated.APIKey)

	resp, _ = f.do(t, http.MethodPost, "/api/track", "", v)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	v.APIKey = rotated.APIKey
	resp, _ = f.do(t, http.MethodPost, "/api/track", "", v)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = f.do(t, http.MethodDelete, "/api/v1/websites/"+created.ID, token, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/api/v1/websites/"+created.ID, token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebsites_OtherOwnerIsNotFound(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, "mallory")

	for _, path := range []string{
		"/api/v1/websites/" + f.website.ID,
		"/api/v1/websites/" + f.website.ID + "/active",
		"/api/v1/websites/" + f.website.ID + "/summary",
		"/api/v1/websites/" + f.website.ID + "/live",
	} {
		resp, _ := f.do(t, http.MethodGet, path, token, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
	assert.Empty(t, f.channels.watched)

	resp, body := f.do(t, http.MethodGet, "/api/v1/websites", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []models.Website
	envelope(t, body, &list)
	assert.Empty(t, list)
}

func TestWebsites_CreateValidation(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodPost, "/api/v1/websites", f.token(t, testAdmin), models.WebsiteRequest{Name: "", URL: "nope"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	env := envelope(t, body, nil)
	require.NotNil(t, env.Error)
	assert.Equal(t, ErrCodeValidation, env.Error.Code)
}

func TestActiveSessions(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, testAdmin)

	v := visit("ses_live", "https://blog.example.com/pricing")
	f.coord.SessionStart(f.website.ID, presence.ChannelID(1), &v)

	resp, body := f.do(t, http.MethodGet, "/api/v1/websites/"+f.website.ID+"/active", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var update protocol.ActiveSessionsUpdate
	envelope(t, body, &update)
	assert.Equal(t, 1, update.ActiveCount)
	require.Len(t, update.Sessions, 1)
	assert.Equal(t, "ses_live", update.Sessions[0].SessionID)
	assert.Equal(t, "https://blog.example.com/pricing", update.Sessions[0].PageURL)

	f.coord.Disconnect(f.website.ID, presence.ChannelID(1))
	_, body = f.do(t, http.MethodGet, "/api/v1/websites/"+f.website.ID+"/active", token, nil)
	envelope(t, body, &update)
	assert.Zero(t, update.ActiveCount)
	assert.NotNil(t, update.Sessions)
}

func TestDashboard(t *testing.T) {
	f := newFixture(t)

	_, _ = f.do(t, http.MethodPost, "/api/track", "", visit("ses_1", "/a"))
	_, _ = f.do(t, http.MethodPost, "/api/track", "", visit("ses_1", "/b"))
	_, _ = f.do(t, http.MethodPost, "/api/session-end", "", protocol.SessionEnd{APIKey: testAPIKey, SessionID: "ses_1", Duration: 60000})
	live := visit("ses_2", "/a")
	f.coord.SessionStart(f.website.ID, presence.ChannelID(3), &live)

	resp, body := f.do(t, http.MethodGet, "/api/v1/dashboard", f.token(t, testAdmin), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var dash models.Dashboard
	envelope(t, body, &dash)
	assert.Equal(t, 1, dash.Websites)
	assert.Equal(t, int64(1), dash.TotalVisitors)
	assert.Equal(t, int64(2), dash.TotalPageViews)
	assert.InDelta(t, 60.0, dash.AvgSessionDuration, 0.001)
	assert.Equal(t, 1, dash.ActiveSessions)
	assert.Equal(t, []models.Breakdown{{Name: "Desktop", Count: 2}}, dash.DeviceData)
	require.Len(t, dash.ChartData, 24)
	var charted int64
	for _, p := range dash.ChartData {
		charted += p.PageViews
	}
	assert.Equal(t, int64(2), charted)

	resp, body = f.do(t, http.MethodGet, "/api/v1/dashboard", f.token(t, "someone-else"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var other models.Dashboard
	envelope(t, body, &other)
	assert.Zero(t, other.Websites)
	assert.Zero(t, other.TotalPageViews)
	assert.Zero(t, other.ActiveSessions)
	assert.Len(t, other.ChartData, 24)

	resp, _ = f.do(t, http.MethodGet, "/api/v1/dashboard", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSummaryAndSessionDetail(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, testAdmin)

	_, _ = f.do(t, http.MethodPost, "/api/track", "", visit("ses_1", "/a"))
	_, _ = f.do(t, http.MethodPost, "/api/track", "", visit("ses_1", "/b"))
	_, _ = f.do(t, http.MethodPost, "/api/session-end", "", protocol.SessionEnd{APIKey: testAPIKey, SessionID: "ses_1", Duration: 60000})

	resp, body := f.do(t, http.MethodGet, "/api/v1/websites/"+f.website.ID+"/summary?period=7d", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var summary models.Summary
	envelope(t, body, &summary)
	assert.Equal(t, int64(1), summary.TotalVisitors)
	assert.Equal(t, int64(2), summary.TotalPageViews)
	assert.InDelta(t, 60.0, summary.AvgSessionDuration, 0.001)
	require.NotEmpty(t, summary.Browsers)
	assert.Equal(t, "Chrome", summary.Browsers[0].Name)

	resp, _ = f.do(t, http.MethodGet, "/api/v1/websites/"+f.website.ID+"/summary?period=1y", token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/api/v1/websites/"+f.website.ID+"/sessions/ses_1", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var detail models.SessionDetail
	envelope(t, body, &detail)
	assert.Len(t, detail.PageViews, 2)
	require.NotNil(t, detail.SessionDuration)
	assert.Equal(t, int64(60000), *detail.SessionDuration)

	resp, _ = f.do(t, http.MethodGet, "/api/v1/websites/"+f.website.ID+"/sessions/ses_missing", token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSessionStats(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodGet, "/api/v1/websites/"+f.website.ID+"/stats", f.token(t, testAdmin), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats sessionStatsResponse
	envelope(t, body, &stats)
	assert.Zero(t, stats.SessionsClosed)
	assert.NotNil(t, stats.ClosedByTrigger)
}

func TestLiveSessions_ServesWatch(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, http.MethodGet, "/api/v1/websites/"+f.website.ID+"/live?token="+f.token(t, testAdmin), "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []string{f.website.ID}, f.channels.watched)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health HealthStatus
	envelope(t, body, &health)
	assert.Equal(t, "healthy", health.Status)
	assert.True(t, health.DatabaseConnected)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	_, _ = f.do(t, http.MethodGet, "/health", "", nil)
	resp, body := f.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "presence_live_sessions")
}

func TestRateLimit(t *testing.T) {
	mw := NewChiMiddleware(&ChiMiddlewareConfig{RateLimitRequests: 2, RateLimitWindow: time.Minute})
	h := mw.RateLimit()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/track", nil)
		req.RemoteAddr = "198.51.100.7:5000"
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)
}

func TestSanitizeLogValue(t *testing.T) {
	assert.Equal(t, `a\x0ab`, sanitizeLogValue("a\nb"))
	assert.Equal(t, "plain", sanitizeLogValue("plain"))
}
