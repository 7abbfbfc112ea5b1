// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package tracker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/sitepulse/pkg/protocol"
	"github.com/tomtom215/sitepulse/pkg/useragent"
)

const uaChromeWindows = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.6099.109 Safari/537.36"

func staticProbe(addr string) LocalProbeFunc {
	return func(context.Context) (string, error) { return addr, nil }
}

func jsonServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func hostOf(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.Host
}

func TestCollector_CascadeTakesFirstSuccess(t *testing.T) {
	t.Parallel()

	failing := jsonServer(t, http.StatusInternalServerError, `{}`)
	empty := jsonServer(t, http.StatusOK, `{"country":"NO"}`)
	good := jsonServer(t, http.StatusOK,
		`{"ip":"203.0.113.7","country":"NO","country_name":"Norway","city":"Oslo","region":"Oslo","org":"AS64500 Example Net"}`)
	var laterCalls atomic.Int32
	later := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		laterCalls.Add(1)
		_, _ = w.Write([]byte(`{"ip":"198.51.100.1"}`))
	}))
	defer later.Close()

	c := NewCollector(
		WithIPServices(failing.URL, empty.URL, good.URL, later.URL),
		WithLocalProbe(staticProbe("192.168.1.20")),
	)
	info := c.ResolveIP(context.Background())

	assert.Equal(t, IPInfo{
		IP:      "203.0.113.7",
		Source:  hostOf(t, good.URL),
		Country: "Norway",
		City:    "Oslo",
		Region:  "Oslo",
		ISP:     "AS64500 Example Net",
	}, info)
	assert.Zero(t, laterCalls.Load())
}

func TestCollector_AlternateAddressFields(t *testing.T) {
	t.Parallel()

	query := jsonServer(t, http.StatusOK, `{"query":"198.51.100.2","country":"Canada"}`)
	info := NewCollector(WithIPServices(query.URL), WithLocalProbe(nil)).ResolveIP(context.Background())
	assert.Equal(t, "198.51.100.2", info.IP)
	assert.Equal(t, "Canada", info.Country)

	ipAddress := jsonServer(t, http.StatusOK, `{"ipAddress":"198.51.100.3"}`)
	info = NewCollector(WithIPServices(ipAddress.URL), WithLocalProbe(nil)).ResolveIP(context.Background())
	assert.Equal(t, "198.51.100.3", info.IP)
}

func TestCollector_LookupTimeoutIsBounded(t *testing.T) {
	t.Parallel()

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer slow.Close()

	c := NewCollector(
		WithIPServices(slow.URL, slow.URL),
		WithTimeouts(50*time.Millisecond, 50*time.Millisecond),
		WithLocalProbe(staticProbe("")),
	)

	started := time.Now()
	info := c.ResolveIP(context.Background())
	assert.Less(t, time.Since(started), 2*time.Second)
	assert.Equal(t, IPInfo{IP: IPSourceUnknown, Source: IPSourceUnknown}, info)
}

func TestCollector_FallsBackToLocalAddress(t *testing.T) {
	t.Parallel()

	down := jsonServer(t, http.StatusNotFound, `{}`)

	info := NewCollector(WithIPServices(down.URL), WithLocalProbe(staticProbe("10.1.2.3"))).
		ResolveIP(context.Background())
	assert.Equal(t, IPInfo{IP: "10.1.2.3", Source: IPSourceLocal}, info)

	// Public addresses from the probe are not trusted as local.
	info = NewCollector(WithIPServices(down.URL), WithLocalProbe(staticProbe("8.8.8.8"))).
		ResolveIP(context.Background())
	assert.Equal(t, IPInfo{IP: IPSourceUnknown, Source: IPSourceUnknown}, info)
}

func TestCollector_SlowProbeIsAbandoned(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)

	c := NewCollector(
		WithIPServices(),
		WithTimeouts(0, 30*time.Millisecond),
		WithLocalProbe(func(ctx context.Context) (string, error) {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return "10.0.0.9", errors.New("too late")
		}),
	)
	assert.Empty(t, c.ProbeLocal(context.Background()))
}

func TestCollector_Collect(t *testing.T) {
	t.Parallel()

	lookup := jsonServer(t, http.StatusOK, `{"ip":"203.0.113.9","country_name":"Japan","city":"Tokyo"}`)
	level, charging := 0.42, true
	mClock := quartz.NewMock(t)

	c := NewCollector(
		WithIPServices(lookup.URL),
		WithLocalProbe(staticProbe("192.168.0.4")),
		WithBattery(func(context.Context) (Battery, error) {
			return Battery{Level: &level, Charging: &charging}, nil
		}),
		WithCollectorClock(mClock),
		WithEnvironment(Environment{
			UserAgent: uaChromeWindows,
			Screen:    protocol.Screen{Width: 1920, Height: 1080},
			Viewport:  protocol.Screen{Width: 1600, Height: 900},
			Timezone:  "Asia/Tokyo",
			Language:  "ja-JP",
			Hints:     protocol.Environment{Connection: "4g"},
		}),
	)

	start := mClock.Now().Add(-time.Minute)
	v := c.Collect(context.Background(), "vis_a", "ses_b", start, Page{
		URL:      "https://example.com/pricing",
		Title:    "Pricing",
		Referrer: "https://search.example/",
	})

	assert.Equal(t, "vis_a", v.VisitorID)
	assert.Equal(t, "ses_b", v.SessionID)
	assert.Equal(t, start.UnixMilli(), v.SessionStart)
	assert.Equal(t, mClock.Now().UnixMilli(), v.Timestamp)
	assert.Equal(t, "https://example.com/pricing", v.PageURL)
	assert.Equal(t, "Pricing", v.PageTitle)
	assert.Equal(t, "https://search.example/", v.Referrer)

	assert.Equal(t, "Chrome", v.Browser)
	assert.Equal(t, "Windows", v.OS)
	assert.Equal(t, useragent.DeviceDesktop, v.Device)
	assert.Equal(t, 1920, v.Screen.Width)
	assert.Equal(t, "Asia/Tokyo", v.Timezone)
	assert.Equal(t, "4g", v.Environment.Connection)

	assert.Equal(t, "203.0.113.9", v.IPAddress)
	assert.Equal(t, hostOf(t, lookup.URL), v.IPSource)
	assert.Equal(t, "Japan", v.Country)

	require.NotNil(t, v.BatteryLevel)
	assert.InDelta(t, 0.42, *v.BatteryLevel, 1e-9)
	require.NotNil(t, v.BatteryCharging)
	assert.True(t, *v.BatteryCharging)
}

func TestCollector_CollectWithoutEnrichment(t *testing.T) {
	t.Parallel()

	c := NewCollector(
		WithIPServices(),
		WithLocalProbe(nil),
		WithBattery(func(context.Context) (Battery, error) { return Battery{}, errors.New("no battery") }),
	)
	v := c.Collect(context.Background(), "vis_a", "ses_b", time.Now(), Page{URL: "https://example.com/"})

	assert.Equal(t, IPSourceUnknown, v.IPAddress)
	assert.Equal(t, IPSourceUnknown, v.IPSource)
	assert.Nil(t, v.BatteryLevel)
	assert.Nil(t, v.BatteryCharging)
}

func TestIsPrivateIPv4(t *testing.T) {
	t.Parallel()

	tests := []struct {
		addr string
		want bool
	}{
		{"10.0.0.1", true},
		{"10.255.255.255", true},
		{"172.16.0.1", true},
		{"172.31.255.254", true},
		{"172.32.0.1", false},
		{"172.15.255.255", false},
		{"192.168.1.1", true},
		{"192.169.0.1", false},
		{"8.8.8.8", false},
		{"127.0.0.1", false},
		{"fd00::1", false},
		{"", false},
		{"not-an-ip", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsPrivateIPv4(tt.addr), tt.addr)
	}
}

// ReadBattery tests share powerSupplyRoot and must not run in parallel.
func TestReadBattery(t *testing.T) {
	root := t.TempDir()
	prev := powerSupplyRoot
	powerSupplyRoot = root
	t.Cleanup(func() { powerSupplyRoot = prev })

	b, err := ReadBattery(context.Background())
	require.NoError(t, err)
	assert.Nil(t, b.Level)
	assert.Nil(t, b.Charging)

	bat := filepath.Join(root, "BAT0")
	require.NoError(t, os.Mkdir(bat, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bat, "capacity"), []byte("87\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(bat, "status"), []byte("Discharging\n"), 0o644))

	b, err = ReadBattery(context.Background())
	require.NoError(t, err)
	require.NotNil(t, b.Level)
	assert.InDelta(t, 0.87, *b.Level, 1e-9)
	require.NotNil(t, b.Charging)
	assert.False(t, *b.Charging)

	require.NoError(t, os.WriteFile(filepath.Join(bat, "status"), []byte("Charging\n"), 0o644))
	b, err = ReadBattery(context.Background())
	require.NoError(t, err)
	assert.True(t, *b.Charging)
}
