// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package tracker

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/quartz"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/sitepulse/pkg/protocol"
	"github.com/tomtom215/sitepulse/pkg/useragent"
)

// Enrichment bounds.
const (
	DefaultIPLookupTimeout   = 3 * time.Second
	DefaultLocalProbeTimeout = 2 * time.Second
)

// IP source values other than a lookup service host.
const (
	IPSourceLocal   = "local"
	IPSourceUnknown = "unknown"
)

// DefaultIPServices are tried in order until one returns an address.
var DefaultIPServices = []string{
	"https://api.ipify.org?format=json",
	"https://api64.ipify.org?format=json",
	"https://ipapi.co/json/",
	"https://ipinfo.io/json",
	"https://api.myip.com",
}

// IPInfo is the outcome of address resolution. IP is never empty: it falls
// back to a private local address and then to "unknown".
type IPInfo struct {
	IP      string
	Source  string
	Country string
	City    string
	Region  string
	ISP     string
}

// Battery is the power state. Nil fields mean unsupported.
type Battery struct {
	Level    *float64
	Charging *bool
}

// LocalProbeFunc returns a private address of this host, or "" if none.
type LocalProbeFunc func(ctx context.Context) (string, error)

// BatteryFunc reads the power state.
type BatteryFunc func(ctx context.Context) (Battery, error)

// Environment describes the client the tracker runs in. It is fixed for the
// lifetime of a Collector.
type Environment struct {
	UserAgent string
	Screen    protocol.Screen
	Viewport  protocol.Screen
	Timezone  string
	Language  string
	Hints     protocol.Environment
}

// Page is the document a visit refers to.
type Page struct {
	URL      string
	Title    string
	Referrer string
}

// Collector assembles visit payloads with bounded-latency enrichment.
type Collector struct {
	client        *http.Client
	services      []string
	lookupTimeout time.Duration
	probeTimeout  time.Duration
	probe         LocalProbeFunc
	battery       BatteryFunc
	env           Environment
	clock         quartz.Clock
	logger        zerolog.Logger
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithHTTPClient sets the client used for IP lookups.
func WithHTTPClient(c *http.Client) CollectorOption {
	return func(col *Collector) { col.client = c }
}

// WithIPServices replaces the lookup list.
func WithIPServices(services ...string) CollectorOption {
	return func(col *Collector) { col.services = services }
}

// WithTimeouts overrides the per-service and local probe bounds.
func WithTimeouts(lookup, probe time.Duration) CollectorOption {
	return func(col *Collector) {
		if lookup > 0 {
			col.lookupTimeout = lookup
		}
		if probe > 0 {
			col.probeTimeout = probe
		}
	}
}

// WithLocalProbe replaces the local address probe.
func WithLocalProbe(f LocalProbeFunc) CollectorOption {
	return func(col *Collector) { col.probe = f }
}

// WithBattery replaces the power state reader.
func WithBattery(f BatteryFunc) CollectorOption {
	return func(col *Collector) { col.battery = f }
}

// WithEnvironment sets the client description.
func WithEnvironment(env Environment) CollectorOption {
	return func(col *Collector) { col.env = env }
}

// WithCollectorClock sets the clock used for payload timestamps.
func WithCollectorClock(c quartz.Clock) CollectorOption {
	return func(col *Collector) { col.clock = c }
}

// WithCollectorLogger sets the logger for enrichment failures.
func WithCollectorLogger(l zerolog.Logger) CollectorOption {
	return func(col *Collector) { col.logger = l }
}

// NewCollector creates a collector with the default services and probes.
func NewCollector(opts ...CollectorOption) *Collector {
	c := &Collector{
		client:        &http.Client{},
		services:      DefaultIPServices,
		lookupTimeout: DefaultIPLookupTimeout,
		probeTimeout:  DefaultLocalProbeTimeout,
		probe:         ProbeLocalAddress,
		battery:       ReadBattery,
		clock:         quartz.NewReal(),
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect builds a session-start payload. Enrichment runs concurrently and
// degrades instead of failing; the worst-case latency is
// len(services)*lookupTimeout.
func (c *Collector) Collect(ctx context.Context, visitorID, sessionID string, sessionStart time.Time, page Page) *protocol.Visit {
	var (
		cascade IPInfo
		local   string
		battery Battery
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cascade = c.resolveCascade(gctx)
		return nil
	})
	g.Go(func() error {
		local = c.ProbeLocal(gctx)
		return nil
	})
	g.Go(func() error {
		battery = c.Battery(gctx)
		return nil
	})
	_ = g.Wait()

	ip := cascade
	switch {
	case ip.IP != "":
	case local != "":
		ip = IPInfo{IP: local, Source: IPSourceLocal}
	default:
		ip = IPInfo{IP: IPSourceUnknown, Source: IPSourceUnknown}
	}

	ua := useragent.Parse(c.env.UserAgent, c.env.Screen.Width)
	return &protocol.Visit{
		SessionID:       sessionID,
		VisitorID:       visitorID,
		SessionStart:    sessionStart.UnixMilli(),
		Timestamp:       c.clock.Now().UnixMilli(),
		PageURL:         page.URL,
		PageTitle:       page.Title,
		Referrer:        page.Referrer,
		UserAgent:       c.env.UserAgent,
		Browser:         ua.Browser,
		BrowserVersion:  ua.BrowserVersion,
		OS:              ua.OS,
		OSVersion:       ua.OSVersion,
		Device:          ua.Device,
		Screen:          c.env.Screen,
		Viewport:        c.env.Viewport,
		Timezone:        c.env.Timezone,
		Language:        c.env.Language,
		IPAddress:       ip.IP,
		IPSource:        ip.Source,
		Country:         ip.Country,
		City:            ip.City,
		Region:          ip.Region,
		ISP:             ip.ISP,
		BatteryLevel:    battery.Level,
		BatteryCharging: battery.Charging,
		Environment:     c.env.Hints,
	}
}

// ResolveIP returns the public address from the lookup cascade, falling
// back to the local probe and then to "unknown". The probe runs alongside
// the cascade.
func (c *Collector) ResolveIP(ctx context.Context) IPInfo {
	var local string
	probeDone := make(chan struct{})
	go func() {
		defer close(probeDone)
		local = c.ProbeLocal(ctx)
	}()

	info := c.resolveCascade(ctx)
	<-probeDone

	switch {
	case info.IP != "":
		return info
	case local != "":
		return IPInfo{IP: local, Source: IPSourceLocal}
	}
	return IPInfo{IP: IPSourceUnknown, Source: IPSourceUnknown}
}

// resolveCascade tries each service once, bounded by lookupTimeout. An empty
// IPInfo means every service failed.
func (c *Collector) resolveCascade(ctx context.Context) IPInfo {
	for _, svc := range c.services {
		if ctx.Err() != nil {
			break
		}
		info, err := c.lookup(ctx, svc)
		if err != nil {
			c.logger.Debug().Err(err).Str("service", svc).Msg("IP lookup failed")
			continue
		}
		return info
	}
	return IPInfo{}
}

// ipLookupResponse covers the field names used by the supported services.
type ipLookupResponse struct {
	IP          string `json:"ip"`
	Query       string `json:"query"`
	IPAddress   string `json:"ipAddress"`
	Country     string `json:"country"`
	CountryName string `json:"country_name"`
	City        string `json:"city"`
	Region      string `json:"region"`
	Org         string `json:"org"`
}

func (c *Collector) lookup(ctx context.Context, service string) (IPInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.lookupTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, service, http.NoBody)
	if err != nil {
		return IPInfo{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return IPInfo{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return IPInfo{}, fmt.Errorf("status %d", resp.StatusCode)
	}
	var body ipLookupResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return IPInfo{}, fmt.Errorf("decode: %w", err)
	}

	ip := firstNonEmpty(body.IP, body.Query, body.IPAddress)
	if ip == "" {
		return IPInfo{}, fmt.Errorf("no address in response")
	}
	return IPInfo{
		IP:      ip,
		Source:  serviceHost(service),
		Country: firstNonEmpty(body.CountryName, body.Country),
		City:    body.City,
		Region:  body.Region,
		ISP:     body.Org,
	}, nil
}

// ProbeLocal returns a private address of this host, bounded by the probe
// timeout, or "" if none is found.
func (c *Collector) ProbeLocal(ctx context.Context) string {
	if c.probe == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	result := make(chan string, 1)
	go func() {
		addr, err := c.probe(ctx)
		if err != nil {
			c.logger.Debug().Err(err).Msg("Local address probe failed")
		}
		result <- addr
	}()

	select {
	case addr := <-result:
		if IsPrivateIPv4(addr) {
			return addr
		}
		return ""
	case <-ctx.Done():
		return ""
	}
}

// Battery reads the power state, bounded by the probe timeout. Failures
// yield an empty Battery.
func (c *Collector) Battery(ctx context.Context) Battery {
	if c.battery == nil {
		return Battery{}
	}
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	result := make(chan Battery, 1)
	go func() {
		b, err := c.battery(ctx)
		if err != nil {
			c.logger.Debug().Err(err).Msg("Battery read failed")
			b = Battery{}
		}
		result <- b
	}()

	select {
	case b := <-result:
		return b
	case <-ctx.Done():
		return Battery{}
	}
}

var privateIPv4 = []*net.IPNet{
	mustCIDR("10.0.0.0/8"),
	mustCIDR("172.16.0.0/12"),
	mustCIDR("192.168.0.0/16"),
}

func mustCIDR(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return n
}

// IsPrivateIPv4 reports whether s is in 10/8, 172.16/12 or 192.168/16.
func IsPrivateIPv4(s string) bool {
	ip := net.ParseIP(s).To4()
	if ip == nil {
		return false
	}
	for _, n := range privateIPv4 {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ProbeLocalAddress finds the address the host would use for outbound
// traffic. Connecting a UDP socket sends no packets.
func ProbeLocalAddress(ctx context.Context) (string, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp4", "192.0.2.1:9")
	if err == nil {
		defer conn.Close()
		if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok && IsPrivateIPv4(addr.IP.String()) {
			return addr.IP.String(), nil
		}
	}

	addrs, ierr := net.InterfaceAddrs()
	if ierr != nil {
		return "", ierr
	}
	for _, a := range addrs {
		if ipn, ok := a.(*net.IPNet); ok && IsPrivateIPv4(ipn.IP.String()) {
			return ipn.IP.String(), nil
		}
	}
	return "", err
}

func serviceHost(service string) string {
	u, err := url.Parse(service)
	if err != nil || u.Host == "" {
		return service
	}
	return u.Host
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
