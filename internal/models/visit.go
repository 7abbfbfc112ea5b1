// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package models

import "time"

// Visit is one durable page-view record. SessionDuration is nil until the
// session terminates and is written at most once, in milliseconds.
type Visit struct {
	ID              string    `json:"id"`
	WebsiteID       string    `json:"websiteId"`
	SessionID       string    `json:"sessionId"`
	VisitorID       string    `json:"visitorId"`
	SessionStart    time.Time `json:"sessionStart"`
	SessionDuration *int64    `json:"sessionDuration"`

	IPAddress string `json:"ipAddress,omitempty"`
	IPSource  string `json:"ipSource,omitempty"`
	Country   string `json:"country,omitempty"`
	City      string `json:"city,omitempty"`
	Region    string `json:"region,omitempty"`
	ISP       string `json:"isp,omitempty"`

	UserAgent      string `json:"userAgent,omitempty"`
	Browser        string `json:"browser,omitempty"`
	BrowserVersion string `json:"browserVersion,omitempty"`
	OS             string `json:"os,omitempty"`
	OSVersion      string `json:"osVersion,omitempty"`
	Device         string `json:"device,omitempty"`
	ScreenWidth    int    `json:"screenWidth,omitempty"`
	ScreenHeight   int    `json:"screenHeight,omitempty"`
	Timezone       string `json:"timezone,omitempty"`
	Language       string `json:"language,omitempty"`

	Referrer  string `json:"referrer,omitempty"`
	PageURL   string `json:"pageUrl"`
	PageTitle string `json:"pageTitle,omitempty"`

	BatteryLevel    *float64 `json:"batteryLevel"`
	BatteryCharging *bool    `json:"batteryCharging"`
	Connection      string   `json:"connection,omitempty"`
	DoNotTrack      bool     `json:"doNotTrack,omitempty"`
	DeviceMemory    float64  `json:"deviceMemory,omitempty"`

	Timestamp    time.Time `json:"timestamp"`
	LastActivity time.Time `json:"lastActivity"`
}

// PageViewRecord is one page of a session, as shown in session detail.
type PageViewRecord struct {
	PageURL   string    `json:"pageUrl"`
	PageTitle string    `json:"pageTitle"`
	Referrer  string    `json:"referrer,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionDetail is the durable history of one session.
type SessionDetail struct {
	WebsiteID       string           `json:"websiteId"`
	SessionID       string           `json:"sessionId"`
	VisitorID       string           `json:"visitorId"`
	SessionStart    time.Time        `json:"sessionStart"`
	SessionDuration *int64           `json:"sessionDuration"`
	LastActivity    time.Time        `json:"lastActivity"`
	Country         string           `json:"country,omitempty"`
	City            string           `json:"city,omitempty"`
	Device          string           `json:"device,omitempty"`
	Browser         string           `json:"browser,omitempty"`
	OS              string           `json:"os,omitempty"`
	Live            bool             `json:"live"`
	PageViews       []PageViewRecord `json:"pageViews"`
}

// Breakdown is a count per label.
type Breakdown struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// Summary aggregates a website's traffic over a period.
type Summary struct {
	WebsiteID          string      `json:"websiteId"`
	Period             string      `json:"period"`
	Since              time.Time   `json:"since"`
	TotalVisitors      int64       `json:"totalVisitors"`
	TotalPageViews     int64       `json:"totalPageViews"`
	AvgSessionDuration float64     `json:"avgSessionDuration"` // seconds
	ActiveSessions     int         `json:"activeSessions"`
	Browsers           []Breakdown `json:"browsers"`
	Devices            []Breakdown `json:"devices"`
}

// HourlyPoint is one hour of a traffic chart. Time is the "15:04" label of Hour.
type HourlyPoint struct {
	Hour      time.Time `json:"hour"`
	Time      string    `json:"time"`
	Visitors  int64     `json:"visitors"`
	PageViews int64     `json:"pageviews"`
}

// Dashboard aggregates recent traffic across every website of one owner.
type Dashboard struct {
	Since              time.Time     `json:"since"`
	Websites           int           `json:"websites"`
	TotalVisitors      int64         `json:"totalVisitors"`
	TotalPageViews     int64         `json:"totalPageViews"`
	AvgSessionDuration float64       `json:"avgSessionDuration"` // seconds
	ActiveSessions     int           `json:"activeSessions"`
	DeviceData         []Breakdown   `json:"deviceData"`
	ChartData          []HourlyPoint `json:"chartData"`
}
