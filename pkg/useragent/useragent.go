// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

// Package useragent derives browser, operating system and device class from
// a User-Agent string and a screen width. It is shared by the tracker SDK
// and by the server, which parses on behalf of clients that did not.
package useragent

import "strings"

// Unknown is reported for anything that could not be identified.
const Unknown = "Unknown"

// Device classes.
const (
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceDesktop = "desktop"
)

// Screen width breakpoints in CSS pixels.
const (
	MobileMaxWidth = 768
	TabletMaxWidth = 1024
)

// Info is the parsed form of a User-Agent.
type Info struct {
	Browser        string `json:"browser"`
	BrowserVersion string `json:"browserVersion"`
	OS             string `json:"os"`
	OSVersion      string `json:"osVersion,omitempty"`
	Device         string `json:"device"`
	Bot            bool   `json:"bot,omitempty"`
}

var tokens = newMatcher(
	"Chrome/", "Firefox/", "Safari", "Version/", "Edg/", "OPR/",
	"Windows", "Windows NT ", "Mac OS X", "Linux", "Android", "iPhone", "iPad", "iOS", " OS ",
	"bot", "Bot", "spider", "crawler", "HeadlessChrome",
)

var windowsVersions = map[string]string{
	"10.0": "10",
	"6.3":  "8.1",
	"6.2":  "8",
	"6.1":  "7",
}

// Parse identifies browser and OS from ua and the device class from
// screenWidth. A screenWidth of zero yields an unknown device.
func Parse(ua string, screenWidth int) Info {
	info := Info{
		Browser:        Unknown,
		BrowserVersion: Unknown,
		OS:             Unknown,
		Device:         DeviceClass(screenWidth),
	}
	if ua == "" {
		return info
	}

	found := tokens.scan(ua)
	has := func(tok string) bool { _, ok := found[tok]; return ok }
	versionAfter := func(tok string) string { return readVersion(ua, found[tok].End) }

	// Edge and Opera also send Chrome/, Chrome also sends Safari.
	switch {
	case has("Edg/"):
		info.Browser, info.BrowserVersion = "Edge", versionAfter("Edg/")
	case has("OPR/"):
		info.Browser, info.BrowserVersion = "Opera", versionAfter("OPR/")
	case has("Chrome/"):
		info.Browser, info.BrowserVersion = "Chrome", versionAfter("Chrome/")
	case has("Firefox/"):
		info.Browser, info.BrowserVersion = "Firefox", versionAfter("Firefox/")
	case has("Safari"):
		info.Browser = "Safari"
		if has("Version/") {
			info.BrowserVersion = versionAfter("Version/")
		}
	}
	if info.BrowserVersion == "" {
		info.BrowserVersion = Unknown
	}

	// Android and iOS also claim Linux and Mac OS X respectively.
	switch {
	case has("Windows"):
		info.OS = "Windows"
		if has("Windows NT ") {
			info.OSVersion = windowsVersions[versionAfter("Windows NT ")]
		}
	case has("Android"):
		info.OS, info.OSVersion = "Android", versionAfter("Android")
	case has("iPhone"), has("iPad"), has("iOS"):
		info.OS = "iOS"
		if has(" OS ") {
			info.OSVersion = underscoresToDots(readVersion(ua, found[" OS "].End))
		}
	case has("Mac OS X"):
		info.OS = "macOS"
		info.OSVersion = underscoresToDots(versionAfter("Mac OS X"))
	case has("Linux"):
		info.OS = "Linux"
	}

	info.Bot = has("bot") || has("Bot") || has("spider") || has("crawler") || has("HeadlessChrome")
	return info
}

// DeviceClass buckets a screen width into mobile, tablet or desktop.
func DeviceClass(screenWidth int) string {
	switch {
	case screenWidth <= 0:
		return Unknown
	case screenWidth < MobileMaxWidth:
		return DeviceMobile
	case screenWidth < TabletMaxWidth:
		return DeviceTablet
	default:
		return DeviceDesktop
	}
}

// readVersion returns the run of digits, dots and underscores starting at
// offset, skipping one leading space.
func readVersion(ua string, offset int) string {
	if offset < len(ua) && ua[offset] == ' ' {
		offset++
	}
	end := offset
	for end < len(ua) {
		c := ua[end]
		if (c < '0' || c > '9') && c != '.' && c != '_' {
			break
		}
		end++
	}
	return strings.TrimRight(ua[offset:end], "._")
}

func underscoresToDots(v string) string {
	return strings.ReplaceAll(v, "_", ".")
}
