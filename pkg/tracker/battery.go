// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package tracker

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// powerSupplyRoot is where Linux exposes batteries.
var powerSupplyRoot = "/sys/class/power_supply"

// ReadBattery reports the first battery found under sysfs. Hosts without
// one return an empty Battery and no error.
func ReadBattery(ctx context.Context) (Battery, error) {
	matches, err := filepath.Glob(filepath.Join(powerSupplyRoot, "BAT*"))
	if err != nil || len(matches) == 0 {
		return Battery{}, nil
	}
	if err := ctx.Err(); err != nil {
		return Battery{}, err
	}

	dir := matches[0]
	var b Battery
	if raw, err := os.ReadFile(filepath.Join(dir, "capacity")); err == nil {
		if pct, err := strconv.Atoi(strings.TrimSpace(string(raw))); err == nil {
			level := float64(pct) / 100
			b.Level = &level
		}
	}
	if raw, err := os.ReadFile(filepath.Join(dir, "status")); err == nil {
		switch strings.TrimSpace(string(raw)) {
		case "Charging", "Full":
			charging := true
			b.Charging = &charging
		case "Discharging", "Not charging":
			charging := false
			b.Charging = &charging
		}
	}
	return b, nil
}
