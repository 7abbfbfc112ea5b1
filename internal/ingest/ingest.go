// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

// Package ingest turns collected visit payloads into durable visit rows.
// Both the HTTP fallback endpoint and the realtime channel record through
// the same Ingestor so the two paths share dedupe and enrichment rules.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/sitepulse/internal/database"
	"github.com/tomtom215/sitepulse/internal/eventprocessor"
	"github.com/tomtom215/sitepulse/internal/logging"
	"github.com/tomtom215/sitepulse/internal/models"
	"github.com/tomtom215/sitepulse/pkg/protocol"
	"github.com/tomtom215/sitepulse/pkg/useragent"
)

// VisitPublisher receives visits.recorded events.
type VisitPublisher interface {
	PublishVisitRecorded(ctx context.Context, event *eventprocessor.VisitRecordedEvent) error
}

// Ingestor records visits.
type Ingestor struct {
	store     database.VisitStore
	publisher VisitPublisher
}

// NewIngestor creates an Ingestor. publisher may be nil.
func NewIngestor(store database.VisitStore, publisher VisitPublisher) *Ingestor {
	return &Ingestor{store: store, publisher: publisher}
}

// Record stores v for website. clientIP is the connection address and is
// used when the payload carries none.
func (i *Ingestor) Record(ctx context.Context, website *models.Website, v *protocol.Visit, clientIP string) (database.RecordResult, error) {
	visit := ToModel(website.ID, v, clientIP)

	res, err := i.store.RecordVisit(ctx, visit)
	if err != nil {
		return database.RecordResult{}, fmt.Errorf("record visit: %w", err)
	}

	if i.publisher != nil {
		event := &eventprocessor.VisitRecordedEvent{
			EventID:      uuid.NewString(),
			VisitID:      res.VisitID,
			WebsiteID:    website.ID,
			SessionID:    visit.SessionID,
			VisitorID:    visit.VisitorID,
			PageURL:      visit.PageURL,
			Deduplicated: res.Deduplicated,
			Timestamp:    visit.Timestamp,
		}
		if perr := i.publisher.PublishVisitRecorded(ctx, event); perr != nil {
			logging.Warn().Err(perr).Str("visit_id", res.VisitID).Msg("Failed to publish visit recorded event")
		}
	}
	return res, nil
}

// ToModel converts a wire payload into a visit row. Missing browser, OS or
// device fields are derived from the user agent and screen width.
func ToModel(websiteID string, v *protocol.Visit, clientIP string) *models.Visit {
	visit := &models.Visit{
		WebsiteID:       websiteID,
		SessionID:       v.SessionID,
		VisitorID:       v.VisitorID,
		IPAddress:       NormalizeIP(v.IPAddress),
		IPSource:        v.IPSource,
		Country:         v.Country,
		City:            v.City,
		Region:          v.Region,
		ISP:             v.ISP,
		UserAgent:       v.UserAgent,
		Browser:         v.Browser,
		BrowserVersion:  v.BrowserVersion,
		OS:              v.OS,
		OSVersion:       v.OSVersion,
		Device:          v.Device,
		ScreenWidth:     v.Screen.Width,
		ScreenHeight:    v.Screen.Height,
		Timezone:        v.Timezone,
		Language:        v.Language,
		Referrer:        v.Referrer,
		PageURL:         v.PageURL,
		PageTitle:       v.PageTitle,
		BatteryLevel:    v.BatteryLevel,
		BatteryCharging: v.BatteryCharging,
		Connection:      v.Environment.Connection,
		DoNotTrack:      v.Environment.DoNotTrack,
		DeviceMemory:    v.Environment.DeviceMemory,
	}

	if visit.IPAddress == "" {
		visit.IPAddress = NormalizeIP(clientIP)
		visit.IPSource = IPSourceServer
	}
	if visit.IPSource == "" {
		visit.IPSource = IPSourceServer
	}

	if visit.Browser == "" || visit.OS == "" || visit.Device == "" {
		info := useragent.Parse(v.UserAgent, v.Screen.Width)
		if visit.Browser == "" {
			visit.Browser, visit.BrowserVersion = info.Browser, info.BrowserVersion
		}
		if visit.OS == "" {
			visit.OS, visit.OSVersion = info.OS, info.OSVersion
		}
		if visit.Device == "" {
			visit.Device = info.Device
		}
	}

	if v.Timestamp > 0 {
		visit.Timestamp = time.UnixMilli(v.Timestamp).UTC()
	}
	if v.SessionStart > 0 {
		visit.SessionStart = time.UnixMilli(v.SessionStart).UTC()
	}
	return visit
}
