// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package presence

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/sitepulse/pkg/protocol"
)

// ChannelID identifies one realtime channel connection.
type ChannelID uint64

// NoChannel is used for sessions that are not attached to any connection.
const NoChannel ChannelID = 0

// PageContext is the latest page and client facts of a live session.
// Merges are last-write-wins per non-empty field.
type PageContext struct {
	PageURL   string
	PageTitle string
	Referrer  string
	Country   string
	City      string
	Device    string
	Browser   string
	OS        string
}

// PageContextFromVisit extracts the presence-relevant fields of a visit payload.
func PageContextFromVisit(v *protocol.Visit) PageContext {
	return PageContext{
		PageURL:   v.PageURL,
		PageTitle: v.PageTitle,
		Referrer:  v.Referrer,
		Country:   v.Country,
		City:      v.City,
		Device:    v.Device,
		Browser:   v.Browser,
		OS:        v.OS,
	}
}

func (p *PageContext) merge(o PageContext) {
	set := func(dst *string, src string) {
		if src != "" {
			*dst = src
		}
	}
	set(&p.PageURL, o.PageURL)
	set(&p.PageTitle, o.PageTitle)
	set(&p.Referrer, o.Referrer)
	set(&p.Country, o.Country)
	set(&p.City, o.City)
	set(&p.Device, o.Device)
	set(&p.Browser, o.Browser)
	set(&p.OS, o.OS)
}

// LiveSession is a registry entry. Values handed out by the Registry are
// copies; mutating them has no effect on the registry.
type LiveSession struct {
	SessionID    string
	WebsiteID    string
	VisitorID    string
	Channel      ChannelID
	StartTime    time.Time
	LastActivity time.Time
	Page         PageContext
}

type shard struct {
	mu       sync.Mutex
	sessions map[string]*LiveSession

	// publish serializes snapshot fan-out for the website.
	publish sync.Mutex
}

// Registry holds live sessions keyed by (websiteID, sessionID).
// Each website has its own lock; no operation locks more than one website.
type Registry struct {
	mu     sync.RWMutex
	shards map[string]*shard
	size   atomic.Int64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{shards: make(map[string]*shard)}
}

func (r *Registry) shard(websiteID string, create bool) *shard {
	r.mu.RLock()
	s := r.shards[websiteID]
	r.mu.RUnlock()
	if s != nil || !create {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s = r.shards[websiteID]; s == nil {
		s = &shard{sessions: make(map[string]*LiveSession)}
		r.shards[websiteID] = s
	}
	return s
}

// Attach creates the session, or re-attaches an existing one to ch.
// Re-attachment keeps StartTime and merges the page context.
func (r *Registry) Attach(websiteID, sessionID, visitorID string, ch ChannelID, page PageContext, now time.Time) (LiveSession, bool) {
	s := r.shard(websiteID, true)
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[sessionID]; ok {
		existing.Channel = ch
		if now.After(existing.LastActivity) {
			existing.LastActivity = now
		}
		existing.Page.merge(page)
		return *existing, false
	}

	ls := &LiveSession{
		SessionID:    sessionID,
		WebsiteID:    websiteID,
		VisitorID:    visitorID,
		Channel:      ch,
		StartTime:    now,
		LastActivity: now,
		Page:         page,
	}
	s.sessions[sessionID] = ls
	r.size.Add(1)
	return *ls, true
}

// Touch bumps LastActivity and, when page is non-nil, merges it.
// It reports false when the session is not live.
func (r *Registry) Touch(websiteID, sessionID string, now time.Time, page *PageContext) (LiveSession, bool) {
	s := r.shard(websiteID, false)
	if s == nil {
		return LiveSession{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ls, ok := s.sessions[sessionID]
	if !ok {
		return LiveSession{}, false
	}
	if now.After(ls.LastActivity) {
		ls.LastActivity = now
	}
	if page != nil {
		ls.Page.merge(*page)
	}
	return *ls, true
}

// Detach removes every session of websiteID currently attached to ch.
// Sessions that were re-attached to a newer channel are left alone.
func (r *Registry) Detach(websiteID string, ch ChannelID) []LiveSession {
	s := r.shard(websiteID, false)
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []LiveSession
	for id, ls := range s.sessions {
		if ls.Channel != ch {
			continue
		}
		removed = append(removed, *ls)
		delete(s.sessions, id)
	}
	r.size.Add(-int64(len(removed)))
	return removed
}

// RemoveIf deletes the session only if it exists and pred (when non-nil)
// accepts it, all under the website lock.
func (r *Registry) RemoveIf(websiteID, sessionID string, pred func(LiveSession) bool) (LiveSession, bool) {
	s := r.shard(websiteID, false)
	if s == nil {
		return LiveSession{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ls, ok := s.sessions[sessionID]
	if !ok || (pred != nil && !pred(*ls)) {
		return LiveSession{}, false
	}
	delete(s.sessions, sessionID)
	r.size.Add(-1)
	return *ls, true
}

// StaleCandidates returns up to limit session ids of websiteID whose
// LastActivity is before cutoff. The result is a hint: callers must
// re-check with RemoveIf.
func (r *Registry) StaleCandidates(websiteID string, cutoff time.Time, limit int) []string {
	s := r.shard(websiteID, false)
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, ls := range s.sessions {
		if limit > 0 && len(ids) >= limit {
			break
		}
		if ls.LastActivity.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Get returns a copy of one live session.
func (r *Registry) Get(websiteID, sessionID string) (LiveSession, bool) {
	s := r.shard(websiteID, false)
	if s == nil {
		return LiveSession{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ls, ok := s.sessions[sessionID]
	if !ok {
		return LiveSession{}, false
	}
	return *ls, true
}

// Publish hands fn a snapshot of websiteID's live sessions. Calls for the
// same website run one at a time, and each snapshot is taken after the
// previous fn returned, so a later fn never sees older state.
func (r *Registry) Publish(websiteID string, fn func([]LiveSession)) {
	s := r.shard(websiteID, true)
	s.publish.Lock()
	defer s.publish.Unlock()
	fn(r.List(websiteID))
}

// List returns the live sessions of websiteID ordered by StartTime.
func (r *Registry) List(websiteID string) []LiveSession {
	s := r.shard(websiteID, false)
	if s == nil {
		return nil
	}
	s.mu.Lock()
	out := make([]LiveSession, 0, len(s.sessions))
	for _, ls := range s.sessions {
		out = append(out, *ls)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

// Count returns the number of live sessions of websiteID.
func (r *Registry) Count(websiteID string) int {
	s := r.shard(websiteID, false)
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Websites returns the ids of every website that has had a live session.
func (r *Registry) Websites() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.shards))
	for id := range r.shards {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the total number of live sessions.
func (r *Registry) Len() int {
	return int(r.size.Load())
}
