// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RemoveIfRechecksUnderLock(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.Attach("w", "s1", "v1", 1, PageContext{}, t0)

	cutoff := t0.Add(time.Minute)
	require.Equal(t, []string{"s1"}, r.StaleCandidates("w", cutoff, 10))

	// The session reconnects between the scan and the removal.
	r.Attach("w", "s1", "v1", 2, PageContext{}, t0.Add(2*time.Minute))

	_, removed := r.RemoveIf("w", "s1", func(ls LiveSession) bool { return ls.LastActivity.Before(cutoff) })
	assert.False(t, removed)
	assert.Equal(t, 1, r.Count("w"))
}

func TestRegistry_LastActivityNeverMovesBackwards(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.Attach("w", "s1", "v1", 1, PageContext{}, t0)
	r.Touch("w", "s1", t0.Add(time.Minute), nil)

	ls, ok := r.Touch("w", "s1", t0.Add(30*time.Second), nil)
	require.True(t, ok)
	assert.Equal(t, t0.Add(time.Minute), ls.LastActivity)
	assert.False(t, ls.LastActivity.Before(ls.StartTime))
}

func TestRegistry_DetachOnlyMatchingChannel(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	now := time.Now()
	r.Attach("w", "a", "v", 1, PageContext{}, now)
	r.Attach("w", "b", "v", 1, PageContext{}, now)
	r.Attach("w", "c", "v", 2, PageContext{}, now)

	removed := r.Detach("w", 1)
	assert.Len(t, removed, 2)
	assert.Equal(t, 1, r.Count("w"))
	assert.Equal(t, 1, r.Len())
	_, ok := r.Get("w", "c")
	assert.True(t, ok)
}

func TestRegistry_ListOrderAndCopies(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.Attach("w", "late", "v", 1, PageContext{PageURL: "/late"}, t0.Add(time.Second))
	r.Attach("w", "early", "v", 2, PageContext{PageURL: "/early"}, t0)

	list := r.List("w")
	require.Len(t, list, 2)
	assert.Equal(t, "early", list[0].SessionID)

	list[0].Page.PageURL = "/mutated"
	ls, _ := r.Get("w", "early")
	assert.Equal(t, "/early", ls.Page.PageURL)

	assert.Empty(t, r.List("nope"))
	assert.Equal(t, []string{"w"}, r.Websites())
}
