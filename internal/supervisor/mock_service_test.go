// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
)

// mockService runs until canceled after failing a configured number of times.
type mockService struct {
	name       string
	failures   int32
	startCount atomic.Int32
	failCount  atomic.Int32
}

func newMockService(name string, failures int32) *mockService {
	return &mockService{name: name, failures: failures}
}

func (m *mockService) Serve(ctx context.Context) error {
	m.startCount.Add(1)
	if m.failCount.Add(1) <= m.failures {
		return errors.New("simulated failure")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (m *mockService) String() string {
	return m.name
}

func (m *mockService) Starts() int32 {
	return m.startCount.Load()
}
