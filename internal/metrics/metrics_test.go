// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordStoreOp(t *testing.T) {
	before := testutil.ToFloat64(StoreOpErrors.WithLabelValues("duckdb", "close_session"))

	RecordStoreOp("duckdb", "close_session", 3*time.Millisecond, nil)
	RecordStoreOp("duckdb", "close_session", 3*time.Millisecond, errors.New("locked"))

	after := testutil.ToFloat64(StoreOpErrors.WithLabelValues("duckdb", "close_session"))
	if after-before != 1 {
		t.Errorf("expected exactly one error recorded, got %v", after-before)
	}
}

func TestRecordSessionClosed(t *testing.T) {
	before := testutil.ToFloat64(SessionsClosed.WithLabelValues(TriggerSweep))
	RecordSessionClosed(TriggerSweep)
	if got := testutil.ToFloat64(SessionsClosed.WithLabelValues(TriggerSweep)) - before; got != 1 {
		t.Errorf("sweep closes delta = %v, want 1", got)
	}
}

func TestTrackActiveRequest(t *testing.T) {
	before := testutil.ToFloat64(APIActiveRequests)
	TrackActiveRequest(true)
	TrackActiveRequest(true)
	TrackActiveRequest(false)
	if got := testutil.ToFloat64(APIActiveRequests) - before; got != 1 {
		t.Errorf("active requests delta = %v, want 1", got)
	}
}

func TestMetricGathering(t *testing.T) {
	problems, err := testutil.GatherAndLint(prometheus.DefaultGatherer)
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, p := range problems {
		t.Errorf("lint problem in %s: %s", p.Metric, p.Text)
	}
}
