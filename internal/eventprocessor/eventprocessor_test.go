// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package eventprocessor

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/sitepulse/internal/config"
	"github.com/tomtom215/sitepulse/internal/logging"
)

func init() {
	logging.Init(logging.Config{Level: "info", Format: "console", Output: io.Discard})
}

func closedEvent(websiteID string, durationMS int64, trigger string) *SessionClosedEvent {
	return &SessionClosedEvent{
		EventID:     uuid.NewString(),
		WebsiteID:   websiteID,
		SessionID:   "ses_" + uuid.NewString()[:8],
		DurationMS:  durationMS,
		Trigger:     trigger,
		EndTime:     time.Now().UTC(),
		RowsUpdated: 1,
	}
}

func TestSessionClosedEvent_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(e *SessionClosedEvent)
		wantErr bool
	}{
		{"valid", func(*SessionClosedEvent) {}, false},
		{"missing event id", func(e *SessionClosedEvent) { e.EventID = "" }, true},
		{"missing website", func(e *SessionClosedEvent) { e.WebsiteID = "" }, true},
		{"missing session", func(e *SessionClosedEvent) { e.SessionID = "" }, true},
		{"negative duration", func(e *SessionClosedEvent) { e.DurationMS = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := closedEvent("w1", 1000, "sweep")
			tt.mutate(e)
			_, err := Marshal(e)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTopicName(t *testing.T) {
	assert.Equal(t, "sessions.closed", TopicName("", TopicSessionClosed))
	assert.Equal(t, "sitepulse.visits.recorded", TopicName("sitepulse", TopicVisitRecorded))
}

func TestNewTransport_DefaultsToGoChannel(t *testing.T) {
	tr, err := NewTransport(config.EventsConfig{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "gochannel", tr.Name)
	assert.NoError(t, tr.Close())
}

type failingPublisher struct{ calls int }

func (f *failingPublisher) Publish(string, ...*message.Message) error {
	f.calls++
	return errors.New("nats unavailable")
}

func (f *failingPublisher) Close() error { return nil }

func TestPublisher_BreakerOpensAfterFailures(t *testing.T) {
	fp := &failingPublisher{}
	p := NewPublisher(fp, "")
	p.SetCircuitBreaker(NewPublishBreaker("events-test"))

	for i := 0; i < 5; i++ {
		assert.Error(t, p.PublishSessionClosed(context.Background(), closedEvent("w1", 10, "sweep")))
	}
	err := p.PublishSessionClosed(context.Background(), closedEvent("w1", 10, "sweep"))
	assert.Error(t, err)
	assert.Equal(t, 5, fp.calls, "open breaker short-circuits publishes")
}

func TestPublisher_RejectsInvalidAndClosed(t *testing.T) {
	tr := NewGoChannelTransport(nil)
	defer func() { _ = tr.Close() }()
	p := NewPublisher(tr.Publisher, "")

	assert.Error(t, p.PublishSessionClosed(context.Background(), &SessionClosedEvent{}))

	require.NoError(t, p.Close())
	assert.Error(t, p.PublishVisitRecorded(context.Background(), &VisitRecordedEvent{
		EventID: "e", WebsiteID: "w", SessionID: "s",
	}))
}

func TestPublisher_SetsMessageIDHeader(t *testing.T) {
	tr := NewGoChannelTransport(nil)
	defer func() { _ = tr.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p := NewPublisher(tr.Publisher, "sp")
	msgs, err := tr.Subscriber.Subscribe(ctx, p.Topic(TopicSessionClosed))
	require.NoError(t, err)

	event := closedEvent("w1", 2500, "disconnect")
	require.NoError(t, p.PublishSessionClosed(ctx, event))

	select {
	case msg := <-msgs:
		assert.Equal(t, event.EventID, msg.UUID)
		assert.Equal(t, event.EventID, msg.Metadata.Get(natsgo.MsgIdHdr))
		assert.Equal(t, "w1", msg.Metadata.Get("website_id"))
		var got SessionClosedEvent
		require.NoError(t, Unmarshal(msg.Payload, &got))
		assert.Equal(t, int64(2500), got.DurationMS)
		msg.Ack()
	case <-ctx.Done():
		t.Fatal("message not delivered")
	}
}

func TestSessionStatsHandler_ThroughRouter(t *testing.T) {
	tr := NewGoChannelTransport(nil)
	defer func() { _ = tr.Close() }()

	router, err := NewRouter(nil, nil)
	require.NoError(t, err)
	stats := NewSessionStatsHandler()
	stats.Register(router, tr.Subscriber, "sp")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = router.Run(ctx) }()
	<-router.Running()
	assert.True(t, router.IsRunning())

	p := NewPublisher(tr.Publisher, "sp")
	require.NoError(t, p.PublishSessionClosed(ctx, closedEvent("w1", 30000, "sweep")))
	require.NoError(t, p.PublishSessionClosed(ctx, closedEvent("w1", 90000, "disconnect")))
	require.NoError(t, p.PublishVisitRecorded(ctx, &VisitRecordedEvent{
		EventID: uuid.NewString(), WebsiteID: "w1", SessionID: "s1", Deduplicated: true,
	}))

	require.Eventually(t, func() bool {
		s := stats.Stats("w1")
		return s.SessionsClosed == 2 && s.VisitsDeduped == 1
	}, 5*time.Second, 10*time.Millisecond)

	s := stats.Stats("w1")
	assert.Equal(t, int64(1), s.ClosedByTrigger["sweep"])
	assert.Equal(t, int64(1), s.ClosedByTrigger["disconnect"])
	assert.InDelta(t, 60.0, s.AvgDurationSeconds(), 0.001)

	require.NoError(t, router.Close())
}

func TestSessionStatsHandler_IgnoresNoopClosesAndGarbage(t *testing.T) {
	h := NewSessionStatsHandler()

	noop := closedEvent("w1", 1000, "end_signal")
	noop.RowsUpdated = 0
	data, err := Marshal(noop)
	require.NoError(t, err)
	require.NoError(t, h.HandleSessionClosed(message.NewMessage(noop.EventID, data)))
	require.NoError(t, h.HandleSessionClosed(message.NewMessage("bad", []byte("{not json"))))

	s := h.Stats("w1")
	assert.Zero(t, s.SessionsClosed)
	assert.Zero(t, s.AvgDurationSeconds())
	assert.NotNil(t, s.ClosedByTrigger)
}
