// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package eventprocessor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/sitepulse/internal/metrics"
)

// Publisher publishes domain events under a subject prefix, with circuit
// breaker protection.
type Publisher struct {
	publisher      message.Publisher
	prefix         string
	circuitBreaker *gobreaker.CircuitBreaker[interface{}]
	mu             sync.RWMutex
	closed         bool
}

// NewPublisher wraps pub. prefix may be empty.
func NewPublisher(pub message.Publisher, prefix string) *Publisher {
	return &Publisher{publisher: pub, prefix: prefix}
}

// SetCircuitBreaker configures the circuit breaker for publish operations.
func (p *Publisher) SetCircuitBreaker(cb *gobreaker.CircuitBreaker[interface{}]) {
	p.circuitBreaker = cb
}

// Topic returns the full topic name for a suffix.
func (p *Publisher) Topic(suffix string) string {
	return TopicName(p.prefix, suffix)
}

// TopicName joins a subject prefix and a topic suffix.
func TopicName(prefix, suffix string) string {
	if prefix == "" {
		return suffix
	}
	return prefix + "." + suffix
}

// Publish sends msg on topic. The message UUID doubles as Nats-Msg-Id.
func (p *Publisher) Publish(ctx context.Context, topic string, msg *message.Message) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return fmt.Errorf("publisher is closed")
	}
	p.mu.RUnlock()

	if msg.Metadata.Get(natsgo.MsgIdHdr) == "" {
		msg.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)
	}
	msg.SetContext(ctx)

	var err error
	if p.circuitBreaker != nil {
		_, err = p.circuitBreaker.Execute(func() (interface{}, error) {
			return nil, p.publisher.Publish(topic, msg)
		})
	} else {
		err = p.publisher.Publish(topic, msg)
	}

	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.EventsPublished.WithLabelValues(topic, result).Inc()
	return err
}

// PublishSessionClosed publishes a sessions.closed event.
func (p *Publisher) PublishSessionClosed(ctx context.Context, event *SessionClosedEvent) error {
	data, err := Marshal(event)
	if err != nil {
		return err
	}
	msg := message.NewMessage(event.EventID, data)
	msg.Metadata.Set("website_id", event.WebsiteID)
	msg.Metadata.Set("trigger", event.Trigger)
	return p.Publish(ctx, p.Topic(TopicSessionClosed), msg)
}

// PublishVisitRecorded publishes a visits.recorded event.
func (p *Publisher) PublishVisitRecorded(ctx context.Context, event *VisitRecordedEvent) error {
	data, err := Marshal(event)
	if err != nil {
		return err
	}
	msg := message.NewMessage(event.EventID, data)
	msg.Metadata.Set("website_id", event.WebsiteID)
	return p.Publish(ctx, p.Topic(TopicVisitRecorded), msg)
}

// Close stops accepting publishes. The underlying transport is closed by
// its owner.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// NewPublishBreaker returns the breaker used around event publishes.
func NewPublishBreaker(name string) *gobreaker.CircuitBreaker[interface{}] {
	return gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
}
