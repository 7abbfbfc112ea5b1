// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package eventprocessor

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/sitepulse/internal/config"
)

// Transport is a connected publisher and subscriber pair.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
	// Name is "gochannel" or "nats".
	Name string
}

// Close closes both sides. GoChannel shares one instance for both.
func (t *Transport) Close() error {
	pubErr := t.Publisher.Close()
	if t.Name == "gochannel" {
		return pubErr
	}
	subErr := t.Subscriber.Close()
	if pubErr != nil {
		return pubErr
	}
	return subErr
}

// NewTransport connects the configured transport.
func NewTransport(cfg config.EventsConfig, logger watermill.LoggerAdapter) (*Transport, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	if !cfg.NATSEnabled {
		return NewGoChannelTransport(logger), nil
	}

	pub, err := newNATSPublisher(cfg, logger)
	if err != nil {
		return nil, err
	}
	sub, err := newNATSSubscriber(cfg, logger)
	if err != nil {
		_ = pub.Close()
		return nil, err
	}
	return &Transport{Publisher: pub, Subscriber: sub, Name: "nats"}, nil
}

// NewGoChannelTransport returns an in-process transport.
func NewGoChannelTransport(logger watermill.LoggerAdapter) *Transport {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	ch := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, logger)
	return &Transport{Publisher: ch, Subscriber: ch, Name: "gochannel"}
}

func natsOptions(logger watermill.LoggerAdapter) []natsgo.Option {
	return []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{
				"url": nc.ConnectedUrl(),
			})
		}),
	}
}

func newNATSPublisher(cfg config.EventsConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	wmConfig := wmNats.PublisherConfig{
		URL:         cfg.NATSURL,
		NatsOptions: natsOptions(logger),
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      !cfg.JetStream,
			AutoProvision: cfg.JetStream,
			TrackMsgId:    cfg.JetStream,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}

	pub, err := wmNats.NewPublisher(wmConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}
	return pub, nil
}

func newNATSSubscriber(cfg config.EventsConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	var subOpts []natsgo.SubOpt
	if cfg.JetStream {
		subOpts = append(subOpts, natsgo.DeliverNew())
	}

	wmConfig := wmNats.SubscriberConfig{
		URL:              cfg.NATSURL,
		QueueGroupPrefix: cfg.SubjectPrefix,
		SubscribersCount: 1,
		AckWaitTimeout:   30 * time.Second,
		CloseTimeout:     30 * time.Second,
		NatsOptions:      natsOptions(logger),
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      !cfg.JetStream,
			AutoProvision: cfg.JetStream,
			AckAsync:      false,
			DurablePrefix: cfg.SubjectPrefix,
			SubscribeOptions: subOpts,
		},
	}

	sub, err := wmNats.NewSubscriber(wmConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill subscriber: %w", err)
	}
	return sub, nil
}
