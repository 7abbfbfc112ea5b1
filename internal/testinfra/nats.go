// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

//go:build integration

package testinfra

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	// DefaultNATSImage is the NATS server image used by event tests.
	DefaultNATSImage = "nats:2.10-alpine"

	natsPort = "4222/tcp"
)

// NATSContainer is a running NATS server with JetStream enabled.
type NATSContainer struct {
	testcontainers.Container
	URL string
}

// NewNATSContainer starts a JetStream-enabled NATS server. The container is
// terminated when t finishes.
func NewNATSContainer(t *testing.T) *NATSContainer {
	t.Helper()
	SkipIfNoDocker(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        DefaultNATSImage,
			ExposedPorts: []string{natsPort},
			Cmd:          []string{"-js"},
			WaitingFor: wait.ForAll(
				wait.ForLog("Server is ready"),
				wait.ForListeningPort(natsPort),
			).WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("create nats container: %v", err)
	}
	CleanupContainer(t, container)

	addr, err := endpoint(ctx, container, natsPort)
	if err != nil {
		t.Fatalf("resolve nats endpoint: %v", err)
	}
	return &NATSContainer{Container: container, URL: "nats://" + addr}
}
