// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package services

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thejerf/suture/v4"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	_ suture.Service = (*HTTPServerService)(nil)
	_ suture.Service = (*LoopService)(nil)
)

// fakeServer blocks in ListenAndServe until Shutdown.
type fakeServer struct {
	listenErr   error
	shutdownErr error
	started     chan struct{}
	stop        chan struct{}
	shutdowns   atomic.Int32
}

func newFakeServer() *fakeServer {
	return &fakeServer{started: make(chan struct{}, 1), stop: make(chan struct{})}
}

func (f *fakeServer) ListenAndServe() error {
	select {
	case f.started <- struct{}{}:
	default:
	}
	if f.listenErr != nil {
		return f.listenErr
	}
	<-f.stop
	return http.ErrServerClosed
}

func (f *fakeServer) Shutdown(context.Context) error {
	f.shutdowns.Add(1)
	close(f.stop)
	return f.shutdownErr
}

func TestHTTPServerService_GracefulShutdown(t *testing.T) {
	server := newFakeServer()
	svc := NewHTTPServerService(server, ":0", time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	select {
	case <-server.started:
	case <-time.After(time.Second):
		t.Fatal("server did not start")
	}
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
	assert.Equal(t, int32(1), server.shutdowns.Load())
}

func TestHTTPServerService_ListenFailure(t *testing.T) {
	bindErr := errors.New("bind: address already in use")
	server := newFakeServer()
	server.listenErr = bindErr

	err := NewHTTPServerService(server, ":3857", 0).Serve(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, bindErr)
	assert.Contains(t, err.Error(), ":3857")
}

func TestHTTPServerService_ShutdownFailure(t *testing.T) {
	shutdownErr := errors.New("drain timed out")
	server := newFakeServer()
	server.shutdownErr = shutdownErr
	svc := NewHTTPServerService(server, ":0", time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()
	<-server.started
	cancel()

	assert.ErrorIs(t, <-errCh, shutdownErr)
}

func TestNewHTTPServerService_DefaultTimeout(t *testing.T) {
	assert.Equal(t, DefaultShutdownTimeout, NewHTTPServerService(newFakeServer(), "", -time.Second).shutdownTimeout)
}

type runnerFunc func(ctx context.Context) error

func (f runnerFunc) Run(ctx context.Context) error { return f(ctx) }

func TestLoopService(t *testing.T) {
	t.Run("context end is a clean stop", func(t *testing.T) {
		svc := NewSweeperService(runnerFunc(func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, svc.Serve(ctx), context.Canceled)
		assert.Equal(t, "presence-sweeper", svc.String())
	})

	t.Run("early nil return is a failure", func(t *testing.T) {
		svc := NewJournalRetryService(runnerFunc(func(context.Context) error { return nil }))
		err := svc.Serve(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "journal-retry-loop")
	})

	t.Run("loop error is wrapped", func(t *testing.T) {
		boom := errors.New("badger closed")
		err := NewLoopService("x", runnerFunc(func(context.Context) error { return boom })).Serve(context.Background())
		assert.ErrorIs(t, err, boom)
	})
}

func TestLoopService_RestartedBySupervisor(t *testing.T) {
	var runs atomic.Int32
	svc := NewLoopService("flaky", runnerFunc(func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		<-ctx.Done()
		return ctx.Err()
	}))

	sup := suture.New("test", suture.Spec{
		FailureThreshold: 10,
		FailureBackoff:   time.Millisecond,
		Timeout:          time.Second,
	})
	sup.Add(svc)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := sup.ServeBackground(ctx)

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-errCh
}
