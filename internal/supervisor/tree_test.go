// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bandworks/chartsync/internal/logging"
)

func init() {
	logging.Init(logging.Config{Level: "info", Format: "console", Output: io.Discard})
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockService implements suture.Service with controllable failures.
type mockService struct {
	name     string
	maxFails int32
	starts   atomic.Int32
	failures atomic.Int32
}

func (m *mockService) Serve(ctx context.Context) error {
	m.starts.Add(1)
	if m.maxFails > 0 && m.failures.Add(1) <= m.maxFails {
		return errors.New("simulated failure")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (m *mockService) String() string { return m.name }

func TestNewTreeAppliesDefaults(t *testing.T) {
	tree := NewTree(testLogger(), TreeConfig{})

	if tree.Root() == nil {
		t.Fatal("root supervisor is nil")
	}
	if tree.config.FailureThreshold != 5.0 {
		t.Errorf("expected threshold 5.0, got %f", tree.config.FailureThreshold)
	}
	if tree.config.FailureDecay != 30.0 {
		t.Errorf("expected decay 30.0, got %f", tree.config.FailureDecay)
	}
	if tree.config.FailureBackoff != 15*time.Second {
		t.Errorf("expected backoff 15s, got %v", tree.config.FailureBackoff)
	}
	if tree.config.ShutdownTimeout != 10*time.Second {
		t.Errorf("expected shutdown timeout 10s, got %v", tree.config.ShutdownTimeout)
	}
}

func TestDefaultTreeConfig(t *testing.T) {
	cfg := DefaultTreeConfig()

	if cfg.FailureThreshold != 5.0 || cfg.FailureDecay != 30.0 {
		t.Errorf("unexpected failure policy: %+v", cfg)
	}
	if cfg.FailureBackoff != 15*time.Second || cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("unexpected timing: %+v", cfg)
	}
}

func TestTreeStartsEveryLayer(t *testing.T) {
	tree := NewTree(testLogger(), TreeConfig{ShutdownTimeout: time.Second})

	storeSvc := &mockService{name: "store-svc"}
	syncSvc := &mockService{name: "sync-svc"}
	apiSvc := &mockService{name: "api-svc"}
	tree.AddStoreService(storeSvc)
	tree.AddSyncService(syncSvc)
	tree.AddAPIService(apiSvc)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if storeSvc.starts.Load() > 0 && syncSvc.starts.Load() > 0 && apiSvc.starts.Load() > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if storeSvc.starts.Load() == 0 {
		t.Error("store layer service never started")
	}
	if syncSvc.starts.Load() == 0 {
		t.Error("sync layer service never started")
	}
	if apiSvc.starts.Load() == 0 {
		t.Error("api layer service never started")
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected serve error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Error("tree did not shut down in time")
	}
}

func TestTreeRestartsFailingService(t *testing.T) {
	tree := NewTree(testLogger(), TreeConfig{
		FailureThreshold: 10,
		FailureBackoff:   10 * time.Millisecond,
		ShutdownTimeout:  time.Second,
	})

	failing := &mockService{name: "failing", maxFails: 2}
	stable := &mockService{name: "stable"}
	tree.AddSyncService(failing)
	tree.AddAPIService(stable)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && failing.starts.Load() < 3 {
		time.Sleep(10 * time.Millisecond)
	}

	if got := failing.starts.Load(); got < 3 {
		t.Errorf("expected at least 3 starts after 2 failures, got %d", got)
	}
	if stable.starts.Load() == 0 {
		t.Error("stable service never started")
	}

	cancel()
	<-errCh
}

func TestServeBackgroundDeliversTerminalError(t *testing.T) {
	tree := NewTree(testLogger(), TreeConfig{ShutdownTimeout: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	select {
	case err := <-tree.ServeBackground(ctx):
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("no terminal error delivered")
	}
}
