// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

// mockService fails its first failures runs, then blocks until canceled.
type mockService struct {
	name     string
	failures int32
	starts   atomic.Int32
}

func (m *mockService) Serve(ctx context.Context) error {
	if n := m.starts.Add(1); n <= m.failures {
		return errors.New("simulated failure")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (m *mockService) String() string { return m.name }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewSupervisorTreeDefaults(t *testing.T) {
	tree, err := NewSupervisorTree(quietLogger(), TreeConfig{})
	if err != nil {
		t.Fatalf("NewSupervisorTree: %v", err)
	}
	if tree.Root() == nil {
		t.Fatal("root supervisor is nil")
	}
	if tree.config != DefaultTreeConfig() {
		t.Errorf("config = %+v, want defaults", tree.config)
	}

	tree, _ = NewSupervisorTree(nil, TreeConfig{ShutdownTimeout: time.Second})
	if tree.config.ShutdownTimeout != time.Second {
		t.Errorf("ShutdownTimeout = %v, want 1s", tree.config.ShutdownTimeout)
	}
	if tree.logger == nil {
		t.Error("nil logger should fall back to slog.Default")
	}
}

func TestSupervisorTreeStartsLayers(t *testing.T) {
	tree, _ := NewSupervisorTree(quietLogger(), TreeConfig{ShutdownTimeout: time.Second})
	hub := &mockService{name: "hub"}
	api := &mockService{name: "http"}
	tree.AddMessagingService(hub)
	tree.AddAPIService(api)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for hub.starts.Load() == 0 || api.starts.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("services were not started")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("tree exit = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not shut down")
	}

	report, err := tree.UnstoppedServiceReport()
	if err != nil {
		t.Fatalf("UnstoppedServiceReport: %v", err)
	}
	if len(report) != 0 {
		t.Errorf("unstopped services: %v", report)
	}
}

func TestSupervisorTreeRestartsFailedService(t *testing.T) {
	tree, _ := NewSupervisorTree(quietLogger(), TreeConfig{
		FailureThreshold: 10,
		FailureBackoff:   10 * time.Millisecond,
		ShutdownTimeout:  time.Second,
	})
	flaky := &mockService{name: "ingest", failures: 2}
	stable := &mockService{name: "http"}
	tree.AddMessagingService(flaky)
	tree.AddAPIService(stable)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() { _ = tree.Serve(ctx) }()

	deadline := time.Now().Add(time.Second)
	for flaky.starts.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("flaky service started %d times, want 3", flaky.starts.Load())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := stable.starts.Load(); got != 1 {
		t.Errorf("stable service started %d times, want 1", got)
	}
}

func TestRemoveMessagingService(t *testing.T) {
	tree, _ := NewSupervisorTree(quietLogger(), TreeConfig{ShutdownTimeout: time.Second})
	svc := &mockService{name: "ingest"}
	token := tree.AddMessagingService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tree.ServeBackground(ctx)

	deadline := time.Now().Add(time.Second)
	for svc.starts.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("service was not started")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := tree.RemoveMessagingService(token); err != nil {
		t.Errorf("RemoveMessagingService: %v", err)
	}
}
