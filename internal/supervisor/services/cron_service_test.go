// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

// mockDiscoveryScheduler is a test double for the DiscoveryScheduler interface.
type mockDiscoveryScheduler struct {
	runCount atomic.Int32
	runErr   error
}

func (m *mockDiscoveryScheduler) RunScheduled(ctx context.Context) error {
	m.runCount.Add(1)
	return m.runErr
}

func TestDiscoveryCronService_Interface(t *testing.T) {
	var _ suture.Service = (*DiscoveryCronService)(nil)
}

func TestNewDiscoveryCronService(t *testing.T) {
	t.Run("keeps a positive interval", func(t *testing.T) {
		svc := NewDiscoveryCronService(&mockDiscoveryScheduler{}, 2*time.Hour)
		if svc.interval != 2*time.Hour {
			t.Errorf("expected interval 2h, got %v", svc.interval)
		}
	})

	t.Run("defaults non-positive interval", func(t *testing.T) {
		svc := NewDiscoveryCronService(&mockDiscoveryScheduler{}, 0)
		if svc.interval != 6*time.Hour {
			t.Errorf("expected default interval 6h, got %v", svc.interval)
		}

		svc = NewDiscoveryCronService(&mockDiscoveryScheduler{}, -time.Minute)
		if svc.interval != 6*time.Hour {
			t.Errorf("expected default interval 6h, got %v", svc.interval)
		}
	})
}

func TestDiscoveryCronService_Serve(t *testing.T) {
	t.Run("does not run before the first interval", func(t *testing.T) {
		scheduler := &mockDiscoveryScheduler{}
		svc := NewDiscoveryCronService(scheduler, time.Hour)

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		err := svc.Serve(ctx)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected context.DeadlineExceeded, got %v", err)
		}
		if scheduler.runCount.Load() != 0 {
			t.Errorf("expected no runs before first tick, got %d", scheduler.runCount.Load())
		}
	})

	t.Run("runs on every tick", func(t *testing.T) {
		scheduler := &mockDiscoveryScheduler{}
		svc := NewDiscoveryCronService(scheduler, 20*time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), 110*time.Millisecond)
		defer cancel()

		err := svc.Serve(ctx)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected context.DeadlineExceeded, got %v", err)
		}
		if scheduler.runCount.Load() < 2 {
			t.Errorf("expected at least 2 runs, got %d", scheduler.runCount.Load())
		}
	})

	t.Run("stops with an error when a run fails", func(t *testing.T) {
		failure := errors.New("plan build failed")
		scheduler := &mockDiscoveryScheduler{runErr: failure}
		svc := NewDiscoveryCronService(scheduler, 10*time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		err := svc.Serve(ctx)
		if !errors.Is(err, failure) {
			t.Fatalf("expected wrapped run failure, got %v", err)
		}
		if scheduler.runCount.Load() != 1 {
			t.Errorf("expected exactly 1 run, got %d", scheduler.runCount.Load())
		}
	})

	t.Run("returns context error on shutdown", func(t *testing.T) {
		scheduler := &mockDiscoveryScheduler{}
		svc := NewDiscoveryCronService(scheduler, time.Hour)

		ctx, cancel := context.WithCancel(context.Background())

		errCh := make(chan error, 1)
		go func() {
			errCh <- svc.Serve(ctx)
		}()

		cancel()

		select {
		case err := <-errCh:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("expected context.Canceled, got %v", err)
			}
		case <-time.After(time.Second):
			t.Error("Serve did not return after cancellation")
		}
	})
}

func TestDiscoveryCronService_String(t *testing.T) {
	svc := NewDiscoveryCronService(&mockDiscoveryScheduler{}, time.Hour)
	if svc.String() != "discovery-cron" {
		t.Errorf("expected 'discovery-cron', got %q", svc.String())
	}
}
