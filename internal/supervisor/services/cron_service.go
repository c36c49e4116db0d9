// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package services

import (
	"context"
	"fmt"
	"time"
)

// DiscoveryScheduler matches the scheduler's cron-run entry point.
//
// This interface allows the DiscoveryCronService to drive scheduled runs
// without importing the discovery package, avoiding circular dependencies.
//
// Satisfied by *discovery.Scheduler from internal/discovery/scheduler.go.
type DiscoveryScheduler interface {
	// RunScheduled executes one cron-triggered discovery run. A run
	// already in flight is skipped, not an error.
	RunScheduled(ctx context.Context) error
}

// DiscoveryCronService runs discovery on a fixed interval as a supervised
// service.
//
// The first run fires one full interval after the service starts, never at
// boot. A process stuck in a restart loop therefore cannot spend search
// quota on every start.
//
// Example usage:
//
//	svc := services.NewDiscoveryCronService(scheduler, 6*time.Hour)
//	tree.AddDataService(svc)
type DiscoveryCronService struct {
	scheduler DiscoveryScheduler
	interval  time.Duration
	name      string
}

// NewDiscoveryCronService creates a new discovery cron service.
//
// The interval must be positive; zero or negative values fall back to six
// hours. Callers that want the cron disabled simply don't add the service
// to the tree.
func NewDiscoveryCronService(scheduler DiscoveryScheduler, interval time.Duration) *DiscoveryCronService {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	return &DiscoveryCronService{
		scheduler: scheduler,
		interval:  interval,
		name:      "discovery-cron",
	}
}

// Serve implements suture.Service.
//
// Each tick executes one full discovery run. A failed run stops the
// service with an error, so suture restarts it with backoff and the next
// attempt again waits a full interval.
func (d *DiscoveryCronService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.scheduler.RunScheduled(ctx); err != nil {
				return fmt.Errorf("scheduled discovery run failed: %w", err)
			}
		}
	}
}

// String implements fmt.Stringer for logging.
// Suture uses this to identify the service in log messages.
func (d *DiscoveryCronService) String() string {
	return d.name
}
