// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package services

import (
	"context"
	"errors"
	"fmt"
)

// Runner is the blocking consume-loop surface shared by Custodia's
// message-driven workers.
//
// This interface allows the RunnerService to supervise those workers
// without importing their packages, avoiding circular dependencies.
//
// Satisfied by:
//   - *vision.Dispatcher from internal/vision/dispatcher.go
//   - *events.EventHandler[E] from internal/events/subscriber.go
type Runner interface {
	// Run consumes messages until the context is canceled. It returns
	// ctx.Err() on shutdown and a real error only on failure.
	Run(ctx context.Context) error
}

// RunnerService wraps a blocking consume loop as a supervised service.
//
// The workers it wraps subscribe to their NATS topics inside Run, so a
// restart re-subscribes and resumes from the stream's consumer position.
//
// Example usage:
//
//	dispatcher := vision.NewDispatcher(store, analyzer, budget, publisher, subscriber, cfg)
//	svc := services.NewRunnerService("vision-dispatcher", dispatcher)
//	tree.AddMessagingService(svc)
type RunnerService struct {
	runner Runner
	name   string
}

// NewRunnerService creates a supervised wrapper around a consume loop.
// The name identifies the worker in supervisor logs.
func NewRunnerService(name string, runner Runner) *RunnerService {
	return &RunnerService{
		runner: runner,
		name:   name,
	}
}

// Serve implements suture.Service.
//
// Context cancellation is the normal shutdown path and is passed through
// untouched so suture retires the service instead of restarting it. Any
// other error is wrapped with the worker name and triggers a restart.
func (r *RunnerService) Serve(ctx context.Context) error {
	err := r.runner.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s failed: %w", r.name, err)
	}
	return ctx.Err()
}

// String implements fmt.Stringer for logging.
// Suture uses this to identify the service in log messages.
func (r *RunnerService) String() string {
	return r.name
}
