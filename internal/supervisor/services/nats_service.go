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

// NATSRuntimeRunner interface matches the NATS runtime lifecycle.
//
// This interface allows the NATSRuntimeService to own the runtime's
// lifetime without importing the main package, avoiding circular
// dependencies.
//
// Satisfied by *natsRuntime from cmd/server/nats.go:
//   - Start(ctx context.Context) error - verifies the connection and stream
//   - Shutdown(ctx context.Context) - closes subscribers, publisher,
//     connection, and the embedded server if one is running
type NATSRuntimeRunner interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context)
}

// NATSRuntimeService wraps the NATS runtime as a supervised service.
//
// It adapts the Start/Shutdown lifecycle pattern to suture's Serve pattern:
//  1. Calls Start(ctx) to verify the messaging layer is up
//  2. Waits for context cancellation
//  3. Calls Shutdown(ctx) for graceful cleanup
//
// The runtime it manages covers:
//   - Embedded NATS server (if configured)
//   - JetStream connection and the scan stream
//   - Watermill publisher and subscribers
//
// Example usage:
//
//	runtime, _ := initNATS(cfg)
//	svc := services.NewNATSRuntimeService(runtime)
//	tree.AddMessagingService(svc)
type NATSRuntimeService struct {
	runtime         NATSRuntimeRunner
	shutdownTimeout time.Duration
	name            string
}

// NewNATSRuntimeService creates a new NATS runtime service wrapper with a
// default shutdown timeout of 10 seconds.
func NewNATSRuntimeService(runtime NATSRuntimeRunner) *NATSRuntimeService {
	return NewNATSRuntimeServiceWithTimeout(runtime, 10*time.Second)
}

// NewNATSRuntimeServiceWithTimeout creates a NATS runtime service with a
// custom shutdown timeout.
func NewNATSRuntimeServiceWithTimeout(runtime NATSRuntimeRunner, shutdownTimeout time.Duration) *NATSRuntimeService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &NATSRuntimeService{
		runtime:         runtime,
		shutdownTimeout: shutdownTimeout,
		name:            "nats-runtime",
	}
}

// Serve implements suture.Service.
//
// This method:
//  1. Starts the runtime (verifies connection and stream health)
//  2. Blocks until the context is canceled
//  3. Shuts down the messaging layer with the configured timeout
//
// If Start() fails, the error is returned immediately, causing suture to
// restart the service according to its backoff policy.
func (s *NATSRuntimeService) Serve(ctx context.Context) error {
	if err := s.runtime.Start(ctx); err != nil {
		return fmt.Errorf("NATS runtime start failed: %w", err)
	}

	// Wait for shutdown signal
	<-ctx.Done()

	// Shutdown with timeout - use fresh context since original is canceled
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	s.runtime.Shutdown(shutdownCtx)

	return ctx.Err()
}

// String implements fmt.Stringer for logging.
// Suture uses this to identify the service in log messages.
func (s *NATSRuntimeService) String() string {
	return s.name
}
