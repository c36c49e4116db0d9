// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

/*
Package services provides suture.Service wrappers for Custodia components.

This package adapts application components to the suture v4 supervision
model, translating various lifecycle patterns (Start/Shutdown, Run,
ListenAndServe) into suture's context-aware Serve pattern.

# Overview

Each wrapper implements the suture.Service interface:

	type Service interface {
	    Serve(ctx context.Context) error
	}

The wrappers handle:
  - Lifecycle translation (Start/Shutdown to Serve pattern)
  - Graceful shutdown via context cancellation
  - Error propagation for supervisor restart decisions
  - Service identification via fmt.Stringer

# Available Services

HTTP Server (HTTPServerService):
  - Wraps *http.Server with graceful shutdown
  - Converts ListenAndServe pattern to Serve
  - Configurable shutdown timeout for draining connections

NATS Runtime (NATSRuntimeService):
  - Owns the messaging layer's lifetime
  - Covers the embedded server, JetStream connection, publisher,
    and subscribers
  - Shutdown drains in-flight messages with a configurable timeout

Consume Loops (RunnerService):
  - Wraps any worker exposing Run(ctx) error
  - Used for the vision dispatcher and the event consumers
  - A restart re-subscribes and resumes from the stream position

Discovery Cron (DiscoveryCronService):
  - Drives scheduled discovery runs on a fixed interval
  - First run fires one full interval after start, never at boot
  - A failed run restarts the cron through suture's backoff

# Usage Example

Creating and registering services:

	import (
	    "net/http"
	    "time"

	    "github.com/tomtom215/custodia/internal/supervisor"
	    "github.com/tomtom215/custodia/internal/supervisor/services"
	)

	func setupSupervisor(server *http.Server, runtime *natsRuntime, dispatcher *vision.Dispatcher) {
	    tree, _ := supervisor.NewSupervisorTree(logger, config)

	    // HTTP server with 10s shutdown timeout
	    httpSvc := services.NewHTTPServerService(server, 10*time.Second)
	    tree.AddAPIService(httpSvc)

	    // Messaging layer: runtime first, then its consumers
	    tree.AddMessagingService(services.NewNATSRuntimeService(runtime))
	    tree.AddMessagingService(services.NewRunnerService("vision-dispatcher", dispatcher))

	    // Start supervision
	    tree.Serve(ctx)
	}

# Error Handling

Return values determine supervisor behavior:

	nil         -> Service stopped cleanly, will not restart
	error       -> Service crashed, supervisor will restart
	ctx.Err()   -> Shutdown requested, normal termination

# Service Identification

All services implement fmt.Stringer for logging:

	func (s *HTTPServerService) String() string {
	    return "http-server"
	}

Suture uses this for log messages:

	INFO http-server: starting
	INFO http-server: stopped
	ERROR vision-dispatcher: restarting after failure

# Testing

Services are tested with mock components; see the _test.go files in this
package for the mockHTTPServer, mockNATSRuntime, mockRunner, and
mockDiscoveryScheduler doubles.

# Thread Safety

All service wrappers are safe for concurrent use:
  - Context cancellation is handled atomically
  - Multiple Serve calls are not supported (undefined behavior)

# See Also

  - internal/supervisor: SupervisorTree that manages these services
  - github.com/thejerf/suture/v4: Underlying supervision library
  - internal/vision: Dispatcher consume loop
  - internal/events: Typed NATS event consumers
*/
package services
