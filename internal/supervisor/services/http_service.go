// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// defaultShutdownGrace bounds how long in-flight ops requests may hold the
// server open during shutdown.
const defaultShutdownGrace = 10 * time.Second

// HTTPServer is the lifecycle slice of *http.Server the service needs;
// tests substitute a fake.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPServerService adapts an HTTP server's blocking ListenAndServe to
// suture's context-driven Serve: the listener runs in a goroutine, and a
// cancelled context turns into a bounded graceful Shutdown.
type HTTPServerService struct {
	server HTTPServer
	grace  time.Duration
}

// NewHTTPServerService wraps an HTTP server for the supervisor tree.
// A non-positive grace falls back to the default.
func NewHTTPServerService(server HTTPServer, grace time.Duration) *HTTPServerService {
	if grace <= 0 {
		grace = defaultShutdownGrace
	}
	return &HTTPServerService{server: server, grace: grace}
}

// Serve implements suture.Service. It returns the listener's error when
// the server fails on its own, or ctx.Err() after a graceful shutdown.
// http.ErrServerClosed is the expected result of Shutdown and never
// surfaces as a failure.
func (h *HTTPServerService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil

	case <-ctx.Done():
		// The serve context is already cancelled; shutdown gets its own.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.grace)
		defer cancel()

		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPServerService) String() string {
	return "http-server"
}
