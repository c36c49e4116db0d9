// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
)

// MockService is a scripted suture.Service for exercising the tree. Each
// Serve call consumes the next scripted outcome in order; a nil entry, or
// an empty script, blocks until the context ends. Restart behavior falls
// out of the script: two errors followed by nothing models a service that
// crashes twice and then settles.
type MockService struct {
	name string

	mu     sync.Mutex
	script []error

	starts atomic.Int32
	stops  atomic.Int32
}

// NewMockService creates a mock service that runs until cancelled.
func NewMockService(name string) *MockService {
	return &MockService{name: name}
}

// ScriptReturns queues the outcomes of the next Serve calls. Passing
// suture sentinel errors (ErrDoNotRestart, ErrTerminateSupervisorTree)
// works the same as from a real service.
func (m *MockService) ScriptReturns(errs ...error) *MockService {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, errs...)
	return m
}

// Serve implements suture.Service.
func (m *MockService) Serve(ctx context.Context) error {
	m.starts.Add(1)
	defer m.stops.Add(1)

	m.mu.Lock()
	var next error
	if len(m.script) > 0 {
		next = m.script[0]
		m.script = m.script[1:]
	}
	m.mu.Unlock()

	if next != nil {
		return next
	}

	<-ctx.Done()
	return ctx.Err()
}

// Starts reports how many times the supervisor invoked Serve.
func (m *MockService) Starts() int32 { return m.starts.Load() }

// Stops reports how many Serve calls have returned.
func (m *MockService) Stops() int32 { return m.stops.Load() }

func (m *MockService) String() string { return m.name }
