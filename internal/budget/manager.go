// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

// Package budget tracks daily vision spend in EUR. The ledger is keyed by
// UTC date to align with billing; rollover is implicit when the date key
// changes at UTC midnight.
package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/custodia/internal/metrics"
	"github.com/tomtom215/custodia/internal/models"
)

// Store is the ledger persistence the manager needs.
type Store interface {
	AddBudgetSpend(ctx context.Context, date string, costEUR float64, inputTokens, outputTokens int64) error
	GetBudgetUsage(ctx context.Context, date string) (*models.BudgetUsage, error)
}

// Manager gates and records vision spend against the daily EUR budget.
// The affordability check caches today's total for the remainder of the
// current second of process time; the store stays authoritative, so the
// worst case is one pool of in-flight scans admitted on a second-old
// reading. Increments are atomic in the store, never read-modify-write.
type Manager struct {
	store Store
	daily float64

	mu          sync.Mutex
	cachedSpent float64
	cachedDate  string
	cachedAt    time.Time

	now func() time.Time // test seam
}

// NewManager creates a budget manager for the given daily EUR limit.
func NewManager(store Store, dailyEUR float64) *Manager {
	return &Manager{
		store: store,
		daily: dailyEUR,
		now:   time.Now,
	}
}

// today returns the UTC ledger key for the current instant.
func (m *Manager) today() string {
	return m.now().UTC().Format(models.LedgerDateLayout)
}

// CanAfford reports whether estCostEUR more can be spent today.
// False exactly when spent + estCostEUR exceeds the daily limit.
func (m *Manager) CanAfford(ctx context.Context, estCostEUR float64) (bool, error) {
	spent, err := m.spentToday(ctx)
	if err != nil {
		return false, err
	}
	affordable := spent+estCostEUR <= m.daily
	if !affordable {
		metrics.BudgetExhaustions.Inc()
	}
	return affordable, nil
}

// spentToday returns today's total, served from the per-second cache when
// the clock still reads the same truncated second and the same UTC date.
func (m *Manager) spentToday(ctx context.Context) (float64, error) {
	now := m.now()
	date := now.UTC().Format(models.LedgerDateLayout)

	m.mu.Lock()
	if m.cachedDate == date && m.cachedAt.Truncate(time.Second).Equal(now.Truncate(time.Second)) {
		spent := m.cachedSpent
		m.mu.Unlock()
		return spent, nil
	}
	m.mu.Unlock()

	usage, err := m.store.GetBudgetUsage(ctx, date)
	if err != nil {
		return 0, fmt.Errorf("read budget ledger: %w", err)
	}

	m.mu.Lock()
	m.cachedSpent = usage.TotalSpentEUR
	m.cachedDate = date
	m.cachedAt = now
	m.mu.Unlock()

	return usage.TotalSpentEUR, nil
}

// RecordUsage atomically adds an actual scan cost to today's ledger.
// The cache is advanced opportunistically; the store remains the
// authority for the next gating read.
func (m *Manager) RecordUsage(ctx context.Context, videoID string, actualCostEUR float64, inputTokens, outputTokens int64) error {
	date := m.today()
	if err := m.store.AddBudgetSpend(ctx, date, actualCostEUR, inputTokens, outputTokens); err != nil {
		return fmt.Errorf("record budget spend for %s: %w", videoID, err)
	}

	m.mu.Lock()
	if m.cachedDate == date {
		m.cachedSpent += actualCostEUR
	}
	m.mu.Unlock()

	metrics.RecordBudgetSpend(actualCostEUR)
	return nil
}

// Remaining returns today's unspent budget, never negative.
func (m *Manager) Remaining(ctx context.Context) (float64, error) {
	usage, err := m.store.GetBudgetUsage(ctx, m.today())
	if err != nil {
		return 0, fmt.Errorf("read budget ledger: %w", err)
	}
	remaining := m.daily - usage.TotalSpentEUR
	if remaining < 0 {
		remaining = 0
	}
	metrics.UpdateBudgetGauges(usage.TotalSpentEUR, remaining)
	return remaining, nil
}

// Utilization returns today's spend as a fraction of the daily limit.
func (m *Manager) Utilization(ctx context.Context) (float64, error) {
	usage, err := m.store.GetBudgetUsage(ctx, m.today())
	if err != nil {
		return 0, fmt.Errorf("read budget ledger: %w", err)
	}
	if m.daily <= 0 {
		return 0, nil
	}
	return usage.TotalSpentEUR / m.daily, nil
}

// Stats returns today's ledger document.
func (m *Manager) Stats(ctx context.Context) (*models.BudgetUsage, error) {
	usage, err := m.store.GetBudgetUsage(ctx, m.today())
	if err != nil {
		return nil, fmt.Errorf("read budget ledger: %w", err)
	}
	return usage, nil
}

// DailyLimit returns the configured daily budget in EUR.
func (m *Manager) DailyLimit() float64 {
	return m.daily
}

// EnforceRateLimit is a no-op retained for API compatibility; the vision
// backend meters throughput with dynamic shared quota on its side.
func (m *Manager) EnforceRateLimit(ctx context.Context) error {
	return nil
}
