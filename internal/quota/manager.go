// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

// Package quota tracks daily search-API unit spend. The ledger is keyed by
// the Pacific calendar date because that is when the upstream API resets;
// rollover happens implicitly when the date key changes.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/custodia/internal/metrics"
	"github.com/tomtom215/custodia/internal/models"
)

// API unit costs. One keyword search page costs 100 units regardless of
// how many results come back; a channel uploads scan costs 2; a details
// fetch costs 1 unit per batch of up to 50 ids.
const (
	CostSearchPage  int64 = 100
	CostChannelScan int64 = 2

	idsPerDetailsUnit = 50
)

// Operation labels for spend metrics.
const (
	OpSearch      = "search"
	OpChannelScan = "channel_scan"
	OpDetails     = "details"
)

// DetailsCost returns the unit cost of fetching details for n video ids.
func DetailsCost(n int) int64 {
	if n <= 0 {
		return 0
	}
	return int64((n + idsPerDetailsUnit - 1) / idsPerDetailsUnit)
}

// Store is the ledger persistence the manager needs.
type Store interface {
	AddQuotaUnits(ctx context.Context, date string, units, dailyQuota int64) error
	GetQuotaUsage(ctx context.Context, date string, dailyQuota int64) (*models.QuotaUsage, error)
}

// Manager gates and records search-API spend against the daily quota.
// Instances share the ledger through the store; increments are atomic so
// concurrent runs never lose units. The gate may act on a reading that is
// a moment stale, which can overshoot by at most one in-flight operation.
type Manager struct {
	store Store
	daily int64
	loc   *time.Location

	now func() time.Time // test seam
}

// NewManager creates a quota manager for the given daily limit.
// loc is the quota-reset timezone (Pacific for the production API).
func NewManager(store Store, dailyUnits int64, loc *time.Location) *Manager {
	return &Manager{
		store: store,
		daily: dailyUnits,
		loc:   loc,
		now:   time.Now,
	}
}

// today returns the ledger key for the current instant.
func (m *Manager) today() string {
	return m.now().In(m.loc).Format(models.LedgerDateLayout)
}

// CanSpend reports whether units more can be spent today.
func (m *Manager) CanSpend(ctx context.Context, units int64) (bool, error) {
	usage, err := m.store.GetQuotaUsage(ctx, m.today(), m.daily)
	if err != nil {
		return false, fmt.Errorf("read quota ledger: %w", err)
	}
	ok := usage.UnitsUsed+units <= m.daily
	if !ok {
		metrics.QuotaExhaustions.Inc()
	}
	return ok, nil
}

// Record adds units to today's ledger. Units are charged for what the API
// attempted, not for what it returned, so callers record even when a
// search comes back empty.
func (m *Manager) Record(ctx context.Context, operation string, units int64) error {
	if units <= 0 {
		return nil
	}
	if err := m.store.AddQuotaUnits(ctx, m.today(), units, m.daily); err != nil {
		return fmt.Errorf("record quota units: %w", err)
	}
	metrics.RecordQuotaSpend(operation, units)
	return nil
}

// Remaining returns today's unspent units, never negative.
func (m *Manager) Remaining(ctx context.Context) (int64, error) {
	usage, err := m.store.GetQuotaUsage(ctx, m.today(), m.daily)
	if err != nil {
		return 0, fmt.Errorf("read quota ledger: %w", err)
	}
	metrics.UpdateQuotaGauges(usage.UnitsUsed, usage.Remaining())
	return usage.Remaining(), nil
}

// Stats returns today's ledger document.
func (m *Manager) Stats(ctx context.Context) (*models.QuotaUsage, error) {
	usage, err := m.store.GetQuotaUsage(ctx, m.today(), m.daily)
	if err != nil {
		return nil, fmt.Errorf("read quota ledger: %w", err)
	}
	return usage, nil
}
