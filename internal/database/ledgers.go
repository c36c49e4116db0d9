// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/custodia/internal/models"
)

// AddQuotaUnits increments the quota ledger row for a Pacific date,
// creating it when absent. Units within a day only ever grow; the spend is
// recorded for pages actually attempted, even when a later step fails.
func (db *DB) AddQuotaUnits(ctx context.Context, date string, units, dailyQuota int64) error {
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	_, err := db.execWithConflictRetry(ctx,
		`INSERT INTO quota_usage (usage_date, units_used, daily_quota, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (usage_date) DO UPDATE SET
			units_used = quota_usage.units_used + EXCLUDED.units_used,
			daily_quota = EXCLUDED.daily_quota,
			updated_at = EXCLUDED.updated_at`,
		date, units, dailyQuota, time.Now().UTC())
	recordQuery("add_units", "quota_usage", start, err)
	if err != nil {
		return fmt.Errorf("failed to add quota units for %s: %w", date, err)
	}
	return nil
}

// GetQuotaUsage reads the ledger row for a Pacific date. A date with no
// spend yet returns a zero-usage document rather than ErrNotFound, so
// callers never special-case the first spend of the day.
func (db *DB) GetQuotaUsage(ctx context.Context, date string, dailyQuota int64) (*models.QuotaUsage, error) {
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var usage models.QuotaUsage
	err := db.conn.QueryRowContext(ctx,
		`SELECT usage_date, units_used, daily_quota, updated_at
		 FROM quota_usage WHERE usage_date = ?`, date).
		Scan(&usage.Date, &usage.UnitsUsed, &usage.DailyQuota, &usage.UpdatedAt)
	recordQuery("get", "quota_usage", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.QuotaUsage{Date: date, DailyQuota: dailyQuota}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get quota usage for %s: %w", date, err)
	}
	return &usage, nil
}

// AddBudgetSpend increments the budget ledger row for a UTC date with the
// actual cost of one analyzed video. Spend within a day only ever grows.
func (db *DB) AddBudgetSpend(ctx context.Context, date string, costEUR float64, inputTokens, outputTokens int64) error {
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	_, err := db.execWithConflictRetry(ctx,
		`INSERT INTO budget_usage (usage_date, total_spent_eur, video_count, input_tokens, output_tokens, updated_at)
		 VALUES (?, ?, 1, ?, ?, ?)
		 ON CONFLICT (usage_date) DO UPDATE SET
			total_spent_eur = budget_usage.total_spent_eur + EXCLUDED.total_spent_eur,
			video_count = budget_usage.video_count + 1,
			input_tokens = budget_usage.input_tokens + EXCLUDED.input_tokens,
			output_tokens = budget_usage.output_tokens + EXCLUDED.output_tokens,
			updated_at = EXCLUDED.updated_at`,
		date, costEUR, inputTokens, outputTokens, time.Now().UTC())
	recordQuery("add_spend", "budget_usage", start, err)
	if err != nil {
		return fmt.Errorf("failed to add budget spend for %s: %w", date, err)
	}
	return nil
}

// GetBudgetUsage reads the ledger row for a UTC date, returning a zero
// document when the day has no spend yet.
func (db *DB) GetBudgetUsage(ctx context.Context, date string) (*models.BudgetUsage, error) {
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var usage models.BudgetUsage
	err := db.conn.QueryRowContext(ctx,
		`SELECT usage_date, total_spent_eur, video_count, input_tokens, output_tokens, updated_at
		 FROM budget_usage WHERE usage_date = ?`, date).
		Scan(&usage.Date, &usage.TotalSpentEUR, &usage.VideoCount,
			&usage.InputTokens, &usage.OutputTokens, &usage.UpdatedAt)
	recordQuery("get", "budget_usage", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.BudgetUsage{Date: date}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get budget usage for %s: %w", date, err)
	}
	return &usage, nil
}

// IncrementHourlyStats applies one analysis outcome to the UTC-hour rollup.
// infringementDelta moves only when a video's infringement boolean is set or
// flips, so it can be -1, 0 or +1; analysesDelta is 1 on first success.
func (db *DB) IncrementHourlyStats(ctx context.Context, hourKey string, analysesDelta, infringementDelta int64, costEUR, processingSeconds float64) error {
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	_, err := db.execWithConflictRetry(ctx,
		`INSERT INTO hourly_stats (hour_key, analyses, infringements, cost_eur, processing_seconds)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (hour_key) DO UPDATE SET
			analyses = hourly_stats.analyses + EXCLUDED.analyses,
			infringements = hourly_stats.infringements + EXCLUDED.infringements,
			cost_eur = hourly_stats.cost_eur + EXCLUDED.cost_eur,
			processing_seconds = hourly_stats.processing_seconds + EXCLUDED.processing_seconds`,
		hourKey, analysesDelta, infringementDelta, costEUR, processingSeconds)
	recordQuery("increment", "hourly_stats", start, err)
	if err != nil {
		return fmt.Errorf("failed to increment hourly stats for %s: %w", hourKey, err)
	}
	return nil
}

// GetHourlyStats reads one hour's rollup, zero document when absent.
func (db *DB) GetHourlyStats(ctx context.Context, hourKey string) (*models.HourlyStats, error) {
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var stats models.HourlyStats
	err := db.conn.QueryRowContext(ctx,
		`SELECT hour_key, analyses, infringements, cost_eur, processing_seconds
		 FROM hourly_stats WHERE hour_key = ?`, hourKey).
		Scan(&stats.Hour, &stats.Analyses, &stats.Infringements,
			&stats.CostEUR, &stats.ProcessingSeconds)
	recordQuery("get", "hourly_stats", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.HourlyStats{Hour: hourKey}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get hourly stats for %s: %w", hourKey, err)
	}
	return &stats, nil
}

// IncrementSystemStats moves the global rollup counters. Deltas can be
// negative when a reclassification flips a video out of infringement.
func (db *DB) IncrementSystemStats(ctx context.Context, analyzedDelta, infringementDelta int64) error {
	if analyzedDelta == 0 && infringementDelta == 0 {
		return nil
	}
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	_, err := db.execWithConflictRetry(ctx,
		`INSERT INTO system_stats (id, total_analyzed, total_infringements, updated_at)
		 VALUES (1, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			total_analyzed = system_stats.total_analyzed + EXCLUDED.total_analyzed,
			total_infringements = system_stats.total_infringements + EXCLUDED.total_infringements,
			updated_at = EXCLUDED.updated_at`,
		analyzedDelta, infringementDelta, time.Now().UTC())
	recordQuery("increment", "system_stats", start, err)
	if err != nil {
		return fmt.Errorf("failed to increment system stats: %w", err)
	}
	return nil
}

// GetSystemStats reads the global rollup, zero document when absent.
func (db *DB) GetSystemStats(ctx context.Context) (*models.SystemStats, error) {
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var stats models.SystemStats
	err := db.conn.QueryRowContext(ctx,
		`SELECT total_analyzed, total_infringements, updated_at
		 FROM system_stats WHERE id = 1`).
		Scan(&stats.TotalAnalyzed, &stats.TotalInfringements, &stats.UpdatedAt)
	recordQuery("get", "system_stats", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.SystemStats{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get system stats: %w", err)
	}
	return &stats, nil
}
