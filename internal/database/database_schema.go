// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

/*
database_schema.go - Database Schema Management

Tables:
  - videos: every discovered video (lifecycle status, risk, priority,
    latest analysis summary as JSON)
  - channels: per-channel rollup counters and reputation score
  - ip_configs: monitored intellectual properties (detection hints as JSON)
  - keyword_searches: append-only search history per (keyword, ordering)
  - scan_history: one row per vision scan attempt
  - view_snapshots: periodic view counts for velocity computation
  - quota_usage: daily search API quota ledger (Pacific date key)
  - budget_usage: daily vision spend ledger (UTC date key)
  - hourly_stats: per-hour analysis counters (UTC hour key)
  - system_stats: single-row global rollup

Schema Strategy (Pre-Release):
All columns are defined in the initial CREATE TABLE statements. Versioned
migrations in migrations.go take over after the first public release.

Index Strategy:
Indexes cover the pipeline's hot filters: status scans by the dispatcher
and recovery sweep, channel lookups by the rollup maintainer, priority
ordering for the scan queue, and searched_at ranges for window planning.
*/

//nolint:staticcheck // File documentation, not package doc
package database

import (
	"context"
	"fmt"
	"time"
)

// schemaContext returns a context with timeout for schema operations
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createTables creates the core database tables
func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	queries := db.getTableCreationQueries()

	for _, query := range queries {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}

	return nil
}

// getTableCreationQueries returns the table creation SQL statements
func (db *DB) getTableCreationQueries() []string {
	queries := []string{
		// Videos table - one row per discovered video, keyed by the
		// external 11-character video id
		`CREATE TABLE IF NOT EXISTS videos (
			-- Identity and metadata from discovery
			video_id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT,
			tags JSON,
			channel_id TEXT NOT NULL,
			channel_title TEXT,
			thumbnail_url TEXT,
			duration_seconds INTEGER NOT NULL DEFAULT 0,

			-- Engagement counters (refreshed on re-discovery and snapshots)
			view_count BIGINT NOT NULL DEFAULT 0,
			like_count BIGINT NOT NULL DEFAULT 0,
			comment_count BIGINT NOT NULL DEFAULT 0,

			published_at TIMESTAMP,
			discovered_at TIMESTAMP NOT NULL,

			-- Text-level IP matches from discovery (JSON array of config ids)
			matched_ips JSON,

			-- Lifecycle
			status TEXT NOT NULL DEFAULT 'discovered',

			-- Risk and priority
			initial_risk DOUBLE NOT NULL DEFAULT 0,
			current_risk DOUBLE NOT NULL DEFAULT 0,
			scan_priority DOUBLE NOT NULL DEFAULT 0,
			priority_tier TEXT NOT NULL DEFAULT 'VERY_LOW',

			-- Analysis results
			scan_count INTEGER NOT NULL DEFAULT 0,
			analysis JSON,

			view_velocity DOUBLE NOT NULL DEFAULT 0,

			vision_triggered_at TIMESTAMP,
			processing_started_at TIMESTAMP,
			last_analyzed_at TIMESTAMP,
			last_risk_update TIMESTAMP,

			deleted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		// Channels table - rollup counters maintained by delta protocol
		`CREATE TABLE IF NOT EXISTS channels (
			channel_id TEXT PRIMARY KEY,
			title TEXT,

			total_videos_found BIGINT NOT NULL DEFAULT 0,
			videos_scanned BIGINT NOT NULL DEFAULT 0,
			confirmed_infringements BIGINT NOT NULL DEFAULT 0,
			videos_cleared BIGINT NOT NULL DEFAULT 0,
			infringing_videos_count BIGINT NOT NULL DEFAULT 0,
			total_infringing_views BIGINT NOT NULL DEFAULT 0,

			subscriber_count BIGINT NOT NULL DEFAULT 0,
			channel_risk DOUBLE NOT NULL DEFAULT 0,

			first_seen_at TIMESTAMP NOT NULL,
			last_scanned_at TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		// IP configs table - monitored properties, soft-deleted only
		`CREATE TABLE IF NOT EXISTS ip_configs (
			ip_id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			owner TEXT,

			characters JSON,
			visual_markers JSON,
			ai_tool_patterns JSON,
			false_positive_filters JSON,
			search_keywords JSON,

			high_priority BOOLEAN NOT NULL DEFAULT FALSE,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			deleted BOOLEAN NOT NULL DEFAULT FALSE,

			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		// Keyword search history - append-only, one row per executed search
		`CREATE TABLE IF NOT EXISTS keyword_searches (
			id UUID PRIMARY KEY,
			keyword TEXT NOT NULL,
			ordering TEXT NOT NULL,
			searched_at TIMESTAMP NOT NULL,

			results_count INTEGER NOT NULL DEFAULT 0,
			new_videos INTEGER NOT NULL DEFAULT 0,
			efficiency DOUBLE NOT NULL DEFAULT 0,

			window_start TIMESTAMP,
			window_end TIMESTAMP,
			window_days DOUBLE,

			exhausted BOOLEAN NOT NULL DEFAULT FALSE,
			tier INTEGER NOT NULL DEFAULT 3
		)`,

		// Scan history - one row per vision scan attempt
		`CREATE TABLE IF NOT EXISTS scan_history (
			scan_id UUID PRIMARY KEY,
			video_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'running',
			started_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP,
			error TEXT,
			error_kind TEXT,
			cost_eur DOUBLE NOT NULL DEFAULT 0
		)`,

		// View snapshots - velocity source data
		`CREATE TABLE IF NOT EXISTS view_snapshots (
			video_id TEXT NOT NULL,
			snapshot_at TIMESTAMP NOT NULL,
			view_count BIGINT NOT NULL,
			PRIMARY KEY (video_id, snapshot_at)
		)`,

		// Quota ledger - one row per Pacific calendar date
		`CREATE TABLE IF NOT EXISTS quota_usage (
			usage_date TEXT PRIMARY KEY,
			units_used BIGINT NOT NULL DEFAULT 0,
			daily_quota BIGINT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		// Budget ledger - one row per UTC calendar date
		`CREATE TABLE IF NOT EXISTS budget_usage (
			usage_date TEXT PRIMARY KEY,
			total_spent_eur DOUBLE NOT NULL DEFAULT 0,
			video_count BIGINT NOT NULL DEFAULT 0,
			input_tokens BIGINT NOT NULL DEFAULT 0,
			output_tokens BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		// Hourly stats - one row per UTC hour
		`CREATE TABLE IF NOT EXISTS hourly_stats (
			hour_key TEXT PRIMARY KEY,
			analyses BIGINT NOT NULL DEFAULT 0,
			infringements BIGINT NOT NULL DEFAULT 0,
			cost_eur DOUBLE NOT NULL DEFAULT 0,
			processing_seconds DOUBLE NOT NULL DEFAULT 0
		)`,

		// System stats - single-row global rollup (id always 1)
		`CREATE TABLE IF NOT EXISTS system_stats (
			id INTEGER PRIMARY KEY,
			total_analyzed BIGINT NOT NULL DEFAULT 0,
			total_infringements BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	return queries
}

// createIndexes creates indexes for the pipeline's hot query paths
func (db *DB) createIndexes() error {
	ctx, cancel := schemaContext()
	defer cancel()

	indexes := []string{
		// Dispatcher and recovery sweep scan by status
		`CREATE INDEX IF NOT EXISTS idx_videos_status ON videos(status)`,
		// Rollup maintenance and channel pages
		`CREATE INDEX IF NOT EXISTS idx_videos_channel ON videos(channel_id)`,
		// Scan queue ordering
		`CREATE INDEX IF NOT EXISTS idx_videos_priority ON videos(scan_priority DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_videos_discovered_at ON videos(discovered_at)`,

		// Window planning reads the latest search per (keyword, ordering)
		`CREATE INDEX IF NOT EXISTS idx_searches_keyword ON keyword_searches(keyword, ordering, searched_at)`,

		// Recovery sweep finds running scans; cost reports scan by time
		`CREATE INDEX IF NOT EXISTS idx_scans_status ON scan_history(status)`,
		`CREATE INDEX IF NOT EXISTS idx_scans_video ON scan_history(video_id, started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_scans_started_at ON scan_history(started_at)`,

		// Velocity reads the last two snapshots per video
		`CREATE INDEX IF NOT EXISTS idx_snapshots_video ON view_snapshots(video_id, snapshot_at)`,

		// Channel scan planning orders by risk and rescan recency
		`CREATE INDEX IF NOT EXISTS idx_channels_risk ON channels(channel_risk DESC)`,
	}

	for _, idx := range indexes {
		if _, err := db.conn.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("failed to create index: %s: %w", idx, err)
		}
	}

	return nil
}
