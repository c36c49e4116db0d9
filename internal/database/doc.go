// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

// Package database provides DuckDB-backed storage for the pipeline.
//
// Tables:
//   - videos: every discovered video with its risk, priority, status, and
//     latest analysis summary
//   - channels: per-channel rollup counters maintained by the
//     subtract-old/add-new delta protocol
//   - ip_configs: the intellectual properties being monitored, with
//     keyword buckets and detection hints (soft-deleted, never dropped)
//   - keyword_searches: search history for window planning and keyword
//     exhaustion tracking
//   - scan_history: one row per vision scan attempt, used for cost
//     reporting and startup recovery
//   - view_snapshots: periodic view counts for velocity computation
//   - quota_usage: Pacific-date-keyed search API quota ledger
//   - budget_usage: UTC-date-keyed vision spend ledger
//   - hourly_stats, system_stats: aggregate counters for reporting
//
// All write paths go through parameterized queries. Concurrent writers can
// hit DuckDB transaction conflicts; hot paths (ledgers, channel deltas)
// wrap their statements in execWithConflictRetry.
//
// Schema is created on startup by createTables; post-release changes go
// through the versioned migration system in migrations.go.
package database
