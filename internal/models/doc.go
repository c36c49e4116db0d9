// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

/*
Package models defines the data structures shared across the Custodia pipeline.

This package is the single source of truth for domain entities, their
lifecycle enums, and the pure functions that derive classification from
scores. It has no dependencies beyond the standard library so every other
package can import it freely.

Key Components:

  - Video: authoritative per-video document (discovery metadata, risk fields,
    analysis summary, lifecycle status)
  - Channel: per-uploader reputation rollup with the counter invariant
    videos_scanned == confirmed_infringements + videos_cleared
  - IPConfig: descriptor of one protected intellectual property
  - KeywordSearch: append-only search-history record per (keyword, ordering)
  - ScanRecord: one dispatched vision-analysis attempt
  - QuotaUsage / BudgetUsage: daily ledgers (Pacific / UTC date keyed)
  - HourlyStats / SystemStats: counter rollups maintained by atomic increments
  - VisionResult: the only wire format the pipeline mandates from the
    vision backend (per-IP breakdown plus an overall recommendation)

Classification:

Scores are float64 in [0,100]. TierForPriority maps a scan priority to a
PriorityTier; the mapping is pure and must never depend on mutable state.
RecommendedAction.Actionable reports whether a recommendation counts as a
confirmed infringement (only immediate_takedown does).

Thread Safety:

All models are plain data. Callers own synchronization; the store layer
serializes status transitions and performs counter updates atomically.
*/
package models
