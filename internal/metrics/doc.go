// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

// Package metrics provides Prometheus instrumentation for the pipeline.
//
// All metrics are registered with the default registry via promauto at
// package init and exposed on /metrics by the ops HTTP server. Helper
// functions wrap the common multi-metric recordings (a scan outcome
// touches a counter, a histogram, and the spend gauge together) so call
// sites stay one line.
//
// Metric families:
//
//   - duckdb_*              database query performance and errors
//   - api_*                 ops endpoint latency and throughput
//   - nats_*                event publishing and consumption
//   - circuit_breaker_*     breaker state for the external APIs
//   - discovery_*           discovery run outcomes and search spend
//   - quota_*               search API quota ledger
//   - budget_*              vision spend ledger
//   - vision_*              scan dispatch, retries, token usage
//   - results_*             confirmation and clearance counters
//   - recovery_*            startup sweep outcomes
//   - youtube_api_*         upstream search API calls
package metrics
