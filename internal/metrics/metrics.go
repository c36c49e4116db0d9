// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation", "table", "error_type"},
	)

	DBConnectionPoolSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "duckdb_connection_pool_size",
			Help: "Current number of database connections in use",
		},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"endpoint"},
	)

	// NATS Event Processing Metrics
	NATSMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_messages_published_total",
			Help: "Total number of messages published to NATS",
		},
		[]string{"subject"},
	)

	NATSMessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_messages_consumed_total",
			Help: "Total number of messages consumed from NATS",
		},
		[]string{"subject"},
	)

	NATSMessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_messages_processed_total",
			Help: "Total number of messages successfully processed",
		},
		[]string{"subject"},
	)

	NATSMessagesParseFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_messages_parse_failed_total",
			Help: "Total number of messages that failed to parse",
		},
		[]string{"subject"},
	)

	NATSProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nats_processing_duration_seconds",
			Help:    "Duration of NATS message processing in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"subject"},
	)

	NATSConsumerLag = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nats_consumer_lag",
			Help: "Number of pending messages per NATS consumer",
		},
		[]string{"consumer"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Discovery Metrics
	DiscoveryRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_runs_total",
			Help: "Total number of discovery runs",
		},
		[]string{"trigger", "outcome"}, // trigger: "scheduled", "manual"; outcome: "completed", "failed", "quota_exhausted"
	)

	DiscoveryRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "discovery_run_duration_seconds",
			Help:    "Duration of discovery runs in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
	)

	DiscoverySearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_searches_total",
			Help: "Total number of discovery searches executed",
		},
		[]string{"kind"}, // "keyword", "channel"
	)

	DiscoveryVideosSeen = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "discovery_videos_seen_total",
			Help: "Total number of video results returned by searches",
		},
	)

	DiscoveryVideosNew = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "discovery_videos_new_total",
			Help: "Total number of previously unknown videos discovered",
		},
	)

	DiscoverySearchEfficiency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "discovery_search_efficiency",
			Help:    "New videos per search result (0 to 1) per keyword search",
			Buckets: []float64{0, 0.05, 0.1, 0.25, 0.5, 0.75, 0.9, 1},
		},
	)

	DiscoveryLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "discovery_last_success_timestamp",
			Help: "Unix timestamp of last successful discovery run",
		},
	)

	// Quota Ledger Metrics
	QuotaUnitsUsed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quota_units_used",
			Help: "Search API quota units consumed for the current Pacific day",
		},
	)

	QuotaUnitsRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quota_units_remaining",
			Help: "Search API quota units remaining for the current Pacific day",
		},
	)

	QuotaSpend = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_units_spent_total",
			Help: "Total quota units spent by operation",
		},
		[]string{"operation"}, // "search", "channel_list", "video_details"
	)

	QuotaExhaustions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quota_exhaustions_total",
			Help: "Total number of operations refused because quota was exhausted",
		},
	)

	// Budget Ledger Metrics
	BudgetSpentEUR = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "budget_spent_eur",
			Help: "Vision spend in EUR for the current UTC day",
		},
	)

	BudgetRemainingEUR = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "budget_remaining_eur",
			Help: "Vision budget remaining in EUR for the current UTC day",
		},
	)

	BudgetSpendTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "budget_spend_eur_total",
			Help: "Cumulative vision spend in EUR since process start",
		},
	)

	BudgetExhaustions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "budget_exhaustions_total",
			Help: "Total number of scans refused because the daily budget was exhausted",
		},
	)

	// Vision Scan Metrics
	VisionScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vision_scans_total",
			Help: "Total number of vision scans by outcome",
		},
		[]string{"outcome"}, // "completed", "failed", "skipped"
	)

	VisionScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vision_scan_duration_seconds",
			Help:    "Duration of vision scans including retries",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 900},
		},
	)

	VisionRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vision_retries_total",
			Help: "Total number of vision call retries by reason",
		},
		[]string{"reason"}, // "rate_limited", "validation", "server_error"
	)

	VisionTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vision_tokens_total",
			Help: "Total tokens consumed by vision calls",
		},
		[]string{"direction"}, // "input", "output"
	)

	VisionInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vision_scans_in_flight",
			Help: "Current number of vision scans being executed",
		},
	)

	VisionSampledFPS = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vision_sampled_fps",
			Help:    "Frame sampling rate chosen per scan",
			Buckets: []float64{0.05, 0.1, 0.2, 0.33, 0.5, 0.75, 1.0, 1.5, 2.0},
		},
	)

	// Risk Engine Metrics
	RiskRescoreDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "risk_rescore_duration_seconds",
			Help:    "Duration of a single video rescore including store writes",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	RiskTierVideos = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "risk_tier_videos",
			Help: "Videos per priority tier awaiting vision analysis",
		},
		[]string{"tier"},
	)

	// Result Processing Metrics
	ResultsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "results_processed_total",
			Help: "Total number of scan results processed",
		},
	)

	InfringementsConfirmed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "results_infringements_confirmed_total",
			Help: "Total number of videos confirmed as infringing",
		},
	)

	VideosCleared = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "results_videos_cleared_total",
			Help: "Total number of videos cleared by a scan",
		},
	)

	ActionableInfringements = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "results_actionable_infringements_total",
			Help: "Total number of infringements recommended for immediate takedown",
		},
	)

	// Recovery Metrics
	RecoveryOrphanedScans = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recovery_orphaned_scans_total",
			Help: "Total number of running scans failed during startup recovery",
		},
	)

	RecoveryRequeuedVideos = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recovery_requeued_videos_total",
			Help: "Total number of processing videos reset during startup recovery",
		},
	)

	// YouTube API Metrics
	YouTubeAPICalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "youtube_api_calls_total",
			Help: "Total number of upstream search API calls",
		},
		[]string{"method", "status"}, // method: "search", "videos", "channels"
	)

	YouTubeAPIDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "youtube_api_call_duration_seconds",
			Help:    "Duration of upstream search API calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// System Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)

	AppUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)
)

// RecordDBQuery records a database query metric
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		errorType := err.Error()
		// Truncate long error messages
		if len(errorType) > 50 {
			errorType = errorType[:50]
		}
		DBQueryErrors.WithLabelValues(operation, table, errorType).Inc()
	}
}

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordNATSPublish records a message published to NATS
func RecordNATSPublish(subject string) {
	NATSMessagesPublished.WithLabelValues(subject).Inc()
}

// RecordNATSConsume records a message consumed from NATS
func RecordNATSConsume(subject string) {
	NATSMessagesConsumed.WithLabelValues(subject).Inc()
}

// RecordNATSProcessed records a message processed end to end, with duration
func RecordNATSProcessed(subject string, duration time.Duration) {
	NATSMessagesProcessed.WithLabelValues(subject).Inc()
	NATSProcessingDuration.WithLabelValues(subject).Observe(duration.Seconds())
}

// RecordNATSParseFailed records a message that failed to parse
func RecordNATSParseFailed(subject string) {
	NATSMessagesParseFailed.WithLabelValues(subject).Inc()
}

// UpdateNATSConsumerLag updates the pending-message gauge for a consumer
func UpdateNATSConsumerLag(consumer string, pending uint64) {
	NATSConsumerLag.WithLabelValues(consumer).Set(float64(pending))
}

// RecordDiscoveryRun records a discovery run outcome
func RecordDiscoveryRun(trigger, outcome string, duration time.Duration) {
	DiscoveryRuns.WithLabelValues(trigger, outcome).Inc()
	DiscoveryRunDuration.Observe(duration.Seconds())
	if outcome == "completed" {
		DiscoveryLastSuccess.Set(float64(time.Now().Unix()))
	}
}

// RecordKeywordSearch records one executed keyword search and its yield
func RecordKeywordSearch(resultsCount, newVideos int) {
	DiscoverySearches.WithLabelValues("keyword").Inc()
	DiscoveryVideosSeen.Add(float64(resultsCount))
	DiscoveryVideosNew.Add(float64(newVideos))
	if resultsCount > 0 {
		DiscoverySearchEfficiency.Observe(float64(newVideos) / float64(resultsCount))
	}
}

// RecordChannelScan records one executed channel scan and its yield
func RecordChannelScan(resultsCount, newVideos int) {
	DiscoverySearches.WithLabelValues("channel").Inc()
	DiscoveryVideosSeen.Add(float64(resultsCount))
	DiscoveryVideosNew.Add(float64(newVideos))
}

// RecordQuotaSpend records quota units charged for an operation
func RecordQuotaSpend(operation string, units int64) {
	QuotaSpend.WithLabelValues(operation).Add(float64(units))
}

// UpdateQuotaGauges updates the daily quota gauges
func UpdateQuotaGauges(used, remaining int64) {
	QuotaUnitsUsed.Set(float64(used))
	QuotaUnitsRemaining.Set(float64(remaining))
}

// RecordBudgetSpend records vision spend in EUR
func RecordBudgetSpend(eur float64) {
	BudgetSpendTotal.Add(eur)
}

// UpdateBudgetGauges updates the daily budget gauges
func UpdateBudgetGauges(spent, remaining float64) {
	BudgetSpentEUR.Set(spent)
	BudgetRemainingEUR.Set(remaining)
}

// RecordVisionScan records a completed, failed, or skipped vision scan
func RecordVisionScan(outcome string, duration time.Duration) {
	VisionScansTotal.WithLabelValues(outcome).Inc()
	if outcome != "skipped" {
		VisionScanDuration.Observe(duration.Seconds())
	}
}

// RecordVisionTokens records token usage for a vision call
func RecordVisionTokens(input, output int64) {
	VisionTokens.WithLabelValues("input").Add(float64(input))
	VisionTokens.WithLabelValues("output").Add(float64(output))
}

// RecordVisionRetry records a vision call retry with its reason
func RecordVisionRetry(reason string) {
	VisionRetries.WithLabelValues(reason).Inc()
}

// TrackVisionInFlight tracks scans being executed by dispatcher workers
func TrackVisionInFlight(inc bool) {
	if inc {
		VisionInFlight.Inc()
	} else {
		VisionInFlight.Dec()
	}
}

// RecordRescore records the duration of one video rescore
func RecordRescore(duration time.Duration) {
	RiskRescoreDuration.Observe(duration.Seconds())
}

// UpdateTierDistribution replaces the per-tier queue depth gauges
func UpdateTierDistribution(counts map[string]int64) {
	for tier, n := range counts {
		RiskTierVideos.WithLabelValues(tier).Set(float64(n))
	}
}

// RecordResult records a processed scan result
func RecordResult(confirmed, actionable bool) {
	ResultsProcessed.Inc()
	if confirmed {
		InfringementsConfirmed.Inc()
	} else {
		VideosCleared.Inc()
	}
	if actionable {
		ActionableInfringements.Inc()
	}
}

// RecordRecoverySweep records the outcome of a startup recovery sweep
func RecordRecoverySweep(orphanedScans, requeuedVideos int64) {
	RecoveryOrphanedScans.Add(float64(orphanedScans))
	RecoveryRequeuedVideos.Add(float64(requeuedVideos))
}

// RecordYouTubeCall records an upstream search API call
func RecordYouTubeCall(method, status string, duration time.Duration) {
	YouTubeAPICalls.WithLabelValues(method, status).Inc()
	YouTubeAPIDuration.WithLabelValues(method).Observe(duration.Seconds())
}
