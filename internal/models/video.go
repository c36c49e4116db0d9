// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package models

import "time"

// VideoStatus tracks a video through the pipeline lifecycle.
//
// Transitions:
//
//	discovered → processing → analyzed
//	discovered → processing → failed
//	discovered → skipped_low_priority
//	processing → discovered (startup recovery only)
//
// The discovered → processing transition is the single-owner claim: the
// store performs it conditionally, so a redelivered scan-ready message
// observes a non-discovered status and skips.
type VideoStatus string

const (
	StatusDiscovered         VideoStatus = "discovered"
	StatusProcessing         VideoStatus = "processing"
	StatusAnalyzed           VideoStatus = "analyzed"
	StatusFailed             VideoStatus = "failed"
	StatusSkippedLowPriority VideoStatus = "skipped_low_priority"
)

// Valid reports whether s is a known lifecycle status.
func (s VideoStatus) Valid() bool {
	switch s {
	case StatusDiscovered, StatusProcessing, StatusAnalyzed, StatusFailed, StatusSkippedLowPriority:
		return true
	}
	return false
}

// PriorityTier is the ordinal bucket derived from scan priority.
type PriorityTier string

const (
	TierCritical PriorityTier = "CRITICAL"
	TierHigh     PriorityTier = "HIGH"
	TierMedium   PriorityTier = "MEDIUM"
	TierLow      PriorityTier = "LOW"
	TierVeryLow  PriorityTier = "VERY_LOW"
)

// Rank returns the precedence of the tier for ordering, highest first.
// CRITICAL is 4, VERY_LOW is 0; unknown tiers rank below VERY_LOW.
func (t PriorityTier) Rank() int {
	switch t {
	case TierCritical:
		return 4
	case TierHigh:
		return 3
	case TierMedium:
		return 2
	case TierLow:
		return 1
	case TierVeryLow:
		return 0
	}
	return -1
}

// Valid reports whether t is a known tier.
func (t PriorityTier) Valid() bool {
	return t.Rank() >= 0
}

// TierForPriority maps a scan priority score to its tier.
// Pure function: thresholds are ≥90 CRITICAL, ≥70 HIGH, ≥50 MEDIUM,
// ≥30 LOW, else VERY_LOW.
func TierForPriority(priority float64) PriorityTier {
	switch {
	case priority >= 90:
		return TierCritical
	case priority >= 70:
		return TierHigh
	case priority >= 50:
		return TierMedium
	case priority >= 30:
		return TierLow
	default:
		return TierVeryLow
	}
}

// ClampScore bounds a risk or priority score to [0,100].
func ClampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

// Video is the authoritative per-video document, keyed by the external
// video id. Created by discovery, mutated by the risk engine (risk fields),
// the dispatcher (status) and the result processor (analysis fields).
// Videos are never hard-deleted; Deleted is set only by an IP-config
// cascade.
type Video struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	ChannelID    string   `json:"channel_id"`
	ChannelTitle string   `json:"channel_title,omitempty"`
	ThumbnailURL string   `json:"thumbnail_url,omitempty"`

	DurationSeconds int   `json:"duration_seconds"`
	ViewCount       int64 `json:"view_count"`
	LikeCount       int64 `json:"like_count"`
	CommentCount    int64 `json:"comment_count"`

	PublishedAt  time.Time `json:"published_at"`
	DiscoveredAt time.Time `json:"discovered_at"`

	// MatchedIPs is the set of IP-config ids the video triggered during
	// discovery (text-level match only; visual confirmation is the
	// dispatcher's job).
	MatchedIPs []string `json:"matched_ips"`

	Status VideoStatus `json:"status"`

	InitialRisk  float64      `json:"initial_risk"` // set once at discovery
	CurrentRisk  float64      `json:"current_risk"`
	ScanPriority float64      `json:"scan_priority"`
	PriorityTier PriorityTier `json:"priority_tier"`

	// ScanCount is the number of successful analyses to date.
	ScanCount int              `json:"scan_count"`
	Analysis  *AnalysisSummary `json:"analysis,omitempty"`

	// ViewVelocity is views per hour derived from the last two snapshots.
	ViewVelocity float64 `json:"view_velocity"`

	VisionTriggeredAt   *time.Time `json:"vision_triggered_at,omitempty"`
	ProcessingStartedAt *time.Time `json:"processing_started_at,omitempty"`
	LastAnalyzedAt      *time.Time `json:"last_analyzed_at,omitempty"`
	LastRiskUpdate      *time.Time `json:"last_risk_update,omitempty"`

	Deleted   bool      `json:"deleted,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AgeDays returns the video age in whole days at the given instant.
func (v *Video) AgeDays(now time.Time) int {
	if v.PublishedAt.IsZero() || now.Before(v.PublishedAt) {
		return 0
	}
	return int(now.Sub(v.PublishedAt).Hours() / 24)
}

// EngagementRate returns (likes+comments)/views, 0 when views is 0.
func (v *Video) EngagementRate() float64 {
	if v.ViewCount <= 0 {
		return 0
	}
	return float64(v.LikeCount+v.CommentCount) / float64(v.ViewCount)
}

// AnalysisSummary is the latest successful analysis of a video.
type AnalysisSummary struct {
	ScanID                string            `json:"scan_id"`
	ContainsInfringement  bool              `json:"contains_infringement"`
	OverallRecommendation RecommendedAction `json:"overall_recommendation"`
	IPResults             []IPResult        `json:"ip_results,omitempty"`
	CostEUR               float64           `json:"cost_eur"`
	InputTokens           int64             `json:"input_tokens"`
	OutputTokens          int64             `json:"output_tokens"`
	AnalyzedAt            time.Time         `json:"analyzed_at"`
}

// ViewSnapshot is one observation of a video's view count. Two consecutive
// snapshots yield a velocity.
type ViewSnapshot struct {
	VideoID   string    `json:"video_id"`
	Timestamp time.Time `json:"timestamp"`
	ViewCount int64     `json:"view_count"`
}

// VelocityBetween computes views/hour between two snapshots, oldest first.
// Returns 0 when the interval is non-positive or views decreased.
func VelocityBetween(prev, cur ViewSnapshot) float64 {
	hours := cur.Timestamp.Sub(prev.Timestamp).Hours()
	if hours <= 0 {
		return 0
	}
	delta := cur.ViewCount - prev.ViewCount
	if delta < 0 {
		return 0
	}
	return float64(delta) / hours
}
