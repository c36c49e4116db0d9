// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package models

import "time"

// KeywordBuckets partitions an IP config's search keywords by priority.
// The discovery planner samples high-bucket keywords more often.
type KeywordBuckets struct {
	High   []string `json:"high,omitempty"`
	Medium []string `json:"medium,omitempty"`
	Low    []string `json:"low,omitempty"`
}

// All returns every keyword across the three buckets, high first.
func (b KeywordBuckets) All() []string {
	out := make([]string, 0, len(b.High)+len(b.Medium)+len(b.Low))
	out = append(out, b.High...)
	out = append(out, b.Medium...)
	out = append(out, b.Low...)
	return out
}

// IPConfig describes one protected intellectual property. Configs are
// immutable during a single discovery run; a soft delete cascades the
// Deleted flag to all videos that matched the config.
type IPConfig struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Owner       string `json:"owner,omitempty"`

	// Characters are canonical character names matched with word
	// boundaries (including article-stripped variants).
	Characters []string `json:"characters,omitempty"`

	// VisualMarkers describe visual elements for the vision prompt only;
	// they play no part in text matching.
	VisualMarkers []string `json:"visual_markers,omitempty"`

	// AIToolPatterns are generation-tool name fragments; a hit in title or
	// description raises the IP-match risk factor.
	AIToolPatterns []string `json:"ai_tool_patterns,omitempty"`

	// FalsePositiveFilters suppress a match when any filter phrase occurs
	// in the matched text.
	FalsePositiveFilters []string `json:"false_positive_filters,omitempty"`

	SearchKeywords KeywordBuckets `json:"search_keywords"`

	// HighPriority marks configs whose match adds the high-priority bonus
	// in video risk scoring.
	HighPriority bool `json:"high_priority,omitempty"`

	Enabled   bool      `json:"enabled"`
	Deleted   bool      `json:"deleted,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
