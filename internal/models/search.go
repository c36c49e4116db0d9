// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package models

import "time"

// SearchOrdering is one of the external search API's result orderings.
// Every (keyword, ordering) pair has its own search history.
type SearchOrdering string

const (
	OrderDate      SearchOrdering = "date"
	OrderViewCount SearchOrdering = "viewCount"
	OrderRating    SearchOrdering = "rating"
	OrderRelevance SearchOrdering = "relevance"
)

// AllOrderings lists the four orderings in a stable order.
func AllOrderings() []SearchOrdering {
	return []SearchOrdering{OrderDate, OrderViewCount, OrderRating, OrderRelevance}
}

// Keyword tiers. Tier 1 keywords have proven efficient and are sampled
// most often; keywords never searched default to tier 3.
const (
	KeywordTier1 = 1
	KeywordTier2 = 2
	KeywordTier3 = 3
)

// Window is a bounded publish-time range for a search query. Days records
// the window size used for upload-frequency estimation; an all-time search
// has no Window at all.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Days  float64   `json:"days"`
}

// KeywordSearch is one append-only history record for a (keyword, ordering)
// pair. Efficiency is new_videos/total_results at the time of the search.
type KeywordSearch struct {
	ID         string         `json:"id"`
	Keyword    string         `json:"keyword"`
	Ordering   SearchOrdering `json:"ordering"`
	SearchedAt time.Time      `json:"searched_at"`

	ResultsCount int     `json:"results_count"`
	NewVideos    int     `json:"new_videos"`
	Efficiency   float64 `json:"efficiency"`

	// Window is nil for the one all-time search each pair performs.
	Window *Window `json:"window,omitempty"`

	// Exhausted marks an ordering whose keyword returned fewer than a full
	// page; all four orderings are marked together to stop wasting quota.
	Exhausted bool `json:"exhausted,omitempty"`

	Tier int `json:"tier"`
}

// WindowDays returns the effective window size in days for frequency
// estimation, treating all-time as 365.
func (k *KeywordSearch) WindowDays() float64 {
	if k.Window == nil || k.Window.Days <= 0 {
		return 365
	}
	return k.Window.Days
}
