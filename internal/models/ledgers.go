// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package models

import "time"

// Date layouts for the counter documents. The quota ledger keys by Pacific
// date because that is when the search API's quota resets; the budget ledger
// keys by UTC date to align with billing. Do not mix the two.
const (
	LedgerDateLayout = "2006-01-02"
	HourlyKeyLayout  = "2006-01-02_15"
)

// QuotaUsage is the daily search-quota ledger document, one per Pacific
// date. UnitsUsed is monotonically non-decreasing within a day.
type QuotaUsage struct {
	Date       string    `json:"date"` // Pacific YYYY-MM-DD
	UnitsUsed  int64     `json:"units_used"`
	DailyQuota int64     `json:"daily_quota"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Remaining returns the unspent quota, never negative.
func (q *QuotaUsage) Remaining() int64 {
	r := q.DailyQuota - q.UnitsUsed
	if r < 0 {
		return 0
	}
	return r
}

// BudgetUsage is the daily vision-spend ledger document, one per UTC date.
// TotalSpentEUR is monotonically non-decreasing within a day.
type BudgetUsage struct {
	Date          string    `json:"date"` // UTC YYYY-MM-DD
	TotalSpentEUR float64   `json:"total_spent_eur"`
	VideoCount    int64     `json:"video_count"`
	InputTokens   int64     `json:"input_tokens"`
	OutputTokens  int64     `json:"output_tokens"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// HourlyStats is one counter rollup per UTC hour, keyed YYYY-MM-DD_HH.
// Analyses counts first-time successes only; Infringements moves only when
// a video's contains_infringement boolean is set or flips.
type HourlyStats struct {
	Hour              string  `json:"hour"`
	Analyses          int64   `json:"analyses"`
	Infringements     int64   `json:"infringements"`
	CostEUR           float64 `json:"cost_eur"`
	ProcessingSeconds float64 `json:"processing_seconds"`
}

// SystemStats is the single global rollup document used for O(1) dashboard
// reads. It is a cache; the video store is the source of truth.
type SystemStats struct {
	TotalAnalyzed      int64     `json:"total_analyzed"`
	TotalInfringements int64     `json:"total_infringements"`
	UpdatedAt          time.Time `json:"updated_at"`
}
