// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package models

import "time"

// ScanStatus tracks one dispatched analysis attempt.
type ScanStatus string

const (
	ScanRunning   ScanStatus = "running"
	ScanCompleted ScanStatus = "completed"
	ScanFailed    ScanStatus = "failed"
)

// Error kinds recorded on failed scans. The scan record is the operator
// surface for failures, so the kind must be stable and grep-friendly.
const (
	ErrKindRateLimited     = "rate_limited"
	ErrKindPermission      = "permission_denied"
	ErrKindValidation      = "validation"
	ErrKindBudgetExhausted = "budget_exhausted"
	ErrKindTimeout         = "timeout"
	ErrKindInternal        = "internal"
	ErrKindTerminated      = "instance_terminated"
)

// ScanRecord is one vision-analysis attempt. A record still running when a
// process starts implies the previous instance crashed; the startup sweep
// fails it and releases the video.
type ScanRecord struct {
	ScanID      string     `json:"scan_id"`
	VideoID     string     `json:"video_id"`
	Status      ScanStatus `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	ErrorKind   string     `json:"error_kind,omitempty"`
	CostEUR     float64    `json:"cost_eur,omitempty"`
}
