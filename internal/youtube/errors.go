// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package youtube

import (
	"errors"
	"net/http"

	"google.golang.org/api/googleapi"
)

// ErrorKind buckets upstream API failures by retry policy. Quota
// exhaustion ends the discovery run, rate limits back off, transients
// retry, terminals skip the query.
type ErrorKind string

const (
	KindQuotaExceeded ErrorKind = "quota_exceeded"
	KindRateLimited   ErrorKind = "rate_limited"
	KindTransient     ErrorKind = "transient"
	KindTerminal      ErrorKind = "terminal"
)

// ErrQuotaExceeded marks the daily search quota as spent upstream. The
// local ledger should have prevented this; a shared key can still hit it.
var ErrQuotaExceeded = errors.New("search api daily quota exceeded")

// Classify maps an error from the search API onto its retry policy.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrQuotaExceeded) {
		return KindQuotaExceeded
	}

	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		// Network-level failure, connection reset and friends.
		return KindTransient
	}

	switch {
	case apiErr.Code == http.StatusForbidden:
		for _, item := range apiErr.Errors {
			switch item.Reason {
			case "quotaExceeded", "dailyLimitExceeded":
				return KindQuotaExceeded
			case "rateLimitExceeded", "userRateLimitExceeded":
				return KindRateLimited
			}
		}
		return KindTerminal
	case apiErr.Code == http.StatusTooManyRequests:
		return KindRateLimited
	case apiErr.Code >= 500:
		return KindTransient
	default:
		return KindTerminal
	}
}
