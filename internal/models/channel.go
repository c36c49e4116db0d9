// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package models

import "time"

// Channel is the per-uploader reputation rollup. All counter fields are
// maintained by atomic increments in the store; the invariant
//
//	VideosScanned == ConfirmedInfringements + VideosCleared
//
// must hold after any sequence of analyses and reclassifications. The
// rollup is a derived view: it can always be rebuilt from the video store.
type Channel struct {
	ID    string `json:"id"`
	Title string `json:"title"`

	// TotalVideosFound counts every video discovery has attributed to the
	// channel, scanned or not.
	TotalVideosFound int64 `json:"total_videos_found"`

	// VideosScanned counts distinct videos with at least one successful
	// analysis. Incremented only on a video's first success.
	VideosScanned          int64 `json:"videos_scanned"`
	ConfirmedInfringements int64 `json:"confirmed_infringements"`
	VideosCleared          int64 `json:"videos_cleared"`

	// InfringingVideosCount is the actionable subset of confirmed: videos
	// whose latest recommendation is immediate_takedown.
	InfringingVideosCount int64 `json:"infringing_videos_count"`

	// TotalInfringingViews sums the view counts of exactly those videos,
	// frozen at classification time.
	TotalInfringingViews int64 `json:"total_infringing_views"`

	SubscriberCount int64 `json:"subscriber_count"`

	// ChannelRisk is the derived 0-100 reputation score.
	ChannelRisk float64 `json:"channel_risk"`

	FirstSeenAt   time.Time  `json:"first_seen_at"`
	LastScannedAt *time.Time `json:"last_scanned_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// InfringementRate returns confirmed/scanned in [0,1], 0 when unscanned.
func (c *Channel) InfringementRate() float64 {
	if c.VideosScanned <= 0 {
		return 0
	}
	return float64(c.ConfirmedInfringements) / float64(c.VideosScanned)
}

// CounterDeltas is one atomic adjustment applied to a channel rollup by the
// result processor. Zero-valued fields are no-ops.
type CounterDeltas struct {
	VideosScanned          int64
	ConfirmedInfringements int64
	VideosCleared          int64
	InfringingVideosCount  int64
	TotalInfringingViews   int64
}

// IsZero reports whether the adjustment would change nothing.
func (d CounterDeltas) IsZero() bool {
	return d == CounterDeltas{}
}
