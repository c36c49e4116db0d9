// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

// Package risk computes the two coupled reputation scores that drive the
// pipeline: per-video risk (7 factors) and per-channel risk (4 factors),
// combined into a scan priority. All scorers are pure functions of the
// documents passed in; persistence and message plumbing live in Engine.
package risk

import (
	"strings"
	"time"

	"github.com/tomtom215/custodia/internal/models"
)

// VideoWeight and ChannelWeight combine the two scores into scan priority.
const (
	VideoWeight   = 0.60
	ChannelWeight = 0.40
)

// VideoRisk scores a video 0-100 from its current state. cfgs are the IP
// configs the video matched; missing configs (deleted since discovery)
// simply contribute nothing to the bonuses.
func VideoRisk(v *models.Video, cfgs []*models.IPConfig, now time.Time) float64 {
	score := ipMatchFactor(v, cfgs) +
		viewCountFactor(v.ViewCount) +
		velocityFactor(v.ViewVelocity) +
		ageViewsFactor(v, now) +
		engagementFactor(v.EngagementRate()) +
		durationFactor(v.DurationSeconds) +
		scanHistoryFactor(v)
	return models.ClampScore(score)
}

// ScanPriority combines video and channel risk with the 60/40 weighting.
func ScanPriority(videoRisk, channelRisk float64) float64 {
	return models.ClampScore(VideoWeight*videoRisk + ChannelWeight*channelRisk)
}

// ipMatchFactor scores 0-25: base 0/15/20 for 0/1/2+ matched IPs, +5 when
// any matched config is high priority, +5 when an AI-tool pattern occurs
// in the title or description.
func ipMatchFactor(v *models.Video, cfgs []*models.IPConfig) float64 {
	var score float64
	switch {
	case len(v.MatchedIPs) == 0:
		return 0
	case len(v.MatchedIPs) == 1:
		score = 15
	default:
		score = 20
	}

	for _, cfg := range cfgs {
		if cfg != nil && cfg.HighPriority {
			score += 5
			break
		}
	}

	if hasAIToolHit(v, cfgs) {
		score += 5
	}

	if score > 25 {
		score = 25
	}
	return score
}

func hasAIToolHit(v *models.Video, cfgs []*models.IPConfig) bool {
	text := strings.ToLower(v.Title + " " + v.Description)
	for _, cfg := range cfgs {
		if cfg == nil {
			continue
		}
		for _, pattern := range cfg.AIToolPatterns {
			if pattern == "" {
				continue
			}
			if strings.Contains(text, strings.ToLower(pattern)) {
				return true
			}
		}
	}
	return false
}

// viewCountFactor scores 0-20 stepwise; even an unwatched video carries
// the floor of 2 because it matched an IP at all.
func viewCountFactor(views int64) float64 {
	switch {
	case views >= 10_000_000:
		return 20
	case views >= 1_000_000:
		return 18
	case views >= 100_000:
		return 15
	case views >= 10_000:
		return 10
	case views >= 1_000:
		return 5
	default:
		return 2
	}
}

// velocityFactor scores 0-20 over views gained per hour.
func velocityFactor(viewsPerHour float64) float64 {
	switch {
	case viewsPerHour >= 10_000:
		return 20
	case viewsPerHour >= 1_000:
		return 15
	case viewsPerHour >= 100:
		return 10
	case viewsPerHour >= 10:
		return 5
	default:
		return 0
	}
}

// ageViewsFactor scores 0-15 survivor bias: infringing uploads that stay
// up long enough to accumulate views have evaded takedown. Videos under
// 30 days old contribute nothing.
func ageViewsFactor(v *models.Video, now time.Time) float64 {
	age := v.AgeDays(now)
	if age < 30 {
		return 0
	}

	views := v.ViewCount
	switch {
	case age > 180:
		switch {
		case views > 100_000:
			return 15
		case views > 10_000:
			return 5
		default:
			return 0
		}
	case age > 90:
		switch {
		case views > 50_000:
			return 10
		case views > 10_000:
			return 3
		default:
			return 0
		}
	default: // 30-90 days
		if views > 10_000 {
			return 5
		}
		return 0
	}
}

// engagementFactor scores 0-10 over (likes+comments)/views.
func engagementFactor(rate float64) float64 {
	switch {
	case rate >= 0.05:
		return 10
	case rate >= 0.02:
		return 5
	default:
		return 0
	}
}

// durationFactor scores 0-5; full episodes and compilations run long.
func durationFactor(seconds int) float64 {
	switch {
	case seconds >= 600:
		return 5
	case seconds >= 120:
		return 3
	case seconds >= 60:
		return 1
	default:
		return 0
	}
}

// scanHistoryFactor scores 0-5: unscanned videos and confirmed infringers
// stay hot; repeated clean scans cool a video down.
func scanHistoryFactor(v *models.Video) float64 {
	if v.ScanCount == 0 {
		return 5
	}
	if v.Analysis != nil && v.Analysis.ContainsInfringement {
		return 5
	}
	switch v.ScanCount {
	case 1:
		return 3
	case 2:
		return 1
	default:
		return 0
	}
}
