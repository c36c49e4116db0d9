// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package risk

import (
	"github.com/tomtom215/custodia/internal/models"
)

// ChannelRisk scores a channel 0-100 from its rollup counters.
func ChannelRisk(ch *models.Channel) float64 {
	score := rateFactor(ch.InfringementRate()) +
		volumeFactor(ch.ConfirmedInfringements) +
		reachFactor(ch.SubscriberCount) +
		damageFactor(ch.TotalInfringingViews)
	return models.ClampScore(score)
}

// rateFactor maps confirmed/scanned onto 0-40 with a concave
// piecewise-linear curve: the first confirmations move the score fastest,
// saturation is slow past one-in-two.
//
//	rate 0.0 -> 0, 0.1 -> 10, 0.2 -> 20, 0.5 -> 35, 1.0 -> 40
func rateFactor(rate float64) float64 {
	switch {
	case rate <= 0:
		return 0
	case rate < 0.2:
		return rate * 100
	case rate < 0.5:
		return 20 + (rate-0.2)*50
	case rate < 1:
		return 35 + (rate-0.5)*10
	default:
		return 40
	}
}

// volumeFactor scores 0-30 over absolute confirmed infringements.
func volumeFactor(confirmed int64) float64 {
	switch {
	case confirmed >= 40:
		return 30
	case confirmed >= 20:
		return 24
	case confirmed >= 10:
		return 18
	case confirmed >= 5:
		return 12
	case confirmed >= 2:
		return 6
	default:
		return 0
	}
}

// reachFactor scores 0-20 over subscriber count.
func reachFactor(subscribers int64) float64 {
	switch {
	case subscribers >= 1_000_000:
		return 20
	case subscribers >= 500_000:
		return 16
	case subscribers >= 100_000:
		return 13
	case subscribers >= 50_000:
		return 10
	case subscribers >= 10_000:
		return 6
	case subscribers >= 1_000:
		return 3
	default:
		return 0
	}
}

// damageFactor scores 0-10 over views accumulated on the channel's
// actionable videos.
func damageFactor(infringingViews int64) float64 {
	switch {
	case infringingViews >= 10_000_000:
		return 10
	case infringingViews >= 5_000_000:
		return 8
	case infringingViews >= 1_000_000:
		return 7
	case infringingViews >= 500_000:
		return 6
	case infringingViews >= 100_000:
		return 4
	case infringingViews >= 10_000:
		return 2
	default:
		return 0
	}
}
