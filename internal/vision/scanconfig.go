// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

// Package vision invokes the external video-analysis model and turns its
// responses into validated results. The dispatcher consumes scan-ready
// messages on a bounded worker pool, derives a per-video sampling
// configuration under the daily budget, and hands completed analyses to
// the result processor.
package vision

import (
	"math"
	"strconv"

	"github.com/tomtom215/custodia/internal/models"
)

// DefaultMaxFrames caps the frames sampled from a single video.
const DefaultMaxFrames = 300

// Token accounting of the model's video input: tokens per sampled frame
// and per second of audio track.
const (
	tokensPerFrame       = 66
	tokensPerAudioSecond = 32
)

// estOutputTokens is the flat output-size estimate used before a scan; the
// actual count comes back in the usage metadata.
const estOutputTokens = 1000

// FPS clamp for sampled video. The model rejects rates above 1.0, and
// anything below 0.05 samples too sparsely to catch brief appearances.
const (
	minFPS = 0.05
	maxFPS = 1.0
)

// Per-queued-video budget thresholds (EUR) below which sampling is reduced.
const (
	pressureTight  = 0.05
	pressureMedium = 0.10
)

// Pricing holds the model's per-million-token prices in EUR.
type Pricing struct {
	InputPerM  float64
	OutputPerM float64
}

// ScanConfig is the per-video analysis configuration: how densely to
// sample, which span to analyze, and what the scan is expected to cost.
// Offsets are trim amounts, intro from the start and outro from the end;
// the span between them is analyzed in full, never truncated.
type ScanConfig struct {
	DurationSeconds    int
	FPS                float64
	StartOffsetSeconds int
	EndOffsetSeconds   int

	EstInputTokens  int64
	EstOutputTokens int64
	EstCostEUR      float64
}

// WindowSeconds returns the analyzed span after both trims.
func (c ScanConfig) WindowSeconds() int {
	return c.DurationSeconds - c.StartOffsetSeconds - c.EndOffsetSeconds
}

// ComputeScanConfig derives the sampling configuration for one video.
//
// The base rate falls with duration, is boosted for high-priority tiers and
// cut when the remaining daily budget spread over the queue runs thin, then
// clamped to [0.05, 1.0]. Intro/outro trims step up with duration. When the
// predicted frame count would exceed maxFrames the rate is reduced to land
// exactly on the cap.
//
// An unknown duration (0) gets the full default rate, no trims and a zero
// cost estimate; the budget gate then always admits it.
func ComputeScanConfig(durationSeconds int, tier models.PriorityTier, remainingEUR float64, queueSize int, maxFrames int, prices Pricing) ScanConfig {
	if maxFrames <= 0 {
		maxFrames = DefaultMaxFrames
	}
	if durationSeconds <= 0 {
		return ScanConfig{FPS: maxFPS, EstOutputTokens: estOutputTokens}
	}

	fps := baseFPS(durationSeconds, maxFrames)
	fps *= tierFactor(tier)
	fps *= budgetPressure(remainingEUR, queueSize)
	fps = clampFPS(fps)

	intro, outro := trimOffsets(durationSeconds)
	window := durationSeconds - intro - outro
	if window <= 0 {
		intro, outro = 0, 0
		window = durationSeconds
	}
	if fps*float64(window) > float64(maxFrames) {
		fps = float64(maxFrames) / float64(window)
	}

	inTokens := int64(math.Round(fps*tokensPerFrame*float64(durationSeconds))) +
		int64(tokensPerAudioSecond*durationSeconds)

	return ScanConfig{
		DurationSeconds:    durationSeconds,
		FPS:                fps,
		StartOffsetSeconds: intro,
		EndOffsetSeconds:   outro,
		EstInputTokens:     inTokens,
		EstOutputTokens:    estOutputTokens,
		EstCostEUR:         CostEUR(inTokens, estOutputTokens, prices),
	}
}

// CostEUR prices a token count pair. Used both for the pre-scan estimate
// and for the actual cost from the response's usage metadata.
func CostEUR(inputTokens, outputTokens int64, prices Pricing) float64 {
	return float64(inputTokens)/1e6*prices.InputPerM +
		float64(outputTokens)/1e6*prices.OutputPerM
}

// baseFPS maps duration to the starting sample rate. Long-tail videos get
// the rate that spends the frame allowance evenly, floored at 0.01.
func baseFPS(durationSeconds, maxFrames int) float64 {
	switch {
	case durationSeconds <= 120:
		return 1.0
	case durationSeconds <= 300:
		return 0.5
	case durationSeconds <= 600:
		return 0.33
	case durationSeconds <= 1200:
		return 0.25
	case durationSeconds <= 1800:
		return 0.2
	case durationSeconds <= 3600:
		return 0.1
	default:
		fps := float64(maxFrames) / float64(durationSeconds)
		if fps < 0.01 {
			fps = 0.01
		}
		return fps
	}
}

func tierFactor(tier models.PriorityTier) float64 {
	switch tier {
	case models.TierCritical:
		return 2.0
	case models.TierHigh:
		return 1.5
	case models.TierMedium:
		return 1.0
	case models.TierLow:
		return 0.75
	default:
		return 0.5
	}
}

// budgetPressure reduces sampling when the remaining daily budget divided
// across the queue leaves little per video.
func budgetPressure(remainingEUR float64, queueSize int) float64 {
	if remainingEUR <= 0 {
		return 0.5
	}
	if queueSize < 1 {
		queueSize = 1
	}
	perVideo := remainingEUR / float64(queueSize)
	switch {
	case perVideo < pressureTight:
		return 0.5
	case perVideo < pressureMedium:
		return 0.75
	default:
		return 1.0
	}
}

func clampFPS(fps float64) float64 {
	if fps < minFPS {
		return minFPS
	}
	if fps > maxFPS {
		return maxFPS
	}
	return fps
}

// trimOffsets returns the intro and outro trim in seconds. Short videos
// are analyzed whole; longer ones skip the spans where intros, title cards
// and end screens live.
func trimOffsets(durationSeconds int) (intro, outro int) {
	switch {
	case durationSeconds <= 30:
		return 0, 0
	case durationSeconds <= 120:
		return 5, 5
	case durationSeconds <= 300:
		return 10, 15
	case durationSeconds <= 600:
		return 15, 30
	case durationSeconds <= 1800:
		return 30, 60
	case durationSeconds <= 3600:
		return 45, 90
	default:
		return 60, 120
	}
}

// offsetDuration renders a span boundary for the model API, which takes
// protobuf-style duration strings ("90s", never "1m30s").
func offsetDuration(seconds int) string {
	return strconv.Itoa(seconds) + "s"
}
