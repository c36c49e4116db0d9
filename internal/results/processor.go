// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

// Package results applies completed vision analyses to the video store and
// its rollups. The subtract-old, add-new counter protocol lives here and
// nowhere else: aggregate counters move only inside Process, so a failed
// scan can never corrupt them.
package results

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/custodia/internal/events"
	"github.com/tomtom215/custodia/internal/logging"
	"github.com/tomtom215/custodia/internal/metrics"
	"github.com/tomtom215/custodia/internal/models"
)

// Store is the persistence surface the processor needs. *database.DB
// satisfies it.
type Store interface {
	GetVideo(ctx context.Context, id string) (*models.Video, error)
	WriteAnalysis(ctx context.Context, id string, a *models.AnalysisSummary) error
	ApplyChannelDeltas(ctx context.Context, id string, d models.CounterDeltas) error
	IncrementHourlyStats(ctx context.Context, hourKey string, analysesDelta, infringementDelta int64, costEUR, processingSeconds float64) error
	IncrementSystemStats(ctx context.Context, analyzedDelta, infringementDelta int64) error
}

// Publisher emits vision-feedback events toward the risk engine.
type Publisher interface {
	PublishEvent(ctx context.Context, event events.Event) error
}

// Scan is one completed analysis handed over by the dispatcher: the
// validated result plus what the scan actually cost.
type Scan struct {
	VideoID string
	ScanID  string
	Result  *models.VisionResult

	CostEUR      float64
	InputTokens  int64
	OutputTokens int64

	// ProcessingSeconds is the wall time from scan start to completion,
	// recorded on the hourly rollup.
	ProcessingSeconds float64
}

// Processor turns completed scans into analysis documents, counter
// adjustments and feedback events.
type Processor struct {
	store     Store
	publisher Publisher

	now func() time.Time // test seam
}

// NewProcessor creates a result processor.
func NewProcessor(store Store, publisher Publisher) *Processor {
	return &Processor{
		store:     store,
		publisher: publisher,
		now:       time.Now,
	}
}

// Process records one completed analysis. The prior analysis is read first,
// then the new one is written and every affected counter is adjusted by the
// difference between the two classifications:
//
//   - videos_scanned, total_analyzed and hourly analyses move only on a
//     video's first successful analysis.
//   - confirmed_infringements vs videos_cleared, infringing_videos_count
//     and total_infringing_views follow the actionable recommendation,
//     swapping sides when a rescan flips it.
//   - total_infringements and hourly infringements follow the
//     contains_infringement boolean, moving only when it is first set or
//     flips.
//
// View adjustments use the store's current view count on both sides of a
// flip; the original classification-time count is not kept per side.
// Counter writes are individually atomic but not transactional across
// documents; the single-owner claim upstream keeps two analyses of the
// same video from racing here.
func (p *Processor) Process(ctx context.Context, scan Scan) error {
	if scan.Result == nil {
		return fmt.Errorf("scan %s carries no result", scan.ScanID)
	}

	video, err := p.store.GetVideo(ctx, scan.VideoID)
	if err != nil {
		return fmt.Errorf("load video %s: %w", scan.VideoID, err)
	}
	prior := video.Analysis

	now := p.now().UTC()
	summary := &models.AnalysisSummary{
		ScanID:                scan.ScanID,
		ContainsInfringement:  scan.Result.ContainsInfringement(),
		OverallRecommendation: scan.Result.OverallRecommendation,
		IPResults:             scan.Result.IPResults,
		CostEUR:               scan.CostEUR,
		InputTokens:           scan.InputTokens,
		OutputTokens:          scan.OutputTokens,
		AnalyzedAt:            now,
	}

	if err := p.store.WriteAnalysis(ctx, video.ID, summary); err != nil {
		return fmt.Errorf("write analysis for %s: %w", video.ID, err)
	}

	adj := diffAnalyses(prior, summary, video.ViewCount)

	if !adj.channel.IsZero() {
		if err := p.store.ApplyChannelDeltas(ctx, video.ChannelID, adj.channel); err != nil {
			return fmt.Errorf("adjust channel %s counters: %w", video.ChannelID, err)
		}
	}
	if adj.analyzed != 0 || adj.infringements != 0 {
		if err := p.store.IncrementSystemStats(ctx, adj.analyzed, adj.infringements); err != nil {
			return fmt.Errorf("adjust system stats: %w", err)
		}
	}
	hourKey := now.Format(models.HourlyKeyLayout)
	if err := p.store.IncrementHourlyStats(ctx, hourKey, adj.analyzed, adj.infringements, scan.CostEUR, scan.ProcessingSeconds); err != nil {
		return fmt.Errorf("adjust hourly stats %s: %w", hourKey, err)
	}

	metrics.RecordResult(summary.ContainsInfringement, summary.OverallRecommendation.Actionable())

	p.publishFeedback(ctx, video, scan, summary)

	logging.Info().
		Str("video_id", video.ID).
		Str("scan_id", scan.ScanID).
		Bool("first_analysis", prior == nil).
		Bool("contains_infringement", summary.ContainsInfringement).
		Str("recommendation", string(summary.OverallRecommendation)).
		Float64("cost_eur", scan.CostEUR).
		Msg("analysis recorded")

	return nil
}

// adjustment is the full set of counter movements one analysis causes.
// analyzed doubles as the hourly analyses delta and infringements as the
// hourly infringements delta; the two rollups track the same booleans.
type adjustment struct {
	channel       models.CounterDeltas
	analyzed      int64
	infringements int64
}

// diffAnalyses computes counter movements from the prior and next
// classification of a video.
func diffAnalyses(prior, next *models.AnalysisSummary, viewCount int64) adjustment {
	var adj adjustment

	if prior == nil {
		adj.channel.VideosScanned = 1
		if next.OverallRecommendation.Actionable() {
			adj.channel.ConfirmedInfringements = 1
			adj.channel.InfringingVideosCount = 1
			adj.channel.TotalInfringingViews = viewCount
		} else {
			adj.channel.VideosCleared = 1
		}
		adj.analyzed = 1
		if next.ContainsInfringement {
			adj.infringements = 1
		}
		return adj
	}

	priorActionable := prior.OverallRecommendation.Actionable()
	nextActionable := next.OverallRecommendation.Actionable()
	switch {
	case !priorActionable && nextActionable:
		adj.channel.ConfirmedInfringements = 1
		adj.channel.VideosCleared = -1
		adj.channel.InfringingVideosCount = 1
		adj.channel.TotalInfringingViews = viewCount
	case priorActionable && !nextActionable:
		adj.channel.ConfirmedInfringements = -1
		adj.channel.VideosCleared = 1
		adj.channel.InfringingVideosCount = -1
		adj.channel.TotalInfringingViews = -viewCount
	}

	if prior.ContainsInfringement != next.ContainsInfringement {
		if next.ContainsInfringement {
			adj.infringements = 1
		} else {
			adj.infringements = -1
		}
	}
	return adj
}

// publishFeedback emits the vision-feedback event. A publish failure is
// logged and absorbed: the counters are already correct and the risk
// engine will catch up on the video's next event.
func (p *Processor) publishFeedback(ctx context.Context, video *models.Video, scan Scan, summary *models.AnalysisSummary) {
	fb := events.NewVisionFeedback(video.ID, video.ChannelID)
	fb.ContainsInfringement = summary.ContainsInfringement
	fb.ConfidenceScore = scan.Result.MaxLikelihood()
	fb.InfringementType = scan.Result.PrimaryInfringementType()
	fb.CharactersFound = scan.Result.AllCharacters()
	fb.AnalysisCostEUR = scan.CostEUR
	fb.AnalyzedAt = summary.AnalyzedAt

	if err := p.publisher.PublishEvent(ctx, fb); err != nil {
		logging.Error().
			Err(err).
			Str("video_id", video.ID).
			Msg("failed to publish vision feedback")
	}
}
