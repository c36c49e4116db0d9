// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/custodia/internal/database"
	"github.com/tomtom215/custodia/internal/events"
	"github.com/tomtom215/custodia/internal/logging"
	"github.com/tomtom215/custodia/internal/metrics"
	"github.com/tomtom215/custodia/internal/models"
)

// Store is the persistence surface the engine needs. *database.DB
// satisfies it.
type Store interface {
	GetVideo(ctx context.Context, id string) (*models.Video, error)
	GetChannel(ctx context.Context, id string) (*models.Channel, error)
	GetIPConfig(ctx context.Context, id string) (*models.IPConfig, error)
	UpdateVideoRisk(ctx context.Context, id string, currentRisk, scanPriority float64, tier models.PriorityTier, at time.Time) (bool, error)
	UpdateChannelRisk(ctx context.Context, id string, risk float64) error
}

// Engine recomputes video and channel risk in response to pipeline
// events. Scoring itself is pure; the engine only loads inputs and
// persists outputs.
type Engine struct {
	store Store
	now   func() time.Time
}

// NewEngine creates a risk engine backed by the given store.
func NewEngine(store Store) *Engine {
	return &Engine{
		store: store,
		now:   time.Now,
	}
}

// RescoreVideo loads a video with its channel and matched IP configs,
// recomputes both risk scores, and persists the video scores when they
// changed. Returns whether a write happened and the new scan priority.
func (e *Engine) RescoreVideo(ctx context.Context, videoID string) (bool, float64, error) {
	defer func(start time.Time) {
		metrics.RecordRescore(time.Since(start))
	}(time.Now())

	video, err := e.store.GetVideo(ctx, videoID)
	if err != nil {
		return false, 0, fmt.Errorf("load video %s: %w", videoID, err)
	}

	channelRisk := 0.0
	channel, err := e.store.GetChannel(ctx, video.ChannelID)
	switch {
	case err == nil:
		channelRisk = ChannelRisk(channel)
	case errors.Is(err, database.ErrNotFound):
		// Channel rollup not materialized yet. Score on video
		// factors alone.
	default:
		return false, 0, fmt.Errorf("load channel %s: %w", video.ChannelID, err)
	}

	configs, err := e.loadConfigs(ctx, video.MatchedIPs)
	if err != nil {
		return false, 0, err
	}

	videoRisk := VideoRisk(video, configs, e.now().UTC())
	priority := ScanPriority(videoRisk, channelRisk)
	tier := models.TierForPriority(priority)

	changed, err := e.store.UpdateVideoRisk(ctx, video.ID, videoRisk, priority, tier, e.now().UTC())
	if err != nil {
		return false, 0, fmt.Errorf("update video risk %s: %w", video.ID, err)
	}
	if changed {
		logging.Debug().
			Str("video_id", video.ID).
			Float64("video_risk", videoRisk).
			Float64("channel_risk", channelRisk).
			Float64("scan_priority", priority).
			Str("tier", string(tier)).
			Msg("video rescored")
	}
	return changed, priority, nil
}

// HandleVideoDiscovered rescores a freshly discovered or re-discovered
// video. A video deleted between discovery and processing is skipped
// rather than retried.
func (e *Engine) HandleVideoDiscovered(ctx context.Context, event *events.VideoDiscovered) error {
	_, _, err := e.RescoreVideo(ctx, event.VideoID)
	if errors.Is(err, database.ErrNotFound) {
		logging.Warn().Str("video_id", event.VideoID).Msg("discovered video missing, skipping rescore")
		return nil
	}
	return err
}

// HandleVisionFeedback refreshes channel risk from the post-analysis
// rollup counters, then rescores the analyzed video so its priority
// reflects the verdict.
func (e *Engine) HandleVisionFeedback(ctx context.Context, event *events.VisionFeedback) error {
	channelID := event.ChannelID
	channel, err := e.store.GetChannel(ctx, channelID)
	switch {
	case err == nil:
		risk := ChannelRisk(channel)
		if err := e.store.UpdateChannelRisk(ctx, channelID, risk); err != nil && !errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("update channel risk %s: %w", channelID, err)
		}
	case errors.Is(err, database.ErrNotFound):
		logging.Warn().Str("channel_id", channelID).Msg("feedback for unknown channel, skipping channel rescore")
	default:
		return fmt.Errorf("load channel %s: %w", channelID, err)
	}

	_, _, err = e.RescoreVideo(ctx, event.VideoID)
	if errors.Is(err, database.ErrNotFound) {
		logging.Warn().Str("video_id", event.VideoID).Msg("feedback for missing video, skipping rescore")
		return nil
	}
	return err
}

// loadConfigs resolves matched IP-config ids. Configs deleted since
// discovery are dropped silently so stale references cannot wedge a
// message.
func (e *Engine) loadConfigs(ctx context.Context, ids []string) ([]*models.IPConfig, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	configs := make([]*models.IPConfig, 0, len(ids))
	for _, id := range ids {
		cfg, err := e.store.GetIPConfig(ctx, id)
		if errors.Is(err, database.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load ip config %s: %w", id, err)
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}
