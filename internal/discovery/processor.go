// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package discovery

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/tomtom215/custodia/internal/database"
	"github.com/tomtom215/custodia/internal/events"
	"github.com/tomtom215/custodia/internal/logging"
	"github.com/tomtom215/custodia/internal/models"
	"github.com/tomtom215/custodia/internal/risk"
	"github.com/tomtom215/custodia/internal/youtube"
)

// Outcome classifies what processing one search result did.
type Outcome string

const (
	// OutcomeNew is a first-sighted video: persisted and emitted.
	OutcomeNew Outcome = "new"

	// OutcomeRediscovered is a known video not yet queued for analysis:
	// metadata refreshed, vision trigger set, emitted again.
	OutcomeRediscovered Outcome = "rediscovered"

	// OutcomeAlreadyTriggered is a known video already queued or analyzed:
	// metadata refreshed, matched IPs merged, no event.
	OutcomeAlreadyTriggered Outcome = "already_triggered"

	// OutcomeSkipped is an unusable result (no video id).
	OutcomeSkipped Outcome = "skipped"
)

// ProcessResult reports one processed result for run statistics.
type ProcessResult struct {
	Outcome   Outcome
	VideoID   string
	ChannelID string
}

// ProcessorStore is the persistence surface result processing needs.
// *database.DB satisfies it.
type ProcessorStore interface {
	GetVideo(ctx context.Context, id string) (*models.Video, error)
	UpsertVideo(ctx context.Context, v *models.Video) error
	AddMatchedIPs(ctx context.Context, id string, ipIDs []string) error
	SetVisionTriggered(ctx context.Context, ids []string, at time.Time) error
	GetChannel(ctx context.Context, id string) (*models.Channel, error)
	UpsertChannelSeen(ctx context.Context, id, title string, subscriberCount int64) error
	AppendViewSnapshot(ctx context.Context, s models.ViewSnapshot) error
	VelocityFor(ctx context.Context, videoID string) (float64, error)
}

// Publisher is the event-emission surface. *events.Publisher satisfies it.
type Publisher interface {
	PublishEvent(ctx context.Context, event events.Event) error
}

// Processor turns raw search results into video documents, channel rollup
// updates and discovery events.
type Processor struct {
	store     ProcessorStore
	publisher Publisher
	matcher   *Matcher
	configs   map[string]*models.IPConfig
	now       func() time.Time
}

// NewProcessor builds a processor over a fixed config snapshot. Configs
// are immutable during a run; a fresh processor is made per run.
func NewProcessor(store ProcessorStore, publisher Publisher, configs []models.IPConfig) *Processor {
	byID := make(map[string]*models.IPConfig, len(configs))
	for i := range configs {
		byID[configs[i].ID] = &configs[i]
	}
	return &Processor{
		store:     store,
		publisher: publisher,
		matcher:   NewMatcher(configs),
		configs:   byID,
		now:       time.Now,
	}
}

// Process runs one search result through the discovery pipeline: extract
// metadata, branch on prior state, update the channel rollup, append a
// view snapshot, and emit a discovery event when the video is new to the
// analysis queue.
func (p *Processor) Process(ctx context.Context, item youtube.Details) (ProcessResult, error) {
	if item.VideoID == "" {
		return ProcessResult{Outcome: OutcomeSkipped}, nil
	}

	now := p.now().UTC()
	candidate := p.extract(item, now)
	result := ProcessResult{VideoID: candidate.ID, ChannelID: candidate.ChannelID}

	existing, err := p.store.GetVideo(ctx, candidate.ID)
	switch {
	case errors.Is(err, database.ErrNotFound):
		result.Outcome = OutcomeNew
		err = p.processNew(ctx, candidate, now)
	case err != nil:
		return result, fmt.Errorf("lookup video %s: %w", candidate.ID, err)
	default:
		result.Outcome, err = p.processExisting(ctx, candidate, existing, now)
	}
	if err != nil {
		return result, err
	}

	// The rollup always counts the sighting, whatever the branch did.
	if candidate.ChannelID != "" {
		if err := p.store.UpsertChannelSeen(ctx, candidate.ChannelID, candidate.ChannelTitle, 0); err != nil {
			return result, fmt.Errorf("channel rollup %s: %w", candidate.ChannelID, err)
		}
	}
	return result, nil
}

func (p *Processor) processNew(ctx context.Context, v *models.Video, now time.Time) error {
	v.MatchedIPs = p.matcher.Match(v.Title, v.Description, v.Tags, v.ChannelTitle)
	v.Status = models.StatusDiscovered
	v.DiscoveredAt = now

	videoRisk := risk.VideoRisk(v, p.matchedConfigs(v.MatchedIPs), now)
	channelRisk, err := p.channelRisk(ctx, v.ChannelID)
	if err != nil {
		return err
	}
	v.InitialRisk = videoRisk
	v.CurrentRisk = videoRisk
	v.ScanPriority = risk.ScanPriority(videoRisk, channelRisk)
	v.PriorityTier = models.TierForPriority(v.ScanPriority)

	if err := p.store.UpsertVideo(ctx, v); err != nil {
		return fmt.Errorf("persist video %s: %w", v.ID, err)
	}
	if err := p.snapshot(ctx, v.ID, v.ViewCount, now); err != nil {
		return err
	}

	event := events.NewVideoDiscovered(v)
	if err := p.publisher.PublishEvent(ctx, event); err != nil {
		return fmt.Errorf("publish discovery of %s: %w", v.ID, err)
	}
	logging.Debug().
		Str("video_id", v.ID).
		Str("channel_id", v.ChannelID).
		Float64("scan_priority", v.ScanPriority).
		Int("matched_ips", len(v.MatchedIPs)).
		Msg("new video discovered")
	return nil
}

func (p *Processor) processExisting(ctx context.Context, candidate *models.Video, existing *models.Video, now time.Time) (Outcome, error) {
	if err := p.snapshot(ctx, candidate.ID, candidate.ViewCount, now); err != nil {
		return "", err
	}
	velocity, err := p.store.VelocityFor(ctx, candidate.ID)
	if err != nil {
		return "", fmt.Errorf("velocity for %s: %w", candidate.ID, err)
	}

	// Refresh metadata and engagement counters; the upsert leaves
	// lifecycle, risk and analysis columns alone.
	merged := *existing
	merged.Title = candidate.Title
	merged.Description = candidate.Description
	merged.Tags = candidate.Tags
	merged.ChannelTitle = candidate.ChannelTitle
	merged.ThumbnailURL = candidate.ThumbnailURL
	merged.DurationSeconds = candidate.DurationSeconds
	merged.ViewCount = candidate.ViewCount
	merged.LikeCount = candidate.LikeCount
	merged.CommentCount = candidate.CommentCount
	merged.ViewVelocity = velocity
	if err := p.store.UpsertVideo(ctx, &merged); err != nil {
		return "", fmt.Errorf("refresh video %s: %w", candidate.ID, err)
	}

	// Additive matched-IP merge; a re-sighting can trigger configs the
	// first one missed.
	matched := p.matcher.Match(candidate.Title, candidate.Description, candidate.Tags, candidate.ChannelTitle)
	newIPs := difference(matched, existing.MatchedIPs)
	if len(newIPs) > 0 {
		if err := p.store.AddMatchedIPs(ctx, candidate.ID, newIPs); err != nil {
			return "", fmt.Errorf("merge matched ips for %s: %w", candidate.ID, err)
		}
		merged.MatchedIPs = append(append([]string{}, existing.MatchedIPs...), newIPs...)
	}

	if existing.VisionTriggeredAt != nil {
		return OutcomeAlreadyTriggered, nil
	}

	if err := p.store.SetVisionTriggered(ctx, []string{candidate.ID}, now); err != nil {
		return "", fmt.Errorf("mark vision triggered %s: %w", candidate.ID, err)
	}
	event := events.NewVideoDiscovered(&merged)
	if err := p.publisher.PublishEvent(ctx, event); err != nil {
		return "", fmt.Errorf("publish rediscovery of %s: %w", candidate.ID, err)
	}
	return OutcomeRediscovered, nil
}

// extract builds a video document from a raw result, applying the
// parse-with-fallback rules. Unusable metadata defaults to safe values
// and never raises.
func (p *Processor) extract(item youtube.Details, now time.Time) *models.Video {
	publishedAt, err := time.Parse(time.RFC3339, item.PublishedAt)
	if err != nil {
		publishedAt = now
	}

	return &models.Video{
		ID:              item.VideoID,
		Title:           item.Title,
		Description:     item.Description,
		Tags:            item.Tags,
		ChannelID:       item.ChannelID,
		ChannelTitle:    item.ChannelTitle,
		ThumbnailURL:    pickThumbnail(item.Thumbnails),
		DurationSeconds: parseISODuration(item.Duration),
		ViewCount:       item.ViewCount,
		LikeCount:       item.LikeCount,
		CommentCount:    item.CommentCount,
		PublishedAt:     publishedAt.UTC(),
	}
}

func (p *Processor) matchedConfigs(ids []string) []*models.IPConfig {
	cfgs := make([]*models.IPConfig, 0, len(ids))
	for _, id := range ids {
		if cfg, ok := p.configs[id]; ok {
			cfgs = append(cfgs, cfg)
		}
	}
	return cfgs
}

func (p *Processor) channelRisk(ctx context.Context, channelID string) (float64, error) {
	if channelID == "" {
		return 0, nil
	}
	ch, err := p.store.GetChannel(ctx, channelID)
	if errors.Is(err, database.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load channel %s: %w", channelID, err)
	}
	return risk.ChannelRisk(ch), nil
}

func (p *Processor) snapshot(ctx context.Context, videoID string, views int64, now time.Time) error {
	err := p.store.AppendViewSnapshot(ctx, models.ViewSnapshot{
		VideoID:   videoID,
		Timestamp: now,
		ViewCount: views,
	})
	if err != nil {
		return fmt.Errorf("append snapshot for %s: %w", videoID, err)
	}
	return nil
}

// pickThumbnail prefers high, then medium, then default resolution.
func pickThumbnail(t youtube.Thumbnails) string {
	switch {
	case t.HighURL != "":
		return t.HighURL
	case t.MediumURL != "":
		return t.MediumURL
	default:
		return t.DefaultURL
	}
}

var isoDurationPattern = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// parseISODuration converts an ISO 8601 duration (PT1H2M3S) to seconds,
// falling back to 0 on anything unparseable.
func parseISODuration(s string) int {
	m := isoDurationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	days, _ := strconv.Atoi(zeroEmpty(m[1]))
	hours, _ := strconv.Atoi(zeroEmpty(m[2]))
	minutes, _ := strconv.Atoi(zeroEmpty(m[3]))
	seconds, _ := strconv.Atoi(zeroEmpty(m[4]))
	return ((days*24+hours)*60+minutes)*60 + seconds
}

func zeroEmpty(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

// difference returns the elements of a not present in b.
func difference(a, b []string) []string {
	if len(a) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(b))
	for _, s := range b {
		seen[s] = true
	}
	var out []string
	for _, s := range a {
		if !seen[s] {
			out = append(out, s)
		}
	}
	return out
}
