// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/custodia/internal/logging"
)

// RollupRebuildResult reports what a rebuild touched.
type RollupRebuildResult struct {
	ChannelsUpdated  int64     `json:"channels_updated"`
	ChannelsInserted int64     `json:"channels_inserted"`
	TotalAnalyzed    int64     `json:"total_analyzed"`
	RebuiltAt        time.Time `json:"rebuilt_at"`
}

// channelAggregates derives every counter column from the video store.
// Soft-deleted videos are excluded: a retired IP config must not keep
// inflating reputation scores.
const channelAggregates = `
	SELECT
		channel_id,
		MAX(channel_title) AS title,
		COUNT(*) AS total_videos_found,
		COUNT(*) FILTER (WHERE scan_count > 0) AS videos_scanned,
		COUNT(*) FILTER (WHERE scan_count > 0
			AND COALESCE(CAST(json_extract(analysis, '$.contains_infringement') AS BOOLEAN), FALSE)
		) AS confirmed_infringements,
		COUNT(*) FILTER (WHERE scan_count > 0
			AND NOT COALESCE(CAST(json_extract(analysis, '$.contains_infringement') AS BOOLEAN), FALSE)
		) AS videos_cleared,
		COUNT(*) FILTER (
			WHERE json_extract_string(analysis, '$.overall_recommendation') = 'immediate_takedown'
		) AS infringing_videos_count,
		COALESCE(SUM(view_count) FILTER (
			WHERE json_extract_string(analysis, '$.overall_recommendation') = 'immediate_takedown'
		), 0) AS total_infringing_views,
		MIN(discovered_at) AS first_seen_at
	FROM videos
	WHERE deleted = FALSE
	GROUP BY channel_id`

// RebuildRollups regenerates the channel and system rollups from the video
// store. The rollups are caches; the videos table is the source of truth,
// so the rebuild may be run at any time to repair drift. Counter columns are
// replaced wholesale; subscriber counts, risk scores and scan stamps are
// preserved because they are not derivable from videos.
func (db *DB) RebuildRollups(ctx context.Context) (*RollupRebuildResult, error) {
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	result := &RollupRebuildResult{RebuiltAt: time.Now().UTC()}

	// Replace counters on channels that already exist.
	updated, err := db.execWithConflictRetry(ctx, `
		UPDATE channels SET
			total_videos_found = agg.total_videos_found,
			videos_scanned = agg.videos_scanned,
			confirmed_infringements = agg.confirmed_infringements,
			videos_cleared = agg.videos_cleared,
			infringing_videos_count = agg.infringing_videos_count,
			total_infringing_views = agg.total_infringing_views,
			updated_at = ?
		FROM (`+channelAggregates+`) AS agg
		WHERE channels.channel_id = agg.channel_id`,
		result.RebuiltAt)
	if err != nil {
		recordQuery("rebuild", "channels", start, err)
		return nil, fmt.Errorf("failed to rebuild channel counters: %w", err)
	}
	result.ChannelsUpdated, _ = updated.RowsAffected()

	// Create rollup rows for channels that only exist in videos. This
	// repairs a missed UpsertChannelSeen, not just drifted counters.
	inserted, err := db.execWithConflictRetry(ctx, `
		INSERT INTO channels (
			channel_id, title, total_videos_found, videos_scanned,
			confirmed_infringements, videos_cleared, infringing_videos_count,
			total_infringing_views, first_seen_at, updated_at
		)
		SELECT
			agg.channel_id, agg.title, agg.total_videos_found, agg.videos_scanned,
			agg.confirmed_infringements, agg.videos_cleared, agg.infringing_videos_count,
			agg.total_infringing_views, agg.first_seen_at, ?
		FROM (`+channelAggregates+`) AS agg
		WHERE agg.channel_id NOT IN (SELECT channel_id FROM channels)`,
		result.RebuiltAt)
	if err != nil {
		recordQuery("rebuild", "channels", start, err)
		return nil, fmt.Errorf("failed to insert missing channels: %w", err)
	}
	result.ChannelsInserted, _ = inserted.RowsAffected()

	// Rebuild the global rollup from the same source.
	var totalAnalyzed, totalInfringements int64
	err = db.conn.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE scan_count > 0),
			COUNT(*) FILTER (WHERE scan_count > 0
				AND COALESCE(CAST(json_extract(analysis, '$.contains_infringement') AS BOOLEAN), FALSE))
		FROM videos WHERE deleted = FALSE`).
		Scan(&totalAnalyzed, &totalInfringements)
	if err != nil {
		recordQuery("rebuild", "system_stats", start, err)
		return nil, fmt.Errorf("failed to aggregate system stats: %w", err)
	}
	result.TotalAnalyzed = totalAnalyzed

	_, err = db.execWithConflictRetry(ctx, `
		INSERT INTO system_stats (id, total_analyzed, total_infringements, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			total_analyzed = EXCLUDED.total_analyzed,
			total_infringements = EXCLUDED.total_infringements,
			updated_at = EXCLUDED.updated_at`,
		totalAnalyzed, totalInfringements, result.RebuiltAt)
	recordQuery("rebuild", "system_stats", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild system stats: %w", err)
	}

	logging.Info().
		Int64("channels_updated", result.ChannelsUpdated).
		Int64("channels_inserted", result.ChannelsInserted).
		Int64("total_analyzed", totalAnalyzed).
		Dur("duration", time.Since(start)).
		Msg("Rollups rebuilt from video store")
	return result, nil
}
