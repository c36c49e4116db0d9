// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/custodia/internal/models"
)

// videoColumns is the canonical select list shared by every video read.
const videoColumns = `
	video_id, title, description, tags, channel_id, channel_title,
	thumbnail_url, duration_seconds, view_count, like_count, comment_count,
	published_at, discovered_at, matched_ips, status,
	initial_risk, current_risk, scan_priority, priority_tier,
	scan_count, analysis, view_velocity,
	vision_triggered_at, processing_started_at, last_analyzed_at, last_risk_update,
	deleted, created_at, updated_at`

// tierRankExpr orders rows by tier precedence when priorities tie.
const tierRankExpr = `CASE priority_tier
		WHEN 'CRITICAL' THEN 4
		WHEN 'HIGH' THEN 3
		WHEN 'MEDIUM' THEN 2
		WHEN 'LOW' THEN 1
		ELSE 0
	END`

// UpsertVideo inserts a newly discovered video or refreshes the metadata and
// engagement counters of an existing one. Lifecycle, risk and analysis
// columns are never touched here: rediscovery must not reset a video that is
// processing or already analyzed.
func (db *DB) UpsertVideo(ctx context.Context, v *models.Video) error {
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	now := time.Now().UTC()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	v.UpdatedAt = now
	if v.Status == "" {
		v.Status = models.StatusDiscovered
	}
	if v.PriorityTier == "" {
		v.PriorityTier = models.TierForPriority(v.ScanPriority)
	}

	tags, err := marshalJSONColumn(v.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}
	matched, err := marshalJSONColumn(v.MatchedIPs)
	if err != nil {
		return fmt.Errorf("failed to encode matched_ips: %w", err)
	}

	query := `INSERT INTO videos (
		video_id, title, description, tags, channel_id, channel_title,
		thumbnail_url, duration_seconds, view_count, like_count, comment_count,
		published_at, discovered_at, matched_ips, status,
		initial_risk, current_risk, scan_priority, priority_tier,
		view_velocity, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (video_id) DO UPDATE SET
		title = EXCLUDED.title,
		description = EXCLUDED.description,
		tags = EXCLUDED.tags,
		channel_title = EXCLUDED.channel_title,
		thumbnail_url = EXCLUDED.thumbnail_url,
		duration_seconds = EXCLUDED.duration_seconds,
		view_count = EXCLUDED.view_count,
		like_count = EXCLUDED.like_count,
		comment_count = EXCLUDED.comment_count,
		view_velocity = EXCLUDED.view_velocity,
		updated_at = EXCLUDED.updated_at`

	_, err = db.execWithConflictRetry(ctx, query,
		v.ID, v.Title, v.Description, tags, v.ChannelID, v.ChannelTitle,
		v.ThumbnailURL, v.DurationSeconds, v.ViewCount, v.LikeCount, v.CommentCount,
		v.PublishedAt, v.DiscoveredAt, matched, string(v.Status),
		v.InitialRisk, v.CurrentRisk, v.ScanPriority, string(v.PriorityTier),
		v.ViewVelocity, v.CreatedAt, v.UpdatedAt,
	)
	recordQuery("upsert", "videos", start, err)
	if err != nil {
		return fmt.Errorf("failed to upsert video %s: %w", v.ID, err)
	}
	return nil
}

// GetVideo retrieves a video by id. Returns ErrNotFound when absent.
func (db *DB) GetVideo(ctx context.Context, id string) (*models.Video, error) {
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx,
		`SELECT `+videoColumns+` FROM videos WHERE video_id = ?`, id)
	v, err := scanVideo(row)
	recordQuery("get", "videos", start, err)
	return v, err
}

// VideoExists reports whether a video id is already in the store. Cheaper
// than GetVideo on the discovery hot path, where most results are repeats.
func (db *DB) VideoExists(ctx context.Context, id string) (bool, error) {
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var one int
	err := db.conn.QueryRowContext(ctx,
		`SELECT 1 FROM videos WHERE video_id = ?`, id).Scan(&one)
	recordQuery("exists", "videos", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check video %s: %w", id, err)
	}
	return true, nil
}

// SetVideoStatus updates a video's lifecycle status unconditionally.
// For the single-owner processing claim use ClaimVideoForProcessing.
func (db *DB) SetVideoStatus(ctx context.Context, id string, status models.VideoStatus) error {
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	result, err := db.execWithConflictRetry(ctx,
		`UPDATE videos SET status = ?, updated_at = ? WHERE video_id = ?`,
		string(status), time.Now().UTC(), id)
	recordQuery("set_status", "videos", start, err)
	if err != nil {
		return fmt.Errorf("failed to set video %s status: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimVideoForProcessing performs the single-owner transition
// discovered → processing. Returns false when the video is in any other
// status, which is how a redelivered scan-ready message detects that another
// worker (or an earlier delivery) already owns the video.
func (db *DB) ClaimVideoForProcessing(ctx context.Context, id string, at time.Time) (bool, error) {
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	result, err := db.execWithConflictRetry(ctx,
		`UPDATE videos SET status = ?, processing_started_at = ?, updated_at = ?
		 WHERE video_id = ? AND status = ? AND deleted = FALSE`,
		string(models.StatusProcessing), at, at, id, string(models.StatusDiscovered))
	recordQuery("claim", "videos", start, err)
	if err != nil {
		return false, fmt.Errorf("failed to claim video %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected == 1, nil
}

// ResetProcessingVideo releases a video stuck in processing back to
// discovered with a null processing start. Used by the startup recovery
// sweep. A video in any other status is left alone.
func (db *DB) ResetProcessingVideo(ctx context.Context, id string) (bool, error) {
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	result, err := db.execWithConflictRetry(ctx,
		`UPDATE videos SET status = ?, processing_started_at = NULL, updated_at = ?
		 WHERE video_id = ? AND status = ?`,
		string(models.StatusDiscovered), time.Now().UTC(), id, string(models.StatusProcessing))
	recordQuery("reset_processing", "videos", start, err)
	if err != nil {
		return false, fmt.Errorf("failed to reset video %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected == 1, nil
}

// UpdateVideoRisk writes a rescored risk and priority. The write is skipped
// when nothing changed, so a redelivered message does not touch
// last_risk_update. Returns whether a row was written.
func (db *DB) UpdateVideoRisk(ctx context.Context, id string, currentRisk, scanPriority float64, tier models.PriorityTier, at time.Time) (bool, error) {
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	result, err := db.execWithConflictRetry(ctx,
		`UPDATE videos SET
			current_risk = ?, scan_priority = ?, priority_tier = ?,
			last_risk_update = ?, updated_at = ?
		 WHERE video_id = ?
		   AND (current_risk != ? OR scan_priority != ? OR priority_tier != ?)`,
		currentRisk, scanPriority, string(tier), at, at,
		id, currentRisk, scanPriority, string(tier))
	recordQuery("update_risk", "videos", start, err)
	if err != nil {
		return false, fmt.Errorf("failed to update risk for video %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected == 1, nil
}

// AddMatchedIPs unions new IP-config ids into a video's matched set.
// Rediscovery under a different keyword can match additional configs.
func (db *DB) AddMatchedIPs(ctx context.Context, id string, ipIDs []string) error {
	if len(ipIDs) == 0 {
		return nil
	}
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var raw any
	err := db.conn.QueryRowContext(ctx,
		`SELECT matched_ips FROM videos WHERE video_id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		recordQuery("add_matched_ips", "videos", start, err)
		return ErrNotFound
	}
	if err != nil {
		recordQuery("add_matched_ips", "videos", start, err)
		return fmt.Errorf("failed to read matched_ips for video %s: %w", id, err)
	}

	existing := decodeStringSlice(raw)
	merged := existing
	seen := make(map[string]struct{}, len(existing))
	for _, ip := range existing {
		seen[ip] = struct{}{}
	}
	added := false
	for _, ip := range ipIDs {
		if _, ok := seen[ip]; ok {
			continue
		}
		seen[ip] = struct{}{}
		merged = append(merged, ip)
		added = true
	}
	if !added {
		recordQuery("add_matched_ips", "videos", start, nil)
		return nil
	}

	encoded, err := marshalJSONColumn(merged)
	if err != nil {
		return fmt.Errorf("failed to encode matched_ips: %w", err)
	}
	_, err = db.execWithConflictRetry(ctx,
		`UPDATE videos SET matched_ips = ?, updated_at = ? WHERE video_id = ?`,
		encoded, time.Now().UTC(), id)
	recordQuery("add_matched_ips", "videos", start, err)
	if err != nil {
		return fmt.Errorf("failed to update matched_ips for video %s: %w", id, err)
	}
	return nil
}

// SetVisionTriggered stamps the videos handed to the vision dispatcher.
func (db *DB) SetVisionTriggered(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `UPDATE videos SET vision_triggered_at = ?, updated_at = ? WHERE video_id IN (`
	args := []any{at, at}
	for i, id := range ids {
		if i > 0 {
			query += ", "
		}
		query += "?"
		args = append(args, id)
	}
	query += ")"

	_, err := db.execWithConflictRetry(ctx, query, args...)
	recordQuery("set_vision_triggered", "videos", start, err)
	if err != nil {
		return fmt.Errorf("failed to stamp vision trigger: %w", err)
	}
	return nil
}

// WriteAnalysis records a successful analysis: the summary replaces any
// prior one, the video becomes analyzed and its scan count advances.
func (db *DB) WriteAnalysis(ctx context.Context, id string, a *models.AnalysisSummary) error {
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	encoded, err := marshalJSONColumn(a)
	if err != nil {
		return fmt.Errorf("failed to encode analysis: %w", err)
	}

	result, err := db.execWithConflictRetry(ctx,
		`UPDATE videos SET
			analysis = ?, status = ?, scan_count = scan_count + 1,
			last_analyzed_at = ?, processing_started_at = NULL, updated_at = ?
		 WHERE video_id = ?`,
		encoded, string(models.StatusAnalyzed), a.AnalyzedAt, time.Now().UTC(), id)
	recordQuery("write_analysis", "videos", start, err)
	if err != nil {
		return fmt.Errorf("failed to write analysis for video %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// TopUnscanned returns up to limit discovered videos at or above the
// priority floor, ordered by scan priority then tier precedence. This is the
// scan queue's only read.
func (db *DB) TopUnscanned(ctx context.Context, limit int, minPriority float64) ([]models.Video, error) {
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if limit <= 0 {
		return []models.Video{}, nil
	}

	query := `SELECT ` + videoColumns + `
	FROM videos
	WHERE status = ? AND deleted = FALSE AND scan_priority >= ?
	ORDER BY scan_priority DESC, ` + tierRankExpr + ` DESC, discovered_at ASC
	LIMIT ?`

	rows, err := db.conn.QueryContext(ctx, query,
		string(models.StatusDiscovered), minPriority, limit)
	recordQuery("top_unscanned", "videos", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query unscanned videos: %w", err)
	}
	defer rows.Close()

	videos := make([]models.Video, 0, limit)
	for rows.Next() {
		v, err := scanVideoRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan video row: %w", err)
		}
		videos = append(videos, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating videos: %w", err)
	}
	return videos, nil
}

// CountQueuedForVision returns the number of videos enqueued for analysis
// but not yet claimed by a worker. The dispatcher divides the remaining
// budget by this count to derive its budget-pressure factor.
func (db *DB) CountQueuedForVision(ctx context.Context) (int64, error) {
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var n int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM videos
		 WHERE status = ? AND deleted = FALSE AND vision_triggered_at IS NOT NULL`,
		string(models.StatusDiscovered)).Scan(&n)
	recordQuery("count_queued", "videos", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to count queued videos: %w", err)
	}
	return n, nil
}

// CountVideosByTier returns the per-tier population of unscanned videos.
// Feeds the tier distribution gauges after each discovery run.
func (db *DB) CountVideosByTier(ctx context.Context) (map[models.PriorityTier]int64, error) {
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT priority_tier, COUNT(*) FROM videos
		 WHERE status = ? AND deleted = FALSE
		 GROUP BY priority_tier`,
		string(models.StatusDiscovered))
	recordQuery("count_by_tier", "videos", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to count videos by tier: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.PriorityTier]int64)
	for rows.Next() {
		var tier string
		var n int64
		if err := rows.Scan(&tier, &n); err != nil {
			return nil, fmt.Errorf("failed to scan tier count: %w", err)
		}
		counts[models.PriorityTier(tier)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tier counts: %w", err)
	}
	return counts, nil
}

// ListVideosByStatus returns videos in a given lifecycle status, newest
// discovery first. Used by the recovery sweep and operator reads.
func (db *DB) ListVideosByStatus(ctx context.Context, status models.VideoStatus, limit int) ([]models.Video, error) {
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+videoColumns+` FROM videos
		 WHERE status = ? AND deleted = FALSE
		 ORDER BY discovered_at DESC LIMIT ?`,
		string(status), limit)
	recordQuery("list_by_status", "videos", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list videos by status: %w", err)
	}
	defer rows.Close()

	videos := make([]models.Video, 0)
	for rows.Next() {
		v, err := scanVideoRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan video row: %w", err)
		}
		videos = append(videos, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating videos: %w", err)
	}
	return videos, nil
}

// SoftDeleteVideosByIPConfig cascades an IP-config soft delete to every
// video whose matched set contains the config. Videos are never hard
// deleted. Returns the number of videos flagged.
func (db *DB) SoftDeleteVideosByIPConfig(ctx context.Context, ipID string) (int64, error) {
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	// matched_ips is a JSON array of config id strings.
	result, err := db.execWithConflictRetry(ctx,
		`UPDATE videos SET deleted = TRUE, updated_at = ?
		 WHERE deleted = FALSE
		   AND list_contains(CAST(matched_ips AS VARCHAR[]), ?)`,
		time.Now().UTC(), ipID)
	recordQuery("soft_delete_cascade", "videos", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to cascade soft delete for config %s: %w", ipID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected, nil
}

// scanVideo reads a single-row result into a Video.
func scanVideo(row *sql.Row) (*models.Video, error) {
	var v models.Video
	var description, channelTitle, thumbnailURL sql.NullString
	var tags, matchedIPs, analysis any
	var status, tier string
	var publishedAt sql.NullTime
	var visionTriggeredAt, processingStartedAt, lastAnalyzedAt, lastRiskUpdate sql.NullTime

	err := row.Scan(
		&v.ID, &v.Title, &description, &tags, &v.ChannelID, &channelTitle,
		&thumbnailURL, &v.DurationSeconds, &v.ViewCount, &v.LikeCount, &v.CommentCount,
		&publishedAt, &v.DiscoveredAt, &matchedIPs, &status,
		&v.InitialRisk, &v.CurrentRisk, &v.ScanPriority, &tier,
		&v.ScanCount, &analysis, &v.ViewVelocity,
		&visionTriggeredAt, &processingStartedAt, &lastAnalyzedAt, &lastRiskUpdate,
		&v.Deleted, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan video: %w", err)
	}
	return finishVideo(&v, description, channelTitle, thumbnailURL, tags, matchedIPs, analysis,
		status, tier, publishedAt, visionTriggeredAt, processingStartedAt, lastAnalyzedAt, lastRiskUpdate)
}

// scanVideoRows reads the current row of a multi-row result into a Video.
func scanVideoRows(rows *sql.Rows) (*models.Video, error) {
	var v models.Video
	var description, channelTitle, thumbnailURL sql.NullString
	var tags, matchedIPs, analysis any
	var status, tier string
	var publishedAt sql.NullTime
	var visionTriggeredAt, processingStartedAt, lastAnalyzedAt, lastRiskUpdate sql.NullTime

	err := rows.Scan(
		&v.ID, &v.Title, &description, &tags, &v.ChannelID, &channelTitle,
		&thumbnailURL, &v.DurationSeconds, &v.ViewCount, &v.LikeCount, &v.CommentCount,
		&publishedAt, &v.DiscoveredAt, &matchedIPs, &status,
		&v.InitialRisk, &v.CurrentRisk, &v.ScanPriority, &tier,
		&v.ScanCount, &analysis, &v.ViewVelocity,
		&visionTriggeredAt, &processingStartedAt, &lastAnalyzedAt, &lastRiskUpdate,
		&v.Deleted, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan video: %w", err)
	}
	return finishVideo(&v, description, channelTitle, thumbnailURL, tags, matchedIPs, analysis,
		status, tier, publishedAt, visionTriggeredAt, processingStartedAt, lastAnalyzedAt, lastRiskUpdate)
}

func finishVideo(v *models.Video, description, channelTitle, thumbnailURL sql.NullString,
	tags, matchedIPs, analysis any, status, tier string, publishedAt sql.NullTime,
	visionTriggeredAt, processingStartedAt, lastAnalyzedAt, lastRiskUpdate sql.NullTime,
) (*models.Video, error) {
	if description.Valid {
		v.Description = description.String
	}
	if channelTitle.Valid {
		v.ChannelTitle = channelTitle.String
	}
	if thumbnailURL.Valid {
		v.ThumbnailURL = thumbnailURL.String
	}
	v.Tags = decodeStringSlice(tags)
	v.MatchedIPs = decodeStringSlice(matchedIPs)
	v.Status = models.VideoStatus(status)
	v.PriorityTier = models.PriorityTier(tier)
	if publishedAt.Valid {
		v.PublishedAt = publishedAt.Time
	}
	if analysis != nil {
		var a models.AnalysisSummary
		if err := json.Unmarshal([]byte(jsonColumnText(analysis)), &a); err != nil {
			return nil, fmt.Errorf("failed to decode analysis for video %s: %w", v.ID, err)
		}
		v.Analysis = &a
	}
	if visionTriggeredAt.Valid {
		v.VisionTriggeredAt = &visionTriggeredAt.Time
	}
	if processingStartedAt.Valid {
		v.ProcessingStartedAt = &processingStartedAt.Time
	}
	if lastAnalyzedAt.Valid {
		v.LastAnalyzedAt = &lastAnalyzedAt.Time
	}
	if lastRiskUpdate.Valid {
		v.LastRiskUpdate = &lastRiskUpdate.Time
	}
	return v, nil
}

// marshalJSONColumn encodes a value for a DuckDB JSON column. Nil slices
// and nil pointers store SQL NULL rather than the string "null".
func marshalJSONColumn(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case []string:
		if val == nil {
			return nil, nil
		}
	case *models.AnalysisSummary:
		if val == nil {
			return nil, nil
		}
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

// jsonColumnText normalizes the driver's JSON column representation to text.
// DuckDB may return JSON as string, []byte, or a decoded composite.
func jsonColumnText(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	default:
		encoded, err := json.Marshal(val)
		if err != nil {
			return "null"
		}
		return string(encoded)
	}
}

// decodeStringSlice converts a JSON array column value to []string,
// tolerating drivers that hand back native slices instead of text.
func decodeStringSlice(v any) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		var out []string
		if err := json.Unmarshal([]byte(jsonColumnText(v)), &out); err != nil {
			return nil
		}
		return out
	}
}
