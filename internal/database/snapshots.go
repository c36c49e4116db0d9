// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/custodia/internal/models"
)

// AppendViewSnapshot records one view-count observation. Duplicate
// (video, instant) pairs are ignored; rediscovery inside the same tick is
// not new information.
func (db *DB) AppendViewSnapshot(ctx context.Context, s models.ViewSnapshot) error {
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now().UTC()
	}
	_, err := db.execWithConflictRetry(ctx,
		`INSERT INTO view_snapshots (video_id, snapshot_at, view_count)
		 VALUES (?, ?, ?) ON CONFLICT DO NOTHING`,
		s.VideoID, s.Timestamp, s.ViewCount)
	recordQuery("append", "view_snapshots", start, err)
	if err != nil {
		return fmt.Errorf("failed to append view snapshot for %s: %w", s.VideoID, err)
	}
	return nil
}

// LastTwoSnapshots returns the two most recent observations for a video,
// oldest first, ready for VelocityBetween. Fewer than two observations
// yield a short slice and a zero velocity upstream.
func (db *DB) LastTwoSnapshots(ctx context.Context, videoID string) ([]models.ViewSnapshot, error) {
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT video_id, snapshot_at, view_count FROM view_snapshots
		 WHERE video_id = ? ORDER BY snapshot_at DESC LIMIT 2`,
		videoID)
	recordQuery("last_two", "view_snapshots", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots for %s: %w", videoID, err)
	}
	defer rows.Close()

	snapshots := make([]models.ViewSnapshot, 0, 2)
	for rows.Next() {
		var s models.ViewSnapshot
		if err := rows.Scan(&s.VideoID, &s.Timestamp, &s.ViewCount); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}

	// Reverse the DESC read so callers see oldest first.
	for i, j := 0, len(snapshots)-1; i < j; i, j = i+1, j-1 {
		snapshots[i], snapshots[j] = snapshots[j], snapshots[i]
	}
	return snapshots, nil
}

// VelocityFor computes views/hour for a video from its last two snapshots,
// 0 when fewer than two exist.
func (db *DB) VelocityFor(ctx context.Context, videoID string) (float64, error) {
	snapshots, err := db.LastTwoSnapshots(ctx, videoID)
	if err != nil {
		return 0, err
	}
	if len(snapshots) < 2 {
		return 0, nil
	}
	return models.VelocityBetween(snapshots[0], snapshots[1]), nil
}
