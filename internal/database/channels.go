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

	"github.com/tomtom215/custodia/internal/models"
)

const channelColumns = `
	channel_id, title, total_videos_found, videos_scanned,
	confirmed_infringements, videos_cleared, infringing_videos_count,
	total_infringing_views, subscriber_count, channel_risk,
	first_seen_at, last_scanned_at, updated_at`

// UpsertChannelSeen records that discovery attributed one more video to the
// channel, creating the rollup row on first sight. Title refreshes on every
// call, subscriber count only when a positive value is supplied (search
// results do not carry one); the counters only ever move through
// ApplyChannelDeltas.
func (db *DB) UpsertChannelSeen(ctx context.Context, id, title string, subscriberCount int64) error {
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	now := time.Now().UTC()
	_, err := db.execWithConflictRetry(ctx,
		`INSERT INTO channels (
			channel_id, title, total_videos_found, subscriber_count,
			first_seen_at, updated_at
		) VALUES (?, ?, 1, ?, ?, ?)
		ON CONFLICT (channel_id) DO UPDATE SET
			title = EXCLUDED.title,
			total_videos_found = channels.total_videos_found + 1,
			subscriber_count = CASE
				WHEN EXCLUDED.subscriber_count > 0 THEN EXCLUDED.subscriber_count
				ELSE channels.subscriber_count
			END,
			updated_at = EXCLUDED.updated_at`,
		id, title, subscriberCount, now, now)
	recordQuery("upsert_seen", "channels", start, err)
	if err != nil {
		return fmt.Errorf("failed to upsert channel %s: %w", id, err)
	}
	return nil
}

// ApplyChannelDeltas applies one atomic counter adjustment produced by the
// result processor's subtract-old/add-new protocol. A zero delta is a no-op
// without a round trip.
func (db *DB) ApplyChannelDeltas(ctx context.Context, id string, d models.CounterDeltas) error {
	if d.IsZero() {
		return nil
	}
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	result, err := db.execWithConflictRetry(ctx,
		`UPDATE channels SET
			videos_scanned = videos_scanned + ?,
			confirmed_infringements = confirmed_infringements + ?,
			videos_cleared = videos_cleared + ?,
			infringing_videos_count = infringing_videos_count + ?,
			total_infringing_views = total_infringing_views + ?,
			updated_at = ?
		 WHERE channel_id = ?`,
		d.VideosScanned, d.ConfirmedInfringements, d.VideosCleared,
		d.InfringingVideosCount, d.TotalInfringingViews,
		time.Now().UTC(), id)
	recordQuery("apply_deltas", "channels", start, err)
	if err != nil {
		return fmt.Errorf("failed to apply deltas to channel %s: %w", id, err)
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

// UpdateChannelRisk writes a recomputed channel risk score.
func (db *DB) UpdateChannelRisk(ctx context.Context, id string, risk float64) error {
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	result, err := db.execWithConflictRetry(ctx,
		`UPDATE channels SET channel_risk = ?, updated_at = ? WHERE channel_id = ?`,
		risk, time.Now().UTC(), id)
	recordQuery("update_risk", "channels", start, err)
	if err != nil {
		return fmt.Errorf("failed to update risk for channel %s: %w", id, err)
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

// MarkChannelScanned stamps a channel-uploads scan so the planner skips the
// channel for its rescan period.
func (db *DB) MarkChannelScanned(ctx context.Context, id string, at time.Time) error {
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	_, err := db.execWithConflictRetry(ctx,
		`UPDATE channels SET last_scanned_at = ?, updated_at = ? WHERE channel_id = ?`,
		at, at, id)
	recordQuery("mark_scanned", "channels", start, err)
	if err != nil {
		return fmt.Errorf("failed to mark channel %s scanned: %w", id, err)
	}
	return nil
}

// GetChannel retrieves a channel rollup by id. Returns ErrNotFound when
// absent.
func (db *DB) GetChannel(ctx context.Context, id string) (*models.Channel, error) {
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE channel_id = ?`, id)
	ch, err := scanChannel(row)
	recordQuery("get", "channels", start, err)
	return ch, err
}

// TopChannelsByVideoCount returns candidates for channel-uploads scans:
// channels with the most attributed videos that have not been scanned since
// the cutoff, highest risk first among ties. A zero cutoff disables the
// recency filter.
func (db *DB) TopChannelsByVideoCount(ctx context.Context, limit int, notScannedSince time.Time) ([]models.Channel, error) {
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if limit <= 0 {
		return []models.Channel{}, nil
	}

	query := `SELECT ` + channelColumns + ` FROM channels`
	args := []any{}
	if !notScannedSince.IsZero() {
		query += ` WHERE last_scanned_at IS NULL OR last_scanned_at < ?`
		args = append(args, notScannedSince)
	}
	query += ` ORDER BY total_videos_found DESC, channel_risk DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	recordQuery("top_by_videos", "channels", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query top channels: %w", err)
	}
	defer rows.Close()

	channels := make([]models.Channel, 0, limit)
	for rows.Next() {
		ch, err := scanChannelRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan channel row: %w", err)
		}
		channels = append(channels, *ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating channels: %w", err)
	}
	return channels, nil
}

func scanChannel(row *sql.Row) (*models.Channel, error) {
	var ch models.Channel
	var title sql.NullString
	var lastScannedAt sql.NullTime

	err := row.Scan(
		&ch.ID, &title, &ch.TotalVideosFound, &ch.VideosScanned,
		&ch.ConfirmedInfringements, &ch.VideosCleared, &ch.InfringingVideosCount,
		&ch.TotalInfringingViews, &ch.SubscriberCount, &ch.ChannelRisk,
		&ch.FirstSeenAt, &lastScannedAt, &ch.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan channel: %w", err)
	}
	if title.Valid {
		ch.Title = title.String
	}
	if lastScannedAt.Valid {
		ch.LastScannedAt = &lastScannedAt.Time
	}
	return &ch, nil
}

func scanChannelRows(rows *sql.Rows) (*models.Channel, error) {
	var ch models.Channel
	var title sql.NullString
	var lastScannedAt sql.NullTime

	err := rows.Scan(
		&ch.ID, &title, &ch.TotalVideosFound, &ch.VideosScanned,
		&ch.ConfirmedInfringements, &ch.VideosCleared, &ch.InfringingVideosCount,
		&ch.TotalInfringingViews, &ch.SubscriberCount, &ch.ChannelRisk,
		&ch.FirstSeenAt, &lastScannedAt, &ch.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan channel: %w", err)
	}
	if title.Valid {
		ch.Title = title.String
	}
	if lastScannedAt.Valid {
		ch.LastScannedAt = &lastScannedAt.Time
	}
	return &ch, nil
}
