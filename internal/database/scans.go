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

	"github.com/google/uuid"

	"github.com/tomtom215/custodia/internal/models"
)

const scanColumns = `
	scan_id, video_id, status, started_at, completed_at, error, error_kind, cost_eur`

// CreateScanRecord opens a running scan record before the model is invoked.
// The record, not the video status, is the authoritative "this scan is
// running" fact that startup recovery invalidates after a crash.
func (db *DB) CreateScanRecord(ctx context.Context, videoID string) (*models.ScanRecord, error) {
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rec := &models.ScanRecord{
		ScanID:    uuid.New().String(),
		VideoID:   videoID,
		Status:    models.ScanRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := db.execWithConflictRetry(ctx,
		`INSERT INTO scan_history (scan_id, video_id, status, started_at)
		 VALUES (?, ?, ?, ?)`,
		rec.ScanID, rec.VideoID, string(rec.Status), rec.StartedAt)
	recordQuery("create", "scan_history", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to create scan record for %s: %w", videoID, err)
	}
	return rec, nil
}

// CompleteScanRecord closes a scan as completed with its actual cost.
func (db *DB) CompleteScanRecord(ctx context.Context, scanID string, costEUR float64) error {
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	result, err := db.execWithConflictRetry(ctx,
		`UPDATE scan_history SET status = ?, completed_at = ?, cost_eur = ?
		 WHERE scan_id = ?`,
		string(models.ScanCompleted), time.Now().UTC(), costEUR, scanID)
	recordQuery("complete", "scan_history", start, err)
	if err != nil {
		return fmt.Errorf("failed to complete scan %s: %w", scanID, err)
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

// FailScanRecord closes a scan as failed with a message and a stable error
// kind. The scan record is the operator surface for failures.
func (db *DB) FailScanRecord(ctx context.Context, scanID, message, kind string) error {
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	result, err := db.execWithConflictRetry(ctx,
		`UPDATE scan_history SET status = ?, completed_at = ?, error = ?, error_kind = ?
		 WHERE scan_id = ?`,
		string(models.ScanFailed), time.Now().UTC(), message, kind, scanID)
	recordQuery("fail", "scan_history", start, err)
	if err != nil {
		return fmt.Errorf("failed to fail scan %s: %w", scanID, err)
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

// GetScanRecord retrieves one scan attempt by id.
func (db *DB) GetScanRecord(ctx context.Context, scanID string) (*models.ScanRecord, error) {
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx,
		`SELECT `+scanColumns+` FROM scan_history WHERE scan_id = ?`, scanID)
	rec, err := scanScanRecord(row)
	recordQuery("get", "scan_history", start, err)
	return rec, err
}

// ListRunningScans returns every scan still marked running, oldest first.
// On a healthy single instance this is only ever the scans in flight; at
// startup it is the crash residue the recovery sweep clears.
func (db *DB) ListRunningScans(ctx context.Context) ([]models.ScanRecord, error) {
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+scanColumns+` FROM scan_history
		 WHERE status = ? ORDER BY started_at ASC`,
		string(models.ScanRunning))
	recordQuery("list_running", "scan_history", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list running scans: %w", err)
	}
	defer rows.Close()

	records := make([]models.ScanRecord, 0)
	for rows.Next() {
		rec, err := scanScanRecordRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record row: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scan records: %w", err)
	}
	return records, nil
}

// RecentScansForVideo returns a video's scan attempts, newest first.
func (db *DB) RecentScansForVideo(ctx context.Context, videoID string, limit int) ([]models.ScanRecord, error) {
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 10
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+scanColumns+` FROM scan_history
		 WHERE video_id = ? ORDER BY started_at DESC LIMIT ?`,
		videoID, limit)
	recordQuery("recent_for_video", "scan_history", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list scans for %s: %w", videoID, err)
	}
	defer rows.Close()

	records := make([]models.ScanRecord, 0, limit)
	for rows.Next() {
		rec, err := scanScanRecordRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record row: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scan records: %w", err)
	}
	return records, nil
}

func scanScanRecord(row *sql.Row) (*models.ScanRecord, error) {
	var rec models.ScanRecord
	var status string
	var completedAt sql.NullTime
	var errMsg, errKind sql.NullString

	err := row.Scan(&rec.ScanID, &rec.VideoID, &status, &rec.StartedAt,
		&completedAt, &errMsg, &errKind, &rec.CostEUR)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}
	finishScanRecord(&rec, status, completedAt, errMsg, errKind)
	return &rec, nil
}

func scanScanRecordRows(rows *sql.Rows) (*models.ScanRecord, error) {
	var rec models.ScanRecord
	var status string
	var completedAt sql.NullTime
	var errMsg, errKind sql.NullString

	err := rows.Scan(&rec.ScanID, &rec.VideoID, &status, &rec.StartedAt,
		&completedAt, &errMsg, &errKind, &rec.CostEUR)
	if err != nil {
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}
	finishScanRecord(&rec, status, completedAt, errMsg, errKind)
	return &rec, nil
}

func finishScanRecord(rec *models.ScanRecord, status string,
	completedAt sql.NullTime, errMsg, errKind sql.NullString,
) {
	rec.Status = models.ScanStatus(status)
	if completedAt.Valid {
		rec.CompletedAt = &completedAt.Time
	}
	if errMsg.Valid {
		rec.Error = errMsg.String
	}
	if errKind.Valid {
		rec.ErrorKind = errKind.String
	}
}
