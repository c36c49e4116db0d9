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
	"github.com/google/uuid"

	"github.com/tomtom215/custodia/internal/models"
)

const ipConfigColumns = `
	ip_id, display_name, owner, characters, visual_markers,
	ai_tool_patterns, false_positive_filters, search_keywords,
	high_priority, enabled, deleted, created_at, updated_at`

// CreateIPConfig inserts a new monitored property.
func (db *DB) CreateIPConfig(ctx context.Context, cfg *models.IPConfig) error {
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	characters, err := marshalJSONColumn(cfg.Characters)
	if err != nil {
		return fmt.Errorf("failed to encode characters: %w", err)
	}
	markers, err := marshalJSONColumn(cfg.VisualMarkers)
	if err != nil {
		return fmt.Errorf("failed to encode visual_markers: %w", err)
	}
	patterns, err := marshalJSONColumn(cfg.AIToolPatterns)
	if err != nil {
		return fmt.Errorf("failed to encode ai_tool_patterns: %w", err)
	}
	filters, err := marshalJSONColumn(cfg.FalsePositiveFilters)
	if err != nil {
		return fmt.Errorf("failed to encode false_positive_filters: %w", err)
	}
	keywords, err := json.Marshal(cfg.SearchKeywords)
	if err != nil {
		return fmt.Errorf("failed to encode search_keywords: %w", err)
	}

	_, err = db.execWithConflictRetry(ctx,
		`INSERT INTO ip_configs (
			ip_id, display_name, owner, characters, visual_markers,
			ai_tool_patterns, false_positive_filters, search_keywords,
			high_priority, enabled, deleted, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cfg.ID, cfg.DisplayName, cfg.Owner, characters, markers,
		patterns, filters, string(keywords),
		cfg.HighPriority, cfg.Enabled, cfg.Deleted, cfg.CreatedAt, cfg.UpdatedAt)
	recordQuery("create", "ip_configs", start, err)
	if err != nil {
		return fmt.Errorf("failed to create ip config %s: %w", cfg.ID, err)
	}
	return nil
}

// UpdateIPConfig replaces every mutable field of an existing config.
func (db *DB) UpdateIPConfig(ctx context.Context, cfg *models.IPConfig) error {
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	cfg.UpdatedAt = time.Now().UTC()

	characters, err := marshalJSONColumn(cfg.Characters)
	if err != nil {
		return fmt.Errorf("failed to encode characters: %w", err)
	}
	markers, err := marshalJSONColumn(cfg.VisualMarkers)
	if err != nil {
		return fmt.Errorf("failed to encode visual_markers: %w", err)
	}
	patterns, err := marshalJSONColumn(cfg.AIToolPatterns)
	if err != nil {
		return fmt.Errorf("failed to encode ai_tool_patterns: %w", err)
	}
	filters, err := marshalJSONColumn(cfg.FalsePositiveFilters)
	if err != nil {
		return fmt.Errorf("failed to encode false_positive_filters: %w", err)
	}
	keywords, err := json.Marshal(cfg.SearchKeywords)
	if err != nil {
		return fmt.Errorf("failed to encode search_keywords: %w", err)
	}

	result, err := db.execWithConflictRetry(ctx,
		`UPDATE ip_configs SET
			display_name = ?, owner = ?, characters = ?, visual_markers = ?,
			ai_tool_patterns = ?, false_positive_filters = ?, search_keywords = ?,
			high_priority = ?, enabled = ?, updated_at = ?
		 WHERE ip_id = ? AND deleted = FALSE`,
		cfg.DisplayName, cfg.Owner, characters, markers,
		patterns, filters, string(keywords),
		cfg.HighPriority, cfg.Enabled, cfg.UpdatedAt, cfg.ID)
	recordQuery("update", "ip_configs", start, err)
	if err != nil {
		return fmt.Errorf("failed to update ip config %s: %w", cfg.ID, err)
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

// GetIPConfig retrieves a config by id, including soft-deleted ones.
func (db *DB) GetIPConfig(ctx context.Context, id string) (*models.IPConfig, error) {
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx,
		`SELECT `+ipConfigColumns+` FROM ip_configs WHERE ip_id = ?`, id)
	cfg, err := scanIPConfig(row)
	recordQuery("get", "ip_configs", start, err)
	return cfg, err
}

// EnabledIPConfigs returns every enabled, non-deleted config. Discovery and
// the risk engine treat the returned set as immutable for the duration of a
// run.
func (db *DB) EnabledIPConfigs(ctx context.Context) ([]models.IPConfig, error) {
	return db.listIPConfigs(ctx, true)
}

// ListIPConfigs returns all non-deleted configs regardless of enablement.
func (db *DB) ListIPConfigs(ctx context.Context) ([]models.IPConfig, error) {
	return db.listIPConfigs(ctx, false)
}

func (db *DB) listIPConfigs(ctx context.Context, enabledOnly bool) ([]models.IPConfig, error) {
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT ` + ipConfigColumns + ` FROM ip_configs WHERE deleted = FALSE`
	if enabledOnly {
		query += ` AND enabled = TRUE`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := db.conn.QueryContext(ctx, query)
	recordQuery("list", "ip_configs", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list ip configs: %w", err)
	}
	defer rows.Close()

	configs := make([]models.IPConfig, 0)
	for rows.Next() {
		cfg, err := scanIPConfigRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ip config row: %w", err)
		}
		configs = append(configs, *cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ip configs: %w", err)
	}
	return configs, nil
}

// SoftDeleteIPConfig flags a config deleted and cascades the flag to every
// video that matched it. Returns the number of videos flagged.
func (db *DB) SoftDeleteIPConfig(ctx context.Context, id string) (int64, error) {
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	result, err := db.execWithConflictRetry(ctx,
		`UPDATE ip_configs SET deleted = TRUE, enabled = FALSE, updated_at = ?
		 WHERE ip_id = ? AND deleted = FALSE`,
		time.Now().UTC(), id)
	recordQuery("soft_delete", "ip_configs", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to soft delete ip config %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return 0, ErrNotFound
	}

	return db.SoftDeleteVideosByIPConfig(ctx, id)
}

func scanIPConfig(row *sql.Row) (*models.IPConfig, error) {
	var cfg models.IPConfig
	var owner sql.NullString
	var characters, markers, patterns, filters, keywords any

	err := row.Scan(
		&cfg.ID, &cfg.DisplayName, &owner, &characters, &markers,
		&patterns, &filters, &keywords,
		&cfg.HighPriority, &cfg.Enabled, &cfg.Deleted, &cfg.CreatedAt, &cfg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan ip config: %w", err)
	}
	return finishIPConfig(&cfg, owner, characters, markers, patterns, filters, keywords)
}

func scanIPConfigRows(rows *sql.Rows) (*models.IPConfig, error) {
	var cfg models.IPConfig
	var owner sql.NullString
	var characters, markers, patterns, filters, keywords any

	err := rows.Scan(
		&cfg.ID, &cfg.DisplayName, &owner, &characters, &markers,
		&patterns, &filters, &keywords,
		&cfg.HighPriority, &cfg.Enabled, &cfg.Deleted, &cfg.CreatedAt, &cfg.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan ip config: %w", err)
	}
	return finishIPConfig(&cfg, owner, characters, markers, patterns, filters, keywords)
}

func finishIPConfig(cfg *models.IPConfig, owner sql.NullString,
	characters, markers, patterns, filters, keywords any,
) (*models.IPConfig, error) {
	if owner.Valid {
		cfg.Owner = owner.String
	}
	cfg.Characters = decodeStringSlice(characters)
	cfg.VisualMarkers = decodeStringSlice(markers)
	cfg.AIToolPatterns = decodeStringSlice(patterns)
	cfg.FalsePositiveFilters = decodeStringSlice(filters)
	if keywords != nil {
		var buckets models.KeywordBuckets
		if err := json.Unmarshal([]byte(jsonColumnText(keywords)), &buckets); err != nil {
			return nil, fmt.Errorf("failed to decode search_keywords for config %s: %w", cfg.ID, err)
		}
		cfg.SearchKeywords = buckets
	}
	return cfg, nil
}
