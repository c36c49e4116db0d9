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

const searchColumns = `
	id, keyword, ordering, searched_at, results_count, new_videos,
	efficiency, window_start, window_end, window_days, exhausted, tier`

// AppendKeywordSearch records one executed search. The history is
// append-only; rows are never updated except for the exhausted flag.
func (db *DB) AppendKeywordSearch(ctx context.Context, s *models.KeywordSearch) error {
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.SearchedAt.IsZero() {
		s.SearchedAt = time.Now().UTC()
	}
	if s.Tier == 0 {
		s.Tier = models.KeywordTier3
	}

	var windowStart, windowEnd any
	var windowDays any
	if s.Window != nil {
		windowStart = s.Window.Start
		windowEnd = s.Window.End
		windowDays = s.Window.Days
	}

	_, err := db.execWithConflictRetry(ctx,
		`INSERT INTO keyword_searches (
			id, keyword, ordering, searched_at, results_count, new_videos,
			efficiency, window_start, window_end, window_days, exhausted, tier
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Keyword, string(s.Ordering), s.SearchedAt, s.ResultsCount, s.NewVideos,
		s.Efficiency, windowStart, windowEnd, windowDays, s.Exhausted, s.Tier)
	recordQuery("append", "keyword_searches", start, err)
	if err != nil {
		return fmt.Errorf("failed to append keyword search: %w", err)
	}
	return nil
}

// LatestKeywordSearch returns the most recent history row for a
// (keyword, ordering) pair, or ErrNotFound when the pair was never searched.
func (db *DB) LatestKeywordSearch(ctx context.Context, keyword string, ordering models.SearchOrdering) (*models.KeywordSearch, error) {
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx,
		`SELECT `+searchColumns+` FROM keyword_searches
		 WHERE keyword = ? AND ordering = ?
		 ORDER BY searched_at DESC LIMIT 1`,
		keyword, string(ordering))
	s, err := scanKeywordSearch(row)
	recordQuery("latest", "keyword_searches", start, err)
	return s, err
}

// RecentKeywordSearches returns up to n most recent rows for a
// (keyword, ordering) pair, newest first. The window generator estimates
// upload frequency from the last five.
func (db *DB) RecentKeywordSearches(ctx context.Context, keyword string, ordering models.SearchOrdering, n int) ([]models.KeywordSearch, error) {
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if n <= 0 {
		n = 5
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+searchColumns+` FROM keyword_searches
		 WHERE keyword = ? AND ordering = ?
		 ORDER BY searched_at DESC LIMIT ?`,
		keyword, string(ordering), n)
	recordQuery("recent", "keyword_searches", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent searches: %w", err)
	}
	defer rows.Close()

	searches := make([]models.KeywordSearch, 0, n)
	for rows.Next() {
		s, err := scanKeywordSearchRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan search row: %w", err)
		}
		searches = append(searches, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating searches: %w", err)
	}
	return searches, nil
}

// LatestSearchesByKeyword returns the most recent history row per
// (keyword, ordering) pair across all keywords. The planner derives tier
// assignments from this snapshot in one query instead of one per pair.
func (db *DB) LatestSearchesByKeyword(ctx context.Context) ([]models.KeywordSearch, error) {
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+searchColumns+` FROM (
			SELECT *, ROW_NUMBER() OVER (
				PARTITION BY keyword, ordering ORDER BY searched_at DESC
			) AS rn FROM keyword_searches
		) WHERE rn = 1`)
	recordQuery("latest_all", "keyword_searches", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest searches: %w", err)
	}
	defer rows.Close()

	searches := make([]models.KeywordSearch, 0)
	for rows.Next() {
		s, err := scanKeywordSearchRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan search row: %w", err)
		}
		searches = append(searches, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating searches: %w", err)
	}
	return searches, nil
}

// MarkKeywordExhausted flags the latest history row of every ordering for
// the keyword. A search that returned less than a full page has drained the
// keyword's result space; spending quota on its other orderings would
// return the same videos. Orderings with no history get no row here, so
// callers must treat exhaustion as keyword-scoped (KeywordExhaustedAt)
// rather than inspect per-ordering rows.
func (db *DB) MarkKeywordExhausted(ctx context.Context, keyword string) error {
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	_, err := db.execWithConflictRetry(ctx,
		`UPDATE keyword_searches SET exhausted = TRUE
		 WHERE keyword = ? AND (ordering, searched_at) IN (
			SELECT ordering, MAX(searched_at) FROM keyword_searches
			WHERE keyword = ? GROUP BY ordering
		 )`,
		keyword, keyword)
	recordQuery("mark_exhausted", "keyword_searches", start, err)
	if err != nil {
		return fmt.Errorf("failed to mark keyword %q exhausted: %w", keyword, err)
	}
	return nil
}

// KeywordExhaustedAt returns when the keyword was most recently flagged
// exhausted, across every ordering, or ErrNotFound when no flag stands.
// Exhaustion drains the keyword's whole result space, so a flag set under
// one ordering suppresses the other three as well.
func (db *DB) KeywordExhaustedAt(ctx context.Context, keyword string) (time.Time, error) {
	start := time.Now()
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var at sql.NullTime
	err := db.conn.QueryRowContext(ctx,
		`SELECT MAX(searched_at) FROM keyword_searches
		 WHERE keyword = ? AND exhausted`,
		keyword).Scan(&at)
	recordQuery("exhausted_at", "keyword_searches", start, err)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query exhaustion for %q: %w", keyword, err)
	}
	if !at.Valid {
		return time.Time{}, ErrNotFound
	}
	return at.Time, nil
}

func scanKeywordSearch(row *sql.Row) (*models.KeywordSearch, error) {
	var s models.KeywordSearch
	var ordering string
	var windowStart, windowEnd sql.NullTime
	var windowDays sql.NullFloat64

	err := row.Scan(
		&s.ID, &s.Keyword, &ordering, &s.SearchedAt, &s.ResultsCount, &s.NewVideos,
		&s.Efficiency, &windowStart, &windowEnd, &windowDays, &s.Exhausted, &s.Tier,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan keyword search: %w", err)
	}
	finishKeywordSearch(&s, ordering, windowStart, windowEnd, windowDays)
	return &s, nil
}

func scanKeywordSearchRows(rows *sql.Rows) (*models.KeywordSearch, error) {
	var s models.KeywordSearch
	var ordering string
	var windowStart, windowEnd sql.NullTime
	var windowDays sql.NullFloat64

	err := rows.Scan(
		&s.ID, &s.Keyword, &ordering, &s.SearchedAt, &s.ResultsCount, &s.NewVideos,
		&s.Efficiency, &windowStart, &windowEnd, &windowDays, &s.Exhausted, &s.Tier,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan keyword search: %w", err)
	}
	finishKeywordSearch(&s, ordering, windowStart, windowEnd, windowDays)
	return &s, nil
}

func finishKeywordSearch(s *models.KeywordSearch, ordering string,
	windowStart, windowEnd sql.NullTime, windowDays sql.NullFloat64,
) {
	s.Ordering = models.SearchOrdering(ordering)
	if windowStart.Valid && windowEnd.Valid {
		s.Window = &models.Window{
			Start: windowStart.Time,
			End:   windowEnd.Time,
		}
		if windowDays.Valid {
			s.Window.Days = windowDays.Float64
		}
	}
}
