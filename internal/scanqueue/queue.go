// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

// Package scanqueue orders discovered videos for analysis. The queue is
// priority-only: highest scan_priority first, tier precedence as the
// tiebreak, oldest discovery last. There is no time-based scheduling;
// the operational model is exhaust-budget-top-down.
package scanqueue

import (
	"context"
	"fmt"

	"github.com/tomtom215/custodia/internal/models"
)

// Store is the read surface the queue needs. *database.DB satisfies it.
type Store interface {
	TopUnscanned(ctx context.Context, limit int, minPriority float64) ([]models.Video, error)
}

// Queue hands out the next videos to scan.
type Queue struct {
	store Store
}

// New creates a queue over the given store.
func New(store Store) *Queue {
	return &Queue{store: store}
}

// Next returns up to n unscanned videos with scan_priority >= minPriority,
// best first. n <= 0 returns an empty batch.
func (q *Queue) Next(ctx context.Context, n int, minPriority float64) ([]models.Video, error) {
	if n <= 0 {
		return []models.Video{}, nil
	}
	videos, err := q.store.TopUnscanned(ctx, n, minPriority)
	if err != nil {
		return nil, fmt.Errorf("scan queue read: %w", err)
	}
	return videos, nil
}
