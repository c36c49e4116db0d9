// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tomtom215/custodia/internal/models"
)

func TestAppendAndLatestKeywordSearch(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	first := &models.KeywordSearch{
		Keyword:      "captain adventures",
		Ordering:     models.OrderDate,
		SearchedAt:   base.Add(-48 * time.Hour),
		ResultsCount: 50,
		NewVideos:    20,
		Efficiency:   0.4,
		Tier:         models.KeywordTier1,
	}
	second := &models.KeywordSearch{
		Keyword:      "captain adventures",
		Ordering:     models.OrderDate,
		SearchedAt:   base,
		ResultsCount: 50,
		NewVideos:    5,
		Efficiency:   0.1,
		Window: &models.Window{
			Start: base.Add(-14 * 24 * time.Hour),
			End:   base,
			Days:  14,
		},
		Tier: models.KeywordTier1,
	}
	for _, s := range []*models.KeywordSearch{first, second} {
		if err := db.AppendKeywordSearch(ctx, s); err != nil {
			t.Fatalf("AppendKeywordSearch() error = %v", err)
		}
	}

	got, err := db.LatestKeywordSearch(ctx, "captain adventures", models.OrderDate)
	if err != nil {
		t.Fatalf("LatestKeywordSearch() error = %v", err)
	}
	if !got.SearchedAt.Equal(base) {
		t.Errorf("SearchedAt = %v, want %v", got.SearchedAt, base)
	}
	if got.Window == nil {
		t.Fatal("Window = nil, want the 14-day window")
	}
	if got.Window.Days != 14 {
		t.Errorf("Window.Days = %v, want 14", got.Window.Days)
	}

	// The all-time record round-trips with no window.
	older, err := db.RecentKeywordSearches(ctx, "captain adventures", models.OrderDate, 5)
	if err != nil {
		t.Fatalf("RecentKeywordSearches() error = %v", err)
	}
	if len(older) != 2 {
		t.Fatalf("RecentKeywordSearches() returned %d, want 2", len(older))
	}
	if older[1].Window != nil {
		t.Errorf("all-time record Window = %+v, want nil", older[1].Window)
	}
	if older[1].WindowDays() != 365 {
		t.Errorf("all-time WindowDays() = %v, want 365", older[1].WindowDays())
	}

	_, err = db.LatestKeywordSearch(ctx, "never searched", models.OrderDate)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("LatestKeywordSearch(unsearched) error = %v, want ErrNotFound", err)
	}
}

func TestLatestSearchesByKeyword(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	// Two keywords, one with two generations of history for the same pair.
	seeds := []*models.KeywordSearch{
		{Keyword: "k1", Ordering: models.OrderDate, SearchedAt: base.Add(-2 * time.Hour), Efficiency: 0.9, Tier: 1},
		{Keyword: "k1", Ordering: models.OrderDate, SearchedAt: base, Efficiency: 0.1, Tier: 2},
		{Keyword: "k1", Ordering: models.OrderViewCount, SearchedAt: base.Add(-time.Hour), Efficiency: 0.5, Tier: 1},
		{Keyword: "k2", Ordering: models.OrderRating, SearchedAt: base.Add(-time.Minute), Efficiency: 0.3, Tier: 3},
	}
	for _, s := range seeds {
		if err := db.AppendKeywordSearch(ctx, s); err != nil {
			t.Fatalf("AppendKeywordSearch() error = %v", err)
		}
	}

	got, err := db.LatestSearchesByKeyword(ctx)
	if err != nil {
		t.Fatalf("LatestSearchesByKeyword() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("returned %d rows, want 3 (one per pair)", len(got))
	}
	for _, s := range got {
		if s.Keyword == "k1" && s.Ordering == models.OrderDate {
			if s.Efficiency != 0.1 {
				t.Errorf("k1/date efficiency = %v, want latest row's 0.1", s.Efficiency)
			}
		}
	}
}

func TestMarkKeywordExhausted(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	// History for two orderings; the older date row must stay untouched.
	seeds := []*models.KeywordSearch{
		{Keyword: "drained", Ordering: models.OrderDate, SearchedAt: base.Add(-24 * time.Hour), Tier: 2},
		{Keyword: "drained", Ordering: models.OrderDate, SearchedAt: base, Tier: 2},
		{Keyword: "drained", Ordering: models.OrderRelevance, SearchedAt: base, Tier: 2},
		{Keyword: "other", Ordering: models.OrderDate, SearchedAt: base, Tier: 2},
	}
	for _, s := range seeds {
		if err := db.AppendKeywordSearch(ctx, s); err != nil {
			t.Fatalf("AppendKeywordSearch() error = %v", err)
		}
	}

	if err := db.MarkKeywordExhausted(ctx, "drained"); err != nil {
		t.Fatalf("MarkKeywordExhausted() error = %v", err)
	}

	latest, err := db.LatestKeywordSearch(ctx, "drained", models.OrderDate)
	if err != nil {
		t.Fatalf("LatestKeywordSearch() error = %v", err)
	}
	if !latest.Exhausted {
		t.Error("latest date row not marked exhausted")
	}
	latest, err = db.LatestKeywordSearch(ctx, "drained", models.OrderRelevance)
	if err != nil {
		t.Fatalf("LatestKeywordSearch() error = %v", err)
	}
	if !latest.Exhausted {
		t.Error("latest relevance row not marked exhausted")
	}

	history, err := db.RecentKeywordSearches(ctx, "drained", models.OrderDate, 5)
	if err != nil {
		t.Fatalf("RecentKeywordSearches() error = %v", err)
	}
	if history[1].Exhausted {
		t.Error("older history row was marked exhausted")
	}

	other, err := db.LatestKeywordSearch(ctx, "other", models.OrderDate)
	if err != nil {
		t.Fatalf("LatestKeywordSearch() error = %v", err)
	}
	if other.Exhausted {
		t.Error("unrelated keyword was marked exhausted")
	}
}

func TestKeywordExhaustedAt(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	// One searched ordering carries the flag; the lookup answers for the
	// keyword as a whole, so orderings without history are covered too.
	seeds := []*models.KeywordSearch{
		{Keyword: "drained", Ordering: models.OrderDate, SearchedAt: base.Add(-time.Hour), Tier: 2},
		{Keyword: "fresh", Ordering: models.OrderDate, SearchedAt: base, Tier: 2},
	}
	for _, s := range seeds {
		if err := db.AppendKeywordSearch(ctx, s); err != nil {
			t.Fatalf("AppendKeywordSearch() error = %v", err)
		}
	}
	if err := db.MarkKeywordExhausted(ctx, "drained"); err != nil {
		t.Fatalf("MarkKeywordExhausted() error = %v", err)
	}

	at, err := db.KeywordExhaustedAt(ctx, "drained")
	if err != nil {
		t.Fatalf("KeywordExhaustedAt() error = %v", err)
	}
	if !at.Equal(base.Add(-time.Hour)) {
		t.Errorf("KeywordExhaustedAt() = %v, want %v", at, base.Add(-time.Hour))
	}

	if _, err := db.KeywordExhaustedAt(ctx, "fresh"); !errors.Is(err, ErrNotFound) {
		t.Errorf("KeywordExhaustedAt(fresh) error = %v, want ErrNotFound", err)
	}
	if _, err := db.KeywordExhaustedAt(ctx, "never searched"); !errors.Is(err, ErrNotFound) {
		t.Errorf("KeywordExhaustedAt(never searched) error = %v, want ErrNotFound", err)
	}
}
