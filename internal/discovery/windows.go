// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package discovery

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/tomtom215/custodia/internal/database"
	"github.com/tomtom215/custodia/internal/models"
)

// exhaustionTTL suppresses searches of a drained keyword. A short page
// under any ordering drains the keyword's whole result space, so the
// suppression covers all four orderings, searched or not. After the TTL
// elapses the keyword becomes eligible again.
const exhaustionTTL = 7 * 24 * time.Hour

// frequencyLookback is how many history rows feed the upload-rate estimate.
const frequencyLookback = 5

// targetNewPerQuery tunes the since-last-search branch: the closer the
// expected new-video count gets to a full page, the more certain that
// branch becomes.
const targetNewPerQuery = 50.0

// HistorySource is the search-history read surface the window generator
// needs. *database.DB satisfies it.
type HistorySource interface {
	LatestKeywordSearch(ctx context.Context, keyword string, ordering models.SearchOrdering) (*models.KeywordSearch, error)
	RecentKeywordSearches(ctx context.Context, keyword string, ordering models.SearchOrdering, n int) ([]models.KeywordSearch, error)
	KeywordExhaustedAt(ctx context.Context, keyword string) (time.Time, error)
}

// WindowGenerator decides whether a (keyword, ordering) pair should be
// searched and, for pairs with history, places a bounded publish-time
// window sized to the keyword's upload frequency.
type WindowGenerator struct {
	store HistorySource
	rng   *rand.Rand
	now   func() time.Time
}

// NewWindowGenerator creates a generator. Scheduling is deliberately
// randomized; the seed comes from the clock, never from configuration.
func NewWindowGenerator(store HistorySource) *WindowGenerator {
	return &WindowGenerator{
		store: store,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // math/rand is fine for window placement
		now:   time.Now,
	}
}

// ShouldSearch implements the search-or-skip contract. The first search of
// a pair is all-time (nil window); every later one is windowed. An
// exhausted keyword is skipped under every ordering until the TTL elapses,
// including orderings that never ran.
func (g *WindowGenerator) ShouldSearch(ctx context.Context, keyword string, ordering models.SearchOrdering) (bool, *models.Window, error) {
	exhaustedAt, err := g.store.KeywordExhaustedAt(ctx, keyword)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return false, nil, fmt.Errorf("exhaustion lookup %q: %w", keyword, err)
	}
	if err == nil && g.now().Sub(exhaustedAt) < exhaustionTTL {
		return false, nil, nil
	}

	latest, err := g.store.LatestKeywordSearch(ctx, keyword, ordering)
	if errors.Is(err, database.ErrNotFound) {
		return true, nil, nil
	}
	if err != nil {
		return false, nil, fmt.Errorf("history lookup %q/%s: %w", keyword, ordering, err)
	}

	window, err := g.generateWindow(ctx, keyword, ordering, latest)
	if err != nil {
		return false, nil, err
	}
	return true, window, nil
}

// generateWindow sizes a window from the keyword's upload frequency and
// places it by the offset branch.
func (g *WindowGenerator) generateWindow(ctx context.Context, keyword string, ordering models.SearchOrdering, latest *models.KeywordSearch) (*models.Window, error) {
	recent, err := g.store.RecentKeywordSearches(ctx, keyword, ordering, frequencyLookback)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("history scan %q/%s: %w", keyword, ordering, err)
	}

	uploadsPerDay := estimateUploadRate(recent)
	now := g.now().UTC()

	// Since-last-search branch: the more new uploads the gap should hold,
	// the likelier the window simply covers the gap.
	daysSince := now.Sub(latest.SearchedAt).Hours() / 24
	if daysSince > 0 {
		expectedNew := daysSince * uploadsPerDay
		p := expectedNew / targetNewPerQuery
		if p > 0.9 {
			p = 0.9
		}
		if g.rng.Float64() < p {
			return &models.Window{
				Start: latest.SearchedAt,
				End:   now,
				Days:  max(daysSince, 0.1),
			}, nil
		}
	}

	sizes := windowSizes(uploadsPerDay)
	days := sizes[g.rng.Intn(len(sizes))]
	end := now.AddDate(0, 0, -g.offsetDays())
	start := end.AddDate(0, 0, -days)

	return &models.Window{Start: start, End: end, Days: float64(days)}, nil
}

// offsetDays picks how far back the window ends: half the time it stays
// near the present for viral tracking, otherwise it sweeps the recent past
// or the archive.
func (g *WindowGenerator) offsetDays() int {
	r := g.rng.Float64()
	switch {
	case r < 0.50:
		return g.rng.Intn(61) // within the last 60 days
	case r < 0.80:
		return 30 + g.rng.Intn(336) // 30-365 days back
	default:
		return 365 + g.rng.Intn(1461) // 1-5 years back
	}
}

// estimateUploadRate derives uploads/day from recent history: summed
// results over summed window days, all-time rows counting as 365 days.
// The floor keeps sparse keywords from dividing everything to zero.
func estimateUploadRate(records []models.KeywordSearch) float64 {
	if len(records) == 0 {
		return 0.01
	}

	var results, days float64
	for _, r := range records {
		results += float64(r.ResultsCount)
		days += r.WindowDays()
	}
	if days <= 0 {
		return 0.01
	}

	rate := results / days
	if rate < 0.01 {
		rate = 0.01
	}
	return rate
}

// windowSizes returns the candidate window sizes for an upload frequency.
func windowSizes(uploadsPerDay float64) []int {
	switch {
	case uploadsPerDay > 5:
		return []int{7, 10, 14, 21}
	case uploadsPerDay >= 1:
		return []int{21, 30, 45, 60}
	case uploadsPerDay >= 0.1:
		return []int{60, 90, 120, 180}
	default:
		return []int{180, 270, 365}
	}
}
