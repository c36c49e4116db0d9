// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package discovery

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/tomtom215/custodia/internal/config"
	"github.com/tomtom215/custodia/internal/models"
	"github.com/tomtom215/custodia/internal/quota"
)

// Tier sampling weights: proven keywords get half the draws.
const (
	tier1Weight = 0.50
	tier2Weight = 0.35
)

// Tier efficiency thresholds. Efficiency is new_videos/results at the
// keyword's most recent search; a keyword still surfacing mostly unseen
// videos stays hot.
const (
	tier1Efficiency = 0.30
	tier2Efficiency = 0.10
)

// QueryKind separates the two planned operations.
type QueryKind string

const (
	QueryKeyword QueryKind = "keyword"
	QueryChannel QueryKind = "channel"
)

// PlannedQuery is one budgeted search operation.
type PlannedQuery struct {
	Kind      QueryKind
	Keyword   string
	Ordering  models.SearchOrdering
	ChannelID string
	Tier      int
	Cost      int64
}

// Plan is a shuffled, budget-bounded set of queries for one run.
type Plan struct {
	Queries       []PlannedQuery
	ChannelScans  int
	KeywordCount  int
	EstimatedCost int64
}

// PlanSource is the read surface planning needs. *database.DB satisfies it.
type PlanSource interface {
	TopChannelsByVideoCount(ctx context.Context, limit int, notScannedSince time.Time) ([]models.Channel, error)
	LatestSearchesByKeyword(ctx context.Context) ([]models.KeywordSearch, error)
	EnabledIPConfigs(ctx context.Context) ([]models.IPConfig, error)
}

// Planner builds randomized discovery plans under a quota ceiling.
type Planner struct {
	store PlanSource
	cfg   config.DiscoveryConfig
	rng   *rand.Rand
	now   func() time.Time
}

// NewPlanner creates a planner. Like the window generator it seeds from
// the clock; two runs over the same state produce different plans.
func NewPlanner(store PlanSource, cfg config.DiscoveryConfig) *Planner {
	return &Planner{
		store: store,
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // math/rand is fine for plan sampling
		now:   time.Now,
	}
}

// BuildPlan reserves quota for channel scans, partitions keywords into
// tiers from their history, samples (keyword, ordering) queries by tier
// weight, and shuffles the result. customKeywords, when given, replace
// the config-derived keyword pool for this plan.
func (p *Planner) BuildPlan(ctx context.Context, maxQuota int64, customKeywords []string) (*Plan, error) {
	plan := &Plan{}
	remaining := maxQuota

	channelQueries, err := p.planChannelScans(ctx, remaining)
	if err != nil {
		return nil, err
	}
	plan.Queries = append(plan.Queries, channelQueries...)
	plan.ChannelScans = len(channelQueries)
	remaining -= int64(len(channelQueries)) * quota.CostChannelScan

	keywords, err := p.keywordPool(ctx, customKeywords)
	if err != nil {
		return nil, err
	}

	history, err := p.store.LatestSearchesByKeyword(ctx)
	if err != nil {
		return nil, fmt.Errorf("load keyword history: %w", err)
	}
	tiers := partitionTiers(keywords, history)
	exhausted := exhaustedKeywords(history, p.now().UTC())

	keywordQueries := p.sampleQueries(tiers, exhausted, remaining/quota.CostSearchPage)
	plan.Queries = append(plan.Queries, keywordQueries...)
	plan.KeywordCount = len(keywordQueries)

	p.rng.Shuffle(len(plan.Queries), func(i, j int) {
		plan.Queries[i], plan.Queries[j] = plan.Queries[j], plan.Queries[i]
	})
	for _, q := range plan.Queries {
		plan.EstimatedCost += q.Cost
	}
	return plan, nil
}

// planChannelScans reserves up to MaxChannelScans scans of 2 units each,
// skipping channels scanned inside the rescan window. No eligible
// channels means the whole budget goes to keyword search.
func (p *Planner) planChannelScans(ctx context.Context, remaining int64) ([]PlannedQuery, error) {
	limit := p.cfg.MaxChannelScans
	if limit <= 0 {
		return nil, nil
	}
	if affordable := remaining / quota.CostChannelScan; int64(limit) > affordable {
		limit = int(affordable)
	}
	if limit == 0 {
		return nil, nil
	}

	rescanDays := p.cfg.ChannelRescanDays
	if rescanDays <= 0 {
		rescanDays = 7
	}
	cutoff := p.now().UTC().AddDate(0, 0, -rescanDays)

	channels, err := p.store.TopChannelsByVideoCount(ctx, limit, cutoff)
	if err != nil {
		return nil, fmt.Errorf("plan channel scans: %w", err)
	}

	queries := make([]PlannedQuery, 0, len(channels))
	for _, ch := range channels {
		queries = append(queries, PlannedQuery{
			Kind:      QueryChannel,
			ChannelID: ch.ID,
			Cost:      quota.CostChannelScan,
		})
	}
	return queries, nil
}

// keywordPool collects the deduplicated keyword candidates, high buckets
// first so capping keeps the important ones.
func (p *Planner) keywordPool(ctx context.Context, custom []string) ([]string, error) {
	var raw []string
	if len(custom) > 0 {
		raw = custom
	} else {
		configs, err := p.store.EnabledIPConfigs(ctx)
		if err != nil {
			return nil, fmt.Errorf("load ip configs: %w", err)
		}
		for _, cfg := range configs {
			raw = append(raw, cfg.SearchKeywords.All()...)
		}
	}

	seen := make(map[string]bool, len(raw))
	pool := make([]string, 0, len(raw))
	for _, kw := range raw {
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		pool = append(pool, kw)
	}
	return pool, nil
}

// partitionTiers assigns each keyword a tier from its best recent
// efficiency across orderings. Never-searched keywords default to tier 3.
func partitionTiers(keywords []string, history []models.KeywordSearch) map[int][]string {
	best := make(map[string]float64, len(history))
	searched := make(map[string]bool, len(history))
	for _, h := range history {
		searched[h.Keyword] = true
		if h.Efficiency > best[h.Keyword] {
			best[h.Keyword] = h.Efficiency
		}
	}

	tiers := map[int][]string{
		models.KeywordTier1: nil,
		models.KeywordTier2: nil,
		models.KeywordTier3: nil,
	}
	for _, kw := range keywords {
		tier := models.KeywordTier3
		if searched[kw] {
			switch {
			case best[kw] >= tier1Efficiency:
				tier = models.KeywordTier1
			case best[kw] >= tier2Efficiency:
				tier = models.KeywordTier2
			}
		}
		tiers[tier] = append(tiers[tier], kw)
	}
	return tiers
}

// exhaustedKeywords collects keywords still inside the exhaustion TTL so
// sampling never wastes a draw on them. A flag under any ordering counts:
// the drained result space is the keyword's, not the pair's.
func exhaustedKeywords(history []models.KeywordSearch, now time.Time) map[string]bool {
	out := make(map[string]bool)
	for _, h := range history {
		if h.Exhausted && now.Sub(h.SearchedAt) < exhaustionTTL {
			out[h.Keyword] = true
		}
	}
	return out
}

// sampleQueries draws up to maxQueries distinct (keyword, ordering) pairs
// by tier weight. Drawing stops after maxQueries*10 attempts whatever was
// produced by then.
func (p *Planner) sampleQueries(tiers map[int][]string, exhausted map[string]bool, maxQueries int64) []PlannedQuery {
	if maxQueries <= 0 {
		return nil
	}
	total := len(tiers[models.KeywordTier1]) + len(tiers[models.KeywordTier2]) + len(tiers[models.KeywordTier3])
	if total == 0 {
		return nil
	}

	orderings := models.AllOrderings()
	drawn := make(map[string]bool, maxQueries)
	queries := make([]PlannedQuery, 0, maxQueries)

	maxAttempts := maxQueries * 10
	for attempts := int64(0); attempts < maxAttempts && int64(len(queries)) < maxQueries; attempts++ {
		tier := p.drawTier(tiers)
		pool := tiers[tier]
		if len(pool) == 0 {
			continue
		}
		keyword := pool[p.rng.Intn(len(pool))]
		if exhausted[keyword] {
			continue
		}
		ordering := orderings[p.rng.Intn(len(orderings))]

		key := pairKey(keyword, ordering)
		if drawn[key] {
			continue
		}
		drawn[key] = true

		queries = append(queries, PlannedQuery{
			Kind:     QueryKeyword,
			Keyword:  keyword,
			Ordering: ordering,
			Tier:     tier,
			Cost:     quota.CostSearchPage,
		})
	}
	return queries
}

// drawTier picks a tier by weight, falling through to the first non-empty
// tier when the drawn one has no keywords.
func (p *Planner) drawTier(tiers map[int][]string) int {
	r := p.rng.Float64()
	var pick int
	switch {
	case r < tier1Weight:
		pick = models.KeywordTier1
	case r < tier1Weight+tier2Weight:
		pick = models.KeywordTier2
	default:
		pick = models.KeywordTier3
	}
	if len(tiers[pick]) > 0 {
		return pick
	}
	for _, t := range []int{models.KeywordTier1, models.KeywordTier2, models.KeywordTier3} {
		if len(tiers[t]) > 0 {
			return t
		}
	}
	return pick
}

func pairKey(keyword string, ordering models.SearchOrdering) string {
	return keyword + "|" + string(ordering)
}
