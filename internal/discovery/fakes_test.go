// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package discovery

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/custodia/internal/database"
	"github.com/tomtom215/custodia/internal/events"
	"github.com/tomtom215/custodia/internal/models"
	"github.com/tomtom215/custodia/internal/youtube"
)

// fakeStore is an in-memory SchedulerStore mirroring the DuckDB layer's
// semantics closely enough for scheduler, planner and window tests.
type fakeStore struct {
	mu sync.Mutex

	videos   map[string]*models.Video
	channels map[string]*models.Channel
	configs  []models.IPConfig
	history  []models.KeywordSearch
	velocity map[string]float64

	snapshots      map[string][]models.ViewSnapshot
	triggered      []string
	exhaustedMarks []string

	getVideoErr error
	upsertErr   error
	historyErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		videos:    make(map[string]*models.Video),
		channels:  make(map[string]*models.Channel),
		velocity:  make(map[string]float64),
		snapshots: make(map[string][]models.ViewSnapshot),
	}
}

func (f *fakeStore) GetVideo(_ context.Context, id string) (*models.Video, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getVideoErr != nil {
		return nil, f.getVideoErr
	}
	v, ok := f.videos[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	copied := *v
	return &copied, nil
}

func (f *fakeStore) UpsertVideo(_ context.Context, v *models.Video) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	copied := *v
	if existing, ok := f.videos[v.ID]; ok {
		// The real upsert never touches lifecycle, risk or analysis
		// columns on refresh; carry them over from the stored row.
		copied.Status = existing.Status
		copied.MatchedIPs = existing.MatchedIPs
		copied.VisionTriggeredAt = existing.VisionTriggeredAt
		copied.ProcessingStartedAt = existing.ProcessingStartedAt
		copied.LastAnalyzedAt = existing.LastAnalyzedAt
		copied.InitialRisk = existing.InitialRisk
		copied.CurrentRisk = existing.CurrentRisk
		copied.ScanPriority = existing.ScanPriority
		copied.PriorityTier = existing.PriorityTier
		copied.DiscoveredAt = existing.DiscoveredAt
		copied.ScanCount = existing.ScanCount
		copied.Analysis = existing.Analysis
	}
	f.videos[v.ID] = &copied
	return nil
}

func (f *fakeStore) AddMatchedIPs(_ context.Context, id string, ipIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.videos[id]
	if !ok {
		return database.ErrNotFound
	}
	seen := make(map[string]bool, len(v.MatchedIPs))
	for _, e := range v.MatchedIPs {
		seen[e] = true
	}
	for _, ip := range ipIDs {
		if !seen[ip] {
			v.MatchedIPs = append(v.MatchedIPs, ip)
		}
	}
	return nil
}

func (f *fakeStore) SetVisionTriggered(_ context.Context, ids []string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggered = append(f.triggered, ids...)
	for _, id := range ids {
		if v, ok := f.videos[id]; ok {
			t := at
			v.VisionTriggeredAt = &t
		}
	}
	return nil
}

func (f *fakeStore) GetChannel(_ context.Context, id string) (*models.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	copied := *ch
	return &copied, nil
}

func (f *fakeStore) UpsertChannelSeen(_ context.Context, id, title string, subscriberCount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[id]
	if !ok {
		ch = &models.Channel{ID: id, FirstSeenAt: time.Now().UTC()}
		f.channels[id] = ch
	}
	ch.Title = title
	ch.TotalVideosFound++
	if subscriberCount > 0 {
		ch.SubscriberCount = subscriberCount
	}
	return nil
}

func (f *fakeStore) AppendViewSnapshot(_ context.Context, s models.ViewSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots[s.VideoID] = append(f.snapshots[s.VideoID], s)
	return nil
}

func (f *fakeStore) VelocityFor(_ context.Context, videoID string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.velocity[videoID], nil
}

func (f *fakeStore) TopChannelsByVideoCount(_ context.Context, limit int, notScannedSince time.Time) ([]models.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	eligible := make([]models.Channel, 0, len(f.channels))
	for _, ch := range f.channels {
		if !notScannedSince.IsZero() && ch.LastScannedAt != nil && !ch.LastScannedAt.Before(notScannedSince) {
			continue
		}
		eligible = append(eligible, *ch)
	}
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].TotalVideosFound != eligible[j].TotalVideosFound {
			return eligible[i].TotalVideosFound > eligible[j].TotalVideosFound
		}
		return eligible[i].ChannelRisk > eligible[j].ChannelRisk
	})
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}
	return eligible, nil
}

func (f *fakeStore) LatestSearchesByKeyword(_ context.Context) ([]models.KeywordSearch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	latest := make(map[string]models.KeywordSearch)
	for _, h := range f.history {
		key := pairKey(h.Keyword, h.Ordering)
		if prev, ok := latest[key]; !ok || h.SearchedAt.After(prev.SearchedAt) {
			latest[key] = h
		}
	}
	out := make([]models.KeywordSearch, 0, len(latest))
	for _, h := range latest {
		out = append(out, h)
	}
	return out, nil
}

func (f *fakeStore) EnabledIPConfigs(_ context.Context) ([]models.IPConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.IPConfig, 0, len(f.configs))
	for _, cfg := range f.configs {
		if cfg.Enabled && !cfg.Deleted {
			out = append(out, cfg)
		}
	}
	return out, nil
}

func (f *fakeStore) LatestKeywordSearch(_ context.Context, keyword string, ordering models.SearchOrdering) (*models.KeywordSearch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	var found *models.KeywordSearch
	for i := range f.history {
		h := f.history[i]
		if h.Keyword != keyword || h.Ordering != ordering {
			continue
		}
		if found == nil || h.SearchedAt.After(found.SearchedAt) {
			found = &f.history[i]
		}
	}
	if found == nil {
		return nil, database.ErrNotFound
	}
	copied := *found
	return &copied, nil
}

func (f *fakeStore) RecentKeywordSearches(_ context.Context, keyword string, ordering models.SearchOrdering, n int) ([]models.KeywordSearch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	matches := make([]models.KeywordSearch, 0, n)
	for _, h := range f.history {
		if h.Keyword == keyword && h.Ordering == ordering {
			matches = append(matches, h)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].SearchedAt.After(matches[j].SearchedAt)
	})
	if len(matches) > n {
		matches = matches[:n]
	}
	return matches, nil
}

func (f *fakeStore) KeywordExhaustedAt(_ context.Context, keyword string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.historyErr != nil {
		return time.Time{}, f.historyErr
	}
	var at time.Time
	for _, h := range f.history {
		if h.Keyword == keyword && h.Exhausted && h.SearchedAt.After(at) {
			at = h.SearchedAt
		}
	}
	if at.IsZero() {
		return time.Time{}, database.ErrNotFound
	}
	return at, nil
}

func (f *fakeStore) AppendKeywordSearch(_ context.Context, s *models.KeywordSearch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.ID == "" {
		s.ID = fmt.Sprintf("search-%d", len(f.history)+1)
	}
	f.history = append(f.history, *s)
	return nil
}

func (f *fakeStore) MarkChannelScanned(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.channels[id]; ok {
		t := at
		ch.LastScannedAt = &t
	}
	return nil
}

func (f *fakeStore) CountVideosByTier(_ context.Context) (map[models.PriorityTier]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[models.PriorityTier]int64)
	for _, v := range f.videos {
		if v.Status == models.StatusDiscovered && !v.Deleted {
			counts[v.PriorityTier]++
		}
	}
	return counts, nil
}

func (f *fakeStore) MarkKeywordExhausted(_ context.Context, keyword string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exhaustedMarks = append(f.exhaustedMarks, keyword)
	latest := make(map[models.SearchOrdering]int)
	for i, h := range f.history {
		if h.Keyword != keyword {
			continue
		}
		if j, ok := latest[h.Ordering]; !ok || h.SearchedAt.After(f.history[j].SearchedAt) {
			latest[h.Ordering] = i
		}
	}
	for _, i := range latest {
		f.history[i].Exhausted = true
	}
	return nil
}

// fakeSearcher serves canned pages keyed by "keyword|order" and canned
// channel uploads keyed by channel id.
type fakeSearcher struct {
	mu sync.Mutex

	pages   map[string]*youtube.SearchPage
	uploads map[string][]youtube.SearchItem
	details map[string]youtube.Details

	searchErr  error
	uploadsErr error
	detailsErr error

	searchCalls  []youtube.SearchRequest
	uploadCalls  []string
	detailsCalls [][]string
}

func newFakeSearcher() *fakeSearcher {
	return &fakeSearcher{
		pages:   make(map[string]*youtube.SearchPage),
		uploads: make(map[string][]youtube.SearchItem),
		details: make(map[string]youtube.Details),
	}
}

func pageKey(query, order string) string { return query + "|" + order }

func (f *fakeSearcher) SearchPage(_ context.Context, req youtube.SearchRequest) (*youtube.SearchPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls = append(f.searchCalls, req)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if page, ok := f.pages[pageKey(req.Query, req.Order)]; ok {
		return page, nil
	}
	return &youtube.SearchPage{}, nil
}

func (f *fakeSearcher) VideoDetails(_ context.Context, ids []string) ([]youtube.Details, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detailsCalls = append(f.detailsCalls, append([]string{}, ids...))
	if f.detailsErr != nil {
		return nil, f.detailsErr
	}
	out := make([]youtube.Details, 0, len(ids))
	for _, id := range ids {
		if d, ok := f.details[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeSearcher) ChannelUploads(_ context.Context, channelID string, _ int64) ([]youtube.SearchItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadCalls = append(f.uploadCalls, channelID)
	if f.uploadsErr != nil {
		return nil, f.uploadsErr
	}
	return f.uploads[channelID], nil
}

// addVideo registers a searchable video with matching details.
func (f *fakeSearcher) addVideo(key string, d youtube.Details) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page, ok := f.pages[key]
	if !ok {
		page = &youtube.SearchPage{}
		f.pages[key] = page
	}
	page.Items = append(page.Items, youtube.SearchItem{
		VideoID:      d.VideoID,
		Title:        d.Title,
		ChannelID:    d.ChannelID,
		ChannelTitle: d.ChannelTitle,
		PublishedAt:  d.PublishedAt,
	})
	page.TotalResults = int64(len(page.Items))
	f.details[d.VideoID] = d
}

// fakeGate is an in-memory quota gate.
type fakeGate struct {
	mu      sync.Mutex
	daily   int64
	used    int64
	records map[string]int64
}

func newFakeGate(daily int64) *fakeGate {
	return &fakeGate{daily: daily, records: make(map[string]int64)}
}

func (g *fakeGate) CanSpend(_ context.Context, units int64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.used+units <= g.daily, nil
}

func (g *fakeGate) Record(_ context.Context, operation string, units int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.used += units
	g.records[operation] += units
	return nil
}

func (g *fakeGate) Remaining(_ context.Context) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.used >= g.daily {
		return 0, nil
	}
	return g.daily - g.used, nil
}

// capturePublisher records published events in order.
type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *capturePublisher) PublishEvent(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) byTopic(topic string) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, e := range p.events {
		if e.Topic() == topic {
			out = append(out, e)
		}
	}
	return out
}

// fakeQueue serves a fixed top-unscanned slice.
type fakeQueue struct {
	videos []models.Video
	err    error
}

func (q *fakeQueue) Next(_ context.Context, n int, _ float64) ([]models.Video, error) {
	if q.err != nil {
		return nil, q.err
	}
	if len(q.videos) > n {
		return q.videos[:n], nil
	}
	return q.videos, nil
}
