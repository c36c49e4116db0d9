// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/tomtom215/custodia/internal/config"
	"github.com/tomtom215/custodia/internal/events"
	"github.com/tomtom215/custodia/internal/logging"
	"github.com/tomtom215/custodia/internal/metrics"
	"github.com/tomtom215/custodia/internal/models"
	"github.com/tomtom215/custodia/internal/quota"
	"github.com/tomtom215/custodia/internal/youtube"
)

// ErrRunInProgress rejects a run while another one holds the scheduler.
// Runs share the quota ledger; overlapping them doubles nothing but noise.
var ErrRunInProgress = errors.New("discovery run already in progress")

// Run triggers, for metrics and logs.
const (
	TriggerCron   = "cron"
	TriggerManual = "manual"
)

// Searcher is the external search surface the scheduler drives.
// *youtube.Client satisfies it.
type Searcher interface {
	SearchPage(ctx context.Context, req youtube.SearchRequest) (*youtube.SearchPage, error)
	VideoDetails(ctx context.Context, ids []string) ([]youtube.Details, error)
	ChannelUploads(ctx context.Context, channelID string, max int64) ([]youtube.SearchItem, error)
}

// QuotaGate gates and records search-API spend. *quota.Manager satisfies it.
type QuotaGate interface {
	CanSpend(ctx context.Context, units int64) (bool, error)
	Record(ctx context.Context, operation string, units int64) error
	Remaining(ctx context.Context) (int64, error)
}

// ScanQueue hands out the top unscanned videos. *scanqueue.Queue satisfies it.
type ScanQueue interface {
	Next(ctx context.Context, n int, minPriority float64) ([]models.Video, error)
}

// SchedulerStore is the persistence surface a discovery run needs beyond
// what the processor already covers. *database.DB satisfies it.
type SchedulerStore interface {
	ProcessorStore
	PlanSource
	HistorySource

	AppendKeywordSearch(ctx context.Context, s *models.KeywordSearch) error
	MarkKeywordExhausted(ctx context.Context, keyword string) error
	MarkChannelScanned(ctx context.Context, id string, at time.Time) error
	CountVideosByTier(ctx context.Context) (map[models.PriorityTier]int64, error)
}

// RunOptions parameterize one discovery run.
type RunOptions struct {
	// Trigger labels the run for metrics: cron or manual.
	Trigger string

	// Keywords, when non-empty, replace the config-derived keyword pool.
	Keywords []string

	// MaxQuota, when positive, caps the units this run may plan against.
	// The effective budget is the smaller of it and the ledger's daily
	// remainder; zero means the remainder alone bounds the run.
	MaxQuota int64

	// Progress, when set, is called after every executed or skipped query.
	Progress func(done, total int, stats *RunStats)
}

// RunStats summarizes one discovery run.
type RunStats struct {
	NewVideos      int `json:"new_videos"`
	Rediscovered   int `json:"rediscovered"`
	AlreadyScanned int `json:"already_scanned"`
	UniqueChannels int `json:"unique_channels"`

	QueriesPlanned  int `json:"queries_planned"`
	QueriesExecuted int `json:"queries_executed"`
	QueriesSkipped  int `json:"queries_skipped"`
	QueriesFailed   int `json:"queries_failed"`
	ChannelsScanned int `json:"channels_scanned"`

	QuotaUsed      int64 `json:"quota_used"`
	QuotaExhausted bool  `json:"quota_exhausted"`

	Enqueued int           `json:"enqueued"`
	Duration time.Duration `json:"duration"`

	channelSet map[string]bool
}

// observe tallies one processed result into the run statistics.
func (st *RunStats) observe(res ProcessResult) {
	switch res.Outcome {
	case OutcomeNew:
		st.NewVideos++
	case OutcomeRediscovered:
		st.Rediscovered++
	case OutcomeAlreadyTriggered:
		st.AlreadyScanned++
	case OutcomeSkipped:
	}
	if res.ChannelID != "" {
		st.channelSet[res.ChannelID] = true
		st.UniqueChannels = len(st.channelSet)
	}
}

// Scheduler plans and executes discovery runs. One run at a time; the cron
// and the ops trigger share the instance.
type Scheduler struct {
	store     SchedulerStore
	search    Searcher
	quota     QuotaGate
	publisher Publisher
	queue     ScanQueue
	planner   *Planner
	windows   *WindowGenerator
	cfg       config.DiscoveryConfig

	running atomic.Bool
	now     func() time.Time
}

// NewScheduler wires a scheduler over the shared store and transport.
func NewScheduler(store SchedulerStore, search Searcher, gate QuotaGate, publisher Publisher, queue ScanQueue, cfg config.DiscoveryConfig) *Scheduler {
	return &Scheduler{
		store:     store,
		search:    search,
		quota:     gate,
		publisher: publisher,
		queue:     queue,
		planner:   NewPlanner(store, cfg),
		windows:   NewWindowGenerator(store),
		cfg:       cfg,
		now:       time.Now,
	}
}

// Run executes one full discovery cycle: plan, execute under the quota
// gate, then enqueue the top unscanned videos for vision analysis. The
// returned statistics are valid even when err is non-nil; every query that
// completed before the failure already persisted its state.
func (s *Scheduler) Run(ctx context.Context, opts RunOptions) (*RunStats, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer s.running.Store(false)

	if opts.Trigger == "" {
		opts.Trigger = TriggerManual
	}

	start := s.now()
	stats := &RunStats{channelSet: make(map[string]bool)}

	err := s.run(ctx, opts, stats)
	stats.Duration = s.now().Sub(start)

	outcome := "completed"
	switch {
	case err != nil:
		outcome = "failed"
	case stats.QuotaExhausted:
		outcome = "quota_exhausted"
	}
	metrics.RecordDiscoveryRun(opts.Trigger, outcome, stats.Duration)
	s.updateTierGauges(ctx)

	logging.Info().
		Str("trigger", opts.Trigger).
		Str("outcome", outcome).
		Int("new_videos", stats.NewVideos).
		Int("rediscovered", stats.Rediscovered).
		Int("already_scanned", stats.AlreadyScanned).
		Int("unique_channels", stats.UniqueChannels).
		Int64("quota_used", stats.QuotaUsed).
		Int("enqueued", stats.Enqueued).
		Dur("duration", stats.Duration).
		Msg("discovery run finished")
	return stats, err
}

// Running reports whether a run currently holds the scheduler. The ops
// trigger uses it to answer with a conflict instead of queueing work.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// RunScheduled executes one cron-triggered run over the configured keyword
// pool. A run already holding the scheduler is not an error here; the tick
// is skipped and the next one tries again.
func (s *Scheduler) RunScheduled(ctx context.Context) error {
	_, err := s.Run(ctx, RunOptions{Trigger: TriggerCron})
	if errors.Is(err, ErrRunInProgress) {
		logging.Warn().Msg("skipping scheduled discovery run, another run is in flight")
		return nil
	}
	return err
}

func (s *Scheduler) run(ctx context.Context, opts RunOptions, stats *RunStats) error {
	remaining, err := s.quota.Remaining(ctx)
	if err != nil {
		return fmt.Errorf("read quota: %w", err)
	}
	if opts.MaxQuota > 0 && opts.MaxQuota < remaining {
		remaining = opts.MaxQuota
	}
	if remaining <= 0 {
		stats.QuotaExhausted = true
		return nil
	}

	plan, err := s.planner.BuildPlan(ctx, remaining, opts.Keywords)
	if err != nil {
		return fmt.Errorf("build plan: %w", err)
	}
	stats.QueriesPlanned = len(plan.Queries)

	configs, err := s.store.EnabledIPConfigs(ctx)
	if err != nil {
		return fmt.Errorf("load ip configs: %w", err)
	}
	processor := NewProcessor(s.store, s.publisher, configs)

	logging.Info().
		Str("trigger", opts.Trigger).
		Int("queries", len(plan.Queries)).
		Int("channel_scans", plan.ChannelScans).
		Int64("estimated_cost", plan.EstimatedCost).
		Int64("quota_remaining", remaining).
		Msg("discovery run starting")

	for i, q := range plan.Queries {
		if err := ctx.Err(); err != nil {
			return err
		}

		ok, err := s.quota.CanSpend(ctx, q.Cost)
		if err != nil {
			return fmt.Errorf("quota gate: %w", err)
		}
		if !ok {
			stats.QuotaExhausted = true
			break
		}

		switch q.Kind {
		case QueryKeyword:
			err = s.runKeywordQuery(ctx, q, processor, stats)
		case QueryChannel:
			err = s.runChannelScan(ctx, q, processor, stats)
		}
		if errors.Is(err, youtube.ErrQuotaExceeded) {
			// The API sees the shared project quota, not just ours;
			// believe it and stop burning requests.
			stats.QuotaExhausted = true
			break
		}
		if err != nil {
			stats.QueriesFailed++
			logging.Error().Err(err).
				Str("kind", string(q.Kind)).
				Str("keyword", q.Keyword).
				Str("ordering", string(q.Ordering)).
				Str("channel_id", q.ChannelID).
				Msg("discovery query failed")
		}

		if opts.Progress != nil {
			opts.Progress(i+1, len(plan.Queries), stats)
		}
	}

	return s.enqueueUnscanned(ctx, stats)
}

// runKeywordQuery executes one (keyword, ordering) search page. The page is
// charged when the API attempts it, results or not; only a quota rejection
// leaves the ledger untouched.
func (s *Scheduler) runKeywordQuery(ctx context.Context, q PlannedQuery, processor *Processor, stats *RunStats) error {
	ok, window, err := s.windows.ShouldSearch(ctx, q.Keyword, q.Ordering)
	if err != nil {
		return err
	}
	if !ok {
		stats.QueriesSkipped++
		return nil
	}

	req := youtube.SearchRequest{Query: q.Keyword, Order: string(q.Ordering)}
	if window != nil {
		req.PublishedAfter = window.Start
		req.PublishedBefore = window.End
	}

	page, searchErr := s.search.SearchPage(ctx, req)
	if !errors.Is(searchErr, youtube.ErrQuotaExceeded) {
		s.charge(ctx, quota.OpSearch, quota.CostSearchPage, stats)
	}
	if searchErr != nil {
		return searchErr
	}
	stats.QueriesExecuted++

	ids := make([]string, 0, len(page.Items))
	for _, item := range page.Items {
		if item.VideoID != "" {
			ids = append(ids, item.VideoID)
		}
	}
	newCount, err := s.fetchAndProcess(ctx, ids, processor, stats)
	if err != nil {
		return err
	}

	exhausted := len(page.Items) < youtube.PageSize
	record := &models.KeywordSearch{
		Keyword:      q.Keyword,
		Ordering:     q.Ordering,
		SearchedAt:   s.now().UTC(),
		ResultsCount: len(page.Items),
		NewVideos:    newCount,
		Window:       window,
		Exhausted:    exhausted,
		Tier:         q.Tier,
	}
	if record.ResultsCount > 0 {
		record.Efficiency = float64(newCount) / float64(record.ResultsCount)
	}
	if err := s.store.AppendKeywordSearch(ctx, record); err != nil {
		return fmt.Errorf("record search history: %w", err)
	}
	if exhausted {
		// A short page means the keyword is drained for every ordering,
		// not just this one.
		if err := s.store.MarkKeywordExhausted(ctx, q.Keyword); err != nil {
			return fmt.Errorf("mark keyword exhausted: %w", err)
		}
		logging.Debug().
			Str("keyword", q.Keyword).
			Int("results", record.ResultsCount).
			Msg("keyword exhausted")
	}

	metrics.RecordKeywordSearch(record.ResultsCount, newCount)
	return nil
}

// runChannelScan lists a channel's recent uploads for 2 units and runs the
// results through the processor.
func (s *Scheduler) runChannelScan(ctx context.Context, q PlannedQuery, processor *Processor, stats *RunStats) error {
	items, scanErr := s.search.ChannelUploads(ctx, q.ChannelID, youtube.PageSize)
	if !errors.Is(scanErr, youtube.ErrQuotaExceeded) {
		s.charge(ctx, quota.OpChannelScan, quota.CostChannelScan, stats)
	}
	if scanErr != nil {
		return scanErr
	}
	stats.QueriesExecuted++

	ids := make([]string, 0, len(items))
	for _, item := range items {
		if item.VideoID != "" {
			ids = append(ids, item.VideoID)
		}
	}
	newCount, err := s.fetchAndProcess(ctx, ids, processor, stats)
	if err != nil {
		return err
	}

	if err := s.store.MarkChannelScanned(ctx, q.ChannelID, s.now().UTC()); err != nil {
		return fmt.Errorf("mark channel scanned: %w", err)
	}
	stats.ChannelsScanned++
	metrics.RecordChannelScan(len(items), newCount)
	return nil
}

// fetchAndProcess enriches the ids with a details fetch, charges it, and
// runs every item through the per-result pipeline. A malformed item never
// stops the batch.
func (s *Scheduler) fetchAndProcess(ctx context.Context, ids []string, processor *Processor, stats *RunStats) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	cost := quota.DetailsCost(len(ids))
	ok, err := s.quota.CanSpend(ctx, cost)
	if err != nil {
		return 0, fmt.Errorf("quota gate: %w", err)
	}
	if !ok {
		stats.QuotaExhausted = true
		return 0, nil
	}

	details, fetchErr := s.search.VideoDetails(ctx, ids)
	if !errors.Is(fetchErr, youtube.ErrQuotaExceeded) {
		s.charge(ctx, quota.OpDetails, cost, stats)
	}
	if fetchErr != nil {
		return 0, fetchErr
	}

	newCount := 0
	for _, d := range details {
		res, err := processor.Process(ctx, d)
		if err != nil {
			logging.Error().Err(err).
				Str("video_id", d.VideoID).
				Msg("result processing failed")
			continue
		}
		if res.Outcome == OutcomeNew {
			newCount++
		}
		stats.observe(res)
	}
	return newCount, nil
}

// updateTierGauges refreshes the per-tier queue depth after a run. All
// five tiers are written so a drained tier reads zero instead of its
// previous value.
func (s *Scheduler) updateTierGauges(ctx context.Context) {
	counts, err := s.store.CountVideosByTier(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("tier distribution read failed")
		return
	}
	byTier := map[string]int64{
		string(models.TierCritical): 0,
		string(models.TierHigh):     0,
		string(models.TierMedium):   0,
		string(models.TierLow):      0,
		string(models.TierVeryLow):  0,
	}
	for tier, n := range counts {
		byTier[string(tier)] = n
	}
	metrics.UpdateTierDistribution(byTier)
}

// charge records spent units. A ledger write failure is logged, never
// fatal: losing a ledger increment risks a mild overshoot tomorrow, while
// failing the query would discard results already paid for.
func (s *Scheduler) charge(ctx context.Context, operation string, units int64, stats *RunStats) {
	if err := s.quota.Record(ctx, operation, units); err != nil {
		logging.Error().Err(err).
			Str("operation", operation).
			Int64("units", units).
			Msg("quota ledger write failed")
	}
	stats.QuotaUsed += units
}

// enqueueUnscanned publishes scan-ready events for the top unscanned videos
// and marks them triggered. The run never waits for analysis; the
// dispatcher owns everything past the publish.
func (s *Scheduler) enqueueUnscanned(ctx context.Context, stats *RunStats) error {
	limit := s.cfg.MaxVideosToScan
	if limit <= 0 {
		return nil
	}

	videos, err := s.queue.Next(ctx, limit, 0)
	if err != nil {
		return fmt.Errorf("read scan queue: %w", err)
	}
	if len(videos) == 0 {
		return nil
	}

	published := make([]string, 0, len(videos))
	for i := range videos {
		event := events.NewScanReady(&videos[i])
		if err := s.publisher.PublishEvent(ctx, event); err != nil {
			logging.Error().Err(err).
				Str("video_id", videos[i].ID).
				Msg("scan-ready publish failed")
			continue
		}
		published = append(published, videos[i].ID)
	}
	if len(published) > 0 {
		if err := s.store.SetVisionTriggered(ctx, published, s.now().UTC()); err != nil {
			return fmt.Errorf("mark vision triggered: %w", err)
		}
	}
	stats.Enqueued = len(published)
	return nil
}
