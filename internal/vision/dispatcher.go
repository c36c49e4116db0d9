// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package vision

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/custodia/internal/config"
	"github.com/tomtom215/custodia/internal/events"
	"github.com/tomtom215/custodia/internal/logging"
	"github.com/tomtom215/custodia/internal/metrics"
	"github.com/tomtom215/custodia/internal/models"
	"github.com/tomtom215/custodia/internal/results"
)

// defaultCallTimeout bounds one model invocation, retries included, when
// the configuration does not say otherwise.
const defaultCallTimeout = 15 * time.Minute

// DispatcherStore is the persistence surface the dispatcher needs.
// *database.DB satisfies it.
type DispatcherStore interface {
	ClaimVideoForProcessing(ctx context.Context, id string, at time.Time) (bool, error)
	ResetProcessingVideo(ctx context.Context, id string) (bool, error)
	SetVideoStatus(ctx context.Context, id string, status models.VideoStatus) error
	CreateScanRecord(ctx context.Context, videoID string) (*models.ScanRecord, error)
	CompleteScanRecord(ctx context.Context, scanID string, costEUR float64) error
	FailScanRecord(ctx context.Context, scanID, message, kind string) error
	EnabledIPConfigs(ctx context.Context) ([]models.IPConfig, error)
	CountQueuedForVision(ctx context.Context) (int64, error)
}

// BudgetGate is the daily-spend ledger surface. *budget.Manager satisfies
// it.
type BudgetGate interface {
	CanAfford(ctx context.Context, estCostEUR float64) (bool, error)
	Remaining(ctx context.Context) (float64, error)
	RecordUsage(ctx context.Context, videoID string, actualCostEUR float64, inputTokens, outputTokens int64) error
}

// Analyzer invokes the vision model. *Client satisfies it.
type Analyzer interface {
	Analyze(ctx context.Context, videoURL, prompt string, sc ScanConfig) (*Analysis, error)
}

// ResultSink receives completed analyses. *results.Processor satisfies it.
type ResultSink interface {
	Process(ctx context.Context, scan results.Scan) error
}

// MessageSource delivers scan-ready messages. *events.Subscriber satisfies
// it.
type MessageSource interface {
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
}

// Dispatcher consumes scan-ready messages and runs one vision scan per
// message on a bounded worker pool. Workers own their in-flight scan
// exclusively: the conditional discovered → processing claim makes a
// redelivered or duplicated message a skip, not a second scan.
type Dispatcher struct {
	store   DispatcherStore
	budget  BudgetGate
	model   Analyzer
	sink    ResultSink
	source  MessageSource
	cfg     config.VisionConfig
	pricing Pricing

	now func() time.Time // test seam
}

// NewDispatcher wires a dispatcher from its dependencies.
func NewDispatcher(store DispatcherStore, budget BudgetGate, model Analyzer, sink ResultSink, source MessageSource, cfg config.VisionConfig) *Dispatcher {
	return &Dispatcher{
		store:  store,
		budget: budget,
		model:  model,
		sink:   sink,
		source: source,
		cfg:    cfg,
		pricing: Pricing{
			InputPerM:  cfg.InputPricePerM,
			OutputPerM: cfg.OutputPricePerM,
		},
		now: time.Now,
	}
}

// Run subscribes to the scan-ready subject and processes messages until
// the context is cancelled. The pool size bounds concurrent model calls;
// the transport and the health endpoints stay untouched by scan latency.
func (d *Dispatcher) Run(ctx context.Context) error {
	messages, err := d.source.Subscribe(ctx, events.SubjectScanReady)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", events.SubjectScanReady, err)
	}

	workers := d.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	logging.Info().
		Int("workers", workers).
		Float64("min_scan_priority", d.cfg.MinScanPriority).
		Msg("vision dispatcher started")

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range messages {
				d.processMessage(ctx, msg)
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// processMessage owns the ack decision. Terminal outcomes ack so the
// transport never replays them; only transient store failures before a
// scan record exists nack for redelivery.
func (d *Dispatcher) processMessage(ctx context.Context, msg *message.Message) {
	start := time.Now()
	metrics.RecordNATSConsume(events.SubjectScanReady)

	ev, err := events.Unmarshal[events.ScanReady](msg.Payload)
	if err == nil {
		if verr := ev.Validate(); verr != nil {
			err = verr
		}
	}
	if err != nil {
		metrics.RecordNATSParseFailed(events.SubjectScanReady)
		logging.Error().
			Err(err).
			Str("message_uuid", msg.UUID).
			Msg("dropping malformed scan-ready message")
		msg.Nack()
		return
	}

	if err := d.handleScanReady(ctx, ev); err != nil {
		logging.Error().
			Err(err).
			Str("video_id", ev.VideoID).
			Msg("scan-ready handling failed, message will be redelivered")
		msg.Nack()
		return
	}

	msg.Ack()
	metrics.RecordNATSProcessed(events.SubjectScanReady, time.Since(start))
}

// handleScanReady runs the scan lifecycle for one video. A nil return
// means the message is settled, whether the scan completed, failed
// terminally or was skipped; an error means nothing irreversible happened
// and redelivery is safe.
func (d *Dispatcher) handleScanReady(ctx context.Context, ev *events.ScanReady) error {
	meta := ev.Metadata

	claimed, err := d.store.ClaimVideoForProcessing(ctx, ev.VideoID, d.now().UTC())
	if err != nil {
		return fmt.Errorf("claim video %s: %w", ev.VideoID, err)
	}
	if !claimed {
		// Redelivery, a concurrent owner, or a video already settled.
		logging.Debug().
			Str("video_id", ev.VideoID).
			Msg("video not claimable, skipping scan")
		return nil
	}

	// The gate runs after the claim so the skip write can only ever land
	// on a video this worker owns, never on a settled one.
	if meta.ScanPriority < d.cfg.MinScanPriority {
		if err := d.store.SetVideoStatus(ctx, ev.VideoID, models.StatusSkippedLowPriority); err != nil {
			logging.Error().
				Err(err).
				Str("video_id", ev.VideoID).
				Msg("failed to mark video skipped")
		}
		metrics.RecordVisionScan("skipped", 0)
		logging.Info().
			Str("video_id", ev.VideoID).
			Float64("scan_priority", meta.ScanPriority).
			Float64("threshold", d.cfg.MinScanPriority).
			Msg("video below minimum scan priority")
		return nil
	}

	configs, err := d.matchedConfigs(ctx, meta.MatchedIPs)
	if err != nil {
		d.release(ctx, ev.VideoID)
		return err
	}

	sc, affordable, err := d.configureScan(ctx, meta)
	if err != nil {
		d.release(ctx, ev.VideoID)
		return err
	}

	rec, err := d.store.CreateScanRecord(ctx, ev.VideoID)
	if err != nil {
		d.release(ctx, ev.VideoID)
		return fmt.Errorf("create scan record for %s: %w", ev.VideoID, err)
	}

	if len(configs) == 0 {
		d.failScan(ctx, ev.VideoID, rec.ScanID, "no ip configurations enabled", models.ErrKindInternal)
		metrics.RecordVisionScan("failed", 0)
		return nil
	}
	if !affordable {
		d.failScan(ctx, ev.VideoID, rec.ScanID,
			fmt.Sprintf("daily budget cannot cover estimated %.4f EUR", sc.EstCostEUR),
			models.ErrKindBudgetExhausted)
		metrics.RecordVisionScan("failed", 0)
		logging.Warn().
			Str("video_id", ev.VideoID).
			Float64("est_cost_eur", sc.EstCostEUR).
			Msg("scan rejected by budget gate")
		return nil
	}

	d.scan(ctx, ev, rec, sc, configs)
	return nil
}

// scan invokes the model and settles the scan record, the video status,
// the budget ledger and the result protocol. Everything here is terminal
// for the message.
func (d *Dispatcher) scan(ctx context.Context, ev *events.ScanReady, rec *models.ScanRecord, sc ScanConfig, configs []models.IPConfig) {
	meta := ev.Metadata
	prompt := BuildPrompt(meta, configs)

	timeout := d.cfg.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	metrics.VisionSampledFPS.Observe(sc.FPS)
	metrics.TrackVisionInFlight(true)
	started := time.Now()
	analysis, err := d.model.Analyze(callCtx, meta.URL, prompt, sc)
	elapsed := time.Since(started)
	metrics.TrackVisionInFlight(false)

	if err != nil {
		kind := ErrorKindOf(err)
		d.failScan(ctx, ev.VideoID, rec.ScanID, err.Error(), kind)
		metrics.RecordVisionScan("failed", elapsed)
		logging.Error().
			Err(err).
			Str("video_id", ev.VideoID).
			Str("error_kind", kind).
			Dur("elapsed", elapsed).
			Msg("vision scan failed")
		return
	}

	cost := CostEUR(analysis.InputTokens, analysis.OutputTokens, d.pricing)
	metrics.RecordVisionTokens(analysis.InputTokens, analysis.OutputTokens)

	// The model call is already paid for, whatever happens downstream.
	if err := d.budget.RecordUsage(ctx, ev.VideoID, cost, analysis.InputTokens, analysis.OutputTokens); err != nil {
		logging.Error().
			Err(err).
			Str("video_id", ev.VideoID).
			Float64("cost_eur", cost).
			Msg("failed to record budget spend, ledger undercounts today")
	}

	err = d.sink.Process(ctx, results.Scan{
		VideoID:           ev.VideoID,
		ScanID:            rec.ScanID,
		Result:            analysis.Result,
		CostEUR:           cost,
		InputTokens:       analysis.InputTokens,
		OutputTokens:      analysis.OutputTokens,
		ProcessingSeconds: elapsed.Seconds(),
	})
	if err != nil {
		// Counters only move inside the result protocol, so failing the
		// scan here cannot leave them torn. The model call is already paid
		// for; settle the scan as failed instead of replaying it.
		d.failScan(ctx, ev.VideoID, rec.ScanID, "result processing failed: "+err.Error(), models.ErrKindInternal)
		metrics.RecordVisionScan("failed", elapsed)
		logging.Error().
			Err(err).
			Str("video_id", ev.VideoID).
			Str("scan_id", rec.ScanID).
			Msg("result processing failed")
		return
	}

	if err := d.store.CompleteScanRecord(ctx, rec.ScanID, cost); err != nil {
		logging.Error().
			Err(err).
			Str("scan_id", rec.ScanID).
			Msg("failed to close scan record, startup sweep will fail it")
	}
	metrics.RecordVisionScan("completed", elapsed)
	logging.Info().
		Str("video_id", ev.VideoID).
		Str("scan_id", rec.ScanID).
		Float64("cost_eur", cost).
		Int64("input_tokens", analysis.InputTokens).
		Int64("output_tokens", analysis.OutputTokens).
		Int("attempts", analysis.Attempts).
		Dur("elapsed", elapsed).
		Msg("vision scan completed")
}

// configureScan derives the sampling configuration from the queue and
// budget state, and pre-checks affordability. Queue-size reads degrade to
// zero on failure; the ledger read does not, because admitting a scan on
// an unknown budget could overspend.
func (d *Dispatcher) configureScan(ctx context.Context, meta events.VideoMetadata) (ScanConfig, bool, error) {
	queued, err := d.store.CountQueuedForVision(ctx)
	if err != nil {
		logging.Warn().
			Err(err).
			Msg("queue size unavailable, assuming single video for budget pressure")
		queued = 0
	}

	remaining, err := d.budget.Remaining(ctx)
	if err != nil {
		return ScanConfig{}, false, fmt.Errorf("read budget: %w", err)
	}

	sc := ComputeScanConfig(meta.DurationSeconds, meta.RiskTier, remaining, int(queued), d.cfg.MaxFrames, d.pricing)

	affordable, err := d.budget.CanAfford(ctx, sc.EstCostEUR)
	if err != nil {
		return ScanConfig{}, false, fmt.Errorf("budget gate: %w", err)
	}
	return sc, affordable, nil
}

// matchedConfigs loads the enabled IP configs the video matched during
// discovery.
func (d *Dispatcher) matchedConfigs(ctx context.Context, matchedIDs []string) ([]models.IPConfig, error) {
	enabled, err := d.store.EnabledIPConfigs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ip configs: %w", err)
	}
	if len(enabled) == 0 {
		return nil, nil
	}
	return matchedConfigs(enabled, matchedIDs), nil
}

// failScan settles a scan as failed and releases the video into the failed
// status. Store errors here are logged, not propagated: the scan record
// and the video may disagree briefly, and the startup sweep reconciles
// whatever a crash leaves behind.
func (d *Dispatcher) failScan(ctx context.Context, videoID, scanID, message, kind string) {
	if err := d.store.FailScanRecord(ctx, scanID, message, kind); err != nil {
		logging.Error().
			Err(err).
			Str("scan_id", scanID).
			Msg("failed to mark scan record failed")
	}
	if err := d.store.SetVideoStatus(ctx, videoID, models.StatusFailed); err != nil {
		logging.Error().
			Err(err).
			Str("video_id", videoID).
			Msg("failed to mark video failed")
	}
}

// release undoes a claim after a transient failure so redelivery can claim
// again.
func (d *Dispatcher) release(ctx context.Context, videoID string) {
	if _, err := d.store.ResetProcessingVideo(ctx, videoID); err != nil {
		logging.Error().
			Err(err).
			Str("video_id", videoID).
			Msg("failed to release claimed video")
	}
}
