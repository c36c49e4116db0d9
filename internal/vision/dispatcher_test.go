// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package vision

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/tomtom215/custodia/internal/config"
	"github.com/tomtom215/custodia/internal/events"
	"github.com/tomtom215/custodia/internal/models"
	"github.com/tomtom215/custodia/internal/results"
)

type statusWrite struct {
	id     string
	status models.VideoStatus
}

type scanFailure struct {
	scanID  string
	message string
	kind    string
}

type completion struct {
	scanID  string
	costEUR float64
}

type fakeDispatchStore struct {
	claimResult bool
	claimErr    error
	claims      []string

	statusWrites []statusWrite
	statusErr    error

	resets []string

	record    *models.ScanRecord
	createErr error
	created   []string

	completions []completion
	completeErr error

	failures []scanFailure
	failErr  error

	configs    []models.IPConfig
	configsErr error

	queued    int64
	queuedErr error
}

func (f *fakeDispatchStore) ClaimVideoForProcessing(_ context.Context, id string, _ time.Time) (bool, error) {
	if f.claimErr != nil {
		return false, f.claimErr
	}
	f.claims = append(f.claims, id)
	return f.claimResult, nil
}

func (f *fakeDispatchStore) ResetProcessingVideo(_ context.Context, id string) (bool, error) {
	f.resets = append(f.resets, id)
	return true, nil
}

func (f *fakeDispatchStore) SetVideoStatus(_ context.Context, id string, status models.VideoStatus) error {
	if f.statusErr != nil {
		return f.statusErr
	}
	f.statusWrites = append(f.statusWrites, statusWrite{id: id, status: status})
	return nil
}

func (f *fakeDispatchStore) CreateScanRecord(_ context.Context, videoID string) (*models.ScanRecord, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, videoID)
	return f.record, nil
}

func (f *fakeDispatchStore) CompleteScanRecord(_ context.Context, scanID string, costEUR float64) error {
	if f.completeErr != nil {
		return f.completeErr
	}
	f.completions = append(f.completions, completion{scanID: scanID, costEUR: costEUR})
	return nil
}

func (f *fakeDispatchStore) FailScanRecord(_ context.Context, scanID, message, kind string) error {
	if f.failErr != nil {
		return f.failErr
	}
	f.failures = append(f.failures, scanFailure{scanID: scanID, message: message, kind: kind})
	return nil
}

func (f *fakeDispatchStore) EnabledIPConfigs(_ context.Context) ([]models.IPConfig, error) {
	if f.configsErr != nil {
		return nil, f.configsErr
	}
	return f.configs, nil
}

func (f *fakeDispatchStore) CountQueuedForVision(_ context.Context) (int64, error) {
	if f.queuedErr != nil {
		return 0, f.queuedErr
	}
	return f.queued, nil
}

type budgetUsage struct {
	videoID      string
	costEUR      float64
	inputTokens  int64
	outputTokens int64
}

type fakeBudget struct {
	affordable   bool
	affordErr    error
	affordAsked  []float64
	remaining    float64
	remainingErr error
	usages       []budgetUsage
	usageErr     error
}

func (f *fakeBudget) CanAfford(_ context.Context, estCostEUR float64) (bool, error) {
	if f.affordErr != nil {
		return false, f.affordErr
	}
	f.affordAsked = append(f.affordAsked, estCostEUR)
	return f.affordable, nil
}

func (f *fakeBudget) Remaining(_ context.Context) (float64, error) {
	if f.remainingErr != nil {
		return 0, f.remainingErr
	}
	return f.remaining, nil
}

func (f *fakeBudget) RecordUsage(_ context.Context, videoID string, actualCostEUR float64, inputTokens, outputTokens int64) error {
	if f.usageErr != nil {
		return f.usageErr
	}
	f.usages = append(f.usages, budgetUsage{
		videoID:      videoID,
		costEUR:      actualCostEUR,
		inputTokens:  inputTokens,
		outputTokens: outputTokens,
	})
	return nil
}

type fakeAnalyzer struct {
	analysis *Analysis
	err      error

	calls     int
	gotURL    string
	gotPrompt string
	gotSC     ScanConfig
}

func (f *fakeAnalyzer) Analyze(_ context.Context, videoURL, prompt string, sc ScanConfig) (*Analysis, error) {
	f.calls++
	f.gotURL = videoURL
	f.gotPrompt = prompt
	f.gotSC = sc
	if f.err != nil {
		return nil, f.err
	}
	return f.analysis, nil
}

type fakeSink struct {
	scans []results.Scan
	err   error
}

func (f *fakeSink) Process(_ context.Context, scan results.Scan) error {
	if f.err != nil {
		return f.err
	}
	f.scans = append(f.scans, scan)
	return nil
}

type fakeSource struct {
	ch  chan *message.Message
	err error
}

func (f *fakeSource) Subscribe(_ context.Context, _ string) (<-chan *message.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.ch, nil
}

func dispatchConfig() config.VisionConfig {
	return config.VisionConfig{
		MinScanPriority: 40,
		MaxFrames:       DefaultMaxFrames,
		Workers:         2,
		CallTimeout:     time.Minute,
		InputPricePerM:  0.30,
		OutputPricePerM: 2.50,
	}
}

func readyStore() *fakeDispatchStore {
	return &fakeDispatchStore{
		claimResult: true,
		record:      &models.ScanRecord{ScanID: "scan-1", VideoID: "dQw4w9WgXcQ", StartedAt: time.Now().UTC()},
		configs:     []models.IPConfig{{ID: "ip-crystal-fox", DisplayName: "Crystal Fox", Enabled: true}},
		queued:      10,
	}
}

func readyBudget() *fakeBudget {
	return &fakeBudget{affordable: true, remaining: 50}
}

func successfulAnalyzer() *fakeAnalyzer {
	return &fakeAnalyzer{analysis: &Analysis{
		Result:       takedownVisionResult(),
		InputTokens:  100_000,
		OutputTokens: 800,
		Attempts:     1,
	}}
}

func takedownVisionResult() *models.VisionResult {
	return &models.VisionResult{
		IPResults: []models.IPResult{{
			IPID:                   "ip-crystal-fox",
			ContainsInfringement:   true,
			InfringementLikelihood: 95,
			RecommendedAction:      models.ActionImmediateTakedown,
		}},
		OverallRecommendation: models.ActionImmediateTakedown,
	}
}

func newScanReadyMessage(t *testing.T, priority float64) *message.Message {
	t.Helper()
	ev := &events.ScanReady{
		SchemaVersion: events.SchemaVersion,
		EventID:       "evt-1",
		VideoID:       "dQw4w9WgXcQ",
		Metadata: events.VideoMetadata{
			VideoID:         "dQw4w9WgXcQ",
			URL:             "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
			Title:           "Crystal Fox compilation",
			DurationSeconds: 300,
			ViewCount:       12_345,
			ChannelID:       "UCbad000000000000000000a",
			RiskTier:        models.TierHigh,
			MatchedIPs:      []string{"ip-crystal-fox"},
			ScanPriority:    priority,
		},
		Timestamp: time.Now().UTC(),
	}
	payload, err := events.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return message.NewMessage("msg-1", payload)
}

// settled reports how the dispatcher settled a message.
func settled(msg *message.Message) string {
	select {
	case <-msg.Acked():
		return "ack"
	default:
	}
	select {
	case <-msg.Nacked():
		return "nack"
	default:
	}
	return "pending"
}

func TestDispatcherHappyPath(t *testing.T) {
	store := readyStore()
	budget := readyBudget()
	analyzer := successfulAnalyzer()
	sink := &fakeSink{}
	d := NewDispatcher(store, budget, analyzer, sink, nil, dispatchConfig())

	msg := newScanReadyMessage(t, 80)
	d.processMessage(context.Background(), msg)

	if got := settled(msg); got != "ack" {
		t.Fatalf("message settled = %s, want ack", got)
	}
	if len(store.claims) != 1 || store.claims[0] != "dQw4w9WgXcQ" {
		t.Errorf("claims = %v", store.claims)
	}
	if analyzer.calls != 1 {
		t.Fatalf("analyzer calls = %d, want 1", analyzer.calls)
	}
	if analyzer.gotURL != "https://www.youtube.com/watch?v=dQw4w9WgXcQ" {
		t.Errorf("analyzer url = %q", analyzer.gotURL)
	}
	if !strings.Contains(analyzer.gotPrompt, "Crystal Fox") {
		t.Error("prompt does not mention the matched IP")
	}
	// 300s at HIGH with a roomy budget: 0.5 base × 1.5 tier.
	if math.Abs(analyzer.gotSC.FPS-0.75) > 1e-9 {
		t.Errorf("scan FPS = %v, want 0.75", analyzer.gotSC.FPS)
	}

	wantCost := CostEUR(100_000, 800, Pricing{InputPerM: 0.30, OutputPerM: 2.50})
	if len(budget.usages) != 1 {
		t.Fatalf("budget usages = %d, want 1", len(budget.usages))
	}
	u := budget.usages[0]
	if u.videoID != "dQw4w9WgXcQ" || math.Abs(u.costEUR-wantCost) > 1e-12 {
		t.Errorf("budget usage = %+v, want cost %v", u, wantCost)
	}
	if u.inputTokens != 100_000 || u.outputTokens != 800 {
		t.Errorf("budget tokens = %d/%d", u.inputTokens, u.outputTokens)
	}

	if len(sink.scans) != 1 {
		t.Fatalf("processed scans = %d, want 1", len(sink.scans))
	}
	scan := sink.scans[0]
	if scan.VideoID != "dQw4w9WgXcQ" || scan.ScanID != "scan-1" || scan.Result == nil {
		t.Errorf("processed scan = %+v", scan)
	}
	if math.Abs(scan.CostEUR-wantCost) > 1e-12 {
		t.Errorf("scan cost = %v, want %v", scan.CostEUR, wantCost)
	}

	if len(store.completions) != 1 || store.completions[0].scanID != "scan-1" {
		t.Errorf("completions = %+v", store.completions)
	}
	if math.Abs(store.completions[0].costEUR-wantCost) > 1e-12 {
		t.Errorf("completion cost = %v, want %v", store.completions[0].costEUR, wantCost)
	}
	if len(store.failures) != 0 {
		t.Errorf("failures = %+v, want none", store.failures)
	}
	// The result protocol moves the video to analyzed; the dispatcher
	// itself writes no status on success.
	if len(store.statusWrites) != 0 {
		t.Errorf("status writes = %+v, want none", store.statusWrites)
	}
}

func TestDispatcherSkipsBelowMinimumPriority(t *testing.T) {
	store := readyStore()
	analyzer := &fakeAnalyzer{}
	d := NewDispatcher(store, readyBudget(), analyzer, &fakeSink{}, nil, dispatchConfig())

	msg := newScanReadyMessage(t, 10)
	d.processMessage(context.Background(), msg)

	if got := settled(msg); got != "ack" {
		t.Fatalf("message settled = %s, want ack", got)
	}
	// The claim still runs first so the skip write cannot clobber a video
	// another worker settled.
	if len(store.claims) != 1 {
		t.Errorf("claims = %v, want the gate to run after the claim", store.claims)
	}
	want := statusWrite{id: "dQw4w9WgXcQ", status: models.StatusSkippedLowPriority}
	if len(store.statusWrites) != 1 || store.statusWrites[0] != want {
		t.Errorf("status writes = %+v, want %+v", store.statusWrites, want)
	}
	if len(store.created) != 0 {
		t.Errorf("scan records created = %v, want none for a skip", store.created)
	}
	if analyzer.calls != 0 {
		t.Errorf("analyzer calls = %d, want 0", analyzer.calls)
	}
}

func TestDispatcherUnclaimableVideoAcks(t *testing.T) {
	store := readyStore()
	store.claimResult = false
	analyzer := &fakeAnalyzer{}
	d := NewDispatcher(store, readyBudget(), analyzer, &fakeSink{}, nil, dispatchConfig())

	msg := newScanReadyMessage(t, 80)
	d.processMessage(context.Background(), msg)

	if got := settled(msg); got != "ack" {
		t.Fatalf("message settled = %s, want ack for redelivered claim miss", got)
	}
	if len(store.statusWrites) != 0 || len(store.created) != 0 || analyzer.calls != 0 {
		t.Error("claim miss should touch nothing")
	}
}

func TestDispatcherBudgetExhaustedFailsTerminally(t *testing.T) {
	store := readyStore()
	budget := readyBudget()
	budget.affordable = false
	analyzer := &fakeAnalyzer{}
	d := NewDispatcher(store, budget, analyzer, &fakeSink{}, nil, dispatchConfig())

	msg := newScanReadyMessage(t, 80)
	d.processMessage(context.Background(), msg)

	if got := settled(msg); got != "ack" {
		t.Fatalf("message settled = %s, want ack (retrying cannot help today)", got)
	}
	if len(store.created) != 1 {
		t.Fatalf("scan records created = %d, want 1", len(store.created))
	}
	if len(store.failures) != 1 {
		t.Fatalf("failures = %+v, want 1", store.failures)
	}
	f := store.failures[0]
	if f.scanID != "scan-1" || f.kind != models.ErrKindBudgetExhausted {
		t.Errorf("failure = %+v, want scan-1 with budget kind", f)
	}
	want := statusWrite{id: "dQw4w9WgXcQ", status: models.StatusFailed}
	if len(store.statusWrites) != 1 || store.statusWrites[0] != want {
		t.Errorf("status writes = %+v, want %+v", store.statusWrites, want)
	}
	if analyzer.calls != 0 {
		t.Errorf("analyzer calls = %d, want 0", analyzer.calls)
	}
	if len(budget.affordAsked) != 1 || budget.affordAsked[0] <= 0 {
		t.Errorf("affordability asked with %v, want positive estimate", budget.affordAsked)
	}
}

func TestDispatcherNoEnabledConfigsFailsTerminally(t *testing.T) {
	store := readyStore()
	store.configs = nil
	d := NewDispatcher(store, readyBudget(), &fakeAnalyzer{}, &fakeSink{}, nil, dispatchConfig())

	msg := newScanReadyMessage(t, 80)
	d.processMessage(context.Background(), msg)

	if got := settled(msg); got != "ack" {
		t.Fatalf("message settled = %s, want ack", got)
	}
	if len(store.failures) != 1 || store.failures[0].kind != models.ErrKindInternal {
		t.Errorf("failures = %+v, want one internal failure", store.failures)
	}
}

func TestDispatcherAnalyzeFailureRecordsErrorKind(t *testing.T) {
	store := readyStore()
	budget := readyBudget()
	analyzer := &fakeAnalyzer{err: classified(models.ErrKindRateLimited, errors.New("quota exceeded"))}
	sink := &fakeSink{}
	d := NewDispatcher(store, budget, analyzer, sink, nil, dispatchConfig())

	msg := newScanReadyMessage(t, 80)
	d.processMessage(context.Background(), msg)

	if got := settled(msg); got != "ack" {
		t.Fatalf("message settled = %s, want ack (the scan record holds the failure)", got)
	}
	if len(store.failures) != 1 {
		t.Fatalf("failures = %+v, want 1", store.failures)
	}
	f := store.failures[0]
	if f.kind != models.ErrKindRateLimited {
		t.Errorf("failure kind = %q, want %q", f.kind, models.ErrKindRateLimited)
	}
	if !strings.Contains(f.message, "quota exceeded") {
		t.Errorf("failure message = %q", f.message)
	}
	want := statusWrite{id: "dQw4w9WgXcQ", status: models.StatusFailed}
	if len(store.statusWrites) != 1 || store.statusWrites[0] != want {
		t.Errorf("status writes = %+v, want %+v", store.statusWrites, want)
	}
	if len(sink.scans) != 0 || len(budget.usages) != 0 || len(store.completions) != 0 {
		t.Error("failed scan must not reach the sink, the ledger or completion")
	}
}

func TestDispatcherResultFailureFailsScan(t *testing.T) {
	store := readyStore()
	budget := readyBudget()
	sink := &fakeSink{err: errors.New("rollup unavailable")}
	d := NewDispatcher(store, budget, successfulAnalyzer(), sink, nil, dispatchConfig())

	msg := newScanReadyMessage(t, 80)
	d.processMessage(context.Background(), msg)

	if got := settled(msg); got != "ack" {
		t.Fatalf("message settled = %s, want ack", got)
	}
	if len(store.failures) != 1 || store.failures[0].kind != models.ErrKindInternal {
		t.Errorf("failures = %+v, want one internal failure", store.failures)
	}
	// The model call happened, so the spend is recorded even though the
	// result never landed.
	if len(budget.usages) != 1 {
		t.Errorf("budget usages = %d, want 1", len(budget.usages))
	}
	if len(store.completions) != 0 {
		t.Errorf("completions = %+v, want none", store.completions)
	}
}

func TestDispatcherTransientErrorsNack(t *testing.T) {
	t.Run("claim read", func(t *testing.T) {
		store := readyStore()
		store.claimErr = errors.New("connection reset")
		d := NewDispatcher(store, readyBudget(), &fakeAnalyzer{}, &fakeSink{}, nil, dispatchConfig())

		msg := newScanReadyMessage(t, 80)
		d.processMessage(context.Background(), msg)
		if got := settled(msg); got != "nack" {
			t.Fatalf("message settled = %s, want nack", got)
		}
	})

	t.Run("config load", func(t *testing.T) {
		store := readyStore()
		store.configsErr = errors.New("connection reset")
		d := NewDispatcher(store, readyBudget(), &fakeAnalyzer{}, &fakeSink{}, nil, dispatchConfig())

		msg := newScanReadyMessage(t, 80)
		d.processMessage(context.Background(), msg)
		if got := settled(msg); got != "nack" {
			t.Fatalf("message settled = %s, want nack", got)
		}
		if len(store.resets) != 1 {
			t.Errorf("resets = %v, want claim released before redelivery", store.resets)
		}
	})

	t.Run("budget read", func(t *testing.T) {
		store := readyStore()
		budget := readyBudget()
		budget.remainingErr = errors.New("connection reset")
		d := NewDispatcher(store, budget, &fakeAnalyzer{}, &fakeSink{}, nil, dispatchConfig())

		msg := newScanReadyMessage(t, 80)
		d.processMessage(context.Background(), msg)
		if got := settled(msg); got != "nack" {
			t.Fatalf("message settled = %s, want nack", got)
		}
		if len(store.resets) != 1 {
			t.Errorf("resets = %v, want claim released before redelivery", store.resets)
		}
	})

	t.Run("scan record create", func(t *testing.T) {
		store := readyStore()
		store.createErr = errors.New("connection reset")
		d := NewDispatcher(store, readyBudget(), &fakeAnalyzer{}, &fakeSink{}, nil, dispatchConfig())

		msg := newScanReadyMessage(t, 80)
		d.processMessage(context.Background(), msg)
		if got := settled(msg); got != "nack" {
			t.Fatalf("message settled = %s, want nack", got)
		}
		if len(store.resets) != 1 {
			t.Errorf("resets = %v, want claim released before redelivery", store.resets)
		}
	})
}

func TestDispatcherQueueReadFailureTolerated(t *testing.T) {
	store := readyStore()
	store.queuedErr = errors.New("connection reset")
	analyzer := successfulAnalyzer()
	d := NewDispatcher(store, readyBudget(), analyzer, &fakeSink{}, nil, dispatchConfig())

	msg := newScanReadyMessage(t, 80)
	d.processMessage(context.Background(), msg)

	if got := settled(msg); got != "ack" {
		t.Fatalf("message settled = %s, want ack", got)
	}
	if analyzer.calls != 1 {
		t.Errorf("analyzer calls = %d, want scan to proceed on a degraded queue read", analyzer.calls)
	}
}

func TestDispatcherMalformedMessageNacks(t *testing.T) {
	store := readyStore()
	d := NewDispatcher(store, readyBudget(), &fakeAnalyzer{}, &fakeSink{}, nil, dispatchConfig())

	msg := message.NewMessage("msg-bad", []byte("not an event"))
	d.processMessage(context.Background(), msg)
	if got := settled(msg); got != "nack" {
		t.Fatalf("message settled = %s, want nack", got)
	}

	// Decodes but fails validation: no channel id.
	payload, err := json.Marshal(&events.ScanReady{EventID: "evt-1", VideoID: "dQw4w9WgXcQ",
		Metadata: events.VideoMetadata{VideoID: "dQw4w9WgXcQ"}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	msg = message.NewMessage("msg-invalid", payload)
	d.processMessage(context.Background(), msg)
	if got := settled(msg); got != "nack" {
		t.Fatalf("message settled = %s, want nack", got)
	}
	if len(store.claims) != 0 {
		t.Errorf("claims = %v, want none for malformed messages", store.claims)
	}
}

func TestDispatcherRunDrainsStream(t *testing.T) {
	store := readyStore()
	source := &fakeSource{ch: make(chan *message.Message, 2)}
	cfg := dispatchConfig()
	cfg.Workers = 1
	d := NewDispatcher(store, readyBudget(), &fakeAnalyzer{}, &fakeSink{}, source, cfg)

	first := newScanReadyMessage(t, 10)
	second := newScanReadyMessage(t, 10)
	source.ch <- first
	source.ch <- second
	close(source.ch)

	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if settled(first) != "ack" || settled(second) != "ack" {
		t.Error("messages not settled after Run returned")
	}
	if len(store.claims) != 2 {
		t.Errorf("claims = %d, want 2", len(store.claims))
	}
}

func TestDispatcherRunSubscribeFailure(t *testing.T) {
	source := &fakeSource{err: errors.New("stream missing")}
	d := NewDispatcher(readyStore(), readyBudget(), &fakeAnalyzer{}, &fakeSink{}, source, dispatchConfig())

	if err := d.Run(context.Background()); err == nil {
		t.Fatal("Run() error = nil, want subscribe failure")
	}
}
