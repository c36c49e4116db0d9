// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package risk

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/tomtom215/custodia/internal/database"
	"github.com/tomtom215/custodia/internal/events"
	"github.com/tomtom215/custodia/internal/models"
)

type videoWrite struct {
	id       string
	risk     float64
	priority float64
	tier     models.PriorityTier
}

type fakeStore struct {
	videos   map[string]*models.Video
	channels map[string]*models.Channel
	configs  map[string]*models.IPConfig

	videoWrites   []videoWrite
	channelWrites map[string]float64
	writeOrder    []string

	getVideoErr error
	unchanged   bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		videos:        make(map[string]*models.Video),
		channels:      make(map[string]*models.Channel),
		configs:       make(map[string]*models.IPConfig),
		channelWrites: make(map[string]float64),
	}
}

func (f *fakeStore) GetVideo(_ context.Context, id string) (*models.Video, error) {
	if f.getVideoErr != nil {
		return nil, f.getVideoErr
	}
	v, ok := f.videos[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return v, nil
}

func (f *fakeStore) GetChannel(_ context.Context, id string) (*models.Channel, error) {
	ch, ok := f.channels[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return ch, nil
}

func (f *fakeStore) GetIPConfig(_ context.Context, id string) (*models.IPConfig, error) {
	cfg, ok := f.configs[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return cfg, nil
}

func (f *fakeStore) UpdateVideoRisk(_ context.Context, id string, risk, priority float64, tier models.PriorityTier, _ time.Time) (bool, error) {
	f.videoWrites = append(f.videoWrites, videoWrite{id: id, risk: risk, priority: priority, tier: tier})
	f.writeOrder = append(f.writeOrder, "video:"+id)
	return !f.unchanged, nil
}

func (f *fakeStore) UpdateChannelRisk(_ context.Context, id string, risk float64) error {
	f.channelWrites[id] = risk
	f.writeOrder = append(f.writeOrder, "channel:"+id)
	return nil
}

func newTestEngine(store Store) *Engine {
	e := NewEngine(store)
	e.now = func() time.Time { return scoreNow }
	return e
}

// engineVideo scores 70 against scoreNow, see TestVideoRiskSumsFactors.
func engineVideo() *models.Video {
	return &models.Video{
		ID:              "dQw4w9WgXcQ",
		ChannelID:       "UCbad000000000000000000a",
		MatchedIPs:      []string{"ip-plain"},
		ViewCount:       150_000,
		LikeCount:       2_000,
		CommentCount:    1_000,
		ViewVelocity:    120,
		PublishedAt:     daysAgo(200),
		DurationSeconds: 720,
	}
}

// engineChannel scores 66, see TestChannelRisk.
func engineChannel() *models.Channel {
	return &models.Channel{
		ID:                     "UCbad000000000000000000a",
		VideosScanned:          10,
		ConfirmedInfringements: 5,
		SubscriberCount:        120_000,
		TotalInfringingViews:   600_000,
	}
}

func TestRescoreVideo(t *testing.T) {
	store := newFakeStore()
	store.videos["dQw4w9WgXcQ"] = engineVideo()
	store.channels["UCbad000000000000000000a"] = engineChannel()
	store.configs["ip-plain"] = &models.IPConfig{ID: "ip-plain"}

	engine := newTestEngine(store)

	changed, priority, err := engine.RescoreVideo(context.Background(), "dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("RescoreVideo() error = %v", err)
	}
	if !changed {
		t.Error("RescoreVideo() changed = false, want true")
	}
	if math.Abs(priority-68.4) > 1e-9 {
		t.Errorf("RescoreVideo() priority = %v, want 68.4", priority)
	}

	if len(store.videoWrites) != 1 {
		t.Fatalf("video writes = %d, want 1", len(store.videoWrites))
	}
	w := store.videoWrites[0]
	if w.risk != 70 {
		t.Errorf("written video risk = %v, want 70", w.risk)
	}
	if w.tier != models.TierMedium {
		t.Errorf("written tier = %v, want %v", w.tier, models.TierMedium)
	}
}

func TestRescoreVideoWithoutChannel(t *testing.T) {
	store := newFakeStore()
	store.videos["dQw4w9WgXcQ"] = engineVideo()
	store.configs["ip-plain"] = &models.IPConfig{ID: "ip-plain"}

	engine := newTestEngine(store)

	_, priority, err := engine.RescoreVideo(context.Background(), "dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("RescoreVideo() error = %v", err)
	}

	// Channel risk contributes zero until the rollup exists.
	if math.Abs(priority-42) > 1e-9 {
		t.Errorf("RescoreVideo() priority = %v, want 42", priority)
	}
}

func TestRescoreVideoSkipsDeletedConfigs(t *testing.T) {
	store := newFakeStore()
	video := engineVideo()
	video.MatchedIPs = []string{"ip-gone", "ip-plain"}
	store.videos[video.ID] = video
	store.configs["ip-plain"] = &models.IPConfig{ID: "ip-plain"}

	engine := newTestEngine(store)

	if _, _, err := engine.RescoreVideo(context.Background(), video.ID); err != nil {
		t.Fatalf("RescoreVideo() error = %v", err)
	}

	// Two matched ids keep the base at 20 even though one config is gone.
	if len(store.videoWrites) != 1 {
		t.Fatalf("video writes = %d, want 1", len(store.videoWrites))
	}
	if got := store.videoWrites[0].risk; got != 75 {
		t.Errorf("written video risk = %v, want 75", got)
	}
}

func TestHandleVideoDiscoveredMissingVideo(t *testing.T) {
	store := newFakeStore()
	engine := newTestEngine(store)

	event := &events.VideoDiscovered{EventID: "evt-1", VideoID: "gone00000000"}
	if err := engine.HandleVideoDiscovered(context.Background(), event); err != nil {
		t.Fatalf("HandleVideoDiscovered() error = %v, want nil for missing video", err)
	}
	if len(store.videoWrites) != 0 {
		t.Errorf("video writes = %d, want 0", len(store.videoWrites))
	}
}

func TestHandleVideoDiscoveredPropagatesStoreErrors(t *testing.T) {
	store := newFakeStore()
	store.getVideoErr = errors.New("connection reset")
	engine := newTestEngine(store)

	event := &events.VideoDiscovered{EventID: "evt-1", VideoID: "dQw4w9WgXcQ"}
	if err := engine.HandleVideoDiscovered(context.Background(), event); err == nil {
		t.Fatal("HandleVideoDiscovered() error = nil, want store error")
	}
}

func TestHandleVisionFeedback(t *testing.T) {
	store := newFakeStore()
	store.videos["dQw4w9WgXcQ"] = engineVideo()
	store.channels["UCbad000000000000000000a"] = engineChannel()
	store.configs["ip-plain"] = &models.IPConfig{ID: "ip-plain"}

	engine := newTestEngine(store)

	event := &events.VisionFeedback{
		EventID:              "evt-2",
		VideoID:              "dQw4w9WgXcQ",
		ChannelID:            "UCbad000000000000000000a",
		ContainsInfringement: true,
		ConfidenceScore:      91,
		AnalyzedAt:           scoreNow,
	}
	if err := engine.HandleVisionFeedback(context.Background(), event); err != nil {
		t.Fatalf("HandleVisionFeedback() error = %v", err)
	}

	risk, ok := store.channelWrites["UCbad000000000000000000a"]
	if !ok {
		t.Fatal("channel risk was not written")
	}
	if math.Abs(risk-66) > 1e-9 {
		t.Errorf("channel risk = %v, want 66", risk)
	}

	want := []string{"channel:UCbad000000000000000000a", "video:dQw4w9WgXcQ"}
	if len(store.writeOrder) != len(want) {
		t.Fatalf("write order = %v, want %v", store.writeOrder, want)
	}
	for i := range want {
		if store.writeOrder[i] != want[i] {
			t.Errorf("write order[%d] = %q, want %q", i, store.writeOrder[i], want[i])
		}
	}
}

func TestHandleVisionFeedbackUnknownChannel(t *testing.T) {
	store := newFakeStore()
	store.videos["dQw4w9WgXcQ"] = engineVideo()
	store.configs["ip-plain"] = &models.IPConfig{ID: "ip-plain"}

	engine := newTestEngine(store)

	event := &events.VisionFeedback{
		EventID:    "evt-3",
		VideoID:    "dQw4w9WgXcQ",
		ChannelID:  "UCunknown00000000000000a",
		AnalyzedAt: scoreNow,
	}
	if err := engine.HandleVisionFeedback(context.Background(), event); err != nil {
		t.Fatalf("HandleVisionFeedback() error = %v", err)
	}
	if len(store.channelWrites) != 0 {
		t.Errorf("channel writes = %d, want 0", len(store.channelWrites))
	}
	// The video is still rescored.
	if len(store.videoWrites) != 1 {
		t.Errorf("video writes = %d, want 1", len(store.videoWrites))
	}
}

func TestHandleVisionFeedbackMissingVideo(t *testing.T) {
	store := newFakeStore()
	store.channels["UCbad000000000000000000a"] = engineChannel()

	engine := newTestEngine(store)

	event := &events.VisionFeedback{
		EventID:    "evt-4",
		VideoID:    "gone00000000",
		ChannelID:  "UCbad000000000000000000a",
		AnalyzedAt: scoreNow,
	}
	if err := engine.HandleVisionFeedback(context.Background(), event); err != nil {
		t.Fatalf("HandleVisionFeedback() error = %v, want nil for missing video", err)
	}
	// Channel risk still refreshed from the rollup.
	if _, ok := store.channelWrites["UCbad000000000000000000a"]; !ok {
		t.Error("channel risk was not written")
	}
}
