// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/tomtom215/custodia/internal/events"
	"github.com/tomtom215/custodia/internal/models"
	"github.com/tomtom215/custodia/internal/youtube"
)

var processorNow = time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)

func newTestProcessor(store *fakeStore, pub *capturePublisher) *Processor {
	p := NewProcessor(store, pub, []models.IPConfig{{
		ID:          "ip-gridrunner",
		DisplayName: "The Grid Runner",
		Enabled:     true,
		SearchKeywords: models.KeywordBuckets{
			High: []string{"grid runner"},
		},
	}})
	p.now = func() time.Time { return processorNow }
	return p
}

func gridRunnerDetails(id string) youtube.Details {
	return youtube.Details{
		VideoID:      id,
		Title:        "Grid Runner fan film",
		Description:  "Full fan remake",
		Tags:         []string{"scifi"},
		ChannelID:    "UCfan000000000000000000a",
		ChannelTitle: "Fan Channel",
		PublishedAt:  "2026-05-01T09:30:00Z",
		Duration:     "PT4M10S",
		ViewCount:    5_000,
		LikeCount:    200,
		CommentCount: 40,
		Thumbnails:   youtube.Thumbnails{HighURL: "https://img.example/high.jpg"},
	}
}

func TestProcessNewVideo(t *testing.T) {
	store := newFakeStore()
	pub := &capturePublisher{}
	proc := newTestProcessor(store, pub)

	res, err := proc.Process(context.Background(), gridRunnerDetails("vidnew0000001"))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Outcome != OutcomeNew {
		t.Fatalf("outcome = %q, want %q", res.Outcome, OutcomeNew)
	}

	v, ok := store.videos["vidnew0000001"]
	if !ok {
		t.Fatal("video was not persisted")
	}
	if v.Status != models.StatusDiscovered {
		t.Errorf("status = %q, want %q", v.Status, models.StatusDiscovered)
	}
	if len(v.MatchedIPs) != 1 || v.MatchedIPs[0] != "ip-gridrunner" {
		t.Errorf("matched ips = %v, want [ip-gridrunner]", v.MatchedIPs)
	}
	if v.InitialRisk <= 0 || v.InitialRisk != v.CurrentRisk {
		t.Errorf("initial/current risk = %v/%v, want equal and positive", v.InitialRisk, v.CurrentRisk)
	}
	if v.ScanPriority <= 0 || v.ScanPriority > 100 {
		t.Errorf("scan priority = %v, want in (0,100]", v.ScanPriority)
	}
	if v.PriorityTier != models.TierForPriority(v.ScanPriority) {
		t.Errorf("tier = %q, want %q", v.PriorityTier, models.TierForPriority(v.ScanPriority))
	}
	if v.DurationSeconds != 250 {
		t.Errorf("duration = %d, want 250", v.DurationSeconds)
	}
	if v.ThumbnailURL != "https://img.example/high.jpg" {
		t.Errorf("thumbnail = %q, want high resolution", v.ThumbnailURL)
	}

	if got := pub.byTopic(events.SubjectVideoDiscovered); len(got) != 1 {
		t.Fatalf("discovery events = %d, want 1", len(got))
	}
	if len(store.snapshots["vidnew0000001"]) != 1 {
		t.Errorf("snapshots = %d, want 1", len(store.snapshots["vidnew0000001"]))
	}

	ch, ok := store.channels["UCfan000000000000000000a"]
	if !ok {
		t.Fatal("channel rollup was not created")
	}
	if ch.TotalVideosFound != 1 {
		t.Errorf("total videos found = %d, want 1", ch.TotalVideosFound)
	}
}

func TestProcessRediscoveredVideo(t *testing.T) {
	store := newFakeStore()
	store.videos["vidknown00001"] = &models.Video{
		ID:           "vidknown00001",
		Title:        "old title",
		ChannelID:    "UCfan000000000000000000a",
		Status:       models.StatusDiscovered,
		ViewCount:    1_000,
		MatchedIPs:   []string{"ip-gridrunner"},
		DiscoveredAt: processorNow.Add(-48 * time.Hour),
	}
	store.velocity["vidknown00001"] = 166.7

	pub := &capturePublisher{}
	proc := newTestProcessor(store, pub)

	res, err := proc.Process(context.Background(), gridRunnerDetails("vidknown00001"))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Outcome != OutcomeRediscovered {
		t.Fatalf("outcome = %q, want %q", res.Outcome, OutcomeRediscovered)
	}

	v := store.videos["vidknown00001"]
	if v.Title != "Grid Runner fan film" {
		t.Errorf("title = %q, want refreshed metadata", v.Title)
	}
	if v.ViewCount != 5_000 {
		t.Errorf("view count = %d, want 5000", v.ViewCount)
	}
	if v.ViewVelocity != 166.7 {
		t.Errorf("view velocity = %v, want 166.7", v.ViewVelocity)
	}
	if v.VisionTriggeredAt == nil {
		t.Error("vision trigger not set on rediscovery")
	}
	if len(pub.byTopic(events.SubjectVideoDiscovered)) != 1 {
		t.Error("rediscovery must emit exactly one event")
	}
	if len(store.snapshots["vidknown00001"]) != 1 {
		t.Errorf("snapshots = %d, want 1", len(store.snapshots["vidknown00001"]))
	}
}

func TestProcessAlreadyTriggeredVideo(t *testing.T) {
	store := newFakeStore()
	triggered := processorNow.Add(-time.Hour)
	store.videos["vidseen000001"] = &models.Video{
		ID:                "vidseen000001",
		ChannelID:         "UCfan000000000000000000a",
		Status:            models.StatusAnalyzed,
		MatchedIPs:        []string{"ip-gridrunner"},
		VisionTriggeredAt: &triggered,
	}

	pub := &capturePublisher{}
	proc := newTestProcessor(store, pub)

	res, err := proc.Process(context.Background(), gridRunnerDetails("vidseen000001"))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Outcome != OutcomeAlreadyTriggered {
		t.Fatalf("outcome = %q, want %q", res.Outcome, OutcomeAlreadyTriggered)
	}
	if len(pub.events) != 0 {
		t.Errorf("events published = %d, want 0", len(pub.events))
	}
	// The rollup still counts the sighting.
	if store.channels["UCfan000000000000000000a"].TotalVideosFound != 1 {
		t.Error("channel rollup not updated for an already-triggered sighting")
	}
}

func TestProcessMergesNewMatchedIPs(t *testing.T) {
	store := newFakeStore()
	triggered := processorNow.Add(-time.Hour)
	store.videos["vidseen000002"] = &models.Video{
		ID:                "vidseen000002",
		ChannelID:         "UCfan000000000000000000a",
		Status:            models.StatusDiscovered,
		MatchedIPs:        []string{"ip-other"},
		VisionTriggeredAt: &triggered,
	}

	proc := newTestProcessor(store, &capturePublisher{})

	if _, err := proc.Process(context.Background(), gridRunnerDetails("vidseen000002")); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	v := store.videos["vidseen000002"]
	want := map[string]bool{"ip-other": true, "ip-gridrunner": true}
	if len(v.MatchedIPs) != len(want) {
		t.Fatalf("matched ips = %v, want both configs", v.MatchedIPs)
	}
	for _, ip := range v.MatchedIPs {
		if !want[ip] {
			t.Errorf("unexpected matched ip %q", ip)
		}
	}
}

func TestProcessSkipsEmptyID(t *testing.T) {
	proc := newTestProcessor(newFakeStore(), &capturePublisher{})

	res, err := proc.Process(context.Background(), youtube.Details{Title: "no id"})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Outcome != OutcomeSkipped {
		t.Errorf("outcome = %q, want %q", res.Outcome, OutcomeSkipped)
	}
}

func TestExtractFallbacks(t *testing.T) {
	proc := newTestProcessor(newFakeStore(), &capturePublisher{})

	v := proc.extract(youtube.Details{
		VideoID:     "vidfallback01",
		PublishedAt: "not a timestamp",
		Duration:    "PT-broken",
	}, processorNow)

	if !v.PublishedAt.Equal(processorNow) {
		t.Errorf("published at = %v, want fallback to now", v.PublishedAt)
	}
	if v.DurationSeconds != 0 {
		t.Errorf("duration = %d, want 0 for unparseable value", v.DurationSeconds)
	}
}

func TestParseISODuration(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"PT15M33S", 933},
		{"PT1H2M3S", 3723},
		{"PT45S", 45},
		{"PT2H", 7200},
		{"P1DT2H", 93600},
		{"PT0S", 0},
		{"", 0},
		{"4:10", 0},
		{"PTXS", 0},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := parseISODuration(tt.in); got != tt.want {
				t.Errorf("parseISODuration(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestPickThumbnail(t *testing.T) {
	tests := []struct {
		name string
		in   youtube.Thumbnails
		want string
	}{
		{"prefers high", youtube.Thumbnails{HighURL: "h", MediumURL: "m", DefaultURL: "d"}, "h"},
		{"falls back to medium", youtube.Thumbnails{MediumURL: "m", DefaultURL: "d"}, "m"},
		{"falls back to default", youtube.Thumbnails{DefaultURL: "d"}, "d"},
		{"empty", youtube.Thumbnails{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pickThumbnail(tt.in); got != tt.want {
				t.Errorf("pickThumbnail() = %q, want %q", got, tt.want)
			}
		})
	}
}
