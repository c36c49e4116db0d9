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

func TestUpsertVideoRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	v := testVideo("vid00000001", "UCchannel0000000000000a")
	v.Tags = []string{"ai", "fan animation"}
	if err := db.UpsertVideo(ctx, v); err != nil {
		t.Fatalf("UpsertVideo() error = %v", err)
	}

	got, err := db.GetVideo(ctx, v.ID)
	if err != nil {
		t.Fatalf("GetVideo() error = %v", err)
	}
	if got.Title != v.Title {
		t.Errorf("Title = %q, want %q", got.Title, v.Title)
	}
	if got.Status != models.StatusDiscovered {
		t.Errorf("Status = %q, want %q", got.Status, models.StatusDiscovered)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "ai" {
		t.Errorf("Tags = %v, want %v", got.Tags, v.Tags)
	}
	if len(got.MatchedIPs) != 1 || got.MatchedIPs[0] != "ip-alpha" {
		t.Errorf("MatchedIPs = %v, want %v", got.MatchedIPs, v.MatchedIPs)
	}
	if got.ScanPriority != 55 {
		t.Errorf("ScanPriority = %v, want 55", got.ScanPriority)
	}
	if got.Analysis != nil {
		t.Errorf("Analysis = %+v, want nil before the first scan", got.Analysis)
	}
}

func TestUpsertVideoRediscoveryPreservesLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	v := testVideo("vid00000002", "UCchannel0000000000000a")
	if err := db.UpsertVideo(ctx, v); err != nil {
		t.Fatalf("UpsertVideo() error = %v", err)
	}
	claimed, err := db.ClaimVideoForProcessing(ctx, v.ID, time.Now().UTC())
	if err != nil || !claimed {
		t.Fatalf("ClaimVideoForProcessing() = %v, %v, want true, nil", claimed, err)
	}

	// Rediscovery refreshes counters but must not reset the claim.
	v.ViewCount = 5000
	v.Title = "Retitled"
	if err := db.UpsertVideo(ctx, v); err != nil {
		t.Fatalf("UpsertVideo() rediscovery error = %v", err)
	}

	got, err := db.GetVideo(ctx, v.ID)
	if err != nil {
		t.Fatalf("GetVideo() error = %v", err)
	}
	if got.Status != models.StatusProcessing {
		t.Errorf("Status after rediscovery = %q, want %q", got.Status, models.StatusProcessing)
	}
	if got.ViewCount != 5000 {
		t.Errorf("ViewCount = %d, want 5000", got.ViewCount)
	}
	if got.Title != "Retitled" {
		t.Errorf("Title = %q, want %q", got.Title, "Retitled")
	}
}

func TestGetVideoNotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.GetVideo(context.Background(), "missing0000")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetVideo() error = %v, want ErrNotFound", err)
	}
}

func TestClaimVideoForProcessing(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	v := testVideo("vid00000003", "UCchannel0000000000000a")
	if err := db.UpsertVideo(ctx, v); err != nil {
		t.Fatalf("UpsertVideo() error = %v", err)
	}

	claimed, err := db.ClaimVideoForProcessing(ctx, v.ID, time.Now().UTC())
	if err != nil {
		t.Fatalf("ClaimVideoForProcessing() error = %v", err)
	}
	if !claimed {
		t.Fatal("first claim = false, want true")
	}

	// The single-owner property: a second claim must fail.
	claimed, err = db.ClaimVideoForProcessing(ctx, v.ID, time.Now().UTC())
	if err != nil {
		t.Fatalf("second ClaimVideoForProcessing() error = %v", err)
	}
	if claimed {
		t.Error("second claim = true, want false")
	}

	got, err := db.GetVideo(ctx, v.ID)
	if err != nil {
		t.Fatalf("GetVideo() error = %v", err)
	}
	if got.ProcessingStartedAt == nil {
		t.Error("ProcessingStartedAt = nil after claim")
	}
}

func TestResetProcessingVideo(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	v := testVideo("vid00000004", "UCchannel0000000000000a")
	if err := db.UpsertVideo(ctx, v); err != nil {
		t.Fatalf("UpsertVideo() error = %v", err)
	}
	if _, err := db.ClaimVideoForProcessing(ctx, v.ID, time.Now().UTC()); err != nil {
		t.Fatalf("ClaimVideoForProcessing() error = %v", err)
	}

	reset, err := db.ResetProcessingVideo(ctx, v.ID)
	if err != nil {
		t.Fatalf("ResetProcessingVideo() error = %v", err)
	}
	if !reset {
		t.Fatal("reset = false, want true")
	}

	got, err := db.GetVideo(ctx, v.ID)
	if err != nil {
		t.Fatalf("GetVideo() error = %v", err)
	}
	if got.Status != models.StatusDiscovered {
		t.Errorf("Status = %q, want %q", got.Status, models.StatusDiscovered)
	}
	if got.ProcessingStartedAt != nil {
		t.Errorf("ProcessingStartedAt = %v, want nil", got.ProcessingStartedAt)
	}

	// Idempotent: a video not in processing is left alone.
	reset, err = db.ResetProcessingVideo(ctx, v.ID)
	if err != nil {
		t.Fatalf("second ResetProcessingVideo() error = %v", err)
	}
	if reset {
		t.Error("second reset = true, want false")
	}
}

func TestUpdateVideoRiskWriteIfChanged(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	v := testVideo("vid00000005", "UCchannel0000000000000a")
	if err := db.UpsertVideo(ctx, v); err != nil {
		t.Fatalf("UpsertVideo() error = %v", err)
	}

	at := time.Now().UTC()
	changed, err := db.UpdateVideoRisk(ctx, v.ID, 80, 72, models.TierHigh, at)
	if err != nil {
		t.Fatalf("UpdateVideoRisk() error = %v", err)
	}
	if !changed {
		t.Fatal("first UpdateVideoRisk() = unchanged, want changed")
	}

	// Same values again: no write, last_risk_update untouched.
	changed, err = db.UpdateVideoRisk(ctx, v.ID, 80, 72, models.TierHigh, at.Add(time.Hour))
	if err != nil {
		t.Fatalf("second UpdateVideoRisk() error = %v", err)
	}
	if changed {
		t.Error("identical rescore reported changed, want unchanged")
	}

	got, err := db.GetVideo(ctx, v.ID)
	if err != nil {
		t.Fatalf("GetVideo() error = %v", err)
	}
	if got.CurrentRisk != 80 || got.ScanPriority != 72 {
		t.Errorf("risk/priority = %v/%v, want 80/72", got.CurrentRisk, got.ScanPriority)
	}
	if got.PriorityTier != models.TierHigh {
		t.Errorf("PriorityTier = %q, want %q", got.PriorityTier, models.TierHigh)
	}
	if got.LastRiskUpdate == nil {
		t.Fatal("LastRiskUpdate = nil after rescore")
	}
	if !got.LastRiskUpdate.Equal(at) {
		t.Errorf("LastRiskUpdate = %v, want %v (second no-op call must not bump it)", got.LastRiskUpdate, at)
	}
}

func TestAddMatchedIPs(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	v := testVideo("vid00000006", "UCchannel0000000000000a")
	if err := db.UpsertVideo(ctx, v); err != nil {
		t.Fatalf("UpsertVideo() error = %v", err)
	}

	if err := db.AddMatchedIPs(ctx, v.ID, []string{"ip-alpha", "ip-beta"}); err != nil {
		t.Fatalf("AddMatchedIPs() error = %v", err)
	}
	got, err := db.GetVideo(ctx, v.ID)
	if err != nil {
		t.Fatalf("GetVideo() error = %v", err)
	}
	want := []string{"ip-alpha", "ip-beta"}
	if len(got.MatchedIPs) != len(want) {
		t.Fatalf("MatchedIPs = %v, want %v", got.MatchedIPs, want)
	}
	for i := range want {
		if got.MatchedIPs[i] != want[i] {
			t.Errorf("MatchedIPs[%d] = %q, want %q", i, got.MatchedIPs[i], want[i])
		}
	}

	if err := db.AddMatchedIPs(ctx, "missing0000", []string{"ip-x"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("AddMatchedIPs(missing) error = %v, want ErrNotFound", err)
	}
}

func TestWriteAnalysis(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	v := testVideo("vid00000007", "UCchannel0000000000000a")
	if err := db.UpsertVideo(ctx, v); err != nil {
		t.Fatalf("UpsertVideo() error = %v", err)
	}
	if _, err := db.ClaimVideoForProcessing(ctx, v.ID, time.Now().UTC()); err != nil {
		t.Fatalf("ClaimVideoForProcessing() error = %v", err)
	}

	analysis := &models.AnalysisSummary{
		ScanID:                "scan-1",
		ContainsInfringement:  true,
		OverallRecommendation: models.ActionImmediateTakedown,
		CostEUR:               0.42,
		InputTokens:           120000,
		OutputTokens:          900,
		AnalyzedAt:            time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := db.WriteAnalysis(ctx, v.ID, analysis); err != nil {
		t.Fatalf("WriteAnalysis() error = %v", err)
	}

	got, err := db.GetVideo(ctx, v.ID)
	if err != nil {
		t.Fatalf("GetVideo() error = %v", err)
	}
	if got.Status != models.StatusAnalyzed {
		t.Errorf("Status = %q, want %q", got.Status, models.StatusAnalyzed)
	}
	if got.ScanCount != 1 {
		t.Errorf("ScanCount = %d, want 1", got.ScanCount)
	}
	if got.Analysis == nil {
		t.Fatal("Analysis = nil after WriteAnalysis")
	}
	if !got.Analysis.ContainsInfringement {
		t.Error("Analysis.ContainsInfringement = false, want true")
	}
	if got.Analysis.OverallRecommendation != models.ActionImmediateTakedown {
		t.Errorf("OverallRecommendation = %q, want %q",
			got.Analysis.OverallRecommendation, models.ActionImmediateTakedown)
	}
	if got.ProcessingStartedAt != nil {
		t.Error("ProcessingStartedAt still set after analysis")
	}

	// A second analysis advances the count and replaces the summary.
	analysis.ContainsInfringement = false
	analysis.OverallRecommendation = models.ActionIgnore
	if err := db.WriteAnalysis(ctx, v.ID, analysis); err != nil {
		t.Fatalf("second WriteAnalysis() error = %v", err)
	}
	got, err = db.GetVideo(ctx, v.ID)
	if err != nil {
		t.Fatalf("GetVideo() error = %v", err)
	}
	if got.ScanCount != 2 {
		t.Errorf("ScanCount = %d, want 2", got.ScanCount)
	}
	if got.Analysis.ContainsInfringement {
		t.Error("Analysis.ContainsInfringement = true after reclassification, want false")
	}
}

func TestTopUnscannedOrdering(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	seed := []struct {
		id       string
		priority float64
		tier     models.PriorityTier
		status   models.VideoStatus
	}{
		{"vidqueue001", 95, models.TierCritical, models.StatusDiscovered},
		{"vidqueue002", 75, models.TierHigh, models.StatusDiscovered},
		{"vidqueue003", 75, models.TierMedium, models.StatusDiscovered}, // tier mislabel, loses the tie
		{"vidqueue004", 55, models.TierMedium, models.StatusDiscovered},
		{"vidqueue005", 99, models.TierCritical, models.StatusAnalyzed}, // already scanned
		{"vidqueue006", 10, models.TierVeryLow, models.StatusDiscovered},
	}
	for _, s := range seed {
		v := testVideo(s.id, "UCchannel0000000000000b")
		v.ScanPriority = s.priority
		v.PriorityTier = s.tier
		v.Status = s.status
		if err := db.UpsertVideo(ctx, v); err != nil {
			t.Fatalf("UpsertVideo(%s) error = %v", s.id, err)
		}
		if s.status != models.StatusDiscovered {
			if err := db.SetVideoStatus(ctx, s.id, s.status); err != nil {
				t.Fatalf("SetVideoStatus(%s) error = %v", s.id, err)
			}
		}
	}

	got, err := db.TopUnscanned(ctx, 3, 30)
	if err != nil {
		t.Fatalf("TopUnscanned() error = %v", err)
	}
	want := []string{"vidqueue001", "vidqueue002", "vidqueue003"}
	if len(got) != len(want) {
		t.Fatalf("TopUnscanned() returned %d videos, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("TopUnscanned()[%d] = %s, want %s", i, got[i].ID, id)
		}
	}

	// The floor excludes very-low videos entirely.
	got, err = db.TopUnscanned(ctx, 10, 30)
	if err != nil {
		t.Fatalf("TopUnscanned() error = %v", err)
	}
	for _, v := range got {
		if v.ScanPriority < 30 {
			t.Errorf("TopUnscanned() returned %s below the floor (%v)", v.ID, v.ScanPriority)
		}
	}
}

func TestCountVideosByTier(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	seed := []struct {
		id     string
		tier   models.PriorityTier
		status models.VideoStatus
	}{
		{"vidtier0001", models.TierCritical, models.StatusDiscovered},
		{"vidtier0002", models.TierHigh, models.StatusDiscovered},
		{"vidtier0003", models.TierHigh, models.StatusDiscovered},
		{"vidtier0004", models.TierHigh, models.StatusAnalyzed}, // settled, not counted
		{"vidtier0005", models.TierLow, models.StatusDiscovered},
	}
	for _, s := range seed {
		v := testVideo(s.id, "UCchannel0000000000000t")
		v.PriorityTier = s.tier
		if err := db.UpsertVideo(ctx, v); err != nil {
			t.Fatalf("UpsertVideo(%s) error = %v", s.id, err)
		}
		if s.status != models.StatusDiscovered {
			if err := db.SetVideoStatus(ctx, s.id, s.status); err != nil {
				t.Fatalf("SetVideoStatus(%s) error = %v", s.id, err)
			}
		}
	}

	counts, err := db.CountVideosByTier(ctx)
	if err != nil {
		t.Fatalf("CountVideosByTier() error = %v", err)
	}
	if counts[models.TierCritical] != 1 {
		t.Errorf("CRITICAL = %d, want 1", counts[models.TierCritical])
	}
	if counts[models.TierHigh] != 2 {
		t.Errorf("HIGH = %d, want 2", counts[models.TierHigh])
	}
	if counts[models.TierLow] != 1 {
		t.Errorf("LOW = %d, want 1", counts[models.TierLow])
	}
	// Tiers with no unscanned videos are simply absent; callers zero-fill.
	if n, ok := counts[models.TierMedium]; ok {
		t.Errorf("MEDIUM present with %d, want absent", n)
	}
}

func TestSoftDeleteVideosByIPConfig(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	a := testVideo("vidcasc0001", "UCchannel0000000000000c")
	a.MatchedIPs = []string{"ip-alpha", "ip-beta"}
	b := testVideo("vidcasc0002", "UCchannel0000000000000c")
	b.MatchedIPs = []string{"ip-beta"}
	c := testVideo("vidcasc0003", "UCchannel0000000000000c")
	c.MatchedIPs = []string{"ip-gamma"}
	for _, v := range []*models.Video{a, b, c} {
		if err := db.UpsertVideo(ctx, v); err != nil {
			t.Fatalf("UpsertVideo(%s) error = %v", v.ID, err)
		}
	}

	flagged, err := db.SoftDeleteVideosByIPConfig(ctx, "ip-beta")
	if err != nil {
		t.Fatalf("SoftDeleteVideosByIPConfig() error = %v", err)
	}
	if flagged != 2 {
		t.Errorf("flagged = %d, want 2", flagged)
	}

	got, err := db.GetVideo(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetVideo() error = %v", err)
	}
	if got.Deleted {
		t.Error("unrelated video was soft-deleted")
	}

	got, err = db.GetVideo(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetVideo() error = %v", err)
	}
	if !got.Deleted {
		t.Error("matched video not soft-deleted")
	}

	// Deleted videos never reach the scan queue.
	queue, err := db.TopUnscanned(ctx, 10, 0)
	if err != nil {
		t.Fatalf("TopUnscanned() error = %v", err)
	}
	for _, v := range queue {
		if v.ID == a.ID || v.ID == b.ID {
			t.Errorf("soft-deleted video %s still in scan queue", v.ID)
		}
	}
}
