// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package events

import (
	"testing"
	"time"

	"github.com/tomtom215/custodia/internal/models"
)

func testVideo() *models.Video {
	now := time.Now().UTC()
	return &models.Video{
		ID:              "dQw4w9WgXcQ",
		Title:           "Full Episode Compilation",
		ChannelID:       "UCabcdefghijklmnopqrstuv",
		ChannelTitle:    "Some Channel",
		DurationSeconds: 620,
		ViewCount:       150000,
		MatchedIPs:      []string{"ip-alpha"},
		CurrentRisk:     72.5,
		ScanPriority:    68.4,
		PriorityTier:    models.TierHigh,
		PublishedAt:     now.Add(-48 * time.Hour),
		DiscoveredAt:    now,
	}
}

func TestNewVideoDiscovered(t *testing.T) {
	v := testVideo()
	event := NewVideoDiscovered(v)

	if event.EventID == "" {
		t.Error("Expected EventID to be set")
	}
	if event.SchemaVersion != SchemaVersion {
		t.Errorf("Expected SchemaVersion=%d, got %d", SchemaVersion, event.SchemaVersion)
	}
	if event.VideoID != v.ID {
		t.Errorf("Expected VideoID=%s, got %s", v.ID, event.VideoID)
	}
	if event.Priority != 68 {
		t.Errorf("Expected Priority=68, got %d", event.Priority)
	}
	if event.Timestamp.IsZero() {
		t.Error("Expected Timestamp to be set")
	}

	md := event.Metadata
	if md.VideoID != v.ID {
		t.Errorf("Expected metadata VideoID=%s, got %s", v.ID, md.VideoID)
	}
	if md.URL != "https://www.youtube.com/watch?v=dQw4w9WgXcQ" {
		t.Errorf("Unexpected watch URL: %s", md.URL)
	}
	if md.ChannelID != v.ChannelID {
		t.Errorf("Expected metadata ChannelID=%s, got %s", v.ChannelID, md.ChannelID)
	}
	if md.RiskScore != v.CurrentRisk {
		t.Errorf("Expected RiskScore=%v, got %v", v.CurrentRisk, md.RiskScore)
	}
	if md.RiskTier != models.TierHigh {
		t.Errorf("Expected RiskTier=HIGH, got %s", md.RiskTier)
	}
	if md.ScanPriority != v.ScanPriority {
		t.Errorf("Expected ScanPriority=%v, got %v", v.ScanPriority, md.ScanPriority)
	}
	if len(md.MatchedIPs) != 1 || md.MatchedIPs[0] != "ip-alpha" {
		t.Errorf("Unexpected MatchedIPs: %v", md.MatchedIPs)
	}
}

func TestVideoDiscovered_Validate(t *testing.T) {
	valid := func() *VideoDiscovered { return NewVideoDiscovered(testVideo()) }

	tests := []struct {
		name    string
		mutate  func(*VideoDiscovered)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid event",
			mutate:  func(e *VideoDiscovered) {},
			wantErr: false,
		},
		{
			name:    "missing event_id",
			mutate:  func(e *VideoDiscovered) { e.EventID = "" },
			wantErr: true,
			errMsg:  "event_id: required",
		},
		{
			name:    "missing video_id",
			mutate:  func(e *VideoDiscovered) { e.VideoID = "" },
			wantErr: true,
			errMsg:  "video_id: required",
		},
		{
			name: "metadata video mismatch",
			mutate: func(e *VideoDiscovered) {
				e.Metadata.VideoID = "other-video"
			},
			wantErr: true,
			errMsg:  "metadata.video_id: must match video_id",
		},
		{
			name:    "missing channel",
			mutate:  func(e *VideoDiscovered) { e.Metadata.ChannelID = "" },
			wantErr: true,
			errMsg:  "metadata.channel_id: required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := valid()
			tt.mutate(event)

			err := event.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected validation error, got nil")
				}
				if err.Error() != tt.errMsg {
					t.Errorf("Expected error %q, got %q", tt.errMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
		})
	}
}

func TestScanReadySharesEnvelope(t *testing.T) {
	v := testVideo()
	event := NewScanReady(v)

	if event.EventID == "" {
		t.Error("Expected EventID to be set")
	}
	if event.VideoID != v.ID {
		t.Errorf("Expected VideoID=%s, got %s", v.ID, event.VideoID)
	}
	if event.Metadata.ScanPriority != v.ScanPriority {
		t.Errorf("Expected ScanPriority=%v, got %v", v.ScanPriority, event.Metadata.ScanPriority)
	}
	if err := event.Validate(); err != nil {
		t.Errorf("Expected valid event, got %v", err)
	}

	// Same envelope converts both ways without loss.
	discovered := VideoDiscovered(*event)
	if discovered.Metadata.VideoID != v.ID {
		t.Errorf("Conversion lost metadata: %v", discovered.Metadata)
	}
}

func TestEventTopics(t *testing.T) {
	v := testVideo()

	tests := []struct {
		name  string
		event Event
		topic string
	}{
		{"video discovered", NewVideoDiscovered(v), "pipeline.video.discovered"},
		{"scan ready", NewScanReady(v), "pipeline.scan.ready"},
		{"vision feedback", NewVisionFeedback(v.ID, v.ChannelID), "pipeline.vision.feedback"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.event.Topic(); got != tt.topic {
				t.Errorf("Topic() = %s, expected %s", got, tt.topic)
			}
			if tt.event.ID() == "" {
				t.Error("ID() returned empty event id")
			}
		})
	}
}

func TestVisionFeedback_Validate(t *testing.T) {
	valid := func() *VisionFeedback {
		e := NewVisionFeedback("dQw4w9WgXcQ", "UCabcdefghijklmnopqrstuv")
		e.ContainsInfringement = true
		e.ConfidenceScore = 85
		e.InfringementType = "full_episode"
		e.AnalysisCostEUR = 0.41
		e.AnalyzedAt = time.Now().UTC()
		return e
	}

	tests := []struct {
		name    string
		mutate  func(*VisionFeedback)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid event",
			mutate:  func(e *VisionFeedback) {},
			wantErr: false,
		},
		{
			name:    "missing video_id",
			mutate:  func(e *VisionFeedback) { e.VideoID = "" },
			wantErr: true,
			errMsg:  "video_id: required",
		},
		{
			name:    "missing channel_id",
			mutate:  func(e *VisionFeedback) { e.ChannelID = "" },
			wantErr: true,
			errMsg:  "channel_id: required",
		},
		{
			name:    "confidence above range",
			mutate:  func(e *VisionFeedback) { e.ConfidenceScore = 101 },
			wantErr: true,
			errMsg:  "confidence_score: must be between 0 and 100",
		},
		{
			name:    "confidence below range",
			mutate:  func(e *VisionFeedback) { e.ConfidenceScore = -1 },
			wantErr: true,
			errMsg:  "confidence_score: must be between 0 and 100",
		},
		{
			name:    "missing analyzed_at",
			mutate:  func(e *VisionFeedback) { e.AnalyzedAt = time.Time{} },
			wantErr: true,
			errMsg:  "analyzed_at: required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := valid()
			tt.mutate(event)

			err := event.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected validation error, got nil")
				}
				if err.Error() != tt.errMsg {
					t.Errorf("Expected error %q, got %q", tt.errMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
		})
	}
}

func TestMarshalRejectsInvalidEvent(t *testing.T) {
	event := NewVideoDiscovered(testVideo())
	event.VideoID = ""

	if _, err := Marshal(event); err == nil {
		t.Error("Expected Marshal to reject invalid event")
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	original := NewVideoDiscovered(testVideo())

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	decoded, err := Unmarshal[VideoDiscovered](data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if decoded.EventID != original.EventID {
		t.Errorf("EventID mismatch: %s != %s", decoded.EventID, original.EventID)
	}
	if decoded.VideoID != original.VideoID {
		t.Errorf("VideoID mismatch: %s != %s", decoded.VideoID, original.VideoID)
	}
	if decoded.Metadata.RiskTier != original.Metadata.RiskTier {
		t.Errorf("RiskTier mismatch: %s != %s", decoded.Metadata.RiskTier, original.Metadata.RiskTier)
	}
	if !decoded.Metadata.DiscoveredAt.Equal(original.Metadata.DiscoveredAt) {
		t.Errorf("DiscoveredAt mismatch: %v != %v", decoded.Metadata.DiscoveredAt, original.Metadata.DiscoveredAt)
	}

	feedback := NewVisionFeedback("dQw4w9WgXcQ", "UCabcdefghijklmnopqrstuv")
	feedback.ConfidenceScore = 64
	feedback.CharactersFound = []string{"The Captain"}
	feedback.AnalyzedAt = time.Now().UTC().Truncate(time.Second)

	data, err = Marshal(feedback)
	if err != nil {
		t.Fatalf("Marshal feedback failed: %v", err)
	}

	decodedFb, err := Unmarshal[VisionFeedback](data)
	if err != nil {
		t.Fatalf("Unmarshal feedback failed: %v", err)
	}
	if decodedFb.ConfidenceScore != 64 {
		t.Errorf("ConfidenceScore mismatch: %v", decodedFb.ConfidenceScore)
	}
	if len(decodedFb.CharactersFound) != 1 || decodedFb.CharactersFound[0] != "The Captain" {
		t.Errorf("CharactersFound mismatch: %v", decodedFb.CharactersFound)
	}
}

func TestEnsureSchemaVersion(t *testing.T) {
	event := &VideoDiscovered{}
	event.EnsureSchemaVersion()
	if event.SchemaVersion != SchemaVersion {
		t.Errorf("Expected SchemaVersion=%d, got %d", SchemaVersion, event.SchemaVersion)
	}

	event.SchemaVersion = 42
	event.EnsureSchemaVersion()
	if event.SchemaVersion != 42 {
		t.Error("EnsureSchemaVersion must not overwrite an explicit version")
	}
}
