// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package risk

import (
	"strings"
	"testing"

	"github.com/tomtom215/custodia/internal/models"
)

var benchScore float64

// BenchmarkVideoRisk benchmarks the video scorer across fixture shapes
func BenchmarkVideoRisk(b *testing.B) {
	cfgs := []*models.IPConfig{
		{ID: "ip-plain"},
		{ID: "ip-hp", HighPriority: true},
		{ID: "ip-ai", AIToolPatterns: []string{"sora", "runway gen", "pika"}},
	}

	benchmarks := []struct {
		name  string
		video *models.Video
	}{
		{"NoMatches", &models.Video{
			ID:          "dQw4w9WgXcQ",
			ViewCount:   1_000,
			PublishedAt: daysAgo(30),
		}},
		{"Typical", &models.Video{
			ID:              "dQw4w9WgXcQ",
			MatchedIPs:      []string{"ip-plain"},
			ViewCount:       150_000,
			LikeCount:       2_000,
			CommentCount:    1_000,
			ViewVelocity:    120,
			PublishedAt:     daysAgo(200),
			DurationSeconds: 720,
		}},
		{"AIPatternScan", &models.Video{
			ID:              "dQw4w9WgXcQ",
			MatchedIPs:      []string{"ip-plain", "ip-hp", "ip-ai"},
			Title:           "full movie leak in 4k",
			Description:     strings.Repeat("uncut scenes restored from the archive ", 40),
			ViewCount:       50_000_000,
			LikeCount:       5_000_000,
			ViewVelocity:    100_000,
			PublishedAt:     daysAgo(400),
			DurationSeconds: 5_400,
		}},
	}

	for _, bm := range benchmarks {
		b.Run(bm.name, func(b *testing.B) {
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				benchScore = VideoRisk(bm.video, cfgs, scoreNow)
			}
		})
	}
}

// BenchmarkChannelRisk benchmarks the channel scorer
func BenchmarkChannelRisk(b *testing.B) {
	ch := &models.Channel{
		ID:                     "UCbench000000000000000x",
		VideosScanned:          40,
		ConfirmedInfringements: 12,
		SubscriberCount:        250_000,
		TotalInfringingViews:   3_000_000,
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		benchScore = ChannelRisk(ch)
	}
}

// BenchmarkScanPriority benchmarks the blended priority calculation
func BenchmarkScanPriority(b *testing.B) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		benchScore = ScanPriority(70, 66)
	}
}
