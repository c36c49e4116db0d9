// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package vision

import (
	"strings"
	"testing"

	"github.com/tomtom215/custodia/internal/events"
	"github.com/tomtom215/custodia/internal/models"
)

func promptConfigs() []models.IPConfig {
	return []models.IPConfig{
		{
			ID:            "ip-crystal-fox",
			DisplayName:   "Crystal Fox",
			Owner:         "Aurora Animation Studios",
			Characters:    []string{"Crystal Fox", "Shadow Wolf"},
			VisualMarkers: []string{"blue crystalline fur", "glowing amber eyes"},
		},
		{
			ID:             "ip-gear-golems",
			DisplayName:    "Gear Golems",
			AIToolPatterns: []string{"sora", "veo"},
		},
	}
}

func TestBuildPrompt(t *testing.T) {
	meta := events.VideoMetadata{
		Title:           "Crystal Fox compilation",
		ChannelTitle:    "FoxClips",
		DurationSeconds: 300,
		ViewCount:       12_345,
	}

	prompt := BuildPrompt(meta, promptConfigs())

	for _, want := range []string{
		"Crystal Fox compilation",
		"FoxClips",
		"300 seconds",
		"12345",
		"[IP 1] Crystal Fox (id: ip-crystal-fox)",
		"Rights holder: Aurora Animation Studios",
		"Crystal Fox, Shadow Wolf",
		"blue crystalline fur; glowing amber eyes",
		"[IP 2] Gear Golems (id: ip-gear-golems)",
		"sora, veo",
		"LEGAL FRAMEWORK",
		"immediate_takedown",
		"ip_results",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestMatchedConfigsFilters(t *testing.T) {
	configs := promptConfigs()

	got := matchedConfigs(configs, []string{"ip-gear-golems"})
	if len(got) != 1 || got[0].ID != "ip-gear-golems" {
		t.Errorf("matchedConfigs() = %+v, want only ip-gear-golems", got)
	}
}

func TestMatchedConfigsFallsBackToAll(t *testing.T) {
	configs := promptConfigs()

	// No matched ids recorded at discovery.
	if got := matchedConfigs(configs, nil); len(got) != len(configs) {
		t.Errorf("matchedConfigs(nil) = %d configs, want all %d", len(got), len(configs))
	}

	// Every matched id has since been disabled or deleted.
	if got := matchedConfigs(configs, []string{"ip-retired"}); len(got) != len(configs) {
		t.Errorf("matchedConfigs(unknown) = %d configs, want fallback to all", len(got))
	}
}
