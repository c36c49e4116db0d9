// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package discovery

import (
	"testing"

	"github.com/tomtom215/custodia/internal/models"
)

func matcherConfigs() []models.IPConfig {
	return []models.IPConfig{
		{
			ID:          "ip-gridrunner",
			DisplayName: "The Grid Runner",
			Characters:  []string{"Captain Vex"},
			Enabled:     true,
			SearchKeywords: models.KeywordBuckets{
				High: []string{"grid runner movie"},
			},
			FalsePositiveFilters: []string{"unboxing"},
		},
		{
			ID:          "ip-disabled",
			DisplayName: "Disabled Franchise",
			Enabled:     false,
			SearchKeywords: models.KeywordBuckets{
				High: []string{"disabled franchise"},
			},
		},
	}
}

func TestMatcher(t *testing.T) {
	m := NewMatcher(matcherConfigs())

	tests := []struct {
		name  string
		title string
		desc  string
		tags  []string
		want  []string
	}{
		{
			name:  "keyword substring in title",
			title: "GRID RUNNER MOVIE full scene",
			want:  []string{"ip-gridrunner"},
		},
		{
			name: "keyword substring in tags",
			tags: []string{"grid runner movie"},
			want: []string{"ip-gridrunner"},
		},
		{
			name:  "canonical name with word boundaries",
			title: "Best scenes of The Grid Runner ranked",
			want:  []string{"ip-gridrunner"},
		},
		{
			name:  "article-stripped variant",
			title: "grid runner returns in 2026",
			want:  []string{"ip-gridrunner"},
		},
		{
			name:  "character name",
			desc:  "captain vex saves the day again",
			want:  []string{"ip-gridrunner"},
		},
		{
			name:  "name inside a longer word does not match",
			title: "ingrid runners marathon recap",
			want:  nil,
		},
		{
			name:  "false positive filter suppresses",
			title: "The Grid Runner merch unboxing",
			want:  nil,
		},
		{
			name:  "disabled config never matches",
			title: "disabled franchise trailer",
			want:  nil,
		},
		{
			name:  "unrelated text",
			title: "cooking pasta from scratch",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.Match(tt.title, tt.desc, tt.tags, "")
			if len(got) != len(tt.want) {
				t.Fatalf("Match() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Match()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestMatcherChannelTitle(t *testing.T) {
	m := NewMatcher(matcherConfigs())

	got := m.Match("random compilation", "", nil, "Grid Runner Clips")
	if len(got) != 1 || got[0] != "ip-gridrunner" {
		t.Errorf("Match() = %v, want [ip-gridrunner] from channel title", got)
	}
}

func TestCanonicalNamesStripArticles(t *testing.T) {
	names := canonicalNames(models.IPConfig{DisplayName: "The Grid Runner"})

	want := map[string]bool{"the grid runner": true, "grid runner": true}
	if len(names) != len(want) {
		t.Fatalf("canonicalNames() = %v, want %d variants", names, len(want))
	}
	for _, n := range names {
		if !want[n] {
			t.Errorf("unexpected canonical name %q", n)
		}
	}
}
