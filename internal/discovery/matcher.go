// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package discovery

import (
	"regexp"
	"strings"

	"github.com/tomtom215/custodia/internal/models"
)

// Matcher matches video text against IP configs. Matching is text-only:
// keyword substrings plus word-boundary canonical names; visual
// confirmation belongs to the dispatcher. Configs are compiled once per
// discovery run; keyword and filter substrings across all configs share
// one automaton pass per video.
type Matcher struct {
	configs []compiledConfig
	auto    *automaton
}

type compiledConfig struct {
	id    string
	names []*regexp.Regexp
}

// NewMatcher compiles the enabled configs for matching.
func NewMatcher(configs []models.IPConfig) *Matcher {
	m := &Matcher{auto: newAutomaton()}
	for _, cfg := range configs {
		if !cfg.Enabled || cfg.Deleted {
			continue
		}

		idx := len(m.configs)
		cc := compiledConfig{id: cfg.ID}
		for _, kw := range cfg.SearchKeywords.All() {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				m.auto.add(kw, patternRef{config: idx, kind: patternKeyword})
			}
		}
		for _, name := range canonicalNames(cfg) {
			cc.names = append(cc.names, boundaryPattern(name))
		}
		for _, f := range cfg.FalsePositiveFilters {
			if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
				m.auto.add(f, patternRef{config: idx, kind: patternFilter})
			}
		}
		m.configs = append(m.configs, cc)
	}
	m.auto.build()
	return m
}

// Match returns the ids of configs the combined video text triggers.
// A false-positive filter hit suppresses its config outright, names and
// keywords included.
func (m *Matcher) Match(title, description string, tags []string, channelTitle string) []string {
	text := strings.ToLower(title + " " + description + " " + strings.Join(tags, " ") + " " + channelTitle)

	keywordHit := make([]bool, len(m.configs))
	filterHit := make([]bool, len(m.configs))
	m.auto.scan(text, func(ref patternRef) {
		switch ref.kind {
		case patternKeyword:
			keywordHit[ref.config] = true
		case patternFilter:
			filterHit[ref.config] = true
		}
	})

	var matched []string
	for i, cc := range m.configs {
		if filterHit[i] {
			continue
		}
		if keywordHit[i] || cc.nameMatches(text) {
			matched = append(matched, cc.id)
		}
	}
	return matched
}

func (cc *compiledConfig) nameMatches(text string) bool {
	for _, re := range cc.names {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// canonicalNames collects the display name and character names, adding an
// article-stripped variant for names led by "The".
func canonicalNames(cfg models.IPConfig) []string {
	raw := make([]string, 0, len(cfg.Characters)+2)
	if cfg.DisplayName != "" {
		raw = append(raw, cfg.DisplayName)
	}
	raw = append(raw, cfg.Characters...)

	seen := make(map[string]bool, len(raw)*2)
	names := make([]string, 0, len(raw)*2)
	add := func(name string) {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		names = append(names, name)
	}

	for _, name := range raw {
		add(name)
		if stripped, ok := strings.CutPrefix(strings.ToLower(strings.TrimSpace(name)), "the "); ok {
			add(stripped)
		}
	}
	return names
}

// boundaryPattern builds a whole-word pattern for an already-lowercased
// canonical name. Names are quoted verbatim; only the edges are anchored.
func boundaryPattern(name string) *regexp.Regexp {
	return regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\b`)
}
