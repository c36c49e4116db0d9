// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package vision

import (
	"fmt"
	"strings"

	"github.com/tomtom215/custodia/internal/events"
	"github.com/tomtom215/custodia/internal/models"
)

// responseSchema is the JSON shape the model must return. It is appended
// verbatim to every prompt; the response mime type is locked to JSON so the
// model cannot wrap it in prose.
const responseSchema = `{
  "ip_results": [
    {
      "ip_id": "string (the exact id given in the IP section)",
      "ip_name": "string",
      "contains_infringement": "boolean",
      "characters_detected": [
        {
          "name": "string",
          "screen_time_seconds": "number",
          "prominence": "primary | secondary | background",
          "timestamps": ["mm:ss"],
          "description": "string"
        }
      ],
      "is_ai_generated": "boolean",
      "ai_tools_detected": ["string"],
      "fair_use_applies": "boolean",
      "fair_use_reasoning": "string",
      "content_type": "string",
      "infringement_likelihood": "number 0-100",
      "reasoning": "string",
      "recommended_action": "immediate_takedown | tolerated | monitor | safe_harbor | ignore"
    }
  ],
  "overall_recommendation": "immediate_takedown | tolerated | monitor | safe_harbor | ignore",
  "overall_notes": "string"
}`

// legalFramework frames the fair-use assessment the model is asked to make
// per IP. The recommendation semantics mirror the counter protocol:
// immediate_takedown is the only actionable outcome.
const legalFramework = `LEGAL FRAMEWORK

Assess each intellectual property independently under the four fair-use factors:
1. Purpose and character of the use (commentary, criticism, parody and education weigh against infringement; pure re-use weighs for it).
2. Nature of the copyrighted work (fictional characters and designs receive strong protection).
3. Amount and substantiality of the portion used (screen time and prominence of protected characters).
4. Effect on the potential market (whether the video substitutes for or damages the original).

AI-generated renditions of protected characters are NOT fair use by default; treat unauthorized AI generation of a protected character as strong evidence of infringement.

Recommended actions:
- immediate_takedown: clear infringement, no plausible fair-use defense.
- tolerated: infringing but within the owner's published tolerance policy (fan art, low reach).
- monitor: ambiguous; re-check after reach changes.
- safe_harbor: likely protected use (parody, criticism, news reporting).
- ignore: the IP does not actually appear.`

// BuildPrompt renders the analysis instruction for one video against every
// IP configuration the video matched during discovery. Configs not matched
// are omitted so the model's attention stays on plausible candidates.
func BuildPrompt(meta events.VideoMetadata, configs []models.IPConfig) string {
	var b strings.Builder

	b.WriteString("You are a copyright-infringement analyst. Watch the attached video and determine, for each intellectual property listed below, whether the video infringes it.\n\n")

	fmt.Fprintf(&b, "VIDEO UNDER REVIEW\nTitle: %s\nChannel: %s\nDuration: %d seconds\nViews at discovery: %d\n\n",
		meta.Title, meta.ChannelTitle, meta.DurationSeconds, meta.ViewCount)

	b.WriteString("PROTECTED INTELLECTUAL PROPERTIES\n")
	for i, cfg := range configs {
		fmt.Fprintf(&b, "\n[IP %d] %s (id: %s)\n", i+1, cfg.DisplayName, cfg.ID)
		if cfg.Owner != "" {
			fmt.Fprintf(&b, "Rights holder: %s\n", cfg.Owner)
		}
		if len(cfg.Characters) > 0 {
			fmt.Fprintf(&b, "Protected characters: %s\n", strings.Join(cfg.Characters, ", "))
		}
		if len(cfg.VisualMarkers) > 0 {
			fmt.Fprintf(&b, "Visual markers to look for: %s\n", strings.Join(cfg.VisualMarkers, "; "))
		}
		if len(cfg.AIToolPatterns) > 0 {
			fmt.Fprintf(&b, "Known generation tools abused for this IP: %s\n", strings.Join(cfg.AIToolPatterns, ", "))
		}
	}

	b.WriteString("\n")
	b.WriteString(legalFramework)
	b.WriteString("\n\nFor every listed IP produce one entry in ip_results, even when the IP does not appear (contains_infringement false, recommended_action ignore). Report characters only when you actually see them; include approximate timestamps. Set is_ai_generated from visual artifacts and style, and name the tools when identifiable.\n")
	b.WriteString("\nRespond with a single JSON object matching exactly this schema, no surrounding text:\n\n")
	b.WriteString(responseSchema)

	return b.String()
}

// matchedConfigs filters the enabled configs down to the ids a video
// matched during discovery. Falls back to all enabled configs when the
// matched set references nothing known (configs may have been disabled
// between discovery and dispatch).
func matchedConfigs(configs []models.IPConfig, matchedIDs []string) []models.IPConfig {
	if len(matchedIDs) == 0 {
		return configs
	}
	wanted := make(map[string]struct{}, len(matchedIDs))
	for _, id := range matchedIDs {
		wanted[id] = struct{}{}
	}
	out := make([]models.IPConfig, 0, len(matchedIDs))
	for _, cfg := range configs {
		if _, ok := wanted[cfg.ID]; ok {
			out = append(out, cfg)
		}
	}
	if len(out) == 0 {
		return configs
	}
	return out
}
