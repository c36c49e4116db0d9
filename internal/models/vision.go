// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package models

// RecommendedAction is the fixed action set a vision analysis may produce,
// both per IP and overall.
type RecommendedAction string

const (
	ActionImmediateTakedown RecommendedAction = "immediate_takedown"
	ActionTolerated         RecommendedAction = "tolerated"
	ActionMonitor           RecommendedAction = "monitor"
	ActionSafeHarbor        RecommendedAction = "safe_harbor"
	ActionIgnore            RecommendedAction = "ignore"
)

// Valid reports whether a is in the fixed action set.
func (a RecommendedAction) Valid() bool {
	switch a {
	case ActionImmediateTakedown, ActionTolerated, ActionMonitor, ActionSafeHarbor, ActionIgnore:
		return true
	}
	return false
}

// Actionable reports whether the recommendation counts as a confirmed
// infringement. Only immediate_takedown does; contains_infringement is a
// broader signal and moves different counters.
func (a RecommendedAction) Actionable() bool {
	return a == ActionImmediateTakedown
}

// Prominence classifies how central a detected character is to the video.
type Prominence string

const (
	ProminencePrimary    Prominence = "primary"
	ProminenceSecondary  Prominence = "secondary"
	ProminenceBackground Prominence = "background"
)

// CharacterDetection is one character the vision model found.
type CharacterDetection struct {
	Name              string     `json:"name"`
	ScreenTimeSeconds float64    `json:"screen_time_seconds"`
	Prominence        Prominence `json:"prominence"`
	Timestamps        []string   `json:"timestamps,omitempty"`
	Description       string     `json:"description,omitempty"`
}

// IPResult is the per-IP analysis record inside a vision result.
type IPResult struct {
	IPID                   string               `json:"ip_id" validate:"required"`
	IPName                 string               `json:"ip_name"`
	ContainsInfringement   bool                 `json:"contains_infringement"`
	CharactersDetected     []CharacterDetection `json:"characters_detected,omitempty"`
	IsAIGenerated          bool                 `json:"is_ai_generated"`
	AIToolsDetected        []string             `json:"ai_tools_detected,omitempty"`
	FairUseApplies         bool                 `json:"fair_use_applies"`
	FairUseReasoning       string               `json:"fair_use_reasoning,omitempty"`
	ContentType            string               `json:"content_type,omitempty"`
	InfringementLikelihood float64              `json:"infringement_likelihood" validate:"gte=0,lte=100"`
	Reasoning              string               `json:"reasoning,omitempty"`
	RecommendedAction      RecommendedAction    `json:"recommended_action" validate:"required"`
}

// VisionResult is the strict model of the vision backend's JSON response.
// Construction goes through the vision package's validator, which coerces
// null booleans to false before decoding.
type VisionResult struct {
	IPResults             []IPResult        `json:"ip_results" validate:"required,min=1,dive"`
	OverallRecommendation RecommendedAction `json:"overall_recommendation" validate:"required"`
	OverallNotes          string            `json:"overall_notes,omitempty"`
}

// ContainsInfringement reports whether any IP's flag is true. This is the
// boolean the system rollup and hourly infringement counters track.
func (r *VisionResult) ContainsInfringement() bool {
	for _, ip := range r.IPResults {
		if ip.ContainsInfringement {
			return true
		}
	}
	return false
}

// MaxLikelihood returns the highest per-IP infringement likelihood, the
// confidence score reported on vision-feedback messages.
func (r *VisionResult) MaxLikelihood() float64 {
	var m float64
	for _, ip := range r.IPResults {
		if ip.InfringementLikelihood > m {
			m = ip.InfringementLikelihood
		}
	}
	return m
}

// PrimaryInfringementType returns the content type of the first infringing
// IP result, empty when none infringe.
func (r *VisionResult) PrimaryInfringementType() string {
	for _, ip := range r.IPResults {
		if ip.ContainsInfringement {
			return ip.ContentType
		}
	}
	return ""
}

// AllCharacters returns the deduplicated character names detected across
// all IP results.
func (r *VisionResult) AllCharacters() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, ip := range r.IPResults {
		for _, c := range ip.CharactersDetected {
			if _, ok := seen[c.Name]; ok {
				continue
			}
			seen[c.Name] = struct{}{}
			out = append(out, c.Name)
		}
	}
	return out
}
