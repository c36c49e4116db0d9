// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package vision

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/tomtom215/custodia/internal/models"
	"github.com/tomtom215/custodia/internal/validation"
)

// booleanFields are the result fields where the model is known to emit
// null for "no". Nulls here are coerced to false before strict decoding;
// a null anywhere else still fails validation.
var booleanFields = []string{
	"contains_infringement",
	"is_ai_generated",
	"fair_use_applies",
}

// ParseResult decodes and validates a raw model response. Any error from
// here is a validation failure in retry-policy terms: the caller re-invokes
// the model up to its attempt budget.
func ParseResult(raw []byte) (*models.VisionResult, error) {
	raw = stripFences(raw)

	coerced, err := coerceNullBooleans(raw)
	if err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	var result models.VisionResult
	if err := json.Unmarshal(coerced, &result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}

	if err := validation.ValidateStruct(&result); err != nil {
		return nil, fmt.Errorf("invalid result: %w", err)
	}
	if !result.OverallRecommendation.Valid() {
		return nil, fmt.Errorf("invalid result: unknown overall_recommendation %q", result.OverallRecommendation)
	}
	for i, ip := range result.IPResults {
		if !ip.RecommendedAction.Valid() {
			return nil, fmt.Errorf("invalid result: ip_results[%d]: unknown recommended_action %q", i, ip.RecommendedAction)
		}
	}

	return &result, nil
}

// coerceNullBooleans rewrites null values of the declared boolean fields
// to false inside every ip_results entry, the only place the schema
// declares booleans. The rewrite works on raw messages so untouched
// fields round-trip byte-identically.
func coerceNullBooleans(raw []byte) ([]byte, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	ipsRaw, ok := doc["ip_results"]
	if !ok || isNull(ipsRaw) {
		// Leave it to struct validation to report the missing field.
		return raw, nil
	}

	var ips []map[string]json.RawMessage
	if err := json.Unmarshal(ipsRaw, &ips); err != nil {
		return nil, fmt.Errorf("ip_results: %w", err)
	}
	for _, ip := range ips {
		for _, field := range booleanFields {
			if v, ok := ip[field]; ok && isNull(v) {
				ip[field] = json.RawMessage("false")
			}
		}
	}

	rewritten, err := json.Marshal(ips)
	if err != nil {
		return nil, err
	}
	doc["ip_results"] = rewritten

	return json.Marshal(doc)
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

// stripFences removes a markdown code fence if the model wrapped its JSON
// in one despite the JSON response mime type.
func stripFences(raw []byte) []byte {
	trimmed := bytes.TrimSpace(raw)
	if !bytes.HasPrefix(trimmed, []byte("```")) {
		return trimmed
	}
	if idx := bytes.IndexByte(trimmed, '\n'); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	trimmed = bytes.TrimSpace(trimmed)
	trimmed = bytes.TrimSuffix(trimmed, []byte("```"))
	return bytes.TrimSpace(trimmed)
}
