// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Load builds the effective configuration: defaults, then an optional YAML
// file, then environment variables. Later layers override earlier ones.
func Load() (*Config, error) {
	return loadWithPath(findConfigFile())
}

// LoadFile is Load with an explicit config file path. An empty path skips
// the file layer entirely.
func LoadFile(path string) (*Config, error) {
	return loadWithPath(path)
}

func loadWithPath(path string) (*Config, error) {
	k := koanf.New(".")

	// Layer 1: compiled-in defaults.
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	// Layer 2: optional YAML file.
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// Layer 3: environment variables. Unmapped variables are ignored so
	// unrelated process environment never leaks into the config tree.
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	processSliceFields(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// findConfigFile resolves the config file path. CUSTODIA_CONFIG wins; after
// that the conventional locations are probed in order. Returns "" when no
// file exists, which is a supported mode (defaults + environment).
func findConfigFile() string {
	if p := os.Getenv("CUSTODIA_CONFIG"); p != "" {
		return p
	}
	candidates := []string{
		"config.yaml",
		"config.yml",
		"/etc/custodia/config.yaml",
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envVarMap is the explicit environment surface. Every deployment variable
// maps to exactly one koanf path; anything absent from this table is
// invisible to the loader.
var envVarMap = map[string]string{
	"YOUTUBE_API_KEY":            "youtube.api_key",
	"YOUTUBE_REGION":             "youtube.region",
	"YOUTUBE_REQUESTS_PER_SEC":   "youtube.requests_per_second",
	"DAILY_QUOTA_UNITS":          "quota.daily_units",
	"QUOTA_TIMEZONE":             "quota.timezone",
	"DAILY_BUDGET_EUR":           "budget.daily_eur",
	"MAX_VIDEOS_TO_SCAN":         "discovery.max_videos_to_scan",
	"MAX_CHANNEL_SCANS":          "discovery.max_channel_scans",
	"CHANNEL_RESCAN_DAYS":        "discovery.channel_rescan_days",
	"DISCOVERY_INTERVAL":         "discovery.interval",
	"VISION_API_KEY":             "vision.api_key",
	"VISION_MODEL":               "vision.model",
	"VISION_MODEL_REGION":        "vision.region",
	"VISION_BASE_URL":            "vision.base_url",
	"VISION_INPUT_PRICE_PER_1M":  "vision.input_price_per_1m",
	"VISION_OUTPUT_PRICE_PER_1M": "vision.output_price_per_1m",
	"VISION_AUDIO_PRICE_PER_1M":  "vision.audio_price_per_1m",
	"VISION_CALL_TIMEOUT":        "vision.call_timeout",
	"VISION_TEMPERATURE":         "vision.temperature",
	"VISION_MAX_OUTPUT_TOKENS":   "vision.max_output_tokens",
	"MAX_FRAMES":                 "vision.max_frames",
	"MINIMUM_SCAN_PRIORITY":      "vision.min_scan_priority",
	"DISPATCH_WORKERS":           "vision.workers",
	"NATS_URL":                   "nats.url",
	"NATS_EMBEDDED":              "nats.embedded_server",
	"NATS_STORE_DIR":             "nats.store_dir",
	"NATS_MAX_MEMORY":            "nats.max_memory",
	"NATS_MAX_STORE":             "nats.max_store",
	"NATS_RETENTION_DAYS":        "nats.stream_retention_days",
	"NATS_SUBSCRIBERS":           "nats.subscribers_count",
	"DATABASE_PATH":              "database.path",
	"DUCKDB_PATH":                "database.path",
	"DUCKDB_MAX_MEMORY":          "database.max_memory",
	"DUCKDB_THREADS":             "database.threads",
	"HTTP_HOST":                  "server.host",
	"HTTP_PORT":                  "server.port",
	"HTTP_TIMEOUT":               "server.timeout",
	"ENVIRONMENT":                "server.environment",
	"CORS_ORIGINS":               "server.cors_origins",
	"LOG_LEVEL":                  "logging.level",
	"LOG_FORMAT":                 "logging.format",
	"LOG_CALLER":                 "logging.caller",
}

// envTransformFunc maps an environment variable name to its koanf path.
// Returning "" drops the variable.
func envTransformFunc(s string) string {
	if path, ok := envVarMap[strings.ToUpper(s)]; ok {
		return path
	}
	return ""
}

// sliceFields lists config paths holding []string values. Environment
// variables arrive as single strings; comma-separated values are split
// here so both "a,b,c" and YAML lists unmarshal identically.
var sliceFields = []string{
	"server.cors_origins",
}

func processSliceFields(k *koanf.Koanf) {
	for _, path := range sliceFields {
		raw := k.Get(path)
		s, ok := raw.(string)
		if !ok {
			continue
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				out = append(out, t)
			}
		}
		_ = k.Set(path, out)
	}
}
