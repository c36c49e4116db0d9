// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

// Package config loads and validates the Custodia configuration.
//
// Configuration is layered with Koanf v2: built-in defaults, then an
// optional YAML file, then environment variables. Environment always wins.
// The recognized environment surface is documented on envTransformFunc.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the pipeline process.
type Config struct {
	Discovery DiscoveryConfig `koanf:"discovery"`
	Quota     QuotaConfig     `koanf:"quota"`
	Budget    BudgetConfig    `koanf:"budget"`
	YouTube   YouTubeConfig   `koanf:"youtube"`
	Vision    VisionConfig    `koanf:"vision"`
	NATS      NATSConfig      `koanf:"nats"`
	Database  DatabaseConfig  `koanf:"database"`
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// DiscoveryConfig controls the discovery scheduler.
type DiscoveryConfig struct {
	// Interval between scheduled discovery runs. Zero disables the cron;
	// runs can still be triggered through the ops API.
	Interval time.Duration `koanf:"interval"`

	// MaxVideosToScan is the top-K enqueued for vision analysis after a run.
	MaxVideosToScan int `koanf:"max_videos_to_scan"`

	// MaxChannelScans caps the channel scans reserved per plan (2 quota
	// units each).
	MaxChannelScans int `koanf:"max_channel_scans"`

	// ChannelRescanDays excludes channels scanned within the window from
	// channel-scan planning.
	ChannelRescanDays int `koanf:"channel_rescan_days"`
}

// QuotaConfig controls the daily search-API quota ledger.
type QuotaConfig struct {
	// DailyUnits is the hard daily quota in API units.
	DailyUnits int64 `koanf:"daily_units"`

	// Timezone is the IANA zone whose calendar date keys the ledger. The
	// search API resets quota on Pacific midnight, so changing this is
	// almost always wrong.
	Timezone string `koanf:"timezone"`
}

// BudgetConfig controls the daily vision-spend ledger (UTC-keyed).
type BudgetConfig struct {
	DailyEUR float64 `koanf:"daily_eur"`
}

// YouTubeConfig configures the external search API client.
type YouTubeConfig struct {
	APIKey string `koanf:"api_key"`

	// Region biases search results (ISO 3166-1 alpha-2).
	Region string `koanf:"region"`

	// RequestsPerSecond paces outbound calls below the per-second burst
	// limits that sit underneath the daily quota.
	RequestsPerSecond float64 `koanf:"requests_per_second"`
}

// VisionConfig configures the vision-analysis backend and dispatcher.
type VisionConfig struct {
	APIKey  string `koanf:"api_key"`
	Model   string `koanf:"model"`
	Region  string `koanf:"region"`
	BaseURL string `koanf:"base_url"` // override for tests; empty means the public endpoint

	// MaxFrames caps the frames sampled from a single video.
	MaxFrames int `koanf:"max_frames"`

	// MinScanPriority drops scan-ready messages below the threshold; they
	// are acked and the video marked skipped. Zero scans everything.
	MinScanPriority float64 `koanf:"min_scan_priority"`

	// Per-million-token prices in EUR.
	InputPricePerM  float64 `koanf:"input_price_per_1m"`
	OutputPricePerM float64 `koanf:"output_price_per_1m"`
	AudioPricePerM  float64 `koanf:"audio_price_per_1m"`

	// Workers is the dispatcher pool size; each worker owns one in-flight
	// scan at a time.
	Workers int `koanf:"workers"`

	// CallTimeout bounds one model invocation including retries.
	CallTimeout time.Duration `koanf:"call_timeout"`

	Temperature     float64 `koanf:"temperature"`
	MaxOutputTokens int     `koanf:"max_output_tokens"`
}

// NATSConfig configures the event transport.
type NATSConfig struct {
	URL string `koanf:"url"`

	// EmbeddedServer runs an in-process JetStream server instead of
	// connecting to URL. Single-binary deployments keep this on.
	EmbeddedServer bool   `koanf:"embedded_server"`
	StoreDir       string `koanf:"store_dir"`
	MaxMemory      int64  `koanf:"max_memory"`
	MaxStore       int64  `koanf:"max_store"`

	StreamRetentionDays int    `koanf:"stream_retention_days"`
	SubscribersCount    int    `koanf:"subscribers_count"`
	DurableName         string `koanf:"durable_name"`
	QueueGroup          string `koanf:"queue_group"`
}

// DatabaseConfig configures the DuckDB store.
type DatabaseConfig struct {
	Path                   string `koanf:"path"`
	MaxMemory              string `koanf:"max_memory"`
	Threads                int    `koanf:"threads"` // 0 = runtime.NumCPU()
	PreserveInsertionOrder bool   `koanf:"preserve_insertion_order"`
}

// ServerConfig configures the ops HTTP server.
type ServerConfig struct {
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port"`
	Timeout     time.Duration `koanf:"timeout"`
	Environment string        `koanf:"environment"`
	CORSOrigins []string      `koanf:"cors_origins"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with every default applied. Defaults are
// layered first, then overridden by the config file and environment.
func defaultConfig() *Config {
	return &Config{
		Discovery: DiscoveryConfig{
			Interval:          6 * time.Hour,
			MaxVideosToScan:   500,
			MaxChannelScans:   20,
			ChannelRescanDays: 7,
		},
		Quota: QuotaConfig{
			DailyUnits: 10000,
			Timezone:   "America/Los_Angeles",
		},
		Budget: BudgetConfig{
			DailyEUR: 260,
		},
		YouTube: YouTubeConfig{
			APIKey:            "",
			Region:            "US",
			RequestsPerSecond: 5,
		},
		Vision: VisionConfig{
			APIKey:          "",
			Model:           "gemini-2.5-flash",
			Region:          "europe-west4",
			BaseURL:         "",
			MaxFrames:       300,
			MinScanPriority: 0,
			InputPricePerM:  0.30,
			OutputPricePerM: 2.50,
			AudioPricePerM:  1.00,
			Workers:         4,
			CallTimeout:     15 * time.Minute,
			Temperature:     0.1,
			MaxOutputTokens: 8192,
		},
		NATS: NATSConfig{
			URL:                 "nats://127.0.0.1:4222",
			EmbeddedServer:      true,
			StoreDir:            "/data/nats/jetstream",
			MaxMemory:           1 << 30,  // 1GB
			MaxStore:            10 << 30, // 10GB
			StreamRetentionDays: 7,
			SubscribersCount:    4,
			DurableName:         "custodia-pipeline",
			QueueGroup:          "pipeline",
		},
		Database: DatabaseConfig{
			Path:                   "/data/custodia.duckdb",
			MaxMemory:              "2GB",
			Threads:                0,
			PreserveInsertionOrder: true,
		},
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			Timeout:     30 * time.Second,
			Environment: "development",
			CORSOrigins: []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate checks ranges and cross-field constraints. It returns the first
// problem found; startup aborts on any configuration error.
func (c *Config) Validate() error {
	if c.Quota.DailyUnits <= 0 {
		return fmt.Errorf("quota.daily_units must be positive, got %d", c.Quota.DailyUnits)
	}
	if _, err := time.LoadLocation(c.Quota.Timezone); err != nil {
		return fmt.Errorf("quota.timezone %q is not a valid IANA zone: %w", c.Quota.Timezone, err)
	}
	if c.Budget.DailyEUR <= 0 {
		return fmt.Errorf("budget.daily_eur must be positive, got %v", c.Budget.DailyEUR)
	}
	if c.Discovery.MaxVideosToScan < 0 {
		return fmt.Errorf("discovery.max_videos_to_scan must be >= 0, got %d", c.Discovery.MaxVideosToScan)
	}
	if c.Discovery.MaxChannelScans < 0 {
		return fmt.Errorf("discovery.max_channel_scans must be >= 0, got %d", c.Discovery.MaxChannelScans)
	}
	if c.Discovery.ChannelRescanDays <= 0 {
		return fmt.Errorf("discovery.channel_rescan_days must be positive, got %d", c.Discovery.ChannelRescanDays)
	}
	if c.Vision.MaxFrames <= 0 {
		return fmt.Errorf("vision.max_frames must be positive, got %d", c.Vision.MaxFrames)
	}
	if c.Vision.MinScanPriority < 0 || c.Vision.MinScanPriority > 100 {
		return fmt.Errorf("vision.min_scan_priority must be in [0,100], got %v", c.Vision.MinScanPriority)
	}
	if c.Vision.Workers <= 0 {
		return fmt.Errorf("vision.workers must be positive, got %d", c.Vision.Workers)
	}
	if c.Vision.CallTimeout <= 0 {
		return fmt.Errorf("vision.call_timeout must be positive, got %v", c.Vision.CallTimeout)
	}
	if c.Vision.InputPricePerM < 0 || c.Vision.OutputPricePerM < 0 || c.Vision.AudioPricePerM < 0 {
		return fmt.Errorf("vision token prices must be >= 0")
	}
	if c.Vision.Model == "" {
		return fmt.Errorf("vision.model must be set")
	}
	if c.YouTube.RequestsPerSecond <= 0 {
		return fmt.Errorf("youtube.requests_per_second must be positive, got %v", c.YouTube.RequestsPerSecond)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in [1,65535], got %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must be set")
	}
	if !c.NATS.EmbeddedServer && c.NATS.URL == "" {
		return fmt.Errorf("nats.url must be set when nats.embedded_server is false")
	}
	if c.NATS.SubscribersCount <= 0 {
		return fmt.Errorf("nats.subscribers_count must be positive, got %d", c.NATS.SubscribersCount)
	}
	return nil
}

// QuotaLocation returns the loaded quota timezone. Validate must have
// passed; on a bad zone this falls back to UTC rather than panicking.
func (c *Config) QuotaLocation() *time.Location {
	loc, err := time.LoadLocation(c.Quota.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
