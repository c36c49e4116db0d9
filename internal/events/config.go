// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package events

import (
	"os"
	"strconv"
	"time"
)

// Environment variable helper functions to reduce cyclomatic complexity

func getEnvString(key string, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

// StreamName is the single JetStream stream carrying all pipeline subjects.
const StreamName = "PIPELINE"

// ServerConfig holds embedded NATS server configuration.
type ServerConfig struct {
	Host              string
	Port              int
	StoreDir          string
	JetStreamMaxMem   int64
	JetStreamMaxStore int64
}

// DefaultServerConfig returns production defaults for the embedded server.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:              "127.0.0.1",
		Port:              4222,
		StoreDir:          "/data/nats/jetstream",
		JetStreamMaxMem:   1 << 30,  // 1GB
		JetStreamMaxStore: 10 << 30, // 10GB
	}
}

// LoadServerConfig loads embedded server configuration from environment
// variables. Unset variables use defaults from DefaultServerConfig.
func LoadServerConfig() ServerConfig {
	cfg := DefaultServerConfig()

	cfg.Host = getEnvString("NATS_HOST", cfg.Host)
	cfg.Port = getEnvInt("NATS_PORT", cfg.Port)
	cfg.StoreDir = getEnvString("NATS_STORE_DIR", cfg.StoreDir)
	cfg.JetStreamMaxMem = getEnvInt64("NATS_MAX_MEMORY", cfg.JetStreamMaxMem)
	cfg.JetStreamMaxStore = getEnvInt64("NATS_MAX_STORE", cfg.JetStreamMaxStore)

	return cfg
}

// PublisherConfig holds publisher configuration.
type PublisherConfig struct {
	URL              string
	MaxReconnects    int
	ReconnectWait    time.Duration
	ReconnectBuffer  int
	EnableTrackMsgID bool // nolint:revive // ID is correct per Go conventions
}

// DefaultPublisherConfig returns production defaults for publisher.
func DefaultPublisherConfig(url string) PublisherConfig {
	return PublisherConfig{
		URL:              url,
		MaxReconnects:    -1, // Unlimited
		ReconnectWait:    2 * time.Second,
		ReconnectBuffer:  8 * 1024 * 1024, // 8MB
		EnableTrackMsgID: true,
	}
}

// SubscriberConfig holds subscriber configuration.
type SubscriberConfig struct {
	URL              string
	DurableName      string
	QueueGroup       string
	SubscribersCount int
	AckWaitTimeout   time.Duration
	MaxDeliver       int
	MaxAckPending    int
	CloseTimeout     time.Duration
	MaxReconnects    int
	ReconnectWait    time.Duration
	// StreamName binds the subscriber to an existing stream via
	// nats.BindStream, disabling AutoProvision. Required here because
	// the PIPELINE stream is pre-created with a wildcard subject filter
	// and stream names cannot be derived from wildcard topics.
	StreamName string
}

// DefaultSubscriberConfig returns production defaults for a pipeline
// subscriber. The durable name is suffixed per consumer at call sites so
// each consumer group tracks its own position in the stream.
func DefaultSubscriberConfig(url string) SubscriberConfig {
	return SubscriberConfig{
		URL:              url,
		DurableName:      "custodia-pipeline",
		QueueGroup:       "pipeline",
		SubscribersCount: 4,
		AckWaitTimeout:   30 * time.Second,
		MaxDeliver:       5,    // Max redelivery attempts
		MaxAckPending:    1000, // Flow control
		CloseTimeout:     30 * time.Second,
		MaxReconnects:    -1,
		ReconnectWait:    2 * time.Second,
		StreamName:       StreamName,
	}
}

// ScanReadySubscriberConfig returns subscriber settings tuned for the
// vision dispatcher. The ack deadline must outlast the model call
// deadline (15 minutes, retries included) or JetStream would redeliver
// messages whose scan is still in flight; the in-flight window stays
// small because each message holds a worker for the whole scan.
func ScanReadySubscriberConfig(url string) SubscriberConfig {
	cfg := DefaultSubscriberConfig(url)
	cfg.AckWaitTimeout = 16 * time.Minute
	cfg.MaxAckPending = 64
	return cfg
}

// LoadSubscriberConfig loads subscriber configuration from environment
// variables. Unset variables use defaults from DefaultSubscriberConfig.
func LoadSubscriberConfig(url string) SubscriberConfig {
	cfg := DefaultSubscriberConfig(url)

	cfg.DurableName = getEnvString("NATS_DURABLE_NAME", cfg.DurableName)
	cfg.QueueGroup = getEnvString("NATS_QUEUE_GROUP", cfg.QueueGroup)
	cfg.SubscribersCount = getEnvInt("NATS_SUBSCRIBERS", cfg.SubscribersCount)
	cfg.AckWaitTimeout = getEnvDuration("NATS_ACK_WAIT", cfg.AckWaitTimeout)
	cfg.MaxDeliver = getEnvInt("NATS_MAX_DELIVER", cfg.MaxDeliver)
	cfg.MaxAckPending = getEnvInt("NATS_MAX_ACK_PENDING", cfg.MaxAckPending)

	return cfg
}

// StreamConfig defines pipeline stream settings.
type StreamConfig struct {
	Name            string
	Subjects        []string
	MaxAge          time.Duration
	MaxBytes        int64
	MaxMsgs         int64
	DuplicateWindow time.Duration
	Replicas        int
}

// DefaultStreamConfig returns production stream configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Name:            StreamName,
		Subjects:        []string{"pipeline.>"},
		MaxAge:          7 * 24 * time.Hour,
		MaxBytes:        10 << 30, // 10GB
		MaxMsgs:         -1,       // Unlimited count, bounded by age/bytes
		DuplicateWindow: 2 * time.Minute,
		Replicas:        1,
	}
}

// LoadStreamConfig loads stream configuration from environment variables.
// Unset variables use defaults from DefaultStreamConfig.
func LoadStreamConfig() StreamConfig {
	cfg := DefaultStreamConfig()

	if days := getEnvInt("NATS_RETENTION_DAYS", 0); days > 0 {
		cfg.MaxAge = time.Duration(days) * 24 * time.Hour
	}
	cfg.MaxBytes = getEnvInt64("NATS_STREAM_MAX_BYTES", cfg.MaxBytes)
	cfg.DuplicateWindow = getEnvDuration("NATS_DUPLICATE_WINDOW", cfg.DuplicateWindow)

	return cfg
}

// CircuitBreakerConfig holds circuit breaker settings for publishing.
type CircuitBreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// DefaultCircuitBreakerConfig returns production circuit breaker settings.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             "nats-publisher",
		MaxRequests:      3, // Half-open probe window
		Interval:         30 * time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
	}
}
