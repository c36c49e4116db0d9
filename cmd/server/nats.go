// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/custodia/internal/api"
	"github.com/tomtom215/custodia/internal/config"
	"github.com/tomtom215/custodia/internal/events"
	"github.com/tomtom215/custodia/internal/logging"
	"github.com/tomtom215/custodia/internal/metrics"
)

// natsRuntime owns the messaging layer: the optional embedded JetStream
// server, the management connection, the PIPELINE stream, the publisher and
// both subscribers. The supervisor tree drives its lifecycle through
// services.NATSRuntimeRunner; the ops endpoints read it through
// api.NATSChecker.
type natsRuntime struct {
	embedded *events.EmbeddedServer // nil when connecting to an external server
	nc       *natsgo.Conn
	streams  *events.StreamManager

	publisher *events.Publisher

	// eventSub feeds the video-discovered and feedback consumers; the
	// durable prefix yields one consumer group per topic. scanSub feeds
	// the vision dispatcher with an ack deadline that outlasts a full
	// model call.
	eventSub *events.Subscriber
	scanSub  *events.Subscriber

	mu     sync.Mutex
	closed bool
}

// initNATS builds the messaging layer from configuration. The stream is
// ensured here, before the supervisor tree starts, so consumers bind to an
// existing stream the moment they come up. On error everything constructed
// so far is torn down.
func initNATS(ctx context.Context, cfg *config.Config) (*natsRuntime, error) {
	rt := &natsRuntime{}

	var natsURL string
	if cfg.NATS.EmbeddedServer {
		serverCfg := events.ServerConfig{
			Host:              "127.0.0.1",
			Port:              4222,
			StoreDir:          cfg.NATS.StoreDir,
			JetStreamMaxMem:   cfg.NATS.MaxMemory,
			JetStreamMaxStore: cfg.NATS.MaxStore,
		}
		server, err := events.NewEmbeddedServer(&serverCfg)
		if err != nil {
			return nil, fmt.Errorf("start embedded NATS server: %w", err)
		}
		rt.embedded = server
		natsURL = server.ClientURL()
		logging.Info().Str("url", natsURL).Msg("Embedded NATS server started")
	} else {
		natsURL = cfg.NATS.URL
		logging.Info().Str("url", natsURL).Msg("Using external NATS server")
	}

	nc, err := natsgo.Connect(natsURL,
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2*time.Second),
	)
	if err != nil {
		rt.Shutdown(context.Background())
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	rt.nc = nc
	logging.Info().Msg("NATS connection established")

	streamCfg := events.DefaultStreamConfig()
	if cfg.NATS.StreamRetentionDays > 0 {
		streamCfg.MaxAge = time.Duration(cfg.NATS.StreamRetentionDays) * 24 * time.Hour
	}
	streams, err := events.NewStreamManager(nc, &streamCfg)
	if err != nil {
		rt.Shutdown(context.Background())
		return nil, err
	}
	rt.streams = streams

	stream, err := streams.EnsureStream(ctx)
	if err != nil {
		rt.Shutdown(context.Background())
		return nil, fmt.Errorf("ensure stream exists: %w", err)
	}
	streamInfo := stream.CachedInfo()
	logging.Info().
		Str("name", streamInfo.Config.Name).
		Strs("subjects", streamInfo.Config.Subjects).
		Dur("max_age", streamInfo.Config.MaxAge).
		Msg("JetStream stream ready")

	publisher, err := events.NewPublisher(events.DefaultPublisherConfig(natsURL), nil)
	if err != nil {
		rt.Shutdown(context.Background())
		return nil, err
	}
	publisher.SetCircuitBreaker(events.NewCircuitBreaker(events.DefaultCircuitBreakerConfig()))
	rt.publisher = publisher
	logging.Info().Msg("NATS publisher created")

	eventCfg := events.DefaultSubscriberConfig(natsURL)
	applySubscriberOverrides(&eventCfg, &cfg.NATS)
	eventSub, err := events.NewSubscriber(&eventCfg, nil)
	if err != nil {
		rt.Shutdown(context.Background())
		return nil, fmt.Errorf("create event subscriber: %w", err)
	}
	rt.eventSub = eventSub

	scanCfg := events.ScanReadySubscriberConfig(natsURL)
	applySubscriberOverrides(&scanCfg, &cfg.NATS)
	scanSub, err := events.NewSubscriber(&scanCfg, nil)
	if err != nil {
		rt.Shutdown(context.Background())
		return nil, fmt.Errorf("create scan subscriber: %w", err)
	}
	rt.scanSub = scanSub
	logging.Info().
		Str("durable", eventCfg.DurableName).
		Int("subscribers", eventCfg.SubscribersCount).
		Msg("NATS subscribers created")

	return rt, nil
}

// applySubscriberOverrides layers the koanf NATS settings over a subscriber
// preset. Zero values keep the preset.
func applySubscriberOverrides(sub *events.SubscriberConfig, nats *config.NATSConfig) {
	if nats.DurableName != "" {
		sub.DurableName = nats.DurableName
	}
	if nats.QueueGroup != "" {
		sub.QueueGroup = nats.QueueGroup
	}
	if nats.SubscribersCount > 0 {
		sub.SubscribersCount = nats.SubscribersCount
	}
}

// Start verifies the connection is live and the stream answers an info
// request. Construction happened in initNATS; Start only confirms health,
// so a supervisor restart retries verification without rebuilding the
// subscribers the consumers already hold.
func (r *natsRuntime) Start(ctx context.Context) error {
	if r.nc == nil || !r.nc.IsConnected() {
		return fmt.Errorf("NATS connection is not established")
	}
	info, err := r.streams.GetStreamInfo(ctx)
	if err != nil {
		return fmt.Errorf("verify stream: %w", err)
	}
	logging.Info().
		Str("stream", info.Config.Name).
		Uint64("messages", info.State.Msgs).
		Int("consumers", info.State.Consumers).
		Msg("Messaging layer ready")
	return nil
}

// Shutdown tears the messaging layer down in dependency order: subscribers
// first so consumers stop pulling, then the publisher, the connection, and
// the embedded server last. Safe to call on a partially constructed runtime
// and safe to call twice.
func (r *natsRuntime) Shutdown(ctx context.Context) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	logging.Info().Msg("Shutting down NATS components...")

	if r.eventSub != nil {
		if err := r.eventSub.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event subscriber")
		}
	}
	if r.scanSub != nil {
		if err := r.scanSub.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing scan subscriber")
		}
	}
	if r.publisher != nil {
		if err := r.publisher.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing publisher")
		}
	}
	if r.nc != nil {
		r.nc.Close()
		logging.Info().Msg("NATS connection closed")
	}
	if r.embedded != nil {
		if err := r.embedded.Shutdown(ctx); err != nil {
			logging.Error().Err(err).Msg("Error shutting down embedded NATS server")
		}
		logging.Info().Msg("Embedded NATS server stopped")
	}

	logging.Info().Msg("NATS shutdown complete")
}

// Health reports messaging-layer state for the ops endpoints.
func (r *natsRuntime) Health(ctx context.Context) api.NATSHealth {
	h := api.NATSHealth{
		Connected: r.nc != nil && r.nc.IsConnected(),
		Embedded:  r.embedded != nil,
	}
	if r.embedded != nil && !r.embedded.IsRunning() {
		h.Error = "embedded server not running"
		return h
	}
	if !h.Connected {
		h.Error = "nats connection down"
		return h
	}

	info, err := r.streams.GetStreamInfo(ctx)
	if err != nil {
		h.Error = err.Error()
		return h
	}
	h.Stream = &api.StreamHealth{
		Name:      info.Config.Name,
		Messages:  info.State.Msgs,
		Bytes:     info.State.Bytes,
		Consumers: info.State.Consumers,
	}

	// Health probes double as the consumer lag scrape. A listing failure
	// degrades the gauge, not the health verdict.
	if lag, err := r.streams.ConsumerLag(ctx); err == nil {
		for consumer, pending := range lag {
			metrics.UpdateNATSConsumerLag(consumer, pending)
		}
	} else {
		logging.Debug().Err(err).Msg("consumer lag listing failed")
	}

	h.Healthy = true
	return h
}
