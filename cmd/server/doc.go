// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

/*
Package main is the entry point for the Custodia server.

Custodia continuously discovers videos that may infringe registered
intellectual property, scores them, and dispatches the most suspicious ones
to a vision model for frame-level analysis. Discovery runs under a daily
search-quota ledger, vision analysis under a daily EUR budget ledger, and
every verdict feeds back into channel risk so the next discovery run looks
in better places.

# Application Architecture

The server implements a layered architecture with Suture v4 process
supervision:

	RootSupervisor ("custodia")
	├── DataSupervisor ("data-layer")
	│   └── Discovery Cron (scheduled search runs)
	├── MessagingSupervisor ("messaging-layer")
	│   ├── NATS Runtime (embedded JetStream, stream, publisher, subscribers)
	│   ├── Vision Dispatcher (scan-ready consumer, worker pool)
	│   ├── Discovered Consumer (rescoring on new videos)
	│   └── Feedback Consumer (channel risk updates on verdicts)
	└── APISupervisor ("api-layer")
	    └── HTTP Server (ops endpoints, Prometheus metrics)

Component initialization order:

 1. Configuration: Koanf v2 with environment variables and config files
 2. Logging: zerolog with JSON/console output modes
 3. Database: DuckDB documents, ledgers and the scan queue
 4. NATS: embedded JetStream server, PIPELINE stream, publisher, subscribers
 5. Pipeline stages: scheduler, risk engine, result processor, dispatcher
 6. Recovery sweep: orphaned scans failed, claimed videos requeued
 7. Supervisor tree: Suture v4 process supervision
 8. HTTP server: Chi router with middleware stack

The recovery sweep runs exactly once, synchronously, before the tree
starts. It is deliberately not supervised: restarting it mid-flight could
double-release scan claims.

# Configuration

Configuration is loaded via Koanf v2 with layered sources (highest priority
wins):

	Priority: Environment variables > Config file > Defaults

The config file is located via CUSTODIA_CONFIG, falling back to
./config.yaml and /etc/custodia/config.yaml. Core environment variables:

	# Discovery and quota
	YOUTUBE_API_KEY=<key>        # Required for discovery
	DAILY_QUOTA_UNITS=10000      # Search API units per quota day
	QUOTA_TIMEZONE=America/Los_Angeles
	DISCOVERY_INTERVAL=6h        # 0 disables the cron, manual triggers only

	# Vision and budget
	VISION_API_KEY=<key>         # Required for vision scans
	VISION_MODEL=gemini-2.5-flash
	DAILY_BUDGET_EUR=260         # Vision spend ceiling per calendar day (UTC)
	DISPATCH_WORKERS=4

	# Messaging
	NATS_EMBEDDED=true           # In-process JetStream server
	NATS_URL=nats://127.0.0.1:4222 # External server when NATS_EMBEDDED=false
	NATS_STORE_DIR=/data/nats/jetstream

	# Storage and server
	DUCKDB_PATH=/data/custodia.duckdb
	HTTP_PORT=8080
	LOG_LEVEL=info               # trace, debug, info, warn, error
	LOG_FORMAT=json              # json or console

# Signal Handling

The server handles graceful shutdown on SIGINT and SIGTERM:

 1. Stops accepting new HTTP connections
 2. Consumers stop pulling; in-flight scans settle or redeliver after the
    ack deadline
 3. Subscribers, publisher and the embedded NATS server close in order
 4. Flushes pending writes and closes the database
 5. Reports any services that failed to stop

Quota and budget reservations live in DuckDB ledgers, so spend accounting
survives a crash; the recovery sweep returns orphaned work to the queue on
the next boot.

# Usage Examples

Development (console logs, manual discovery only):

	export YOUTUBE_API_KEY=xxx VISION_API_KEY=xxx
	export DISCOVERY_INTERVAL=0 LOG_FORMAT=console
	go run ./cmd/server

Production:

	export YOUTUBE_API_KEY=xxx VISION_API_KEY=xxx
	export DAILY_QUOTA_UNITS=10000 DAILY_BUDGET_EUR=260
	./custodia

Docker:

	docker run -d \
	  -e YOUTUBE_API_KEY=xxx \
	  -e VISION_API_KEY=xxx \
	  -v custodia-data:/data \
	  -p 8080:8080 \
	  ghcr.io/tomtom215/custodia

# See Also

  - internal/config: Configuration management
  - internal/supervisor: Process supervision
  - internal/discovery: Search planning and the quota gate
  - internal/vision: Dispatcher and model client
  - internal/api: Ops HTTP handlers and routing
*/
package main
