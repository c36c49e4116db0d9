// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/custodia/internal/database"
	"github.com/tomtom215/custodia/internal/discovery"
	"github.com/tomtom215/custodia/internal/logging"
	"github.com/tomtom215/custodia/internal/metrics"
	"github.com/tomtom215/custodia/internal/models"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// maxTriggerKeywords caps the keyword override on a manual discovery run.
// The planner caps per-run queries anyway; this just rejects absurd bodies
// before a run starts.
const maxTriggerKeywords = 50

// Store is the database surface the ops endpoints read. *database.DB
// satisfies it.
type Store interface {
	Ping(ctx context.Context) error
	GetHourlyStats(ctx context.Context, hourKey string) (*models.HourlyStats, error)
	GetSystemStats(ctx context.Context) (*models.SystemStats, error)
	RebuildRollups(ctx context.Context) (*database.RollupRebuildResult, error)
}

// QuotaReader reads the daily search-quota ledger. *quota.Manager satisfies
// it.
type QuotaReader interface {
	Stats(ctx context.Context) (*models.QuotaUsage, error)
}

// BudgetReader reads the daily vision-budget ledger. *budget.Manager
// satisfies it.
type BudgetReader interface {
	Stats(ctx context.Context) (*models.BudgetUsage, error)
	DailyLimit() float64
}

// DiscoveryRunner is the manual-trigger surface. *discovery.Scheduler
// satisfies it.
type DiscoveryRunner interface {
	Run(ctx context.Context, opts discovery.RunOptions) (*discovery.RunStats, error)
	Running() bool
}

// NATSChecker reports messaging-layer health. The server's NATS runtime
// satisfies it.
type NATSChecker interface {
	Health(ctx context.Context) NATSHealth
}

// NATSHealth is the health detail for the messaging layer.
type NATSHealth struct {
	Healthy   bool          `json:"healthy"`
	Connected bool          `json:"connected"`
	Embedded  bool          `json:"embedded"`
	Stream    *StreamHealth `json:"stream,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// StreamHealth describes the pipeline stream backing the event flow.
type StreamHealth struct {
	Name      string `json:"name"`
	Messages  uint64 `json:"messages"`
	Bytes     uint64 `json:"bytes"`
	Consumers int    `json:"consumers"`
}

// Handler serves the operational endpoints. All dependencies are narrow
// read or trigger surfaces; the handler owns no pipeline state.
type Handler struct {
	db        Store
	quota     QuotaReader
	budget    BudgetReader
	discovery DiscoveryRunner
	nats      NATSChecker
	startTime time.Time
	now       func() time.Time
}

// NewHandler creates the ops handler. nats may be nil until the messaging
// runtime is up; health endpoints then report it as unavailable.
func NewHandler(db Store, quota QuotaReader, budget BudgetReader, runner DiscoveryRunner, nats NATSChecker) *Handler {
	return &Handler{
		db:        db,
		quota:     quota,
		budget:    budget,
		discovery: runner,
		nats:      nats,
		startTime: time.Now(),
		now:       time.Now,
	}
}

// HealthLive answers liveness probes. It touches no dependency, so it stays
// responsive while vision calls or discovery runs are in flight.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime).Seconds()
	metrics.AppUptime.Set(uptime)

	NewResponseWriter(w, r).Success(map[string]interface{}{
		"alive":  true,
		"uptime": uptime,
	})
}

// HealthReady answers readiness probes: 200 only when the database answers
// a ping and the messaging layer is connected, 503 otherwise.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	dbConnected := h.db != nil && h.db.Ping(r.Context()) == nil
	natsConnected := h.nats != nil && h.nats.Health(r.Context()).Connected
	ready := dbConnected && natsConnected

	statusCode := http.StatusOK
	status := "ready"
	if !ready {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	rw.SuccessWithStatus(statusCode, map[string]interface{}{
		"status":             status,
		"database_connected": dbConnected,
		"nats_connected":     natsConnected,
		"uptime":             time.Since(h.startTime).Seconds(),
	})
}

// Health reports overall component health. Always 200; a degraded status is
// information, not an error.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	dbConnected := h.db != nil && h.db.Ping(r.Context()) == nil
	natsHealthy := h.nats != nil && h.nats.Health(r.Context()).Healthy

	status := "healthy"
	if !dbConnected || !natsHealthy {
		status = "degraded"
	}

	rw.Success(map[string]interface{}{
		"status":             status,
		"version":            Version,
		"database_connected": dbConnected,
		"nats_healthy":       natsHealthy,
		"uptime":             time.Since(h.startTime).Seconds(),
	})
}

// HealthNATS reports messaging-layer detail: connection, embedded server,
// and pipeline stream counters. 503 when unhealthy.
func (h *Handler) HealthNATS(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	if h.nats == nil {
		rw.ServiceUnavailable("Messaging layer not initialized")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	health := h.nats.Health(ctx)
	statusCode := http.StatusOK
	if !health.Healthy {
		statusCode = http.StatusServiceUnavailable
	}
	rw.SuccessWithStatus(statusCode, health)
}

// StatsResponse is the /stats payload: both daily ledgers, the global
// rollup, and the current UTC hour's counters.
type StatsResponse struct {
	Quota       *QuotaReadout       `json:"quota"`
	Budget      *BudgetReadout      `json:"budget"`
	System      *models.SystemStats `json:"system"`
	CurrentHour *models.HourlyStats `json:"current_hour"`
}

// QuotaReadout is the quota ledger with the derived remaining figure.
type QuotaReadout struct {
	*models.QuotaUsage
	RemainingUnits int64 `json:"remaining_units"`
}

// BudgetReadout is the budget ledger with the configured limit and derived
// remaining figure.
type BudgetReadout struct {
	*models.BudgetUsage
	DailyLimitEUR float64 `json:"daily_limit_eur"`
	RemainingEUR  float64 `json:"remaining_eur"`
}

// Stats serves the combined ledger readout the dashboard polls.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	ctx := r.Context()

	quotaUsage, err := h.quota.Stats(ctx)
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	budgetUsage, err := h.budget.Stats(ctx)
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	system, err := h.db.GetSystemStats(ctx)
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	hourKey := h.now().UTC().Format(models.HourlyKeyLayout)
	hour, err := h.db.GetHourlyStats(ctx, hourKey)
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	dailyLimit := h.budget.DailyLimit()
	remaining := dailyLimit - budgetUsage.TotalSpentEUR
	if remaining < 0 {
		remaining = 0
	}

	rw.Success(StatsResponse{
		Quota: &QuotaReadout{
			QuotaUsage:     quotaUsage,
			RemainingUnits: quotaUsage.Remaining(),
		},
		Budget: &BudgetReadout{
			BudgetUsage:   budgetUsage,
			DailyLimitEUR: dailyLimit,
			RemainingEUR:  remaining,
		},
		System:      system,
		CurrentHour: hour,
	})
}

// DiscoveryRunRequest is the optional manual-trigger body. Keywords, when
// given, replace the configured keyword pool for this run only; max_quota
// bounds the units this run may spend below the daily remainder.
type DiscoveryRunRequest struct {
	Keywords []string `json:"keywords"`
	MaxQuota int64    `json:"max_quota"`
}

// DiscoveryRun starts a manual discovery run in the background and answers
// 202. A run already holding the scheduler answers 409; a trigger is never
// queued behind a running pass because both would drain the same quota day.
func (h *Handler) DiscoveryRun(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req DiscoveryRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		rw.BadRequest("Invalid JSON body")
		return
	}
	if len(req.Keywords) > maxTriggerKeywords {
		rw.ValidationError("Too many keywords", map[string]interface{}{
			"max": maxTriggerKeywords,
			"got": len(req.Keywords),
		})
		return
	}

	if h.discovery.Running() {
		rw.Conflict("Discovery run already in progress")
		return
	}

	// The run outlives this response; detach from the request context but
	// keep its correlation ID so the run's log lines trace back to the
	// trigger.
	runCtx := logging.ContextWithCorrelationID(
		context.Background(),
		logging.CorrelationIDFromContext(r.Context()),
	)
	go func() {
		_, err := h.discovery.Run(runCtx, discovery.RunOptions{
			Trigger:  discovery.TriggerManual,
			Keywords: req.Keywords,
			MaxQuota: req.MaxQuota,
		})
		logger := logging.Ctx(runCtx)
		switch {
		case errors.Is(err, discovery.ErrRunInProgress):
			logger.Warn().Msg("manual trigger lost the race to a concurrent run")
		case err != nil:
			logger.Error().Err(err).Msg("manual discovery run failed")
		}
	}()

	rw.Accepted(map[string]interface{}{
		"status":   "started",
		"trigger":  discovery.TriggerManual,
		"keywords": len(req.Keywords),
	})
}

// RebuildRollups recomputes every channel and system rollup from the video
// store. Synchronous; the rebuild is a few SQL passes even on large stores.
func (h *Handler) RebuildRollups(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	result, err := h.db.RebuildRollups(r.Context())
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Success(result)
}
