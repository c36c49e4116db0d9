// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

// Package recovery reconciles state left behind by an unclean shutdown.
// A scan interrupted mid-flight leaves a running scan_history record and a
// video parked in processing; the sweep fails the record and releases the
// video so redelivery can claim it again. Aggregate counters never need
// repair here because they only move when a result is processed.
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/custodia/internal/logging"
	"github.com/tomtom215/custodia/internal/metrics"
	"github.com/tomtom215/custodia/internal/models"
)

// terminatedMessage is recorded on every scan the sweep fails.
const terminatedMessage = "instance terminated"

// sweepPageSize bounds one processing-video fetch. Resets shrink the
// result set, so paging at this size drains any backlog.
const sweepPageSize = 256

// Store is the persistence surface the sweep needs. *database.DB
// satisfies it.
type Store interface {
	ListRunningScans(ctx context.Context) ([]models.ScanRecord, error)
	FailScanRecord(ctx context.Context, scanID, message, kind string) error
	ListVideosByStatus(ctx context.Context, status models.VideoStatus, limit int) ([]models.Video, error)
	ResetProcessingVideo(ctx context.Context, id string) (bool, error)
}

// Sweeper runs the startup reconciliation pass.
type Sweeper struct {
	store Store
}

// NewSweeper returns a sweeper over the given store.
func NewSweeper(store Store) *Sweeper {
	return &Sweeper{store: store}
}

// Run executes one sweep. It must run before any consumer starts: with no
// worker active, every running scan record and every processing video is
// known to be orphaned. Per-record failures are logged and skipped so one
// bad row cannot block startup; a failed list read aborts, because
// starting consumers over unswept state would double-own videos.
func (s *Sweeper) Run(ctx context.Context) error {
	start := time.Now()

	orphaned, err := s.failOrphanedScans(ctx)
	if err != nil {
		return err
	}
	requeued, err := s.releaseProcessingVideos(ctx)
	if err != nil {
		return err
	}

	metrics.RecordRecoverySweep(orphaned, requeued)
	logging.Info().
		Int64("orphaned_scans", orphaned).
		Int64("requeued_videos", requeued).
		Dur("elapsed", time.Since(start)).
		Msg("recovery sweep completed")
	return nil
}

// failOrphanedScans closes every scan record still marked running.
func (s *Sweeper) failOrphanedScans(ctx context.Context) (int64, error) {
	scans, err := s.store.ListRunningScans(ctx)
	if err != nil {
		return 0, fmt.Errorf("list running scans: %w", err)
	}

	var orphaned int64
	for _, rec := range scans {
		if err := s.store.FailScanRecord(ctx, rec.ScanID, terminatedMessage, models.ErrKindTerminated); err != nil {
			logging.Error().
				Err(err).
				Str("scan_id", rec.ScanID).
				Str("video_id", rec.VideoID).
				Msg("failed to close orphaned scan record")
			continue
		}
		orphaned++
		logging.Warn().
			Str("scan_id", rec.ScanID).
			Str("video_id", rec.VideoID).
			Time("started_at", rec.StartedAt).
			Msg("orphaned scan failed by recovery sweep")
	}
	return orphaned, nil
}

// releaseProcessingVideos returns claimed videos to discovered so the
// pending scan-ready redeliveries can claim them again. This also covers a
// crash that landed between the claim and the scan record write.
func (s *Sweeper) releaseProcessingVideos(ctx context.Context) (int64, error) {
	var requeued int64
	for {
		videos, err := s.store.ListVideosByStatus(ctx, models.StatusProcessing, sweepPageSize)
		if err != nil {
			return requeued, fmt.Errorf("list processing videos: %w", err)
		}
		if len(videos) == 0 {
			return requeued, nil
		}

		progressed := false
		for _, v := range videos {
			reset, err := s.store.ResetProcessingVideo(ctx, v.ID)
			if err != nil {
				logging.Error().
					Err(err).
					Str("video_id", v.ID).
					Msg("failed to release processing video")
				continue
			}
			if reset {
				requeued++
				progressed = true
			}
		}
		// Only rows that failed to reset remain; retrying them now would
		// spin on the same errors.
		if !progressed {
			return requeued, nil
		}
	}
}
