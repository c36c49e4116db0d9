// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package database

import (
	"context"
	"testing"

	"github.com/tomtom215/custodia/internal/models"
)

func TestScanRecordLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	rec, err := db.CreateScanRecord(ctx, "vidscan0001")
	if err != nil {
		t.Fatalf("CreateScanRecord() error = %v", err)
	}
	if rec.ScanID == "" {
		t.Fatal("ScanID not assigned")
	}
	if rec.Status != models.ScanRunning {
		t.Errorf("Status = %q, want %q", rec.Status, models.ScanRunning)
	}

	if err := db.CompleteScanRecord(ctx, rec.ScanID, 0.37); err != nil {
		t.Fatalf("CompleteScanRecord() error = %v", err)
	}

	got, err := db.GetScanRecord(ctx, rec.ScanID)
	if err != nil {
		t.Fatalf("GetScanRecord() error = %v", err)
	}
	if got.Status != models.ScanCompleted {
		t.Errorf("Status = %q, want %q", got.Status, models.ScanCompleted)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt = nil after completion")
	}
	if got.CostEUR != 0.37 {
		t.Errorf("CostEUR = %v, want 0.37", got.CostEUR)
	}
}

func TestFailScanRecord(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	rec, err := db.CreateScanRecord(ctx, "vidscan0002")
	if err != nil {
		t.Fatalf("CreateScanRecord() error = %v", err)
	}
	if err := db.FailScanRecord(ctx, rec.ScanID, "video is private", models.ErrKindPermission); err != nil {
		t.Fatalf("FailScanRecord() error = %v", err)
	}

	got, err := db.GetScanRecord(ctx, rec.ScanID)
	if err != nil {
		t.Fatalf("GetScanRecord() error = %v", err)
	}
	if got.Status != models.ScanFailed {
		t.Errorf("Status = %q, want %q", got.Status, models.ScanFailed)
	}
	if got.Error != "video is private" {
		t.Errorf("Error = %q, want the failure message", got.Error)
	}
	if got.ErrorKind != models.ErrKindPermission {
		t.Errorf("ErrorKind = %q, want %q", got.ErrorKind, models.ErrKindPermission)
	}
}

func TestListRunningScans(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	first, err := db.CreateScanRecord(ctx, "vidscan0003")
	if err != nil {
		t.Fatalf("CreateScanRecord() error = %v", err)
	}
	second, err := db.CreateScanRecord(ctx, "vidscan0004")
	if err != nil {
		t.Fatalf("CreateScanRecord() error = %v", err)
	}
	done, err := db.CreateScanRecord(ctx, "vidscan0005")
	if err != nil {
		t.Fatalf("CreateScanRecord() error = %v", err)
	}
	if err := db.CompleteScanRecord(ctx, done.ScanID, 0.2); err != nil {
		t.Fatalf("CompleteScanRecord() error = %v", err)
	}

	running, err := db.ListRunningScans(ctx)
	if err != nil {
		t.Fatalf("ListRunningScans() error = %v", err)
	}
	if len(running) != 2 {
		t.Fatalf("ListRunningScans() returned %d, want 2", len(running))
	}
	ids := map[string]bool{running[0].ScanID: true, running[1].ScanID: true}
	if !ids[first.ScanID] || !ids[second.ScanID] {
		t.Errorf("running set = %v, want %s and %s", ids, first.ScanID, second.ScanID)
	}
}

func TestRecentScansForVideo(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rec, err := db.CreateScanRecord(ctx, "vidscan0006")
		if err != nil {
			t.Fatalf("CreateScanRecord() error = %v", err)
		}
		if err := db.CompleteScanRecord(ctx, rec.ScanID, 0.1); err != nil {
			t.Fatalf("CompleteScanRecord() error = %v", err)
		}
	}
	if _, err := db.CreateScanRecord(ctx, "vidscan0007"); err != nil {
		t.Fatalf("CreateScanRecord() error = %v", err)
	}

	got, err := db.RecentScansForVideo(ctx, "vidscan0006", 2)
	if err != nil {
		t.Fatalf("RecentScansForVideo() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("returned %d records, want 2", len(got))
	}
	for _, rec := range got {
		if rec.VideoID != "vidscan0006" {
			t.Errorf("record for wrong video: %s", rec.VideoID)
		}
	}
}
