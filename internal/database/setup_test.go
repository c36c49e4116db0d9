// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package database

import (
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/custodia/internal/config"
	"github.com/tomtom215/custodia/internal/models"
)

// testDBSemaphore fully serializes test database lifecycles. Concurrent
// DuckDB CGO calls from parallel tests can hang under CI resource pressure,
// so only one test holds an active connection at a time.
var testDBSemaphore = make(chan struct{}, 1)

// testDBMutex additionally serializes the New() call itself.
var testDBMutex sync.Mutex

// setupTestDB creates an in-memory test database. The semaphore is held for
// the whole test lifecycle and released via t.Cleanup.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	testDBSemaphore <- struct{}{}
	t.Cleanup(func() {
		<-testDBSemaphore
	})

	cfg := &config.DatabaseConfig{
		Path:      ":memory:",
		MaxMemory: "1GB",
	}

	type result struct {
		db  *DB
		err error
	}
	resultCh := make(chan result, 1)
	go func() {
		testDBMutex.Lock()
		db, err := New(cfg)
		testDBMutex.Unlock()
		resultCh <- result{db: db, err: err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			t.Fatalf("Failed to create test database: %v", res.err)
		}
		t.Cleanup(func() {
			if err := res.db.Close(); err != nil {
				t.Logf("Failed to close test database: %v", err)
			}
		})
		return res.db
	case <-time.After(120 * time.Second):
		t.Fatalf("Timeout: database creation took longer than 120s")
		return nil
	}
}

// testVideo builds a minimal discovered video for store tests.
func testVideo(id, channelID string) *models.Video {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &models.Video{
		ID:              id,
		Title:           "Test video " + id,
		ChannelID:       channelID,
		ChannelTitle:    "Channel " + channelID,
		DurationSeconds: 300,
		ViewCount:       1000,
		LikeCount:       50,
		CommentCount:    10,
		PublishedAt:     now.Add(-72 * time.Hour),
		DiscoveredAt:    now,
		MatchedIPs:      []string{"ip-alpha"},
		Status:          models.StatusDiscovered,
		InitialRisk:     42.5,
		CurrentRisk:     42.5,
		ScanPriority:    55,
		PriorityTier:    models.TierMedium,
	}
}

// testIPConfig builds a minimal enabled config for store tests.
func testIPConfig(id string) *models.IPConfig {
	return &models.IPConfig{
		ID:                   id,
		DisplayName:          "Property " + id,
		Owner:                "Studio",
		Characters:           []string{"The Captain", "Navigator"},
		VisualMarkers:        []string{"red uniform"},
		AIToolPatterns:       []string{"sora", "veo"},
		FalsePositiveFilters: []string{"official trailer"},
		SearchKeywords: models.KeywordBuckets{
			High:   []string{"captain adventures"},
			Medium: []string{"captain fan film"},
			Low:    []string{"captain"},
		},
		HighPriority: true,
		Enabled:      true,
	}
}
