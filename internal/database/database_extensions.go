// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

/*
database_extensions.go - DuckDB Extension Installation

Required extensions:
  - icu: Timezone-aware timestamp operations (TIMESTAMPTZ defaults)
  - json: JSON column processing for analysis summaries and IP results

Installation Strategy:
Each extension follows a fallback pattern:
 1. Try INSTALL <extension>
 2. If install fails, try LOAD <extension> (may already be installed)
 3. If load fails, try FORCE INSTALL <extension>
 4. If DUCKDB_EXTENSIONS_OPTIONAL=true and all fail, degrade gracefully

CGO calls don't respect context cancellation, so all extension statements
run under goroutine-based hard timeouts.

Environment Variables:
  - DUCKDB_EXTENSIONS_OPTIONAL=true: Allow startup without extensions (testing)
  - DUCKDB_EXTENSION_TIMEOUT: Override the 30s hard timeout (e.g. "60s")
*/

//nolint:staticcheck // File documentation, not package doc
package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/tomtom215/custodia/internal/logging"
)

// extensionTimeout is the hard timeout for extension operations.
// CGO calls don't respect context cancellation, so we need goroutine-based
// timeouts. Overridable via DUCKDB_EXTENSION_TIMEOUT.
var extensionTimeout = getExtensionTimeout()

// extensionRetryConfig controls retry behavior for extension operations
type extensionRetryConfig struct {
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	BackoffMult float64
}

var defaultRetryConfig = extensionRetryConfig{
	MaxRetries:  3,
	BaseDelay:   2 * time.Second,
	MaxDelay:    30 * time.Second,
	BackoffMult: 2.0,
}

func getExtensionTimeout() time.Duration {
	if timeoutStr := os.Getenv("DUCKDB_EXTENSION_TIMEOUT"); timeoutStr != "" {
		if d, err := time.ParseDuration(timeoutStr); err == nil && d > 0 {
			return d
		}
	}
	return 30 * time.Second
}

// duckdbVersion is the DuckDB version used for extension paths.
// Must match the duckdb-go-bindings version in go.mod.
const duckdbVersion = "v1.4.3"

// isExtensionInstalledLocally checks if an extension file exists in the
// local DuckDB extension directory, so network INSTALL commands can be
// skipped when extensions are pre-installed.
func isExtensionInstalledLocally(extensionName string) bool {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return false
	}

	platform := runtime.GOOS + "_" + runtime.GOARCH
	extPath := filepath.Join(homeDir, ".duckdb", "extensions", duckdbVersion, platform, extensionName+".duckdb_extension")

	_, err = os.Stat(extPath)
	return err == nil
}

// extensionContext returns a context with timeout for extension operations
func extensionContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

type execResult struct {
	err error
}

type queryResult struct {
	value interface{}
	err   error
}

// execWithHardTimeout executes a SQL statement with a goroutine-based hard
// timeout. DuckDB CGO calls can ignore context cancellation; ExecContext is
// still used for resource cleanup, but the timeout is enforced via select.
func (db *DB) execWithHardTimeout(query string) error {
	resultCh := make(chan execResult, 1)

	ctx, cancel := extensionContext()
	defer cancel()

	go func() {
		_, err := db.conn.ExecContext(ctx, query)
		resultCh <- execResult{err: err}
	}()

	select {
	case result := <-resultCh:
		return result.err
	case <-time.After(extensionTimeout):
		return fmt.Errorf("operation timed out after %v", extensionTimeout)
	}
}

// queryRowWithHardTimeout executes a query and scans a single value with a
// hard timeout.
func (db *DB) queryRowWithHardTimeout(query string) (interface{}, error) {
	resultCh := make(chan queryResult, 1)

	ctx, cancel := extensionContext()
	defer cancel()

	go func() {
		var result interface{}
		err := db.conn.QueryRowContext(ctx, query).Scan(&result)
		resultCh <- queryResult{value: result, err: err}
	}()

	select {
	case result := <-resultCh:
		return result.value, result.err
	case <-time.After(extensionTimeout):
		return nil, fmt.Errorf("query timed out after %v", extensionTimeout)
	}
}

// execWithRetry executes a SQL statement with retry logic and exponential
// backoff, handling transient network failures when downloading extensions.
func (db *DB) execWithRetry(query string, config extensionRetryConfig) error {
	var lastErr error
	delay := config.BaseDelay

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if attempt > 0 {
			logging.Debug().
				Int("attempt", attempt).
				Dur("delay", delay).
				Str("query", query).
				Msg("Retrying extension operation")
			time.Sleep(delay)
			delay = time.Duration(float64(delay) * config.BackoffMult)
			if delay > config.MaxDelay {
				delay = config.MaxDelay
			}
		}

		err := db.execWithHardTimeout(query)
		if err == nil {
			return nil
		}
		lastErr = err

		errStr := err.Error()
		isRetryable := strings.Contains(errStr, "timed out") ||
			strings.Contains(errStr, "timeout") ||
			strings.Contains(errStr, "connection refused") ||
			strings.Contains(errStr, "503") ||
			strings.Contains(errStr, "temporary failure")

		if !isRetryable {
			return err
		}

		logging.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("max_attempts", config.MaxRetries+1).
			Msg("Extension operation failed, will retry")
	}

	return fmt.Errorf("extension operation failed after %d attempts: %w", config.MaxRetries+1, lastErr)
}

// installExtensions installs and loads the required DuckDB extensions.
// Returns error if required extensions fail to load, unless
// DUCKDB_EXTENSIONS_OPTIONAL=true.
func (db *DB) installExtensions() error {
	optional := os.Getenv("DUCKDB_EXTENSIONS_OPTIONAL") == "true"

	if err := db.installICU(optional); err != nil {
		return err
	}
	if err := db.installJSON(optional); err != nil {
		return err
	}

	return nil
}

// installICU installs the ICU extension for timezone support
func (db *DB) installICU(optional bool) error {
	return db.installExtension("icu",
		"SELECT timezone('America/Los_Angeles', TIMESTAMP '2026-01-01 12:00:00')::VARCHAR",
		&db.icuAvailable,
		"ICU extension unavailable, timezone operations will be limited",
		optional)
}

// installJSON installs the JSON extension for JSON column operations
func (db *DB) installJSON(optional bool) error {
	return db.installExtension("json",
		`SELECT json_extract('{"name":"test"}', '$.name')::VARCHAR`,
		&db.jsonAvailable,
		"JSON extension unavailable, JSON operations will be limited",
		optional)
}

// installExtension installs one extension using the standard fallback
// pattern, with retry for transient network failures.
func (db *DB) installExtension(name, verifyQuery string, available *bool, warning string, optional bool) error {
	if isExtensionInstalledLocally(name) {
		logging.Debug().Str("extension", name).Msg("Extension found locally, skipping download")
	}

	var installErr error
	if err := db.execWithRetry(fmt.Sprintf("INSTALL %s;", name), defaultRetryConfig); err != nil {
		installErr = err
		if loadErr := db.execWithHardTimeout(fmt.Sprintf("LOAD %s;", name)); loadErr != nil {
			if forceErr := db.execWithRetry(fmt.Sprintf("FORCE INSTALL %s;", name), defaultRetryConfig); forceErr != nil {
				if optional {
					*available = false
					logging.Warn().Str("extension", name).Msg(warning)
					return nil
				}
				return fmt.Errorf("failed to install %s extension after retries: install error: %w, load error: %w, force install error: %w",
					name, installErr, loadErr, forceErr)
			}
		} else {
			return db.verifyExtension(name, verifyQuery, available, warning, optional)
		}
	}

	if err := db.execWithHardTimeout(fmt.Sprintf("LOAD %s;", name)); err != nil {
		if optional {
			*available = false
			logging.Warn().Str("extension", name).Err(err).Msg(warning)
			return nil
		}
		return fmt.Errorf("failed to load %s extension: %w", name, err)
	}

	return db.verifyExtension(name, verifyQuery, available, warning, optional)
}

// verifyExtension runs the extension's verification query
func (db *DB) verifyExtension(name, verifyQuery string, available *bool, warning string, optional bool) error {
	if verifyQuery == "" {
		*available = true
		return nil
	}

	if _, err := db.queryRowWithHardTimeout(verifyQuery); err != nil {
		if optional {
			*available = false
			logging.Warn().Str("extension", name).Err(err).Msg(warning)
			return nil
		}
		return fmt.Errorf("%s extension loaded but functions unavailable: %w", name, err)
	}

	*available = true
	return nil
}
