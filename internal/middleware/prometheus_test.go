// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPrometheusMetricsPassesThrough(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"stats read", http.MethodGet, "/api/v1/stats", http.StatusOK},
		{"trigger conflict", http.MethodPost, "/api/v1/discovery/run", http.StatusConflict},
		{"server error", http.MethodGet, "/api/v1/stats", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := PrometheusMetrics(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.wantStatus)
			})

			rec := httptest.NewRecorder()
			handler(rec, httptest.NewRequest(tt.method, tt.path, nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("Status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestPrometheusMetricsDefaultStatus(t *testing.T) {
	handler := PrometheusMetrics(func(w http.ResponseWriter, r *http.Request) {
		// Body write without an explicit WriteHeader implies 200.
		if _, err := w.Write([]byte("ok")); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("Body = %q, want ok", rec.Body.String())
	}
}

func TestMetricsResponseWriterCapturesStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	wrapper := &metricsResponseWriter{
		ResponseWriter: rec,
		statusCode:     http.StatusOK,
	}

	wrapper.WriteHeader(http.StatusServiceUnavailable)

	if wrapper.statusCode != http.StatusServiceUnavailable {
		t.Errorf("Captured status = %d, want 503", wrapper.statusCode)
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Underlying status = %d, want 503", rec.Code)
	}
}
