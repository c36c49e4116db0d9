// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

// Package middleware holds HTTP middleware in http.HandlerFunc form.
//
// The api package's router adapts these into Chi middleware. Only the
// Prometheus instrumentation lives here; request IDs, CORS, rate limiting,
// and security headers come from the go-chi ecosystem and are wired in the
// api package directly.
package middleware
