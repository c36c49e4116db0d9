// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package vision

import (
	"context"
	"errors"

	"github.com/tomtom215/custodia/internal/models"
)

// Error is a classified model-invocation failure. Kind uses the scan-record
// error kinds so the dispatcher can persist the classification directly.
type Error struct {
	Kind string
	Err  error
}

func (e *Error) Error() string {
	return e.Kind + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func classified(kind string, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// ErrorKindOf maps any error from an analysis attempt onto a scan-record
// error kind. Deadline expiry is a timeout whether it surfaces as a
// context error or wrapped inside a transport error.
func ErrorKindOf(err error) string {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.ErrKindTimeout
	}
	return models.ErrKindInternal
}
