// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"errors"
	"fmt"
)

// MatrixError is an error response from the homeserver. The sync
// loop checks it with IsAuthError to tell a revoked token apart from
// a transient failure.
type MatrixError struct {
	// Code is the Matrix errcode, e.g. "M_UNKNOWN_TOKEN".
	Code string `json:"errcode"`
	// Message is the server's human-readable description.
	Message string `json:"error"`
	// StatusCode is the HTTP status of the response.
	StatusCode int `json:"-"`
}

func (e *MatrixError) Error() string {
	return fmt.Sprintf("matrix: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Error codes that mean the access token is not accepted.
const (
	ErrCodeUnknownToken = "M_UNKNOWN_TOKEN"
	ErrCodeMissingToken = "M_MISSING_TOKEN"
)

// IsMatrixError reports whether err wraps a *MatrixError with code.
func IsMatrixError(err error, code string) bool {
	var matrixErr *MatrixError
	return errors.As(err, &matrixErr) && matrixErr.Code == code
}

// IsAuthError reports whether err means the access token is no longer
// accepted. Retrying such a request cannot succeed.
func IsAuthError(err error) bool {
	return IsMatrixError(err, ErrCodeUnknownToken) || IsMatrixError(err, ErrCodeMissingToken)
}
