// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging wraps the subset of the Matrix client-server API
// that unread tracking needs.
//
// [Client] is an unauthenticated Matrix client holding the homeserver
// URL and HTTP transport. [Client.SessionFromToken] wraps it with an
// access token, returning a [DirectSession] for authenticated calls:
// identity verification (WhoAmI), incremental sync with long-polling,
// full room state, and read receipts.
//
// The access token lives in an mmap-backed [secret.Buffer], locked
// against swap and excluded from core dumps; callers must call
// DirectSession.Close to release it.
//
// Sync responses are decoded into [SyncResponse], which carries the
// per-room sections the unread pipeline consumes: state, timeline,
// ephemeral receipts, and the server's unread_notifications counters.
// [ParseReceipts] flattens an m.receipt event into individual
// receipts.
//
// All API errors are returned as [*MatrixError] with the standard
// Matrix error code (M_FORBIDDEN, M_UNKNOWN_TOKEN, etc.) and HTTP
// status code. [IsMatrixError] tests for a specific error code.
// Request URLs are built by string concatenation rather than url.URL
// to avoid double-encoding of escaped path segments.
//
// [secret.Buffer]: github.com/bureau-foundation/unread/lib/secret.Buffer
package messaging
