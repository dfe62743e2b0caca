// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides strongly typed, immutable Matrix identifiers:
// room IDs, user IDs, event IDs, and event types.
//
// Identifiers arrive from the homeserver (via /sync and state
// queries) or from fixture files and are parsed into these types at
// the boundary. Every constructor validates its input and returns an
// error for malformed identifiers; once constructed, a ref is
// immutable. The zero value of each struct type is invalid and is
// detected with IsZero.
//
// All types implement encoding.TextMarshaler and
// encoding.TextUnmarshaler, so they serialize as plain strings in
// JSON and CBOR and can be used directly as map keys in decoded
// structures (for example the per-room maps of a /sync response).
//
// This package depends on no other packages in this module.
package ref
