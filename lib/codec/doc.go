// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the module's standard CBOR encoding
// configuration.
//
// Two serialization formats are in use, with a clear boundary:
//
//   - JSON for external interfaces: the Matrix Client-Server API, the
//     badge feed websocket protocol, and fixture files.
//   - CBOR for the on-disk state cache written between runs.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2):
// sorted map keys, smallest integer encoding, no indefinite-length
// items. Same logical data always produces identical bytes, which is
// what lets the state cache carry a content digest.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// # Struct Tag Rules
//
// The struct tag on a type documents its serialization format:
//
//   - `cbor` tag: this type is ONLY ever serialized as CBOR (cache
//     envelopes and other internal records).
//   - `json` tag: this type may be serialized as BOTH JSON and CBOR.
//     fxamacker/cbor v2 reads `json` tags as fallback when `cbor`
//     tags are absent, so a single `json` tag controls field naming
//     and omitempty for both formats. The room graph snapshot is the
//     main example: it is cached as CBOR and printed as JSON.
//
// Never use both `cbor` and `json` tags on the same field.
package codec
