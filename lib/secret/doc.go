// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret keeps the Matrix access token out of the Go heap.
//
// A [Buffer] is an anonymous mmap region locked into RAM (mlock) and
// excluded from core dumps (MADV_DONTDUMP). The garbage collector never
// sees it, so the token cannot be copied around by heap compaction or
// linger in freed memory. Close zeroes, unlocks, and unmaps the region.
//
// [ReadToken] loads a token file into a Buffer, refusing files that
// other users can read.
package secret
