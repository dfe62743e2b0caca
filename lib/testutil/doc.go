// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive] and [RequireClosed] wrap the select
// with a wall-clock timeout that keeps a broken test from hanging, so
// tests never call time.After themselves. They are the only real-time
// waits in the test suite; everything else runs on a fake clock.
//
// [Logger] returns an slog.Logger that writes through t.Log, so log
// output is attributed to the test that produced it and shown only on
// failure or with -v.
//
// [WriteFile] writes a fixture file into a test's temporary directory.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil
