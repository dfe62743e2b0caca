// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// Logger returns a debug-level text logger whose output goes through
// t.Log. Records emitted after the test finished are dropped, since
// t.Log panics at that point.
func Logger(t testing.TB) *slog.Logger {
	writer := &testWriter{t: t}
	t.Cleanup(writer.finish)
	return slog.New(slog.NewTextHandler(writer, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type testWriter struct {
	mutex    sync.Mutex
	t        testing.TB
	finished bool
}

func (w *testWriter) Write(data []byte) (int, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if !w.finished {
		w.t.Helper()
		w.t.Log(string(bytes.TrimRight(data, "\n")))
	}
	return len(data), nil
}

func (w *testWriter) finish() {
	w.mutex.Lock()
	w.finished = true
	w.mutex.Unlock()
}

// WriteFile writes content to name inside t.TempDir() and returns the
// file's path.
func WriteFile(t testing.TB, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}
