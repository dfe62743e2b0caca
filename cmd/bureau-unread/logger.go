// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/bureau-foundation/unread/lib/config"
)

// newLogger builds the process logger. The "auto" format uses
// slog.TextHandler when w is a terminal and slog.JSONHandler when it
// is piped or redirected.
func newLogger(logging config.LoggingConfig, w io.Writer) *slog.Logger {
	options := &slog.HandlerOptions{Level: logging.SlogLevel()}

	text := logging.Format == "text"
	if logging.Format == "auto" {
		if file, ok := w.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
			text = true
		}
	}

	var handler slog.Handler
	if text {
		handler = slog.NewTextHandler(w, options)
	} else {
		handler = slog.NewJSONHandler(w, options)
	}
	return slog.New(handler)
}
