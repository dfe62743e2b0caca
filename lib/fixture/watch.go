// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fixture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bureau-foundation/unread/lib/clock"
)

// DefaultDebounce is how long Watch waits after the last change to
// the file before reloading it. Editors typically produce a burst of
// writes, renames, and chmods per save.
const DefaultDebounce = 150 * time.Millisecond

// WatchOptions configures Watch.
type WatchOptions struct {
	// Debounce is the quiet period before a reload. Zero uses
	// DefaultDebounce.
	Debounce time.Duration

	// Clock drives the debounce timer. If nil, clock.Real() is used.
	Clock clock.Clock

	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger

	// ready, if set, is closed once the watch is established.
	ready chan<- struct{}
}

// Watch reloads the fixture at path after every burst of changes and
// passes the result to onChange (a nil file with the load error when
// the file is missing or invalid). The parent directory is watched
// rather than the file itself so that editors which save by renaming
// a temporary file over the original keep triggering reloads.
//
// onChange runs on the goroutine that called Watch, never
// concurrently with itself. Watch blocks until ctx is cancelled and
// then returns ctx.Err().
func Watch(ctx context.Context, path string, options WatchOptions, onChange func(*File, error)) error {
	if options.Debounce <= 0 {
		options.Debounce = DefaultDebounce
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	target, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("fixture: resolving %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fixture: creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("fixture: watching %s: %w", filepath.Dir(target), err)
	}
	if options.ready != nil {
		close(options.ready)
	}

	reload := make(chan struct{}, 1)
	var timer *clock.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("fixture: watcher closed")
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			options.Logger.Debug("fixture changed", "path", target, "op", event.Op.String())
			if timer == nil {
				timer = options.Clock.AfterFunc(options.Debounce, func() {
					select {
					case reload <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(options.Debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("fixture: watcher closed")
			}
			options.Logger.Warn("fixture watcher error", "path", target, "error", err)

		case <-reload:
			file, err := Load(target)
			if err != nil {
				options.Logger.Warn("fixture reload failed", "path", target, "error", err)
			} else {
				options.Logger.Info("fixture reloaded", "path", target, "rooms", len(file.Rooms))
			}
			onChange(file, err)
		}
	}
}
