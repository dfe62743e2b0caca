// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/unread/lib/codec"
	"github.com/bureau-foundation/unread/lib/statecache"
)

func cacheCommand() *command {
	var diagnose, clearCache bool
	return &command{
		name:    "cache",
		summary: "Inspect or clear the state cache",
		usage:   "cache [--diagnose | --clear]",
		flags: func(flagSet *pflag.FlagSet) {
			flagSet.BoolVar(&diagnose, "diagnose", false, "print the CBOR payload in diagnostic notation")
			flagSet.BoolVar(&clearCache, "clear", false, "remove the cache file")
		},
		execute: func(ctx context.Context, a *app, args []string) error {
			if len(args) > 0 {
				return usageError("cache: unexpected argument %q", args[0])
			}
			if diagnose && clearCache {
				return usageError("cache: --diagnose and --clear are mutually exclusive")
			}
			path := a.config.Cache.Path
			if path == "" {
				return errors.New("the state cache is disabled (cache.path is empty)")
			}

			if clearCache {
				if err := statecache.Clear(path); err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "removed %s\n", path)
				return nil
			}

			data, err := os.ReadFile(path)
			if errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(a.stdout, "no state cache at %s\n", path)
				return nil
			}
			if err != nil {
				return err
			}
			return describeCache(a, path, data, diagnose)
		},
	}
}

func describeCache(a *app, path string, data []byte, diagnose bool) error {
	header, err := statecache.ParseHeader(data)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "path:         %s\n", path)
	fmt.Fprintf(a.stdout, "version:      %d\n", header.Version)
	fmt.Fprintf(a.stdout, "compression:  %s\n", header.Compression)
	fmt.Fprintf(a.stdout, "payload:      %d bytes (%d stored)\n", header.PayloadSize, header.StoredSize)
	fmt.Fprintf(a.stdout, "digest:       %s\n", hex.EncodeToString(header.Digest[:]))

	state, err := statecache.Decode(data)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "user:         %s\n", state.UserID)
	fmt.Fprintf(a.stdout, "next batch:   %s\n", state.NextBatch)
	fmt.Fprintf(a.stdout, "saved at:     %s\n", state.SavedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(a.stdout, "rooms:        %d\n", len(state.Graph.Rooms))

	if !diagnose {
		return nil
	}
	payload, err := statecache.Payload(data)
	if err != nil {
		return err
	}
	notation, err := codec.Diagnose(payload)
	if err != nil {
		return fmt.Errorf("diagnosing payload: %w", err)
	}
	fmt.Fprintf(a.stdout, "\n%s\n", notation)
	return nil
}
