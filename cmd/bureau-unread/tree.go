// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/unread/lib/render"
)

func treeCommand() *command {
	var unreadOnly, plain bool
	return &command{
		name:    "tree",
		summary: "Print the space hierarchy with unread badges",
		usage:   "tree [--unread-only] [--plain]",
		flags: func(flagSet *pflag.FlagSet) {
			flagSet.BoolVar(&unreadOnly, "unread-only", false, "show only containers with unread activity and their ancestors")
			flagSet.BoolVar(&plain, "plain", false, "disable color and width truncation")
		},
		execute: func(ctx context.Context, a *app, args []string) error {
			if len(args) > 0 {
				return usageError("tree: unexpected argument %q", args[0])
			}
			graph, _, cleanup, err := a.snapshotGraph(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			aggregator := a.newAggregator(graph)
			defer aggregator.Close()

			var options render.Options
			if file, ok := a.stdout.(*os.File); ok && !plain {
				options = render.OptionsFor(file)
			}
			options.UnreadOnly = unreadOnly
			return render.Tree(a.stdout, graph, aggregator, options)
		},
	}
}
