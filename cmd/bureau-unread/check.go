// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/unread/lib/notification"
	"github.com/bureau-foundation/unread/lib/ref"
	"github.com/bureau-foundation/unread/lib/roomgraph"
)

func checkCommand() *command {
	return &command{
		name:    "check",
		summary: "Verify the rollup invariants over the current state",
		usage:   "check",
		execute: func(ctx context.Context, a *app, args []string) error {
			if len(args) > 0 {
				return usageError("check: unexpected argument %q", args[0])
			}
			graph, _, cleanup, err := a.snapshotGraph(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			aggregator := a.newAggregator(graph)
			defer aggregator.Close()

			if err := checkRollup(graph, aggregator); err != nil {
				return &exitError{code: 3, err: fmt.Errorf("rollup check failed:\n%w", err)}
			}
			fmt.Fprintf(a.stdout, "ok: %d containers, %d with unread activity\n",
				len(graph.Containers()), len(aggregator.Entries()))
			return nil
		},
	}
}

// checkRollup runs the aggregator's invariant checker and compares
// every container's rollup against one computed from scratch.
func checkRollup(graph *roomgraph.Graph, aggregator *notification.Aggregator) error {
	problems := []error{aggregator.Check()}

	own := make(map[ref.RoomID]notification.Counts)
	for _, id := range graph.Containers() {
		if graph.HasUnread(id) {
			own[id] = graph.RawUnread(id)
		}
	}
	expected := notification.Expected(graph, own)
	for _, id := range graph.Containers() {
		if got, want := aggregator.Counts(id), expected[id]; got != want {
			problems = append(problems, fmt.Errorf("%s: rollup %+v, expected %+v", id, got, want))
		}
	}
	return errors.Join(problems...)
}
