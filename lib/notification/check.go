// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notification

import (
	"errors"
	"fmt"
	"slices"

	"github.com/bureau-foundation/unread/lib/ref"
)

// Check verifies the aggregator's invariants against the current
// graph and returns every violation found, joined, or nil:
//
//   - totals and highlights are non-negative, highlight <= total
//   - every entry has a positive total
//   - the own part never exceeds the rollup
//   - every contributor has an entry and is a direct child
//   - no contributor's total exceeds its parent's total
//   - every parent of a live container has an entry listing it
//
// The last two can only fail when contributions drifted (amounts
// removed that were never added); they are what a randomized test
// watches for.
func (a *Aggregator) Check() error {
	var problems []error
	for _, current := range a.Entries() {
		id, counts := current.RoomID, current.Counts
		if counts.Total < 0 || counts.Highlight < 0 {
			problems = append(problems, fmt.Errorf("%s: negative counts %+v", id, counts))
		}
		if counts.Highlight > counts.Total {
			problems = append(problems, fmt.Errorf("%s: highlight %d exceeds total %d", id, counts.Highlight, counts.Total))
		}
		if counts.Total == 0 {
			problems = append(problems, fmt.Errorf("%s: entry present with zero total", id))
		}
		if current.Own.Total > counts.Total {
			problems = append(problems, fmt.Errorf("%s: own total %d exceeds rollup %d", id, current.Own.Total, counts.Total))
		}

		for _, child := range current.Contributors {
			childEntry := a.entries[child]
			if childEntry == nil {
				problems = append(problems, fmt.Errorf("%s: contributor %s has no entry", id, child))
				continue
			}
			if !slices.Contains(a.graph.Parents(child), id) {
				problems = append(problems, fmt.Errorf("%s: contributor %s is not a direct child", id, child))
			}
			if childEntry.counts.Total > counts.Total {
				problems = append(problems, fmt.Errorf("%s: contributor %s total %d exceeds parent total %d",
					id, child, childEntry.counts.Total, counts.Total))
			}
		}

		for _, parent := range a.graph.Parents(id) {
			parentEntry := a.entries[parent]
			if parentEntry == nil {
				problems = append(problems, fmt.Errorf("%s: parent %s has no entry", id, parent))
				continue
			}
			if _, ok := parentEntry.contributors[id]; !ok {
				problems = append(problems, fmt.Errorf("%s: missing from contributors of parent %s", id, parent))
			}
		}
	}
	return errors.Join(problems...)
}

// Expected computes the rollup the aggregator should hold for every
// container when each container's own contribution is own[id]: the
// sum over the container and all of its distinct descendants. It is
// the reference model used by Check-style tests and the "check"
// command, independent of the incremental algorithm.
func Expected(graph Graph, own map[ref.RoomID]Counts) map[ref.RoomID]Counts {
	children := make(map[ref.RoomID][]ref.RoomID)
	for _, id := range graph.Containers() {
		for _, parent := range graph.Parents(id) {
			children[parent] = append(children[parent], id)
		}
	}

	result := make(map[ref.RoomID]Counts)
	for _, id := range graph.Containers() {
		seen := map[ref.RoomID]struct{}{id: {}}
		queue := []ref.RoomID{id}
		var total Counts
		for len(queue) > 0 {
			next := queue[0]
			queue = queue[1:]
			total = total.Add(own[next])
			for _, child := range children[next] {
				if _, ok := seen[child]; ok {
					continue
				}
				seen[child] = struct{}{}
				queue = append(queue, child)
			}
		}
		if total.Total > 0 {
			result[id] = total
		}
	}
	return result
}
