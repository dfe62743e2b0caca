// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notification

import (
	"fmt"
	"maps"
	"math/rand/v2"
	"testing"

	"github.com/bureau-foundation/unread/lib/ref"
)

// randomHierarchy wires ids into a DAG: each container may have any of
// the later containers as a parent.
func randomHierarchy(random *rand.Rand, graph *fakeGraph, ids []ref.RoomID) {
	graph.parents = make(map[ref.RoomID][]ref.RoomID)
	for i, id := range ids {
		for _, candidate := range ids[i+1:] {
			if random.IntN(4) == 0 {
				graph.parents[id] = append(graph.parents[id], candidate)
			}
		}
	}
}

func randomCounts(random *rand.Rand) Counts {
	total := random.IntN(6)
	return Counts{Total: total, Highlight: random.IntN(total + 1)}
}

func TestRollupMatchesModel(t *testing.T) {
	for seed := range uint64(8) {
		t.Run(fmt.Sprintf("seed%d", seed), func(t *testing.T) {
			random := rand.New(rand.NewPCG(seed, 0x5eed))

			ids := make([]ref.RoomID, 14)
			graph := newFakeGraph()
			for i := range ids {
				ids[i] = room(fmt.Sprintf("c%02d", i))
				graph.add(ids[i])
			}
			randomHierarchy(random, graph, ids)
			aggregator, _ := newTestAggregator(t, graph)

			for step := range 600 {
				id := ids[random.IntN(len(ids))]
				var action string
				switch op := random.IntN(20); {
				case op < 12:
					action = "message"
					graph.message(id, randomCounts(random))
				case op < 16:
					action = "read"
					graph.read(id)
				case op < 19:
					action = "leave"
					graph.leaveRoom(id)
				default:
					action = "rewire"
					randomHierarchy(random, graph, ids)
					graph.changeHierarchy()
				}

				got := make(map[ref.RoomID]Counts)
				for _, current := range aggregator.Entries() {
					got[current.RoomID] = current.Counts
				}
				want := Expected(graph, graph.raw)
				if !maps.Equal(got, want) {
					t.Fatalf("step %d (%s %s): rollup diverged\ngot  %v\nwant %v", step, action, id, got, want)
				}
				if err := aggregator.Check(); err != nil {
					t.Fatalf("step %d (%s %s): %v", step, action, id, err)
				}
			}
		})
	}
}

// Arbitrary direct calls (amounts that were never added, negative
// deltas, unknown children) may drift from the model but must never
// break the counter invariants.
func TestArbitraryDeltasStayNonNegative(t *testing.T) {
	random := rand.New(rand.NewPCG(42, 42))
	ids := make([]ref.RoomID, 8)
	graph := newFakeGraph()
	for i := range ids {
		ids[i] = room(fmt.Sprintf("n%d", i))
		graph.add(ids[i])
	}
	randomHierarchy(random, graph, ids)
	// One deliberate cycle.
	graph.parents[ids[7]] = append(graph.parents[ids[7]], ids[0])
	aggregator, _ := newTestAggregator(t, graph)

	for step := range 2000 {
		id := ids[random.IntN(len(ids))]
		amount := Counts{Total: random.IntN(11) - 5, Highlight: random.IntN(7) - 3}
		var child ref.RoomID
		if random.IntN(3) == 0 {
			child = ids[random.IntN(len(ids))]
		}
		if random.IntN(2) == 0 {
			aggregator.Increment(id, amount, child)
		} else {
			aggregator.Decrement(id, amount, child)
		}

		for _, current := range aggregator.Entries() {
			counts := current.Counts
			if counts.Total <= 0 || counts.Highlight < 0 || counts.Highlight > counts.Total {
				t.Fatalf("step %d: %s has counts %+v", step, current.RoomID, counts)
			}
		}
	}
}

func TestExpected(t *testing.T) {
	leaf, left, right, top, idle := room("leaf"), room("left"), room("right"), room("top"), room("idle")
	graph := newFakeGraph().
		edge(leaf, left).edge(leaf, right).
		edge(left, top).edge(right, top).
		edge(idle, top)

	got := Expected(graph, map[ref.RoomID]Counts{
		leaf: {Total: 2, Highlight: 1},
		left: {Total: 1},
	})
	want := map[ref.RoomID]Counts{
		leaf:  {Total: 2, Highlight: 1},
		left:  {Total: 3, Highlight: 1},
		right: {Total: 2, Highlight: 1},
		top:   {Total: 3, Highlight: 1},
	}
	if !maps.Equal(got, want) {
		t.Errorf("Expected = %v, want %v", got, want)
	}
}
