// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notification

import (
	"io"
	"log/slog"
	"slices"
	"testing"

	"github.com/bureau-foundation/unread/lib/ref"
)

// fakeGraph is an in-memory Graph and Source for tests. Events are
// raised by calling the fire* helpers directly.
type fakeGraph struct {
	order   []ref.RoomID
	parents map[ref.RoomID][]ref.RoomID
	raw     map[ref.RoomID]Counts

	eligible  listeners[func(ref.RoomID)]
	receipt   listeners[func(ref.RoomID)]
	leave     listeners[func(ref.RoomID)]
	hierarchy listeners[func()]
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{
		parents: make(map[ref.RoomID][]ref.RoomID),
		raw:     make(map[ref.RoomID]Counts),
	}
}

func room(name string) ref.RoomID {
	return ref.MustParseRoomID("!" + name + ":test.local")
}

func (g *fakeGraph) add(id ref.RoomID) {
	if !slices.Contains(g.order, id) {
		g.order = append(g.order, id)
	}
}

// edge adds parent as a parent of child.
func (g *fakeGraph) edge(child, parent ref.RoomID) *fakeGraph {
	g.add(child)
	g.add(parent)
	g.parents[child] = append(g.parents[child], parent)
	return g
}

func (g *fakeGraph) Containers() []ref.RoomID           { return slices.Clone(g.order) }
func (g *fakeGraph) Parents(id ref.RoomID) []ref.RoomID { return g.parents[id] }
func (g *fakeGraph) RawUnread(id ref.RoomID) Counts     { return g.raw[id] }

func (g *fakeGraph) OnEligibleEvent(h func(ref.RoomID)) func() {
	return g.eligible.add(h)
}
func (g *fakeGraph) OnOwnReadReceipt(h func(ref.RoomID)) func() {
	return g.receipt.add(h)
}
func (g *fakeGraph) OnOwnMembershipLeave(h func(ref.RoomID)) func() {
	return g.leave.add(h)
}
func (g *fakeGraph) OnHierarchyChanged(h func()) func() {
	return g.hierarchy.add(h)
}

// message sets the room's raw counts and raises an eligible event.
func (g *fakeGraph) message(id ref.RoomID, counts Counts) {
	g.add(id)
	g.raw[id] = counts
	g.eligible.each(func(h func(ref.RoomID)) { h(id) })
}

// read clears the room's raw counts and raises an own read receipt.
func (g *fakeGraph) read(id ref.RoomID) {
	g.raw[id] = Counts{}
	g.receipt.each(func(h func(ref.RoomID)) { h(id) })
}

func (g *fakeGraph) leaveRoom(id ref.RoomID) {
	g.raw[id] = Counts{}
	g.leave.each(func(h func(ref.RoomID)) { h(id) })
}

func (g *fakeGraph) changeHierarchy() {
	g.hierarchy.each(func(h func()) { h() })
}

// recorder captures everything an Aggregator emits.
type recorder struct {
	changes   []CountChange
	fullyRead []ref.RoomID
}

func (r *recorder) fullyReadCount(id ref.RoomID) int {
	count := 0
	for _, read := range r.fullyRead {
		if read == id {
			count++
		}
	}
	return count
}

func (r *recorder) changesFor(id ref.RoomID) []CountChange {
	var result []CountChange
	for _, change := range r.changes {
		if change.RoomID == id {
			result = append(result, change)
		}
	}
	return result
}

func newTestAggregator(t *testing.T, graph *fakeGraph) (*Aggregator, *recorder) {
	t.Helper()
	aggregator := New(graph, graph, Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(aggregator.Close)

	events := &recorder{}
	aggregator.SubscribeCountChanged(func(change CountChange) {
		events.changes = append(events.changes, change)
	})
	aggregator.SubscribeFullyRead(func(id ref.RoomID) {
		events.fullyRead = append(events.fullyRead, id)
	})
	return aggregator, events
}

func requireCounts(t *testing.T, aggregator *Aggregator, id ref.RoomID, total, highlight int) {
	t.Helper()
	if got := aggregator.TotalCount(id); got != total {
		t.Errorf("TotalCount(%s) = %d, want %d", id, got, total)
	}
	if got := aggregator.HighlightCount(id); got != highlight {
		t.Errorf("HighlightCount(%s) = %d, want %d", id, got, highlight)
	}
}

func requireValid(t *testing.T, aggregator *Aggregator) {
	t.Helper()
	if err := aggregator.Check(); err != nil {
		t.Fatalf("invariant violations:\n%v", err)
	}
}
