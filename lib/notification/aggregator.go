// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notification

import (
	"log/slog"
	"slices"

	"github.com/bureau-foundation/unread/lib/ref"
)

// Options configures an Aggregator.
type Options struct {
	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// Aggregator owns the rolled-up unread state of every container with
// activity. Create one with New. An Aggregator is not safe for
// concurrent use; see the package documentation.
type Aggregator struct {
	graph  Graph
	logger *slog.Logger

	entries map[ref.RoomID]*entry

	countChanged listeners[func(CountChange)]
	fullyRead    listeners[func(ref.RoomID)]

	// muted suppresses listener calls while Rebuild recomputes state
	// from scratch; Rebuild emits the net differences afterwards.
	muted bool

	unsubscribes []func()
}

// entry is the state of one container with activity.
type entry struct {
	// counts is the rollup: own plus all contributing descendants.
	counts Counts

	// own is the part of counts that originated at this container
	// itself (increments with no originating child). It doubles as
	// the last-seen raw value that eligible-event deltas are computed
	// against.
	own Counts

	// contributors holds the direct children currently contributing
	// to counts. Every member has an entry of its own.
	contributors map[ref.RoomID]struct{}
}

// New creates an Aggregator over graph, seeds it from the graph's
// current raw counts, and registers handlers on source. A nil source
// leaves the aggregator driven only by direct Increment and Decrement
// calls.
func New(graph Graph, source Source, options Options) *Aggregator {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	a := &Aggregator{
		graph:   graph,
		logger:  logger,
		entries: make(map[ref.RoomID]*entry),
	}
	a.seed()

	if source != nil {
		a.unsubscribes = append(a.unsubscribes,
			source.OnEligibleEvent(a.handleEligibleEvent),
			source.OnOwnReadReceipt(a.handleClear),
			source.OnOwnMembershipLeave(a.handleClear),
		)
		if hierarchy, ok := source.(interface{ OnHierarchyChanged(func()) func() }); ok {
			a.unsubscribes = append(a.unsubscribes, hierarchy.OnHierarchyChanged(a.Rebuild))
		}
	}

	a.logger.Debug("notification aggregator initialized",
		"containers_with_activity", len(a.entries),
	)
	return a
}

// Close removes every handler registered on the source. Idempotent.
func (a *Aggregator) Close() {
	for _, unsubscribe := range a.unsubscribes {
		unsubscribe()
	}
	a.unsubscribes = nil
}

// seed performs one self-originated increment for every container
// whose raw total is nonzero. Ancestors are filled in by the
// increments themselves.
func (a *Aggregator) seed() {
	checker, hasChecker := a.graph.(interface{ HasUnread(ref.RoomID) bool })
	for _, id := range a.graph.Containers() {
		if hasChecker && !checker.HasUnread(id) {
			continue
		}
		raw := a.graph.RawUnread(id)
		if raw.Total == 0 {
			continue
		}
		a.Increment(id, raw, ref.RoomID{})
	}
}

// handleEligibleEvent diffs the container's fresh raw counts against
// the own contribution last recorded for it. A redundant event (raw
// counts unchanged) produces a zero delta and no visible change.
func (a *Aggregator) handleEligibleEvent(id ref.RoomID) {
	var previous Counts
	if e := a.entries[id]; e != nil {
		previous = e.own
	}
	delta := a.graph.RawUnread(id).Sub(previous)
	if delta.IsZero() {
		return
	}
	a.Increment(id, delta, ref.RoomID{})
}

// handleClear removes a container's contribution after the own user
// read it or left it. A container with no live contributors loses its
// whole rollup. A space that still has unread children loses only its
// own part, so the children's contributions stay visible in every
// ancestor.
func (a *Aggregator) handleClear(id ref.RoomID) {
	e := a.entries[id]
	if e == nil {
		return
	}
	amount := e.counts
	if len(e.contributors) > 0 {
		amount = e.own
	}
	a.Decrement(id, amount, ref.RoomID{})
}

// Rebuild discards all state and seeds it again from the graph, then
// emits one CountChange per container whose counts differ and a fully
// read notification per container that lost its entry. Used when the
// hierarchy itself changes, since edge changes invalidate every
// recorded contributor set.
func (a *Aggregator) Rebuild() {
	before := a.entries
	a.entries = make(map[ref.RoomID]*entry)

	a.muted = true
	a.seed()
	a.muted = false

	ids := make([]ref.RoomID, 0, len(before)+len(a.entries))
	for id := range before {
		ids = append(ids, id)
	}
	for id := range a.entries {
		if _, ok := before[id]; !ok {
			ids = append(ids, id)
		}
	}
	slices.SortFunc(ids, ref.RoomID.Compare)

	changed := 0
	for _, id := range ids {
		old, after := before[id], a.entries[id]
		switch {
		case old == nil:
			a.emitChange(CountChange{RoomID: id, Total: after.counts.Total, Highlight: after.counts.Highlight, Created: true})
		case after == nil:
			a.emitFullyRead(id)
			a.emitChange(CountChange{RoomID: id, PreviousTotal: old.counts.Total, Removed: true})
		case old.counts != after.counts:
			a.emitChange(CountChange{RoomID: id, Total: after.counts.Total, Highlight: after.counts.Highlight, PreviousTotal: old.counts.Total})
		default:
			continue
		}
		changed++
	}

	a.logger.Info("notification state rebuilt",
		"containers_with_activity", len(a.entries),
		"changed", changed,
	)
}

// HasActivity reports whether the container has a live entry.
func (a *Aggregator) HasActivity(id ref.RoomID) bool {
	_, ok := a.entries[id]
	return ok
}

// TotalCount returns the rolled-up total, or 0 without an entry.
func (a *Aggregator) TotalCount(id ref.RoomID) int {
	if e := a.entries[id]; e != nil {
		return e.counts.Total
	}
	return 0
}

// HighlightCount returns the rolled-up highlight count, or 0 without
// an entry.
func (a *Aggregator) HighlightCount(id ref.RoomID) int {
	if e := a.entries[id]; e != nil {
		return e.counts.Highlight
	}
	return 0
}

// Counts returns the rolled-up counts, or zero counts without an
// entry.
func (a *Aggregator) Counts(id ref.RoomID) Counts {
	if e := a.entries[id]; e != nil {
		return e.counts
	}
	return Counts{}
}

// Contributors returns the direct children backing the container's
// rollup, sorted, or nil when there are none.
func (a *Aggregator) Contributors(id ref.RoomID) []ref.RoomID {
	e := a.entries[id]
	if e == nil || len(e.contributors) == 0 {
		return nil
	}
	return sortedIDs(e.contributors)
}

// Entries returns a copy of every live entry, sorted by room ID.
func (a *Aggregator) Entries() []Entry {
	ids := make([]ref.RoomID, 0, len(a.entries))
	for id := range a.entries {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, ref.RoomID.Compare)

	result := make([]Entry, 0, len(ids))
	for _, id := range ids {
		e := a.entries[id]
		result = append(result, Entry{
			RoomID:       id,
			Counts:       e.counts,
			Own:          e.own,
			Contributors: a.Contributors(id),
		})
	}
	return result
}

// SubscribeCountChanged registers a listener for visible count
// changes and returns its unsubscribe function.
func (a *Aggregator) SubscribeCountChanged(listener func(CountChange)) func() {
	return a.countChanged.add(listener)
}

// SubscribeFullyRead registers a listener called when a container's
// entry is removed, and returns its unsubscribe function. A removal
// fires the fully read listener first, then a CountChange with
// Removed set.
func (a *Aggregator) SubscribeFullyRead(listener func(ref.RoomID)) func() {
	return a.fullyRead.add(listener)
}

func (a *Aggregator) emitChange(change CountChange) {
	if a.muted {
		return
	}
	a.countChanged.each(func(listener func(CountChange)) { listener(change) })
}

func (a *Aggregator) emitFullyRead(id ref.RoomID) {
	if a.muted {
		return
	}
	a.fullyRead.each(func(listener func(ref.RoomID)) { listener(id) })
}

func sortedIDs(set map[ref.RoomID]struct{}) []ref.RoomID {
	ids := make([]ref.RoomID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, ref.RoomID.Compare)
	return ids
}
