// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notification

import (
	"slices"

	"github.com/bureau-foundation/unread/lib/ref"
)

// walk is the state of one top-level Increment or Decrement call.
//
// pending starts as the transitive closure of the origin's ancestors.
// A node leaves pending when the walk settles it, so an ancestor
// reachable through several paths receives the delta exactly once and
// a cycle cannot recurse forever: a node revisited along a cycle is
// already settled.
//
// touched collects every node the walk mutated. Entries that end the
// walk with a zero total are swept afterwards; mid-walk they may stay
// present through a contributor that is itself about to be cleared.
type walk struct {
	pending map[ref.RoomID]struct{}
	touched map[ref.RoomID]struct{}
}

func (a *Aggregator) newWalk(origin ref.RoomID) *walk {
	pending := make(map[ref.RoomID]struct{})
	queue := slices.Clone(a.graph.Parents(origin))
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if _, seen := pending[next]; seen {
			continue
		}
		pending[next] = struct{}{}
		queue = append(queue, a.graph.Parents(next)...)
	}
	return &walk{pending: pending, touched: make(map[ref.RoomID]struct{})}
}

// settle removes id from the pending frontier and reports whether it
// was still pending.
func (w *walk) settle(id ref.RoomID) bool {
	_, ok := w.pending[id]
	delete(w.pending, id)
	return ok
}

// Increment applies delta to id and to every distinct ancestor of id
// exactly once. A zero child means the delta is id's own (a room's
// own unread changed); otherwise child is recorded as a contributor
// of id. The delta may be negative when a room's own count dropped.
func (a *Aggregator) Increment(id ref.RoomID, delta Counts, child ref.RoomID) {
	if delta.IsZero() && child.IsZero() {
		return
	}
	w := a.newWalk(id)
	w.settle(id)
	a.increment(w, id, delta, child)
	a.sweep(w)
}

func (a *Aggregator) increment(w *walk, id ref.RoomID, delta Counts, child ref.RoomID) {
	w.touched[id] = struct{}{}

	e, existed := a.entries[id]
	if !existed {
		e = &entry{}
	}
	previous := e.counts
	e.counts = e.counts.Add(delta)
	if child.IsZero() {
		e.own = e.own.Add(delta)
	} else {
		a.link(e, child)
	}
	a.normalize(id, e)
	a.store(id, e, existed, previous)

	for _, parent := range a.graph.Parents(id) {
		if w.settle(parent) {
			a.increment(w, parent, delta, id)
			continue
		}
		// Already settled through another path: the delta is in,
		// only the contributor edge needs refreshing.
		a.relink(parent, id)
	}
}

// Decrement removes amount from id and from every distinct ancestor
// of id exactly once. A zero child means the amount is id's own
// contribution (read receipt, leave). A container without an entry
// is a no-op, and the walk does not continue past it.
func (a *Aggregator) Decrement(id ref.RoomID, amount Counts, child ref.RoomID) {
	if _, ok := a.entries[id]; !ok {
		return
	}
	w := a.newWalk(id)
	w.settle(id)
	a.decrement(w, id, amount, child)
	a.sweep(w)
}

func (a *Aggregator) decrement(w *walk, id ref.RoomID, amount Counts, child ref.RoomID) {
	e := a.entries[id]
	if e == nil {
		return
	}
	w.touched[id] = struct{}{}

	previous := e.counts
	e.counts = e.counts.Sub(amount)
	if child.IsZero() {
		e.own = e.own.Sub(amount)
	} else if _, live := a.entries[child]; !live {
		delete(e.contributors, child)
	}
	a.normalize(id, e)
	a.store(id, e, true, previous)

	for _, parent := range a.graph.Parents(id) {
		if w.settle(parent) {
			a.decrement(w, parent, amount, id)
			continue
		}
		a.relink(parent, id)
	}
}

// link records child as a contributor of e when child is live, and
// drops it otherwise.
func (a *Aggregator) link(e *entry, child ref.RoomID) {
	if _, live := a.entries[child]; live {
		if e.contributors == nil {
			e.contributors = make(map[ref.RoomID]struct{})
		}
		e.contributors[child] = struct{}{}
		return
	}
	delete(e.contributors, child)
}

// relink refreshes the contributor edge parent → child without
// applying any delta. When dropping a cleared child leaves the parent
// with nothing, the parent is removed and the refresh cascades to its
// own parents. Every node reached this way has already received the
// delta of the current walk, so only structure changes.
func (a *Aggregator) relink(parentID, childID ref.RoomID) {
	e := a.entries[parentID]
	if e == nil {
		return
	}
	if _, live := a.entries[childID]; live {
		a.link(e, childID)
		return
	}
	if _, ok := e.contributors[childID]; !ok {
		return
	}
	delete(e.contributors, childID)

	previous := e.counts
	a.normalize(parentID, e)
	a.store(parentID, e, true, previous)
	if _, live := a.entries[parentID]; !live {
		for _, grandparent := range a.graph.Parents(parentID) {
			a.relink(grandparent, parentID)
		}
	}
}

// normalize enforces the counter invariants on e: no negative counts,
// highlight within total, own within the rollup, and a rollup equal to
// the own part when no child contributes.
func (a *Aggregator) normalize(id ref.RoomID, e *entry) {
	if e.counts.Total < 0 {
		a.logger.Debug("clamping negative unread total",
			"room_id", id,
			"total", e.counts.Total,
			"highlight", e.counts.Highlight,
		)
		e.counts = Counts{}
	}
	e.counts.Highlight = clamp(e.counts.Highlight, 0, e.counts.Total)

	e.own.Total = clamp(e.own.Total, 0, e.counts.Total)
	e.own.Highlight = clamp(e.own.Highlight, 0, min(e.own.Total, e.counts.Highlight))

	if len(e.contributors) == 0 {
		e.counts = e.own
	}
}

// store writes e back under id, or deletes it when it has neither a
// total nor a contributor, and emits the matching notifications.
func (a *Aggregator) store(id ref.RoomID, e *entry, existed bool, previous Counts) {
	if e.counts.Total == 0 && len(e.contributors) == 0 {
		if existed {
			a.remove(id, previous)
		}
		return
	}

	a.entries[id] = e
	switch {
	case !existed:
		a.emitChange(CountChange{
			RoomID:    id,
			Total:     e.counts.Total,
			Highlight: e.counts.Highlight,
			Created:   true,
		})
	case e.counts != previous:
		a.emitChange(CountChange{
			RoomID:        id,
			Total:         e.counts.Total,
			Highlight:     e.counts.Highlight,
			PreviousTotal: previous.Total,
		})
	}
}

func (a *Aggregator) remove(id ref.RoomID, previous Counts) {
	delete(a.entries, id)
	a.emitFullyRead(id)
	a.emitChange(CountChange{RoomID: id, PreviousTotal: previous.Total, Removed: true})
}

// sweep removes entries the walk left with a zero total. They can
// only survive the walk through contributors that are zero
// themselves, which happens when a misconfigured cycle makes
// containers contribute to each other.
func (a *Aggregator) sweep(w *walk) {
	touched := sortedIDs(w.touched)
	for _, id := range touched {
		e := a.entries[id]
		if e == nil || e.counts.Total > 0 {
			continue
		}
		a.remove(id, e.counts)
		for _, parent := range a.graph.Parents(id) {
			a.relink(parent, id)
		}
	}
}

func clamp(value, low, high int) int {
	if high < low {
		high = low
	}
	return max(low, min(value, high))
}
