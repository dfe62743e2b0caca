// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package roomgraph

import "github.com/bureau-foundation/unread/lib/ref"

// handlers is a registry of event handlers. All access happens under
// the graph's mutex; dispatch works on a snapshot taken under the
// lock and runs after it is released.
type handlers[F any] struct {
	nextID int
	items  []registered[F]
}

type registered[F any] struct {
	id      int
	handler F
}

func (h *handlers[F]) add(handler F) int {
	h.nextID++
	h.items = append(h.items, registered[F]{id: h.nextID, handler: handler})
	return h.nextID
}

func (h *handlers[F]) remove(id int) {
	for i := range h.items {
		if h.items[i].id == id {
			h.items = append(h.items[:i:i], h.items[i+1:]...)
			return
		}
	}
}

func (h *handlers[F]) snapshot() []F {
	result := make([]F, len(h.items))
	for i, item := range h.items {
		result[i] = item.handler
	}
	return result
}

func subscribe[F any](g *Graph, registry *handlers[F], handler F) func() {
	g.mutex.Lock()
	id := registry.add(handler)
	g.mutex.Unlock()
	return func() {
		g.mutex.Lock()
		registry.remove(id)
		g.mutex.Unlock()
	}
}

// OnEligibleEvent registers a handler for countable events arriving
// in a room. Returns the unsubscribe function.
func (g *Graph) OnEligibleEvent(handler func(ref.RoomID)) func() {
	return subscribe(g, &g.eligible, handler)
}

// OnOwnReadReceipt registers a handler for the own user's read marker
// moving in a room. Returns the unsubscribe function.
func (g *Graph) OnOwnReadReceipt(handler func(ref.RoomID)) func() {
	return subscribe(g, &g.receipt, handler)
}

// OnOwnMembershipLeave registers a handler for the own user leaving a
// room. Returns the unsubscribe function.
func (g *Graph) OnOwnMembershipLeave(handler func(ref.RoomID)) func() {
	return subscribe(g, &g.leave, handler)
}

// OnHierarchyChanged registers a handler for parent/child edges being
// added or removed. Returns the unsubscribe function.
func (g *Graph) OnHierarchyChanged(handler func()) func() {
	return subscribe(g, &g.hierarchy, handler)
}
