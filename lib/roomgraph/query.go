// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package roomgraph

import (
	"slices"

	"github.com/bureau-foundation/unread/lib/notification"
	"github.com/bureau-foundation/unread/lib/ref"
)

// Containers returns every known room and space, sorted by ID.
func (g *Graph) Containers() []ref.RoomID {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return sortedKeys(g.rooms)
}

// Parents returns the spaces that list id as a child, sorted.
func (g *Graph) Parents(id ref.RoomID) []ref.RoomID {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return sortedSet(g.parents[id])
}

// Children returns the containers id lists as children, sorted.
func (g *Graph) Children(id ref.RoomID) []ref.RoomID {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return sortedSet(g.children[id])
}

// Roots returns the known containers that have no parent, sorted.
func (g *Graph) Roots() []ref.RoomID {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	var roots []ref.RoomID
	for _, id := range sortedKeys(g.rooms) {
		if len(g.parents[id]) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// RawUnread returns the room's own server-reported counts.
func (g *Graph) RawUnread(id ref.RoomID) notification.Counts {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	if r := g.rooms[id]; r != nil {
		return r.unread
	}
	return notification.Counts{}
}

// Room returns a copy of the room's state.
func (g *Graph) Room(id ref.RoomID) (Room, bool) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	if g.rooms[id] == nil {
		return Room{}, false
	}
	return g.roomLocked(id), true
}

func (g *Graph) roomLocked(id ref.RoomID) Room {
	r := g.rooms[id]
	return Room{
		ID:         id,
		Kind:       r.kind,
		Name:       r.name,
		Membership: r.membership,
		Unread:     r.unread,
		Timeline:   slices.Clone(r.timeline),
		ReadUpTo:   r.readUpTo,
		Children:   sortedSet(g.children[id]),
	}
}

// HasUnread inspects the timeline tail to decide whether the room
// really has unread activity, independent of the server counts:
//
//   - a left or unknown room has none
//   - if the newest event is the own user's (other than a membership
//     change), the user has seen everything
//   - otherwise walk back from the newest event: reaching the read
//     marker first means read, reaching a countable event first
//     means unread
//   - a tail that holds neither is treated as unread
func (g *Graph) HasUnread(id ref.RoomID) bool {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	r := g.rooms[id]
	if r == nil || r.membership == MembershipLeave {
		return false
	}
	if n := len(r.timeline); n > 0 {
		newest := r.timeline[n-1]
		if newest.Sender == g.userID && newest.Type != ref.EventTypeMember {
			return false
		}
	}
	for i := len(r.timeline) - 1; i >= 0; i-- {
		event := r.timeline[i]
		if !r.readUpTo.IsZero() && event.ID == r.readUpTo {
			return false
		}
		if Countable(event.Type) {
			return true
		}
	}
	return true
}

// NewestEvent returns the newest retained timeline event of a room.
func (g *Graph) NewestEvent(id ref.RoomID) (Event, bool) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	r := g.rooms[id]
	if r == nil || len(r.timeline) == 0 {
		return Event{}, false
	}
	return r.timeline[len(r.timeline)-1], true
}

func sortedSet(set map[ref.RoomID]struct{}) []ref.RoomID {
	if len(set) == 0 {
		return nil
	}
	ids := make([]ref.RoomID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, ref.RoomID.Compare)
	return ids
}
