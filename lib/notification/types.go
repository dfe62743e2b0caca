// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notification

import "github.com/bureau-foundation/unread/lib/ref"

// Counts is a pair of unread counters. Highlight counts the subset of
// Total that is alert-worthy (mentions, keywords).
type Counts struct {
	Total     int `json:"total"`
	Highlight int `json:"highlight"`
}

// IsZero reports whether both counters are zero.
func (c Counts) IsZero() bool { return c.Total == 0 && c.Highlight == 0 }

// Add returns c + other.
func (c Counts) Add(other Counts) Counts {
	return Counts{Total: c.Total + other.Total, Highlight: c.Highlight + other.Highlight}
}

// Sub returns c - other. The result may be negative; callers clamp.
func (c Counts) Sub(other Counts) Counts {
	return Counts{Total: c.Total - other.Total, Highlight: c.Highlight - other.Highlight}
}

// Graph is the read side of the room hierarchy, supplied by the
// collaborator that owns rooms, edges, and per-room unread counters.
//
// A graph may additionally implement HasUnread(ref.RoomID) bool. When
// it does, initialization skips containers for which it returns false
// even if the server-reported counts are nonzero (the newest event is
// the user's own, or the read marker is already past every countable
// event).
type Graph interface {
	// Containers returns every known room and space.
	Containers() []ref.RoomID

	// Parents returns the direct parents of a container. A room may
	// belong to several spaces; top-level containers return nil.
	Parents(id ref.RoomID) []ref.RoomID

	// RawUnread returns the container's own unread counters,
	// independent of any aggregation.
	RawUnread(id ref.RoomID) Counts
}

// Source is the event side of the collaborator. Each method registers
// a handler and returns a function that removes it. Handlers are
// invoked synchronously from the collaborator's dispatch goroutine.
//
// A source may additionally implement OnHierarchyChanged(func()) func().
// When it does, the aggregator rebuilds its state whenever a
// parent/child edge is added or removed.
type Source interface {
	// OnEligibleEvent fires when a countable event arrived in a room:
	// a supported type, newest in the timeline, not sent by the own
	// user.
	OnEligibleEvent(handler func(ref.RoomID)) func()

	// OnOwnReadReceipt fires when the own user's read receipt
	// advanced in a room.
	OnOwnReadReceipt(handler func(ref.RoomID)) func()

	// OnOwnMembershipLeave fires when the own user left a room.
	OnOwnMembershipLeave(handler func(ref.RoomID)) func()
}

// CountChange describes one visible change to a container's entry.
type CountChange struct {
	RoomID ref.RoomID

	// Total and Highlight are the counts after the change. Both are
	// zero when Removed is set.
	Total     int
	Highlight int

	// PreviousTotal is the total before the change. Zero when Created
	// is set.
	PreviousTotal int

	// Created is set when the container had no entry before.
	Created bool

	// Removed is set when the entry was deleted (no remaining
	// activity).
	Removed bool
}

// Entry is a point-in-time copy of one container's state.
type Entry struct {
	RoomID       ref.RoomID   `json:"room_id"`
	Counts       Counts       `json:"counts"`
	Own          Counts       `json:"own"`
	Contributors []ref.RoomID `json:"contributors,omitempty"`
}
