// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fixture

import (
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/bureau-foundation/unread/lib/notification"
	"github.com/bureau-foundation/unread/lib/ref"
	"github.com/bureau-foundation/unread/lib/roomgraph"
)

// sequence numbers synthetic event IDs so they never collide with an
// event already in a timeline tail.
var sequence atomic.Uint64

// Apply issues the graph mutations that turn the graph's current
// state into the state described by file. Rooms the graph knows but
// the file no longer mentions, neither as a room nor as a child, are
// treated as left and unlinked.
// Hierarchy changes are dispatched once, after all rooms are applied.
func Apply(graph *roomgraph.Graph, file *File) error {
	if file.UserID != graph.UserID() {
		return fmt.Errorf("fixture: file is for %s but the graph belongs to %s",
			file.UserID, graph.UserID())
	}

	release := graph.Hold()
	defer release()

	listed := make(map[ref.RoomID]bool, len(file.Rooms))
	for _, room := range file.Rooms {
		listed[room.ID] = true
		for _, child := range room.Children {
			listed[child] = true
		}
	}

	// Structure first, so that count changes propagate along the new
	// edges.
	for _, room := range file.Rooms {
		graph.AddRoom(room.ID, room.Kind)
		graph.SetName(room.ID, room.Name)
		applyChildren(graph, room.ID, room.Children)
	}
	for _, id := range graph.Containers() {
		if listed[id] {
			continue
		}
		applyChildren(graph, id, nil)
		graph.SetMembership(id, roomgraph.MembershipLeave)
	}

	for _, room := range file.Rooms {
		if room.Membership == roomgraph.MembershipLeave {
			graph.SetMembership(room.ID, roomgraph.MembershipLeave)
			continue
		}
		graph.SetMembership(room.ID, room.Membership)
		applyCounts(graph, room)
	}
	return nil
}

// applyChildren adds and removes space → child edges until the
// children of id are exactly want.
func applyChildren(graph *roomgraph.Graph, id ref.RoomID, want []ref.RoomID) {
	current := graph.Children(id)
	for _, child := range current {
		if !slices.Contains(want, child) {
			graph.SetChild(id, child, false)
		}
	}
	for _, child := range want {
		if !slices.Contains(current, child) {
			graph.SetChild(id, child, true)
		}
	}
}

// applyCounts moves a room's raw counts to the desired value the way
// a homeserver would: a new event from someone else for any change,
// or an own read receipt when the counts drop to zero.
func applyCounts(graph *roomgraph.Graph, room Room) {
	current := graph.RawUnread(room.ID)
	if current == room.Unread {
		return
	}

	own := graph.UserID()
	if room.Unread.IsZero() {
		newest, ok := graph.NewestEvent(room.ID)
		if !ok {
			newest = syntheticEvent(own, own, ref.EventTypeMessage)
			graph.AppendTimeline(room.ID, newest, notification.Counts{})
		}
		graph.SetReceipt(room.ID, own, newest.ID)
		// A receipt that does not move the marker leaves the counts
		// alone; make sure they match the file regardless.
		graph.SetUnreadCounts(room.ID, notification.Counts{})
		return
	}

	sender := room.LastSender
	if sender.IsZero() {
		sender = ref.MustParseUserID("@fixture:" + own.Server())
	}
	eventType := room.LastType
	if eventType == "" {
		eventType = ref.EventTypeMessage
	}
	graph.AppendTimeline(room.ID, syntheticEvent(own, sender, eventType), room.Unread)
}

func syntheticEvent(own, sender ref.UserID, eventType ref.EventType) roomgraph.Event {
	id := fmt.Sprintf("$fixture%d:%s", sequence.Add(1), own.Server())
	return roomgraph.Event{
		ID:     ref.MustParseEventID(id),
		Type:   eventType,
		Sender: sender,
	}
}
