// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package roomgraph

import (
	"io"
	"log/slog"
	"slices"
	"testing"

	"github.com/bureau-foundation/unread/lib/notification"
	"github.com/bureau-foundation/unread/lib/ref"
)

var (
	ownUser   = ref.MustParseUserID("@me:test.local")
	otherUser = ref.MustParseUserID("@alice:test.local")
)

func roomID(name string) ref.RoomID { return ref.MustParseRoomID("!" + name + ":test.local") }

func eventID(name string) ref.EventID { return ref.MustParseEventID("$" + name) }

func newTestGraph(t *testing.T) *Graph {
	t.Helper()
	return New(ownUser, Options{
		TimelineLimit: 4,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

// dispatches records every event a graph dispatches.
type dispatches struct {
	eligible  []ref.RoomID
	receipts  []ref.RoomID
	leaves    []ref.RoomID
	hierarchy int
}

func record(graph *Graph) *dispatches {
	d := &dispatches{}
	graph.OnEligibleEvent(func(id ref.RoomID) { d.eligible = append(d.eligible, id) })
	graph.OnOwnReadReceipt(func(id ref.RoomID) { d.receipts = append(d.receipts, id) })
	graph.OnOwnMembershipLeave(func(id ref.RoomID) { d.leaves = append(d.leaves, id) })
	graph.OnHierarchyChanged(func() { d.hierarchy++ })
	return d
}

func TestAppendTimelineEligibility(t *testing.T) {
	tests := []struct {
		name     string
		event    Event
		leave    bool
		eligible bool
	}{
		{"message from other", Event{ID: eventID("a"), Type: ref.EventTypeMessage, Sender: otherUser}, false, true},
		{"encrypted from other", Event{ID: eventID("a"), Type: ref.EventTypeEncrypted, Sender: otherUser}, false, true},
		{"sticker from other", Event{ID: eventID("a"), Type: ref.EventTypeSticker, Sender: otherUser}, false, true},
		{"own message", Event{ID: eventID("a"), Type: ref.EventTypeMessage, Sender: ownUser}, false, false},
		{"membership event", Event{ID: eventID("a"), Type: ref.EventTypeMember, Sender: otherUser}, false, false},
		{"reaction", Event{ID: eventID("a"), Type: "m.reaction", Sender: otherUser}, false, false},
		{"message after leave", Event{ID: eventID("a"), Type: ref.EventTypeMessage, Sender: otherUser}, true, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			graph := newTestGraph(t)
			if test.leave {
				graph.SetMembership(roomID("r"), MembershipLeave)
			}
			d := record(graph)

			graph.AppendTimeline(roomID("r"), test.event, notification.Counts{Total: 1})

			if got := len(d.eligible) == 1; got != test.eligible {
				t.Errorf("eligible dispatches = %v, want eligible=%v", d.eligible, test.eligible)
			}
		})
	}
}

func TestAppendTimelineRedelivery(t *testing.T) {
	graph := newTestGraph(t)
	d := record(graph)
	event := Event{ID: eventID("a"), Type: ref.EventTypeMessage, Sender: otherUser}

	graph.AppendTimeline(roomID("r"), event, notification.Counts{Total: 1})
	graph.AppendTimeline(roomID("r"), event, notification.Counts{Total: 2, Highlight: 5})

	if len(d.eligible) != 1 {
		t.Errorf("eligible dispatches = %d, want 1", len(d.eligible))
	}
	got := graph.RawUnread(roomID("r"))
	if got != (notification.Counts{Total: 2, Highlight: 2}) {
		t.Errorf("RawUnread = %+v, want counts updated and highlight clamped", got)
	}
	r, _ := graph.Room(roomID("r"))
	if len(r.Timeline) != 1 {
		t.Errorf("timeline holds %d events, want 1", len(r.Timeline))
	}
}

func TestTimelineLimit(t *testing.T) {
	graph := newTestGraph(t)
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		graph.AppendTimeline(roomID("r"), Event{ID: eventID(name), Type: ref.EventTypeMessage, Sender: otherUser}, notification.Counts{})
	}
	r, _ := graph.Room(roomID("r"))
	var ids []string
	for _, event := range r.Timeline {
		ids = append(ids, event.ID.String())
	}
	if !slices.Equal(ids, []string{"$c", "$d", "$e", "$f"}) {
		t.Errorf("timeline = %v, want the newest four", ids)
	}
}

func TestSetReceipt(t *testing.T) {
	graph := newTestGraph(t)
	d := record(graph)
	graph.AppendTimeline(roomID("r"), Event{ID: eventID("a"), Type: ref.EventTypeMessage, Sender: otherUser}, notification.Counts{Total: 2})
	graph.AppendTimeline(roomID("r"), Event{ID: eventID("b"), Type: ref.EventTypeMessage, Sender: otherUser}, notification.Counts{Total: 2})

	graph.SetReceipt(roomID("r"), otherUser, eventID("b"))
	if len(d.receipts) != 0 {
		t.Fatalf("receipt from another user dispatched")
	}

	graph.SetReceipt(roomID("r"), ownUser, eventID("a"))
	if len(d.receipts) != 1 {
		t.Fatalf("own receipt dispatches = %d, want 1", len(d.receipts))
	}
	if graph.RawUnread(roomID("r")).Total != 2 {
		t.Errorf("receipt for an older event cleared the raw counts")
	}

	graph.SetReceipt(roomID("r"), ownUser, eventID("a"))
	if len(d.receipts) != 1 {
		t.Errorf("unchanged read marker dispatched again")
	}

	graph.SetReceipt(roomID("r"), ownUser, eventID("b"))
	if len(d.receipts) != 2 {
		t.Errorf("own receipt dispatches = %d, want 2", len(d.receipts))
	}
	if !graph.RawUnread(roomID("r")).IsZero() {
		t.Errorf("receipt for the newest event left raw counts %+v", graph.RawUnread(roomID("r")))
	}
}

func TestSetMembershipLeave(t *testing.T) {
	graph := newTestGraph(t)
	d := record(graph)
	graph.SetUnreadCounts(roomID("r"), notification.Counts{Total: 3})

	graph.SetMembership(roomID("r"), MembershipJoin)
	graph.SetMembership(roomID("r"), MembershipLeave)
	graph.SetMembership(roomID("r"), MembershipLeave)

	if !slices.Equal(d.leaves, []ref.RoomID{roomID("r")}) {
		t.Errorf("leave dispatches = %v, want exactly one", d.leaves)
	}
	if !graph.RawUnread(roomID("r")).IsZero() {
		t.Errorf("left room kept raw counts")
	}
}

func TestSetChild(t *testing.T) {
	graph := newTestGraph(t)
	d := record(graph)
	space, child, other := roomID("space"), roomID("child"), roomID("other")

	graph.SetChild(space, child, true)
	graph.SetChild(space, child, true)
	graph.SetChild(other, child, true)
	graph.SetChild(space, space, true)

	if d.hierarchy != 2 {
		t.Errorf("hierarchy dispatches = %d, want 2", d.hierarchy)
	}
	if parents := graph.Parents(child); !slices.Equal(parents, []ref.RoomID{other, space}) {
		t.Errorf("Parents(child) = %v", parents)
	}
	if children := graph.Children(space); !slices.Equal(children, []ref.RoomID{child}) {
		t.Errorf("Children(space) = %v", children)
	}
	if r, _ := graph.Room(space); r.Kind != KindSpace {
		t.Errorf("space kind = %q, want space", r.Kind)
	}
	if roots := graph.Roots(); !slices.Equal(roots, []ref.RoomID{other, space}) {
		t.Errorf("Roots() = %v", roots)
	}

	graph.SetChild(space, child, false)
	graph.SetChild(space, child, false)
	if d.hierarchy != 3 {
		t.Errorf("hierarchy dispatches = %d, want 3", d.hierarchy)
	}
	if parents := graph.Parents(child); !slices.Equal(parents, []ref.RoomID{other}) {
		t.Errorf("Parents(child) after removal = %v", parents)
	}
}

func TestHoldCoalescesHierarchyChanges(t *testing.T) {
	graph := newTestGraph(t)
	d := record(graph)

	release := graph.Hold()
	inner := graph.Hold()
	graph.SetChild(roomID("s"), roomID("a"), true)
	graph.SetChild(roomID("s"), roomID("b"), true)
	inner()
	if d.hierarchy != 0 {
		t.Fatalf("dispatched while held")
	}
	release()
	release()
	if d.hierarchy != 1 {
		t.Errorf("hierarchy dispatches = %d, want 1", d.hierarchy)
	}

	release = graph.Hold()
	release()
	if d.hierarchy != 1 {
		t.Errorf("empty hold dispatched")
	}
}

func TestHasUnread(t *testing.T) {
	message := func(name string, sender ref.UserID) Event {
		return Event{ID: eventID(name), Type: ref.EventTypeMessage, Sender: sender}
	}
	member := func(name string, sender ref.UserID) Event {
		return Event{ID: eventID(name), Type: ref.EventTypeMember, Sender: sender}
	}

	tests := []struct {
		name     string
		timeline []Event
		readUpTo string
		leave    bool
		want     bool
	}{
		{"empty timeline", nil, "", false, true},
		{"unread message", []Event{message("a", otherUser)}, "", false, true},
		{"own message last", []Event{message("a", otherUser), message("b", ownUser)}, "", false, false},
		{"own join last", []Event{message("a", otherUser), member("b", ownUser)}, "", false, true},
		{"read marker at newest", []Event{message("a", otherUser)}, "a", false, false},
		{"read marker before message", []Event{message("a", otherUser), message("b", otherUser)}, "a", false, true},
		{"only state after marker", []Event{message("a", otherUser), member("b", otherUser)}, "a", false, false},
		{"left room", []Event{message("a", otherUser)}, "", true, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			graph := newTestGraph(t)
			id := roomID("r")
			graph.AddRoom(id, KindRoom)
			for _, event := range test.timeline {
				graph.AppendTimeline(id, event, notification.Counts{})
			}
			if test.readUpTo != "" {
				graph.SetReceipt(id, ownUser, eventID(test.readUpTo))
			}
			if test.leave {
				graph.SetMembership(id, MembershipLeave)
			}
			if got := graph.HasUnread(id); got != test.want {
				t.Errorf("HasUnread = %v, want %v", got, test.want)
			}
		})
	}

	if newTestGraph(t).HasUnread(roomID("unknown")) {
		t.Error("unknown room reported unread")
	}
}

func TestSnapshotRestore(t *testing.T) {
	graph := newTestGraph(t)
	graph.SetChild(roomID("space"), roomID("a"), true)
	graph.SetName(roomID("space"), "Team")
	graph.AppendTimeline(roomID("a"), Event{ID: eventID("x"), Type: ref.EventTypeMessage, Sender: otherUser}, notification.Counts{Total: 4, Highlight: 1})
	graph.SetReceipt(roomID("a"), ownUser, eventID("x"))
	graph.SetMembership(roomID("b"), MembershipInvite)

	snapshot := graph.Snapshot()

	restored := newTestGraph(t)
	d := record(restored)
	if err := restored.Restore(snapshot); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if d.hierarchy != 1 {
		t.Errorf("Restore dispatched %d hierarchy changes, want 1", d.hierarchy)
	}

	again := restored.Snapshot()
	if len(again.Rooms) != len(snapshot.Rooms) {
		t.Fatalf("restored %d rooms, want %d", len(again.Rooms), len(snapshot.Rooms))
	}
	for i := range snapshot.Rooms {
		want, got := snapshot.Rooms[i], again.Rooms[i]
		if got.ID != want.ID || got.Kind != want.Kind || got.Name != want.Name ||
			got.Membership != want.Membership || got.Unread != want.Unread ||
			got.ReadUpTo != want.ReadUpTo ||
			!slices.Equal(got.Children, want.Children) || !slices.Equal(got.Timeline, want.Timeline) {
			t.Errorf("room %d: got %+v, want %+v", i, got, want)
		}
	}
	if parents := restored.Parents(roomID("a")); !slices.Equal(parents, []ref.RoomID{roomID("space")}) {
		t.Errorf("restored Parents(a) = %v", parents)
	}

	stranger := New(otherUser, Options{})
	if err := stranger.Restore(snapshot); err == nil {
		t.Error("Restore accepted another user's snapshot")
	}
}

func TestUnsubscribe(t *testing.T) {
	graph := newTestGraph(t)
	calls := 0
	unsubscribe := graph.OnEligibleEvent(func(ref.RoomID) { calls++ })
	event := Event{ID: eventID("a"), Type: ref.EventTypeMessage, Sender: otherUser}
	graph.AppendTimeline(roomID("r"), event, notification.Counts{Total: 1})
	unsubscribe()
	unsubscribe()
	event.ID = eventID("b")
	graph.AppendTimeline(roomID("r"), event, notification.Counts{Total: 2})
	if calls != 1 {
		t.Errorf("handler called %d times, want 1", calls)
	}
}
