// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package roomgraph

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/bureau-foundation/unread/lib/notification"
	"github.com/bureau-foundation/unread/lib/ref"
)

// DefaultTimelineLimit is the number of timeline events retained per
// room when Options.TimelineLimit is zero. The tail only needs to
// reach back to the read marker or the newest countable event.
const DefaultTimelineLimit = 50

// Options configures a Graph.
type Options struct {
	// TimelineLimit bounds the retained timeline tail per room.
	TimelineLimit int

	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

var (
	_ notification.Graph  = (*Graph)(nil)
	_ notification.Source = (*Graph)(nil)
)

// Graph is the room hierarchy plus per-room unread state. Create one
// with New.
type Graph struct {
	userID        ref.UserID
	timelineLimit int
	logger        *slog.Logger

	mutex    sync.RWMutex
	rooms    map[ref.RoomID]*room
	parents  map[ref.RoomID]map[ref.RoomID]struct{}
	children map[ref.RoomID]map[ref.RoomID]struct{}

	eligible  handlers[func(ref.RoomID)]
	receipt   handlers[func(ref.RoomID)]
	leave     handlers[func(ref.RoomID)]
	hierarchy handlers[func()]

	// holds counts open Hold calls. While positive, hierarchy changes
	// only set hierarchyDirty; the last release dispatches once.
	holds          int
	hierarchyDirty bool
}

type room struct {
	kind       Kind
	name       string
	membership Membership
	unread     notification.Counts
	timeline   []Event
	readUpTo   ref.EventID
}

// New creates an empty graph for the given own user.
func New(userID ref.UserID, options Options) *Graph {
	if options.TimelineLimit <= 0 {
		options.TimelineLimit = DefaultTimelineLimit
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &Graph{
		userID:        userID,
		timelineLimit: options.TimelineLimit,
		logger:        options.Logger,
		rooms:         make(map[ref.RoomID]*room),
		parents:       make(map[ref.RoomID]map[ref.RoomID]struct{}),
		children:      make(map[ref.RoomID]map[ref.RoomID]struct{}),
	}
}

// UserID returns the own user the graph classifies events for.
func (g *Graph) UserID() ref.UserID { return g.userID }

// ensure returns the room record for id, creating a joined room of
// the given kind when it does not exist yet. Caller holds the lock.
func (g *Graph) ensure(id ref.RoomID, kind Kind) *room {
	r := g.rooms[id]
	if r == nil {
		r = &room{kind: kind, membership: MembershipJoin}
		g.rooms[id] = r
	}
	return r
}

// AddRoom registers a container, or updates the kind of a known one.
// Creation content can arrive after other state for the same room, so
// the kind is not fixed by the first sighting.
func (g *Graph) AddRoom(id ref.RoomID, kind Kind) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.ensure(id, kind).kind = kind
}

// SetName records a room's display name.
func (g *Graph) SetName(id ref.RoomID, name string) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.ensure(id, KindRoom).name = name
}

// SetChild adds (present) or removes the edge space → child. A space
// that declares children becomes KindSpace. Changing an edge
// dispatches a hierarchy change; setting an edge to its current state
// does nothing.
func (g *Graph) SetChild(space, child ref.RoomID, present bool) {
	if space == child {
		g.logger.Warn("ignoring space that lists itself as a child", "room_id", space)
		return
	}

	g.mutex.Lock()
	changed := false
	if present {
		g.ensure(space, KindSpace).kind = KindSpace
		g.ensure(child, KindRoom)
		changed = addEdge(g.children, space, child)
		addEdge(g.parents, child, space)
	} else {
		changed = removeEdge(g.children, space, child)
		removeEdge(g.parents, child, space)
	}
	dispatch := changed && g.markHierarchyDirty()
	handlers := g.hierarchy.snapshot()
	g.mutex.Unlock()

	if changed {
		g.logger.Debug("space edge changed",
			"space_id", space,
			"child_id", child,
			"present", present,
		)
	}
	if dispatch {
		for _, handler := range handlers {
			handler()
		}
	}
}

// markHierarchyDirty records a hierarchy change and reports whether
// it should be dispatched now. Caller holds the lock.
func (g *Graph) markHierarchyDirty() bool {
	if g.holds > 0 {
		g.hierarchyDirty = true
		return false
	}
	return true
}

// Hold defers hierarchy-change dispatch until the returned release
// function is called, coalescing any number of edge changes into a
// single dispatch. Holds nest; the outermost release dispatches.
// Used when applying a sync batch or a fixture file, which may change
// many edges at once.
func (g *Graph) Hold() (release func()) {
	g.mutex.Lock()
	g.holds++
	g.mutex.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mutex.Lock()
			g.holds--
			dispatch := g.holds == 0 && g.hierarchyDirty
			if dispatch {
				g.hierarchyDirty = false
			}
			handlers := g.hierarchy.snapshot()
			g.mutex.Unlock()

			if dispatch {
				for _, handler := range handlers {
					handler()
				}
			}
		})
	}
}

// SetUnreadCounts records the server-reported unread counts for a
// room without dispatching anything. The next eligible event diffs
// against them.
func (g *Graph) SetUnreadCounts(id ref.RoomID, counts notification.Counts) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.ensure(id, KindRoom).unread = sanitize(counts)
}

// AppendTimeline appends event to the room's timeline tail and
// records the server's unread counts at that point. It dispatches an
// eligible event when all of the following hold: the type is
// countable, the event is new (a redelivered event ID is not appended
// again and is never the newest arrival), the sender is not the own
// user, and the own user has not left the room.
func (g *Graph) AppendTimeline(id ref.RoomID, event Event, counts notification.Counts) {
	g.mutex.Lock()
	r := g.ensure(id, KindRoom)
	r.unread = sanitize(counts)

	duplicate := slices.ContainsFunc(r.timeline, func(existing Event) bool {
		return existing.ID == event.ID
	})
	if !duplicate {
		r.timeline = append(r.timeline, event)
		if excess := len(r.timeline) - g.timelineLimit; excess > 0 {
			r.timeline = slices.Delete(r.timeline, 0, excess)
		}
	}

	eligible := !duplicate &&
		Countable(event.Type) &&
		event.Sender != g.userID &&
		r.membership != MembershipLeave
	handlers := g.eligible.snapshot()
	g.mutex.Unlock()

	if !eligible {
		return
	}
	g.logger.Debug("eligible event",
		"room_id", id,
		"event_id", event.ID,
		"event_type", event.Type,
		"total", counts.Total,
		"highlight", counts.Highlight,
	)
	for _, handler := range handlers {
		handler(id)
	}
}

// SetReceipt records a read receipt. Receipts from other users are
// ignored. An own receipt that moves the read marker dispatches an
// own read receipt; when it points at the newest retained event the
// room's raw counts are cleared, matching what the server will report
// on the next sync.
func (g *Graph) SetReceipt(id ref.RoomID, user ref.UserID, eventID ref.EventID) {
	if user != g.userID {
		return
	}

	g.mutex.Lock()
	r := g.ensure(id, KindRoom)
	moved := r.readUpTo != eventID
	r.readUpTo = eventID
	if n := len(r.timeline); n > 0 && r.timeline[n-1].ID == eventID {
		r.unread = notification.Counts{}
	}
	handlers := g.receipt.snapshot()
	g.mutex.Unlock()

	if !moved {
		return
	}
	g.logger.Debug("own read receipt", "room_id", id, "event_id", eventID)
	for _, handler := range handlers {
		handler(id)
	}
}

// SetMembership records the own user's membership. A transition into
// leave clears the room's raw counts and dispatches an own leave.
func (g *Graph) SetMembership(id ref.RoomID, membership Membership) {
	g.mutex.Lock()
	r := g.ensure(id, KindRoom)
	left := membership == MembershipLeave && r.membership != MembershipLeave
	r.membership = membership
	if left {
		r.unread = notification.Counts{}
	}
	handlers := g.leave.snapshot()
	g.mutex.Unlock()

	if !left {
		return
	}
	g.logger.Debug("own membership leave", "room_id", id)
	for _, handler := range handlers {
		handler(id)
	}
}

// Snapshot returns the serializable state of the graph, rooms sorted
// by ID.
func (g *Graph) Snapshot() Snapshot {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	snapshot := Snapshot{UserID: g.userID, Rooms: make([]Room, 0, len(g.rooms))}
	for _, id := range sortedKeys(g.rooms) {
		snapshot.Rooms = append(snapshot.Rooms, g.roomLocked(id))
	}
	return snapshot
}

// Restore replaces the graph's state with snapshot and dispatches a
// hierarchy change so that consumers rebuild. The snapshot must
// belong to the graph's own user.
func (g *Graph) Restore(snapshot Snapshot) error {
	if snapshot.UserID != g.userID {
		return fmt.Errorf("roomgraph: snapshot belongs to %s, graph to %s", snapshot.UserID, g.userID)
	}

	g.mutex.Lock()
	g.rooms = make(map[ref.RoomID]*room, len(snapshot.Rooms))
	g.parents = make(map[ref.RoomID]map[ref.RoomID]struct{})
	g.children = make(map[ref.RoomID]map[ref.RoomID]struct{})
	for _, saved := range snapshot.Rooms {
		kind, err := ParseKind(string(saved.Kind))
		if err != nil {
			g.mutex.Unlock()
			return fmt.Errorf("roomgraph: restoring %s: %w", saved.ID, err)
		}
		membership, err := ParseMembership(string(saved.Membership))
		if err != nil {
			g.mutex.Unlock()
			return fmt.Errorf("roomgraph: restoring %s: %w", saved.ID, err)
		}
		r := g.ensure(saved.ID, kind)
		r.kind = kind
		r.name = saved.Name
		r.membership = membership
		r.unread = sanitize(saved.Unread)
		r.timeline = slices.Clone(saved.Timeline)
		r.readUpTo = saved.ReadUpTo
	}
	for _, saved := range snapshot.Rooms {
		for _, child := range saved.Children {
			if child == saved.ID {
				continue
			}
			g.ensure(child, KindRoom)
			addEdge(g.children, saved.ID, child)
			addEdge(g.parents, child, saved.ID)
		}
	}
	dispatch := g.markHierarchyDirty()
	handlers := g.hierarchy.snapshot()
	g.mutex.Unlock()

	g.logger.Info("room graph restored", "rooms", len(snapshot.Rooms))
	if dispatch {
		for _, handler := range handlers {
			handler()
		}
	}
	return nil
}

func addEdge(edges map[ref.RoomID]map[ref.RoomID]struct{}, from, to ref.RoomID) bool {
	set := edges[from]
	if set == nil {
		set = make(map[ref.RoomID]struct{})
		edges[from] = set
	}
	if _, ok := set[to]; ok {
		return false
	}
	set[to] = struct{}{}
	return true
}

func removeEdge(edges map[ref.RoomID]map[ref.RoomID]struct{}, from, to ref.RoomID) bool {
	set := edges[from]
	if _, ok := set[to]; !ok {
		return false
	}
	delete(set, to)
	if len(set) == 0 {
		delete(edges, from)
	}
	return true
}

// sanitize clamps server counts: negative values become zero and the
// highlight count never exceeds the total.
func sanitize(counts notification.Counts) notification.Counts {
	counts.Total = max(counts.Total, 0)
	counts.Highlight = min(max(counts.Highlight, 0), counts.Total)
	return counts
}

func sortedKeys[V any](m map[ref.RoomID]V) []ref.RoomID {
	keys := make([]ref.RoomID, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, ref.RoomID.Compare)
	return keys
}
