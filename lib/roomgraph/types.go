// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package roomgraph

import (
	"fmt"

	"github.com/bureau-foundation/unread/lib/notification"
	"github.com/bureau-foundation/unread/lib/ref"
)

// Kind distinguishes spaces from ordinary rooms. Both are containers
// in the hierarchy; only the creation content differs.
type Kind string

const (
	KindRoom  Kind = "room"
	KindSpace Kind = "space"
)

// ParseKind accepts "room", "space", or "" (room).
func ParseKind(raw string) (Kind, error) {
	switch Kind(raw) {
	case "", KindRoom:
		return KindRoom, nil
	case KindSpace:
		return KindSpace, nil
	}
	return "", fmt.Errorf("unknown room kind %q", raw)
}

// Membership is the own user's membership in a room.
type Membership string

const (
	MembershipJoin   Membership = "join"
	MembershipInvite Membership = "invite"
	MembershipLeave  Membership = "leave"
)

// ParseMembership accepts "join", "invite", "leave", or "" (join).
func ParseMembership(raw string) (Membership, error) {
	switch Membership(raw) {
	case "", MembershipJoin:
		return MembershipJoin, nil
	case MembershipInvite, MembershipLeave:
		return Membership(raw), nil
	}
	return "", fmt.Errorf("unknown membership %q", raw)
}

// Event is the part of a timeline event the graph keeps.
type Event struct {
	ID     ref.EventID   `json:"id"`
	Type   ref.EventType `json:"type"`
	Sender ref.UserID    `json:"sender"`
}

// countable lists the event types that can make a room unread.
var countable = map[ref.EventType]bool{
	ref.EventTypeMessage:   true,
	ref.EventTypeEncrypted: true,
	ref.EventTypeSticker:   true,
}

// Countable reports whether events of this type contribute to unread
// counts (m.room.message, m.room.encrypted, m.sticker).
func Countable(eventType ref.EventType) bool { return countable[eventType] }

// Room is a point-in-time copy of one container's state.
type Room struct {
	ID         ref.RoomID          `json:"id"`
	Kind       Kind                `json:"kind"`
	Name       string              `json:"name,omitempty"`
	Membership Membership          `json:"membership"`
	Unread     notification.Counts `json:"unread"`

	// Timeline is the retained tail of the live timeline, oldest
	// first. Its length is bounded by Options.TimelineLimit.
	Timeline []Event `json:"timeline,omitempty"`

	// ReadUpTo is the event the own user's read receipt points at.
	ReadUpTo ref.EventID `json:"read_up_to,omitempty"`

	// Children lists the containers this room declares through
	// m.space.child state, sorted. Only spaces normally have any.
	Children []ref.RoomID `json:"children,omitempty"`
}

// DisplayName returns the room name, or the room ID when unnamed.
func (r Room) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID.String()
}

// Snapshot is the serializable state of a whole graph.
type Snapshot struct {
	UserID ref.UserID `json:"user_id"`
	Rooms  []Room     `json:"rooms"`
}
