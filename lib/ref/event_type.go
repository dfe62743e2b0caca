// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

// EventType identifies a Matrix state or timeline event type.
//
// EventType is a named string type, not a struct wrapper: event types
// are opaque identifiers that need no parsing or validation. The type
// exists purely for compile-time safety, preventing accidental use of
// a state key where an event type is expected (or vice versa).
type EventType string

// String returns the event type string (e.g., "m.room.message").
func (t EventType) String() string { return string(t) }

// Standard Matrix event types consumed by the unread pipeline.
const (
	EventTypeMessage    EventType = "m.room.message"
	EventTypeEncrypted  EventType = "m.room.encrypted"
	EventTypeSticker    EventType = "m.sticker"
	EventTypeMember     EventType = "m.room.member"
	EventTypeCreate     EventType = "m.room.create"
	EventTypeName       EventType = "m.room.name"
	EventTypeSpaceChild EventType = "m.space.child"
	EventTypeReceipt    EventType = "m.receipt"
)
