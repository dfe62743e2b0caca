// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"encoding/json"

	"github.com/bureau-foundation/unread/lib/ref"
)

// Event is a Matrix event as returned by /sync and /state.
type Event struct {
	EventID        ref.EventID    `json:"event_id"`
	Type           ref.EventType  `json:"type"`
	Sender         ref.UserID     `json:"sender"`
	OriginServerTS int64          `json:"origin_server_ts"`
	Content        map[string]any `json:"content"`
	RoomID         ref.RoomID     `json:"room_id,omitempty"`
	StateKey       *string        `json:"state_key,omitempty"`
}

// IsState reports whether the event carries a state key.
func (e Event) IsState() bool { return e.StateKey != nil }

// SyncOptions holds parameters for a /sync request.
type SyncOptions struct {
	Since      string // next_batch token from previous sync; empty for initial sync
	Timeout    int    // long-poll timeout in milliseconds; 0 for immediate return
	SetTimeout bool   // if true, send the timeout parameter (needed to distinguish "not set" from "0")
	Filter     string // filter ID or inline JSON filter
	FullState  bool   // return all state events, not only changes since Since
}

// SyncResponse is the response from /sync.
type SyncResponse struct {
	NextBatch string       `json:"next_batch"`
	Rooms     RoomsSection `json:"rooms"`
}

// RoomsSection groups the per-room sync data by the own user's
// membership.
type RoomsSection struct {
	Join   map[ref.RoomID]JoinedRoom  `json:"join,omitempty"`
	Invite map[ref.RoomID]InvitedRoom `json:"invite,omitempty"`
	Leave  map[ref.RoomID]LeftRoom    `json:"leave,omitempty"`
}

// JoinedRoom is a joined room's section of a sync response.
type JoinedRoom struct {
	State     StateSection     `json:"state"`
	Timeline  TimelineSection  `json:"timeline"`
	Ephemeral EphemeralSection `json:"ephemeral"`

	// UnreadNotifications holds the server's push-rule based counters
	// for the own user. Nil when the server omitted the field.
	UnreadNotifications *UnreadNotificationCounts `json:"unread_notifications,omitempty"`
}

// UnreadNotificationCounts are the server-computed unread counters of
// a room: notification_count counts events that notify, and
// highlight_count the subset that highlight (mentions, keywords).
type UnreadNotificationCounts struct {
	HighlightCount    int `json:"highlight_count"`
	NotificationCount int `json:"notification_count"`
}

// InvitedRoom is an invited room's section of a sync response.
type InvitedRoom struct {
	InviteState StateSection `json:"invite_state"`
}

// LeftRoom is a left room's section of a sync response.
type LeftRoom struct {
	State    StateSection    `json:"state"`
	Timeline TimelineSection `json:"timeline"`
}

// TimelineSection holds timeline events from a sync response.
type TimelineSection struct {
	Events    []Event `json:"events"`
	PrevBatch string  `json:"prev_batch"`
	Limited   bool    `json:"limited"`
}

// StateSection holds state events from a sync response.
type StateSection struct {
	Events []Event `json:"events"`
}

// EphemeralSection holds ephemeral events (receipts, typing) from a
// sync response. Ephemeral events have no event ID.
type EphemeralSection struct {
	Events []Event `json:"events"`
}

// WhoAmIResponse is the response from GET /account/whoami.
type WhoAmIResponse struct {
	UserID   ref.UserID `json:"user_id"`
	DeviceID string     `json:"device_id,omitempty"`
}

// SyncFilter configures the inline /sync filter built by
// BuildSyncFilter.
type SyncFilter struct {
	// TimelineLimit caps the number of timeline events per room in a
	// /sync response. Zero means the server default.
	TimelineLimit int `json:"timeline_limit,omitempty"`
}

// BuildSyncFilter constructs the inline JSON filter for /sync: room
// state, timeline, and receipts only. Presence, account data, and
// typing notifications are suppressed; they never affect unread
// counts.
func BuildSyncFilter(filter SyncFilter) string {
	roomFilter := map[string]any{
		"state":     map[string]any{"lazy_load_members": true},
		"ephemeral": map[string]any{"types": []string{ref.EventTypeReceipt.String()}},
	}
	if filter.TimelineLimit > 0 {
		roomFilter["timeline"] = map[string]any{"limit": filter.TimelineLimit}
	}

	top := map[string]any{
		"room":         roomFilter,
		"presence":     map[string]any{"types": []string{}},
		"account_data": map[string]any{"types": []string{}},
	}

	data, _ := json.Marshal(top)
	return string(data)
}
