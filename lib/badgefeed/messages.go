// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package badgefeed

import "github.com/bureau-foundation/unread/lib/ref"

// Message types sent to subscribers.
const (
	TypeSnapshot     = "snapshot"
	TypeCountChanged = "count_changed"
	TypeFullyRead    = "fully_read"
)

// Badge is the rolled-up unread state of one container.
type Badge struct {
	RoomID    ref.RoomID `json:"room_id"`
	Total     int        `json:"total"`
	Highlight int        `json:"highlight"`
}

// SnapshotMessage is the first message on every connection and is
// sent again whenever the feed is re-seeded. It lists every container
// with activity, sorted by room ID.
type SnapshotMessage struct {
	Type    string  `json:"type"`
	Entries []Badge `json:"entries"`
}

// CountChangedMessage reports a container's new rolled-up counts.
// Total and Highlight are zero when the container became fully read.
type CountChangedMessage struct {
	Type          string     `json:"type"`
	RoomID        ref.RoomID `json:"room_id"`
	Total         int        `json:"total"`
	Highlight     int        `json:"highlight"`
	PreviousTotal int        `json:"previous_total"`
}

// FullyReadMessage reports that a container no longer has any unread
// activity. It precedes the CountChangedMessage for the same removal.
type FullyReadMessage struct {
	Type   string     `json:"type"`
	RoomID ref.RoomID `json:"room_id"`
}
