// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"

	"github.com/bureau-foundation/unread/lib/ref"
)

// Session is the set of Matrix operations the unread pipeline
// performs. *DirectSession is the production implementation; tests
// substitute fakes.
//
// Transport-level methods (CloseIdleConnections) are not part of
// this interface. Callers that want them type-assert.
type Session interface {
	// UserID returns the fully-qualified Matrix user ID.
	UserID() ref.UserID

	// Close releases any resources held by the session. Idempotent.
	Close() error

	// WhoAmI validates the session and returns the user ID.
	WhoAmI(ctx context.Context) (ref.UserID, error)

	// Sync performs an incremental sync with the homeserver.
	Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error)

	// GetRoomState fetches all current state events from a room.
	GetRoomState(ctx context.Context, roomID ref.RoomID) ([]Event, error)

	// SendReceipt moves the own user's read receipt in a room.
	SendReceipt(ctx context.Context, roomID ref.RoomID, eventID ref.EventID) error
}
