// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package matrixgraph keeps a [roomgraph.Graph] in step with the
// Matrix /sync stream.
//
// A [Feeder] translates each sync response into graph mutations:
// creation content marks spaces, m.space.child state maintains the
// hierarchy edges, unread_notifications supplies the per-room raw
// counts, timeline events feed the eligibility check, and m.receipt
// ephemeral events move the own read marker. Within a room the order
// is state, then counts, then timeline, then receipts; left rooms are
// processed after all joined rooms. Hierarchy changes within a batch
// are coalesced into a single dispatch.
//
// The graph dispatches synchronously, so whatever consumes graph
// events runs on the goroutine that calls [Feeder.Run].
package matrixgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/bureau-foundation/unread/lib/clock"
	"github.com/bureau-foundation/unread/lib/notification"
	"github.com/bureau-foundation/unread/lib/ref"
	"github.com/bureau-foundation/unread/lib/roomgraph"
	"github.com/bureau-foundation/unread/messaging"
)

// maxSyncRetries is the number of consecutive /sync failures Run
// tolerates before giving up.
const maxSyncRetries = 5

// longPollTimeout is the default server-side hold time in
// milliseconds for a normal /sync call. The server returns as soon as
// anything arrives.
const longPollTimeout = 30000

// retryTimeout is the server-side timeout in milliseconds after a
// failed /sync, so that a recovered server answers the retry quickly.
const retryTimeout = 1000

// retryPause is the wait before the first retry; each further
// consecutive failure waits one more retryPause.
const retryPause = time.Second

// Options configures a Feeder.
type Options struct {
	// TimelineLimit caps timeline events per room per sync response.
	// Zero uses the server default.
	TimelineLimit int

	// PollTimeout is the long-poll hold requested from the server.
	// Zero uses 30 seconds.
	PollTimeout time.Duration

	// OnBatch, if set, is called after each applied batch with its
	// next_batch token. The daemon persists the state cache here.
	OnBatch func(nextBatch string)

	// Clock drives the pause between retries. If nil, clock.Real()
	// is used.
	Clock clock.Clock

	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// Feeder applies /sync responses from a session to a room graph.
type Feeder struct {
	session messaging.Session
	graph   *roomgraph.Graph
	filter  string
	timeout int
	onBatch func(string)
	clock   clock.Clock
	logger  *slog.Logger
}

// New creates a Feeder. The graph must belong to the session's user.
func New(session messaging.Session, graph *roomgraph.Graph, options Options) (*Feeder, error) {
	if session.UserID() != graph.UserID() {
		return nil, fmt.Errorf("matrixgraph: session user %s does not match graph user %s",
			session.UserID(), graph.UserID())
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	timeout := longPollTimeout
	if options.PollTimeout > 0 {
		timeout = int(options.PollTimeout / time.Millisecond)
	}
	return &Feeder{
		session: session,
		graph:   graph,
		filter:  messaging.BuildSyncFilter(messaging.SyncFilter{TimelineLimit: options.TimelineLimit}),
		timeout: timeout,
		onBatch: options.OnBatch,
		clock:   options.Clock,
		logger:  options.Logger,
	}, nil
}

// Bootstrap performs an immediate full sync (no since token, no
// long-poll), applies it, and returns the next_batch token to resume
// from.
func (f *Feeder) Bootstrap(ctx context.Context) (string, error) {
	response, err := f.session.Sync(ctx, messaging.SyncOptions{
		SetTimeout: true,
		Timeout:    0,
		Filter:     f.filter,
	})
	if err != nil {
		return "", fmt.Errorf("matrixgraph: initial sync: %w", err)
	}
	f.Apply(response)
	f.logger.Info("initial sync applied",
		"joined_rooms", len(response.Rooms.Join),
		"next_batch", response.NextBatch,
	)
	return response.NextBatch, nil
}

// Run long-polls /sync from since until ctx is cancelled, applying
// every response. Transient failures are retried with a growing pause;
// after more than maxSyncRetries consecutive failures, or on an
// authentication error, Run returns the error. Cancellation returns
// ctx.Err().
func (f *Feeder) Run(ctx context.Context, since string) error {
	retries := 0
	for {
		timeout := f.timeout
		if retries > 0 {
			timeout = retryTimeout
		}
		response, err := f.session.Sync(ctx, messaging.SyncOptions{
			Since:      since,
			SetTimeout: true,
			Timeout:    timeout,
			Filter:     f.filter,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if messaging.IsAuthError(err) {
				return fmt.Errorf("matrixgraph: access token rejected: %w", err)
			}
			retries++
			// A reset or EOF often leaves a poisoned connection in the
			// HTTP pool; drop idle connections so the retry dials fresh.
			if closer, ok := f.session.(interface{ CloseIdleConnections() }); ok {
				closer.CloseIdleConnections()
			}
			if retries > maxSyncRetries {
				return fmt.Errorf("matrixgraph: sync failed %d consecutive times: %w", retries, err)
			}
			pause := time.Duration(retries) * retryPause
			f.logger.Warn("sync failed, retrying",
				"attempt", retries,
				"max_attempts", maxSyncRetries,
				"pause", pause,
				"error", err,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-f.clock.After(pause):
			}
			continue
		}

		if retries > 0 {
			f.logger.Info("sync recovered", "failed_attempts", retries)
		}
		retries = 0
		f.Apply(response)
		since = response.NextBatch
		if f.onBatch != nil {
			f.onBatch(since)
		}
	}
}

// Apply translates one sync response into graph mutations.
func (f *Feeder) Apply(response *messaging.SyncResponse) {
	release := f.graph.Hold()
	defer release()

	for _, roomID := range sortedRooms(response.Rooms.Join) {
		f.applyJoined(roomID, response.Rooms.Join[roomID])
	}
	for _, roomID := range sortedRooms(response.Rooms.Invite) {
		f.graph.SetMembership(roomID, roomgraph.MembershipInvite)
		for _, event := range response.Rooms.Invite[roomID].InviteState.Events {
			f.applyState(roomID, event)
		}
	}
	for _, roomID := range sortedRooms(response.Rooms.Leave) {
		left := response.Rooms.Leave[roomID]
		for _, event := range left.State.Events {
			f.applyState(roomID, event)
		}
		f.graph.SetMembership(roomID, roomgraph.MembershipLeave)
	}
}

func (f *Feeder) applyJoined(roomID ref.RoomID, joined messaging.JoinedRoom) {
	f.graph.SetMembership(roomID, roomgraph.MembershipJoin)
	for _, event := range joined.State.Events {
		f.applyState(roomID, event)
	}

	counts := f.graph.RawUnread(roomID)
	if unread := joined.UnreadNotifications; unread != nil {
		counts = notification.Counts{Total: unread.NotificationCount, Highlight: unread.HighlightCount}
	}
	if len(joined.Timeline.Events) == 0 {
		f.graph.SetUnreadCounts(roomID, counts)
	}
	for _, event := range joined.Timeline.Events {
		if event.IsState() {
			f.applyState(roomID, event)
		}
		if event.EventID.IsZero() {
			continue
		}
		f.graph.AppendTimeline(roomID, roomgraph.Event{
			ID:     event.EventID,
			Type:   event.Type,
			Sender: event.Sender,
		}, counts)
	}

	for _, event := range joined.Ephemeral.Events {
		for _, receipt := range messaging.ParseReceipts(event) {
			if !receipt.Unthreaded() {
				continue
			}
			f.graph.SetReceipt(roomID, receipt.UserID, receipt.EventID)
		}
	}
}

// applyState handles the state event types that shape the hierarchy.
func (f *Feeder) applyState(roomID ref.RoomID, event messaging.Event) {
	if !event.IsState() {
		return
	}
	switch event.Type {
	case ref.EventTypeCreate:
		kind := roomgraph.KindRoom
		if roomType, _ := event.Content["type"].(string); roomType == "m.space" {
			kind = roomgraph.KindSpace
		}
		f.graph.AddRoom(roomID, kind)

	case ref.EventTypeName:
		name, _ := event.Content["name"].(string)
		f.graph.SetName(roomID, name)

	case ref.EventTypeSpaceChild:
		child, err := ref.ParseRoomID(*event.StateKey)
		if err != nil {
			f.logger.Warn("ignoring m.space.child with invalid state key",
				"room_id", roomID,
				"state_key", *event.StateKey,
				"error", err,
			)
			return
		}
		f.graph.SetChild(roomID, child, hasVia(event.Content))
	}
}

// hasVia reports whether m.space.child content declares at least one
// via server. Content without via (usually {}) is how an edge is
// removed.
func hasVia(content map[string]any) bool {
	via, ok := content["via"].([]any)
	if !ok {
		return false
	}
	return slices.ContainsFunc(via, func(server any) bool {
		name, ok := server.(string)
		return ok && name != ""
	})
}

// ErrNothingToRead is returned by MarkRead when the room has no
// timeline event to put a receipt on.
var ErrNothingToRead = errors.New("matrixgraph: room has no timeline events")

// MarkRead sends a read receipt for the newest event the graph holds
// for roomID and applies it locally without waiting for the server's
// echo.
func (f *Feeder) MarkRead(ctx context.Context, roomID ref.RoomID) (ref.EventID, error) {
	newest, ok := f.graph.NewestEvent(roomID)
	if !ok {
		return ref.EventID{}, fmt.Errorf("%w: %s", ErrNothingToRead, roomID)
	}
	if err := f.session.SendReceipt(ctx, roomID, newest.ID); err != nil {
		return ref.EventID{}, err
	}
	f.graph.SetReceipt(roomID, f.graph.UserID(), newest.ID)
	return newest.ID, nil
}

func sortedRooms[V any](rooms map[ref.RoomID]V) []ref.RoomID {
	ids := make([]ref.RoomID, 0, len(rooms))
	for id := range rooms {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, ref.RoomID.Compare)
	return ids
}
