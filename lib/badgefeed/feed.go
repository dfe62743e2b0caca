// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package badgefeed publishes unread badges to websocket subscribers.
//
// A [Feed] mirrors the aggregator's entries under its own lock. The
// mirror is updated by aggregator listeners, which run on the
// aggregator's dispatch goroutine; HTTP handlers only ever touch the
// mirror, so the aggregator itself is never accessed concurrently.
//
// Each connection first receives a [SnapshotMessage], then a stream
// of [CountChangedMessage] and [FullyReadMessage] values as JSON text
// frames. A plain GET without a websocket upgrade returns the current
// snapshot as JSON, which is convenient with curl. Clients that fall
// behind by more than the buffer size are disconnected with
// StatusPolicyViolation and are expected to reconnect for a fresh
// snapshot.
package badgefeed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/bureau-foundation/unread/lib/notification"
	"github.com/bureau-foundation/unread/lib/ref"
)

// DefaultBufferSize is the number of messages queued per subscriber
// before it is considered too slow.
const DefaultBufferSize = 64

// DefaultWriteTimeout bounds a single frame write.
const DefaultWriteTimeout = 10 * time.Second

// Options configures a Feed.
type Options struct {
	// BufferSize is the per-subscriber queue length. Zero uses
	// DefaultBufferSize.
	BufferSize int

	// WriteTimeout bounds each frame write. Zero uses
	// DefaultWriteTimeout.
	WriteTimeout time.Duration

	// OriginPatterns lists additional host patterns allowed to open
	// cross-origin connections (see websocket.AcceptOptions). Same
	// origin requests are always allowed.
	OriginPatterns []string

	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// Feed fans aggregator changes out to websocket subscribers. Create
// one with New and connect it with Attach.
type Feed struct {
	bufferSize     int
	writeTimeout   time.Duration
	originPatterns []string
	logger         *slog.Logger

	mutex       sync.Mutex
	badges      map[ref.RoomID]notification.Counts
	subscribers map[*subscriber]struct{}
	closed      bool
}

// subscriber is one connected client.
type subscriber struct {
	messages chan []byte

	// dropped is closed when the feed disconnects the subscriber;
	// status and reason are set before it closes.
	dropped  chan struct{}
	dropOnce sync.Once
	status   websocket.StatusCode
	reason   string
}

func (s *subscriber) drop(status websocket.StatusCode, reason string) {
	s.dropOnce.Do(func() {
		s.status, s.reason = status, reason
		close(s.dropped)
	})
}

// New creates an empty Feed.
func New(options Options) *Feed {
	if options.BufferSize <= 0 {
		options.BufferSize = DefaultBufferSize
	}
	if options.WriteTimeout <= 0 {
		options.WriteTimeout = DefaultWriteTimeout
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &Feed{
		bufferSize:     options.BufferSize,
		writeTimeout:   options.WriteTimeout,
		originPatterns: options.OriginPatterns,
		logger:         options.Logger,
		badges:         make(map[ref.RoomID]notification.Counts),
		subscribers:    make(map[*subscriber]struct{}),
	}
}

// Attach seeds the mirror from the aggregator's current entries,
// sends the new snapshot to connected subscribers, and subscribes to
// further changes. It must be called on the aggregator's dispatch
// goroutine. The returned function detaches the feed.
func (f *Feed) Attach(aggregator *notification.Aggregator) (detach func()) {
	entries := aggregator.Entries()

	f.mutex.Lock()
	clear(f.badges)
	for _, entry := range entries {
		f.badges[entry.RoomID] = entry.Counts
	}
	f.broadcastLocked(f.snapshotLocked())
	f.mutex.Unlock()

	unsubscribeChanges := aggregator.SubscribeCountChanged(f.handleCountChanged)
	unsubscribeRead := aggregator.SubscribeFullyRead(f.handleFullyRead)
	return func() {
		unsubscribeChanges()
		unsubscribeRead()
	}
}

func (f *Feed) handleCountChanged(change notification.CountChange) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if change.Removed {
		delete(f.badges, change.RoomID)
	} else {
		f.badges[change.RoomID] = notification.Counts{Total: change.Total, Highlight: change.Highlight}
	}
	f.broadcastLocked(CountChangedMessage{
		Type:          TypeCountChanged,
		RoomID:        change.RoomID,
		Total:         change.Total,
		Highlight:     change.Highlight,
		PreviousTotal: change.PreviousTotal,
	})
}

func (f *Feed) handleFullyRead(id ref.RoomID) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.broadcastLocked(FullyReadMessage{Type: TypeFullyRead, RoomID: id})
}

// Snapshot returns the mirrored badges, sorted by room ID.
func (f *Feed) Snapshot() SnapshotMessage {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.snapshotLocked()
}

func (f *Feed) snapshotLocked() SnapshotMessage {
	badges := make([]Badge, 0, len(f.badges))
	for id, counts := range f.badges {
		badges = append(badges, Badge{RoomID: id, Total: counts.Total, Highlight: counts.Highlight})
	}
	slices.SortFunc(badges, func(a, b Badge) int { return a.RoomID.Compare(b.RoomID) })
	return SnapshotMessage{Type: TypeSnapshot, Entries: badges}
}

// broadcastLocked queues message for every subscriber, dropping those
// whose queue is full. Caller holds the mutex.
func (f *Feed) broadcastLocked(message any) {
	if len(f.subscribers) == 0 {
		return
	}
	data, err := json.Marshal(message)
	if err != nil {
		f.logger.Error("encoding badge message", "error", err)
		return
	}
	for s := range f.subscribers {
		select {
		case s.messages <- data:
		default:
			delete(f.subscribers, s)
			s.drop(websocket.StatusPolicyViolation, "connection too slow to keep up with badge updates")
		}
	}
}

// subscribe registers a subscriber with the current snapshot already
// queued, so that no change can slip in between the snapshot and the
// stream. Returns nil when the feed is closed.
func (f *Feed) subscribe() *subscriber {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.closed {
		return nil
	}
	data, err := json.Marshal(f.snapshotLocked())
	if err != nil {
		f.logger.Error("encoding badge snapshot", "error", err)
		return nil
	}
	s := &subscriber{
		messages: make(chan []byte, f.bufferSize+1),
		dropped:  make(chan struct{}),
	}
	s.messages <- data
	f.subscribers[s] = struct{}{}
	return s
}

func (f *Feed) unsubscribe(s *subscriber) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	delete(f.subscribers, s)
}

// Subscribers returns the number of connected subscribers.
func (f *Feed) Subscribers() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return len(f.subscribers)
}

// Close disconnects every subscriber and rejects new connections.
func (f *Feed) Close() {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.closed = true
	for s := range f.subscribers {
		delete(f.subscribers, s)
		s.drop(websocket.StatusGoingAway, "feed is shutting down")
	}
}

// Handler returns the HTTP handler serving the feed.
func (f *Feed) Handler() http.Handler {
	return http.HandlerFunc(f.serve)
}

func (f *Feed) serve(w http.ResponseWriter, r *http.Request) {
	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(f.Snapshot()); err != nil {
			f.logger.Debug("writing badge snapshot", "remote", r.RemoteAddr, "error", err)
		}
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: f.originPatterns})
	if err != nil {
		// Accept has already written the HTTP error response.
		f.logger.Debug("rejecting badge subscriber", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	s := f.subscribe()
	if s == nil {
		conn.Close(websocket.StatusGoingAway, "feed is shutting down")
		return
	}
	defer f.unsubscribe(s)
	f.logger.Debug("badge subscriber connected", "remote", r.RemoteAddr)

	// Subscribers never send anything; CloseRead handles their close
	// frames and cancels ctx when the connection goes away.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case data := <-s.messages:
			if err := f.write(ctx, conn, data); err != nil {
				f.logger.Debug("badge subscriber write failed", "remote", r.RemoteAddr, "error", err)
				return
			}
		case <-s.dropped:
			if s.status == websocket.StatusPolicyViolation {
				f.logger.Warn("dropping slow badge subscriber", "remote", r.RemoteAddr)
			}
			conn.Close(s.status, s.reason)
			return
		case <-ctx.Done():
			f.logger.Debug("badge subscriber disconnected", "remote", r.RemoteAddr)
			return
		}
	}
}

func (f *Feed) write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, f.writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
