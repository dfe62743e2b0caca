// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/bureau-foundation/unread/lib/badgefeed"
	"github.com/bureau-foundation/unread/lib/clock"
	"github.com/bureau-foundation/unread/lib/fixture"
	"github.com/bureau-foundation/unread/lib/notification"
	"github.com/bureau-foundation/unread/lib/roomgraph"
	"github.com/bureau-foundation/unread/lib/statecache"
)

// cacheInterval is the minimum time between state cache writes while
// syncing. The cache is also written once on shutdown.
const cacheInterval = 30 * time.Second

// shutdownTimeout bounds how long the feed server waits for in-flight
// plain HTTP requests on shutdown.
const shutdownTimeout = 5 * time.Second

func runCommand() *command {
	return &command{
		name:    "run",
		summary: "Keep unread rollups current and serve the badge feed",
		usage:   "run [--config FILE]",
		execute: func(ctx context.Context, a *app, args []string) error {
			if len(args) > 0 {
				return usageError("run: unexpected argument %q", args[0])
			}
			if a.fixtureMode() {
				return a.runFixture(ctx)
			}
			return a.runMatrix(ctx)
		},
	}
}

func (a *app) newAggregator(graph *roomgraph.Graph) *notification.Aggregator {
	return notification.New(graph, graph, notification.Options{Logger: a.logger})
}

// checkInvariants runs the aggregator's self-check when debug logging
// is on. It must run on the dispatch goroutine.
func (a *app) checkInvariants(aggregator *notification.Aggregator) {
	if !a.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	if err := aggregator.Check(); err != nil {
		a.logger.Error("rollup invariants violated", "error", err)
	}
}

func (a *app) runMatrix(ctx context.Context) error {
	compression, err := statecache.ParseCompression(a.config.Cache.Compression)
	if err != nil {
		return err
	}
	if err := a.config.EnsureCacheDirectory(); err != nil {
		return err
	}

	session, err := a.openSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	graph := a.newGraph(session.UserID())
	since := a.restoreCache(graph)
	saver := &cacheSaver{
		path:        a.config.Cache.Path,
		compression: compression,
		graph:       graph,
		clock:       clock.Real(),
		logger:      a.logger,
	}

	var aggregator *notification.Aggregator
	feeder, err := a.newFeeder(session, graph, func(nextBatch string) {
		saver.batch(nextBatch)
		a.checkInvariants(aggregator)
	})
	if err != nil {
		return err
	}
	if since == "" {
		if since, err = feeder.Bootstrap(ctx); err != nil {
			return err
		}
		saver.batch(since)
	}

	aggregator = a.newAggregator(graph)
	defer aggregator.Close()
	a.checkInvariants(aggregator)

	stopFeed, err := a.startFeed(aggregator)
	if err != nil {
		return err
	}
	defer stopFeed()

	a.logger.Info("syncing", "user_id", session.UserID(), "since", since)
	err = feeder.Run(ctx, since)
	saver.flush()
	if errors.Is(err, context.Canceled) {
		a.logger.Info("shutting down")
		return nil
	}
	return err
}

func (a *app) runFixture(ctx context.Context) error {
	graph, err := a.loadFixture()
	if err != nil {
		return err
	}
	aggregator := a.newAggregator(graph)
	defer aggregator.Close()
	a.checkInvariants(aggregator)

	stopFeed, err := a.startFeed(aggregator)
	if err != nil {
		return err
	}
	defer stopFeed()

	path := a.config.Fixture.Path
	a.logger.Info("serving fixture", "path", path, "watch", a.config.Fixture.Watch)
	if !a.config.Fixture.Watch {
		<-ctx.Done()
		return nil
	}

	err = fixture.Watch(ctx, path, fixture.WatchOptions{Logger: a.logger}, func(file *fixture.File, err error) {
		if err != nil {
			a.logger.Warn("fixture reload failed, keeping previous state", "path", path, "error", err)
			return
		}
		if err := fixture.Apply(graph, file); err != nil {
			a.logger.Warn("applying fixture failed", "path", path, "error", err)
			return
		}
		a.checkInvariants(aggregator)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// startFeed serves the badge feed on the configured address. The
// returned stop function disconnects subscribers and shuts the server
// down. With no address configured it does nothing.
func (a *app) startFeed(aggregator *notification.Aggregator) (stop func(), err error) {
	if a.config.Feed.Listen == "" {
		a.logger.Info("badge feed disabled")
		return func() {}, nil
	}

	listener, err := net.Listen("tcp", a.config.Feed.Listen)
	if err != nil {
		return nil, fmt.Errorf("badge feed: %w", err)
	}

	feed := badgefeed.New(badgefeed.Options{
		BufferSize:     a.config.Feed.BufferSize,
		OriginPatterns: a.config.Feed.OriginPatterns,
		Logger:         a.logger,
	})
	detach := feed.Attach(aggregator)

	server := &http.Server{
		Handler:           feed.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	served := make(chan struct{})
	go func() {
		defer close(served)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("badge feed server failed", "error", err)
		}
	}()
	a.logger.Info("badge feed listening", "address", listener.Addr().String())

	return func() {
		feed.Close()
		shutdownContext, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownContext); err != nil {
			a.logger.Warn("badge feed shutdown", "error", err)
		}
		<-served
		detach()
	}, nil
}

// cacheSaver persists the graph and sync position. It is called from
// the sync goroutine only.
type cacheSaver struct {
	path        string
	compression statecache.Compression
	graph       *roomgraph.Graph
	clock       clock.Clock
	logger      *slog.Logger

	pending   string
	lastSaved time.Time
}

// batch records nextBatch as applied and saves when the last save is
// older than cacheInterval.
func (s *cacheSaver) batch(nextBatch string) {
	s.pending = nextBatch
	if !s.lastSaved.IsZero() && s.clock.Now().Sub(s.lastSaved) < cacheInterval {
		return
	}
	s.flush()
}

// flush saves any batch not yet written.
func (s *cacheSaver) flush() {
	if s.path == "" || s.pending == "" {
		return
	}
	now := s.clock.Now()
	state := statecache.State{
		NextBatch: s.pending,
		UserID:    s.graph.UserID(),
		SavedAt:   now.UTC(),
		Graph:     s.graph.Snapshot(),
	}
	if err := statecache.Save(s.path, state, s.compression); err != nil {
		s.logger.Warn("saving state cache failed", "path", s.path, "error", err)
		return
	}
	s.logger.Debug("state cache saved", "next_batch", s.pending, "rooms", len(state.Graph.Rooms))
	s.pending = ""
	s.lastSaved = now
}
