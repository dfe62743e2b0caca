// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bureau-foundation/unread/lib/fixture"
	"github.com/bureau-foundation/unread/lib/matrixgraph"
	"github.com/bureau-foundation/unread/lib/ref"
	"github.com/bureau-foundation/unread/lib/roomgraph"
	"github.com/bureau-foundation/unread/lib/secret"
	"github.com/bureau-foundation/unread/lib/statecache"
	"github.com/bureau-foundation/unread/messaging"
)

// requestSlack is added to the long-poll hold for the HTTP client
// timeout, so a healthy server is never cut off mid-response.
const requestSlack = 30 * time.Second

func (a *app) fixtureMode() bool { return a.config.Fixture.Path != "" }

func (a *app) newGraph(userID ref.UserID) *roomgraph.Graph {
	return roomgraph.New(userID, roomgraph.Options{
		TimelineLimit: a.config.Matrix.FilterTimelineLimit,
		Logger:        a.logger,
	})
}

// loadFixture builds a graph from the configured fixture file.
func (a *app) loadFixture() (*roomgraph.Graph, error) {
	file, err := fixture.Load(a.config.Fixture.Path)
	if err != nil {
		return nil, err
	}
	graph := a.newGraph(file.UserID)
	if err := fixture.Apply(graph, file); err != nil {
		return nil, err
	}
	return graph, nil
}

// openSession reads the access token and verifies it with the
// homeserver. The caller closes the session.
func (a *app) openSession(ctx context.Context) (*messaging.DirectSession, error) {
	userID, err := ref.ParseUserID(a.config.Matrix.UserID)
	if err != nil {
		return nil, err
	}
	token, err := secret.ReadToken(a.config.Matrix.TokenFile)
	if err != nil {
		return nil, err
	}
	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: a.config.Matrix.HomeserverURL,
		HTTPClient:    &http.Client{Timeout: a.config.Matrix.PollTimeout() + requestSlack},
		Logger:        a.logger,
	})
	if err != nil {
		token.Close()
		return nil, err
	}
	session, err := client.SessionFromToken(userID, token)
	if err != nil {
		token.Close()
		return nil, err
	}

	whoami, err := session.WhoAmI(ctx)
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("validating access token: %w", err)
	}
	if whoami != userID {
		session.Close()
		return nil, fmt.Errorf("access token belongs to %s, configured user is %s", whoami, userID)
	}
	return session, nil
}

func (a *app) newFeeder(session messaging.Session, graph *roomgraph.Graph, onBatch func(string)) (*matrixgraph.Feeder, error) {
	return matrixgraph.New(session, graph, matrixgraph.Options{
		TimelineLimit: a.config.Matrix.FilterTimelineLimit,
		PollTimeout:   a.config.Matrix.PollTimeout(),
		OnBatch:       onBatch,
		Logger:        a.logger,
	})
}

// snapshotGraph returns a populated graph for the one-shot commands:
// the fixture file, or a full sync from the homeserver. The returned
// feeder is nil in fixture mode.
func (a *app) snapshotGraph(ctx context.Context) (*roomgraph.Graph, *matrixgraph.Feeder, func(), error) {
	if a.fixtureMode() {
		graph, err := a.loadFixture()
		return graph, nil, func() {}, err
	}

	session, err := a.openSession(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	graph := a.newGraph(session.UserID())
	feeder, err := a.newFeeder(session, graph, nil)
	if err != nil {
		session.Close()
		return nil, nil, nil, err
	}
	if _, err := feeder.Bootstrap(ctx); err != nil {
		session.Close()
		return nil, nil, nil, err
	}
	return graph, feeder, func() { session.Close() }, nil
}

// restoreCache loads the state cache into graph and returns the sync
// token to resume from, or "" when a full sync is needed. An unusable
// cache is logged and discarded, never fatal.
func (a *app) restoreCache(graph *roomgraph.Graph) string {
	path := a.config.Cache.Path
	if path == "" {
		return ""
	}
	state, err := statecache.Load(path)
	switch {
	case errors.Is(err, statecache.ErrNoCache):
		a.logger.Info("no state cache, starting with a full sync", "path", path)
		return ""
	case err != nil:
		a.logger.Warn("discarding unusable state cache", "path", path, "error", err)
		if err := statecache.Clear(path); err != nil {
			a.logger.Warn("removing state cache failed", "error", err)
		}
		return ""
	}
	if state.UserID != graph.UserID() {
		a.logger.Warn("state cache belongs to another account, ignoring it",
			"path", path,
			"cache_user", state.UserID,
			"user_id", graph.UserID(),
		)
		return ""
	}
	if err := graph.Restore(state.Graph); err != nil {
		a.logger.Warn("restoring state cache failed, starting with a full sync", "error", err)
		// Restore may have replaced part of the graph before failing.
		graph.Restore(roomgraph.Snapshot{UserID: graph.UserID()})
		return ""
	}
	a.logger.Info("state cache restored",
		"rooms", len(state.Graph.Rooms),
		"saved_at", state.SavedAt,
		"next_batch", state.NextBatch,
	)
	return state.NextBatch
}
