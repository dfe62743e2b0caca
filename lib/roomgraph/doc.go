// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package roomgraph holds the client-side view of the rooms and
// spaces the own user belongs to: the parent/child edges declared by
// m.space.child state, each room's server-reported unread counts, the
// tail of its timeline, the own read marker, and membership.
//
// A [Graph] is fed by a sync loop ([matrixgraph]) or a fixture file
// ([fixture]) through its mutation methods. Each mutation classifies
// what it observed and dispatches at most one event to registered
// handlers: an eligible event (a countable message arrived), an own
// read receipt, an own leave, or a hierarchy change. The
// [notification.Aggregator] consumes those events; Graph implements
// both [notification.Graph] and [notification.Source].
//
// Graph is safe for concurrent use. Handlers are invoked synchronously
// on the mutating goroutine after the graph's lock is released, so a
// handler may query the graph. Mutations are expected to come from a
// single goroutine; concurrent mutators would interleave their
// dispatches.
//
// [matrixgraph]: github.com/bureau-foundation/unread/lib/matrixgraph
// [fixture]: github.com/bureau-foundation/unread/lib/fixture
package roomgraph
