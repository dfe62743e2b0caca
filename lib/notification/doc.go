// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package notification maintains hierarchical unread counts for a
// graph of Matrix rooms and spaces.
//
// A space groups rooms and other spaces as children, and a room may
// sit under several spaces at once, so the hierarchy is a DAG with
// multiple parents per node. [Aggregator] keeps one entry per
// container that has unread activity: the rolled-up total and
// highlight counts (the container's own unread plus everything below
// it) and the set of direct children currently contributing to that
// rollup. It answers three questions at any time without touching the
// graph: does a container have activity ([Aggregator.HasActivity]),
// how much ([Aggregator.TotalCount], [Aggregator.HighlightCount]), and
// which children are responsible ([Aggregator.Contributors]).
//
// The aggregator never decides whether an event is worth notifying
// about. The upstream collaborator (see [Graph] and [Source]) supplies
// per-room raw counts and raises three events: an eligible timeline
// event arrived, the own user's read receipt advanced, and the own
// user left a room. Each event becomes a delta that is propagated
// up every ancestor path:
//
//   - [Aggregator.Increment] applies a delta to a container and to
//     each distinct ancestor exactly once, even when two paths
//     converge on the same ancestor (diamonds) or the graph is
//     misconfigured into a cycle. The set of ancestors still pending
//     is computed up front for each call and nodes are settled as the
//     walk reaches them.
//   - [Aggregator.Decrement] removes an amount the same way and drops
//     entries whose contributors are gone, firing a "fully read"
//     notification for each removed entry.
//
// Counts never go negative: an update that would drive a total below
// zero clamps it (and its highlight) to zero. This is a benign race
// between receipt and event delivery, not corruption, and it is
// logged at debug level rather than reported. [Aggregator.Check]
// verifies every structural invariant and is used by tests and by the
// "check" command.
//
// The aggregator is single-threaded by design: all mutations happen
// synchronously inside the handlers the collaborator invokes from its
// one dispatch goroutine, and listeners registered with
// [Aggregator.SubscribeCountChanged] and [Aggregator.SubscribeFullyRead]
// are called synchronously during propagation. Listeners must not
// mutate the aggregator. Consumers on other goroutines (the websocket
// feed, for example) keep their own mirror of the counts.
package notification
