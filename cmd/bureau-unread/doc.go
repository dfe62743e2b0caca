// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Bureau-unread tracks unread counts across a Matrix account's space
// hierarchy and rolls them up so that every space shows the total of
// everything unread beneath it.
//
// Subcommands:
//
//	run        sync from the homeserver (or a fixture file), keep the
//	           rollup current, persist the state cache, and serve the
//	           websocket badge feed
//	tree       print the space hierarchy with unread badges
//	mark-read  send a read receipt for the newest event of a room
//	check      verify the rollup invariants over the current state
//	cache      inspect or clear the state cache
//
// Configuration is read from the file named by --config or
// BUREAU_UNREAD_CONFIG; see lib/config.
//
// Exit codes:
//
//	0  success
//	1  error
//	2  usage error
//	3  check found invariant violations
package main
