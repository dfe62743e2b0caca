// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bureau-foundation/unread/lib/ref"
	"github.com/bureau-foundation/unread/lib/roomgraph"
)

func markReadCommand() *command {
	return &command{
		name:    "mark-read",
		summary: "Send a read receipt for the newest event of a room",
		usage:   "mark-read <room-id | room name>",
		execute: func(ctx context.Context, a *app, args []string) error {
			if len(args) != 1 {
				return usageError("mark-read: expected exactly one room, got %d arguments", len(args))
			}
			if a.fixtureMode() {
				return errors.New("mark-read needs a homeserver; the fixture file is read-only input")
			}

			graph, feeder, cleanup, err := a.snapshotGraph(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			roomID, err := resolveRoom(graph, args[0])
			if err != nil {
				return err
			}
			eventID, err := feeder.MarkRead(ctx, roomID)
			if err != nil {
				return err
			}
			a.logger.Info("read receipt sent", "room_id", roomID, "event_id", eventID)
			fmt.Fprintf(a.stdout, "marked %s read up to %s\n", roomID, eventID)
			return nil
		},
	}
}

// resolveRoom accepts a room ID or the exact display name of a single
// container in graph.
func resolveRoom(graph *roomgraph.Graph, argument string) (ref.RoomID, error) {
	if strings.HasPrefix(argument, "!") {
		roomID, err := ref.ParseRoomID(argument)
		if err != nil {
			return ref.RoomID{}, err
		}
		if _, ok := graph.Room(roomID); !ok {
			return ref.RoomID{}, fmt.Errorf("room %s is not known to %s", roomID, graph.UserID())
		}
		return roomID, nil
	}

	var matches []ref.RoomID
	for _, id := range graph.Containers() {
		if room, ok := graph.Room(id); ok && room.Name == argument {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 0:
		return ref.RoomID{}, fmt.Errorf("no room named %q", argument)
	case 1:
		return matches[0], nil
	default:
		return ref.RoomID{}, fmt.Errorf("%d rooms are named %q; pass a room ID instead", len(matches), argument)
	}
}
