// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fixture drives a [roomgraph.Graph] from a hand-edited JSONC
// file instead of a homeserver. It exists for demos, UI development
// against the badge feed, and reproducing aggregation bugs offline.
//
// The file describes the desired end state of every room:
//
//	{
//	  "user_id": "@me:example.org",
//	  "rooms": [
//	    {"id": "!team:example.org", "kind": "space", "name": "Team",
//	     "children": ["!general:example.org"]},
//	    {"id": "!general:example.org", "name": "general",
//	     "unread": {"total": 3, "highlight": 1}},  // trailing commas and comments are fine
//	  ],
//	}
//
// [Apply] diffs that state against the graph and issues the mutations
// a homeserver would have caused: changed counts become a new timeline
// event, counts dropping to zero become an own read receipt, and
// "membership": "leave" becomes an own leave. [Watch] re-applies the
// file whenever it changes on disk.
package fixture

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/unread/lib/notification"
	"github.com/bureau-foundation/unread/lib/ref"
	"github.com/bureau-foundation/unread/lib/roomgraph"
)

// File is the parsed content of a fixture file.
type File struct {
	UserID ref.UserID `json:"user_id"`
	Rooms  []Room     `json:"rooms"`
}

// Room is the desired state of one container.
type Room struct {
	ID         ref.RoomID           `json:"id"`
	Kind       roomgraph.Kind       `json:"kind,omitempty"`
	Name       string               `json:"name,omitempty"`
	Membership roomgraph.Membership `json:"membership,omitempty"`
	Children   []ref.RoomID         `json:"children,omitempty"`
	Unread     notification.Counts  `json:"unread"`

	// LastSender is the sender of the synthetic event that carries a
	// count change. Empty uses a fixture user on the own server.
	LastSender ref.UserID `json:"last_sender,omitempty"`

	// LastType is the type of that event. Empty uses m.room.message.
	LastType ref.EventType `json:"last_type,omitempty"`
}

// Parse strips JSONC comments and trailing commas from data, then
// unmarshals and validates the result.
func Parse(data []byte) (*File, error) {
	var file File
	if err := json.Unmarshal(jsonc.ToJSON(data), &file); err != nil {
		return nil, fmt.Errorf("fixture: parsing: %w", err)
	}
	if err := file.Validate(); err != nil {
		return nil, err
	}
	return &file, nil
}

// Load reads and parses a fixture file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fixture: %w", err)
	}
	file, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w (in %s)", err, path)
	}
	return file, nil
}

// Validate normalizes the kind and membership of every room and
// reports structural problems: a missing user, duplicate rooms,
// negative or inconsistent counts, and rooms listing themselves as
// children.
func (f *File) Validate() error {
	if f.UserID.IsZero() {
		return errors.New("fixture: user_id is required")
	}

	var errs []error
	seen := make(map[ref.RoomID]bool, len(f.Rooms))
	for i := range f.Rooms {
		room := &f.Rooms[i]
		if room.ID.IsZero() {
			errs = append(errs, fmt.Errorf("fixture: rooms[%d]: id is required", i))
			continue
		}
		if seen[room.ID] {
			errs = append(errs, fmt.Errorf("fixture: room %s listed twice", room.ID))
		}
		seen[room.ID] = true

		kind, err := roomgraph.ParseKind(string(room.Kind))
		if err != nil {
			errs = append(errs, fmt.Errorf("fixture: room %s: %w", room.ID, err))
		}
		room.Kind = kind
		membership, err := roomgraph.ParseMembership(string(room.Membership))
		if err != nil {
			errs = append(errs, fmt.Errorf("fixture: room %s: %w", room.ID, err))
		}
		room.Membership = membership

		if room.Unread.Total < 0 || room.Unread.Highlight < 0 {
			errs = append(errs, fmt.Errorf("fixture: room %s: negative unread counts", room.ID))
		}
		if room.Unread.Highlight > room.Unread.Total {
			errs = append(errs, fmt.Errorf("fixture: room %s: highlight %d exceeds total %d",
				room.ID, room.Unread.Highlight, room.Unread.Total))
		}
		for _, child := range room.Children {
			if child == room.ID {
				errs = append(errs, fmt.Errorf("fixture: room %s lists itself as a child", room.ID))
			}
		}
	}
	return errors.Join(errs...)
}
