// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package render draws the space hierarchy as a tree with unread
// badges:
//
//	Team [4 @1]
//	├── general [3 @1]
//	└── random [1]
//	lobby
//
// Containers without parents are the roots. A room that belongs to
// several spaces appears under each of them; a cycle in the hierarchy
// is cut where it closes and marked with "↻".
package render

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/bureau-foundation/unread/lib/notification"
	"github.com/bureau-foundation/unread/lib/ref"
	"github.com/bureau-foundation/unread/lib/roomgraph"
)

// Hierarchy is the part of the room graph the tree walks.
// *roomgraph.Graph implements it.
type Hierarchy interface {
	Containers() []ref.RoomID
	Roots() []ref.RoomID
	Children(id ref.RoomID) []ref.RoomID
	Room(id ref.RoomID) (roomgraph.Room, bool)
}

// Badges supplies the rolled-up counts. *notification.Aggregator
// implements it.
type Badges interface {
	Counts(id ref.RoomID) notification.Counts
}

// Options controls the output.
type Options struct {
	// Color enables ANSI styling.
	Color bool

	// Width truncates lines to this many cells. Zero means no limit.
	Width int

	// UnreadOnly omits containers without unread activity, except
	// where they lead to one that has some.
	UnreadOnly bool

	// Theme is the palette used when Color is set. The zero value
	// selects DefaultTheme.
	Theme *Theme
}

// OptionsFor returns options suited to writing to file: color and
// the terminal width when file is a terminal, plain unlimited text
// otherwise.
func OptionsFor(file *os.File) Options {
	fd := int(file.Fd())
	if !term.IsTerminal(fd) {
		return Options{}
	}
	options := Options{Color: true}
	if width, _, err := term.GetSize(fd); err == nil {
		options.Width = width
	}
	return options
}

type styles struct {
	name      lipgloss.Style
	faint     lipgloss.Style
	lines     lipgloss.Style
	badge     lipgloss.Style
	highlight lipgloss.Style
}

func newStyles(options Options) styles {
	if !options.Color {
		return styles{}
	}
	theme := DefaultTheme
	if options.Theme != nil {
		theme = *options.Theme
	}
	// Force the profile: color was requested explicitly, and
	// auto-detection would strip it whenever the output is not the
	// process's own terminal.
	renderer := lipgloss.NewRenderer(os.Stdout, termenv.WithProfile(termenv.ANSI256))
	renderer.SetColorProfile(termenv.ANSI256)
	return styles{
		name:  renderer.NewStyle().Foreground(theme.NameText).Bold(true),
		faint: renderer.NewStyle().Foreground(theme.FaintText),
		lines: renderer.NewStyle().Foreground(theme.TreeLines),
		badge: renderer.NewStyle().
			Foreground(theme.BadgeForeground).
			Background(theme.BadgeBackground).
			Padding(0, 1),
		highlight: renderer.NewStyle().
			Foreground(theme.HighlightForeground).
			Background(theme.HighlightBackground).
			Padding(0, 1),
	}
}

type renderer struct {
	hierarchy Hierarchy
	badges    Badges
	options   Options
	styles    styles
	out       *bufio.Writer
}

// Tree writes the hierarchy to w. Left rooms are omitted.
func Tree(w io.Writer, hierarchy Hierarchy, badges Badges, options Options) error {
	r := &renderer{
		hierarchy: hierarchy,
		badges:    badges,
		options:   options,
		styles:    newStyles(options),
		out:       bufio.NewWriter(w),
	}

	roots := hierarchy.Roots()
	reached := make(map[ref.RoomID]bool)
	for _, id := range roots {
		r.reach(id, reached)
	}
	// Containers inside a cycle that no root leads into have no root
	// of their own; the first of each such cycle becomes one.
	for _, id := range hierarchy.Containers() {
		if !reached[id] {
			roots = append(roots, id)
			r.reach(id, reached)
		}
	}

	for _, id := range roots {
		if r.visible(id) {
			r.node(id, "", "", map[ref.RoomID]bool{})
		}
	}
	return r.out.Flush()
}

func (r *renderer) reach(id ref.RoomID, reached map[ref.RoomID]bool) {
	if reached[id] {
		return
	}
	reached[id] = true
	for _, child := range r.hierarchy.Children(id) {
		r.reach(child, reached)
	}
}

// node renders id, which must be visible, and its descendants. prefix is written before the
// node's own line (the connector), childPrefix before its children's
// lines. path holds the ancestors on the current branch.
func (r *renderer) node(id ref.RoomID, prefix, childPrefix string, path map[ref.RoomID]bool) {
	room, _ := r.hierarchy.Room(id)
	counts := r.badges.Counts(id)
	if path[id] {
		r.line(prefix, room, counts, " ↻")
		return
	}
	r.line(prefix, room, counts, "")

	path[id] = true
	defer delete(path, id)

	var children []ref.RoomID
	for _, child := range r.hierarchy.Children(id) {
		if r.visible(child) {
			children = append(children, child)
		}
	}
	for i, child := range children {
		connector, continuation := "├── ", "│   "
		if i == len(children)-1 {
			connector, continuation = "└── ", "    "
		}
		r.node(child, childPrefix+connector, childPrefix+continuation, path)
	}
}

// visible reports whether id is drawn at all. Filtering before
// recursing lets the last drawn child get the closing connector.
func (r *renderer) visible(id ref.RoomID) bool {
	room, ok := r.hierarchy.Room(id)
	if !ok || room.Membership == roomgraph.MembershipLeave {
		return false
	}
	if !r.options.UnreadOnly {
		return true
	}
	return r.badges.Counts(id).Total > 0 || r.leadsToUnread(id, map[ref.RoomID]bool{})
}

func (r *renderer) leadsToUnread(id ref.RoomID, seen map[ref.RoomID]bool) bool {
	if seen[id] {
		return false
	}
	seen[id] = true
	for _, child := range r.hierarchy.Children(id) {
		if r.badges.Counts(child).Total > 0 || r.leadsToUnread(child, seen) {
			return true
		}
	}
	return false
}

func (r *renderer) line(prefix string, room roomgraph.Room, counts notification.Counts, marker string) {
	name := room.DisplayName()
	if room.Membership == roomgraph.MembershipInvite {
		name += " (invited)"
	}
	nameStyle := r.styles.faint
	if counts.Total > 0 {
		nameStyle = r.styles.name
	}

	var builder strings.Builder
	builder.WriteString(r.paint(r.styles.lines, prefix))
	builder.WriteString(r.paint(nameStyle, name+marker))
	if badge := r.badge(counts); badge != "" {
		builder.WriteByte(' ')
		builder.WriteString(badge)
	}

	text := builder.String()
	if r.options.Width > 0 {
		text = ansi.Truncate(text, r.options.Width, "…")
	}
	fmt.Fprintln(r.out, text)
}

func (r *renderer) paint(style lipgloss.Style, text string) string {
	if !r.options.Color || text == "" {
		return text
	}
	return style.Render(text)
}

func (r *renderer) badge(counts notification.Counts) string {
	if counts.Total == 0 {
		return ""
	}
	if r.options.Color {
		if counts.Highlight > 0 {
			return r.styles.highlight.Render(fmt.Sprintf("%d @%d", counts.Total, counts.Highlight))
		}
		return r.styles.badge.Render(fmt.Sprint(counts.Total))
	}
	if counts.Highlight > 0 {
		return fmt.Sprintf("[%d @%d]", counts.Total, counts.Highlight)
	}
	return fmt.Sprintf("[%d]", counts.Total)
}
