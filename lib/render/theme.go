// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package render

import "github.com/charmbracelet/lipgloss"

// Theme is the palette for the hierarchy tree. All colors are ANSI
// 256-color codes.
type Theme struct {
	// Container names. Unread names are bold in NameText; read ones
	// use FaintText.
	NameText  lipgloss.Color
	FaintText lipgloss.Color

	// Box-drawing connectors between parents and children.
	TreeLines lipgloss.Color

	// Badge for ordinary unread activity.
	BadgeForeground lipgloss.Color
	BadgeBackground lipgloss.Color

	// Badge for highlights (mentions, keywords).
	HighlightForeground lipgloss.Color
	HighlightBackground lipgloss.Color
}

// DefaultTheme is designed for dark 256-color terminals.
var DefaultTheme = Theme{
	NameText:  lipgloss.Color("252"),
	FaintText: lipgloss.Color("245"),
	TreeLines: lipgloss.Color("240"),

	BadgeForeground: lipgloss.Color("255"),
	BadgeBackground: lipgloss.Color("240"), // gray pill

	HighlightForeground: lipgloss.Color("255"),
	HighlightBackground: lipgloss.Color("160"), // red pill
}
