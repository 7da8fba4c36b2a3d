// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// keys.go - Keyboard bindings of the chat screen.
package chat

import (
	"github.com/charmbracelet/bubbles/key"
)

// =============================================================================
// KEY MAP DEFINITION
// =============================================================================

// KeyMap defines all keyboard bindings for the chat screen.
// Each binding supports multiple keys and includes help text.
type KeyMap struct {
	Up       key.Binding
	Down     key.Binding
	PageUp   key.Binding
	PageDown key.Binding
	Submit   key.Binding
	Cancel   key.Binding
	Help     key.Binding
	Quit     key.Binding

	QuickAction key.Binding
	Language    key.Binding
	Operator    key.Binding
	EndOperator key.Binding
	Reset       key.Binding

	NextField key.Binding
	PrevField key.Binding
}

// DefaultKeyMap returns the default key bindings. The input line is a
// single row, so the arrow keys scroll the conversation.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up: key.NewBinding(
			key.WithKeys("up"),
			key.WithHelp("up", "scroll up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down"),
			key.WithHelp("down", "scroll down"),
		),
		PageUp: key.NewBinding(
			key.WithKeys("pgup", "ctrl+u"),
			key.WithHelp("PgUp/C-u", "page up"),
		),
		PageDown: key.NewBinding(
			key.WithKeys("pgdown", "ctrl+d"),
			key.WithHelp("PgDn/C-d", "page down"),
		),
		Submit: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("Enter", "send"),
		),
		Cancel: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("Esc", "close dialog"),
		),
		Help: key.NewBinding(
			key.WithKeys("f1"),
			key.WithHelp("F1", "help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c", "ctrl+q"),
			key.WithHelp("C-c", "quit"),
		),
		QuickAction: key.NewBinding(
			key.WithKeys("alt+1", "alt+2", "alt+3"),
			key.WithHelp("A-1..3", "quick action"),
		),
		Language: key.NewBinding(
			key.WithKeys("ctrl+l"),
			key.WithHelp("C-l", "language"),
		),
		Operator: key.NewBinding(
			key.WithKeys("ctrl+o"),
			key.WithHelp("C-o", "talk to a mentor"),
		),
		EndOperator: key.NewBinding(
			key.WithKeys("ctrl+e"),
			key.WithHelp("C-e", "end mentor chat"),
		),
		Reset: key.NewBinding(
			key.WithKeys("ctrl+n"),
			key.WithHelp("C-n", "new conversation"),
		),
		NextField: key.NewBinding(
			key.WithKeys("tab", "down"),
			key.WithHelp("Tab", "next field"),
		),
		PrevField: key.NewBinding(
			key.WithKeys("shift+tab", "up"),
			key.WithHelp("S-Tab", "previous field"),
		),
	}
}

// =============================================================================
// KEY BINDING HELPERS
// =============================================================================

// ShortHelp returns the bindings shown in the status bar.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Submit, k.QuickAction, k.Operator, k.Reset, k.Help, k.Quit}
}

// FullHelp returns the bindings of the help dialog, grouped.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Submit, k.QuickAction, k.Language, k.Reset},
		{k.Operator, k.EndOperator},
		{k.Up, k.Down, k.PageUp, k.PageDown},
		{k.Help, k.Cancel, k.Quit},
	}
}

// quickActionIndex maps "alt+N" to a zero-based index.
func quickActionIndex(keyName string) (int, bool) {
	if len(keyName) != len("alt+1") || keyName[:4] != "alt+" {
		return 0, false
	}
	n := int(keyName[4] - '1')
	if n < 0 || n > 8 {
		return 0, false
	}
	return n, true
}
