// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

// =============================================================================
// KEY BINDINGS
// =============================================================================

// KeyMap defines the keyboard shortcuts for the chat view. Bindings are
// matched against tea.KeyMsg.String().
type KeyMap struct {
	Send     string
	Stop     string
	Quit     string
	NewConv  string
	Picker   string
	Export   string
	PageUp   string
	PageDown string
}

// DefaultKeyMap returns the standard bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Send:     "enter",
		Stop:     "esc",
		Quit:     "ctrl+c",
		NewConv:  "ctrl+n",
		Picker:   "ctrl+o",
		Export:   "ctrl+e",
		PageUp:   "pgup",
		PageDown: "pgdown",
	}
}

// shortcut is one entry in the status bar help line.
type shortcut struct {
	key  string
	desc string
}

// helpLine returns the shortcuts shown in the status bar for a state.
func (k KeyMap) helpLine(streaming bool) []shortcut {
	if streaming {
		return []shortcut{
			{k.Stop, "stop"},
			{k.Quit, "quit"},
		}
	}
	return []shortcut{
		{k.Send, "send"},
		{k.NewConv, "new"},
		{k.Picker, "open"},
		{k.Export, "export"},
		{k.Quit, "quit"},
	}
}
