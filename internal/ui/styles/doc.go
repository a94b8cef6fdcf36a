// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package styles provides the visual styling system for the agentdeck TUI.
//
// The Theme type holds every lipgloss style used by the chat view, built
// from an adaptive palette that follows the terminal's light or dark
// background. Construct one Theme per program with NewTheme and share it;
// styles are value types and cheap to copy at render time.
package styles
