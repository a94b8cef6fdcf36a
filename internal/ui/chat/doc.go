// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the chat view for the agentdeck TUI.
//
// The Model is a Bubble Tea model wrapping an agent.Driver. Driver messages
// arrive through listenCmd and are folded into session state on the Bubble
// Tea goroutine, which keeps the reducer single-threaded. Transcript
// rendering is throttled by a RenderGate so fast event streams repaint at a
// bounded frame rate.
//
// # Key Bindings
//
//   - enter: send the input line
//   - esc: stop the current response
//   - ctrl+n: start a new conversation
//   - ctrl+o: open the conversation picker
//   - ctrl+e: export the conversation to Markdown
//   - ctrl+c: quit
package chat
