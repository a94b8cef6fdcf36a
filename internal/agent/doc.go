// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package agent provides the HTTP client and session driver for the agent
// backend.
//
// The Client wraps the backend's task API and the streaming turn endpoint,
// decoding the SSE response into protocol events. The Driver sits above it
// and owns the turn lifecycle: optimistic local echo of outgoing user
// messages, stream delivery into the reducer, stop/cancel, and replaying
// persisted conversations.
//
// # Key Types
//
//   - Client: HTTP client for the backend API (tasks CRUD, event log,
//     streaming turns)
//   - Driver: Turn state machine (idle -> sending -> streaming -> idle)
//   - Msg: What the stream goroutine delivers to the owner's event loop
//
// # Usage
//
//	client := agent.NewClient().WithBaseURL(cfg.Backend.URL)
//	driver := agent.NewDriver(client)
//	driver.SendMessage("explain this stack trace")
//	for m := range driver.Events() {
//	    driver.HandleMsg(m)
//	}
//
// Stream messages carry a generation number; after a conversation switch,
// stragglers from the old stream fail the generation check and are dropped.
package agent
