// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the backend HTTP API for agentdeck.
//
// Endpoints:
//   - POST /api/v1/response             - Run one streaming turn (SSE)
//   - GET/POST /api/v1/tasks            - List / create conversations
//   - GET/PATCH/DELETE /api/v1/tasks/{id} - Conversation metadata
//   - GET  /api/v1/tasks/{id}/events    - Persisted event log (replay)
//   - GET  /api/v1/tasks/{id}/messages  - Legacy flat message view
//   - GET  /api/v1/health               - Health check
//   - GET  /api/v1/stats                - Usage statistics
//
// The streaming handler persists every relayed event (except session_info,
// which is bound to the task row) with a monotonically increasing sequence,
// so clients can replay a conversation exactly from GET .../events.
//
// The Engine interface abstracts the agent producing turn events; the
// built-in EchoEngine keeps the whole stack runnable without an external
// model.
package server
