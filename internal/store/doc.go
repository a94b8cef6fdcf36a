// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store persists tasks and their protocol event logs.
//
// Each conversation is a task row plus an append-only event log ordered by
// sequence number. The log is the source of truth: replaying it through the
// reducer reconstructs the conversation exactly, and the legacy flat message
// view is derived from the same fold.
//
// # Key Types
//
//   - Store: SQLite-backed persistence (modernc.org/sqlite, pure Go)
//   - Task: Conversation metadata (id, title, bound agent session)
//   - StoredEvent: One persisted event with its sequence
//
// # Storage Location
//
// The database lives at ~/.agentdeck/agentdeck.db by default; the server
// config can point it elsewhere.
package store
