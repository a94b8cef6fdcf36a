// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders persisted conversations to portable formats.
//
// A Conversation is assembled with Build from a task and its event log; the
// log is replayed through the same reducer the live client uses, so exports
// always match what was shown on screen.
//
// # Key Types
//
//   - Conversation: a task plus its replayed state and projected transcript
//   - Exporter: the format interface (Markdown, HTML, JSON)
//   - Options: output directory, metadata and thinking toggles, HTML theme
//
// # Usage
//
//	conv := export.Build(task, events)
//	path, err := export.ExportMarkdown(conv, nil)
//
// The JSON format is special: it writes the raw event log rather than the
// rendered transcript, so a JSON export can be replayed later.
package export
