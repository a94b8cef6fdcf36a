// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package event defines the typed protocol events exchanged between the
// agent backend and the client.
//
// Events are the single source of truth for a conversation: the backend
// persists them per task, streams them to clients over SSE, and the client
// folds them into render state. The wire format is one flat JSON object per
// event with a "type" discriminator.
//
// # Key Types
//
//   - Event: Flat wire representation of any protocol event
//   - Type: String discriminator (run_started, text_message_content, ...)
//   - SessionInfo: Session identity carried by a "session_info" custom event
//   - Usage: Token accounting inside a run_finished result
//
// # Usage
//
// Decode a frame from the stream:
//
//	ev, err := event.Decode(line)
//	if err != nil {
//	    // skip malformed frame
//	}
//
// Build the local echo for an outgoing user message:
//
//	triple := event.UserMessageTriple(event.NewMessageID(), text)
//
// Unknown event types decode as Custom events with the original type string
// preserved in Name, so newer backends don't break older clients.
package event
