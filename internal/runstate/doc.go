// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package runstate folds protocol events into conversation state.
//
// The reducer is a pure state machine: given the same event log it always
// produces the same RunState, which is what makes conversation replay from
// the persisted log work. Live streams use Apply (sequence numbers come
// from an internal counter that advances on start-class events only);
// replay uses ApplyAt with the sequence each event was persisted under.
//
// # Key Types
//
//   - RunState: Accumulated conversation state (messages, tool calls,
//     thinking blocks, UI components, shared agent state)
//   - Outcome: Disposition of one event (Applied, SkippedUnknownID,
//     RejectedMalformed)
//
// # Error Philosophy
//
// A hostile or buggy stream must never corrupt state or panic the client:
// events referencing unknown entities are skipped, structurally invalid
// events are rejected, and both leave the state exactly as it was.
package runstate
