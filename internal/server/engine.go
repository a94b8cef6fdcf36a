// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jeranaias/agentdeck/internal/event"
)

// =============================================================================
// ENGINE INTERFACE
// =============================================================================

// Turn is one user request handed to the engine. AttachmentPath, when set,
// is where the server stored the file uploaded with this turn, relative to
// the files root.
type Turn struct {
	TaskID         string
	SessionID      string
	Message        string
	AttachmentPath string
}

// EmitFunc delivers one event to the relay. A non-nil return aborts the run
// (the client went away or persistence failed).
type EmitFunc func(ev event.Event) error

// Engine produces the event stream for a turn. Implementations emit message,
// tool and thinking events; the server owns the run lifecycle (run_started,
// run_finished, run_error) and persistence around them. An engine announces
// its session by emitting a session_info custom event.
type Engine interface {
	Run(ctx context.Context, turn Turn, emit EmitFunc) (*event.Usage, error)
}

// =============================================================================
// ECHO ENGINE
// =============================================================================

// EchoEngine is the built-in local engine: it thinks briefly and echoes the
// user's message back. It exists so the whole stack (persistence, relay,
// replay) runs without an external agent, and it is what the tests drive.
type EchoEngine struct{}

// NewEchoEngine returns the built-in engine.
func NewEchoEngine() *EchoEngine {
	return &EchoEngine{}
}

// Run implements Engine.
func (e *EchoEngine) Run(ctx context.Context, turn Turn, emit EmitFunc) (*event.Usage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sessionID := turn.SessionID
	if sessionID == "" {
		sessionID = "sess_" + uuid.NewString()
	}
	if err := emit(event.NewSessionInfo(sessionID, turn.TaskID)); err != nil {
		return nil, err
	}

	thinkingID := "think_" + uuid.NewString()
	thinking := []event.Event{
		{Type: event.ThinkingStart, ThinkingID: thinkingID},
		{Type: event.ThinkingContent, ThinkingID: thinkingID, Delta: "Echoing the request back to the user."},
		{Type: event.ThinkingEnd, ThinkingID: thinkingID},
	}
	for _, ev := range thinking {
		if err := emit(ev); err != nil {
			return nil, err
		}
	}

	msgID := event.NewMessageID()
	if err := emit(event.Event{Type: event.TextMessageStart, MessageID: msgID, Role: "assistant"}); err != nil {
		return nil, err
	}
	reply := fmt.Sprintf("You said: %s", turn.Message)
	if turn.AttachmentPath != "" {
		reply += fmt.Sprintf(" (with attachment %s)", turn.AttachmentPath)
	}
	// Stream in word-sized deltas so clients exercise their accumulation path.
	for _, word := range strings.SplitAfter(reply, " ") {
		if word == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := emit(event.Event{Type: event.TextMessageContent, MessageID: msgID, Delta: word}); err != nil {
			return nil, err
		}
	}
	if err := emit(event.Event{Type: event.TextMessageEnd, MessageID: msgID}); err != nil {
		return nil, err
	}

	return &event.Usage{
		InputTokens:  len(strings.Fields(turn.Message)),
		OutputTokens: len(strings.Fields(reply)),
	}, nil
}
