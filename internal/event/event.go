// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package event defines the typed protocol events exchanged between the
// agent backend and the client, and their JSON wire encoding.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// EVENT TYPES
// =============================================================================

// Type identifies the kind of a protocol event.
type Type string

const (
	RunStarted  Type = "run_started"
	RunFinished Type = "run_finished"
	RunError    Type = "run_error"

	TextMessageStart   Type = "text_message_start"
	TextMessageContent Type = "text_message_content"
	TextMessageEnd     Type = "text_message_end"

	ToolCallStart  Type = "tool_call_start"
	ToolCallArgs   Type = "tool_call_args"
	ToolCallEnd    Type = "tool_call_end"
	ToolCallResult Type = "tool_call_result"

	ThinkingStart   Type = "thinking_start"
	ThinkingContent Type = "thinking_content"
	ThinkingEnd     Type = "thinking_end"

	UIComponent   Type = "ui_component"
	UIUpdate      Type = "ui_update"
	UIRemove      Type = "ui_remove"
	UIInteraction Type = "ui_interaction"

	StateSnapshot Type = "state_snapshot"
	StateDelta    Type = "state_delta"

	Custom Type = "custom"
)

// SessionInfoName is the name of the custom event carrying session identity.
const SessionInfoName = "session_info"

// Errors returned by Decode.
var (
	ErrMissingType = errors.New("event: missing type field")
	ErrBadPayload  = errors.New("event: malformed payload")
)

// =============================================================================
// EVENT STRUCT
// =============================================================================

// DeltaOp is a single state_delta operation (RFC 6902 subset).
type DeltaOp struct {
	Op    string          `json:"op"` // "add", "replace", "remove"
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Event is the flat wire representation of any protocol event. Fields not
// relevant to a given Type are zero and omitted from the encoding.
type Event struct {
	Type      Type  `json:"type"`
	Timestamp int64 `json:"timestamp,omitempty"` // unix milliseconds

	// Run lifecycle
	ThreadID string          `json:"thread_id,omitempty"`
	RunID    string          `json:"run_id,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"` // run_finished payload
	Message  string          `json:"message,omitempty"` // run_error text
	Code     string          `json:"code,omitempty"`    // run_error code

	// Text messages
	MessageID string `json:"message_id,omitempty"`
	Role      string `json:"role,omitempty"`
	Delta     string `json:"delta,omitempty"`

	// Tool calls
	ToolCallID      string          `json:"tool_call_id,omitempty"`
	ToolCallName    string          `json:"tool_call_name,omitempty"`
	ParentMessageID string          `json:"parent_message_id,omitempty"`
	Content         string          `json:"content,omitempty"`  // tool_call_result payload
	IsError         bool            `json:"is_error,omitempty"` // tool_call_result failure flag
	Metadata        json.RawMessage `json:"metadata,omitempty"` // tool_call_result extras

	// Thinking blocks
	ThinkingID string `json:"thinking_id,omitempty"`

	// UI components
	ComponentID       string          `json:"component_id,omitempty"`
	ComponentType     string          `json:"component_type,omitempty"`
	ParentComponentID string          `json:"parent_component_id,omitempty"`
	Props             json.RawMessage `json:"props,omitempty"`
	Children          json.RawMessage `json:"children,omitempty"`
	Action            string          `json:"action,omitempty"`
	Payload           json.RawMessage `json:"payload,omitempty"`

	// Shared agent state
	Snapshot json.RawMessage `json:"snapshot,omitempty"`
	DeltaOps []DeltaOp       `json:"delta_ops,omitempty"`

	// Custom
	Name  string          `json:"name,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Usage is the token accounting carried inside a run_finished result.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalCost    float64 `json:"total_cost"`
}

// FinishedResult is the structured payload of a run_finished event.
type FinishedResult struct {
	Usage *Usage `json:"usage,omitempty"`
}

// SessionInfo is the value of a "session_info" custom event.
type SessionInfo struct {
	SessionID string `json:"session_id"`
	TaskID    string `json:"task_id"`
}

// =============================================================================
// DECODE / ENCODE
// =============================================================================

// knownTypes is the set of event types this build understands.
var knownTypes = map[Type]bool{
	RunStarted: true, RunFinished: true, RunError: true,
	TextMessageStart: true, TextMessageContent: true, TextMessageEnd: true,
	ToolCallStart: true, ToolCallArgs: true, ToolCallEnd: true, ToolCallResult: true,
	ThinkingStart: true, ThinkingContent: true, ThinkingEnd: true,
	UIComponent: true, UIUpdate: true, UIRemove: true, UIInteraction: true,
	StateSnapshot: true, StateDelta: true, Custom: true,
}

// typeAliases maps the PascalCase type spellings some agent backends emit
// onto the canonical snake_case types.
var typeAliases = map[Type]Type{
	"RunStarted": RunStarted, "RunFinished": RunFinished, "RunError": RunError,
	"TextMessageStart": TextMessageStart, "TextMessageContent": TextMessageContent,
	"TextMessageEnd": TextMessageEnd,
	"ToolCallStart":  ToolCallStart, "ToolCallArgs": ToolCallArgs,
	"ToolCallEnd": ToolCallEnd, "ToolCallResult": ToolCallResult,
	"ThinkingStart": ThinkingStart, "ThinkingContent": ThinkingContent,
	"ThinkingEnd": ThinkingEnd,
	"UIComponent":   UIComponent, "UIUpdate": UIUpdate, "UIRemove": UIRemove,
	"UIInteraction": UIInteraction,
	"StateSnapshot": StateSnapshot, "StateDelta": StateDelta,
	"Custom": Custom,
}

// Decode parses a single JSON-encoded event. PascalCase type spellings are
// normalized to their snake_case equivalents. Unknown type strings are
// preserved as Custom events named after the original type so newer
// backends don't break older clients. Malformed JSON or a missing type
// field is an error.
func Decode(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if ev.Type == "" {
		return Event{}, ErrMissingType
	}
	if canonical, ok := typeAliases[ev.Type]; ok {
		ev.Type = canonical
	}
	if !knownTypes[ev.Type] {
		// Forward compatibility: keep the raw payload around.
		ev = Event{
			Type:      Custom,
			Timestamp: ev.Timestamp,
			Name:      string(ev.Type),
			Value:     json.RawMessage(data),
		}
	}
	return ev, nil
}

// Encode serializes the event for the wire.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Session extracts session info from a custom event, if present.
func (e Event) Session() (SessionInfo, bool) {
	if e.Type != Custom || e.Name != SessionInfoName || len(e.Value) == 0 {
		return SessionInfo{}, false
	}
	var si SessionInfo
	if err := json.Unmarshal(e.Value, &si); err != nil {
		return SessionInfo{}, false
	}
	return si, true
}

// FinishedUsage extracts token usage from a run_finished result, if any.
func (e Event) FinishedUsage() (Usage, bool) {
	if e.Type != RunFinished || len(e.Result) == 0 {
		return Usage{}, false
	}
	var r FinishedResult
	if err := json.Unmarshal(e.Result, &r); err != nil || r.Usage == nil {
		return Usage{}, false
	}
	return *r.Usage, true
}

// =============================================================================
// CONSTRUCTORS
// =============================================================================

func now() int64 {
	return time.Now().UnixMilli()
}

// NewMessageID generates a fresh message identifier.
func NewMessageID() string {
	return "msg_" + uuid.NewString()
}

// NewRunStarted builds a run lifecycle start event.
func NewRunStarted(threadID, runID string) Event {
	return Event{Type: RunStarted, Timestamp: now(), ThreadID: threadID, RunID: runID}
}

// NewRunFinished builds a run completion event with an optional result payload.
func NewRunFinished(threadID, runID string, result json.RawMessage) Event {
	return Event{Type: RunFinished, Timestamp: now(), ThreadID: threadID, RunID: runID, Result: result}
}

// NewRunError builds a run failure event.
func NewRunError(message, code string) Event {
	return Event{Type: RunError, Timestamp: now(), Message: message, Code: code}
}

// NewSessionInfo builds the custom event announcing session identity.
func NewSessionInfo(sessionID, taskID string) Event {
	val, _ := json.Marshal(SessionInfo{SessionID: sessionID, TaskID: taskID})
	return Event{Type: Custom, Timestamp: now(), Name: SessionInfoName, Value: val}
}

// UserMessageTriple builds the start/content/end events for a complete user
// message. The client feeds these to its reducer before the request is sent
// so the message shows up immediately; the server persists the same triple.
func UserMessageTriple(messageID, text string) [3]Event {
	ts := now()
	return [3]Event{
		{Type: TextMessageStart, Timestamp: ts, MessageID: messageID, Role: "user"},
		{Type: TextMessageContent, Timestamp: ts, MessageID: messageID, Delta: text},
		{Type: TextMessageEnd, Timestamp: ts, MessageID: messageID},
	}
}

// NewToolResultComponent builds the ui_component event the server generates
// so tool results render as cards without the agent emitting UI itself.
func NewToolResultComponent(toolCallID, content string, isError bool) Event {
	props, _ := json.Marshal(map[string]any{"content": content, "is_error": isError})
	return Event{
		Type:          UIComponent,
		Timestamp:     now(),
		ComponentID:   "cmp_" + uuid.NewString(),
		ComponentType: "tool_result",
		ToolCallID:    toolCallID,
		Props:         props,
	}
}
