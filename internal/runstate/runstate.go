// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package runstate folds protocol events into the state of a single
// conversation run. The fold is pure: no I/O, no clock, no globals, so the
// same event log always produces the same state.
package runstate

import (
	"encoding/json"
	"strings"

	"github.com/jeranaias/agentdeck/internal/event"
)

// =============================================================================
// ENTITY TYPES
// =============================================================================

// Message is a user or assistant message accumulated from a start/content/end
// event sequence.
type Message struct {
	ID        string
	Role      string
	Sequence  int
	Streaming bool

	content strings.Builder
}

// Content returns the text accumulated so far.
func (m *Message) Content() string {
	return m.content.String()
}

// ToolCallStatus tracks the lifecycle of a tool invocation.
type ToolCallStatus int

const (
	ToolPending   ToolCallStatus = iota // start seen, no args yet
	ToolStreaming                       // args arriving
	ToolComplete                        // end seen
	ToolResulted                        // result attached
)

// ToolCall is a tool invocation accumulated from start/args/end/result events.
type ToolCall struct {
	ID              string
	Name            string
	ParentMessageID string
	Sequence        int
	Status          ToolCallStatus
	Result          string
	IsError         bool
	Metadata        json.RawMessage

	args strings.Builder
}

// Args returns the raw argument text accumulated so far. It is typically a
// JSON document but is not validated here; partial fragments are expected
// while the call is streaming.
func (t *ToolCall) Args() string {
	return t.args.String()
}

// ThinkingBlock is a reasoning block keyed by the thinking_id the agent
// assigns. Backends that omit the identifier get a synthetic one; deltas for
// a thinking_id that was never started are skipped, not misattributed.
type ThinkingBlock struct {
	ID              string
	ParentMessageID string
	Sequence        int
	Streaming       bool

	content strings.Builder
}

// Content returns the reasoning text accumulated so far.
func (b *ThinkingBlock) Content() string {
	return b.content.String()
}

// Component is a live UI component emitted by the agent or synthesized by the
// backend for tool results. Removed components are kept as tombstones so a
// replayed ui_remove stays idempotent.
type Component struct {
	ID                string
	Type              string
	ToolCallID        string
	MessageID         string
	ParentComponentID string
	Sequence          int
	Props             json.RawMessage
	Children          json.RawMessage
	Removed           bool
}

// =============================================================================
// OUTCOME
// =============================================================================

// Status classifies what the reducer did with an event.
type Status int

const (
	// Applied means the event mutated (or idempotently confirmed) state.
	Applied Status = iota
	// SkippedUnknownID means the event referenced an entity the reducer has
	// never seen; state is unchanged.
	SkippedUnknownID
	// RejectedMalformed means the event violated a structural rule; state is
	// unchanged.
	RejectedMalformed
)

// Outcome reports the disposition of a single event.
type Outcome struct {
	Status Status
	Reason string // set for non-Applied outcomes
}

func applied() Outcome               { return Outcome{Status: Applied} }
func skipped(reason string) Outcome  { return Outcome{Status: SkippedUnknownID, Reason: reason} }
func rejected(reason string) Outcome { return Outcome{Status: RejectedMalformed, Reason: reason} }

// =============================================================================
// RUN STATE
// =============================================================================

// RunState is the accumulated state of one conversation. Entities live in
// slices ordered by creation so iteration is deterministic; the index maps
// resolve protocol identifiers.
type RunState struct {
	Running   bool
	RunID     string
	ThreadID  string
	SessionID string
	TaskID    string
	ErrorMsg  string
	ErrorCode string
	Usage     event.Usage
	HasUsage  bool

	messages   []*Message
	msgIndex   map[string]int
	toolCalls  []*ToolCall
	toolIndex  map[string]int
	thinking   []*ThinkingBlock
	thinkIndex map[string]int
	components []*Component
	compIndex  map[string]int

	agentState map[string]any

	nextSeq int
}

// New returns an empty run state.
func New() *RunState {
	return &RunState{
		msgIndex:   make(map[string]int),
		toolIndex:  make(map[string]int),
		thinkIndex: make(map[string]int),
		compIndex:  make(map[string]int),
	}
}

// Reset clears all accumulated state, returning the receiver to its initial
// condition. Used when switching conversations before a replay.
func (s *RunState) Reset() {
	*s = *New()
}

// Messages returns the messages in creation order.
func (s *RunState) Messages() []*Message {
	out := make([]*Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// ToolCalls returns the tool calls in creation order.
func (s *RunState) ToolCalls() []*ToolCall {
	out := make([]*ToolCall, len(s.toolCalls))
	copy(out, s.toolCalls)
	return out
}

// ThinkingBlocks returns the reasoning blocks in creation order.
func (s *RunState) ThinkingBlocks() []*ThinkingBlock {
	out := make([]*ThinkingBlock, len(s.thinking))
	copy(out, s.thinking)
	return out
}

// Components returns all components, tombstones included.
func (s *RunState) Components() []*Component {
	out := make([]*Component, len(s.components))
	copy(out, s.components)
	return out
}

// AgentState returns the current shared state document as JSON, or nil if no
// snapshot or delta has been applied.
func (s *RunState) AgentState() json.RawMessage {
	if s.agentState == nil {
		return nil
	}
	data, err := json.Marshal(s.agentState)
	if err != nil {
		return nil
	}
	return data
}

// NextSequence exposes the ordinal the next start-class event would receive.
// The store uses it to continue a persisted log.
func (s *RunState) NextSequence() int {
	return s.nextSeq
}
