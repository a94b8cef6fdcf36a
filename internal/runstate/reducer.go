// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package runstate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jeranaias/agentdeck/internal/event"
)

// =============================================================================
// APPLY
// =============================================================================

// Apply folds a live event into the state. Sequence numbers are allocated
// from the internal counter; the counter advances only when a start-class
// event creates a new entity, so content deltas never consume ordinals.
func (s *RunState) Apply(ev event.Event) Outcome {
	return s.apply(ev, -1)
}

// ApplyAt folds a persisted event using its stored sequence number. Replay of
// a log through ApplyAt reproduces the exact state the live run produced.
func (s *RunState) ApplyAt(ev event.Event, seq int) Outcome {
	if seq < 0 {
		return rejected("negative sequence")
	}
	return s.apply(ev, seq)
}

// allocSeq returns the sequence for a newly created entity: the persisted
// ordinal during replay, the internal counter during a live run.
func (s *RunState) allocSeq(replaySeq int) int {
	if replaySeq >= 0 {
		if replaySeq >= s.nextSeq {
			s.nextSeq = replaySeq + 1
		}
		return replaySeq
	}
	seq := s.nextSeq
	s.nextSeq++
	return seq
}

func (s *RunState) apply(ev event.Event, replaySeq int) Outcome {
	switch ev.Type {
	case event.RunStarted:
		return s.applyRunStarted(ev)
	case event.RunFinished:
		return s.applyRunFinished(ev)
	case event.RunError:
		return s.applyRunError(ev)

	case event.TextMessageStart:
		return s.applyMessageStart(ev, replaySeq)
	case event.TextMessageContent:
		return s.applyMessageContent(ev)
	case event.TextMessageEnd:
		return s.applyMessageEnd(ev)

	case event.ToolCallStart:
		return s.applyToolStart(ev, replaySeq)
	case event.ToolCallArgs:
		return s.applyToolArgs(ev)
	case event.ToolCallEnd:
		return s.applyToolEnd(ev)
	case event.ToolCallResult:
		return s.applyToolResult(ev)

	case event.ThinkingStart:
		return s.applyThinkingStart(ev, replaySeq)
	case event.ThinkingContent:
		return s.applyThinkingContent(ev)
	case event.ThinkingEnd:
		return s.applyThinkingEnd(ev)

	case event.UIComponent:
		return s.applyComponent(ev, replaySeq)
	case event.UIUpdate:
		return s.applyComponentUpdate(ev)
	case event.UIRemove:
		return s.applyComponentRemove(ev)
	case event.UIInteraction:
		// Interactions flow client-to-server out of band; no state change.
		return applied()

	case event.StateSnapshot:
		return s.applySnapshot(ev)
	case event.StateDelta:
		return s.applyDelta(ev)

	case event.Custom:
		return s.applyCustom(ev)
	}
	return rejected("unknown event type " + string(ev.Type))
}

// =============================================================================
// RUN LIFECYCLE
// =============================================================================

func (s *RunState) applyRunStarted(ev event.Event) Outcome {
	s.Running = true
	s.RunID = ev.RunID
	if ev.ThreadID != "" {
		s.ThreadID = ev.ThreadID
	}
	s.ErrorMsg = ""
	s.ErrorCode = ""
	return applied()
}

func (s *RunState) applyRunFinished(ev event.Event) Outcome {
	s.Running = false
	s.finalizeStreaming()
	if usage, ok := ev.FinishedUsage(); ok {
		s.Usage.InputTokens += usage.InputTokens
		s.Usage.OutputTokens += usage.OutputTokens
		s.Usage.TotalCost += usage.TotalCost
		s.HasUsage = true
	}
	return applied()
}

func (s *RunState) applyRunError(ev event.Event) Outcome {
	s.Running = false
	s.ErrorMsg = ev.Message
	s.ErrorCode = ev.Code
	s.finalizeStreaming()
	return applied()
}

// finalizeStreaming closes any entity still marked as streaming. A run never
// ends with a half-open message in the state.
func (s *RunState) finalizeStreaming() {
	for _, m := range s.messages {
		m.Streaming = false
	}
	for _, t := range s.toolCalls {
		if t.Status == ToolPending || t.Status == ToolStreaming {
			t.Status = ToolComplete
		}
	}
	for _, b := range s.thinking {
		b.Streaming = false
	}
}

// =============================================================================
// TEXT MESSAGES
// =============================================================================

func (s *RunState) applyMessageStart(ev event.Event, replaySeq int) Outcome {
	if ev.MessageID == "" {
		return rejected("text_message_start without message_id")
	}
	if idx, ok := s.msgIndex[ev.MessageID]; ok {
		// Duplicate start is idempotent: never reset accumulated content.
		s.messages[idx].Streaming = true
		return applied()
	}
	m := &Message{
		ID:        ev.MessageID,
		Role:      ev.Role,
		Sequence:  s.allocSeq(replaySeq),
		Streaming: true,
	}
	if m.Role == "" {
		m.Role = "assistant"
	}
	s.msgIndex[ev.MessageID] = len(s.messages)
	s.messages = append(s.messages, m)
	return applied()
}

func (s *RunState) applyMessageContent(ev event.Event) Outcome {
	if ev.Delta == "" {
		return rejected("text_message_content with empty delta")
	}
	idx, ok := s.msgIndex[ev.MessageID]
	if !ok {
		return skipped("content for unknown message " + ev.MessageID)
	}
	s.messages[idx].content.WriteString(ev.Delta)
	return applied()
}

func (s *RunState) applyMessageEnd(ev event.Event) Outcome {
	idx, ok := s.msgIndex[ev.MessageID]
	if !ok {
		return skipped("end for unknown message " + ev.MessageID)
	}
	s.messages[idx].Streaming = false
	return applied()
}

// =============================================================================
// TOOL CALLS
// =============================================================================

func (s *RunState) applyToolStart(ev event.Event, replaySeq int) Outcome {
	if ev.ToolCallID == "" {
		return rejected("tool_call_start without tool_call_id")
	}
	if idx, ok := s.toolIndex[ev.ToolCallID]; ok {
		t := s.toolCalls[idx]
		if ev.ToolCallName != "" {
			t.Name = ev.ToolCallName
		}
		return applied()
	}
	t := &ToolCall{
		ID:              ev.ToolCallID,
		Name:            ev.ToolCallName,
		ParentMessageID: ev.ParentMessageID,
		Sequence:        s.allocSeq(replaySeq),
		Status:          ToolPending,
	}
	s.toolIndex[ev.ToolCallID] = len(s.toolCalls)
	s.toolCalls = append(s.toolCalls, t)
	return applied()
}

func (s *RunState) applyToolArgs(ev event.Event) Outcome {
	idx, ok := s.toolIndex[ev.ToolCallID]
	if !ok {
		return skipped("args for unknown tool call " + ev.ToolCallID)
	}
	t := s.toolCalls[idx]
	t.args.WriteString(ev.Delta)
	if t.Status == ToolPending {
		t.Status = ToolStreaming
	}
	return applied()
}

func (s *RunState) applyToolEnd(ev event.Event) Outcome {
	idx, ok := s.toolIndex[ev.ToolCallID]
	if !ok {
		return skipped("end for unknown tool call " + ev.ToolCallID)
	}
	t := s.toolCalls[idx]
	if t.Status != ToolResulted {
		t.Status = ToolComplete
	}
	return applied()
}

func (s *RunState) applyToolResult(ev event.Event) Outcome {
	idx, ok := s.toolIndex[ev.ToolCallID]
	if !ok {
		return skipped("result for unknown tool call " + ev.ToolCallID)
	}
	t := s.toolCalls[idx]
	t.Result = ev.Content
	t.IsError = ev.IsError
	t.Metadata = ev.Metadata
	t.Status = ToolResulted
	return applied()
}

// =============================================================================
// THINKING
// =============================================================================

// openThinking returns the most recent still-streaming block, or nil. Used
// only for events that arrive without a thinking_id.
func (s *RunState) openThinking() *ThinkingBlock {
	for i := len(s.thinking) - 1; i >= 0; i-- {
		if s.thinking[i].Streaming {
			return s.thinking[i]
		}
	}
	return nil
}

// resolveThinking finds the block an id-bearing delta targets. A non-empty
// unknown id yields nil rather than falling back to another block.
func (s *RunState) resolveThinking(thinkingID string) *ThinkingBlock {
	if thinkingID == "" {
		return s.openThinking()
	}
	idx, ok := s.thinkIndex[thinkingID]
	if !ok {
		return nil
	}
	return s.thinking[idx]
}

func (s *RunState) applyThinkingStart(ev event.Event, replaySeq int) Outcome {
	id := ev.ThinkingID
	if id == "" {
		id = fmt.Sprintf("thinking_%d", len(s.thinking))
	}
	if idx, ok := s.thinkIndex[id]; ok {
		// Duplicate start is idempotent, same as messages.
		s.thinking[idx].Streaming = true
		return applied()
	}
	b := &ThinkingBlock{
		ID:              id,
		ParentMessageID: ev.ParentMessageID,
		Sequence:        s.allocSeq(replaySeq),
		Streaming:       true,
	}
	s.thinkIndex[id] = len(s.thinking)
	s.thinking = append(s.thinking, b)
	return applied()
}

func (s *RunState) applyThinkingContent(ev event.Event) Outcome {
	b := s.resolveThinking(ev.ThinkingID)
	if b == nil {
		return skipped("thinking_content for unknown block " + ev.ThinkingID)
	}
	b.content.WriteString(ev.Delta)
	return applied()
}

func (s *RunState) applyThinkingEnd(ev event.Event) Outcome {
	b := s.resolveThinking(ev.ThinkingID)
	if b == nil {
		return skipped("thinking_end for unknown block " + ev.ThinkingID)
	}
	b.Streaming = false
	return applied()
}

// =============================================================================
// UI COMPONENTS
// =============================================================================

func (s *RunState) applyComponent(ev event.Event, replaySeq int) Outcome {
	if ev.ComponentID == "" {
		return rejected("ui_component without component_id")
	}
	if idx, ok := s.compIndex[ev.ComponentID]; ok {
		// Upsert keeps the original position in the timeline.
		c := s.components[idx]
		c.Type = ev.ComponentType
		c.Props = ev.Props
		c.Children = ev.Children
		if ev.ToolCallID != "" {
			c.ToolCallID = ev.ToolCallID
		}
		if ev.MessageID != "" {
			c.MessageID = ev.MessageID
		}
		if ev.ParentComponentID != "" {
			c.ParentComponentID = ev.ParentComponentID
		}
		c.Removed = false
		return applied()
	}
	c := &Component{
		ID:                ev.ComponentID,
		Type:              ev.ComponentType,
		ToolCallID:        ev.ToolCallID,
		MessageID:         ev.MessageID,
		ParentComponentID: ev.ParentComponentID,
		Sequence:          s.allocSeq(replaySeq),
		Props:             ev.Props,
		Children:          ev.Children,
	}
	s.compIndex[ev.ComponentID] = len(s.components)
	s.components = append(s.components, c)
	return applied()
}

func (s *RunState) applyComponentUpdate(ev event.Event) Outcome {
	idx, ok := s.compIndex[ev.ComponentID]
	if !ok {
		return skipped("update for unknown component " + ev.ComponentID)
	}
	c := s.components[idx]
	merged, err := mergeProps(c.Props, ev.Props)
	if err != nil {
		return rejected("ui_update props not an object: " + err.Error())
	}
	c.Props = merged
	return applied()
}

func (s *RunState) applyComponentRemove(ev event.Event) Outcome {
	idx, ok := s.compIndex[ev.ComponentID]
	if !ok {
		return skipped("remove for unknown component " + ev.ComponentID)
	}
	s.components[idx].Removed = true
	return applied()
}

// mergeProps shallow-merges the top-level keys of patch into base.
func mergeProps(base, patch json.RawMessage) (json.RawMessage, error) {
	dst := map[string]json.RawMessage{}
	if len(base) > 0 {
		if err := json.Unmarshal(base, &dst); err != nil {
			return nil, err
		}
	}
	src := map[string]json.RawMessage{}
	if len(patch) > 0 {
		if err := json.Unmarshal(patch, &src); err != nil {
			return nil, err
		}
	}
	for k, v := range src {
		dst[k] = v
	}
	return json.Marshal(dst)
}

// =============================================================================
// SHARED STATE
// =============================================================================

func (s *RunState) applySnapshot(ev event.Event) Outcome {
	var doc map[string]any
	if err := json.Unmarshal(ev.Snapshot, &doc); err != nil {
		return rejected("state_snapshot not an object: " + err.Error())
	}
	s.agentState = doc
	return applied()
}

func (s *RunState) applyDelta(ev event.Event) Outcome {
	if len(ev.DeltaOps) == 0 {
		return rejected("state_delta without operations")
	}
	// Apply against a copy so a malformed op mid-batch leaves state intact.
	doc := deepCopy(s.agentState)
	if doc == nil {
		doc = map[string]any{}
	}
	for _, op := range ev.DeltaOps {
		if err := applyDeltaOp(doc, op); err != nil {
			return rejected("state_delta op failed: " + err.Error())
		}
	}
	s.agentState = doc
	return applied()
}

func deepCopy(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

// applyDeltaOp applies one add/replace/remove against a JSON pointer path.
// Only object traversal is supported; the agent's shared state is a plain
// keyed document, not an array structure.
func applyDeltaOp(doc map[string]any, op event.DeltaOp) error {
	if op.Path == "" || !strings.HasPrefix(op.Path, "/") {
		return fmt.Errorf("bad path %q", op.Path)
	}
	parts := strings.Split(op.Path[1:], "/")
	for i, p := range parts {
		parts[i] = strings.ReplaceAll(strings.ReplaceAll(p, "~1", "/"), "~0", "~")
	}
	parent := doc
	for _, p := range parts[:len(parts)-1] {
		child, ok := parent[p]
		if !ok {
			if op.Op == "remove" {
				return fmt.Errorf("path %q not found", op.Path)
			}
			next := map[string]any{}
			parent[p] = next
			parent = next
			continue
		}
		m, ok := child.(map[string]any)
		if !ok {
			return fmt.Errorf("path %q traverses a non-object", op.Path)
		}
		parent = m
	}
	leaf := parts[len(parts)-1]
	switch op.Op {
	case "add", "replace":
		var val any
		if len(op.Value) > 0 {
			if err := json.Unmarshal(op.Value, &val); err != nil {
				return fmt.Errorf("bad value at %q: %w", op.Path, err)
			}
		}
		parent[leaf] = val
	case "remove":
		if _, ok := parent[leaf]; !ok {
			return fmt.Errorf("path %q not found", op.Path)
		}
		delete(parent, leaf)
	default:
		return fmt.Errorf("unsupported op %q", op.Op)
	}
	return nil
}

// =============================================================================
// CUSTOM
// =============================================================================

func (s *RunState) applyCustom(ev event.Event) Outcome {
	if ev.Name == "" {
		return rejected("custom event without name")
	}
	if si, ok := ev.Session(); ok {
		if si.SessionID != "" {
			s.SessionID = si.SessionID
		}
		if si.TaskID != "" {
			s.TaskID = si.TaskID
		}
	}
	return applied()
}
