// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package timeline projects run state into ordered render groups for the
// transcript view. The projection is pure: it reads the reducer's state and
// produces a display structure without mutating either.
package timeline

import (
	"sort"

	"github.com/jeranaias/agentdeck/internal/runstate"
)

// =============================================================================
// GROUPS
// =============================================================================

// GroupKind classifies a render group.
type GroupKind int

const (
	// GroupUser is a single user message.
	GroupUser GroupKind = iota
	// GroupAssistant is one assistant turn: the message plus the thinking
	// that preceded it and the tool activity that followed it.
	GroupAssistant
	// GroupThinkingPending is reasoning in flight before any assistant text
	// has arrived. The view renders it with a spinner while the run is live.
	GroupThinkingPending
)

// Group is one visual block in the transcript.
type Group struct {
	Kind      GroupKind
	Sequence  int
	User      *runstate.Message
	Assistant *runstate.Message
	Thinking  []*runstate.ThinkingBlock
	ToolCalls []*runstate.ToolCall
	Components []*runstate.Component
}

// Timeline is the full projected transcript.
type Timeline struct {
	Groups   []Group
	Running  bool
	ErrorMsg string
}

// =============================================================================
// PROJECTION
// =============================================================================

type itemKind int

const (
	itemThinking itemKind = iota // sorts first on sequence ties
	itemMessage
	itemTool
	itemComponent
)

type item struct {
	seq  int
	kind itemKind
	ord  int // creation order within kind, stabilizes ties

	msg  *runstate.Message
	tb   *runstate.ThinkingBlock
	tc   *runstate.ToolCall
	comp *runstate.Component
}

// Project flattens the state's entities into sequence order and groups them
// for display. User messages stand alone; an assistant message absorbs the
// nearest preceding unclaimed thinking blocks plus the tool calls and
// components between it and the next message.
func Project(s *runstate.RunState) Timeline {
	var items []item
	for i, m := range s.Messages() {
		items = append(items, item{seq: m.Sequence, kind: itemMessage, ord: i, msg: m})
	}
	for i, b := range s.ThinkingBlocks() {
		items = append(items, item{seq: b.Sequence, kind: itemThinking, ord: i, tb: b})
	}
	for i, tc := range s.ToolCalls() {
		items = append(items, item{seq: tc.Sequence, kind: itemTool, ord: i, tc: tc})
	}
	for i, c := range s.Components() {
		if c.Removed {
			continue
		}
		// Components tied to a tool call render with that call, not on
		// their own position in the log.
		items = append(items, item{seq: c.Sequence, kind: itemComponent, ord: i, comp: c})
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].seq != items[j].seq {
			return items[i].seq < items[j].seq
		}
		if items[i].kind != items[j].kind {
			return items[i].kind < items[j].kind
		}
		return items[i].ord < items[j].ord
	})

	tl := Timeline{Running: s.Running, ErrorMsg: s.ErrorMsg}

	var current *Group                       // open assistant group, if any
	var pending []*runstate.ThinkingBlock    // thinking not yet claimed
	pendingSeq := -1

	flush := func() {
		if current != nil {
			tl.Groups = append(tl.Groups, *current)
			current = nil
		}
	}
	// openAssistant starts a group for tool activity that arrives before any
	// assistant text; the message pointer fills in if text follows.
	openAssistant := func(seq int) *Group {
		if current == nil {
			current = &Group{Kind: GroupAssistant, Sequence: seq}
			if len(pending) > 0 {
				current.Thinking = pending
				current.Sequence = pendingSeq
				pending = nil
				pendingSeq = -1
			}
		}
		return current
	}

	for _, it := range items {
		switch it.kind {
		case itemMessage:
			if it.msg.Role == "user" {
				flush()
				// Thinking stranded before a user message renders on its own.
				if len(pending) > 0 {
					tl.Groups = append(tl.Groups, Group{
						Kind: GroupThinkingPending, Sequence: pendingSeq, Thinking: pending,
					})
					pending = nil
					pendingSeq = -1
				}
				tl.Groups = append(tl.Groups, Group{Kind: GroupUser, Sequence: it.seq, User: it.msg})
				continue
			}
			if current != nil && current.Assistant != nil {
				// A second assistant message starts a new turn.
				flush()
			}
			g := openAssistant(it.seq)
			g.Assistant = it.msg
		case itemThinking:
			if current != nil && current.Assistant == nil {
				current.Thinking = append(current.Thinking, it.tb)
				continue
			}
			flush()
			if pendingSeq < 0 {
				pendingSeq = it.seq
			}
			pending = append(pending, it.tb)
		case itemTool:
			g := openAssistant(it.seq)
			g.ToolCalls = append(g.ToolCalls, it.tc)
		case itemComponent:
			g := openAssistant(it.seq)
			g.Components = append(g.Components, it.comp)
		}
	}
	flush()

	if len(pending) > 0 {
		tl.Groups = append(tl.Groups, Group{
			Kind: GroupThinkingPending, Sequence: pendingSeq, Thinking: pending,
		})
	} else if tl.Running {
		// A live run with no assistant activity yet still shows a thinking
		// placeholder so the transcript never looks stalled after a send.
		if g := tl.LastGroup(); g == nil || g.Kind == GroupUser {
			seq := s.NextSequence()
			tl.Groups = append(tl.Groups, Group{Kind: GroupThinkingPending, Sequence: seq})
		}
	}

	return tl
}

// LastGroup returns the final group, or nil for an empty timeline.
func (t Timeline) LastGroup() *Group {
	if len(t.Groups) == 0 {
		return nil
	}
	return &t.Groups[len(t.Groups)-1]
}
