// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import "time"

// =============================================================================
// RENDER GATE
// =============================================================================

// RenderGate throttles transcript re-rendering during streaming. Events can
// arrive far faster than a terminal can usefully repaint; re-rendering the
// whole viewport per delta causes flicker and burns CPU. The gate marks the
// transcript dirty as events apply and allows a repaint when either a batch
// of events has accumulated or the frame interval has elapsed.
type RenderGate struct {
	dirty      bool
	pending    int
	lastRender time.Time

	batchSize   int
	minInterval time.Duration
}

// NewRenderGate creates a gate tuned for smooth streaming: repaint after 15
// accumulated events or at most 30 frames per second, whichever comes first.
func NewRenderGate() *RenderGate {
	return &RenderGate{
		batchSize:   15,
		minInterval: 33 * time.Millisecond,
		lastRender:  time.Now(),
	}
}

// Mark records that the transcript changed.
func (g *RenderGate) Mark() {
	g.dirty = true
	g.pending++
}

// ShouldRender reports whether a repaint is due.
func (g *RenderGate) ShouldRender() bool {
	if !g.dirty {
		return false
	}
	if g.pending >= g.batchSize {
		return true
	}
	return time.Since(g.lastRender) >= g.minInterval
}

// Rendered resets the gate after a repaint.
func (g *RenderGate) Rendered() {
	g.dirty = false
	g.pending = 0
	g.lastRender = time.Now()
}

// Force marks the gate so the next ShouldRender returns true regardless of
// thresholds. Used when a stream finishes and the final state must show.
func (g *RenderGate) Force() {
	g.dirty = true
	g.pending = g.batchSize
}
