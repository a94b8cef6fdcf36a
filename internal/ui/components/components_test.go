// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/jeranaias/agentdeck/internal/runstate"
	"github.com/jeranaias/agentdeck/internal/ui/styles"
)

func TestParseCodeBlocksPassthrough(t *testing.T) {
	text := "plain line one\nplain line two"
	if got := ParseCodeBlocks(text, 80, ""); got != text {
		t.Errorf("text without fences should pass through unchanged, got %q", got)
	}
}

func TestParseCodeBlocksRendersFences(t *testing.T) {
	text := "before\n```go\nfmt.Println(\"hi\")\n```\nafter"
	got := ParseCodeBlocks(text, 80, "monokai")

	if !strings.Contains(got, "before") || !strings.Contains(got, "after") {
		t.Error("surrounding text lost")
	}
	if strings.Contains(got, "```") {
		t.Error("fence markers should be consumed")
	}
	if !strings.Contains(got, "Println") {
		t.Error("code content lost")
	}
}

func TestParseCodeBlocksUnclosedFence(t *testing.T) {
	// Streams routinely end mid-block; the partial code must still render.
	text := "```python\nprint(1)"
	got := ParseCodeBlocks(text, 80, "")
	if !strings.Contains(got, "print(1)") {
		t.Error("unclosed block content lost")
	}
}

func TestHighlightCodeFallsBackToPlain(t *testing.T) {
	code := "not really code at all"
	got := highlightCode(code, "nosuchlanguage", "nosuchtheme")
	if got == "" {
		t.Error("highlighting should never return empty output")
	}
}

func TestMarkdownRendererFallback(t *testing.T) {
	m := NewMarkdownRenderer(60)
	out := m.Render("# Title\n\nbody text")
	if !strings.Contains(out, "Title") || !strings.Contains(out, "body text") {
		t.Errorf("rendered output missing content: %q", out)
	}

	// Width changes rebuild the renderer without losing output.
	m.SetWidth(40)
	if out := m.Render("plain"); !strings.Contains(out, "plain") {
		t.Errorf("render after resize lost content: %q", out)
	}
}

func TestRenderComponentToolResult(t *testing.T) {
	theme := styles.NewTheme()
	c := &runstate.Component{
		ID:    "cmp_1",
		Type:  "tool_result",
		Props: json.RawMessage(`{"content":"42 files changed"}`),
	}

	out := RenderComponent(c, theme, 80)
	if !strings.Contains(out, "42 files changed") {
		t.Errorf("tool result content missing: %q", out)
	}
}

func TestRenderComponentToolResultError(t *testing.T) {
	theme := styles.NewTheme()
	c := &runstate.Component{
		ID:    "cmp_err",
		Type:  "tool_result",
		Props: json.RawMessage(`{"content":"permission denied","is_error":true}`),
	}

	out := RenderComponent(c, theme, 80)
	if !strings.Contains(out, "[error]") || !strings.Contains(out, "permission denied") {
		t.Errorf("failed tool result not marked: %q", out)
	}
}

func TestRenderComponentGeneric(t *testing.T) {
	theme := styles.NewTheme()
	c := &runstate.Component{
		ID:    "cmp_2",
		Type:  "chart",
		Props: json.RawMessage(`{"title":"Revenue","points":3}`),
	}

	out := RenderComponent(c, theme, 80)
	if !strings.Contains(out, "chart") || !strings.Contains(out, "Revenue") {
		t.Errorf("generic component props missing: %q", out)
	}
}

func TestRenderComponentRemoved(t *testing.T) {
	theme := styles.NewTheme()
	c := &runstate.Component{ID: "cmp_3", Type: "tool_result", Removed: true}
	if out := RenderComponent(c, theme, 80); out != "" {
		t.Errorf("removed component should render nothing, got %q", out)
	}
}
