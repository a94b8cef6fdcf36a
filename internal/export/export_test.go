// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jeranaias/agentdeck/internal/event"
	"github.com/jeranaias/agentdeck/internal/store"
)

// sampleConversation builds a conversation with a user message, a thinking
// block, a tool call with a result, and a streamed assistant reply.
func sampleConversation(t *testing.T) *Conversation {
	t.Helper()

	task := store.Task{
		ID:        "task_export",
		Title:     "Weather lookup",
		SessionID: "sess_1",
		CreatedAt: time.Unix(1700000000, 0),
		UpdatedAt: time.Unix(1700000100, 0),
	}

	events := []event.Event{
		event.NewRunStarted(task.ID, "run_1"),
	}
	triple := event.UserMessageTriple("msg_u1", "What is the weather in Oslo?")
	events = append(events, triple[0], triple[1], triple[2])
	events = append(events, []event.Event{
		{Type: event.ThinkingStart},
		{Type: event.ThinkingContent, Delta: "Need the forecast tool."},
		{Type: event.ThinkingEnd},
		{Type: event.ToolCallStart, ToolCallID: "t1", ToolCallName: "get_weather"},
		{Type: event.ToolCallArgs, ToolCallID: "t1", Delta: `{"city":"Oslo"}`},
		{Type: event.ToolCallEnd, ToolCallID: "t1"},
		{Type: event.ToolCallResult, ToolCallID: "t1", Content: "7C, overcast"},
		{Type: event.TextMessageStart, MessageID: "msg_a1", Role: "assistant"},
		{Type: event.TextMessageContent, MessageID: "msg_a1", Delta: "It is 7C and overcast in Oslo."},
		{Type: event.TextMessageEnd, MessageID: "msg_a1"},
		event.NewRunFinished(task.ID, "run_1", mustResult(t, 10, 20)),
	}...)

	stored := make([]store.StoredEvent, len(events))
	for i, ev := range events {
		stored[i] = store.StoredEvent{
			ID:       int64(i + 1),
			TaskID:   task.ID,
			Event:    ev,
			Sequence: i,
		}
	}

	return Build(task, stored)
}

func mustResult(t *testing.T, in, out int) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(event.FinishedResult{Usage: &event.Usage{InputTokens: in, OutputTokens: out}})
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	return data
}

func TestBuildReplaysLog(t *testing.T) {
	conv := sampleConversation(t)

	if conv.State.Running {
		t.Error("replayed conversation should not be running")
	}
	if !conv.State.HasUsage || conv.State.Usage.OutputTokens != 20 {
		t.Errorf("usage not folded: %+v", conv.State.Usage)
	}
	if len(conv.Timeline.Groups) != 2 {
		t.Fatalf("expected 2 groups (user, assistant), got %d", len(conv.Timeline.Groups))
	}
}

func TestMarkdownExport(t *testing.T) {
	conv := sampleConversation(t)

	content, err := NewMarkdownExporter(nil).Export(conv)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	md := string(content)

	for _, want := range []string{
		"# Weather lookup",
		"### User",
		"What is the weather in Oslo?",
		"### Assistant",
		"Need the forecast tool.",
		"`get_weather`",
		`{"city":"Oslo"}`,
		"7C, overcast",
		"It is 7C and overcast in Oslo.",
		"tokens: 30",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
}

func TestMarkdownExcludesThinkingWhenDisabled(t *testing.T) {
	conv := sampleConversation(t)
	opts := DefaultOptions()
	opts.IncludeThinking = false

	content, err := NewMarkdownExporter(opts).Export(conv)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if strings.Contains(string(content), "Need the forecast tool.") {
		t.Error("thinking content should be excluded")
	}
}

func TestHTMLExport(t *testing.T) {
	conv := sampleConversation(t)

	content, err := NewHTMLExporter(nil).Export(conv)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	page := string(content)

	for _, want := range []string{
		"<!DOCTYPE html>",
		"<title>Weather lookup</title>",
		"dark-theme",
		"get_weather",
		"It is 7C and overcast in Oslo.",
	} {
		if !strings.Contains(page, want) {
			t.Errorf("html missing %q", want)
		}
	}
}

func TestHTMLEscapesContent(t *testing.T) {
	task := store.Task{ID: "task_x", Title: "<script>alert(1)</script>", CreatedAt: time.Unix(1, 0), UpdatedAt: time.Unix(1, 0)}
	triple := event.UserMessageTriple("msg_u1", "say <b>hi</b>")
	stored := []store.StoredEvent{
		{Event: triple[0], Sequence: 0},
		{Event: triple[1], Sequence: 1},
		{Event: triple[2], Sequence: 2},
	}
	conv := Build(task, stored)

	content, err := NewHTMLExporter(nil).Export(conv)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	page := string(content)
	if strings.Contains(page, "<script>alert(1)</script>") {
		t.Error("title not escaped")
	}
	if strings.Contains(page, "<b>hi</b>") {
		t.Error("message content not escaped")
	}
}

func TestJSONExportRoundTrip(t *testing.T) {
	conv := sampleConversation(t)

	content, err := NewJSONExporter(nil).Export(conv)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	var doc struct {
		Task   store.Task          `json:"task"`
		Events []store.StoredEvent `json:"events"`
	}
	if err := json.Unmarshal(content, &doc); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if doc.Task.ID != "task_export" {
		t.Errorf("task id = %q", doc.Task.ID)
	}
	if len(doc.Events) != len(conv.Events) {
		t.Errorf("events = %d, want %d", len(doc.Events), len(conv.Events))
	}

	// Replaying the exported log reproduces the transcript.
	replayed := Build(doc.Task, doc.Events)
	if len(replayed.Timeline.Groups) != len(conv.Timeline.Groups) {
		t.Errorf("replayed groups = %d, want %d", len(replayed.Timeline.Groups), len(conv.Timeline.Groups))
	}
}

func TestExportToFile(t *testing.T) {
	conv := sampleConversation(t)
	opts := DefaultOptions()
	opts.OutputDir = t.TempDir()

	path, err := ExportMarkdown(conv, opts)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if !strings.HasSuffix(path, ".md") {
		t.Errorf("unexpected extension: %s", path)
	}
	if !strings.Contains(path, "Weather_lookup") {
		t.Errorf("filename should derive from title: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back failed: %v", err)
	}
	if !strings.Contains(string(data), "# Weather lookup") {
		t.Error("file content mismatch")
	}
}

func TestEmptyConversationRejected(t *testing.T) {
	conv := Build(store.Task{ID: "task_empty", Title: "Empty"}, nil)

	if _, err := NewMarkdownExporter(nil).Export(conv); err == nil {
		t.Error("expected error for empty conversation")
	}
	if _, err := NewHTMLExporter(nil).Export(conv); err == nil {
		t.Error("expected error for empty conversation")
	}
	// JSON export of an empty log is fine.
	if _, err := NewJSONExporter(nil).Export(conv); err != nil {
		t.Errorf("json export of empty log failed: %v", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"simple", "simple"},
		{"has spaces here", "has_spaces_here"},
		{"path/to:file", "path-to-file"},
		{"", "conversation"},
	}
	for _, tt := range tests {
		if got := sanitizeFilename(tt.input); got != tt.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestByFormat(t *testing.T) {
	for _, format := range []string{"markdown", "md", "html", "json", "HTML"} {
		if _, err := ByFormat(format, nil); err != nil {
			t.Errorf("ByFormat(%q) failed: %v", format, err)
		}
	}
	if _, err := ByFormat("pdf", nil); err == nil {
		t.Error("expected error for unknown format")
	}
}
