// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package event

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestDecodeTextMessageContent(t *testing.T) {
	line := []byte(`{"type":"text_message_content","message_id":"msg_1","delta":"Hel","timestamp":1700000000000}`)
	ev, err := Decode(line)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if ev.Type != TextMessageContent || ev.MessageID != "msg_1" || ev.Delta != "Hel" {
		t.Errorf("decoded = %+v", ev)
	}
}

func TestDecodeMissingType(t *testing.T) {
	_, err := Decode([]byte(`{"message_id":"msg_1"}`))
	if !errors.Is(err, ErrMissingType) {
		t.Errorf("err = %v, want ErrMissingType", err)
	}
}

func TestDecodeMalformedJSON(t *testing.T) {
	_, err := Decode([]byte(`{"type":"run_started",`))
	if !errors.Is(err, ErrBadPayload) {
		t.Errorf("err = %v, want ErrBadPayload", err)
	}
}

func TestDecodeUnknownTypeBecomesCustom(t *testing.T) {
	line := []byte(`{"type":"hologram_update","shape":"cube"}`)
	ev, err := Decode(line)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if ev.Type != Custom || ev.Name != "hologram_update" {
		t.Errorf("decoded = %+v, want Custom named hologram_update", ev)
	}
	if !strings.Contains(string(ev.Value), "cube") {
		t.Error("raw payload not preserved")
	}
}

func TestDecodePascalCaseTypes(t *testing.T) {
	tests := []struct {
		line []byte
		want Type
	}{
		{[]byte(`{"type":"RunStarted","run_id":"r1"}`), RunStarted},
		{[]byte(`{"type":"TextMessageContent","message_id":"m1","delta":"x"}`), TextMessageContent},
		{[]byte(`{"type":"ToolCallResult","tool_call_id":"t1","content":"out","is_error":true}`), ToolCallResult},
		{[]byte(`{"type":"ThinkingStart","thinking_id":"th1"}`), ThinkingStart},
	}
	for _, tt := range tests {
		ev, err := Decode(tt.line)
		if err != nil {
			t.Fatalf("Decode(%s) failed: %v", tt.line, err)
		}
		if ev.Type != tt.want {
			t.Errorf("Decode(%s) type = %s, want %s", tt.line, ev.Type, tt.want)
		}
	}

	// The error flag and identifiers survive normalization.
	ev, _ := Decode([]byte(`{"type":"ToolCallResult","tool_call_id":"t1","content":"boom","is_error":true,"metadata":{"exit_code":2}}`))
	if !ev.IsError || ev.ToolCallID != "t1" || len(ev.Metadata) == 0 {
		t.Errorf("normalized event lost fields: %+v", ev)
	}
}

func TestDecodeToleratesExtraFields(t *testing.T) {
	line := []byte(`{"type":"run_started","thread_id":"t1","run_id":"r1","experimental_flag":true}`)
	ev, err := Decode(line)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if ev.Type != RunStarted || ev.ThreadID != "t1" || ev.RunID != "r1" {
		t.Errorf("decoded = %+v", ev)
	}
}

func TestEncodeOmitsEmptyFields(t *testing.T) {
	ev := Event{Type: ThinkingEnd}
	data, err := ev.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if string(data) != `{"type":"thinking_end"}` {
		t.Errorf("encoded = %s", data)
	}
}

func TestSessionExtraction(t *testing.T) {
	ev := NewSessionInfo("sess_1", "task_1")
	si, ok := ev.Session()
	if !ok || si.SessionID != "sess_1" || si.TaskID != "task_1" {
		t.Errorf("Session() = %+v ok=%v", si, ok)
	}

	other := Event{Type: Custom, Name: "heartbeat", Value: json.RawMessage(`{}`)}
	if _, ok := other.Session(); ok {
		t.Error("non-session custom event extracted as session info")
	}
}

func TestFinishedUsage(t *testing.T) {
	result := json.RawMessage(`{"usage":{"input_tokens":10,"output_tokens":5,"total_cost":0.001}}`)
	ev := NewRunFinished("t", "r", result)
	usage, ok := ev.FinishedUsage()
	if !ok || usage.InputTokens != 10 || usage.OutputTokens != 5 {
		t.Errorf("FinishedUsage = %+v ok=%v", usage, ok)
	}

	if _, ok := NewRunFinished("t", "r", nil).FinishedUsage(); ok {
		t.Error("usage extracted from empty result")
	}
}

func TestUserMessageTriple(t *testing.T) {
	triple := UserMessageTriple("msg_9", "hi")
	if triple[0].Type != TextMessageStart || triple[0].Role != "user" {
		t.Errorf("start = %+v", triple[0])
	}
	if triple[1].Type != TextMessageContent || triple[1].Delta != "hi" {
		t.Errorf("content = %+v", triple[1])
	}
	if triple[2].Type != TextMessageEnd || triple[2].MessageID != "msg_9" {
		t.Errorf("end = %+v", triple[2])
	}
	for i, ev := range triple {
		if ev.MessageID != "msg_9" {
			t.Errorf("event %d has message_id %q", i, ev.MessageID)
		}
	}
}

func TestDecodeEncodeRoundTripKeepsDeltaOps(t *testing.T) {
	ev := Event{Type: StateDelta, DeltaOps: []DeltaOp{
		{Op: "replace", Path: "/step", Value: json.RawMessage(`3`)},
	}}
	data, err := ev.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	back, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(back.DeltaOps) != 1 || back.DeltaOps[0].Path != "/step" {
		t.Errorf("round trip = %+v", back.DeltaOps)
	}
}
