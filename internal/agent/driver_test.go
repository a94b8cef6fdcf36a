// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// drain pumps driver messages until the Done marker or timeout.
func drain(t *testing.T, d *Driver) {
	t.Helper()
	for {
		select {
		case m := <-d.Events():
			d.HandleMsg(m)
			if m.Done {
				return
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for stream to finish")
		}
	}
}

func TestSendMessageOptimisticEcho(t *testing.T) {
	srv := httptest.NewServer(sseHandler(
		`{"type":"run_started","run_id":"r1"}`,
		`{"type":"run_finished","run_id":"r1"}`,
	))
	defer srv.Close()

	d := NewDriver(NewClient().WithBaseURL(srv.URL))
	if err := d.SendMessage("  café order  "); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	// The user message is in state before any stream event arrives.
	msgs := d.State().Messages()
	if len(msgs) != 1 || msgs[0].Role != "user" {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[0].Content() != "café order" {
		// NFC-normalized and trimmed
		t.Errorf("content = %q", msgs[0].Content())
	}

	if err := d.SendMessage("second"); err != ErrBusy {
		t.Errorf("second send = %v, want ErrBusy", err)
	}

	drain(t, d)
	if d.Phase() != PhaseIdle {
		t.Errorf("phase after done = %v, want idle", d.Phase())
	}
	if d.State().Running {
		t.Error("state still running after stream finished")
	}
}

func TestSendEmptyMessageRejected(t *testing.T) {
	d := NewDriver(NewClient())
	if err := d.SendMessage("   \n\t "); err != ErrEmptyMessage {
		t.Errorf("err = %v, want ErrEmptyMessage", err)
	}
}

func TestSendMessageCarriesAttachment(t *testing.T) {
	var got StreamRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"run_finished\",\"run_id\":\"r1\"}\n\n")
	}))
	defer srv.Close()

	d := NewDriver(NewClient().WithBaseURL(srv.URL))
	att := &Attachment{Filename: "notes.txt", MimeType: "text/plain", Data: []byte("hello")}
	if err := d.SendMessageWithAttachment("see attached", att); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	drain(t, d)

	if got.Attachment == nil {
		t.Fatal("request carried no attachment")
	}
	if got.Attachment.Filename != "notes.txt" || string(got.Attachment.Data) != "hello" {
		t.Errorf("attachment = %+v", got.Attachment)
	}
}

func TestSessionInfoAdoptedFromStream(t *testing.T) {
	srv := httptest.NewServer(sseHandler(
		`{"type":"run_started","run_id":"r1"}`,
		`{"type":"custom","name":"session_info","value":{"session_id":"sess_9","task_id":"task_9"}}`,
		`{"type":"run_finished","run_id":"r1"}`,
	))
	defer srv.Close()

	d := NewDriver(NewClient().WithBaseURL(srv.URL))
	if err := d.SendMessage("hi"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	drain(t, d)

	if d.SessionID() != "sess_9" || d.TaskID() != "task_9" {
		t.Errorf("identity = %q/%q, want sess_9/task_9", d.SessionID(), d.TaskID())
	}
}

func TestStaleStreamDiscardedAfterSwitch(t *testing.T) {
	srv := httptest.NewServer(sseHandler(`{"type":"run_started","run_id":"r1"}`))
	defer srv.Close()

	d := NewDriver(NewClient().WithBaseURL(srv.URL))
	if err := d.SendMessage("hi"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	gen := 0

	// Switch conversations while the old stream may still deliver.
	d.NewConversation()

	timeout := time.After(5 * time.Second)
	for {
		select {
		case m := <-d.Events():
			if m.Generation != gen {
				t.Fatalf("unexpected generation %d", m.Generation)
			}
			if d.HandleMsg(m) {
				t.Error("stale message was not discarded")
			}
			if m.Done {
				if len(d.State().Messages()) != 0 {
					t.Error("stale stream mutated fresh state")
				}
				return
			}
		case <-timeout:
			t.Fatal("stale stream never finished")
		}
	}
}

func TestStopSynthesizesRunFinished(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"run_started\",\"run_id\":\"r1\"}\n\n")
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release
	}))
	defer srv.Close()
	defer close(release)

	d := NewDriver(NewClient().WithBaseURL(srv.URL))
	if err := d.SendMessage("hi"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	// Wait for run_started so the run is open, then stop.
	select {
	case m := <-d.Events():
		d.HandleMsg(m)
	case <-time.After(5 * time.Second):
		t.Fatal("run_started never arrived")
	}
	if !d.State().Running {
		t.Fatal("run not open before stop")
	}

	d.Stop()
	if d.State().Running {
		t.Error("state still running after Stop")
	}
	if d.Phase() != PhaseIdle {
		t.Errorf("phase = %v, want idle", d.Phase())
	}
	drain(t, d)
}

func TestStreamFailureSurfacesRunError(t *testing.T) {
	// Point at a closed port.
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()

	d := NewDriver(NewClient().WithBaseURL(url))
	if err := d.SendMessage("hi"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	drain(t, d)

	if d.LastError() == nil {
		t.Error("LastError not set after transport failure")
	}
	if d.State().ErrorMsg == "" || d.State().ErrorCode != "connection_error" {
		t.Errorf("state error = %q/%q", d.State().ErrorMsg, d.State().ErrorCode)
	}
}

func TestLoadConversationReplaysEventLog(t *testing.T) {
	logEvents := []map[string]any{
		{"event": map[string]any{"type": "run_started", "run_id": "r1"}, "sequence": 0},
		{"event": map[string]any{"type": "text_message_start", "message_id": "u1", "role": "user"}, "sequence": 0},
		{"event": map[string]any{"type": "text_message_content", "message_id": "u1", "delta": "saved"}, "sequence": 0},
		{"event": map[string]any{"type": "text_message_end", "message_id": "u1"}, "sequence": 0},
		{"event": map[string]any{"type": "text_message_start", "message_id": "a1", "role": "assistant"}, "sequence": 1},
		{"event": map[string]any{"type": "text_message_content", "message_id": "a1", "delta": "reply"}, "sequence": 1},
		{"event": map[string]any{"type": "text_message_end", "message_id": "a1"}, "sequence": 1},
		{"event": map[string]any{"type": "run_finished", "run_id": "r1"}, "sequence": 1},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/tasks/task_1/events", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"events": logEvents})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := NewDriver(NewClient().WithBaseURL(srv.URL))
	if err := d.LoadConversation(context.Background(), "task_1"); err != nil {
		t.Fatalf("LoadConversation failed: %v", err)
	}

	msgs := d.State().Messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Content() != "saved" || msgs[1].Content() != "reply" {
		t.Errorf("contents = %q, %q", msgs[0].Content(), msgs[1].Content())
	}
	if msgs[0].Sequence != 0 || msgs[1].Sequence != 1 {
		t.Errorf("sequences = %d, %d", msgs[0].Sequence, msgs[1].Sequence)
	}
	if d.State().Running {
		t.Error("replayed state running with no stream in flight")
	}
	if d.TaskID() != "task_1" {
		t.Errorf("taskID = %q", d.TaskID())
	}
}

func TestLoadConversationLegacyFallback(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/tasks/task_old/events", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"events": []any{}})
	})
	mux.HandleFunc("GET /api/v1/tasks/task_old/messages", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"messages": []map[string]string{
			{"id": "m1", "role": "user", "content": "old question"},
			{"id": "m2", "role": "assistant", "content": "old answer"},
		}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := NewDriver(NewClient().WithBaseURL(srv.URL))
	if err := d.LoadConversation(context.Background(), "task_old"); err != nil {
		t.Fatalf("LoadConversation failed: %v", err)
	}

	msgs := d.State().Messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[0].Content() != "old question" {
		t.Errorf("message 0 = %s %q", msgs[0].Role, msgs[0].Content())
	}
	if msgs[1].Role != "assistant" || msgs[1].Content() != "old answer" {
		t.Errorf("message 1 = %s %q", msgs[1].Role, msgs[1].Content())
	}
}

func TestLoadConversationRejectedWhileStreaming(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"run_started\",\"run_id\":\"r1\"}\n\n")
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release
	}))
	defer srv.Close()
	defer close(release)

	d := NewDriver(NewClient().WithBaseURL(srv.URL))
	if err := d.SendMessage("hi"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	select {
	case m := <-d.Events():
		d.HandleMsg(m)
	case <-time.After(5 * time.Second):
		t.Fatal("run_started never arrived")
	}

	// A conversation switch mid-turn is rejected, not queued.
	if err := d.LoadConversation(context.Background(), "task_2"); err != ErrBusy {
		t.Errorf("LoadConversation mid-stream = %v, want ErrBusy", err)
	}
	if len(d.State().Messages()) != 1 {
		t.Error("rejected load mutated state")
	}

	d.Stop()
	drain(t, d)
}

func TestClientNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := NewClient().WithBaseURL(srv.URL)
	_, err := client.GetTask(context.Background(), "nope")
	if !IsNotFound(err) {
		t.Errorf("err = %v, want not-found", err)
	}
}
