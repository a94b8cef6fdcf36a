// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/jeranaias/agentdeck/internal/event"
	"github.com/jeranaias/agentdeck/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store, *httptest.Server) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	srv := NewServer(0, st)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, st, ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	return resp
}

// readSSE collects all data frames from an SSE body.
func readSSE(t *testing.T, resp *http.Response) []event.Event {
	t.Helper()
	defer resp.Body.Close()
	var events []event.Event
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			break
		}
		ev, err := event.Decode([]byte(data))
		if err != nil {
			t.Fatalf("bad frame %q: %v", data, err)
		}
		events = append(events, ev)
	}
	return events
}

func TestTaskEndpoints(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/tasks", map[string]string{"title": "my chat"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var task store.Task
	json.NewDecoder(resp.Body).Decode(&task)
	resp.Body.Close()

	resp, err := http.Get(ts.URL + "/api/v1/tasks/" + task.ID)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("get failed: %v status=%d", err, resp.StatusCode)
	}
	resp.Body.Close()

	resp, _ = http.Get(ts.URL + "/api/v1/tasks")
	var list struct {
		Tasks []store.Task `json:"tasks"`
	}
	json.NewDecoder(resp.Body).Decode(&list)
	resp.Body.Close()
	if len(list.Tasks) != 1 || list.Tasks[0].Title != "my chat" {
		t.Errorf("list = %+v", list.Tasks)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/tasks/"+task.ID, nil)
	resp, _ = http.DefaultClient.Do(req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d", resp.StatusCode)
	}

	resp, _ = http.Get(ts.URL + "/api/v1/tasks/" + task.ID)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete status = %d", resp.StatusCode)
	}
}

func TestStreamingTurnPersistsAndRelays(t *testing.T) {
	_, st, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/response", map[string]string{"message": "hello agent"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("turn status = %d", resp.StatusCode)
	}
	events := readSSE(t, resp)
	if len(events) == 0 {
		t.Fatal("no events relayed")
	}

	if events[0].Type != event.RunStarted {
		t.Errorf("first event = %s, want run_started", events[0].Type)
	}
	last := events[len(events)-1]
	if last.Type != event.RunFinished {
		t.Errorf("last event = %s, want run_finished", last.Type)
	}
	if usage, ok := last.FinishedUsage(); !ok || usage.OutputTokens == 0 {
		t.Errorf("run_finished usage = %+v ok=%v", usage, ok)
	}

	var sessionID, taskID string
	for _, ev := range events {
		if si, ok := ev.Session(); ok {
			sessionID, taskID = si.SessionID, si.TaskID
		}
	}
	if sessionID == "" || taskID == "" {
		t.Fatal("session_info not relayed")
	}

	// The persisted log holds the user triple plus everything but session_info.
	ctx := context.Background()
	stored, err := st.TaskEvents(ctx, taskID)
	if err != nil {
		t.Fatalf("TaskEvents failed: %v", err)
	}
	var types []event.Type
	for _, se := range stored {
		if se.Event.Type == event.Custom {
			t.Errorf("custom event persisted: %+v", se.Event)
		}
		types = append(types, se.Event.Type)
	}
	if types[0] != event.TextMessageStart || types[2] != event.TextMessageEnd {
		t.Errorf("user triple not first in log: %v", types)
	}
	for i, se := range stored {
		if se.Sequence != i {
			t.Errorf("sequence %d at position %d", se.Sequence, i)
		}
	}

	// Session is bound on the task row, not in the log.
	task, err := st.GetTask(ctx, taskID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if task.SessionID != sessionID {
		t.Errorf("bound session = %q, want %q", task.SessionID, sessionID)
	}

	// Legacy view folds to user + assistant.
	msgs, err := st.TaskMessages(ctx, taskID)
	if err != nil {
		t.Fatalf("TaskMessages failed: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Errorf("legacy messages = %+v", msgs)
	}
	if !strings.Contains(msgs[1].Content, "hello agent") {
		t.Errorf("assistant content = %q", msgs[1].Content)
	}
}

func TestSecondTurnContinuesSequence(t *testing.T) {
	_, st, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/response", map[string]string{"message": "first"})
	events := readSSE(t, resp)
	var taskID string
	for _, ev := range events {
		if si, ok := ev.Session(); ok {
			taskID = si.TaskID
		}
	}

	firstMax, _ := st.MaxSequence(context.Background(), taskID)

	resp = postJSON(t, ts.URL+"/api/v1/response", map[string]string{"message": "second", "task_id": taskID})
	readSSE(t, resp)

	secondMax, _ := st.MaxSequence(context.Background(), taskID)
	if secondMax <= firstMax {
		t.Errorf("sequence did not continue: %d then %d", firstMax, secondMax)
	}

	stored, _ := st.TaskEvents(context.Background(), taskID)
	for i, se := range stored {
		if se.Sequence != i {
			t.Fatalf("log has gaps or reordering at %d (seq %d)", i, se.Sequence)
		}
	}
}

func TestTurnWithUnknownTaskIs404(t *testing.T) {
	_, _, ts := newTestServer(t)
	resp := postJSON(t, ts.URL+"/api/v1/response", map[string]string{"message": "hi", "task_id": "task_missing"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestEmptyMessageRejected(t *testing.T) {
	_, _, ts := newTestServer(t)
	resp := postJSON(t, ts.URL+"/api/v1/response", map[string]string{"message": ""})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

// failingEngine emits nothing and fails.
type failingEngine struct{}

func (failingEngine) Run(ctx context.Context, turn Turn, emit EmitFunc) (*event.Usage, error) {
	return nil, errors.New("model exploded")
}

func TestEngineFailureEmitsRunErrorAndCleansEmptyTask(t *testing.T) {
	srv, st, ts := newTestServer(t)
	srv.WithEngine(failingEngine{})

	resp := postJSON(t, ts.URL+"/api/v1/response", map[string]string{"message": "boom"})
	events := readSSE(t, resp)

	var sawError bool
	for _, ev := range events {
		if ev.Type == event.RunError {
			sawError = true
			if ev.Code != "engine_error" {
				t.Errorf("error code = %q", ev.Code)
			}
		}
	}
	if !sawError {
		t.Error("run_error not relayed")
	}

	// The freshly created task produced nothing, so it was deleted.
	tasks, err := st.ListTasks(context.Background())
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("empty task kept: %+v", tasks)
	}
}

// toolEngine emits a tool call with a result.
type toolEngine struct{}

func (toolEngine) Run(ctx context.Context, turn Turn, emit EmitFunc) (*event.Usage, error) {
	events := []event.Event{
		{Type: event.ToolCallStart, ToolCallID: "t1", ToolCallName: "bash"},
		{Type: event.ToolCallArgs, ToolCallID: "t1", Delta: `{"cmd":"ls"}`},
		{Type: event.ToolCallEnd, ToolCallID: "t1"},
		{Type: event.ToolCallResult, ToolCallID: "t1", Content: "main.go", Role: "tool"},
	}
	for _, ev := range events {
		if err := emit(ev); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func TestToolResultGetsComponent(t *testing.T) {
	srv, _, ts := newTestServer(t)
	srv.WithEngine(toolEngine{})

	resp := postJSON(t, ts.URL+"/api/v1/response", map[string]string{"message": "run ls"})
	events := readSSE(t, resp)

	var comp *event.Event
	for i, ev := range events {
		if ev.Type == event.UIComponent {
			comp = &events[i]
		}
	}
	if comp == nil {
		t.Fatal("no ui_component synthesized for tool result")
	}
	if comp.ComponentType != "tool_result" || comp.ToolCallID != "t1" {
		t.Errorf("component = %+v", comp)
	}
}

func TestAuthMiddleware(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	defer st.Close()

	srv := NewServer(0, st).WithAuth(&AuthConfig{Enabled: true, Token: "secret"})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, _ := http.Get(ts.URL + "/api/v1/tasks")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/tasks", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, _ = http.DefaultClient.Do(req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("valid token status = %d, want 200", resp.StatusCode)
	}
}

func TestRateLimiting(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	defer st.Close()

	srv := NewServer(0, st).WithRateLimiter(NewRateLimiter(1, 2))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	var limited bool
	for i := 0; i < 5; i++ {
		resp, err := http.Get(ts.URL + "/api/v1/health")
		if err != nil {
			t.Fatalf("GET failed: %v", err)
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
		}
		resp.Body.Close()
	}
	if !limited {
		t.Error("burst of requests never rate limited")
	}
}

func TestTitleTruncation(t *testing.T) {
	long := strings.Repeat("x", MaxTitleLength+50)
	if got := truncateTitle(long); len(got) != MaxTitleLength {
		t.Errorf("truncated length = %d", len(got))
	}

	// Multibyte titles are cut on a rune boundary, never mid-character.
	wide := strings.Repeat("é", MaxTitleLength+50)
	got := truncateTitle(wide)
	if !utf8.ValidString(got) {
		t.Errorf("truncation split a rune: %q", got[len(got)-4:])
	}
	if n := utf8.RuneCountInString(got); n != MaxTitleLength {
		t.Errorf("rune count = %d, want %d", n, MaxTitleLength)
	}

	_, _, ts := newTestServer(t)
	resp := postJSON(t, ts.URL+"/api/v1/response", map[string]string{"message": fmt.Sprintf("%s tail", long)})
	events := readSSE(t, resp)
	if len(events) == 0 {
		t.Fatal("no events")
	}
}

func TestRateLimitRemainingHeader(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	defer st.Close()

	srv := NewServer(0, st).WithRateLimiter(NewRateLimiter(1, 5))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.Header.Get("X-RateLimit-Remaining") == "" {
		t.Error("X-RateLimit-Remaining header missing")
	}
}

func TestLimiterSwapStopsOldSweep(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	defer st.Close()

	srv := NewServer(0, st)
	old := NewRateLimiter(1, 2)
	srv.WithRateLimiter(old)

	replacement := NewRateLimiter(5, 10)
	srv.ApplyConfig(nil, replacement)
	defer replacement.Stop()

	// The swapped-out limiter's sweep channel is closed.
	select {
	case <-old.stop:
	default:
		t.Error("old limiter sweep not stopped after swap")
	}
	// Stop is idempotent.
	old.Stop()

	// The replacement still serves.
	if ok, _ := replacement.Allow("127.0.0.1"); !ok {
		t.Error("replacement limiter rejected first request")
	}
}

func TestFileUploadTreeAndContent(t *testing.T) {
	srv, _, ts := newTestServer(t)
	srv.WithFilesDir(t.TempDir())

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, _ := mw.CreateFormFile("file", "notes.txt")
	part.Write([]byte("line one\nline two\nline three\n"))
	mw.Close()

	resp, err := http.Post(ts.URL+"/api/v1/files/upload?subdirectory=docs", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	var up struct {
		Success      bool   `json:"success"`
		RelativePath string `json:"relative_path"`
		Size         int    `json:"size"`
		IsImage      bool   `json:"is_image"`
	}
	json.NewDecoder(resp.Body).Decode(&up)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !up.Success {
		t.Fatalf("upload status=%d body=%+v", resp.StatusCode, up)
	}
	if up.RelativePath != "docs/notes.txt" || up.IsImage {
		t.Errorf("upload response = %+v", up)
	}

	resp, _ = http.Get(ts.URL + "/api/v1/files/tree?directory=docs")
	var tree struct {
		Entries []fileTreeEntry `json:"entries"`
	}
	json.NewDecoder(resp.Body).Decode(&tree)
	resp.Body.Close()
	if len(tree.Entries) != 1 || tree.Entries[0].Name != "notes.txt" {
		t.Fatalf("tree = %+v", tree.Entries)
	}

	resp, _ = http.Get(ts.URL + "/api/v1/files/content/docs/notes.txt?max_lines=2")
	var content struct {
		Content   string `json:"content"`
		Lines     int    `json:"lines"`
		Truncated bool   `json:"truncated"`
	}
	json.NewDecoder(resp.Body).Decode(&content)
	resp.Body.Close()
	if content.Lines != 2 || !content.Truncated {
		t.Errorf("content = %+v", content)
	}
	if !strings.Contains(content.Content, "line one") {
		t.Errorf("content body = %q", content.Content)
	}
}

func TestFileUploadRejectsTraversal(t *testing.T) {
	srv, _, ts := newTestServer(t)
	srv.WithFilesDir(t.TempDir())

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, _ := mw.CreateFormFile("file", "evil.txt")
	part.Write([]byte("nope"))
	mw.Close()

	resp, err := http.Post(ts.URL+"/api/v1/files/upload?subdirectory=../outside",
		mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("traversal status = %d, want 400", resp.StatusCode)
	}
}

func TestDeleteTaskArchivesConversation(t *testing.T) {
	srv, _, ts := newTestServer(t)
	archive, err := store.NewArchive(t.TempDir())
	if err != nil {
		t.Fatalf("NewArchive failed: %v", err)
	}
	srv.WithArchive(archive)

	resp := postJSON(t, ts.URL+"/api/v1/response", map[string]string{"message": "remember me"})
	events := readSSE(t, resp)
	var taskID string
	for _, ev := range events {
		if si, ok := ev.Session(); ok {
			taskID = si.TaskID
		}
	}
	if taskID == "" {
		t.Fatal("no task created")
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/tasks/"+taskID, nil)
	resp, _ = http.DefaultClient.Do(req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}

	conv, err := archive.Load(taskID)
	if err != nil {
		t.Fatalf("deleted conversation not archived: %v", err)
	}
	if len(conv.Events) == 0 {
		t.Error("archived conversation has no events")
	}
}

// attachmentEngine records the attachment path it was handed.
type attachmentEngine struct {
	path chan string
}

func (e attachmentEngine) Run(ctx context.Context, turn Turn, emit EmitFunc) (*event.Usage, error) {
	e.path <- turn.AttachmentPath
	msgID := event.NewMessageID()
	for _, ev := range []event.Event{
		{Type: event.TextMessageStart, MessageID: msgID, Role: "assistant"},
		{Type: event.TextMessageContent, MessageID: msgID, Delta: "received"},
		{Type: event.TextMessageEnd, MessageID: msgID},
	} {
		if err := emit(ev); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func TestTurnAttachmentStoredAndHandedToEngine(t *testing.T) {
	srv, _, ts := newTestServer(t)
	dir := t.TempDir()
	eng := attachmentEngine{path: make(chan string, 1)}
	srv.WithFilesDir(dir).WithEngine(eng)

	resp := postJSON(t, ts.URL+"/api/v1/response", map[string]any{
		"message": "see attached",
		"attachment": map[string]any{
			"filename":  "report.csv",
			"mime_type": "text/csv",
			"data":      []byte("a,b\n1,2\n"),
		},
	})
	events := readSSE(t, resp)
	if len(events) == 0 {
		t.Fatal("no events relayed")
	}

	got := <-eng.path
	if got == "" {
		t.Fatal("engine received no attachment path")
	}
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(got)))
	if err != nil {
		t.Fatalf("stored attachment unreadable: %v", err)
	}
	if string(data) != "a,b\n1,2\n" {
		t.Errorf("stored attachment = %q", data)
	}
}
