// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the backend HTTP API: task CRUD, the persisted
// event log, and the streaming turn endpoint that relays engine events over
// SSE while persisting them.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/agentdeck/internal/event"
	"github.com/jeranaias/agentdeck/internal/store"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultPort is the default port for the HTTP server.
	DefaultPort = 8711

	// MaxRequestBodySize is the maximum size for request body to prevent DoS (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// MaxMessageLength is the maximum length for a user message.
	MaxMessageLength = 100000

	// MaxTitleLength is the maximum stored task title length.
	MaxTitleLength = 200

	// Version is the server version.
	Version = "0.2.0"
)

// ============================================================================
// SERVER STATS
// ============================================================================

// ServerStats tracks server usage statistics.
type ServerStats struct {
	TotalRequests int64     `json:"total_requests"`
	Turns         int64     `json:"turns"`
	EventsRelayed int64     `json:"events_relayed"`
	TotalTokens   int64     `json:"total_tokens"`
	StartTime     time.Time `json:"start_time"`
	mu            sync.Mutex
}

// NewServerStats creates a new ServerStats instance.
func NewServerStats() *ServerStats {
	return &ServerStats{StartTime: time.Now()}
}

// RecordTurn records one completed streaming turn.
func (s *ServerStats) RecordTurn(events int64, usage *event.Usage) {
	atomic.AddInt64(&s.Turns, 1)
	atomic.AddInt64(&s.EventsRelayed, events)
	if usage != nil {
		atomic.AddInt64(&s.TotalTokens, int64(usage.InputTokens+usage.OutputTokens))
	}
}

// GetStats returns a copy of the current stats.
func (s *ServerStats) GetStats() ServerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ServerStats{
		TotalRequests: atomic.LoadInt64(&s.TotalRequests),
		Turns:         atomic.LoadInt64(&s.Turns),
		EventsRelayed: atomic.LoadInt64(&s.EventsRelayed),
		TotalTokens:   atomic.LoadInt64(&s.TotalTokens),
		StartTime:     s.StartTime,
	}
}

// Uptime returns how long the server has been running.
func (s *ServerStats) Uptime() time.Duration {
	return time.Since(s.StartTime)
}

// ============================================================================
// SERVER
// ============================================================================

// Server is the backend HTTP API server.
type Server struct {
	port   int
	mux    *http.ServeMux
	server *http.Server

	store    *store.Store
	engine   Engine
	auth     *AuthConfig
	limiter  *RateLimiter
	stats    *ServerStats
	filesDir string
	archive  *store.Archive

	mu sync.RWMutex
}

// NewServer creates a Server on the given port backed by the given store.
// If port is 0, the default port (8711) is used.
func NewServer(port int, st *store.Store) *Server {
	if port == 0 {
		port = DefaultPort
	}
	s := &Server{
		port:     port,
		mux:      http.NewServeMux(),
		store:    st,
		engine:   NewEchoEngine(),
		auth:     DefaultAuthConfig(),
		limiter:  DefaultRateLimiter(),
		stats:    NewServerStats(),
		filesDir: defaultFilesDir(),
	}
	s.setupRoutes()
	return s
}

// WithEngine sets the engine that produces turn events.
func (s *Server) WithEngine(e Engine) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine = e
	return s
}

// WithAuth sets the authentication configuration.
func (s *Server) WithAuth(config *AuthConfig) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auth = config
	return s
}

// WithRateLimiter sets a custom rate limiter. The previous limiter's sweep
// goroutine is stopped.
func (s *Server) WithRateLimiter(rl *RateLimiter) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rl != nil && rl != s.limiter {
		s.limiter.Stop()
		s.limiter = rl
	}
	return s
}

// WithArchive enables JSON archiving of conversations before deletion.
func (s *Server) WithArchive(a *store.Archive) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archive = a
	return s
}

// WithFilesDir sets where uploaded files are stored.
func (s *Server) WithFilesDir(dir string) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dir != "" {
		s.filesDir = dir
	}
	return s
}

// Port returns the server port.
func (s *Server) Port() int {
	return s.port
}

// Handler returns the routed handler with the middleware chain applied.
// Exposed for tests driving the server through httptest.
func (s *Server) Handler() http.Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()

	handler := Chain(
		RecoveryMiddleware(),
		LoggingMiddleware(log.Default()),
		RateLimitMiddleware(s.limiter),
	)(s.mux)
	if s.auth != nil && s.auth.Enabled {
		handler = AuthMiddleware(s.auth)(handler)
	}
	return handler
}

// ApplyConfig swaps auth and rate-limit settings at runtime (config reload).
// A replaced limiter has its sweep goroutine stopped.
func (s *Server) ApplyConfig(auth *AuthConfig, rl *RateLimiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if auth != nil {
		s.auth = auth
	}
	if rl != nil && rl != s.limiter {
		s.limiter.Stop()
		s.limiter = rl
	}
}

// ============================================================================
// ROUTES
// ============================================================================

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("POST /api/v1/response", s.handleResponse)

	s.mux.HandleFunc("GET /api/v1/tasks", s.handleListTasks)
	s.mux.HandleFunc("POST /api/v1/tasks", s.handleCreateTask)
	s.mux.HandleFunc("GET /api/v1/tasks/{id}", s.handleGetTask)
	s.mux.HandleFunc("PATCH /api/v1/tasks/{id}", s.handleRenameTask)
	s.mux.HandleFunc("DELETE /api/v1/tasks/{id}", s.handleDeleteTask)
	s.mux.HandleFunc("GET /api/v1/tasks/{id}/events", s.handleTaskEvents)
	s.mux.HandleFunc("GET /api/v1/tasks/{id}/messages", s.handleTaskMessages)

	s.mux.HandleFunc("POST /api/v1/files/upload", s.handleFileUpload)
	s.mux.HandleFunc("GET /api/v1/files/tree", s.handleFileTree)
	s.mux.HandleFunc("GET /api/v1/files/content/{path...}", s.handleFileContent)

	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/stats", s.handleStats)
}

// ============================================================================
// TASK HANDLERS
// ============================================================================

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&s.stats.TotalRequests, 1)
	tasks, err := s.store.ListTasks(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list tasks")
		return
	}
	if tasks == nil {
		tasks = []store.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&s.stats.TotalRequests, 1)
	var req struct {
		Title string `json:"title"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request format")
		return
	}
	task, err := s.store.CreateTask(r.Context(), truncateTitle(req.Title))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create task")
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&s.stats.TotalRequests, 1)
	task, err := s.store.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleRenameTask(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&s.stats.TotalRequests, 1)
	var req struct {
		Title string `json:"title"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" {
		writeError(w, http.StatusBadRequest, "Title is required")
		return
	}
	if err := s.store.RenameTask(r.Context(), r.PathValue("id"), truncateTitle(req.Title)); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&s.stats.TotalRequests, 1)
	id := r.PathValue("id")
	if s.archive != nil {
		// Best effort: a failed archive never blocks the delete.
		if err := s.archive.ArchiveTask(r.Context(), s.store, id); err != nil && !errors.Is(err, store.ErrTaskNotFound) {
			log.Printf("ARCHIVE_FAILED | task=%s err=%v", id, err)
		}
	}
	if err := s.store.DeleteTask(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&s.stats.TotalRequests, 1)
	id := r.PathValue("id")
	if _, err := s.store.GetTask(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	events, err := s.store.TaskEvents(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load events")
		return
	}
	if events == nil {
		events = []store.StoredEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleTaskMessages(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&s.stats.TotalRequests, 1)
	id := r.PathValue("id")
	if _, err := s.store.GetTask(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	msgs, err := s.store.TaskMessages(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load messages")
		return
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": Version,
		"uptime":  s.stats.Uptime().String(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.GetStats())
}

// ============================================================================
// STREAMING TURN HANDLER
// ============================================================================

// turnAttachment is a file riding along with a turn request. Data arrives
// base64-encoded in the JSON body.
type turnAttachment struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type,omitempty"`
	Data     []byte `json:"data"`
}

// turnRequest is the body of POST /api/v1/response.
type turnRequest struct {
	Message    string          `json:"message"`
	TaskID     string          `json:"task_id,omitempty"`
	SessionID  string          `json:"session_id,omitempty"`
	Attachment *turnAttachment `json:"attachment,omitempty"`
}

// handleResponse runs one conversation turn: it resolves (or creates) the
// task, persists the user message triple, relays engine events over SSE
// while appending them to the task's log, and closes the run.
func (s *Server) handleResponse(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&s.stats.TotalRequests, 1)
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request format")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "Message is required")
		return
	}
	if len(req.Message) > MaxMessageLength {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("Message exceeds maximum length of %d", MaxMessageLength))
		return
	}

	var attachmentPath string
	if req.Attachment != nil {
		if len(req.Attachment.Data) > MaxUploadSize {
			writeError(w, http.StatusBadRequest, "Attachment too large")
			return
		}
		rel, err := s.saveUploadedFile(req.Attachment.Filename, req.Attachment.Data, "uploads")
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to store attachment")
			return
		}
		attachmentPath = rel
		log.Printf("ATTACHMENT_STORED | path=%s size=%d", rel, len(req.Attachment.Data))
	}

	task, created, err := s.resolveTask(ctx, req)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	seq, err := s.store.MaxSequence(ctx, task.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read event log")
		return
	}
	nextSeq := func() int {
		seq++
		return seq
	}

	relay := func(ev event.Event) error {
		data, err := ev.Encode()
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}
	persist := func(ev event.Event) error {
		return s.store.SaveEvent(ctx, task.ID, ev, nextSeq())
	}

	// The client already echoed the user message locally, so the triple is
	// persisted for replay but not relayed back.
	for _, ev := range event.UserMessageTriple(event.NewMessageID(), req.Message) {
		if err := persist(ev); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to persist message")
			return
		}
	}

	runID := "run_" + uuid.NewString()
	started := event.NewRunStarted(task.ID, runID)
	if err := persist(started); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to persist run")
		return
	}
	relay(started)

	var (
		engineEvents int64
		sessionSent  bool
	)
	emit := func(ev event.Event) error {
		if si, ok := ev.Session(); ok {
			// Session identity is relayed once and never persisted; the
			// binding lives on the task row instead.
			if sessionSent {
				return nil
			}
			sessionSent = true
			if err := s.store.BindSession(ctx, task.ID, si.SessionID); err != nil {
				log.Printf("SESSION_BIND_FAILED | task=%s err=%v", task.ID, err)
			}
			return relay(event.NewSessionInfo(si.SessionID, task.ID))
		}

		engineEvents++
		if err := persist(ev); err != nil {
			return err
		}
		if err := relay(ev); err != nil {
			return err
		}
		if ev.Type == event.ToolCallResult {
			// Tool results get a synthesized UI card so clients render them
			// without the engine emitting UI events itself.
			comp := event.NewToolResultComponent(ev.ToolCallID, ev.Content, ev.IsError)
			if err := persist(comp); err != nil {
				return err
			}
			return relay(comp)
		}
		return nil
	}

	turn := Turn{TaskID: task.ID, SessionID: req.SessionID, Message: req.Message, AttachmentPath: attachmentPath}
	usage, engErr := s.engine.Run(ctx, turn, emit)

	switch {
	case engErr != nil && ctx.Err() != nil:
		// Client cancelled; whatever was persisted stands.
		log.Printf("TURN_CANCELLED | task=%s run=%s events=%d", task.ID, runID, engineEvents)
	case engErr != nil:
		log.Printf("TURN_FAILED | task=%s run=%s err=%v", task.ID, runID, engErr)
		errEv := event.NewRunError("The agent failed to produce a response", "engine_error")
		persist(errEv)
		relay(errEv)
	default:
		var result json.RawMessage
		if usage != nil {
			result, _ = json.Marshal(event.FinishedResult{Usage: usage})
		}
		finished := event.NewRunFinished(task.ID, runID, result)
		if err := persist(finished); err == nil {
			relay(finished)
		}
		s.store.TouchTask(ctx, task.ID)
	}

	// A task created for this turn that produced nothing is not worth
	// keeping in the list.
	if created && engineEvents == 0 {
		if err := s.store.DeleteTask(context.WithoutCancel(ctx), task.ID); err == nil {
			log.Printf("TASK_DELETED_EMPTY | task=%s", task.ID)
		}
	}

	s.stats.RecordTurn(engineEvents, usage)
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// resolveTask finds the conversation a turn belongs to, creating one when
// the request names neither a task nor a known session.
func (s *Server) resolveTask(ctx context.Context, req turnRequest) (store.Task, bool, error) {
	if req.TaskID != "" {
		task, err := s.store.GetTask(ctx, req.TaskID)
		return task, false, err
	}
	if req.SessionID != "" {
		task, err := s.store.FindTaskBySession(ctx, req.SessionID)
		if err == nil {
			return task, false, nil
		}
		if !errors.Is(err, store.ErrTaskNotFound) {
			return store.Task{}, false, err
		}
	}
	task, err := s.store.CreateTask(ctx, truncateTitle(req.Message))
	return task, true, err
}

// truncateTitle caps a title at MaxTitleLength runes, never splitting a
// multibyte character.
func truncateTitle(title string) string {
	if len(title) <= MaxTitleLength {
		return title
	}
	runes := []rune(title)
	if len(runes) <= MaxTitleLength {
		return title
	}
	return string(runes[:MaxTitleLength])
}

// ============================================================================
// LIFECYCLE
// ============================================================================

// Start begins serving on the loopback interface. Blocks until shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.port)
	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: turn streams are long-lived and context-bounded.
		IdleTimeout: 120 * time.Second,
	}
	log.Printf("SERVER_START | addr=%s version=%s", addr, Version)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	log.Printf("SERVER_SHUTDOWN | starting graceful shutdown")
	return s.server.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    status,
		},
	})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrTaskNotFound) {
		writeError(w, http.StatusNotFound, "Task not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "Storage failure")
}
