// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/agentdeck/internal/event"
	"github.com/jeranaias/agentdeck/internal/runstate"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrTaskNotFound  = errors.New("task not found")
	ErrDatabaseError = errors.New("database error")
)

// =============================================================================
// TYPES
// =============================================================================

// Task is one conversation's metadata row.
type Task struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	SessionID string    `json:"session_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StoredEvent is one persisted protocol event with its log position.
type StoredEvent struct {
	ID       int64       `json:"id"`
	TaskID   string      `json:"task_id"`
	Event    event.Event `json:"event"`
	Sequence int         `json:"sequence"`
	CreatedAt time.Time  `json:"created_at"`
}

// Message is the legacy flat view of a conversation, derived from the event
// log for clients that predate event replay.
type Message struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Store wraps the SQLite database holding tasks and events.
type Store struct {
	db   *sql.DB
	path string
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Open opens (creating if needed) the task database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	// Single-writer keeps the driver's locking simple.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if _, err := db.Exec(
		`INSERT OR IGNORE INTO metadata (key, value) VALUES ('schema_version', ?)`,
		strconv.Itoa(SchemaVersion),
	); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	return &Store{db: db, path: path}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// =============================================================================
// TASKS
// =============================================================================

// CreateTask inserts a new task with a generated identifier.
func (s *Store) CreateTask(ctx context.Context, title string) (Task, error) {
	if title == "" {
		title = "New conversation"
	}
	now := time.Now()
	t := Task{
		ID:        "task_" + uuid.NewString(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, title, session_id, created_at, updated_at) VALUES (?, ?, '', ?, ?)`,
		t.ID, t.Title, now.Unix(), now.Unix())
	if err != nil {
		return Task{}, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return t, nil
}

// GetTask loads one task by id.
func (s *Store) GetTask(ctx context.Context, id string) (Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, session_id, created_at, updated_at FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

// FindTaskBySession resolves a task by the agent session bound to it.
func (s *Store) FindTaskBySession(ctx context.Context, sessionID string) (Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, session_id, created_at, updated_at FROM tasks WHERE session_id = ?
		 ORDER BY updated_at DESC LIMIT 1`, sessionID)
	return scanTask(row)
}

func scanTask(row *sql.Row) (Task, error) {
	var t Task
	var created, updated int64
	err := row.Scan(&t.ID, &t.Title, &t.SessionID, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrTaskNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	t.CreatedAt = time.Unix(created, 0)
	t.UpdatedAt = time.Unix(updated, 0)
	return t, nil
}

// ListTasks returns all tasks, most recently updated first.
func (s *Store) ListTasks(ctx context.Context) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, session_id, created_at, updated_at FROM tasks ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		var created, updated int64
		if err := rows.Scan(&t.ID, &t.Title, &t.SessionID, &created, &updated); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		t.CreatedAt = time.Unix(created, 0)
		t.UpdatedAt = time.Unix(updated, 0)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// DeleteTask removes a task and, via cascade, its event log.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	if n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// BindSession records the agent session a task belongs to. First writer wins;
// rebinding to a different session is allowed only if none was set.
func (s *Store) BindSession(ctx context.Context, taskID, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET session_id = ?, updated_at = ? WHERE id = ? AND session_id = ''`,
		sessionID, time.Now().Unix(), taskID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}

// RenameTask updates a task's title.
func (s *Store) RenameTask(ctx context.Context, id, title string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET title = ?, updated_at = ? WHERE id = ?`, title, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// TouchTask bumps a task's updated_at so it sorts to the top of the list.
func (s *Store) TouchTask(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET updated_at = ? WHERE id = ?`, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}

// =============================================================================
// EVENTS
// =============================================================================

// SaveEvent appends one event to a task's log at the given sequence.
func (s *Store) SaveEvent(ctx context.Context, taskID string, ev event.Event, sequence int) error {
	data, err := ev.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (task_id, event_type, event_data, sequence, created_at) VALUES (?, ?, ?, ?, ?)`,
		taskID, string(ev.Type), string(data), sequence, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}

// TaskEvents returns a task's full event log in sequence order. Events that
// no longer decode are skipped rather than failing the whole load.
func (s *Store) TaskEvents(ctx context.Context, taskID string) ([]StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_data, sequence, created_at FROM events
		 WHERE task_id = ? ORDER BY sequence ASC, id ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	var out []StoredEvent
	for rows.Next() {
		var (
			id      int64
			data    string
			seq     int
			created int64
		)
		if err := rows.Scan(&id, &data, &seq, &created); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		ev, err := event.Decode([]byte(data))
		if err != nil {
			continue
		}
		out = append(out, StoredEvent{
			ID: id, TaskID: taskID, Event: ev, Sequence: seq, CreatedAt: time.Unix(created, 0),
		})
	}
	return out, rows.Err()
}

// MaxSequence returns the highest sequence persisted for a task, or -1 when
// the log is empty.
func (s *Store) MaxSequence(ctx context.Context, taskID string) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM events WHERE task_id = ?`, taskID).Scan(&max)
	if err != nil {
		return -1, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	if !max.Valid {
		return -1, nil
	}
	return int(max.Int64), nil
}

// CountEvents returns the number of events in a task's log.
func (s *Store) CountEvents(ctx context.Context, taskID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE task_id = ?`, taskID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return n, nil
}

// TaskMessages folds a task's event log into the flat legacy message list.
func (s *Store) TaskMessages(ctx context.Context, taskID string) ([]Message, error) {
	stored, err := s.TaskEvents(ctx, taskID)
	if err != nil {
		return nil, err
	}
	rs := runstate.New()
	for _, se := range stored {
		rs.ApplyAt(se.Event, se.Sequence)
	}
	var out []Message
	for _, m := range rs.Messages() {
		out = append(out, Message{ID: m.ID, Role: m.Role, Content: m.Content()})
	}
	return out, nil
}
