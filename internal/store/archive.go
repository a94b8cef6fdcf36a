// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jeranaias/agentdeck/internal/util"
)

// =============================================================================
// CONVERSATION ARCHIVE
// =============================================================================

// ErrArchiveNotFound is returned when no archived conversation has the id.
var ErrArchiveNotFound = errors.New("archived conversation not found")

// ArchivedConversation is the JSON shape of one archived conversation: the
// task row, its folded message view, and the full event log.
type ArchivedConversation struct {
	ID         string        `json:"id"`
	Title      string        `json:"title"`
	SessionID  string        `json:"session_id,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
	ArchivedAt time.Time     `json:"archived_at"`
	Messages   []Message     `json:"messages"`
	Events     []StoredEvent `json:"events"`
}

// Archive writes one JSON file per conversation. Deleted conversations are
// archived here first so the data survives outside the database.
type Archive struct {
	dir string
}

// NewArchive creates an archive rooted at dir.
func NewArchive(dir string) (*Archive, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Archive{dir: dir}, nil
}

// Dir returns the archive root.
func (a *Archive) Dir() string {
	return a.dir
}

func (a *Archive) filePath(id string) string {
	return filepath.Join(a.dir, id+".json")
}

// Save writes the conversation atomically. An existing archive for the same
// id is replaced.
func (a *Archive) Save(conv *ArchivedConversation) error {
	if conv.ID == "" {
		return errors.New("archive: conversation has no id")
	}
	if conv.ArchivedAt.IsZero() {
		conv.ArchivedAt = time.Now()
	}
	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return err
	}
	return util.AtomicWriteFile(a.filePath(conv.ID), data, 0o644)
}

// Load reads one archived conversation back.
func (a *Archive) Load(id string) (*ArchivedConversation, error) {
	data, err := os.ReadFile(a.filePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrArchiveNotFound
		}
		return nil, err
	}
	var conv ArchivedConversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// List returns the archived conversation ids, most recently archived first.
func (a *Archive) List() ([]string, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return nil, err
	}
	type row struct {
		id  string
		mod time.Time
	}
	var rows []row
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		r := row{id: strings.TrimSuffix(e.Name(), ".json")}
		if info, err := e.Info(); err == nil {
			r.mod = info.ModTime()
		}
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].mod.After(rows[j].mod) })
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.id
	}
	return ids, nil
}

// ArchiveTask snapshots a task out of the store into the archive. Call this
// before DeleteTask to keep a JSON copy of the conversation.
func (a *Archive) ArchiveTask(ctx context.Context, s *Store, taskID string) error {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	events, err := s.TaskEvents(ctx, taskID)
	if err != nil {
		return err
	}
	msgs, err := s.TaskMessages(ctx, taskID)
	if err != nil {
		return err
	}
	return a.Save(&ArchivedConversation{
		ID:        task.ID,
		Title:     task.Title,
		SessionID: task.SessionID,
		CreatedAt: task.CreatedAt,
		UpdatedAt: task.UpdatedAt,
		Messages:  msgs,
		Events:    events,
	})
}
