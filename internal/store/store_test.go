// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/agentdeck/internal/event"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "agentdeck.db"))
	require.NoError(t, err, "Open failed")
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTaskCRUD(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, "debug the parser")
	require.NoError(t, err)
	require.NotEmpty(t, task.ID)

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, "debug the parser", got.Title)

	require.NoError(t, s.RenameTask(ctx, task.ID, "parser fix"))
	got, err = s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, "parser fix", got.Title)

	tasks, err := s.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	require.NoError(t, s.DeleteTask(ctx, task.ID))
	_, err = s.GetTask(ctx, task.ID)
	require.ErrorIs(t, err, ErrTaskNotFound)
	require.ErrorIs(t, s.DeleteTask(ctx, task.ID), ErrTaskNotFound)
}

func TestEmptyTitleGetsDefault(t *testing.T) {
	s := openTestStore(t)
	task, err := s.CreateTask(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "New conversation", task.Title)
}

func TestEventLogRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, "chat")
	require.NoError(t, err)

	max, err := s.MaxSequence(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, -1, max, "empty log should report -1")

	triple := event.UserMessageTriple("msg_1", "hello")
	for i, ev := range triple {
		require.NoError(t, s.SaveEvent(ctx, task.ID, ev, i))
	}
	require.NoError(t, s.SaveEvent(ctx, task.ID, event.NewRunStarted("t", "r"), 3))

	max, err = s.MaxSequence(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, 3, max)

	events, err := s.TaskEvents(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, events, 4)
	require.Equal(t, event.TextMessageStart, events[0].Event.Type)
	require.Equal(t, "hello", events[1].Event.Delta)
	require.Equal(t, event.RunStarted, events[3].Event.Type)
	for i, se := range events {
		require.Equal(t, i, se.Sequence, "sequence order broken at %d", i)
	}
}

func TestDeleteCascadesEvents(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, "short lived")
	require.NoError(t, err)
	require.NoError(t, s.SaveEvent(ctx, task.ID, event.NewRunStarted("t", "r"), 0))
	require.NoError(t, s.DeleteTask(ctx, task.ID))

	n, err := s.CountEvents(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, 0, n, "events survived task deletion")
}

func TestBindSessionFirstWriterWins(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, "chat")
	require.NoError(t, err)

	require.NoError(t, s.BindSession(ctx, task.ID, "sess_1"))
	require.NoError(t, s.BindSession(ctx, task.ID, "sess_2"))

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, "sess_1", got.SessionID, "rebind overwrote session")

	found, err := s.FindTaskBySession(ctx, "sess_1")
	require.NoError(t, err)
	require.Equal(t, task.ID, found.ID)

	_, err = s.FindTaskBySession(ctx, "sess_missing")
	require.True(t, errors.Is(err, ErrTaskNotFound))
}

func TestTaskMessagesLegacyView(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, "chat")
	require.NoError(t, err)

	log := []event.Event{
		{Type: event.TextMessageStart, MessageID: "u1", Role: "user"},
		{Type: event.TextMessageContent, MessageID: "u1", Delta: "hi"},
		{Type: event.TextMessageEnd, MessageID: "u1"},
		{Type: event.TextMessageStart, MessageID: "a1", Role: "assistant"},
		{Type: event.TextMessageContent, MessageID: "a1", Delta: "hello "},
		{Type: event.TextMessageContent, MessageID: "a1", Delta: "there"},
		{Type: event.TextMessageEnd, MessageID: "a1"},
	}
	seq := 0
	for _, ev := range log {
		require.NoError(t, s.SaveEvent(ctx, task.ID, ev, seq))
		if ev.Type == event.TextMessageStart {
			seq++
		}
	}

	msgs, err := s.TaskMessages(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "user", msgs[0].Role)
	require.Equal(t, "hi", msgs[0].Content)
	require.Equal(t, "hello there", msgs[1].Content)
}

func TestReopenPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentdeck.db")

	s, err := Open(path)
	require.NoError(t, err)
	task, err := s.CreateTask(context.Background(), "persistent")
	require.NoError(t, err)
	require.NoError(t, s.SaveEvent(context.Background(), task.ID, event.NewRunStarted("t", "r"), 0))
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	require.Equal(t, "persistent", got.Title)
	events, err := s2.TaskEvents(context.Background(), task.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
}
