// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/agentdeck/internal/agent"
	"github.com/jeranaias/agentdeck/internal/export"
	"github.com/jeranaias/agentdeck/internal/store"
)

// =============================================================================
// MESSAGES
// =============================================================================

// StreamMsg wraps one driver message delivered by the background stream.
type StreamMsg struct {
	Msg agent.Msg
}

// StreamTickMsg paces transcript re-rendering during streaming.
type StreamTickMsg struct {
	Time time.Time
}

// TasksLoadedMsg carries the task list for the conversation picker.
type TasksLoadedMsg struct {
	Tasks []store.Task
	Err   error
}

// TaskDeletedMsg reports a deletion made from the picker.
type TaskDeletedMsg struct {
	TaskID string
	Err    error
}

// ConversationLoadedMsg reports a replay of a persisted conversation.
type ConversationLoadedMsg struct {
	TaskID string
	Err    error
}

// ExportDoneMsg reports the result of a conversation export.
type ExportDoneMsg struct {
	Path string
	Err  error
}

// statusExpiredMsg clears a transient status line.
type statusExpiredMsg struct{}

// =============================================================================
// COMMANDS
// =============================================================================

// listenCmd waits for the next driver message. It re-arms itself from
// Update after every received message.
func listenCmd(d *agent.Driver) tea.Cmd {
	return func() tea.Msg {
		m, ok := <-d.Events()
		if !ok {
			return nil
		}
		return StreamMsg{Msg: m}
	}
}

// streamTickCmd schedules the next render frame while streaming.
func streamTickCmd() tea.Cmd {
	return tea.Tick(33*time.Millisecond, func(t time.Time) tea.Msg {
		return StreamTickMsg{Time: t}
	})
}

// loadTasksCmd fetches the task list for the picker.
func loadTasksCmd(client *agent.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		tasks, err := client.ListTasks(ctx)
		return TasksLoadedMsg{Tasks: tasks, Err: err}
	}
}

// deleteTaskCmd deletes a task from the picker.
func deleteTaskCmd(client *agent.Client, taskID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := client.DeleteTask(ctx, taskID)
		return TaskDeletedMsg{TaskID: taskID, Err: err}
	}
}

// loadConversationCmd replays a persisted conversation into the driver.
func loadConversationCmd(d *agent.Driver, taskID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := d.LoadConversation(ctx, taskID)
		return ConversationLoadedMsg{TaskID: taskID, Err: err}
	}
}

// exportCmd fetches the current conversation and writes a Markdown export.
func exportCmd(client *agent.Client, taskID, outputDir string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		task, err := client.GetTask(ctx, taskID)
		if err != nil {
			return ExportDoneMsg{Err: err}
		}
		events, err := client.GetTaskEvents(ctx, taskID)
		if err != nil {
			return ExportDoneMsg{Err: err}
		}

		opts := export.DefaultOptions()
		if outputDir != "" {
			opts.OutputDir = outputDir
		}
		path, err := export.ExportMarkdown(export.Build(task, events), opts)
		return ExportDoneMsg{Path: path, Err: err}
	}
}

// clearStatusCmd expires the status line after a short delay.
func clearStatusCmd() tea.Cmd {
	return tea.Tick(4*time.Second, func(time.Time) tea.Msg {
		return statusExpiredMsg{}
	})
}
