// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat_cmd.go - the full-screen TUI command.
package cli

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/agentdeck/internal/ui/chat"
	"github.com/jeranaias/agentdeck/internal/ui/styles"
)

// HandleChat starts the full-screen chat TUI.
func HandleChat(args Args) error {
	if !IsTTY() {
		return fmt.Errorf("the chat TUI requires an interactive terminal; try 'agentdeck repl' or pipe-friendly commands")
	}

	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	client := newClient(cfg)
	model := chat.New(client, cfg, styles.NewTheme())

	// Resume a conversation before entering the event loop so the first
	// frame already shows the transcript.
	if args.TaskID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := model.Driver().LoadConversation(ctx, args.TaskID)
		cancel()
		if err != nil {
			return fmt.Errorf("open conversation %s: %w", args.TaskID, err)
		}
	}

	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("chat UI failed: %w", err)
	}
	return nil
}
