// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// sessions_cmd.go - list and manage stored conversations.
package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/agentdeck/internal/agent"
	"github.com/jeranaias/agentdeck/internal/util"
)

// HandleSessions dispatches the sessions subcommands: list, delete, rename.
func HandleSessions(args Args) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	client := newClient(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sub := args.Subcommand
	if sub == "" {
		sub = "list"
	}

	switch sub {
	case "list", "ls":
		return listSessions(ctx, client, args.Quiet)

	case "delete", "rm":
		if len(args.Raw) == 0 {
			return fmt.Errorf("usage: agentdeck sessions delete <task-id>")
		}
		id := args.Raw[0]
		if err := client.DeleteTask(ctx, id); err != nil {
			return fmt.Errorf("delete task: %w", err)
		}
		if !args.Quiet {
			fmt.Printf("deleted %s\n", id)
		}
		return nil

	case "rename", "mv":
		if len(args.Raw) < 2 {
			return fmt.Errorf("usage: agentdeck sessions rename <task-id> <title>")
		}
		id := args.Raw[0]
		title := strings.Join(args.Raw[1:], " ")
		if err := client.RenameTask(ctx, id, title); err != nil {
			return fmt.Errorf("rename task: %w", err)
		}
		if !args.Quiet {
			fmt.Printf("renamed %s\n", id)
		}
		return nil

	default:
		return fmt.Errorf("unknown sessions subcommand %q (expected list, delete, or rename)", sub)
	}
}

func listSessions(ctx context.Context, client *agent.Client, quiet bool) error {
	tasks, err := client.ListTasks(ctx)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	if len(tasks) == 0 {
		if !quiet {
			fmt.Println("no conversations yet (start one with: agentdeck chat)")
		}
		return nil
	}

	if !quiet {
		fmt.Printf("%s  %s  %s\n",
			util.PadWidth("ID", 36),
			util.PadWidth("UPDATED", 16),
			"TITLE")
	}
	for _, t := range tasks {
		updated := t.UpdatedAt.Format("2006-01-02 15:04")
		title := util.TruncateWidth(t.Title, 60)
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("%s  %s  %s\n",
			util.PadWidth(t.ID, 36),
			util.PadWidth(updated, 16),
			title)
	}
	return nil
}
