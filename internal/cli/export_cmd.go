// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// export_cmd.go - conversation export command.
package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jeranaias/agentdeck/internal/agent"
	"github.com/jeranaias/agentdeck/internal/export"
)

// HandleExport writes a stored conversation to a file in the requested format.
func HandleExport(args Args) error {
	if args.TaskID == "" {
		return fmt.Errorf("export requires a task ID (try: agentdeck sessions list)")
	}

	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	client := newClient(cfg)

	outputDir := args.OutputDir
	if outputDir == "" {
		outputDir = cfg.UI.ExportDir
	}

	path, err := exportConversation(client, args.TaskID, args.Format, outputDir)
	if err != nil {
		return err
	}

	if !args.Quiet {
		fmt.Printf("exported to %s\n", path)
	}
	return nil
}

// exportConversation fetches a task and its event log and writes the
// rendered file. Shared with the REPL /export command.
func exportConversation(client *agent.Client, taskID, format, outputDir string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	task, err := client.GetTask(ctx, taskID)
	if err != nil {
		return "", fmt.Errorf("fetch task: %w", err)
	}
	events, err := client.GetTaskEvents(ctx, taskID)
	if err != nil {
		return "", fmt.Errorf("fetch events: %w", err)
	}

	conv := export.Build(task, events)

	opts := export.DefaultOptions()
	if outputDir != "" {
		opts.OutputDir = outputDir
	}
	exporter, err := export.ByFormat(format, opts)
	if err != nil {
		return "", err
	}
	return export.ExportToFile(conv, exporter, opts)
}
