// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - CLI parsing and command dispatch for agentdeck.
package cli

import (
	"fmt"
	"os"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.2.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdChat     Command = iota // Full-screen TUI (default)
	CmdRepl                    // Line-based REPL
	CmdServe                   // Run the backend server
	CmdSessions                // Conversation management
	CmdExport                  // Export a conversation
	CmdDoctor                  // System diagnostics
	CmdVersion
	CmdHelp
)

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	Quiet      bool
	ConfigPath string
	ServerURL  string

	// Command-specific
	TaskID     string
	Format     string
	OutputDir  string
	Port       int
	Subcommand string

	// Raw args remaining after flag parsing
	Raw []string

	// Options holds command-specific named options
	Options map[string]string
}

const usageText = `agentdeck - terminal client and backend for streaming agent sessions

Agentdeck talks to an agent backend over a typed event protocol and keeps
every conversation replayable from its persisted event log.

Usage:
  agentdeck                       Start the chat TUI (default)
  agentdeck chat [--task ID]      Start the chat TUI, optionally resuming a task
  agentdeck repl                  Line-based chat with input history
  agentdeck serve [--port N]      Run the backend server
  agentdeck sessions [subcommand] Conversation management
  agentdeck export <task-id>      Export a conversation
  agentdeck doctor                System diagnostics
  agentdeck version               Show version information

Session Commands:
  agentdeck sessions list             List saved conversations
  agentdeck sessions delete <id>      Delete a conversation
  agentdeck sessions rename <id> <title>  Rename a conversation

Export Commands:
  agentdeck export <task-id>          Export to Markdown (default)
    --format markdown|html|json       Export format
    --output DIR                      Output directory (default: config export dir)

Global Flags:
  --config PATH                   Use an alternate config file
  --server URL                    Override the backend URL
  --quiet                         Suppress non-essential output

Configuration is read from ~/.agentdeck/config.toml and can be overridden
with AGENTDECK_* environment variables.

Version: %s
`

// PrintUsage prints the usage/help text.
func PrintUsage() {
	fmt.Printf(usageText, Version)
}

// PrintVersion prints version information.
func PrintVersion() {
	fmt.Printf("agentdeck version %s\n", Version)
	fmt.Printf("  Git commit: %s\n", GitCommit)
	fmt.Printf("  Build date: %s\n", BuildDate)
}

// Parse parses command-line arguments and returns the command and args.
func Parse() (Command, Args) {
	return parseArgs(os.Args[1:])
}

// parseArgs is the testable core of Parse.
func parseArgs(argv []string) (Command, Args) {
	remaining, args := parseGlobalFlags(argv)

	if len(remaining) == 0 {
		return CmdChat, args
	}

	cmd := strings.ToLower(remaining[0])
	remaining = remaining[1:]
	args.Raw = remaining

	switch cmd {
	case "chat", "tui":
		parseChatArgs(&args, remaining)
		return CmdChat, args

	case "repl":
		return CmdRepl, args

	case "serve", "server":
		parseServeArgs(&args, remaining)
		return CmdServe, args

	case "sessions", "session":
		if len(remaining) > 0 {
			args.Subcommand = remaining[0]
			args.Raw = remaining[1:]
		}
		return CmdSessions, args

	case "export":
		parseExportArgs(&args, remaining)
		return CmdExport, args

	case "doctor":
		return CmdDoctor, args

	case "version", "-v", "--version":
		return CmdVersion, args

	case "help", "-h", "--help":
		return CmdHelp, args

	default:
		// Unknown command defaults to the TUI
		args.Raw = append([]string{cmd}, remaining...)
		return CmdChat, args
	}
}

// Run dispatches a parsed command.
func Run(cmd Command, args Args) error {
	switch cmd {
	case CmdChat:
		return HandleChat(args)
	case CmdRepl:
		return HandleRepl(args)
	case CmdServe:
		return HandleServe(args)
	case CmdSessions:
		return HandleSessions(args)
	case CmdExport:
		return HandleExport(args)
	case CmdDoctor:
		return HandleDoctor(args)
	case CmdVersion:
		PrintVersion()
		return nil
	case CmdHelp:
		PrintUsage()
		return nil
	default:
		PrintUsage()
		return fmt.Errorf("unknown command")
	}
}
