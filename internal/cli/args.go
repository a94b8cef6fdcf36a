// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// args.go - flag parsing helpers for agentdeck commands.
package cli

import "strconv"

// parseGlobalFlags extracts global flags and returns the remaining args.
func parseGlobalFlags(argv []string) ([]string, Args) {
	var remaining []string
	args := Args{Options: make(map[string]string)}

	i := 0
	for i < len(argv) {
		arg := argv[i]
		switch arg {
		case "--quiet", "-q":
			args.Quiet = true
		case "--config":
			if i+1 < len(argv) {
				i++
				args.ConfigPath = argv[i]
			}
		case "--server":
			if i+1 < len(argv) {
				i++
				args.ServerURL = argv[i]
			}
		default:
			remaining = append(remaining, arg)
		}
		i++
	}

	return remaining, args
}

// parseChatArgs parses chat-specific flags.
func parseChatArgs(args *Args, remaining []string) {
	for i := 0; i < len(remaining); i++ {
		switch remaining[i] {
		case "--task":
			if i+1 < len(remaining) {
				i++
				args.TaskID = remaining[i]
			}
		}
	}
}

// parseServeArgs parses serve-specific flags.
func parseServeArgs(args *Args, remaining []string) {
	for i := 0; i < len(remaining); i++ {
		switch remaining[i] {
		case "--port", "-p":
			if i+1 < len(remaining) {
				i++
				if port, err := strconv.Atoi(remaining[i]); err == nil {
					args.Port = port
				}
			}
		}
	}
}

// parseExportArgs parses the export task id and flags.
func parseExportArgs(args *Args, remaining []string) {
	for i := 0; i < len(remaining); i++ {
		switch remaining[i] {
		case "--format", "-f":
			if i+1 < len(remaining) {
				i++
				args.Format = remaining[i]
			}
		case "--output", "-o":
			if i+1 < len(remaining) {
				i++
				args.OutputDir = remaining[i]
			}
		default:
			if args.TaskID == "" {
				args.TaskID = remaining[i]
			}
		}
	}
	if args.Format == "" {
		args.Format = "markdown"
	}
}
