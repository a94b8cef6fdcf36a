// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the agentdeck command-line interface.
//
// Commands:
//
//	chat       Interactive terminal chat UI (default)
//	repl       Line-oriented chat for dumb terminals
//	serve      Run the backend server
//	sessions   List, rename, and delete stored conversations
//	export     Write a conversation to markdown, HTML, or JSON
//	doctor     Run system health checks
//	version    Print version information
//
// Parse turns os.Args into an Args value and Run dispatches it to the
// matching Handle* function. Each handler loads configuration itself so
// commands stay independently testable.
package cli
