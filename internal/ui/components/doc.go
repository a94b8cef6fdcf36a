// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package components provides rendering components for the agentdeck TUI.
//
// # Key Types
//
//   - MarkdownRenderer: glamour-backed markdown rendering with width caching
//   - CodeBlock: chroma syntax highlighting for fenced code blocks
//   - RenderComponent: transcript rendering for live UI components
//
// Components are pure render helpers; all interactive state lives in the
// chat model.
package components
