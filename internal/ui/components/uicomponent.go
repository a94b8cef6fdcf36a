// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/jeranaias/agentdeck/internal/runstate"
	"github.com/jeranaias/agentdeck/internal/ui/styles"
)

// =============================================================================
// UI COMPONENT RENDERER
// =============================================================================

// RenderComponent renders a live UI component for the transcript. Tool
// result components show their content directly; anything else falls back
// to a generic property listing so unknown component types stay visible.
func RenderComponent(c *runstate.Component, theme *styles.Theme, maxWidth int) string {
	if c == nil || c.Removed {
		return ""
	}

	var body string
	switch c.Type {
	case "tool_result":
		body = renderToolResultProps(c.Props)
	default:
		body = renderGenericProps(c.Type, c.Props)
	}
	if body == "" {
		return ""
	}

	return theme.ComponentBox.MaxWidth(maxWidth).Render(body)
}

// renderToolResultProps extracts the content field of a tool result. Failed
// results carry a visible marker.
func renderToolResultProps(props json.RawMessage) string {
	var p struct {
		Content string `json:"content"`
		IsError bool   `json:"is_error"`
	}
	if err := json.Unmarshal(props, &p); err != nil || p.Content == "" {
		return ""
	}
	if p.IsError {
		return "[error] " + strings.TrimSpace(p.Content)
	}
	return strings.TrimSpace(p.Content)
}

// renderGenericProps renders arbitrary component props as key/value lines.
func renderGenericProps(componentType string, props json.RawMessage) string {
	var values map[string]any
	if err := json.Unmarshal(props, &values); err != nil {
		return componentType
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(componentType)
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("\n%s: %v", k, values[k]))
	}
	return sb.String()
}
