// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/agentdeck/internal/timeline"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports conversations to Markdown format.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// Export converts a conversation to Markdown format.
func (e *MarkdownExporter) Export(conv *Conversation) ([]byte, error) {
	if conv == nil {
		return nil, fmt.Errorf("conversation is nil")
	}
	if len(conv.Timeline.Groups) == 0 {
		return nil, fmt.Errorf("conversation has no messages")
	}

	var sb strings.Builder

	// YAML frontmatter with metadata
	if e.options.IncludeMetadata {
		sb.WriteString("---\n")
		sb.WriteString(fmt.Sprintf("title: %s\n", escapeYAML(conv.Task.Title)))
		sb.WriteString(fmt.Sprintf("task: %s\n", conv.Task.ID))
		if conv.State.SessionID != "" {
			sb.WriteString(fmt.Sprintf("session: %s\n", conv.State.SessionID))
		}
		sb.WriteString(fmt.Sprintf("date: %s\n", conv.Task.CreatedAt.Format(time.RFC3339)))
		sb.WriteString(fmt.Sprintf("updated: %s\n", conv.Task.UpdatedAt.Format(time.RFC3339)))
		sb.WriteString(fmt.Sprintf("events: %d\n", len(conv.Events)))
		if conv.State.HasUsage {
			sb.WriteString(fmt.Sprintf("tokens: %d\n", conv.State.Usage.InputTokens+conv.State.Usage.OutputTokens))
		}
		sb.WriteString(fmt.Sprintf("exported: %s\n", time.Now().Format(time.RFC3339)))
		sb.WriteString("generator: agentdeck\n")
		sb.WriteString("---\n\n")
	}

	sb.WriteString(fmt.Sprintf("# %s\n\n", escapeMarkdown(conv.Task.Title)))

	if e.options.IncludeMetadata {
		sb.WriteString("## Session Information\n\n")
		sb.WriteString(fmt.Sprintf("- **Created**: %s\n", formatTimestamp(conv.Task.CreatedAt.Unix())))
		sb.WriteString(fmt.Sprintf("- **Last Updated**: %s\n", formatTimestamp(conv.Task.UpdatedAt.Unix())))
		sb.WriteString(fmt.Sprintf("- **Events**: %d\n", len(conv.Events)))
		if conv.State.HasUsage {
			sb.WriteString(fmt.Sprintf("- **Input Tokens**: %d\n", conv.State.Usage.InputTokens))
			sb.WriteString(fmt.Sprintf("- **Output Tokens**: %d\n", conv.State.Usage.OutputTokens))
			if conv.State.Usage.TotalCost > 0 {
				sb.WriteString(fmt.Sprintf("- **Cost**: $%.4f\n", conv.State.Usage.TotalCost))
			}
		}
		sb.WriteString("\n---\n\n")
	}

	sb.WriteString("## Conversation\n\n")

	for i, g := range conv.Timeline.Groups {
		e.writeGroup(&sb, &g)
		if i < len(conv.Timeline.Groups)-1 {
			sb.WriteString("---\n\n")
		}
	}

	if conv.Timeline.ErrorMsg != "" {
		sb.WriteString(fmt.Sprintf("> **Error**: %s\n\n", conv.Timeline.ErrorMsg))
	}

	sb.WriteString("\n---\n\n")
	sb.WriteString(fmt.Sprintf("*Exported from agentdeck on %s*\n",
		time.Now().Format("January 2, 2006 at 3:04 PM")))

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}

// =============================================================================
// FORMATTING HELPERS
// =============================================================================

// writeGroup renders one transcript turn.
func (e *MarkdownExporter) writeGroup(sb *strings.Builder, g *timeline.Group) {
	switch g.Kind {
	case timeline.GroupUser:
		sb.WriteString("### User\n\n")
		if g.User != nil {
			sb.WriteString(strings.TrimSpace(g.User.Content()))
			sb.WriteString("\n\n")
		}

	case timeline.GroupAssistant, timeline.GroupThinkingPending:
		sb.WriteString("### Assistant\n\n")

		if e.options.IncludeThinking {
			for _, tb := range g.Thinking {
				content := strings.TrimSpace(tb.Content())
				if content == "" {
					continue
				}
				sb.WriteString("<details>\n<summary>Thinking</summary>\n\n")
				sb.WriteString(content)
				sb.WriteString("\n\n</details>\n\n")
			}
		}

		for _, tc := range g.ToolCalls {
			sb.WriteString(fmt.Sprintf("**Tool**: `%s`\n\n", tc.Name))
			if args := strings.TrimSpace(tc.Args()); args != "" {
				sb.WriteString("**Input**:\n```json\n")
				sb.WriteString(args)
				sb.WriteString("\n```\n\n")
			}
			if tc.Result != "" {
				label := "**Result**"
				if tc.IsError {
					label = "**Result (error)**"
				}
				sb.WriteString(label + ":\n```\n")
				sb.WriteString(strings.TrimSpace(tc.Result))
				sb.WriteString("\n```\n\n")
			}
		}

		if g.Assistant != nil {
			if content := strings.TrimSpace(g.Assistant.Content()); content != "" {
				sb.WriteString(content)
				sb.WriteString("\n\n")
			}
		}
	}
}

// =============================================================================
// ESCAPING HELPERS
// =============================================================================

// escapeMarkdown escapes characters that would break formatting in headings.
func escapeMarkdown(s string) string {
	s = strings.ReplaceAll(s, "#", "\\#")
	s = strings.ReplaceAll(s, "*", "\\*")
	s = strings.ReplaceAll(s, "_", "\\_")
	s = strings.ReplaceAll(s, "[", "\\[")
	s = strings.ReplaceAll(s, "]", "\\]")
	return s
}

// escapeYAML escapes special YAML characters in values.
func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":#|>@`\"'[]{}!%&*\n\r\\") || strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") {
		s = strings.ReplaceAll(s, "\\", "\\\\")
		s = strings.ReplaceAll(s, "\"", "\\\"")
		s = strings.ReplaceAll(s, "\n", "\\n")
		s = strings.ReplaceAll(s, "\r", "\\r")
		return fmt.Sprintf("\"%s\"", s)
	}
	return s
}
