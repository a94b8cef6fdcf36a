// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/jeranaias/agentdeck/internal/timeline"
)

// =============================================================================
// HTML EXPORTER
// =============================================================================

// HTMLExporter exports conversations to a standalone HTML page with
// embedded CSS.
type HTMLExporter struct {
	options *Options
}

// NewHTMLExporter creates a new HTML exporter.
func NewHTMLExporter(opts *Options) *HTMLExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &HTMLExporter{options: opts}
}

// Export converts a conversation to HTML format.
func (e *HTMLExporter) Export(conv *Conversation) ([]byte, error) {
	if conv == nil {
		return nil, fmt.Errorf("conversation is nil")
	}
	if len(conv.Timeline.Groups) == 0 {
		return nil, fmt.Errorf("conversation has no messages")
	}

	var sb strings.Builder

	sb.WriteString("<!DOCTYPE html>\n")
	sb.WriteString("<html lang=\"en\">\n")
	sb.WriteString("<head>\n")
	sb.WriteString("    <meta charset=\"UTF-8\">\n")
	sb.WriteString("    <meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
	sb.WriteString(fmt.Sprintf("    <title>%s</title>\n", html.EscapeString(conv.Task.Title)))
	sb.WriteString("    <meta name=\"generator\" content=\"agentdeck\">\n")
	sb.WriteString(fmt.Sprintf("    <meta name=\"date\" content=\"%s\">\n",
		conv.Task.CreatedAt.Format(time.RFC3339)))
	sb.WriteString(e.getCSS())
	sb.WriteString("</head>\n")
	sb.WriteString(fmt.Sprintf("<body class=\"%s-theme\">\n", e.options.Theme))
	sb.WriteString("    <div class=\"container\">\n")

	if e.options.IncludeMetadata {
		sb.WriteString(e.renderHeader(conv))
	}

	sb.WriteString("        <main class=\"conversation\">\n")
	for _, g := range conv.Timeline.Groups {
		sb.WriteString(e.renderGroup(&g))
	}
	if conv.Timeline.ErrorMsg != "" {
		sb.WriteString(fmt.Sprintf("            <div class=\"message error-message\"><div class=\"content\">%s</div></div>\n",
			html.EscapeString(conv.Timeline.ErrorMsg)))
	}
	sb.WriteString("        </main>\n")

	sb.WriteString("        <footer class=\"footer\">\n")
	sb.WriteString(fmt.Sprintf("            <p>Exported from <strong>agentdeck</strong> on %s</p>\n",
		time.Now().Format("January 2, 2006 at 3:04 PM")))
	sb.WriteString("        </footer>\n")
	sb.WriteString("    </div>\n")
	sb.WriteString("</body>\n")
	sb.WriteString("</html>\n")

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for HTML.
func (e *HTMLExporter) FileExtension() string {
	return ".html"
}

// MimeType returns the MIME type for HTML.
func (e *HTMLExporter) MimeType() string {
	return "text/html"
}

// =============================================================================
// RENDERING FUNCTIONS
// =============================================================================

// renderHeader renders the header section with metadata.
func (e *HTMLExporter) renderHeader(conv *Conversation) string {
	var sb strings.Builder

	sb.WriteString("        <header class=\"header\">\n")
	sb.WriteString(fmt.Sprintf("            <h1>%s</h1>\n", html.EscapeString(conv.Task.Title)))
	sb.WriteString("            <div class=\"metadata\">\n")
	sb.WriteString(fmt.Sprintf("                <span class=\"meta-item\"><strong>Created:</strong> %s</span>\n",
		formatTimestamp(conv.Task.CreatedAt.Unix())))
	sb.WriteString(fmt.Sprintf("                <span class=\"meta-item\"><strong>Events:</strong> %d</span>\n",
		len(conv.Events)))
	if conv.State.HasUsage {
		sb.WriteString(fmt.Sprintf("                <span class=\"meta-item\"><strong>Tokens:</strong> %d</span>\n",
			conv.State.Usage.InputTokens+conv.State.Usage.OutputTokens))
	}
	sb.WriteString("            </div>\n")
	sb.WriteString("        </header>\n")

	return sb.String()
}

// renderGroup renders one transcript turn.
func (e *HTMLExporter) renderGroup(g *timeline.Group) string {
	var sb strings.Builder

	switch g.Kind {
	case timeline.GroupUser:
		sb.WriteString("            <div class=\"message user-message\">\n")
		sb.WriteString("                <div class=\"role-label\">User</div>\n")
		if g.User != nil {
			sb.WriteString(fmt.Sprintf("                <div class=\"content\">%s</div>\n",
				renderText(g.User.Content())))
		}
		sb.WriteString("            </div>\n")

	case timeline.GroupAssistant, timeline.GroupThinkingPending:
		sb.WriteString("            <div class=\"message assistant-message\">\n")
		sb.WriteString("                <div class=\"role-label\">Assistant</div>\n")

		if e.options.IncludeThinking {
			for _, tb := range g.Thinking {
				content := strings.TrimSpace(tb.Content())
				if content == "" {
					continue
				}
				sb.WriteString("                <details class=\"thinking\"><summary>Thinking</summary>\n")
				sb.WriteString(fmt.Sprintf("                    <div class=\"content\">%s</div>\n",
					renderText(content)))
				sb.WriteString("                </details>\n")
			}
		}

		for _, tc := range g.ToolCalls {
			sb.WriteString("                <div class=\"tool-call\">\n")
			sb.WriteString(fmt.Sprintf("                    <div class=\"tool-name\">%s</div>\n",
				html.EscapeString(tc.Name)))
			if args := strings.TrimSpace(tc.Args()); args != "" {
				sb.WriteString(fmt.Sprintf("                    <pre class=\"tool-args\">%s</pre>\n",
					html.EscapeString(args)))
			}
			if tc.Result != "" {
				class := "tool-result"
				if tc.IsError {
					class = "tool-result tool-error"
				}
				sb.WriteString(fmt.Sprintf("                    <pre class=\"%s\">%s</pre>\n",
					class, html.EscapeString(strings.TrimSpace(tc.Result))))
			}
			sb.WriteString("                </div>\n")
		}

		if g.Assistant != nil {
			if content := strings.TrimSpace(g.Assistant.Content()); content != "" {
				sb.WriteString(fmt.Sprintf("                <div class=\"content\">%s</div>\n",
					renderText(content)))
			}
		}
		sb.WriteString("            </div>\n")
	}

	return sb.String()
}

// renderText escapes text and converts fenced code blocks and line breaks
// to HTML. Full markdown rendering is left to the Markdown export.
func renderText(s string) string {
	var sb strings.Builder
	inCode := false

	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			if inCode {
				sb.WriteString("</code></pre>\n")
			} else {
				sb.WriteString("<pre><code>")
			}
			inCode = !inCode
			continue
		}
		if inCode {
			sb.WriteString(html.EscapeString(line))
			sb.WriteString("\n")
		} else {
			sb.WriteString(html.EscapeString(line))
			sb.WriteString("<br>\n")
		}
	}
	if inCode {
		sb.WriteString("</code></pre>\n")
	}

	return sb.String()
}

// =============================================================================
// STYLING
// =============================================================================

// getCSS returns the embedded stylesheet for both themes.
func (e *HTMLExporter) getCSS() string {
	return `    <style>
        :root { --max-width: 860px; }
        .dark-theme {
            --bg: #1a1b26; --fg: #c0caf5; --muted: #565f89;
            --user-bg: #24283b; --assistant-bg: #1f2335;
            --accent: #7aa2f7; --border: #3b4261; --error: #f7768e;
        }
        .light-theme {
            --bg: #fafafa; --fg: #24292f; --muted: #6e7781;
            --user-bg: #eef1f5; --assistant-bg: #ffffff;
            --accent: #0969da; --border: #d0d7de; --error: #cf222e;
        }
        * { box-sizing: border-box; margin: 0; padding: 0; }
        body {
            background: var(--bg); color: var(--fg);
            font-family: -apple-system, "Segoe UI", Roboto, sans-serif;
            line-height: 1.6; padding: 2rem 1rem;
        }
        .container { max-width: var(--max-width); margin: 0 auto; }
        .header { margin-bottom: 2rem; border-bottom: 1px solid var(--border); padding-bottom: 1rem; }
        .header h1 { font-size: 1.5rem; margin-bottom: 0.5rem; }
        .metadata { display: flex; flex-wrap: wrap; gap: 1rem; color: var(--muted); font-size: 0.85rem; }
        .message { border: 1px solid var(--border); border-radius: 8px; padding: 1rem; margin-bottom: 1rem; }
        .user-message { background: var(--user-bg); }
        .assistant-message { background: var(--assistant-bg); }
        .error-message { background: var(--assistant-bg); border-color: var(--error); color: var(--error); }
        .role-label { font-weight: 600; color: var(--accent); font-size: 0.8rem; text-transform: uppercase; margin-bottom: 0.5rem; }
        .thinking { color: var(--muted); font-style: italic; margin-bottom: 0.75rem; }
        .thinking summary { cursor: pointer; font-style: normal; font-size: 0.85rem; }
        .tool-call { border-left: 3px solid var(--accent); padding-left: 0.75rem; margin-bottom: 0.75rem; }
        .tool-name { font-family: monospace; font-weight: 600; font-size: 0.9rem; }
        .tool-error { border-left: 3px solid #c0392b; }
        pre { background: rgba(128, 128, 128, 0.12); border-radius: 6px; padding: 0.75rem; overflow-x: auto; margin: 0.5rem 0; font-size: 0.85rem; }
        .footer { margin-top: 2rem; border-top: 1px solid var(--border); padding-top: 1rem; color: var(--muted); font-size: 0.85rem; text-align: center; }
    </style>
`
}
