// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/agentdeck/internal/runstate"
	"github.com/jeranaias/agentdeck/internal/timeline"
	"github.com/jeranaias/agentdeck/internal/ui/components"
	"github.com/jeranaias/agentdeck/internal/util"
)

// =============================================================================
// VIEW
// =============================================================================

// View renders the full chat screen.
func (m Model) View() string {
	if !m.ready {
		return "Starting agentdeck..."
	}

	var sections []string
	sections = append(sections, m.renderHeader())

	if m.showPicker {
		sections = append(sections, m.renderPicker())
	} else {
		sections = append(sections, m.viewport.View())
	}

	sections = append(sections, m.renderInput())
	sections = append(sections, m.renderStatusBar())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderHeader renders the title line with session identity.
func (m Model) renderHeader() string {
	title := m.theme.HeaderTitle.Render("agentdeck")

	var meta string
	if taskID := m.driver.TaskID(); taskID != "" {
		meta = m.theme.HeaderMeta.Render("  " + util.TruncateRunes(taskID, 24))
	}
	return m.theme.Header.Width(m.width).Render(title + meta)
}

// renderInput renders the message input area.
func (m Model) renderInput() string {
	return m.theme.InputContainer.Width(m.width).Render(m.input.View())
}

// renderStatusBar renders the bottom status line with shortcuts.
func (m Model) renderStatusBar() string {
	if m.statusMsg != "" {
		return m.theme.StatusBar.Width(m.width).Render(
			util.TruncateWidth(m.statusMsg, m.width-2))
	}

	var parts []string
	if m.state == StateStreaming {
		parts = append(parts, m.theme.StatusActive.Render(m.spinner.View()+" streaming"))
	}
	for _, s := range m.keyMap.helpLine(m.state == StateStreaming) {
		parts = append(parts,
			m.theme.ShortcutKey.Render(s.key)+m.theme.ShortcutDesc.Render(" "+s.desc))
	}
	return m.theme.StatusBar.Width(m.width).Render(strings.Join(parts, "  "))
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

// renderTranscript projects the session state and renders every turn.
func (m Model) renderTranscript() string {
	tl := timeline.Project(m.driver.State())
	if len(tl.Groups) == 0 {
		return m.renderWelcome()
	}

	var sb strings.Builder
	for _, g := range tl.Groups {
		sb.WriteString(m.renderGroup(&g, tl.Running))
		sb.WriteString("\n")
	}

	if tl.ErrorMsg != "" {
		sb.WriteString(m.theme.ErrorBox.Render(
			m.theme.ErrorTitle.Render("Run failed") + "\n" + tl.ErrorMsg))
		sb.WriteString("\n")
	}

	return sb.String()
}

// renderGroup renders one transcript turn.
func (m Model) renderGroup(g *timeline.Group, running bool) string {
	switch g.Kind {
	case timeline.GroupUser:
		if g.User == nil {
			return ""
		}
		bubble := m.theme.UserBubble.MaxWidth(m.width - 4).Render(g.User.Content())
		return lipgloss.PlaceHorizontal(m.width, lipgloss.Right, bubble) + "\n"

	case timeline.GroupAssistant:
		return m.renderAssistantGroup(g, running)

	case timeline.GroupThinkingPending:
		var sb strings.Builder
		sb.WriteString(m.theme.AssistantLabel.Render("Assistant") + "\n")
		for _, tb := range g.Thinking {
			sb.WriteString(m.renderThinking(tb, running))
		}
		if running {
			sb.WriteString(m.theme.ThinkingActive.Render(m.spinner.View()+" thinking...") + "\n")
		}
		return sb.String()
	}
	return ""
}

// renderAssistantGroup renders an assistant turn with its thinking, tool
// activity, components, and message text.
func (m Model) renderAssistantGroup(g *timeline.Group, running bool) string {
	var sb strings.Builder
	sb.WriteString(m.theme.AssistantLabel.Render("Assistant") + "\n")

	for _, tb := range g.Thinking {
		sb.WriteString(m.renderThinking(tb, running))
	}

	for _, tc := range g.ToolCalls {
		sb.WriteString(m.renderToolCall(tc))
	}

	for _, c := range g.Components {
		if rendered := components.RenderComponent(c, m.theme, m.width-4); rendered != "" {
			sb.WriteString(rendered + "\n")
		}
	}

	if g.Assistant != nil {
		if content := strings.TrimSpace(g.Assistant.Content()); content != "" {
			sb.WriteString(m.renderAssistantText(content))
		} else if g.Assistant.Streaming {
			sb.WriteString(m.theme.ThinkingActive.Render(m.spinner.View()) + "\n")
		}
	}

	return sb.String()
}

// renderAssistantText renders message text as markdown when enabled, with
// chroma-highlighted code blocks otherwise.
func (m Model) renderAssistantText(content string) string {
	if m.useMarkdown {
		return m.theme.AssistantBubble.MaxWidth(m.width - 2).Render(
			strings.TrimRight(m.markdown.Render(content), "\n"))
	}
	highlighted := components.ParseCodeBlocks(content, m.width-6, m.syntaxTheme)
	return m.theme.AssistantBubble.MaxWidth(m.width - 2).Render(highlighted)
}

// renderThinking renders one reasoning block.
func (m Model) renderThinking(tb *runstate.ThinkingBlock, running bool) string {
	if !m.showThink {
		return ""
	}
	content := strings.TrimSpace(tb.Content())
	if content == "" {
		if tb.Streaming && running {
			return m.theme.ThinkingActive.Render(m.spinner.View()+" thinking...") + "\n"
		}
		return ""
	}

	label := m.theme.ThinkingLabel.Render("Thinking")
	if tb.Streaming && running {
		label = m.theme.ThinkingLabel.Render("Thinking " + m.spinner.View())
	}
	return label + "\n" + m.theme.ThinkingText.MaxWidth(m.width-4).Render(content) + "\n"
}

// renderToolCall renders one tool invocation with its status and result.
func (m Model) renderToolCall(tc *runstate.ToolCall) string {
	var sb strings.Builder

	status := m.theme.ToolPending.Render("[ ]")
	switch tc.Status {
	case runstate.ToolComplete:
		status = m.theme.ToolPending.Render("[~]")
	case runstate.ToolResulted:
		if tc.IsError {
			status = m.theme.ErrorTitle.Render("[ERR]")
		} else {
			status = m.theme.ToolName.Render("[OK]")
		}
	}

	sb.WriteString(status + " " + m.theme.ToolName.Render(tc.Name))
	if args := strings.TrimSpace(tc.Args()); args != "" {
		sb.WriteString(" " + m.theme.ToolResult.Render(util.TruncateWidth(args, m.width/2)))
	}
	sb.WriteString("\n")

	if tc.Result != "" {
		result := util.TruncateRunes(strings.TrimSpace(tc.Result), 500)
		style := m.theme.ToolResult
		if tc.IsError {
			style = m.theme.ErrorTitle
		}
		sb.WriteString(style.Render(result) + "\n")
	}

	return m.theme.ToolCall.MaxWidth(m.width - 2).Render(sb.String()) + "\n"
}

// renderWelcome renders the empty-conversation screen.
func (m Model) renderWelcome() string {
	lines := []string{
		m.theme.HeaderTitle.Render("agentdeck"),
		"",
		m.theme.WelcomeInfo.Render("Type a message and press " +
			m.theme.WelcomeKey.Render("enter") + " to start."),
		m.theme.WelcomeInfo.Render(m.theme.WelcomeKey.Render("ctrl+o") +
			" opens a previous conversation."),
	}
	box := m.theme.WelcomeBox.Render(strings.Join(lines, "\n"))
	return lipgloss.Place(m.width, m.viewport.Height, lipgloss.Center, lipgloss.Center, box)
}

// =============================================================================
// CONVERSATION PICKER
// =============================================================================

// renderPicker renders the conversation picker overlay.
func (m Model) renderPicker() string {
	var sb strings.Builder
	sb.WriteString(m.theme.PickerTitle.Render("Conversations") + "\n\n")

	if len(m.tasks) == 0 {
		sb.WriteString(m.theme.PickerMeta.Render("No saved conversations."))
	}

	for i, task := range m.tasks {
		title := util.TruncateWidth(task.Title, m.width-30)
		line := fmt.Sprintf("%s  %s", util.PadWidth(title, m.width-30),
			m.theme.PickerMeta.Render(util.TruncateRunes(task.ID, 16)))
		if i == m.pickerIndex {
			sb.WriteString(m.theme.PickerItemSelected.Render(line))
		} else {
			sb.WriteString(m.theme.PickerItem.Render(line))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("\n" + m.theme.PickerMeta.Render("enter open | d delete | esc close"))

	box := m.theme.PickerBox.Width(m.width - 4).Render(sb.String())
	return lipgloss.Place(m.width, m.viewport.Height, lipgloss.Center, lipgloss.Center, box)
}
