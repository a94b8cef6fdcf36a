// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the chat view for the agentdeck TUI.
package chat

import (
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/agentdeck/internal/agent"
	"github.com/jeranaias/agentdeck/internal/config"
	"github.com/jeranaias/agentdeck/internal/store"
	"github.com/jeranaias/agentdeck/internal/ui/components"
	"github.com/jeranaias/agentdeck/internal/ui/styles"
)

// =============================================================================
// CHAT STATE
// =============================================================================

// State represents the current state of the chat view.
type State int

const (
	StateReady     State = iota // Ready for input
	StateStreaming              // Receiving a streamed turn
	StateError                  // Showing a turn error
)

// =============================================================================
// CHAT MODEL
// =============================================================================

// Model is the Bubble Tea model for the chat view.
type Model struct {
	// State
	state State

	// Styling
	theme *styles.Theme

	// Dimensions
	width  int
	height int
	ready  bool

	// Session driver and backend client
	driver *agent.Driver
	client *agent.Client

	// Rendering
	markdown    *components.MarkdownRenderer
	gate        *RenderGate
	useMarkdown bool
	showThink   bool
	syntaxTheme string
	exportDir   string

	// UI components
	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model

	// Key bindings
	keyMap KeyMap

	// Conversation picker overlay
	showPicker  bool
	tasks       []store.Task
	pickerIndex int

	// Transient status line
	statusMsg string
}

// New creates a new chat model bound to a backend client.
func New(client *agent.Client, cfg *config.Config, theme *styles.Theme) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Type a message..."
	ti.CharLimit = 4096
	ti.Focus()

	vp := viewport.New(80, 20)
	vp.SetContent("")

	sp := spinner.New()
	sp.Spinner = spinner.Spinner{
		Frames: []string{"|", "/", "-", "\\"},
		FPS:    spinner.Line.FPS,
	}
	sp.Style = theme.Spinner

	return Model{
		state:       StateReady,
		theme:       theme,
		driver:      agent.NewDriver(client),
		client:      client,
		markdown:    components.NewMarkdownRenderer(76),
		gate:        NewRenderGate(),
		useMarkdown: cfg.UI.Markdown,
		showThink:   cfg.UI.ShowThinking,
		syntaxTheme: cfg.UI.SyntaxTheme,
		exportDir:   cfg.UI.ExportDir,
		viewport:    vp,
		input:       ti,
		spinner:     sp,
		keyMap:      DefaultKeyMap(),
	}
}

// Driver exposes the session driver, used by tests and by callers that
// preload a conversation before starting the program.
func (m *Model) Driver() *agent.Driver {
	return m.driver
}

// Init starts the spinner, cursor blink, and the driver event listener.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, listenCmd(m.driver))
}

// =============================================================================
// UPDATE
// =============================================================================

// Update handles incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleResize(msg)

	case tea.KeyMsg:
		return m.handleKey(msg)

	case StreamMsg:
		return m.handleStream(msg)

	case StreamTickMsg:
		if m.gate.ShouldRender() {
			m.refreshTranscript()
		}
		if m.state == StateStreaming {
			return m, streamTickCmd()
		}
		return m, nil

	case TasksLoadedMsg:
		if msg.Err != nil {
			return m.setStatus("Could not load conversations: " + msg.Err.Error())
		}
		m.tasks = msg.Tasks
		if m.pickerIndex >= len(m.tasks) {
			m.pickerIndex = 0
		}
		return m, nil

	case TaskDeletedMsg:
		if msg.Err != nil {
			return m.setStatus("Delete failed: " + msg.Err.Error())
		}
		return m, loadTasksCmd(m.client)

	case ConversationLoadedMsg:
		if msg.Err != nil {
			return m.setStatus("Could not open conversation: " + msg.Err.Error())
		}
		m.state = StateReady
		m.refreshTranscript()
		m.viewport.GotoBottom()
		return m, nil

	case ExportDoneMsg:
		if msg.Err != nil {
			return m.setStatus("Export failed: " + msg.Err.Error())
		}
		return m.setStatus("Exported to " + msg.Path)

	case statusExpiredMsg:
		m.statusMsg = ""
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// handleResize adapts the layout to a new terminal size.
func (m Model) handleResize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height
	m.theme.SetSize(msg.Width, msg.Height)

	headerHeight := 2
	inputHeight := 3
	statusHeight := 1
	m.viewport.Width = msg.Width
	m.viewport.Height = msg.Height - headerHeight - inputHeight - statusHeight
	if m.viewport.Height < 3 {
		m.viewport.Height = 3
	}
	m.input.Width = msg.Width - 6
	m.markdown.SetWidth(msg.Width - 8)

	m.ready = true
	m.refreshTranscript()
	return m, nil
}

// handleKey dispatches keyboard input.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	if m.showPicker {
		return m.handlePickerKey(key)
	}

	switch key {
	case m.keyMap.Quit:
		return m, tea.Quit

	case m.keyMap.Stop:
		if m.state == StateStreaming {
			m.driver.Stop()
			m.state = StateReady
			m.refreshTranscriptForced()
			return m.setStatus("Stopped")
		}
		return m, nil

	case m.keyMap.Send:
		return m.sendMessage()

	case m.keyMap.NewConv:
		m.driver.NewConversation()
		m.state = StateReady
		m.refreshTranscriptForced()
		return m.setStatus("New conversation")

	case m.keyMap.Picker:
		m.showPicker = true
		m.pickerIndex = 0
		return m, loadTasksCmd(m.client)

	case m.keyMap.Export:
		if m.driver.TaskID() == "" {
			return m.setStatus("Nothing to export yet")
		}
		return m, exportCmd(m.client, m.driver.TaskID(), m.exportDir)

	case m.keyMap.PageUp:
		m.viewport.HalfViewUp()
		return m, nil

	case m.keyMap.PageDown:
		m.viewport.HalfViewDown()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// handlePickerKey handles keys while the conversation picker is open.
func (m Model) handlePickerKey(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "esc", m.keyMap.Picker:
		m.showPicker = false
		return m, nil

	case "up", "k":
		if m.pickerIndex > 0 {
			m.pickerIndex--
		}
		return m, nil

	case "down", "j":
		if m.pickerIndex < len(m.tasks)-1 {
			m.pickerIndex++
		}
		return m, nil

	case "enter":
		if m.pickerIndex < len(m.tasks) {
			task := m.tasks[m.pickerIndex]
			m.showPicker = false
			return m, loadConversationCmd(m.driver, task.ID)
		}
		return m, nil

	case "d":
		if m.pickerIndex < len(m.tasks) {
			return m, deleteTaskCmd(m.client, m.tasks[m.pickerIndex].ID)
		}
		return m, nil

	case m.keyMap.Quit:
		return m, tea.Quit
	}
	return m, nil
}

// sendMessage submits the input line to the driver.
func (m Model) sendMessage() (tea.Model, tea.Cmd) {
	text := m.input.Value()
	if strings.TrimSpace(text) == "" {
		return m, nil
	}

	if err := m.driver.SendMessage(text); err != nil {
		switch {
		case errors.Is(err, agent.ErrBusy):
			return m.setStatus("A response is still streaming; press esc to stop it")
		case errors.Is(err, agent.ErrEmptyMessage):
			return m, nil
		default:
			return m.setStatus("Send failed: " + err.Error())
		}
	}

	m.input.Reset()
	m.state = StateStreaming
	m.refreshTranscriptForced()
	m.viewport.GotoBottom()
	return m, streamTickCmd()
}

// handleStream feeds a driver message into the session state.
func (m Model) handleStream(msg StreamMsg) (tea.Model, tea.Cmd) {
	accepted := m.driver.HandleMsg(msg.Msg)

	// Always keep listening, even for discarded stale messages.
	cmds := []tea.Cmd{listenCmd(m.driver)}

	if accepted {
		if msg.Msg.Done {
			if err := m.driver.LastError(); err != nil {
				m.state = StateError
			} else {
				m.state = StateReady
			}
			m.refreshTranscriptForced()
			m.viewport.GotoBottom()
		} else {
			m.state = StateStreaming
			m.gate.Mark()
		}
	}

	return m, tea.Batch(cmds...)
}

// setStatus shows a transient status line.
func (m Model) setStatus(text string) (tea.Model, tea.Cmd) {
	m.statusMsg = text
	return m, clearStatusCmd()
}

// refreshTranscript re-renders the viewport if the gate allows it.
func (m *Model) refreshTranscript() {
	m.viewport.SetContent(m.renderTranscript())
	if m.state == StateStreaming {
		m.viewport.GotoBottom()
	}
	m.gate.Rendered()
}

// refreshTranscriptForced re-renders regardless of throttling.
func (m *Model) refreshTranscriptForced() {
	m.gate.Force()
	m.refreshTranscript()
}
