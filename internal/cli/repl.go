// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// repl.go - line-based chat with input history.
package cli

import (
	"context"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/peterh/liner"

	"github.com/jeranaias/agentdeck/internal/agent"
	"github.com/jeranaias/agentdeck/internal/config"
	"github.com/jeranaias/agentdeck/internal/event"
	"github.com/jeranaias/agentdeck/internal/util"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// replInput provides line editing and persistent input history.
type replInput struct {
	line        *liner.State
	historyFile string
}

// newReplInput creates the liner-backed input reader.
func newReplInput() *replInput {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}

	r := &replInput{
		line:        line,
		historyFile: filepath.Join(configDir, "repl_history"),
	}
	r.loadHistory()
	return r
}

// loadHistory loads input history from file.
func (r *replInput) loadHistory() {
	if f, err := os.Open(r.historyFile); err == nil {
		r.line.ReadHistory(f)
		f.Close()
	}
}

// readInput reads a line with history navigation.
func (r *replInput) readInput(prompt string) (string, error) {
	input, err := r.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

// saveHistory persists input history with owner-only permissions.
func (r *replInput) saveHistory() {
	if err := config.EnsureConfigDir(); err != nil {
		return
	}
	f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	r.line.WriteHistory(f)
}

// close saves history and releases the terminal.
func (r *replInput) close() {
	r.saveHistory()
	r.line.Close()
}

// =============================================================================
// REPL HANDLER
// =============================================================================

// HandleRepl runs the line-based chat loop.
func HandleRepl(args Args) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	client := newClient(cfg)
	driver := agent.NewDriver(client)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = client.Health(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("backend not reachable at %s; start it with: agentdeck serve", cfg.Backend.URL)
	}

	if !args.Quiet {
		fmt.Println(welcomeStyle.Render("agentdeck repl"))
		fmt.Println(infoStyle.Render("Connected to " + cfg.Backend.URL))
		fmt.Println(infoStyle.Render("Type /help for commands, /quit to exit."))
		fmt.Println()
	}

	input := newReplInput()
	defer input.close()

	// Ctrl+C during a stream stops the turn instead of exiting. The signal
	// is forwarded into the stream loop because the driver is owned by this
	// goroutine.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	for {
		text, err := input.readInput(promptStyle.Render("agentdeck> "))
		if err != nil {
			// Ctrl+C at the prompt or EOF exits cleanly.
			fmt.Println()
			return nil
		}

		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		if strings.HasPrefix(text, "/attach ") {
			att, message, err := parseAttachCommand(text)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[Error]"), err)
				continue
			}
			if err := streamTurnWithAttachment(driver, message, att, cfg.UI.ShowThinking, sigChan); err != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[Error]"), err)
			}
			continue
		}
		if strings.HasPrefix(text, "/") {
			keepGoing, err := handleReplCommand(text, driver, client, cfg)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[Error]"), err)
			}
			if !keepGoing {
				return nil
			}
			continue
		}
		if strings.EqualFold(text, "exit") || strings.EqualFold(text, "quit") {
			return nil
		}

		if err := streamTurn(driver, text, cfg.UI.ShowThinking, sigChan); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[Error]"), err)
		}
	}
}

// parseAttachCommand splits "/attach <path> <message...>" and loads the file.
func parseAttachCommand(text string) (*agent.Attachment, string, error) {
	rest := strings.TrimSpace(strings.TrimPrefix(text, "/attach"))
	path, message, _ := strings.Cut(rest, " ")
	message = strings.TrimSpace(message)
	if path == "" || message == "" {
		return nil, "", fmt.Errorf("usage: /attach <path> <message>")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read attachment: %w", err)
	}
	return &agent.Attachment{
		Filename: filepath.Base(path),
		MimeType: mime.TypeByExtension(filepath.Ext(path)),
		Data:     data,
	}, message, nil
}

// streamTurn sends one message and prints the response as it streams.
func streamTurn(driver *agent.Driver, text string, showThinking bool, sigChan <-chan os.Signal) error {
	return streamTurnWithAttachment(driver, text, nil, showThinking, sigChan)
}

func streamTurnWithAttachment(driver *agent.Driver, text string, att *agent.Attachment, showThinking bool, sigChan <-chan os.Signal) error {
	if err := driver.SendMessageWithAttachment(text, att); err != nil {
		return err
	}

	var inThinking bool
	for {
		var msg agent.Msg
		select {
		case <-sigChan:
			driver.Stop()
			fmt.Fprintln(os.Stderr, "\n"+warningStyle.Render("[Stopped]"))
			continue
		case msg = <-driver.Events():
		}

		if !driver.HandleMsg(msg) {
			continue
		}
		if msg.Done {
			break
		}

		ev := msg.Event
		switch ev.Type {
		case event.ThinkingStart:
			if showThinking {
				fmt.Print(thinkingStyle.Render("[thinking] "))
				inThinking = true
			}
		case event.ThinkingContent:
			if showThinking {
				fmt.Print(thinkingStyle.Render(ev.Delta))
			}
		case event.ThinkingEnd:
			if inThinking {
				fmt.Println()
				inThinking = false
			}
		case event.TextMessageContent:
			fmt.Print(ev.Delta)
		case event.ToolCallStart:
			fmt.Printf("\n%s %s ", commandStyle.Render("[tool]"), ev.ToolCallName)
		case event.ToolCallResult:
			fmt.Println(infoStyle.Render(util.TruncateRunes(strings.TrimSpace(ev.Content), 200)))
		}
	}
	fmt.Println()

	if err := driver.LastError(); err != nil {
		return err
	}
	return nil
}

// handleReplCommand processes a slash command. Returns false to exit.
func handleReplCommand(text string, driver *agent.Driver, client *agent.Client, cfg *config.Config) (bool, error) {
	fields := strings.Fields(text)
	switch fields[0] {
	case "/quit", "/exit":
		return false, nil

	case "/help":
		fmt.Println(infoStyle.Render(strings.Join([]string{
			"/new               start a new conversation",
			"/open <task-id>    resume a conversation",
			"/attach <path> <message>  send a message with a file",
			"/list              list conversations",
			"/export            export the current conversation to Markdown",
			"/quit              exit",
		}, "\n")))
		return true, nil

	case "/new":
		driver.NewConversation()
		fmt.Println(infoStyle.Render("Started a new conversation."))
		return true, nil

	case "/open":
		if len(fields) < 2 {
			return true, fmt.Errorf("usage: /open <task-id>")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := driver.LoadConversation(ctx, fields[1]); err != nil {
			return true, err
		}
		printReplTranscript(driver)
		return true, nil

	case "/list":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		tasks, err := client.ListTasks(ctx)
		if err != nil {
			return true, err
		}
		for _, task := range tasks {
			fmt.Printf("%s  %s\n",
				commandStyle.Render(task.ID),
				util.TruncateWidth(task.Title, 60))
		}
		return true, nil

	case "/export":
		if driver.TaskID() == "" {
			return true, fmt.Errorf("nothing to export yet")
		}
		path, err := exportConversation(client, driver.TaskID(), "markdown", cfg.UI.ExportDir)
		if err != nil {
			return true, err
		}
		fmt.Println(infoStyle.Render("Exported to " + path))
		return true, nil

	default:
		return true, fmt.Errorf("unknown command %s (try /help)", fields[0])
	}
}

// printReplTranscript prints an opened conversation's messages.
func printReplTranscript(driver *agent.Driver) {
	for _, m := range driver.State().Messages() {
		label := promptStyle.Render("you")
		if m.Role != "user" {
			label = commandStyle.Render(m.Role)
		}
		fmt.Printf("%s: %s\n", label, m.Content())
	}
}
