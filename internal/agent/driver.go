// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"context"
	"errors"
	"log"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/agentdeck/internal/event"
	"github.com/jeranaias/agentdeck/internal/runstate"
)

// =============================================================================
// DRIVER PHASES
// =============================================================================

// Phase is the driver's position in the turn lifecycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSending
	PhaseStreaming
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSending:
		return "sending"
	case PhaseStreaming:
		return "streaming"
	}
	return "unknown"
}

// ErrBusy is returned when a send is attempted while a turn is in flight.
var ErrBusy = errors.New("a turn is already in flight")

// ErrEmptyMessage is returned when the normalized message text is empty.
var ErrEmptyMessage = errors.New("message is empty")

// =============================================================================
// DRIVER MESSAGES
// =============================================================================

// Msg is what the stream goroutine delivers to the owner's event loop.
// Generation lets the owner discard messages from a superseded stream after
// a conversation switch.
type Msg struct {
	Generation int
	Event      *event.Event // nil on the final Done message
	Done       bool
	Err        error // set on Done when the stream failed
}

// =============================================================================
// DRIVER
// =============================================================================

// Driver owns the transport lifecycle for one conversation at a time: it
// sends turns, feeds stream events into the reducer, and replays persisted
// logs when a conversation is opened.
//
// Concurrency contract: all methods are called from the owner's event loop
// (the Bubble Tea update goroutine); only the internal stream goroutine
// runs concurrently, and it communicates exclusively through the Events
// channel.
type Driver struct {
	client *Client
	state  *runstate.RunState

	phase      Phase
	generation int
	cancel     context.CancelFunc
	events     chan Msg

	taskID    string
	sessionID string
	lastErr   error
}

// NewDriver creates a driver around the given backend client.
func NewDriver(client *Client) *Driver {
	return &Driver{
		client: client,
		state:  runstate.New(),
		events: make(chan Msg, 64),
	}
}

// State exposes the reducer state for projection. The owner must only read
// it from the same goroutine that calls HandleMsg.
func (d *Driver) State() *runstate.RunState {
	return d.state
}

// Events is the channel the stream goroutine delivers on.
func (d *Driver) Events() <-chan Msg {
	return d.events
}

// Phase returns the current lifecycle phase.
func (d *Driver) Phase() Phase {
	return d.phase
}

// TaskID returns the task this driver is bound to, if any.
func (d *Driver) TaskID() string {
	return d.taskID
}

// SessionID returns the adopted agent session, if any.
func (d *Driver) SessionID() string {
	return d.sessionID
}

// LastError returns the failure that ended the previous turn, if any.
func (d *Driver) LastError() error {
	return d.lastErr
}

// =============================================================================
// SENDING
// =============================================================================

// SendMessage starts a new turn. The user message is folded into local state
// immediately so it renders before the backend confirms anything; the stream
// then runs in a goroutine delivering Msg values on Events.
func (d *Driver) SendMessage(text string) error {
	return d.SendMessageWithAttachment(text, nil)
}

// SendMessageWithAttachment starts a new turn carrying an optional file. The
// attachment rides along in the turn request; the backend stores it and
// reports the saved path back in the event stream.
func (d *Driver) SendMessageWithAttachment(text string, att *Attachment) error {
	if d.phase != PhaseIdle {
		return ErrBusy
	}
	text = strings.TrimSpace(norm.NFC.String(text))
	if text == "" {
		return ErrEmptyMessage
	}

	// Optimistic local echo
	msgID := event.NewMessageID()
	for _, ev := range event.UserMessageTriple(msgID, text) {
		d.state.Apply(ev)
	}

	d.phase = PhaseSending
	d.lastErr = nil
	gen := d.generation

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	req := StreamRequest{Message: text, TaskID: d.taskID, SessionID: d.sessionID, Attachment: att}
	go func() {
		err := d.client.Stream(ctx, req, func(ev event.Event) {
			e := ev
			d.events <- Msg{Generation: gen, Event: &e}
		})
		d.events <- Msg{Generation: gen, Done: true, Err: err}
	}()
	return nil
}

// HandleMsg folds one stream message into state. Returns false when the
// message belonged to a superseded stream and was discarded.
func (d *Driver) HandleMsg(m Msg) bool {
	if m.Generation != d.generation {
		return false
	}

	if m.Event != nil {
		d.phase = PhaseStreaming
		out := d.state.Apply(*m.Event)
		if out.Status == runstate.RejectedMalformed {
			log.Printf("EVENT_REJECTED | type=%s reason=%s", m.Event.Type, out.Reason)
		}
		d.adoptIdentity()
		return true
	}

	if m.Done {
		d.cancel = nil
		d.phase = PhaseIdle
		switch {
		case errors.Is(m.Err, context.Canceled):
			// Stop() already synthesized the run_finished.
		case m.Err != nil:
			d.lastErr = m.Err
			d.state.Apply(event.NewRunError(m.Err.Error(), errorCode(m.Err)))
		default:
			if d.state.Running {
				// Stream ended without a run_finished; close the run locally.
				d.state.Apply(event.NewRunFinished(d.state.ThreadID, d.state.RunID, nil))
			}
		}
	}
	return true
}

// adoptIdentity picks up session identity announced on the stream so the
// next turn continues the same backend session.
func (d *Driver) adoptIdentity() {
	if d.state.TaskID != "" {
		d.taskID = d.state.TaskID
	}
	if d.state.SessionID != "" {
		d.sessionID = d.state.SessionID
	}
}

func errorCode(err error) string {
	switch {
	case IsTimeout(err):
		return "timeout"
	case IsNotReachable(err):
		return "connection_error"
	default:
		return "stream_error"
	}
}

// Stop cancels the in-flight turn. The reducer is closed out with a local
// run_finished so the UI never sits on a half-open run; whatever the backend
// persisted before the cancel remains authoritative on the next replay.
func (d *Driver) Stop() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	d.cancel = nil
	d.phase = PhaseIdle
	if d.state.Running {
		d.state.Apply(event.NewRunFinished(d.state.ThreadID, d.state.RunID, nil))
	}
}

// =============================================================================
// CONVERSATION SWITCHING
// =============================================================================

// NewConversation abandons the current conversation and starts fresh. Any
// in-flight stream is cancelled and its late messages will be discarded by
// the generation check.
func (d *Driver) NewConversation() {
	d.supersede()
	d.state.Reset()
	d.taskID = ""
	d.sessionID = ""
	d.lastErr = nil
}

// LoadConversation replays a persisted conversation into fresh state. A
// switch during an in-flight turn is rejected, not queued; the caller stops
// the stream first if it really wants to abandon it. When the event log is
// empty but the legacy message list is not, start/content/end triples are
// synthesized per message so old conversations still render.
func (d *Driver) LoadConversation(ctx context.Context, taskID string) error {
	if d.phase != PhaseIdle {
		return ErrBusy
	}
	stored, err := d.client.GetTaskEvents(ctx, taskID)
	if err != nil {
		return err
	}

	var legacy []struct{ id, role, content string }
	if len(stored) == 0 {
		msgs, err := d.client.GetTaskMessages(ctx, taskID)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			legacy = append(legacy, struct{ id, role, content string }{m.ID, m.Role, m.Content})
		}
	}

	d.supersede()
	d.state.Reset()
	d.taskID = taskID
	d.sessionID = ""
	d.lastErr = nil

	for _, se := range stored {
		d.state.ApplyAt(se.Event, se.Sequence)
	}
	for i, m := range legacy {
		id := m.id
		if id == "" {
			id = event.NewMessageID()
		}
		triple := event.UserMessageTriple(id, m.content)
		triple[0].Role = m.role
		for _, ev := range triple {
			d.state.ApplyAt(ev, i)
		}
	}

	// A replayed log can leave Running set if the last run never closed
	// (crash mid-stream). Nothing is in flight now, so close it.
	if d.state.Running {
		d.state.Apply(event.NewRunFinished(d.state.ThreadID, d.state.RunID, nil))
	}
	d.adoptIdentity()
	d.taskID = taskID
	return nil
}

// supersede invalidates the current stream generation and cancels any
// in-flight request.
func (d *Driver) supersede() {
	d.generation++
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.phase = PhaseIdle
}
