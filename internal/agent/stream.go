// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/jeranaias/agentdeck/internal/event"
)

// =============================================================================
// STREAMING CONSTANTS
// =============================================================================

// MaxFrameSize is the maximum allowed size for a single SSE data frame (64KB)
const MaxFrameSize = 64 * 1024

// doneMarker terminates some SSE streams in place of a final event.
var doneMarker = []byte("[DONE]")

// =============================================================================
// SSE READER
// =============================================================================

// SSEReader parses Server-Sent Events from a stream.
type SSEReader struct {
	reader *bufio.Reader
}

// NewSSEReader creates a new SSE reader from an io.Reader.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{
		reader: bufio.NewReaderSize(r, 16*1024),
	}
}

// ReadFrame reads the next SSE data frame. Returns io.EOF when the stream
// ends. Field lines other than data: (id:, retry:, comments) are ignored.
func (s *SSEReader) ReadFrame() ([]byte, error) {
	var dataLines [][]byte

	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				// Return any buffered data before reporting EOF
				if len(dataLines) > 0 {
					return bytes.Join(dataLines, []byte("\n")), nil
				}
				return nil, io.EOF
			}
			return nil, err
		}

		line = bytes.TrimRight(line, "\r\n")

		// Empty line signals end of event
		if len(line) == 0 {
			if len(dataLines) > 0 {
				return bytes.Join(dataLines, []byte("\n")), nil
			}
			continue
		}

		if bytes.HasPrefix(line, []byte("data:")) {
			data := bytes.TrimSpace(line[5:])
			if len(data) > MaxFrameSize {
				log.Printf("STREAM_FRAME_OVERSIZE | size=%d limit=%d", len(data), MaxFrameSize)
				continue
			}
			dataLines = append(dataLines, data)
		}
	}
}

// =============================================================================
// STREAMING REQUEST
// =============================================================================

// Attachment is a file sent along with a turn. Data rides base64-encoded in
// the request body; the backend stores it and hands the agent the saved path.
type Attachment struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type,omitempty"`
	Data     []byte `json:"data"`
}

// StreamRequest is the body of a streaming turn request.
type StreamRequest struct {
	Message    string      `json:"message"`
	TaskID     string      `json:"task_id,omitempty"`
	SessionID  string      `json:"session_id,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// StreamCallback is invoked for each decoded event on the stream.
type StreamCallback func(ev event.Event)

// Stream sends one conversation turn and decodes the SSE response frame by
// frame, invoking callback per event. Malformed frames are logged and
// skipped; the stream keeps going. Returns when the stream ends, the context
// is cancelled, or transport fails.
func (c *Client) Stream(ctx context.Context, req StreamRequest, callback StreamCallback) error {
	body, err := json.Marshal(req)
	if err != nil {
		return &ClientError{Type: ErrTypeUnknown, Message: "failed to encode request", Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.BaseURL+"/api/v1/response", bytes.NewReader(body))
	if err != nil {
		return &ClientError{Type: ErrTypeUnknown, Message: "failed to create request", Cause: err}
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := readErrorBody(resp.Body, c.config.MaxResponseSize)
		if resp.StatusCode == http.StatusNotFound {
			return ErrTaskNotFound
		}
		return &ClientError{
			Type:    ErrTypeServer,
			Message: "stream request failed with status " + resp.Status + ": " + msg,
		}
	}

	reader := NewSSEReader(resp.Body)
	for {
		frame, err := reader.ReadFrame()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &ClientError{Type: ErrTypeConnection, Message: "stream read failed", Cause: err}
		}
		if bytes.Equal(frame, doneMarker) {
			return nil
		}

		ev, err := event.Decode(frame)
		if err != nil {
			log.Printf("STREAM_FRAME_SKIPPED | err=%v frame_len=%d", err, len(frame))
			continue
		}
		callback(ev)
	}
}
