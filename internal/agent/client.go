// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package agent provides the HTTP client for the agent backend API.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jeranaias/agentdeck/internal/store"
)

// =============================================================================
// ERRORS
// =============================================================================

// ClientError represents an error from the backend client.
type ClientError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeConnection
	ErrTypeTimeout
	ErrTypeNotFound
	ErrTypeServer
	ErrTypeInvalidResponse
)

// Sentinel errors for easy checking.
var (
	ErrNotReachable = &ClientError{Type: ErrTypeConnection, Message: "backend is not reachable"}
	ErrTimeout      = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
	ErrTaskNotFound = &ClientError{Type: ErrTypeNotFound, Message: "task not found"}
)

// IsNotFound reports whether the error indicates a missing task.
func IsNotFound(err error) bool {
	var ce *ClientError
	return errors.As(err, &ce) && ce.Type == ErrTypeNotFound
}

// IsTimeout reports whether the error indicates a timeout.
func IsTimeout(err error) bool {
	var ce *ClientError
	if errors.As(err, &ce) && ce.Type == ErrTypeTimeout {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsNotReachable reports whether the backend could not be contacted at all.
func IsNotReachable(err error) bool {
	var ce *ClientError
	return errors.As(err, &ce) && ce.Type == ErrTypeConnection
}

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration options for the backend client.
type ClientConfig struct {
	// BaseURL is the backend API base URL (default: http://127.0.0.1:8711)
	// Uses explicit IPv4 address instead of localhost to avoid IPv6
	// resolution issues on Windows.
	BaseURL string

	// Timeout for non-streaming requests (default: 15s)
	Timeout time.Duration

	// AuthToken is sent as a bearer token when the server requires one.
	AuthToken string

	// MaxResponseSize caps non-streaming response bodies (default: 10MB).
	MaxResponseSize int64
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:         "http://127.0.0.1:8711",
		Timeout:         15 * time.Second,
		MaxResponseSize: 10 * 1024 * 1024,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client handles communication with the agent backend API.
// It is safe for concurrent use.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
	// streamClient has no timeout; streaming lifetime is context-controlled.
	streamClient *http.Client
}

// NewClient creates a backend client with default configuration.
func NewClient() *Client {
	return NewClientWithConfig(DefaultConfig())
}

// NewClientWithConfig creates a backend client with custom configuration.
func NewClientWithConfig(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}

	// Fill in defaults for any zero values
	defaults := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxResponseSize == 0 {
		config.MaxResponseSize = defaults.MaxResponseSize
	}

	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		config:       config,
		httpClient:   &http.Client{Transport: transport, Timeout: config.Timeout},
		streamClient: &http.Client{Transport: transport},
	}
}

// WithBaseURL sets the backend URL and returns the client for chaining.
func (c *Client) WithBaseURL(url string) *Client {
	c.config.BaseURL = url
	return c
}

// WithAuthToken sets the bearer token and returns the client for chaining.
func (c *Client) WithAuthToken(token string) *Client {
	c.config.AuthToken = token
	return c
}

// BaseURL returns the configured backend URL.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// =============================================================================
// REQUEST PLUMBING
// =============================================================================

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.config.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.AuthToken)
	}
}

// doJSON performs a request and decodes the JSON response into out (nil out
// discards the body).
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &ClientError{Type: ErrTypeUnknown, Message: "failed to encode request", Cause: err}
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reqBody)
	if err != nil {
		return &ClientError{Type: ErrTypeUnknown, Message: "failed to create request", Cause: err}
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrTaskNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := readErrorBody(resp.Body, c.config.MaxResponseSize)
		return &ClientError{
			Type:    ErrTypeServer,
			Message: fmt.Sprintf("backend returned %d: %s", resp.StatusCode, msg),
		}
	}
	if out == nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, c.config.MaxResponseSize))
		return nil
	}
	limited := io.LimitReader(resp.Body, c.config.MaxResponseSize)
	if err := json.NewDecoder(limited).Decode(out); err != nil {
		return &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	return nil
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ClientError{Type: ErrTypeTimeout, Message: "request timed out", Cause: err}
	}
	return &ClientError{Type: ErrTypeConnection, Message: "backend is not reachable", Cause: err}
}

func readErrorBody(r io.Reader, limit int64) string {
	data, _ := io.ReadAll(io.LimitReader(r, limit))
	// Error payloads follow {"error": {"message": ...}}
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	if len(data) > 200 {
		data = data[:200]
	}
	return string(data)
}

// =============================================================================
// TASK API
// =============================================================================

// CreateTask creates a new conversation on the backend.
func (c *Client) CreateTask(ctx context.Context, title string) (store.Task, error) {
	var task store.Task
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/tasks", map[string]string{"title": title}, &task)
	return task, err
}

// ListTasks returns all conversations, most recently updated first.
func (c *Client) ListTasks(ctx context.Context) ([]store.Task, error) {
	var payload struct {
		Tasks []store.Task `json:"tasks"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/tasks", nil, &payload)
	return payload.Tasks, err
}

// GetTask loads one conversation's metadata.
func (c *Client) GetTask(ctx context.Context, id string) (store.Task, error) {
	var task store.Task
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/tasks/"+id, nil, &task)
	return task, err
}

// DeleteTask removes a conversation and its event log.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/v1/tasks/"+id, nil, nil)
}

// RenameTask changes a conversation's title.
func (c *Client) RenameTask(ctx context.Context, id, title string) error {
	return c.doJSON(ctx, http.MethodPatch, "/api/v1/tasks/"+id, map[string]string{"title": title}, nil)
}

// GetTaskEvents fetches the persisted event log for replay.
func (c *Client) GetTaskEvents(ctx context.Context, id string) ([]store.StoredEvent, error) {
	var payload struct {
		Events []store.StoredEvent `json:"events"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/tasks/"+id+"/events", nil, &payload)
	return payload.Events, err
}

// GetTaskMessages fetches the flat message list. Used as a fallback for
// conversations persisted before event logging existed.
func (c *Client) GetTaskMessages(ctx context.Context, id string) ([]store.Message, error) {
	var payload struct {
		Messages []store.Message `json:"messages"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/tasks/"+id+"/messages", nil, &payload)
	return payload.Messages, err
}

// Health checks backend reachability.
func (c *Client) Health(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/api/v1/health", nil, nil)
}
