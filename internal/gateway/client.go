// Package gateway is the RPC client for the external agent-execution
// backend. It exposes two operations, Dispatch and Transcript, and builds
// in no retries: the poller owns retry policy.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Message roles as the gateway reports them.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Session is the opaque capability returned by a successful dispatch. The
// handle carries no content; correlation never depends on it.
type Session struct {
	Handle string
}

// ContentBlock is one element of a block-structured message body.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Message is a single transcript entry. Content is either a JSON string
// or an ordered array of content blocks; Text flattens both.
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// Text flattens the message content into one string. Block arrays are
// concatenated in order; unrecognized shapes flatten to "".
func (m Message) Text() string {
	if len(m.Content) == 0 {
		return ""
	}

	var plain string
	if err := json.Unmarshal(m.Content, &plain); err == nil {
		return plain
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return ""
	}
	var sb strings.Builder
	for _, b := range blocks {
		sb.WriteString(b.Text)
	}
	return sb.String()
}

// Client communicates with the agent gateway over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a Client targeting the given gateway base URL. The per-call
// timeout covers only the RPC itself, never the agent's run time.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// dispatchRequest is the JSON body for POST /dispatch.
type dispatchRequest struct {
	Task              string `json:"task"`
	Label             string `json:"label"`
	RunTimeoutSeconds int    `json:"runTimeoutSeconds"`
	Cleanup           string `json:"cleanup"`
}

// dispatchResponse is the JSON returned by POST /dispatch.
type dispatchResponse struct {
	Status             string `json:"status"`
	ChildSessionHandle string `json:"childSessionHandle"`
}

// Dispatch submits a task to the gateway and returns the session handle.
// Any failure (network error, non-2xx status, or a rejected dispatch)
// means no session was created and the caller may retry safely.
func (c *Client) Dispatch(ctx context.Context, task, label string, runTimeout time.Duration, cleanup string) (Session, error) {
	body, err := json.Marshal(dispatchRequest{
		Task:              task,
		Label:             label,
		RunTimeoutSeconds: int(runTimeout.Seconds()),
		Cleanup:           cleanup,
	})
	if err != nil {
		return Session{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/dispatch", bytes.NewReader(body))
	if err != nil {
		return Session{}, fmt.Errorf("creating dispatch request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("dispatch request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Session{}, fmt.Errorf("dispatch: unexpected status %d", resp.StatusCode)
	}

	var result dispatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Session{}, fmt.Errorf("decoding dispatch response: %w", err)
	}

	if result.Status != "accepted" {
		return Session{}, fmt.Errorf("dispatch rejected by gateway (status %q)", result.Status)
	}
	if result.ChildSessionHandle == "" {
		return Session{}, fmt.Errorf("dispatch accepted but no session handle returned")
	}

	return Session{Handle: result.ChildSessionHandle}, nil
}

// historyRequest is the JSON body for POST /history.
type historyRequest struct {
	SessionHandle string `json:"sessionHandle"`
	Limit         int    `json:"limit"`
	IncludeTools  bool   `json:"includeTools"`
}

// historyResponse is the JSON returned by POST /history.
type historyResponse struct {
	Messages []Message `json:"messages"`
}

// Transcript fetches up to limit messages for the session, most recent
// first. A failure here is a transient miss for the poller, never fatal to
// the session itself.
func (c *Client) Transcript(ctx context.Context, handle string, limit int, includeTools bool) ([]Message, error) {
	body, err := json.Marshal(historyRequest{
		SessionHandle: handle,
		Limit:         limit,
		IncludeTools:  includeTools,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/history", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating history request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("history request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history: unexpected status %d", resp.StatusCode)
	}

	var result historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding history response: %w", err)
	}

	return result.Messages, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
