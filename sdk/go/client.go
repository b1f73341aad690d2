package momentumsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Momentum HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	// UserID is sent as X-User-Id when no token is set; servers accept it
	// only in local mode.
	UserID     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults. Turns wait for the assistant,
// so the timeout is generous.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 60 * time.Second,
	}
}

// Result is the outcome of one function call.
type Result struct {
	FunctionName string            `json:"function_name"`
	Success      bool              `json:"success"`
	Message      string            `json:"message"`
	Details      map[string]string `json:"details,omitempty"`
	CommittedIDs []string          `json:"committed_ids,omitempty"`
	Pending      []map[string]any  `json:"pending,omitempty"`
}

// Turn is the assistant's reply to one message.
type Turn struct {
	TurnID    string  `json:"turn_id"`
	Message   string  `json:"message"`
	Result    *Result `json:"result,omitempty"`
	PendingID string  `json:"pending_id,omitempty"`
	Cancelled bool    `json:"cancelled,omitempty"`
	Failed    bool    `json:"failed,omitempty"`
}

// Message is one conversation history entry.
type Message struct {
	ID           string `json:"id"`
	Role         string `json:"role"`
	Content      string `json:"content"`
	FunctionName string `json:"function_name,omitempty"`
}

// AuditRecord is one audit log row.
type AuditRecord struct {
	Seq        int64          `json:"seq"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Dispatch runs one command envelope.
func (c *Client) Dispatch(ctx context.Context, kind, action, id string, params map[string]any) (Result, error) {
	body := map[string]any{
		"type":   kind,
		"action": action,
	}
	if id != "" {
		body["id"] = id
	}
	if len(params) > 0 {
		body["parameters"] = params
	}
	var resp Result
	err := c.do(ctx, http.MethodPost, "v1/dispatch", body, &resp)
	return resp, err
}

// Call runs a named function call with JSON arguments.
func (c *Client) Call(ctx context.Context, name, arguments string) (Result, error) {
	var resp Result
	err := c.do(ctx, http.MethodPost, "v1/calls", map[string]any{"name": name, "arguments": arguments}, &resp)
	return resp, err
}

// Send posts a user message to a conversation and waits for the turn.
func (c *Client) Send(ctx context.Context, conversationID, message string) (Turn, error) {
	var resp Turn
	err := c.do(ctx, http.MethodPost, c.conversationPath(conversationID, "turns"), map[string]any{"message": message}, &resp)
	return resp, err
}

// Confirm saves the preview pendingID, or the latest one when empty.
func (c *Client) Confirm(ctx context.Context, conversationID, pendingID string) (Result, error) {
	var resp Result
	err := c.do(ctx, http.MethodPost, withPending(c.conversationPath(conversationID, "confirm"), pendingID), nil, &resp)
	return resp, err
}

// Discard drops the preview pendingID, or the latest one when empty.
func (c *Client) Discard(ctx context.Context, conversationID, pendingID string) (Result, error) {
	var resp Result
	err := c.do(ctx, http.MethodPost, withPending(c.conversationPath(conversationID, "discard"), pendingID), nil, &resp)
	return resp, err
}

// Cancel stops the in-flight turn. It reports whether one was running.
func (c *Client) Cancel(ctx context.Context, conversationID string) (bool, error) {
	var resp struct {
		Cancelled bool `json:"cancelled"`
	}
	err := c.do(ctx, http.MethodPost, c.conversationPath(conversationID, "cancel"), nil, &resp)
	return resp.Cancelled, err
}

// Messages returns the conversation history.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	var resp struct {
		Items []Message `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, c.conversationPath(conversationID, "messages"), nil, &resp)
	return resp.Items, err
}

// Audit returns recent audit rows.
func (c *Client) Audit(ctx context.Context, limit int) ([]AuditRecord, error) {
	endpoint := "v1/audit"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []AuditRecord
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.UserID != "":
		req.Header.Set("X-User-Id", c.UserID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) conversationPath(id, p string) string {
	return fmt.Sprintf("v1/conversations/%s/%s", url.PathEscape(id), p)
}

func withPending(endpoint, pendingID string) string {
	if pendingID == "" {
		return endpoint
	}
	return endpoint + "?pending_id=" + url.QueryEscape(pendingID)
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
