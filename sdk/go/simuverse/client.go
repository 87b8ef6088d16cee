package simuverse

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

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the SimuVerse server (e.g. "http://localhost:3000").
	BaseURL string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// using Timeout is created.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 90 seconds,
	// matching the server's default write timeout; generate calls wait on a
	// language model.
	Timeout time.Duration
}

// Client is an HTTP client for the SimuVerse API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a Client from the given configuration.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("simuverse: BaseURL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 90 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  httpClient,
	}, nil
}

// Generate runs one conversational turn for req.AgentID.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	if req.AgentID == "" {
		return nil, fmt.Errorf("simuverse: AgentID is required")
	}
	var resp GenerateResponse
	if err := c.post(ctx, "/generate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Reset forgets every agent session and clears the event log.
func (c *Client) Reset(ctx context.Context) error {
	var resp statusResponse
	return c.post(ctx, "/reset", struct{}{}, &resp)
}

// ClearLogs clears the event log and keeps sessions.
func (c *Client) ClearLogs(ctx context.Context) error {
	var resp statusResponse
	return c.post(ctx, "/clear_logs", struct{}{}, &resp)
}

// Session returns the conversation history of one agent.
func (c *Client) Session(ctx context.Context, agentID string) (*Session, error) {
	var resp Session
	if err := c.get(ctx, "/api/sessions/"+url.PathEscape(agentID), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logs returns the event log entries for one agent, oldest first.
func (c *Client) Logs(ctx context.Context, agentID string) ([]LogEntry, error) {
	var resp []LogEntry
	if err := c.get(ctx, "/api/logs/"+url.PathEscape(agentID), &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// AllLogs returns event log entries for every agent.
func (c *Client) AllLogs(ctx context.Context) (map[string][]LogEntry, error) {
	var resp map[string][]LogEntry
	if err := c.get(ctx, "/api/logs", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Agents returns the sorted ids of agents with log entries.
func (c *Client) Agents(ctx context.Context) ([]string, error) {
	var resp agentsResponse
	if err := c.get(ctx, "/api/agents", &resp); err != nil {
		return nil, err
	}
	return resp.Agents, nil
}

// Health returns the server's liveness report.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var resp Health
	if err := c.get(ctx, "/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Meta struct {
		RequestID string `json:"request_id"`
	} `json:"meta"`
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("simuverse: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("simuverse: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("simuverse: create request: %w", err)
	}

	return c.doRequest(req, dest)
}

func (c *Client) doRequest(req *http.Request, dest any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("simuverse: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("simuverse: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}
	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, dest); err != nil {
		return fmt.Errorf("simuverse: decode response: %w", err)
	}
	return nil
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		apiErr.RequestID = envelope.Meta.RequestID
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}
