package model

import (
	"fmt"
	"strings"
	"time"
)

// Field length limits for GenerateRequest fields. The whole session history is
// replayed into every prompt, so one oversized turn taxes every later call.
const (
	MaxAgentIDLen      = 200
	MaxUserInputLen    = 32 * 1024 // 32 KB
	MaxSystemPromptLen = 64 * 1024 // 64 KB
	MaxTaskLen         = 4 * 1024  // 4 KB
)

// GenerateRequest is the request body for POST /generate.
type GenerateRequest struct {
	AgentID      string `json:"agent_id"`
	UserInput    string `json:"user_input"`
	SystemPrompt string `json:"system_prompt"`
	Task         string `json:"task,omitempty"`
}

// GenerateResponse is the response body for POST /generate.
type GenerateResponse struct {
	AgentID  string `json:"agent_id"`
	Text     string `json:"text"`
	Action   string `json:"action"`
	Location string `json:"location"`
}

// ValidateGenerateRequest checks required fields and per-field length limits.
func ValidateGenerateRequest(r GenerateRequest) error {
	if strings.TrimSpace(r.AgentID) == "" {
		return fmt.Errorf("agent_id is required")
	}
	if len(r.AgentID) > MaxAgentIDLen {
		return fmt.Errorf("agent_id exceeds maximum length of %d characters", MaxAgentIDLen)
	}
	if len(r.UserInput) > MaxUserInputLen {
		return fmt.Errorf("user_input exceeds maximum length of %d bytes", MaxUserInputLen)
	}
	if len(r.SystemPrompt) > MaxSystemPromptLen {
		return fmt.Errorf("system_prompt exceeds maximum length of %d bytes", MaxSystemPromptLen)
	}
	if len(r.Task) > MaxTaskLen {
		return fmt.Errorf("task exceeds maximum length of %d bytes", MaxTaskLen)
	}
	return nil
}

// StatusResponse is returned by the administrative endpoints.
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// SessionResponse is the response for GET /api/sessions/{agent_id}.
type SessionResponse struct {
	AgentID  string    `json:"agent_id"`
	Messages []Message `json:"messages"`
}

// AgentsResponse is the response for GET /api/agents.
type AgentsResponse struct {
	Agents []string `json:"agents"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every error response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput    = "INVALID_INPUT"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeProviderFailure = "PROVIDER_FAILURE"
	ErrCodeInternalError   = "INTERNAL_ERROR"
	ErrCodeRateLimited     = "RATE_LIMITED"
)

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	Provider     string `json:"provider"`
	EventLog     string `json:"event_log"`
	Sessions     int    `json:"sessions"`
	BufferDepth  int    `json:"buffer_depth"`
	BufferStatus string `json:"buffer_status"` // "ok", "high", "critical"
	Uptime       int64  `json:"uptime_seconds"`
}
