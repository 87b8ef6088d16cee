package simuverse

import (
	"time"

	"github.com/google/uuid"
)

// Game actions reported in GenerateResponse.Action.
const (
	ActionMove     = "move"
	ActionNothing  = "nothing"
	ActionConverse = "converse"
	ActionNone     = "none"
)

// GenerateRequest runs one turn for an agent. SystemPrompt and Task only
// take effect on the agent's first call.
type GenerateRequest struct {
	AgentID      string `json:"agent_id"`
	UserInput    string `json:"user_input"`
	SystemPrompt string `json:"system_prompt"`
	Task         string `json:"task,omitempty"`
}

// GenerateResponse is the parsed outcome of one turn.
type GenerateResponse struct {
	AgentID  string `json:"agent_id"`
	Text     string `json:"text"`
	Action   string `json:"action"`
	Location string `json:"location"`
}

// Message is one entry of an agent's conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Session is an agent's full conversation history.
type Session struct {
	AgentID  string    `json:"agent_id"`
	Messages []Message `json:"messages"`
}

// LogEntry is one lifecycle event recorded for an agent.
type LogEntry struct {
	ID        uuid.UUID      `json:"id"`
	AgentID   string         `json:"agent_id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
	Details   map[string]any `json:"details"`
}

// Health is the server's liveness report.
type Health struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	Provider     string `json:"provider"`
	EventLog     string `json:"event_log"`
	Sessions     int    `json:"sessions"`
	BufferDepth  int    `json:"buffer_depth"`
	BufferStatus string `json:"buffer_status"`
	Uptime       int64  `json:"uptime_seconds"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type agentsResponse struct {
	Agents []string `json:"agents"`
}
