package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the category of a log entry.
type EventType string

const (
	EventUserInput             EventType = "user_input"
	EventGeneratingResponse    EventType = "generating_response"
	EventValidationFailure     EventType = "validation_failure"
	EventResponse              EventType = "response"
	EventConversationForwarded EventType = "conversation_forwarded"
	EventProviderFailure       EventType = "provider_failure"
)

// LogEntry is an append-only record of one lifecycle event for an agent.
// Entries are write-only from the conversation core: nothing reads them back
// to make a decision.
type LogEntry struct {
	ID        uuid.UUID      `json:"id"`
	AgentID   string         `json:"agent_id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      EventType      `json:"type"`
	Details   map[string]any `json:"details"`
}

// NewLogEntry stamps a new entry with a fresh id and the current UTC time.
func NewLogEntry(agentID string, typ EventType, details map[string]any) LogEntry {
	if details == nil {
		details = map[string]any{}
	}
	return LogEntry{
		ID:        uuid.New(),
		AgentID:   agentID,
		Timestamp: time.Now().UTC(),
		Type:      typ,
		Details:   details,
	}
}
