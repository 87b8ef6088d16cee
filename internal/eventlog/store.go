// Package eventlog records per-agent lifecycle entries. The conversation core
// only writes to it; the HTTP and MCP surfaces read it for debugging.
//
// A Store persists entries. Buffer sits in front of a Store, batching writes
// off the request path while keeping reads consistent with earlier writes.
package eventlog

import (
	"context"
	"errors"

	"github.com/ashita-ai/simuverse/internal/model"
)

// ErrNotFound is returned when an agent has no log entries.
var ErrNotFound = errors.New("eventlog: not found")

// Store is an append-only log of entries keyed by agent id. Entries for one
// agent are returned in the order they were appended.
type Store interface {
	// Append persists entries in slice order.
	Append(ctx context.Context, entries []model.LogEntry) error
	// Entries returns one agent's entries, or ErrNotFound if it has none.
	Entries(ctx context.Context, agentID string) ([]model.LogEntry, error)
	// All returns every agent's entries keyed by agent id.
	All(ctx context.Context) (map[string][]model.LogEntry, error)
	// Agents returns the sorted ids of agents that have entries.
	Agents(ctx context.Context) ([]string, error)
	// Clear removes every entry.
	Clear(ctx context.Context) error
	Close() error
}

// groupByAgent folds an ordered entry stream into per-agent slices.
func groupByAgent(entries []model.LogEntry) map[string][]model.LogEntry {
	out := make(map[string][]model.LogEntry)
	for _, e := range entries {
		out[e.AgentID] = append(out[e.AgentID], e)
	}
	return out
}
