package eventlog

import (
	"context"
	"slices"
	"sync"

	"github.com/ashita-ai/simuverse/internal/model"
)

// MemoryStore keeps entries in process memory. Contents are lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]model.LogEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]model.LogEntry)}
}

func (m *MemoryStore) Append(_ context.Context, entries []model.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.entries[e.AgentID] = append(m.entries[e.AgentID], e)
	}
	return nil
}

func (m *MemoryStore) Entries(_ context.Context, agentID string) ([]model.LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	es, ok := m.entries[agentID]
	if !ok || len(es) == 0 {
		return nil, ErrNotFound
	}
	return slices.Clone(es), nil
}

func (m *MemoryStore) All(_ context.Context) (map[string][]model.LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]model.LogEntry, len(m.entries))
	for id, es := range m.entries {
		out[id] = slices.Clone(es)
	}
	return out, nil
}

func (m *MemoryStore) Agents(_ context.Context) ([]string, error) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	slices.Sort(ids)
	return ids, nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string][]model.LogEntry)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
