package completion

import (
	"context"
	"sync"
)

// DefaultMockReply is a well-formed reply that parses as NOTHING.
const DefaultMockReply = "I look around and decide to stay put for now.\nNOTHING: wait"

// MockProvider returns scripted replies without any network access. Queued
// replies are consumed in order; once the queue is empty every call returns
// the fallback reply. All prompts are recorded.
type MockProvider struct {
	mu       sync.Mutex
	queue    []mockReply
	fallback string
	prompts  []string
}

type mockReply struct {
	text string
	err  error
}

// NewMockProvider creates a mock that answers with reply once its queue is
// drained. An empty reply selects DefaultMockReply.
func NewMockProvider(reply string) *MockProvider {
	if reply == "" {
		reply = DefaultMockReply
	}
	return &MockProvider{fallback: reply}
}

// Enqueue schedules texts to be returned by the next calls, in order.
func (m *MockProvider) Enqueue(texts ...string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range texts {
		m.queue = append(m.queue, mockReply{text: t})
	}
	return m
}

// EnqueueError schedules err to be returned by the next call.
func (m *MockProvider) EnqueueError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, mockReply{err: err})
	return m
}

// Complete implements Provider.
func (m *MockProvider) Complete(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", wrap(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	if len(m.queue) == 0 {
		return m.fallback, nil
	}
	next := m.queue[0]
	m.queue = m.queue[1:]
	if next.err != nil {
		return "", wrap(next.err)
	}
	return next.text, nil
}

// Prompts returns every prompt received so far.
func (m *MockProvider) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// Calls returns the number of Complete calls so far.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

// Name returns the provider label used in logs and health output.
func (m *MockProvider) Name() string { return "mock" }
