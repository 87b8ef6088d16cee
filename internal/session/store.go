// Package session holds per-agent conversation histories.
//
// The Store owns every Session. Lookups share a read lock on the agent map;
// appends take only the owning Session's mutex, so traffic for unrelated
// agents never serializes on a single lock.
package session

import (
	"slices"
	"sync"

	"github.com/ashita-ai/simuverse/internal/model"
)

// taskPrefix separates the persona from the optional task in the system message.
const taskPrefix = "\nCurrent Task: "

// Session is the ordered message history of one agent.
type Session struct {
	agentID string

	// turn serializes whole generate turns for this agent. It is separate from
	// mu so forwarded deliveries never wait on a slow completion call.
	turn sync.Mutex

	mu       sync.Mutex
	messages []model.Message
	// hasPersona is set once the system message is in place. Sessions made
	// by Ensure start without one.
	hasPersona bool
}

// AgentID returns the agent this session belongs to.
func (s *Session) AgentID() string {
	return s.agentID
}

// Append adds messages to the end of the history as one atomic step.
func (s *Session) Append(msgs ...model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msgs...)
}

// Messages returns a snapshot copy of the history.
func (s *Session) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.messages)
}

// Len returns the number of messages in the history.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// LockTurn blocks until the caller owns this agent's turn.
func (s *Session) LockTurn() { s.turn.Lock() }

// UnlockTurn releases the turn taken by LockTurn.
func (s *Session) UnlockTurn() { s.turn.Unlock() }

// Store maps agent ids to sessions. The zero value is not usable; call NewStore.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// SystemContent renders the first system message for a persona and optional task.
func SystemContent(systemPrompt, task string) string {
	if task == "" {
		return systemPrompt
	}
	return systemPrompt + taskPrefix + task
}

// GetOrCreate returns the session for agentID, creating it with a system
// message on the agent's first contact. First write wins: once a session
// has its system message, later systemPrompt and task arguments are ignored.
// A session made earlier by Ensure gets its system message inserted at the
// head on this first contact, ahead of any forwarded messages.
func (st *Store) GetOrCreate(agentID, systemPrompt, task string) *Session {
	s := st.getOrInit(agentID)
	s.setPersona(SystemContent(systemPrompt, task))
	return s
}

// Ensure returns the session for agentID, creating an empty one with no
// system message when absent. This is the path used for CONVERSE targets.
func (st *Store) Ensure(agentID string) *Session {
	return st.getOrInit(agentID)
}

// setPersona inserts the system message at index 0 unless one is already set.
func (s *Session) setPersona(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasPersona {
		return
	}
	s.messages = slices.Insert(s.messages, 0, model.Message{Role: model.RoleSystem, Content: content})
	s.hasPersona = true
}

func (st *Store) getOrInit(agentID string) *Session {
	st.mu.RLock()
	s, ok := st.sessions[agentID]
	st.mu.RUnlock()
	if ok {
		return s
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	// Re-check: another goroutine may have created it between the locks.
	if s, ok := st.sessions[agentID]; ok {
		return s
	}
	s = &Session{agentID: agentID}
	st.sessions[agentID] = s
	return s
}

// Get returns the session for agentID if one exists.
func (st *Store) Get(agentID string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[agentID]
	return s, ok
}

// Agents returns the ids of all agents holding a session, sorted.
func (st *Store) Agents() []string {
	st.mu.RLock()
	ids := make([]string, 0, len(st.sessions))
	for id := range st.sessions {
		ids = append(ids, id)
	}
	st.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// Len returns the number of sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Reset drops every session. Sessions handed out before the reset stay valid
// for their holders but are no longer reachable through the store.
func (st *Store) Reset() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions = make(map[string]*Session)
}
