package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/simuverse/internal/model"
)

func TestGetOrCreate_NewAgentGetsSystemPrompt(t *testing.T) {
	st := NewStore()

	s := st.GetOrCreate("Agent7", "You are a baker.", "")

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, model.RoleSystem, msgs[0].Role)
	assert.Equal(t, "You are a baker.", msgs[0].Content)
}

func TestGetOrCreate_TaskAppendedOnSecondLine(t *testing.T) {
	st := NewStore()

	s := st.GetOrCreate("Agent7", "You are a baker.", "buy flour")

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "You are a baker.\nCurrent Task: buy flour", msgs[0].Content)
}

func TestGetOrCreate_FirstWriteWins(t *testing.T) {
	st := NewStore()
	first := st.GetOrCreate("Agent7", "You are a baker.", "buy flour")
	first.Append(model.Message{Role: model.RoleUser, Content: "hello"})

	second := st.GetOrCreate("Agent7", "You are a pirate.", "sink ships")

	assert.Same(t, first, second)
	msgs := second.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "You are a baker.\nCurrent Task: buy flour", msgs[0].Content, "system prompt must never be replaced")
}

func TestEnsure_CreatesSessionWithoutPersona(t *testing.T) {
	st := NewStore()

	s := st.Ensure("Agent3")
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, "Agent3", s.AgentID())
}

func TestGetOrCreate_FirstContactAfterEnsureInsertsPersonaAtHead(t *testing.T) {
	st := NewStore()
	forwarded := model.Message{Role: model.RoleUser, Content: model.ForwardedContent("Agent7", "hi\nCONVERSE: Agent3")}
	st.Ensure("Agent3").Append(forwarded)

	s := st.GetOrCreate("Agent3", "You are a guard.", "watch the gate")
	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleSystem, msgs[0].Role)
	assert.Equal(t, "You are a guard.\nCurrent Task: watch the gate", msgs[0].Content)
	assert.Equal(t, forwarded, msgs[1])

	// The persona is set once; later calls still cannot replace it.
	st.GetOrCreate("Agent3", "You are a thief.", "")
	msgs = s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "You are a guard.\nCurrent Task: watch the gate", msgs[0].Content)
}

func TestGetOrCreate_ConcurrentFirstContactAfterEnsureInsertsOnce(t *testing.T) {
	st := NewStore()
	st.Ensure("Agent3").Append(model.Message{Role: model.RoleUser, Content: "forwarded"})

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st.GetOrCreate("Agent3", fmt.Sprintf("persona %d", i), "")
		}()
	}
	wg.Wait()

	s, _ := st.Get("Agent3")
	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleSystem, msgs[0].Role)
	assert.Equal(t, model.RoleUser, msgs[1].Role)
}

func TestMessages_ReturnsSnapshot(t *testing.T) {
	st := NewStore()
	s := st.GetOrCreate("Agent7", "persona", "")

	snap := s.Messages()
	snap[0].Content = "mutated"

	assert.Equal(t, "persona", s.Messages()[0].Content)
}

func TestReset_ForgetsAllSessions(t *testing.T) {
	st := NewStore()
	st.GetOrCreate("Agent7", "old persona", "").Append(model.Message{Role: model.RoleUser, Content: "hi"})
	st.Ensure("Agent3")
	require.Equal(t, 2, st.Len())

	st.Reset()

	assert.Equal(t, 0, st.Len())
	_, ok := st.Get("Agent7")
	assert.False(t, ok)

	s := st.GetOrCreate("Agent7", "new persona", "")
	msgs := s.Messages()
	require.Len(t, msgs, 1, "a reset agent behaves as brand new")
	assert.Equal(t, "new persona", msgs[0].Content)
}

func TestAgents_Sorted(t *testing.T) {
	st := NewStore()
	st.Ensure("b")
	st.GetOrCreate("c", "p", "")
	st.Ensure("a")

	assert.Equal(t, []string{"a", "b", "c"}, st.Agents())
}

func TestConcurrentAppends_SameAgentNoLostUpdates(t *testing.T) {
	st := NewStore()
	const (
		workers   = 32
		perWorker = 50
	)

	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWorker {
				// Every worker races through GetOrCreate so creation is contended too.
				s := st.GetOrCreate("shared", "persona", "")
				s.Append(model.Message{Role: model.RoleUser, Content: fmt.Sprintf("%d-%d", w, i)})
			}
		}()
	}
	wg.Wait()

	s, ok := st.Get("shared")
	require.True(t, ok)
	assert.Equal(t, 1+workers*perWorker, s.Len())
	assert.Equal(t, model.RoleSystem, s.Messages()[0].Role, "system message inserted exactly once")
}

func TestConcurrentAppends_DifferentAgentsIndependent(t *testing.T) {
	st := NewStore()
	const agents = 16

	var wg sync.WaitGroup
	for a := range agents {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("agent-%d", a)
			s := st.GetOrCreate(id, "persona", "")
			for range 10 {
				s.Append(model.Message{Role: model.RoleUser, Content: "tick"})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, agents, st.Len())
	for _, id := range st.Agents() {
		s, _ := st.Get(id)
		assert.Equal(t, 11, s.Len(), "agent %s", id)
	}
}

func TestAppend_MultipleMessagesStayAdjacent(t *testing.T) {
	st := NewStore()
	s := st.Ensure("Agent3")

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Append(
				model.Message{Role: model.RoleUser, Content: fmt.Sprintf("q%d", i)},
				model.Message{Role: model.RoleAssistant, Content: fmt.Sprintf("a%d", i)},
			)
		}()
	}
	wg.Wait()

	msgs := s.Messages()
	require.Len(t, msgs, 40)
	for i := 0; i < len(msgs); i += 2 {
		assert.Equal(t, model.RoleUser, msgs[i].Role)
		assert.Equal(t, model.RoleAssistant, msgs[i+1].Role)
		assert.Equal(t, msgs[i].Content[1:], msgs[i+1].Content[1:], "pair split at index %d", i)
	}
}
