package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/simuverse/internal/action"
	"github.com/ashita-ai/simuverse/internal/completion"
	"github.com/ashita-ai/simuverse/internal/ctxutil"
	"github.com/ashita-ai/simuverse/internal/eventlog"
	"github.com/ashita-ai/simuverse/internal/model"
	"github.com/ashita-ai/simuverse/internal/prompt"
	"github.com/ashita-ai/simuverse/internal/session"
	"github.com/ashita-ai/simuverse/internal/testutil"
)

type harness struct {
	svc      *Service
	sessions *session.Store
	events   *eventlog.Buffer
	mock     *completion.MockProvider
}

func newHarness(t *testing.T, provider completion.Provider, cfg Config) *harness {
	t.Helper()
	logger := testutil.TestLogger()
	sessions := session.NewStore()
	events := eventlog.NewBuffer(eventlog.NewMemoryStore(), logger, 1000, time.Hour)
	mock, _ := provider.(*completion.MockProvider)
	return &harness{
		svc:      New(sessions, provider, events, logger, cfg),
		sessions: sessions,
		events:   events,
		mock:     mock,
	}
}

func newMockHarness(t *testing.T, replies ...string) *harness {
	t.Helper()
	return newHarness(t, completion.NewMockProvider("").Enqueue(replies...), Config{})
}

func eventTypes(t *testing.T, events *eventlog.Buffer, agentID string) []model.EventType {
	t.Helper()
	entries, err := events.Entries(context.Background(), agentID)
	require.NoError(t, err)
	types := make([]model.EventType, len(entries))
	for i, e := range entries {
		types[i] = e.Type
	}
	return types
}

func TestGenerate_FirstTurn(t *testing.T) {
	h := newMockHarness(t, "The library is quiet.\nMOVE: Library")

	resp, err := h.svc.Generate(context.Background(), model.GenerateRequest{
		AgentID:      "Agent7",
		UserInput:    "You are in the plaza.",
		SystemPrompt: "You are a baker.",
		Task:         "buy flour",
	})
	require.NoError(t, err)

	assert.Equal(t, model.GenerateResponse{
		AgentID:  "Agent7",
		Text:     "The library is quiet.\nMOVE: Library",
		Action:   "move",
		Location: "library",
	}, resp)

	msgs, ok := h.svc.Session("Agent7")
	require.True(t, ok)
	require.Len(t, msgs, 3)
	assert.Equal(t, model.Message{Role: model.RoleSystem, Content: "You are a baker.\nCurrent Task: buy flour"}, msgs[0])
	assert.Equal(t, model.Message{Role: model.RoleUser, Content: "You are in the plaza."}, msgs[1])
	assert.Equal(t, model.RoleAssistant, msgs[2].Role)

	prompts := h.mock.Prompts()
	require.Len(t, prompts, 1)
	assert.Equal(t, prompt.Build(msgs[:2]), prompts[0], "provider sees history up to the user turn")

	assert.Equal(t, []model.EventType{
		model.EventUserInput,
		model.EventGeneratingResponse,
		model.EventResponse,
	}, eventTypes(t, h.events, "Agent7"))
}

func TestGenerate_LogPayloads(t *testing.T) {
	h := newMockHarness(t, "Hmm.\nNOTHING: wait")
	ctx := ctxutil.WithRequestID(context.Background(), "req-9")
	ctx = ctxutil.WithCaller(ctx, ctxutil.CallerMeta{Surface: ctxutil.SurfaceHTTP})

	_, err := h.svc.Generate(ctx, model.GenerateRequest{AgentID: "A", UserInput: "hi", SystemPrompt: "p"})
	require.NoError(t, err)

	entries, err := h.svc.Logs(context.Background(), "A")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "hi", entries[0].Details["input"])
	assert.Equal(t, "p", entries[0].Details["system_prompt"])
	assert.Equal(t, "req-9", entries[0].Details["request_id"])
	assert.Equal(t, "http", entries[0].Details["surface"])
	assert.NotContains(t, entries[0].Details, "task")

	assert.Contains(t, entries[1].Details["prompt"], "User: hi")

	assert.Equal(t, "Hmm.\nNOTHING: wait", entries[2].Details["text"])
	assert.Equal(t, "nothing", entries[2].Details["action"])
	assert.Equal(t, "", entries[2].Details["location"])
}

func TestGenerate_FirstWriteWinsAcrossTurns(t *testing.T) {
	h := newMockHarness(t)
	ctx := context.Background()

	_, err := h.svc.Generate(ctx, model.GenerateRequest{AgentID: "A", UserInput: "one", SystemPrompt: "baker"})
	require.NoError(t, err)
	_, err = h.svc.Generate(ctx, model.GenerateRequest{AgentID: "A", UserInput: "two", SystemPrompt: "pirate"})
	require.NoError(t, err)

	msgs, _ := h.svc.Session("A")
	require.Len(t, msgs, 5)
	assert.Equal(t, "baker", msgs[0].Content)
	assert.Contains(t, h.mock.Prompts()[1], "User: one")
	assert.NotContains(t, h.mock.Prompts()[1], "pirate")
}

func TestGenerate_ValidationFallback(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		fallback string
		reason   string
	}{
		{"single line", "MOVE: library", action.FallbackInsufficientReasoning, action.ReasonInsufficientReasoning},
		{"untagged final line", "I think.\nGoing to the library.", action.FallbackMalformedFinalLine, action.ReasonMalformedFinalLine},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newMockHarness(t, tt.raw)

			resp, err := h.svc.Generate(context.Background(), model.GenerateRequest{AgentID: "A", UserInput: "x", SystemPrompt: "p"})
			require.NoError(t, err)

			assert.Equal(t, tt.fallback, resp.Text)
			assert.Equal(t, "nothing", resp.Action)
			assert.Equal(t, "", resp.Location)
			assert.Equal(t, 1, h.mock.Calls(), "the model is never re-queried")

			msgs, _ := h.svc.Session("A")
			assert.Equal(t, tt.fallback, msgs[len(msgs)-1].Content, "fallback becomes the assistant turn")

			entries, err := h.svc.Logs(context.Background(), "A")
			require.NoError(t, err)
			var failure *model.LogEntry
			for i := range entries {
				if entries[i].Type == model.EventValidationFailure {
					failure = &entries[i]
				}
			}
			require.NotNil(t, failure)
			assert.Equal(t, tt.reason, failure.Details["reason"])
			assert.Equal(t, tt.fallback, failure.Details["response"])
			assert.Equal(t, tt.raw, failure.Details["raw"])
		})
	}
}

func TestGenerate_ConverseKeepsAgentCasing(t *testing.T) {
	h := newMockHarness(t, "Let me think about where to go.\nCONVERSE: Agent3")

	resp, err := h.svc.Generate(context.Background(), model.GenerateRequest{AgentID: "A", UserInput: "x"})
	require.NoError(t, err)
	assert.Equal(t, "converse", resp.Action)
	assert.Equal(t, "Agent3", resp.Location, "agent ids keep their casing")
}

func TestGenerate_ConverseRoutesToTarget(t *testing.T) {
	reply := "I should greet my neighbour.\nCONVERSE: B"
	h := newMockHarness(t, reply)
	ctx := context.Background()

	_, err := h.svc.Generate(ctx, model.GenerateRequest{AgentID: "A", UserInput: "You see B.", SystemPrompt: "persona A"})
	require.NoError(t, err)

	bMsgs, ok := h.svc.Session("B")
	require.True(t, ok, "target session is created on delivery")
	require.Len(t, bMsgs, 1, "B gains exactly one message and no persona until its own first contact")
	assert.Equal(t, model.RoleUser, bMsgs[0].Role)
	assert.Contains(t, bMsgs[0].Content, reply)
	sender, ok := model.ForwardedSender(bMsgs[0].Content)
	require.True(t, ok)
	assert.Equal(t, "A", sender)

	aMsgs, _ := h.svc.Session("A")
	assert.Len(t, aMsgs, 3, "source session only has its own turn")

	assert.Contains(t, eventTypes(t, h.events, "A"), model.EventConversationForwarded)
	_, err = h.svc.Logs(ctx, "B")
	assert.ErrorIs(t, err, eventlog.ErrNotFound, "delivery is logged on the source agent")
}

func TestGenerate_CasingPolicyFromConfig(t *testing.T) {
	h := newHarness(t, completion.NewMockProvider("").Enqueue("Let me ask.\nCONVERSE: Agent7"), Config{Casing: action.CasingLower})
	ctx := context.Background()

	resp, err := h.svc.Generate(ctx, model.GenerateRequest{AgentID: "Agent3", UserInput: "x", SystemPrompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "agent7", resp.Location, "reported location follows the casing policy")

	msgs, ok := h.svc.Session("Agent7")
	require.True(t, ok, "delivery uses the id as written")
	assert.Len(t, msgs, 1)
	_, ok = h.svc.Session("agent7")
	assert.False(t, ok)
}

func TestGenerate_ForwardedMessageReachesTargetPrompt(t *testing.T) {
	h := newMockHarness(t, "Hello there.\nCONVERSE: B", "A greeted me.\nNOTHING: wave")
	ctx := context.Background()

	_, err := h.svc.Generate(ctx, model.GenerateRequest{AgentID: "A", UserInput: "x", SystemPrompt: "pa"})
	require.NoError(t, err)
	_, err = h.svc.Generate(ctx, model.GenerateRequest{AgentID: "B", UserInput: "Your turn.", SystemPrompt: "pb"})
	require.NoError(t, err)

	bPrompt := h.mock.Prompts()[1]
	assert.True(t, strings.HasPrefix(bPrompt, "Conversation Context:\n"+model.ForwardedContent("A", "Hello there.\nCONVERSE: B")))
	assert.Contains(t, bPrompt, "Conversation History:\nSystem: pb\nUser: Your turn.")
}

func TestGenerate_ConverseBeforeFirstContactKeepsPersona(t *testing.T) {
	h := newMockHarness(t, "Morning, B.\nCONVERSE: B", "Morning to you.\nNOTHING: bake")
	ctx := context.Background()

	_, err := h.svc.Generate(ctx, model.GenerateRequest{AgentID: "A", UserInput: "x", SystemPrompt: "You are A"})
	require.NoError(t, err)
	_, err = h.svc.Generate(ctx, model.GenerateRequest{AgentID: "B", UserInput: "hi", SystemPrompt: "You are B, a baker"})
	require.NoError(t, err)

	bMsgs, ok := h.svc.Session("B")
	require.True(t, ok)
	require.Len(t, bMsgs, 4)
	assert.Equal(t, model.Message{Role: model.RoleSystem, Content: "You are B, a baker"}, bMsgs[0])
	assert.True(t, model.IsForwarded(bMsgs[1].Content))
	assert.Equal(t, model.Message{Role: model.RoleUser, Content: "hi"}, bMsgs[2])
	assert.Equal(t, model.RoleAssistant, bMsgs[3].Role)

	assert.Contains(t, h.mock.Prompts()[1], "System: You are B, a baker")

	// A second first-contact attempt does not replace the persona.
	_, err = h.svc.Generate(ctx, model.GenerateRequest{AgentID: "B", UserInput: "again", SystemPrompt: "You are a pirate"})
	require.NoError(t, err)
	bMsgs, _ = h.svc.Session("B")
	assert.Equal(t, "You are B, a baker", bMsgs[0].Content)
}

func TestGenerate_SelfConverseDoesNotDeadlock(t *testing.T) {
	h := newMockHarness(t, "Talking to myself.\nCONVERSE: A")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := h.svc.Generate(context.Background(), model.GenerateRequest{AgentID: "A", UserInput: "x", SystemPrompt: "p"})
		assert.NoError(t, err)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("self-targeted converse deadlocked")
	}

	msgs, _ := h.svc.Session("A")
	require.Len(t, msgs, 4)
	assert.True(t, model.IsForwarded(msgs[3].Content))
}

func TestGenerate_ProviderFailure(t *testing.T) {
	mock := completion.NewMockProvider("").EnqueueError(errors.New("upstream 500"))
	h := newHarness(t, mock, Config{})

	_, err := h.svc.Generate(context.Background(), model.GenerateRequest{AgentID: "A", UserInput: "x", SystemPrompt: "p"})
	require.Error(t, err)
	assert.ErrorIs(t, err, completion.ErrProviderFailure)

	msgs, _ := h.svc.Session("A")
	require.Len(t, msgs, 2, "user turn stays, no assistant turn")
	assert.Equal(t, model.RoleUser, msgs[1].Role)

	assert.Equal(t, []model.EventType{
		model.EventUserInput,
		model.EventGeneratingResponse,
		model.EventProviderFailure,
	}, eventTypes(t, h.events, "A"))
}

func TestGenerate_ProviderErrorAlwaysWrapped(t *testing.T) {
	raw := completion.ProviderFunc(func(context.Context, string) (string, error) {
		return "", errors.New("plain error")
	})
	h := newHarness(t, raw, Config{})

	_, err := h.svc.Generate(context.Background(), model.GenerateRequest{AgentID: "A"})
	assert.ErrorIs(t, err, completion.ErrProviderFailure)
}

func TestGenerate_CompletionTimeout(t *testing.T) {
	slow := completion.ProviderFunc(func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	h := newHarness(t, slow, Config{CompletionTimeout: 20 * time.Millisecond})

	_, err := h.svc.Generate(context.Background(), model.GenerateRequest{AgentID: "A", UserInput: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, completion.ErrProviderFailure)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGenerate_InvalidInput(t *testing.T) {
	h := newMockHarness(t)

	_, err := h.svc.Generate(context.Background(), model.GenerateRequest{UserInput: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, 0, h.mock.Calls())
	assert.Equal(t, 0, h.svc.SessionCount())
}

func TestGenerate_ConcurrentTurnsSameAgentStayAdjacent(t *testing.T) {
	var n atomic.Int64
	provider := completion.ProviderFunc(func(_ context.Context, p string) (string, error) {
		time.Sleep(time.Millisecond)
		return fmt.Sprintf("Reply %d.\nNOTHING: wait", n.Add(1)), nil
	})
	h := newHarness(t, provider, Config{})

	const turns = 20
	var wg sync.WaitGroup
	for i := range turns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.Generate(context.Background(), model.GenerateRequest{
				AgentID: "A", UserInput: fmt.Sprintf("input %d", i), SystemPrompt: "p",
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	msgs, _ := h.svc.Session("A")
	require.Len(t, msgs, 1+2*turns)
	for i := 1; i < len(msgs); i += 2 {
		assert.Equal(t, model.RoleUser, msgs[i].Role, "index %d", i)
		assert.Equal(t, model.RoleAssistant, msgs[i+1].Role, "index %d", i+1)
	}
}

func TestGenerate_ConcurrencyCap(t *testing.T) {
	var inFlight, peak atomic.Int64
	provider := completion.ProviderFunc(func(context.Context, string) (string, error) {
		cur := inFlight.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return "Ok.\nNOTHING: wait", nil
	})
	h := newHarness(t, provider, Config{MaxConcurrent: 2})

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.Generate(context.Background(), model.GenerateRequest{AgentID: fmt.Sprintf("agent-%d", i)})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestReset(t *testing.T) {
	h := newMockHarness(t)
	ctx := context.Background()

	_, err := h.svc.Generate(ctx, model.GenerateRequest{AgentID: "A", UserInput: "x", SystemPrompt: "old"})
	require.NoError(t, err)

	require.NoError(t, h.svc.Reset(ctx))
	require.NoError(t, h.svc.Reset(ctx), "reset is idempotent")

	assert.Equal(t, 0, h.svc.SessionCount())
	_, err = h.svc.Logs(ctx, "A")
	assert.ErrorIs(t, err, eventlog.ErrNotFound)

	_, err = h.svc.Generate(ctx, model.GenerateRequest{AgentID: "A", UserInput: "y", SystemPrompt: "new"})
	require.NoError(t, err)
	msgs, _ := h.svc.Session("A")
	require.Len(t, msgs, 3)
	assert.Equal(t, "new", msgs[0].Content, "a reset agent starts over with the new persona")
}

func TestClearLogs_KeepsSessions(t *testing.T) {
	h := newMockHarness(t)
	ctx := context.Background()

	_, err := h.svc.Generate(ctx, model.GenerateRequest{AgentID: "A", UserInput: "x", SystemPrompt: "p"})
	require.NoError(t, err)

	require.NoError(t, h.svc.ClearLogs(ctx))

	all, err := h.svc.AllLogs(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
	msgs, ok := h.svc.Session("A")
	require.True(t, ok)
	assert.Len(t, msgs, 3)
}

func TestLogAgents(t *testing.T) {
	h := newMockHarness(t)
	ctx := context.Background()
	for _, id := range []string{"c", "a", "b"} {
		_, err := h.svc.Generate(ctx, model.GenerateRequest{AgentID: id})
		require.NoError(t, err)
	}

	agents, err := h.svc.LogAgents(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, agents)
}
