package mcp

import (
	"context"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/simuverse/internal/prompt"
)

func (s *Server) registerPrompts() {
	// agent-persona — drafts a system prompt for a new simulated agent.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("agent-persona",
			mcplib.WithPromptDescription("Draft a persona system prompt for a new simulated agent"),
			mcplib.WithArgument("name",
				mcplib.ArgumentDescription("The agent's in-game name"),
				mcplib.RequiredArgument(),
			),
			mcplib.WithArgument("role",
				mcplib.ArgumentDescription("What the agent does in the world (e.g. baker, guard)"),
			),
		),
		s.handlePersonaPrompt,
	)

	// reply-protocol — explains the reply format every turn must follow.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("reply-protocol",
			mcplib.WithPromptDescription("The reply format agents must follow: reasoning, then one action line"),
		),
		s.handleReplyProtocolPrompt,
	)
}

func (s *Server) handlePersonaPrompt(_ context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	name := strings.TrimSpace(request.Params.Arguments["name"])
	if name == "" {
		return nil, fmt.Errorf("name argument is required")
	}
	role := strings.TrimSpace(request.Params.Arguments["role"])
	if role == "" {
		role = "resident"
	}

	text := fmt.Sprintf(`Write a system prompt for %s, a %s in a small simulated town.
Describe their personality, goals, and how they talk in three or four sentences.
Address the agent as "you". Do not describe the reply format; SimuVerse adds it.
Pass the result as system_prompt on the agent's first simuverse_generate call.`, name, role)

	return &mcplib.GetPromptResult{
		Description: fmt.Sprintf("Persona for %s", name),
		Messages: []mcplib.PromptMessage{
			{
				Role:    mcplib.RoleUser,
				Content: mcplib.TextContent{Type: "text", Text: text},
			},
		},
	}, nil
}

func (s *Server) handleReplyProtocolPrompt(_ context.Context, _ mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	text := `Every agent reply is checked before it is stored:

1. It needs at least two lines: reasoning first, then the action.
2. The final line must start with one of:
   MOVE: <location>       go somewhere
   NOTHING: <anything>    stay put
   CONVERSE: <agent_id>   speak to another agent; the whole reply is delivered to them
3. A reply that breaks either rule is replaced by a fixed NOTHING reply.

The model sees this reminder after every prompt:
` + prompt.Instruction

	return &mcplib.GetPromptResult{
		Description: "SimuVerse reply protocol",
		Messages: []mcplib.PromptMessage{
			{
				Role:    mcplib.RoleUser,
				Content: mcplib.TextContent{Type: "text", Text: text},
			},
		},
	}, nil
}
