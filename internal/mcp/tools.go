package mcp

import (
	"context"
	"errors"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/simuverse/internal/completion"
	"github.com/ashita-ai/simuverse/internal/eventlog"
	"github.com/ashita-ai/simuverse/internal/model"
	"github.com/ashita-ai/simuverse/internal/service/conversation"
)

const defaultLogLimit = 50

func (s *Server) registerTools() {
	// simuverse_generate — run one turn for an agent.
	s.mcpServer.AddTool(
		mcplib.NewTool("simuverse_generate",
			mcplib.WithDescription(`Run one conversation turn for a simulated agent.

The agent's session is created on first contact with system_prompt (and task,
when given) as its persona; later calls ignore both. The model's reply ends in
one action line: MOVE: <location>, NOTHING: <anything>, or CONVERSE: <agent_id>.
A CONVERSE reply is delivered into the target agent's session.

Returns agent_id, text, action (move|nothing|converse|none), and location.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("agent_id",
				mcplib.Description("Identifier of the agent taking the turn"),
				mcplib.Required(),
			),
			mcplib.WithString("user_input",
				mcplib.Description("The situation update for this turn"),
			),
			mcplib.WithString("system_prompt",
				mcplib.Description("Persona, used only when the agent has no session yet"),
			),
			mcplib.WithString("task",
				mcplib.Description("Optional task appended to the persona on first contact"),
			),
		),
		s.handleGenerate,
	)

	// simuverse_list_agents — agents with log entries and live sessions.
	s.mcpServer.AddTool(
		mcplib.NewTool("simuverse_list_agents",
			mcplib.WithDescription("List agents that have log entries, and how many live sessions exist."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleListAgents,
	)

	// simuverse_agent_logs — one agent's event log.
	s.mcpServer.AddTool(
		mcplib.NewTool("simuverse_agent_logs",
			mcplib.WithDescription(`Read one agent's event log, most recent entries last.

Long detail fields (prompts, raw replies) are truncated unless full=true.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("agent_id",
				mcplib.Description("Agent whose log to read"),
				mcplib.Required(),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum number of most recent entries to return"),
				mcplib.Min(1),
				mcplib.Max(1000),
				mcplib.DefaultNumber(defaultLogLimit),
			),
			mcplib.WithBoolean("full",
				mcplib.Description("Return detail fields untruncated"),
			),
		),
		s.handleAgentLogs,
	)
}

func (s *Server) handleGenerate(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	req := model.GenerateRequest{
		AgentID:      request.GetString("agent_id", ""),
		UserInput:    request.GetString("user_input", ""),
		SystemPrompt: request.GetString("system_prompt", ""),
		Task:         request.GetString("task", ""),
	}

	resp, err := s.svc.Generate(mcpContext(ctx), req)
	switch {
	case err == nil:
		return jsonResult(resp)
	case errors.Is(err, conversation.ErrInvalidInput):
		return errorResult(err.Error()), nil
	case errors.Is(err, completion.ErrProviderFailure):
		s.logger.Warn("mcp: generate failed", "error", err, "agent_id", req.AgentID)
		return errorResult("completion provider failed; the user turn was kept, retry to get a reply"), nil
	default:
		return nil, fmt.Errorf("mcp: generate: %w", err)
	}
}

func (s *Server) handleListAgents(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	agents, err := s.svc.LogAgents(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to list agents: %v", err)), nil
	}
	if agents == nil {
		agents = []string{}
	}
	return jsonResult(map[string]any{
		"agents":   agents,
		"sessions": s.svc.SessionCount(),
	})
}

func (s *Server) handleAgentLogs(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	agentID := request.GetString("agent_id", "")
	if agentID == "" {
		return errorResult("agent_id is required"), nil
	}
	limit := request.GetInt("limit", defaultLogLimit)
	if limit < 1 {
		limit = 1
	}
	full := request.GetBool("full", false)

	entries, err := s.svc.Logs(ctx, agentID)
	if errors.Is(err, eventlog.ErrNotFound) {
		return errorResult("no logs for agent: " + agentID), nil
	}
	if err != nil {
		return errorResult(fmt.Sprintf("failed to read logs: %v", err)), nil
	}

	total := len(entries)
	if total > limit {
		entries = entries[total-limit:]
	}
	out := make([]map[string]any, len(entries))
	for i, e := range entries {
		out[i] = compactEntry(e, full)
	}
	return jsonResult(map[string]any{
		"agent_id": agentID,
		"entries":  out,
		"total":    total,
	})
}
