package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const (
	agentsURI            = "simuverse://agents"
	agentSessionPrefix   = "simuverse://agent/"
	agentSessionSuffix   = "/session"
	agentSessionTemplate = agentSessionPrefix + "{id}" + agentSessionSuffix
)

func (s *Server) registerResources() {
	// simuverse://agents — agents with log entries.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			agentsURI,
			"Agents",
			mcplib.WithResourceDescription("Agents that have event log entries"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleAgents,
	)

	// simuverse://agent/{id}/session — one agent's conversation history.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			agentSessionTemplate,
			"Agent Session",
			mcplib.WithTemplateDescription("Conversation history of a specific agent"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleAgentSession,
	)
}

func (s *Server) handleAgents(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	agents, err := s.svc.LogAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: list agents: %w", err)
	}
	if agents == nil {
		agents = []string{}
	}
	return jsonResource(agentsURI, map[string]any{"agents": agents})
}

func (s *Server) handleAgentSession(_ context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	agentID, err := parseAgentSessionURI(uri)
	if err != nil {
		return nil, err
	}

	msgs, ok := s.svc.Session(agentID)
	if !ok {
		return nil, fmt.Errorf("mcp: no session for agent: %s", agentID)
	}
	return jsonResource(uri, map[string]any{
		"agent_id": agentID,
		"messages": msgs,
	})
}

// parseAgentSessionURI extracts the agent id from simuverse://agent/{id}/session.
func parseAgentSessionURI(uri string) (string, error) {
	rest, ok := strings.CutPrefix(uri, agentSessionPrefix)
	if !ok {
		return "", fmt.Errorf("mcp: invalid agent session URI: %s", uri)
	}
	agentID, ok := strings.CutSuffix(rest, agentSessionSuffix)
	if !ok {
		return "", fmt.Errorf("mcp: invalid agent session URI: %s", uri)
	}
	if agentID == "" {
		return "", fmt.Errorf("mcp: empty agent_id in URI: %s", uri)
	}
	return agentID, nil
}

func jsonResource(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal %s: %w", uri, err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
