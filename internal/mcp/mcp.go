// Package mcp implements the Model Context Protocol server for SimuVerse.
//
// The MCP server exposes the conversation service through MCP tools,
// resources, and prompts, so an MCP client can drive agent turns and inspect
// sessions and logs without the game engine.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/simuverse/internal/ctxutil"
	"github.com/ashita-ai/simuverse/internal/service/conversation"
)

// Server wraps the MCP server with SimuVerse's conversation service.
type Server struct {
	mcpServer *mcpserver.MCPServer
	svc       *conversation.Service
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all resources, tools, and prompts.
func New(svc *conversation.Service, logger *slog.Logger, version string) *Server {
	s := &Server{
		svc:    svc,
		logger: logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"simuverse",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithPromptCapabilities(true),
		mcpserver.WithRecovery(),
		mcpserver.WithInstructions("SimuVerse drives simulated game agents. "+
			"Call simuverse_generate to run one turn for an agent; read "+
			"simuverse://agent/{id}/session to see its conversation history."),
	)

	s.registerResources()
	s.registerTools()
	s.registerPrompts()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// mcpContext marks ctx as an MCP call, keeping any request ID the HTTP
// transport already attached.
func mcpContext(ctx context.Context) context.Context {
	caller := ctxutil.CallerFromContext(ctx)
	caller.Surface = ctxutil.SurfaceMCP
	return ctxutil.WithCaller(ctx, caller)
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
