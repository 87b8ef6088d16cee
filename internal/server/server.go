package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/simuverse/internal/ctxutil"
	"github.com/ashita-ai/simuverse/internal/eventlog"
	"github.com/ashita-ai/simuverse/internal/ratelimit"
	"github.com/ashita-ai/simuverse/internal/service/conversation"
)

// Server is the SimuVerse HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Buffer, Limiter, MCPServer, OpenAPISpec.
type ServerConfig struct {
	// Required dependencies.
	Service *conversation.Service
	Logger  *slog.Logger

	// Optional dependencies (nil = disabled).
	Buffer    *eventlog.Buffer
	Limiter   ratelimit.Limiter
	MCPServer *mcpserver.MCPServer

	// RateLimitKey picks the bucket for a /generate request. Defaults to
	// ratelimit.IPKeyFunc.
	RateLimitKey ratelimit.KeyFunc

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxRequestBodyBytes int64

	// Reported by /health.
	Version         string
	ProviderName    string
	EventLogBackend string

	OpenAPISpec []byte

	// Extension points. ExtraRoutes run after the built-in routes are
	// registered; Middlewares wrap the whole chain, first entry outermost.
	ExtraRoutes []func(*http.ServeMux)
	Middlewares []func(http.Handler) http.Handler
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Service:             cfg.Service,
		Buffer:              cfg.Buffer,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		ProviderName:        cfg.ProviderName,
		EventLogBackend:     cfg.EventLogBackend,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         cfg.OpenAPISpec,
	})

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.NoopLimiter{}
	}
	keyFunc := cfg.RateLimitKey
	if keyFunc == nil {
		keyFunc = ratelimit.IPKeyFunc
	}
	generateRL := ratelimit.Middleware(limiter, cfg.Logger, keyFunc, func(r *http.Request) string {
		return ctxutil.RequestIDFromContext(r.Context())
	})

	mux := http.NewServeMux()

	// Game-facing endpoints.
	mux.Handle("POST /generate", generateRL(http.HandlerFunc(h.HandleGenerate)))
	mux.HandleFunc("POST /reset", h.HandleReset)
	mux.HandleFunc("POST /clear_logs", h.HandleClearLogs)

	// Log and session inspection.
	mux.HandleFunc("GET /api/logs", h.HandleAllLogs)
	mux.HandleFunc("GET /api/logs/{agent_id}", h.HandleAgentLogs)
	mux.HandleFunc("GET /api/agents", h.HandleListAgents)
	mux.HandleFunc("GET /api/sessions/{agent_id}", h.HandleSession)

	// MCP StreamableHTTP transport.
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(cfg.MCPServer))
	}

	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)
	mux.HandleFunc("GET /health", h.HandleHealth)

	for _, register := range cfg.ExtraRoutes {
		register(mux)
	}

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)
	for i := len(cfg.Middlewares) - 1; i >= 0; i-- {
		handler = cfg.Middlewares[i](handler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
