// Package simuverse is the public API for embedding the SimuVerse agent
// orchestration server.
//
//	app, err := simuverse.New(
//	    simuverse.WithVersion(version),
//	    simuverse.WithLogger(logger),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The root package imports internal/*; internal/* never imports the root.
package simuverse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/simuverse/api"
	"github.com/ashita-ai/simuverse/internal/action"
	"github.com/ashita-ai/simuverse/internal/completion"
	"github.com/ashita-ai/simuverse/internal/config"
	"github.com/ashita-ai/simuverse/internal/eventlog"
	"github.com/ashita-ai/simuverse/internal/mcp"
	"github.com/ashita-ai/simuverse/internal/ratelimit"
	"github.com/ashita-ai/simuverse/internal/server"
	"github.com/ashita-ai/simuverse/internal/service/conversation"
	"github.com/ashita-ai/simuverse/internal/session"
	"github.com/ashita-ai/simuverse/internal/telemetry"
)

// App is the SimuVerse server lifecycle. Construct with New(), run with Run().
type App struct {
	cfg          config.Config
	srv          *server.Server
	buf          *eventlog.Buffer
	store        eventlog.Store
	limiter      ratelimit.Limiter
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New loads configuration, opens the event log, and wires every subsystem.
// It does NOT start any goroutines or accept HTTP connections; call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Parse()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.eventLogBackend != "" {
		cfg.EventLogBackend = o.eventLogBackend
		cfg.EventLogPath = o.eventLogPath
	}
	if o.provider != nil {
		cfg.Provider = config.ProviderExternal
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("simuverse starting", "version", version, "port", cfg.Port)

	casing, err := action.ParseCasingPolicy(cfg.TargetCasing)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	provider, providerName, err := newProvider(cfg, o)
	if err != nil {
		return nil, fmt.Errorf("completion provider: %w", err)
	}
	logger.Info("completion provider", "name", providerName)

	otelShutdown, err := telemetry.Init(context.Background(), telemetry.Config{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.ServiceName,
		Version:     version,
		Insecure:    cfg.OTELInsecure,
		SampleRatio: cfg.OTELSampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	store, err := eventlog.Open(context.Background(), eventlog.OpenConfig{
		Backend:     cfg.EventLogBackend,
		Path:        cfg.EventLogPath,
		DatabaseURL: cfg.DatabaseURL,
	}, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("event log: %w", err)
	}
	logger.Info("event log", "backend", cfg.EventLogBackend, "path", cfg.EventLogPath)

	buf := eventlog.NewBuffer(store, logger, cfg.EventBufferSize, cfg.EventFlushInterval)

	svc := conversation.New(session.NewStore(), provider, buf, logger, conversation.Config{
		CompletionTimeout: cfg.CompletionTimeout,
		MaxConcurrent:     int64(cfg.MaxConcurrentRequests),
		Casing:            casing,
	})

	mcpSrv := mcp.New(svc, logger, version)

	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst, "key", cfg.RateLimitKey)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	var extraRoutes []func(*http.ServeMux)
	for _, fn := range o.routeRegistrars {
		extraRoutes = append(extraRoutes, fn)
	}
	var middlewares []func(http.Handler) http.Handler
	for _, mw := range o.middlewares {
		middlewares = append(middlewares, mw)
	}

	srv := server.New(server.ServerConfig{
		Service:             svc,
		Logger:              logger,
		Buffer:              buf,
		Limiter:             limiter,
		RateLimitKey:        ratelimit.KeyFuncFor(cfg.RateLimitKey),
		MCPServer:           mcpSrv.MCPServer(),
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		Version:             version,
		ProviderName:        providerName,
		EventLogBackend:     cfg.EventLogBackend,
		OpenAPISpec:         api.OpenAPISpec,
		ExtraRoutes:         extraRoutes,
		Middlewares:         middlewares,
	})

	return &App{
		cfg:          cfg,
		srv:          srv,
		buf:          buf,
		store:        store,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Handler returns the root HTTP handler, for tests and for embedding the
// server in another listener.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// Run starts the event buffer and the HTTP server and blocks until ctx is
// cancelled or the server fails. It then shuts down in order: stop accepting
// requests and drain in-flight ones, flush the event buffer, close the store.
func (a *App) Run(ctx context.Context) error {
	a.buf.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	a.shutdown()
	return runErr
}

// shutdown gives each phase its own timeout so early completion doesn't
// steal budget from later phases.
func (a *App) shutdown() {
	a.logger.Info("simuverse shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	bufCtx, bufCancel := context.WithTimeout(context.Background(), 10*time.Second)
	a.buf.Drain(bufCtx)
	bufCancel()

	if err := a.store.Close(); err != nil {
		a.logger.Error("event log close error", "error", err)
	}
	if err := a.limiter.Close(); err != nil {
		a.logger.Error("rate limiter close error", "error", err)
	}

	otelCtx, otelCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := a.otelShutdown(otelCtx); err != nil {
		a.logger.Error("telemetry shutdown error", "error", err)
	}
	otelCancel()

	a.logger.Info("simuverse stopped")
}

// newProvider builds the completion provider named by cfg.Provider, unless
// an option supplied one.
func newProvider(cfg config.Config, o resolvedOptions) (completion.Provider, string, error) {
	if o.provider != nil {
		name := o.providerName
		if name == "" {
			name = config.ProviderExternal
		}
		return completion.ProviderFunc(o.provider.Complete), name, nil
	}

	switch cfg.Provider {
	case config.ProviderOpenAI:
		p, err := completion.NewOpenAIProvider(completion.OpenAIConfig{
			APIKey:      cfg.OpenAIAPIKey,
			BaseURL:     cfg.OpenAIBaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
		})
		if err != nil {
			return nil, "", err
		}
		return p, p.Name(), nil
	case config.ProviderOllama:
		p := completion.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, cfg.Temperature, cfg.CompletionTimeout)
		return p, p.Name(), nil
	case config.ProviderMock:
		p := completion.NewMockProvider("")
		return p, p.Name(), nil
	default:
		return nil, "", fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
