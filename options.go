package simuverse

import (
	"log/slog"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	port            int
	logger          *slog.Logger
	version         string
	provider        Provider
	providerName    string
	eventLogBackend string
	eventLogPath    string
	routeRegistrars []RouteRegistrar
	middlewares     []Middleware
}

// WithPort overrides the TCP port from config (SIMUVERSE_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithProvider replaces the configured completion provider. name is reported
// by /health.
func WithProvider(name string, p Provider) Option {
	return func(o *resolvedOptions) {
		o.provider = p
		o.providerName = name
	}
}

// WithEventLog overrides the event log backend and its location from config
// (SIMUVERSE_EVENTLOG_BACKEND and SIMUVERSE_EVENTLOG_PATH).
func WithEventLog(backend, path string) Option {
	return func(o *resolvedOptions) {
		o.eventLogBackend = backend
		o.eventLogPath = path
	}
}

// WithExtraRoutes registers additional routes on the shared HTTP mux.
// Multiple registrars may be registered; all are called in registration order.
func WithExtraRoutes(fn RouteRegistrar) Option {
	return func(o *resolvedOptions) { o.routeRegistrars = append(o.routeRegistrars, fn) }
}

// WithMiddleware registers an outermost HTTP middleware.
// The first-registered middleware is outermost.
func WithMiddleware(mw Middleware) Option {
	return func(o *resolvedOptions) { o.middlewares = append(o.middlewares, mw) }
}
