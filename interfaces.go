package simuverse

import (
	"context"
	"net/http"
)

// Provider produces the raw model reply for a rendered prompt. Supply one
// with WithProvider to replace the provider selected by SIMUVERSE_PROVIDER.
// Errors are reported to callers as provider failures (HTTP 502); the reply
// text is validated like any other.
type Provider interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// RouteRegistrar adds routes to the server's mux after the built-in ones.
type RouteRegistrar func(mux *http.ServeMux)

// Middleware wraps the full HTTP handler chain.
type Middleware func(http.Handler) http.Handler
