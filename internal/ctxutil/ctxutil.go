// Package ctxutil provides shared context key accessors.
//
// Both the HTTP server and the MCP surface put caller metadata on the
// request context; the conversation service reads it back when logging.
// All three import ctxutil instead of each other.
package ctxutil

import "context"

type contextKey string

const (
	keyRequestID contextKey = "request_id"
	keyCaller    contextKey = "caller"
)

// Surface names the entry point a turn arrived through.
type Surface string

const (
	SurfaceHTTP Surface = "http"
	SurfaceMCP  Surface = "mcp"
)

// CallerMeta describes who started a request.
type CallerMeta struct {
	Surface    Surface
	RemoteAddr string
}

// WithRequestID returns a new context carrying the request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

// RequestIDFromContext extracts the request ID, or "" when absent.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(keyRequestID).(string); ok {
		return v
	}
	return ""
}

// WithCaller returns a new context carrying caller metadata.
func WithCaller(ctx context.Context, meta CallerMeta) context.Context {
	return context.WithValue(ctx, keyCaller, meta)
}

// CallerFromContext extracts caller metadata. The zero value means unknown.
func CallerFromContext(ctx context.Context) CallerMeta {
	if v, ok := ctx.Value(keyCaller).(CallerMeta); ok {
		return v
	}
	return CallerMeta{}
}
