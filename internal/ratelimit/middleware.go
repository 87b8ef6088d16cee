package ratelimit

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/simuverse/internal/model"
	"github.com/ashita-ai/simuverse/internal/telemetry"
)

// Key modes accepted by KeyFuncFor.
const (
	KeyIP    = "ip"
	KeyAgent = "agent"
)

// agentPeekBytes caps how much of a request body AgentKeyFunc reads.
const agentPeekBytes = 4 << 10

// KeyFunc extracts the rate limit key from a request.
// Returns empty string to skip rate limiting for this request.
type KeyFunc func(r *http.Request) string

// RequestIDFunc extracts the request ID for the error envelope.
// Injected by the caller to avoid a dependency on the server package.
type RequestIDFunc func(r *http.Request) string

// Middleware returns HTTP middleware that enforces limiter per key. Limiter
// errors fail open: the request proceeds and the error is logged.
func Middleware(limiter Limiter, logger *slog.Logger, keyFunc KeyFunc, reqIDFunc RequestIDFunc) func(http.Handler) http.Handler {
	rejected, _ := telemetry.Meter("simuverse/ratelimit").Int64Counter("simuverse.ratelimit.rejected",
		metric.WithDescription("Requests refused by the rate limiter"),
	)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			d, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.Warn("ratelimit: limiter error, failing open", "error", err, "key", key)
				next.ServeHTTP(w, r)
				return
			}

			if !d.Allowed {
				if rejected != nil {
					rejected.Add(r.Context(), 1, metric.WithAttributes(attribute.String("route", r.URL.Path)))
				}
				logger.Debug("ratelimit: rejected", "key", key, "retry_after", d.RetryAfter)
				retryAfter := int(math.Ceil(d.RetryAfter.Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

				var requestID string
				if reqIDFunc != nil {
					requestID = reqIDFunc(r)
				}
				writeRateLimitError(w, requestID)
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			next.ServeHTTP(w, r)
		})
	}
}

// writeRateLimitError writes a rate-limit error using the standard API error envelope.
func writeRateLimitError(w http.ResponseWriter, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(model.APIError{
		Error: model.ErrorDetail{
			Code:    model.ErrCodeRateLimited,
			Message: "too many requests",
		},
		Meta: model.ResponseMeta{
			RequestID: requestID,
			Timestamp: time.Now().UTC(),
		},
	})
}

// IPKeyFunc keys requests by client IP taken from RemoteAddr only.
// X-Forwarded-For is not trusted: any client can set it.
func IPKeyFunc(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// AgentKeyFunc keys /generate requests by the agent_id in the JSON body so a
// single runaway agent is throttled without starving others behind the same
// address. The body is restored for the handler. Requests without a readable
// agent_id fall back to IPKeyFunc.
func AgentKeyFunc(r *http.Request) string {
	if r.Body == nil || r.Body == http.NoBody {
		return IPKeyFunc(r)
	}
	head, err := io.ReadAll(io.LimitReader(r.Body, agentPeekBytes))
	r.Body = readCloser{io.MultiReader(bytes.NewReader(head), r.Body), r.Body}
	if err != nil {
		return IPKeyFunc(r)
	}

	var probe struct {
		AgentID string `json:"agent_id"`
	}
	if err := json.Unmarshal(head, &probe); err != nil {
		// head may be a truncated prefix of a large body.
		probe.AgentID = scanAgentID(head)
	}
	if probe.AgentID == "" {
		return IPKeyFunc(r)
	}
	return "agent:" + probe.AgentID
}

// scanAgentID walks the top-level object token by token and returns the
// first agent_id string value, tolerating a truncated tail.
func scanAgentID(head []byte) string {
	dec := json.NewDecoder(bytes.NewReader(head))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return ""
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return ""
		}
		if key, _ := keyTok.(string); key == "agent_id" {
			var id string
			if err := dec.Decode(&id); err != nil {
				return ""
			}
			return id
		}
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return ""
		}
	}
	return ""
}

type readCloser struct {
	io.Reader
	io.Closer
}

// KeyFuncFor returns the KeyFunc for a configured key mode. Unknown modes
// key by IP.
func KeyFuncFor(mode string) KeyFunc {
	if mode == KeyAgent {
		return AgentKeyFunc
	}
	return IPKeyFunc
}
