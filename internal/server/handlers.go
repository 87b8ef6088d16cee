package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashita-ai/simuverse/internal/completion"
	"github.com/ashita-ai/simuverse/internal/ctxutil"
	"github.com/ashita-ai/simuverse/internal/eventlog"
	"github.com/ashita-ai/simuverse/internal/model"
	"github.com/ashita-ai/simuverse/internal/service/conversation"
)

// defaultMaxRequestBodyBytes applies when HandlersDeps leaves the limit unset.
const defaultMaxRequestBodyBytes = 1 << 20

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	svc                 *conversation.Service
	buffer              *eventlog.Buffer
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	providerName        string
	eventLogBackend     string
	maxRequestBodyBytes int64
	openapiSpec         []byte
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Buffer, OpenAPISpec.
type HandlersDeps struct {
	Service             *conversation.Service
	Buffer              *eventlog.Buffer
	Logger              *slog.Logger
	Version             string
	ProviderName        string
	EventLogBackend     string
	MaxRequestBodyBytes int64
	OpenAPISpec         []byte
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	if d.MaxRequestBodyBytes <= 0 {
		d.MaxRequestBodyBytes = defaultMaxRequestBodyBytes
	}
	return &Handlers{
		svc:                 d.Service,
		buffer:              d.Buffer,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		providerName:        d.ProviderName,
		eventLogBackend:     d.EventLogBackend,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
		openapiSpec:         d.OpenAPISpec,
	}
}

// HandleGenerate handles POST /generate.
func (h *Handlers) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	var req model.GenerateRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	resp, err := h.svc.Generate(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleReset handles POST /reset.
func (h *Handlers) HandleReset(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Reset(r.Context()); err != nil {
		h.writeInternalError(w, r, "failed to reset", err)
		return
	}
	writeJSON(w, http.StatusOK, model.StatusResponse{Status: "success", Message: "System reset successfully"})
}

// HandleClearLogs handles POST /clear_logs.
func (h *Handlers) HandleClearLogs(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ClearLogs(r.Context()); err != nil {
		h.writeInternalError(w, r, "failed to clear logs", err)
		return
	}
	writeJSON(w, http.StatusOK, model.StatusResponse{Status: "success", Message: "All logs cleared"})
}

// HandleAllLogs handles GET /api/logs.
func (h *Handlers) HandleAllLogs(w http.ResponseWriter, r *http.Request) {
	all, err := h.svc.AllLogs(r.Context())
	if err != nil {
		h.writeInternalError(w, r, "failed to read logs", err)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

// HandleAgentLogs handles GET /api/logs/{agent_id}.
func (h *Handlers) HandleAgentLogs(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agent_id")
	entries, err := h.svc.Logs(r.Context(), agentID)
	if err != nil {
		if errors.Is(err, eventlog.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "no logs for agent: "+agentID)
			return
		}
		h.writeInternalError(w, r, "failed to read logs", err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleListAgents handles GET /api/agents.
func (h *Handlers) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.svc.LogAgents(r.Context())
	if err != nil {
		h.writeInternalError(w, r, "failed to list agents", err)
		return
	}
	if agents == nil {
		agents = []string{}
	}
	writeJSON(w, http.StatusOK, model.AgentsResponse{Agents: agents})
}

// HandleSession handles GET /api/sessions/{agent_id}.
func (h *Handlers) HandleSession(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agent_id")
	msgs, ok := h.svc.Session(agentID)
	if !ok {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "no session for agent: "+agentID)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	writeJSON(w, http.StatusOK, model.SessionResponse{AgentID: agentID, Messages: msgs})
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Buffer health: >50% capacity = high, >75% capacity = critical.
	bufDepth := 0
	bufStatus := "ok"
	if h.buffer != nil {
		bufDepth = h.buffer.Len()
		capacity := h.buffer.Capacity()
		if bufDepth > capacity*3/4 {
			bufStatus = "critical"
			status = "degraded"
		} else if bufDepth > capacity/2 {
			bufStatus = "high"
		}
	}

	writeJSON(w, http.StatusOK, model.HealthResponse{
		Status:       status,
		Version:      h.version,
		Provider:     h.providerName,
		EventLog:     h.eventLogBackend,
		Sessions:     h.svc.SessionCount(),
		BufferDepth:  bufDepth,
		BufferStatus: bufStatus,
		Uptime:       int64(time.Since(h.startedAt).Seconds()),
	})
}

// HandleOpenAPISpec serves the embedded OpenAPI specification.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openapiSpec) == 0 {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "openapi spec not embedded")
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openapiSpec)
}

// --- Shared helpers ---

// writeServiceError maps conversation errors onto HTTP statuses.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, conversation.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
	case errors.Is(err, completion.ErrProviderFailure):
		writeError(w, r, http.StatusBadGateway, model.ErrCodeProviderFailure, "completion provider failed")
	default:
		h.writeInternalError(w, r, "failed to generate response", err)
	}
}

func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg, "error", err, "request_id", ctxutil.RequestIDFromContext(r.Context()))
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, msg)
}

// writeJSON writes a plain JSON success body.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response with the standard envelope.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIError{
		Error: model.ErrorDetail{Code: code, Message: message},
		Meta: model.ResponseMeta{
			RequestID: ctxutil.RequestIDFromContext(r.Context()),
			Timestamp: time.Now().UTC(),
		},
	})
}

// decodeJSON decodes a size-limited JSON request body into target. Unknown
// fields are ignored so older game clients keep working.
func decodeJSON(w http.ResponseWriter, r *http.Request, target any, maxBytes int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	return json.NewDecoder(r.Body).Decode(target)
}

func handleDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeError(w, r, http.StatusRequestEntityTooLarge, model.ErrCodeInvalidInput, "request body too large")
		return
	}
	writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
}
