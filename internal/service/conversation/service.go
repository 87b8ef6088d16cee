// Package conversation runs one agent turn end to end: session bookkeeping,
// prompt assembly, the completion call, reply validation, action parsing, and
// CONVERSE routing. Both the HTTP API and the MCP server delegate here.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/ashita-ai/simuverse/internal/action"
	"github.com/ashita-ai/simuverse/internal/completion"
	"github.com/ashita-ai/simuverse/internal/ctxutil"
	"github.com/ashita-ai/simuverse/internal/model"
	"github.com/ashita-ai/simuverse/internal/prompt"
	"github.com/ashita-ai/simuverse/internal/session"
	"github.com/ashita-ai/simuverse/internal/telemetry"
)

// ErrInvalidInput wraps request validation failures.
var ErrInvalidInput = errors.New("invalid input")

// EventLog is the side channel the service writes lifecycle entries to.
// Record must not block on I/O; *eventlog.Buffer satisfies it.
type EventLog interface {
	Record(agentID string, typ model.EventType, details map[string]any) error
	Entries(ctx context.Context, agentID string) ([]model.LogEntry, error)
	All(ctx context.Context) (map[string][]model.LogEntry, error)
	Agents(ctx context.Context) ([]string, error)
	Clear(ctx context.Context) error
}

// Config tunes a Service.
type Config struct {
	// CompletionTimeout bounds one provider call. Zero means no bound beyond
	// the request context.
	CompletionTimeout time.Duration
	// MaxConcurrent caps in-flight provider calls across all agents.
	MaxConcurrent int64
	Casing        action.CasingPolicy
}

// Service encapsulates the turn logic shared by HTTP and MCP handlers.
type Service struct {
	sessions *session.Store
	provider completion.Provider
	events   EventLog
	router   *Router
	sem      *semaphore.Weighted
	casing   action.CasingPolicy
	logger   *slog.Logger
	tracer   trace.Tracer

	completions        metric.Int64Counter
	completionDuration metric.Float64Histogram
	validationFailures metric.Int64Counter
	actions            metric.Int64Counter
}

// New creates a conversation Service.
func New(sessions *session.Store, provider completion.Provider, events EventLog, logger *slog.Logger, cfg Config) *Service {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 16
	}
	if cfg.Casing == "" {
		cfg.Casing = action.CasingMixed
	}

	meter := telemetry.Meter("simuverse/conversation")
	completions, _ := meter.Int64Counter("simuverse.completions",
		metric.WithDescription("Completion provider calls by outcome"),
	)
	completionDur, _ := meter.Float64Histogram("simuverse.completion.duration",
		metric.WithDescription("Completion provider call latency (ms)"),
		metric.WithUnit("ms"),
	)
	validationFailures, _ := meter.Int64Counter("simuverse.validation_failures",
		metric.WithDescription("Replies replaced by a fallback, by reason"),
	)
	actions, _ := meter.Int64Counter("simuverse.actions",
		metric.WithDescription("Parsed actions by kind"),
	)

	return &Service{
		sessions:           sessions,
		provider:           completion.WithTimeout(provider, cfg.CompletionTimeout),
		events:             events,
		router:             NewRouter(sessions, events, logger),
		sem:                semaphore.NewWeighted(cfg.MaxConcurrent),
		casing:             cfg.Casing,
		logger:             logger,
		tracer:             telemetry.Tracer("simuverse/conversation"),
		completions:        completions,
		completionDuration: completionDur,
		validationFailures: validationFailures,
		actions:            actions,
	}
}

// Generate runs one turn for req.AgentID and returns the reply and the action
// it names. A provider failure leaves the user turn in the session with no
// assistant turn after it and returns an error wrapping
// completion.ErrProviderFailure.
func (s *Service) Generate(ctx context.Context, req model.GenerateRequest) (model.GenerateResponse, error) {
	if err := model.ValidateGenerateRequest(req); err != nil {
		return model.GenerateResponse{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	ctx, span := s.tracer.Start(ctx, "conversation.generate",
		trace.WithAttributes(attribute.String("simuverse.agent_id", req.AgentID)),
	)
	defer span.End()

	s.record(ctx, req.AgentID, model.EventUserInput, s.userInputDetails(ctx, req))

	sess := s.sessions.GetOrCreate(req.AgentID, req.SystemPrompt, req.Task)
	// Hold the agent's turn so the user message and its reply stay adjacent.
	sess.LockTurn()
	defer sess.UnlockTurn()

	sess.Append(model.Message{Role: model.RoleUser, Content: req.UserInput})
	promptText := prompt.Build(sess.Messages())
	s.record(ctx, req.AgentID, model.EventGeneratingResponse, map[string]any{"prompt": promptText})

	raw, err := s.complete(ctx, promptText)
	if err != nil {
		span.RecordError(err)
		s.record(ctx, req.AgentID, model.EventProviderFailure, map[string]any{"error": err.Error()})
		s.logger.Error("conversation: completion failed",
			"error", err,
			"agent_id", req.AgentID,
			"request_id", ctxutil.RequestIDFromContext(ctx),
		)
		return model.GenerateResponse{}, err
	}

	v := action.Validate(raw)
	if v.Rejected {
		s.validationFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", v.Reason)))
		s.record(ctx, req.AgentID, model.EventValidationFailure, map[string]any{
			"reason":   v.Reason,
			"response": v.Text,
			"raw":      raw,
		})
	}

	sess.Append(model.Message{Role: model.RoleAssistant, Content: v.Text})

	act := action.Parse(v.Text, s.casing)
	s.actions.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(act.Kind))))
	span.SetAttributes(attribute.String("simuverse.action", string(act.Kind)))

	if act.IsDelivery() {
		// Casing applies to the reported location only; delivery goes to the
		// agent id as the model wrote it.
		if err := s.router.Route(ctx, req.AgentID, action.Parse(v.Text, action.CasingPreserve), v.Text); err != nil {
			// Unreachable for a delivery action; logged rather than failing the turn.
			s.logger.Error("conversation: route failed", "error", err, "agent_id", req.AgentID)
		}
	}

	s.record(ctx, req.AgentID, model.EventResponse, map[string]any{
		"text":     v.Text,
		"action":   string(act.Kind),
		"location": act.Target,
	})

	return model.GenerateResponse{
		AgentID:  req.AgentID,
		Text:     v.Text,
		Action:   string(act.Kind),
		Location: act.Target,
	}, nil
}

// complete makes the single provider call for a turn, bounded by the
// process-wide concurrency semaphore.
func (s *Service) complete(ctx context.Context, promptText string) (string, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("%w: waiting for a completion slot: %w", completion.ErrProviderFailure, err)
	}
	defer s.sem.Release(1)

	ctx, span := s.tracer.Start(ctx, "completion.complete")
	defer span.End()

	start := time.Now()
	text, err := s.provider.Complete(ctx, promptText)
	s.completionDuration.Record(ctx, float64(time.Since(start).Milliseconds()))

	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		if !errors.Is(err, completion.ErrProviderFailure) {
			err = fmt.Errorf("%w: %w", completion.ErrProviderFailure, err)
		}
	}
	s.completions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	return text, err
}

func (s *Service) userInputDetails(ctx context.Context, req model.GenerateRequest) map[string]any {
	details := map[string]any{
		"input":         req.UserInput,
		"system_prompt": req.SystemPrompt,
	}
	if req.Task != "" {
		details["task"] = req.Task
	}
	if id := ctxutil.RequestIDFromContext(ctx); id != "" {
		details["request_id"] = id
	}
	if caller := ctxutil.CallerFromContext(ctx); caller.Surface != "" {
		details["surface"] = string(caller.Surface)
	}
	return details
}

// record writes a log entry. The log is a side channel, so a failure is
// logged and never fails the turn.
func (s *Service) record(ctx context.Context, agentID string, typ model.EventType, details map[string]any) {
	if err := s.events.Record(agentID, typ, details); err != nil {
		s.logger.Warn("conversation: record event failed",
			"error", err,
			"agent_id", agentID,
			"type", string(typ),
			"request_id", ctxutil.RequestIDFromContext(ctx),
		)
	}
}

// Reset forgets every session and clears the event log.
func (s *Service) Reset(ctx context.Context) error {
	s.sessions.Reset()
	if err := s.events.Clear(ctx); err != nil {
		return fmt.Errorf("conversation: reset: %w", err)
	}
	s.logger.Info("conversation: sessions and logs reset")
	return nil
}

// ClearLogs clears the event log and leaves sessions untouched.
func (s *Service) ClearLogs(ctx context.Context) error {
	if err := s.events.Clear(ctx); err != nil {
		return fmt.Errorf("conversation: clear logs: %w", err)
	}
	s.logger.Info("conversation: logs cleared")
	return nil
}

// Logs returns one agent's log entries; eventlog.ErrNotFound if it has none.
func (s *Service) Logs(ctx context.Context, agentID string) ([]model.LogEntry, error) {
	return s.events.Entries(ctx, agentID)
}

// AllLogs returns every agent's log entries.
func (s *Service) AllLogs(ctx context.Context) (map[string][]model.LogEntry, error) {
	return s.events.All(ctx)
}

// LogAgents returns the sorted ids of agents that have log entries.
func (s *Service) LogAgents(ctx context.Context) ([]string, error) {
	return s.events.Agents(ctx)
}

// Session returns a snapshot of an agent's messages.
func (s *Service) Session(agentID string) ([]model.Message, bool) {
	sess, ok := s.sessions.Get(agentID)
	if !ok {
		return nil, false
	}
	return sess.Messages(), true
}

// SessionCount returns the number of live sessions.
func (s *Service) SessionCount() int {
	return s.sessions.Len()
}
