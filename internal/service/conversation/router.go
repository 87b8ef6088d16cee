package conversation

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/simuverse/internal/model"
	"github.com/ashita-ai/simuverse/internal/session"
	"github.com/ashita-ai/simuverse/internal/telemetry"
)

// ErrNotDeliverable is returned by Route for anything but a CONVERSE action
// with a target.
var ErrNotDeliverable = errors.New("conversation: action is not a deliverable converse")

// Router delivers one agent's CONVERSE reply into another agent's session.
type Router struct {
	sessions *session.Store
	events   EventLog
	logger   *slog.Logger

	forwards metric.Int64Counter
}

// NewRouter creates a Router over sessions, logging deliveries to events.
func NewRouter(sessions *session.Store, events EventLog, logger *slog.Logger) *Router {
	forwards, _ := telemetry.Meter("simuverse/conversation").Int64Counter("simuverse.forwards",
		metric.WithDescription("CONVERSE messages delivered to another agent's session"),
	)
	return &Router{sessions: sessions, events: events, logger: logger, forwards: forwards}
}

// Route appends text, tagged with source as its sender, to the target
// agent's session as a user message. The target session is created empty if
// it does not exist. The delivery is logged on the source agent.
//
// Route is not idempotent: each call delivers another copy.
func (r *Router) Route(ctx context.Context, source string, act model.Action, text string) error {
	if !act.IsDelivery() {
		return ErrNotDeliverable
	}

	target := r.sessions.Ensure(act.Target)
	target.Append(model.Message{
		Role:    model.RoleUser,
		Content: model.ForwardedContent(source, text),
	})
	r.forwards.Add(ctx, 1)

	if err := r.events.Record(source, model.EventConversationForwarded, map[string]any{
		"target":  act.Target,
		"message": text,
	}); err != nil {
		r.logger.Warn("conversation: record forward failed", "error", err, "agent_id", source)
	}

	r.logger.Debug("conversation: forwarded", "from", source, "to", act.Target)
	return nil
}
