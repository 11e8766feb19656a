package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/maestrokit/maestro/pkg/agent"
	"github.com/maestrokit/maestro/pkg/ids"
	"github.com/maestrokit/maestro/pkg/memory/extractor"
	"github.com/maestrokit/maestro/pkg/metrics"
	"github.com/maestrokit/maestro/pkg/models"
	"github.com/maestrokit/maestro/pkg/stream"
)

// Chat runs one turn end to end: route, serialize within the conversation,
// execute the pipeline, and enqueue extraction. The sink may be nil for
// synchronous callers; it is closed before Chat returns either way. On
// failure the error event has been pushed and the *models.TurnError is also
// returned.
func (o *Orchestrator) Chat(ctx context.Context, req models.ChatRequest, sink stream.Sink) (*models.TurnResult, error) {
	if sink == nil {
		sink = stream.Discard{}
	}
	defer sink.Close()

	if req.Message == "" {
		return nil, o.failTurn(ctx, sink, "", "",
			models.NewTurnError(models.ErrKindInvalidInput, "message must not be empty"))
	}

	traceID := ids.NewTrace()
	turnID := ids.NewTurn()
	started := time.Now()

	// 1. routing
	agentID, err := o.route(ctx, req)
	if err != nil {
		return nil, o.failTurn(ctx, sink, "", turnID, err)
	}
	entry, err := o.entry(agentID)
	if err != nil {
		return nil, o.failTurn(ctx, sink, "", turnID, err)
	}
	if !entry.acquire() {
		return nil, o.failTurn(ctx, sink, "", turnID,
			models.NewTurnError(models.ErrKindNotFound, "agent %s is being removed", agentID))
	}
	defer entry.release()

	// 2. conversation serialization + cancellation registration
	conv, _ := o.convs.Ensure(req.ConversationID, req.UserID)
	turnCtx := ctx
	var cancel context.CancelFunc
	if o.cfg.Defaults.TurnTimeout > 0 {
		turnCtx, cancel = context.WithTimeout(ctx, o.cfg.Defaults.TurnTimeout)
	} else {
		turnCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	if err := conv.BeginTurn(ctx, agentID, cancel); err != nil {
		return nil, o.failTurn(ctx, sink, conv.ID, turnID,
			models.WrapTurnError(models.ErrKindCancelled, err))
	}
	defer conv.EndTurn()

	// 3. pipeline
	input := agent.TurnInput{
		TraceID:        traceID,
		TurnID:         turnID,
		ConversationID: conv.ID,
		UserID:         req.UserID,
		Message:        req.Message,
	}
	result, err := entry.agent.RunTurn(turnCtx, input, sink)

	outcome := "completed"
	if err != nil {
		outcome = string(models.KindOf(err))
		if outcome == "" {
			outcome = "failed"
		}
	}
	metrics.TurnsTotal.WithLabelValues(agentID, outcome).Inc()
	metrics.TurnDuration.WithLabelValues(agentID).Observe(time.Since(started).Seconds())
	metrics.BufferSize.Set(float64(o.deps.Buffer.Len()))

	if err != nil {
		slog.Warn("Turn failed",
			"agent_id", agentID, "conversation_id", conv.ID,
			"trace_id", traceID, "outcome", outcome, "error", err)
		return nil, o.failTurn(turnCtx, sink, conv.ID, turnID, err)
	}

	slog.Info("Turn completed",
		"agent_id", agentID, "conversation_id", conv.ID, "trace_id", traceID,
		"tool_rounds", result.ToolRounds, "duration", time.Since(started))

	// 4. detached extraction; anonymous and off-interval turns are skipped
	// inside MaybeEnqueue
	if o.deps.Extractor != nil {
		if o.deps.Extractor.MaybeEnqueue(extractor.Task{
			UserID:    req.UserID,
			UserText:  req.Message,
			ReplyText: result.Reply,
			TraceID:   traceID,
		}) {
			metrics.ExtractionsTotal.WithLabelValues("enqueued").Inc()
		}
	}
	return result, nil
}

// CancelTurn cancels the conversation's in-flight turn, if any.
func (o *Orchestrator) CancelTurn(conversationID string) (bool, error) {
	conv, err := o.convs.Get(conversationID)
	if err != nil {
		return false, models.WrapTurnError(models.ErrKindNotFound, err)
	}
	return conv.CancelTurn(), nil
}

// route picks the agent: an explicit override must exist; otherwise the
// router decides.
func (o *Orchestrator) route(ctx context.Context, req models.ChatRequest) (string, error) {
	if req.AgentID != "" {
		if !o.cfg.AgentRegistry.Has(req.AgentID) {
			return "", models.NewTurnError(models.ErrKindNotFound, "agent %s is not registered", req.AgentID)
		}
		metrics.RoutingDecisionsTotal.WithLabelValues("explicit").Inc()
		return req.AgentID, nil
	}
	agentID, err := o.deps.Router.SelectAgent(ctx, req.Message)
	if err != nil {
		return "", err
	}
	metrics.RoutingDecisionsTotal.WithLabelValues("routed").Inc()
	return agentID, nil
}

// failTurn delivers the error event to streaming consumers. Push failures
// are ignored; the sink may already be dead.
func (o *Orchestrator) failTurn(ctx context.Context, sink stream.Sink, conversationID, turnID string, err error) error {
	var turnErr *models.TurnError
	if !errors.As(err, &turnErr) {
		turnErr = models.WrapTurnError(models.ErrKindModelFailed, err)
	}
	_ = sink.Push(ctx, models.StreamEvent{
		Type:           models.StreamEventError,
		ConversationID: conversationID,
		TurnID:         turnID,
		Error:          turnErr,
	})
	return turnErr
}
