// Package agent implements the per-agent turn pipeline: prompt composition
// from layered memory, model streaming, concurrent tool dispatch, and turn
// finalization. One Agent instance serves one registered agent id; the
// orchestrator owns instantiation and routing.
package agent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/maestrokit/maestro/pkg/config"
	"github.com/maestrokit/maestro/pkg/knowledge"
	"github.com/maestrokit/maestro/pkg/llm"
	"github.com/maestrokit/maestro/pkg/mcp"
	"github.com/maestrokit/maestro/pkg/memory/buffer"
	"github.com/maestrokit/maestro/pkg/memory/longterm"
	"github.com/maestrokit/maestro/pkg/memory/memobase"
	"github.com/maestrokit/maestro/pkg/models"
	"github.com/maestrokit/maestro/pkg/stream"
)

// Tooling is the MCP surface the pipeline needs. *mcp.Service implements it.
type Tooling interface {
	ListTools(serverID string) []models.Tool
	State(serverID string) (models.ServerState, error)
	Invoke(ctx context.Context, serverID, toolName string, params map[string]any) (*mcp.InvokeResult, error)
}

// Deps bundles the shared services an agent runs against. LongTerm, UserCtx,
// and Knowledge may be nil; the corresponding prompt blocks are then omitted.
type Deps struct {
	Client    llm.Client
	Tools     Tooling
	Buffer    *buffer.Buffer
	LongTerm  *longterm.Memory
	UserCtx   *memobase.Store
	Knowledge *knowledge.Library
	Memory    *config.MemoryConfig
	Defaults  *config.Defaults
}

// Agent runs turns for one configured agent.
type Agent struct {
	id   string
	cfg  *config.AgentConfig
	deps Deps
}

// New creates an agent instance. The config is not copied; the registry owns
// it and replacements swap the whole instance.
func New(id string, cfg *config.AgentConfig, deps Deps) *Agent {
	return &Agent{id: id, cfg: cfg, deps: deps}
}

// ID returns the agent's registry id.
func (a *Agent) ID() string { return a.id }

// Config returns the agent's configuration.
func (a *Agent) Config() *config.AgentConfig { return a.cfg }

// TurnInput is one routed chat turn. Identifiers are assigned by the
// orchestrator before the pipeline starts.
type TurnInput struct {
	TraceID        string
	TurnID         string
	ConversationID string
	UserID         int64
	Message        string
}

// RunTurn executes the turn pipeline against the sink. On success the done
// event has been pushed; the caller owns sink closure either way. Errors are
// *models.TurnError with the turn's failure kind.
//
// Cancellation contract: the user message is buffered before the first model
// call, so a turn cancelled mid-stream keeps the user message but persists
// no partial reply.
func (a *Agent) RunTurn(ctx context.Context, input TurnInput, sink stream.Sink) (*models.TurnResult, error) {
	// 1. composing: tool scope first so MandatoryTools fails before any
	// model traffic
	toolDefs, err := a.toolDefinitions()
	if err != nil {
		return nil, err
	}
	messages := a.compose(ctx, input)

	meta := models.TurnMetadata(input.UserID, a.id, input.ConversationID)
	meta[models.MetaRole] = string(models.RoleUser)
	a.deps.Buffer.Add(ctx, input.Message, meta)

	// 2. model_streaming / tool_dispatch rounds
	maxRounds := a.deps.Defaults.MaxToolRounds
	if maxRounds <= 0 {
		maxRounds = 6
	}

	var reply strings.Builder
	rounds := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, turnCtxError(ctx)
		}

		chunks, err := a.deps.Client.Generate(ctx, &llm.GenerateInput{Messages: messages, Tools: toolDefs})
		if err != nil {
			return nil, models.WrapTurnError(models.ErrKindModelFailed, err)
		}
		text, calls, err := a.forward(ctx, chunks, sink, input)
		if err != nil {
			return nil, err
		}
		reply.WriteString(text)
		messages = append(messages, llm.ConversationMessage{
			Role:      string(models.RoleAssistant),
			Content:   text,
			ToolCalls: calls,
		})

		if len(calls) == 0 {
			break
		}
		rounds++
		if rounds > maxRounds {
			return nil, models.NewTurnError(models.ErrKindToolLoopExceeded,
				"model requested tool round %d, limit is %d", rounds, maxRounds)
		}

		toolMessages, err := a.dispatch(ctx, calls, sink, input)
		if err != nil {
			return nil, err
		}
		messages = append(messages, toolMessages...)
	}

	// 3. finalizing
	replyText := reply.String()
	replyMeta := models.TurnMetadata(input.UserID, a.id, input.ConversationID)
	replyMeta[models.MetaRole] = string(models.RoleAssistant)
	a.deps.Buffer.Add(ctx, replyText, replyMeta)

	if input.UserID != 0 && a.deps.LongTerm != nil && replyText != "" {
		importance := 0.5
		if a.deps.Memory != nil && a.deps.Memory.LongTerm.DefaultImportance > 0 {
			importance = a.deps.Memory.LongTerm.DefaultImportance
		}
		if _, err := a.deps.LongTerm.Add(ctx, replyText, nil, replyMeta, importance, input.UserID); err != nil {
			slog.Warn("Long-term write failed at turn completion",
				"agent_id", a.id, "user_id", input.UserID, "trace_id", input.TraceID, "error", err)
		}
	}

	result := &models.TurnResult{
		Reply:          replyText,
		ToolRounds:     rounds,
		TraceID:        input.TraceID,
		AgentID:        a.id,
		ConversationID: input.ConversationID,
		TurnID:         input.TurnID,
	}
	if err := a.push(ctx, sink, models.StreamEvent{
		Type:           models.StreamEventDone,
		ConversationID: input.ConversationID,
		TurnID:         input.TurnID,
		Reply:          replyText,
		ToolRounds:     rounds,
		TraceID:        input.TraceID,
	}); err != nil {
		return nil, err
	}
	return result, nil
}

// forward drains one model stream, pushing text to the sink and collecting
// tool call requests. Returns the round's text and calls.
func (a *Agent) forward(ctx context.Context, chunks <-chan llm.Chunk, sink stream.Sink, input TurnInput) (string, []llm.ToolCallRequest, error) {
	var text strings.Builder
	var calls []llm.ToolCallRequest

	for {
		select {
		case <-ctx.Done():
			return "", nil, turnCtxError(ctx)
		case chunk, ok := <-chunks:
			if !ok {
				return text.String(), calls, nil
			}
			switch c := chunk.(type) {
			case *llm.TextChunk:
				text.WriteString(c.Content)
				if err := a.push(ctx, sink, models.StreamEvent{
					Type:           models.StreamEventToken,
					ConversationID: input.ConversationID,
					TurnID:         input.TurnID,
					Token:          c.Content,
				}); err != nil {
					return "", nil, err
				}
			case *llm.ToolCallChunk:
				calls = append(calls, llm.ToolCallRequest{ID: c.CallID, Name: c.Name, Arguments: c.Arguments})
			case *llm.ErrorChunk:
				kind := models.ErrKindModelFailed
				if c.Stalled {
					kind = models.ErrKindModelStalled
				}
				return "", nil, models.NewTurnError(kind, "%s", c.Message)
			case *llm.UsageChunk:
				slog.Debug("Model usage",
					"agent_id", a.id, "trace_id", input.TraceID,
					"input_tokens", c.InputTokens, "output_tokens", c.OutputTokens)
			}
		}
	}
}

// push maps sink failures onto the turn's error taxonomy.
func (a *Agent) push(ctx context.Context, sink stream.Sink, event models.StreamEvent) error {
	err := sink.Push(ctx, event)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return turnCtxError(ctx)
	case err == stream.ErrConsumerSlow:
		return models.WrapTurnError(models.ErrKindConsumerSlow, err)
	default:
		return models.WrapTurnError(models.ErrKindConsumerSlow, err)
	}
}

func turnCtxError(ctx context.Context) error {
	if ctx.Err() == context.DeadlineExceeded {
		return models.NewTurnError(models.ErrKindTimeout, "turn deadline exceeded")
	}
	return models.NewTurnError(models.ErrKindCancelled, "turn cancelled")
}
