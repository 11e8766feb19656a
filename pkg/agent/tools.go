package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/maestrokit/maestro/pkg/llm"
	"github.com/maestrokit/maestro/pkg/metrics"
	"github.com/maestrokit/maestro/pkg/models"
	"github.com/maestrokit/maestro/pkg/stream"
)

// toolDefinitions builds the schemas offered to the model: the agent's
// declared servers intersected with the ready set. Tool names are qualified
// as "server.tool" so dispatch can route the call back. A non-ready server
// is silently omitted unless the agent declares MandatoryTools.
func (a *Agent) toolDefinitions() ([]llm.ToolDefinition, error) {
	var defs []llm.ToolDefinition
	for _, serverID := range a.cfg.MCPServers {
		state, err := a.deps.Tools.State(serverID)
		if err != nil || state != models.ServerReady {
			if a.cfg.MandatoryTools {
				return nil, models.NewTurnError(models.ErrKindToolUnavailable,
					"mandatory server %s is not ready", serverID).WithServer(serverID, "")
			}
			slog.Debug("Omitting tools of non-ready server",
				"agent_id", a.id, "server_id", serverID, "state", state)
			continue
		}
		for _, tool := range a.deps.Tools.ListTools(serverID) {
			defs = append(defs, llm.ToolDefinition{
				Name:             qualifyTool(serverID, tool.Name),
				Description:      tool.Description,
				ParametersSchema: string(tool.InputSchema),
			})
		}
	}
	return defs, nil
}

// dispatch runs one tool round: announce every call, invoke them
// concurrently, and return the results as tool messages in call order.
// Invocation failures come back as tool message text so the model can
// recover; only cancellation and sink failures abort the round.
func (a *Agent) dispatch(ctx context.Context, calls []llm.ToolCallRequest, sink stream.Sink, input TurnInput) ([]llm.ConversationMessage, error) {
	for _, call := range calls {
		serverID, toolName := splitTool(call.Name)
		if err := a.push(ctx, sink, models.StreamEvent{
			Type:           models.StreamEventToolCallStart,
			ConversationID: input.ConversationID,
			TurnID:         input.TurnID,
			ToolCallID:     call.ID,
			ServerID:       serverID,
			ToolName:       toolName,
		}); err != nil {
			return nil, err
		}
	}

	results := make([]llm.ConversationMessage, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		g.Go(func() error {
			text, isError, err := a.invoke(gctx, call)
			if err != nil {
				return err
			}
			results[i] = llm.ConversationMessage{
				Role:       string(models.RoleTool),
				Content:    text,
				ToolCallID: call.ID,
				ToolName:   call.Name,
			}
			serverID, toolName := splitTool(call.Name)
			return a.push(gctx, sink, models.StreamEvent{
				Type:           models.StreamEventToolCallResult,
				ConversationID: input.ConversationID,
				TurnID:         input.TurnID,
				ToolCallID:     call.ID,
				ServerID:       serverID,
				ToolName:       toolName,
				Result:         text,
				IsError:        isError,
			})
		})
	}
	if err := g.Wait(); err != nil {
		if models.KindOf(err) != "" {
			return nil, err
		}
		return nil, models.WrapTurnError(models.ErrKindToolUnavailable, err)
	}
	return results, nil
}

// invoke runs one tool call. The bool marks failures fed back to the model;
// the error is reserved for cancellation, which aborts the turn instead.
func (a *Agent) invoke(ctx context.Context, call llm.ToolCallRequest) (string, bool, error) {
	serverID, toolName := splitTool(call.Name)
	if serverID == "" || toolName == "" {
		return fmt.Sprintf("tool error: %q is not a known tool", call.Name), true, nil
	}
	if !a.declaresServer(serverID) {
		return fmt.Sprintf("tool error: server %s is not available to this agent", serverID), true, nil
	}

	params := map[string]any{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &params); err != nil {
			return fmt.Sprintf("tool error: invalid arguments: %v", err), true, nil
		}
	}

	result, err := a.deps.Tools.Invoke(ctx, serverID, toolName, params)
	if err != nil {
		if models.KindOf(err) == models.ErrKindCancelled {
			metrics.ToolCallsTotal.WithLabelValues(serverID, "cancelled").Inc()
			return "", false, err
		}
		metrics.ToolCallsTotal.WithLabelValues(serverID, "error").Inc()
		slog.Warn("Tool invocation failed",
			"agent_id", a.id, "server_id", serverID, "tool", toolName, "error", err)
		return fmt.Sprintf("tool error: %v", err), true, nil
	}
	if result.IsError {
		metrics.ToolCallsTotal.WithLabelValues(serverID, "error").Inc()
	} else {
		metrics.ToolCallsTotal.WithLabelValues(serverID, "ok").Inc()
	}
	return result.Text, result.IsError, nil
}

func (a *Agent) declaresServer(serverID string) bool {
	for _, id := range a.cfg.MCPServers {
		if id == serverID {
			return true
		}
	}
	return false
}

// qualifyTool joins server and tool into the name offered to the model.
func qualifyTool(serverID, toolName string) string {
	return serverID + "." + toolName
}

// splitTool inverts qualifyTool. Tool names may themselves contain dots, so
// the split is on the first one.
func splitTool(qualified string) (serverID, toolName string) {
	server, tool, ok := strings.Cut(qualified, ".")
	if !ok {
		return "", qualified
	}
	return server, tool
}
