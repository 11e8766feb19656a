package models

// TurnPhase tracks where a turn is in its lifecycle, for logging and metrics.
type TurnPhase string

const (
	PhaseRouting        TurnPhase = "routing"
	PhaseComposing      TurnPhase = "composing"
	PhaseModelStreaming TurnPhase = "model_streaming"
	PhaseToolDispatch   TurnPhase = "tool_dispatch"
	PhaseFinalizing     TurnPhase = "finalizing"
	PhaseExtracting     TurnPhase = "extracting"
)

// ChatRequest is the orchestrator entry point payload.
type ChatRequest struct {
	Message        string `json:"message"`
	UserID         int64  `json:"user_id"`
	AgentID        string `json:"agent_id,omitempty"`        // explicit routing override
	ConversationID string `json:"conversation_id,omitempty"` // empty = new conversation
	Stream         bool   `json:"stream,omitempty"`
}

// TurnResult is the synchronous chat response.
type TurnResult struct {
	Reply          string `json:"reply"`
	ToolRounds     int    `json:"tool_rounds"`
	TraceID        string `json:"trace_id"`
	AgentID        string `json:"agent_id"`
	ConversationID string `json:"conversation_id"`
	TurnID         string `json:"turn_id"`
}

// StreamEventType enumerates the events delivered on a streaming turn.
type StreamEventType string

const (
	StreamEventToken          StreamEventType = "token"
	StreamEventToolCallStart  StreamEventType = "tool_call_start"
	StreamEventToolCallResult StreamEventType = "tool_call_result"
	StreamEventDone           StreamEventType = "done"
	StreamEventError          StreamEventType = "error"
)

// StreamEvent is one element of a streaming turn, delivered in model-emission
// order. Seq is monotonically increasing within a turn.
type StreamEvent struct {
	Type           StreamEventType `json:"type"`
	ConversationID string          `json:"conversation_id,omitempty"`
	TurnID         string          `json:"turn_id,omitempty"`
	Seq            int64           `json:"seq"`

	// token
	Token string `json:"token,omitempty"`

	// tool_call_start / tool_call_result
	ToolCallID string `json:"tool_call_id,omitempty"`
	ServerID   string `json:"server_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	Result     string `json:"result,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`

	// done
	Reply      string `json:"reply,omitempty"`
	ToolRounds int    `json:"tool_rounds,omitempty"`
	TraceID    string `json:"trace_id,omitempty"`

	// error
	Error *TurnError `json:"error,omitempty"`
}
