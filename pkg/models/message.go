// Package models contains request/response models and business domain types.
package models

import "time"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Metadata keys present on every persisted message and memory item.
const (
	MetaUserID         = "user_id"
	MetaAgentID        = "agent_id"
	MetaConversationID = "conversation_id"
	MetaRole           = "role"
)

// ToolCall is a model-requested tool invocation. Name is the bare tool name;
// ServerID is resolved from the catalog before dispatch.
type ToolCall struct {
	ID        string `json:"id"`
	ServerID  string `json:"server_id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // raw JSON object
}

// Message is one turn element in a conversation. Immutable once stored.
type Message struct {
	Role         Role           `json:"role"`
	Content      string         `json:"content"`
	ToolCalls    []ToolCall     `json:"tool_calls,omitempty"`    // assistant messages only
	ToolResultOf string         `json:"tool_result_of,omitempty"` // tool messages: id of the call answered
	Timestamp    time.Time      `json:"timestamp"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// TurnMetadata builds the metadata map every buffered/persisted message carries.
func TurnMetadata(userID int64, agentID, conversationID string) map[string]any {
	return map[string]any{
		MetaUserID:         userID,
		MetaAgentID:        agentID,
		MetaConversationID: conversationID,
	}
}

// UserIDFrom extracts the user id from a metadata map. Returns 0 (anonymous)
// when absent or of an unexpected type.
func UserIDFrom(metadata map[string]any) int64 {
	switch v := metadata[MetaUserID].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}
