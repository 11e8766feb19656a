package models

import "encoding/json"

// TransportType selects how an MCP server is reached.
type TransportType string

const (
	TransportHTTPSSE TransportType = "http_sse"
	TransportCommand TransportType = "command"
)

// ServerState is the connection lifecycle state of an MCP server.
type ServerState string

const (
	ServerDisconnected ServerState = "disconnected"
	ServerConnecting   ServerState = "connecting"
	ServerReady        ServerState = "ready"
	ServerDegraded     ServerState = "degraded"
	ServerClosed       ServerState = "closed"
)

// Tool is one entry of the MCP tool catalog, published only after the owning
// server reached ready.
type Tool struct {
	ServerID    string          `json:"server_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// MCPServerStatus is the API view of one registered server.
type MCPServerStatus struct {
	ServerID  string        `json:"server_id"`
	Transport TransportType `json:"transport"`
	State     ServerState   `json:"state"`
	ToolCount int           `json:"tool_count"`
}

// RegisterMCPServerRequest is the admin API payload for registering a server.
// RequestTimeout is a Go duration string ("60s"); empty uses the global default.
type RegisterMCPServerRequest struct {
	ServerID       string            `json:"server_id"`
	Transport      TransportType     `json:"transport"`
	Endpoint       string            `json:"endpoint,omitempty"`
	BearerToken    string            `json:"bearer_token,omitempty"`
	Command        string            `json:"command,omitempty"`
	Args           []string          `json:"args,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	RequestTimeout string            `json:"request_timeout,omitempty"`
	DisableRestart bool              `json:"disable_restart,omitempty"`
}
