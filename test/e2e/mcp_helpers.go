package e2e

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// ToolFunc handles one tool call. The bool marks an in-band tool error.
type ToolFunc func(args map[string]any) (string, bool)

// FakeToolServer speaks the HTTP+SSE MCP wire protocol: a long-lived GET
// stream that first announces the message URL, and a POST endpoint answering
// 202 with the JSON-RPC response delivered over the stream. Each GET opens a
// fresh stream, so the client's reconnect loop works against it.
type FakeToolServer struct {
	t     *testing.T
	srv   *httptest.Server
	tools map[string]ToolFunc

	mu       sync.Mutex
	out      chan []byte // stream of the current connection
	connects int
	calls    []ToolCall
}

// ToolCall records one tools/call the server received.
type ToolCall struct {
	Name string
	Args map[string]any
}

type fakeRPCRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      string         `json:"id,omitempty"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
}

type fakeRPCResponse struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Result  any    `json:"result,omitempty"`
}

// NewFakeToolServer starts the server with the given tool handlers.
func NewFakeToolServer(t *testing.T, tools map[string]ToolFunc) *FakeToolServer {
	f := &FakeToolServer{t: t, tools: tools}
	mux := http.NewServeMux()
	mux.HandleFunc("/sse", f.handleStream)
	mux.HandleFunc("/message", f.handleMessage)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

// Endpoint is the SSE URL to register with the MCP service.
func (f *FakeToolServer) Endpoint() string { return f.srv.URL + "/sse" }

// Connects reports how many SSE streams have been opened.
func (f *FakeToolServer) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

// Calls returns the tools/call invocations received so far.
func (f *FakeToolServer) Calls() []ToolCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ToolCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// DropConnections severs every open stream, simulating a server restart.
func (f *FakeToolServer) DropConnections() {
	f.srv.CloseClientConnections()
}

func (f *FakeToolServer) handleStream(w http.ResponseWriter, r *http.Request) {
	out := make(chan []byte, 16)
	f.mu.Lock()
	f.out = out
	f.connects++
	f.mu.Unlock()

	w.Header().Set("Content-Type", "text/event-stream")
	flusher := w.(http.Flusher)
	fmt.Fprintf(w, "event: endpoint\ndata: /message\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame := <-out:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", frame)
			flusher.Flush()
		}
	}
}

func (f *FakeToolServer) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req fakeRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusAccepted)

	resp := fakeRPCResponse{JSONRPC: "2.0", ID: req.ID}
	switch req.Method {
	case "initialize", "ping":
		resp.Result = map[string]any{}
	case "tools/list":
		var tools []map[string]any
		for name := range f.tools {
			tools = append(tools, map[string]any{
				"name":        name,
				"description": "fake tool " + name,
			})
		}
		resp.Result = map[string]any{"tools": tools}
	case "tools/call":
		name, _ := req.Params["name"].(string)
		args, _ := req.Params["arguments"].(map[string]any)
		f.mu.Lock()
		f.calls = append(f.calls, ToolCall{Name: name, Args: args})
		f.mu.Unlock()

		fn, ok := f.tools[name]
		if !ok {
			resp.Result = map[string]any{
				"content": []map[string]any{{"type": "text", "text": "unknown tool " + name}},
				"isError": true,
			}
			break
		}
		text, isErr := fn(args)
		resp.Result = map[string]any{
			"content": []map[string]any{{"type": "text", "text": text}},
			"isError": isErr,
		}
	default:
		return // notifications get no response
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		f.t.Errorf("marshal fake MCP response: %v", err)
		return
	}
	f.mu.Lock()
	out := f.out
	f.mu.Unlock()
	if out != nil {
		out <- raw
	}
}
