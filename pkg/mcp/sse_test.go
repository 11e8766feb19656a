package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestrokit/maestro/pkg/config"
	"github.com/maestrokit/maestro/pkg/models"
)

// fakeSSEServer speaks the HTTP+SSE MCP wire protocol: a GET stream that
// announces the message URL, and a POST endpoint answering 202 with the
// real response delivered over the stream.
type fakeSSEServer struct {
	t       *testing.T
	respond func(req rpcRequest) *rpcResponse

	mu      sync.Mutex
	out     chan []byte
	headers []http.Header
}

func newFakeSSEServer(t *testing.T, respond func(req rpcRequest) *rpcResponse) (*fakeSSEServer, *httptest.Server) {
	f := &fakeSSEServer{t: t, respond: respond, out: make(chan []byte, 16)}
	mux := http.NewServeMux()
	mux.HandleFunc("/sse", f.handleStream)
	mux.HandleFunc("/message", f.handleMessage)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeSSEServer) handleStream(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.headers = append(f.headers, r.Header.Clone())
	f.mu.Unlock()

	w.Header().Set("Content-Type", "text/event-stream")
	flusher := w.(http.Flusher)
	fmt.Fprintf(w, "event: endpoint\ndata: /message?session=abc123\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame := <-f.out:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", frame)
			flusher.Flush()
		}
	}
}

func (f *fakeSSEServer) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusAccepted)

	if resp := f.respond(req); resp != nil {
		raw, err := json.Marshal(resp)
		require.NoError(f.t, err)
		f.out <- raw
	}
}

func sseConfig(endpoint, bearer string) *config.MCPServerConfig {
	return &config.MCPServerConfig{
		Transport: config.TransportConfig{
			Type:        config.TransportTypeHTTPSSE,
			Endpoint:    endpoint,
			BearerToken: bearer,
		},
	}
}

func TestSSERoundTrip(t *testing.T) {
	fake, srv := newFakeSSEServer(t, standardResponder(t))
	svc := NewService(testBackoff(), time.Second, nil)

	require.NoError(t, svc.Register(context.Background(), "srv", sseConfig(srv.URL+"/sse", "sekrit")))

	require.Eventually(t, func() bool {
		state, err := svc.State("srv")
		return err == nil && state == models.ServerReady
	}, 2*time.Second, 10*time.Millisecond)

	result, err := svc.Invoke(context.Background(), "srv", "echo", map[string]any{"input": "over sse"})
	require.NoError(t, err)
	assert.Equal(t, "echo: over sse", result.Text)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.NotEmpty(t, fake.headers)
	assert.Equal(t, "text/event-stream", fake.headers[0].Get("Accept"))
	assert.Equal(t, "Bearer sekrit", fake.headers[0].Get("Authorization"))
}

func TestSSEConnectionLoss(t *testing.T) {
	_, srv := newFakeSSEServer(t, standardResponder(t))
	svc := NewService(config.BackoffDefaults{Base: time.Hour, Max: time.Hour}, time.Second, nil)

	require.NoError(t, svc.Register(context.Background(), "srv", sseConfig(srv.URL+"/sse", "")))

	srv.CloseClientConnections()

	require.Eventually(t, func() bool {
		state, err := svc.State("srv")
		return err == nil && state == models.ServerDegraded
	}, 2*time.Second, 10*time.Millisecond, "dropped stream degrades the server")
}

func TestSSEUnreachableEndpoint(t *testing.T) {
	svc := NewService(config.BackoffDefaults{Base: time.Hour, Max: time.Hour}, time.Second, nil)

	// Registration survives an unreachable server; it stays degraded.
	require.NoError(t, svc.Register(context.Background(), "srv", sseConfig("http://127.0.0.1:1/sse", "")))

	state, err := svc.State("srv")
	require.NoError(t, err)
	assert.Equal(t, models.ServerDegraded, state)
	assert.Empty(t, svc.ListTools("srv"))
}

func TestRegisterValidation(t *testing.T) {
	svc := NewService(testBackoff(), time.Second, nil)

	err := svc.Register(context.Background(), "bad", &config.MCPServerConfig{
		Transport: config.TransportConfig{Type: config.TransportTypeHTTPSSE},
	})
	assert.Equal(t, models.ErrKindInvalidInput, models.KindOf(err))
}
