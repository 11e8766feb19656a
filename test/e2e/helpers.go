package e2e

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/maestrokit/maestro/pkg/api"
	"github.com/maestrokit/maestro/pkg/models"
)

// do sends one authenticated JSON request and returns the response with its
// body fully read.
func (a *TestApp) do(method, path, key string, body any) (*http.Response, []byte) {
	a.t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, a.BaseURL+path, reader)
	require.NoError(a.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(a.t, err)
	return resp, data
}

// ChatSync runs one synchronous turn and requires success.
func (a *TestApp) ChatSync(req models.ChatRequest) *models.TurnResult {
	a.t.Helper()

	resp, body := a.do(http.MethodPost, "/api/v1/chat", ClientKey, req)
	require.Equal(a.t, http.StatusOK, resp.StatusCode, string(body))

	var result models.TurnResult
	require.NoError(a.t, json.Unmarshal(body, &result))
	return &result
}

// ChatSyncError runs one synchronous turn expected to fail, returning the
// status code and error envelope.
func (a *TestApp) ChatSyncError(req models.ChatRequest) (int, api.ErrorResponse) {
	a.t.Helper()

	resp, body := a.do(http.MethodPost, "/api/v1/chat", ClientKey, req)
	require.GreaterOrEqual(a.t, resp.StatusCode, 400, string(body))

	var envelope api.ErrorResponse
	require.NoError(a.t, json.Unmarshal(body, &envelope))
	return resp.StatusCode, envelope
}

// ChatStream starts a streaming turn and returns the accepted channel name.
func (a *TestApp) ChatStream(req models.ChatRequest) api.StreamAcceptedResponse {
	a.t.Helper()

	req.Stream = true
	resp, body := a.do(http.MethodPost, "/api/v1/chat", ClientKey, req)
	require.Equal(a.t, http.StatusAccepted, resp.StatusCode, string(body))

	var accepted api.StreamAcceptedResponse
	require.NoError(a.t, json.Unmarshal(body, &accepted))
	return accepted
}

// UserContext fetches the user's stored facts.
func (a *TestApp) UserContext(userID int64) map[string]models.ContextValue {
	a.t.Helper()

	resp, body := a.do(http.MethodGet, "/api/v1/users/"+strconv.FormatInt(userID, 10)+"/context", ClientKey, nil)
	require.Equal(a.t, http.StatusOK, resp.StatusCode, string(body))

	var facts map[string]models.ContextValue
	require.NoError(a.t, json.Unmarshal(body, &facts))
	return facts
}

// WaitForContextKey polls until background extraction lands the fact.
func (a *TestApp) WaitForContextKey(userID int64, key string) models.ContextValue {
	a.t.Helper()

	var value models.ContextValue
	require.Eventually(a.t, func() bool {
		facts := a.UserContext(userID)
		v, ok := facts[key]
		value = v
		return ok
	}, 5*time.Second, 20*time.Millisecond, "context key %q never appeared for user %d", key, userID)
	return value
}

// SearchMemory queries the memory search API.
func (a *TestApp) SearchMemory(query string) api.SearchMemoryResponse {
	a.t.Helper()

	resp, body := a.do(http.MethodGet, "/api/v1/memory/search?"+query, ClientKey, nil)
	require.Equal(a.t, http.StatusOK, resp.StatusCode, string(body))

	var result api.SearchMemoryResponse
	require.NoError(a.t, json.Unmarshal(body, &result))
	return result
}

// MCPStatuses lists the registered MCP servers.
func (a *TestApp) MCPStatuses() []models.MCPServerStatus {
	a.t.Helper()

	resp, body := a.do(http.MethodGet, "/api/v1/mcp/servers", ClientKey, nil)
	require.Equal(a.t, http.StatusOK, resp.StatusCode, string(body))

	var statuses []models.MCPServerStatus
	require.NoError(a.t, json.Unmarshal(body, &statuses))
	return statuses
}
