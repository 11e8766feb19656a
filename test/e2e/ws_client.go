package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/maestrokit/maestro/pkg/api"
	"github.com/maestrokit/maestro/pkg/models"
)

// WSClient is a subscribed WebSocket consumer.
type WSClient struct {
	conn *websocket.Conn
	t    *testing.T
}

// DialWS opens an authenticated WebSocket and consumes the
// connection.established greeting.
func (a *TestApp) DialWS(ctx context.Context) *WSClient {
	a.t.Helper()

	conn, _, err := websocket.Dial(ctx, a.WSURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + ClientKey}},
	})
	require.NoError(a.t, err)
	a.t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	c := &WSClient{conn: conn, t: a.t}
	greeting := c.ReadRaw(ctx)
	require.Equal(a.t, "connection.established", greeting["type"])
	return c
}

// Subscribe joins a channel and waits for the confirmation.
func (c *WSClient) Subscribe(ctx context.Context, channel string) {
	c.t.Helper()

	c.send(ctx, api.ClientMessage{Action: "subscribe", Channel: channel})
	msg := c.ReadRaw(ctx)
	require.Equal(c.t, "subscription.confirmed", msg["type"])
	require.Equal(c.t, channel, msg["channel"])
}

// ReadEvent reads one stream event from the socket.
func (c *WSClient) ReadEvent(ctx context.Context) models.StreamEvent {
	c.t.Helper()

	_, data, err := c.conn.Read(ctx)
	require.NoError(c.t, err)
	var event models.StreamEvent
	require.NoError(c.t, json.Unmarshal(data, &event))
	return event
}

// CollectTurn reads events until done or error, returning them in order.
func (c *WSClient) CollectTurn(ctx context.Context) []models.StreamEvent {
	c.t.Helper()

	var events []models.StreamEvent
	for {
		event := c.ReadEvent(ctx)
		events = append(events, event)
		if event.Type == models.StreamEventDone || event.Type == models.StreamEventError {
			return events
		}
	}
}

// ReadRaw reads one message as a generic map, for protocol-level frames.
func (c *WSClient) ReadRaw(ctx context.Context) map[string]any {
	c.t.Helper()

	_, data, err := c.conn.Read(ctx)
	require.NoError(c.t, err)
	var msg map[string]any
	require.NoError(c.t, json.Unmarshal(data, &msg))
	return msg
}

func (c *WSClient) send(ctx context.Context, msg api.ClientMessage) {
	c.t.Helper()

	data, err := json.Marshal(msg)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.Write(ctx, websocket.MessageText, data))
}
