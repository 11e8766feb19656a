package mcp

import (
	"context"
	"fmt"

	"github.com/maestrokit/maestro/pkg/config"
)

// transport moves raw JSON-RPC frames to and from one MCP server. A
// transport is single-use: after its frame channel closes it is dead and
// the connection builds a fresh one for the next attempt.
type transport interface {
	// connect establishes the link and returns the inbound frame channel.
	// The channel closes when the link dies, whatever the cause.
	connect(ctx context.Context) (<-chan []byte, error)

	// send writes one frame. The connection serializes calls.
	send(ctx context.Context, frame []byte) error

	close() error
}

// transportFactory builds a fresh transport per connection attempt.
type transportFactory func() (transport, error)

// factoryFor returns the transport factory matching the descriptor.
func factoryFor(cfg config.TransportConfig) (transportFactory, error) {
	switch cfg.Type {
	case config.TransportTypeHTTPSSE:
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("http_sse transport requires endpoint")
		}
		return func() (transport, error) {
			return newSSETransport(cfg.Endpoint, cfg.BearerToken), nil
		}, nil
	case config.TransportTypeCommand:
		if cfg.Command == "" {
			return nil, fmt.Errorf("command transport requires command")
		}
		return func() (transport, error) {
			return newCommandTransport(cfg.Command, cfg.Args, cfg.Env), nil
		}, nil
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", cfg.Type)
	}
}
