package mcp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// endpointWait bounds how long connect waits for the server to announce its
// message URL after the SSE stream opens.
const endpointWait = 10 * time.Second

// sseTransport implements the HTTP+SSE MCP transport. A long-lived GET
// carries server-to-client frames; client-to-server requests are POSTs to a
// message URL the server announces in its first `endpoint` event.
type sseTransport struct {
	endpoint string
	bearer   string
	client   *http.Client

	mu         sync.Mutex
	messageURL string
	cancel     context.CancelFunc
	closed     bool
}

func newSSETransport(endpoint, bearer string) *sseTransport {
	return &sseTransport{
		endpoint: endpoint,
		bearer:   bearer,
		// No client timeout: the GET is a deliberately unbounded stream.
		client: &http.Client{},
	}
}

func (t *sseTransport) connect(ctx context.Context) (<-chan []byte, error) {
	streamCtx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.endpoint, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build SSE request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	t.authorize(req)

	resp, err := t.client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open SSE stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("SSE endpoint returned %s", resp.Status)
	}

	frames := make(chan []byte, 16)
	endpointCh := make(chan string, 1)
	go t.readStream(resp.Body, frames, endpointCh)

	// The server must announce the message URL before any request can be
	// sent.
	select {
	case raw, ok := <-endpointCh:
		if !ok {
			t.close()
			return nil, fmt.Errorf("SSE stream closed before endpoint event")
		}
		messageURL, err := t.resolveMessageURL(raw)
		if err != nil {
			t.close()
			return nil, err
		}
		t.mu.Lock()
		t.messageURL = messageURL
		t.mu.Unlock()
	case <-time.After(endpointWait):
		t.close()
		return nil, fmt.Errorf("no endpoint event within %v", endpointWait)
	case <-ctx.Done():
		t.close()
		return nil, ctx.Err()
	}

	return frames, nil
}

// readStream parses the SSE wire format: `event:`/`data:` lines grouped by
// blank-line separators. The first endpoint event goes to endpointCh, data
// frames to frames. Both channels close when the stream dies.
func (t *sseTransport) readStream(body io.ReadCloser, frames chan<- []byte, endpointCh chan<- string) {
	defer body.Close()
	defer close(frames)
	defer close(endpointCh)

	var (
		eventName string
		data      bytes.Buffer
		sentURL   bool
	)
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				if eventName == "endpoint" && !sentURL {
					endpointCh <- strings.TrimSpace(data.String())
					sentURL = true
				} else {
					frame := make([]byte, data.Len())
					copy(frame, data.Bytes())
					frames <- frame
				}
			}
			eventName = ""
			data.Reset()
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
		// Comment lines (":") and unknown fields are ignored.
	}
	if err := scanner.Err(); err != nil {
		slog.Debug("SSE stream ended", "endpoint", t.endpoint, "error", err)
	}
}

func (t *sseTransport) resolveMessageURL(raw string) (string, error) {
	base, err := url.Parse(t.endpoint)
	if err != nil {
		return "", fmt.Errorf("parse SSE endpoint: %w", err)
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse endpoint event payload %q: %w", raw, err)
	}
	return base.ResolveReference(ref).String(), nil
}

func (t *sseTransport) send(ctx context.Context, frame []byte) error {
	t.mu.Lock()
	messageURL := t.messageURL
	t.mu.Unlock()
	if messageURL == "" {
		return fmt.Errorf("no message URL, connection not established")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, messageURL, bytes.NewReader(frame))
	if err != nil {
		return fmt.Errorf("build message request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	t.authorize(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("message endpoint returned %s", resp.Status)
	}
	return nil
}

func (t *sseTransport) close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.cancel != nil {
		t.cancel()
	}
	return nil
}

func (t *sseTransport) authorize(req *http.Request) {
	if t.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+t.bearer)
	}
}
