package mcp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
)

// commandTransport runs an MCP server as a subprocess and exchanges
// line-delimited JSON-RPC over its stdin/stdout. stderr is forwarded to the
// log at debug level.
type commandTransport struct {
	command string
	args    []string
	env     map[string]string

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	closed bool
}

func newCommandTransport(command string, args []string, env map[string]string) *commandTransport {
	return &commandTransport{command: command, args: args, env: env}
}

func (t *commandTransport) connect(_ context.Context) (<-chan []byte, error) {
	cmd := exec.Command(t.command, t.args...)

	// Inherit parent environment plus descriptor overrides.
	environ := os.Environ()
	for k, v := range t.env {
		environ = append(environ, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = environ

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", t.command, err)
	}

	t.mu.Lock()
	t.cmd = cmd
	t.stdin = stdin
	t.closed = false
	t.mu.Unlock()

	go t.drainStderr(stderr)

	frames := make(chan []byte, 16)
	go func() {
		defer close(frames)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			frame := make([]byte, len(line))
			copy(frame, line)
			frames <- frame
		}
		// Reap the process so a crashed server does not leave a zombie.
		if err := cmd.Wait(); err != nil {
			slog.Debug("MCP subprocess exited", "command", t.command, "error", err)
		}
	}()

	return frames, nil
}

func (t *commandTransport) send(_ context.Context, frame []byte) error {
	t.mu.Lock()
	stdin := t.stdin
	closed := t.closed
	t.mu.Unlock()
	if closed || stdin == nil {
		return fmt.Errorf("subprocess not running")
	}

	if _, err := stdin.Write(append(frame, '\n')); err != nil {
		return fmt.Errorf("write to subprocess: %w", err)
	}
	return nil
}

func (t *commandTransport) close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	if t.stdin != nil {
		t.stdin.Close()
	}
	if t.cmd != nil && t.cmd.Process != nil {
		// Closing stdin asks politely; kill covers servers that ignore it.
		_ = t.cmd.Process.Kill()
	}
	return nil
}

func (t *commandTransport) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		slog.Debug("MCP subprocess stderr", "command", t.command, "line", scanner.Text())
	}
}
