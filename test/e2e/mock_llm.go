// Package e2e boots a complete maestro instance against scripted model
// responses and fake MCP servers, and drives it through the HTTP and
// WebSocket surfaces.
package e2e

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/maestrokit/maestro/pkg/llm"
)

// LLMScriptEntry is one scripted model response.
type LLMScriptEntry struct {
	Chunks []llm.Chunk // pre-built chunks, returned as-is
	Text   string      // shorthand: wrapped as TextChunk + UsageChunk
	Err    error       // returned from Generate itself
}

// scriptLane identifies which caller a Generate call came from, derived from
// the system prompt. The routing model, the extraction pool, and agent turns
// share one client but consume independent scripts.
type scriptLane string

const (
	laneRouting    scriptLane = "routing"
	laneExtraction scriptLane = "extraction"
	laneTurn       scriptLane = "turn"
)

// ScriptedLLMClient implements llm.Client with per-lane scripts. Turn
// entries are consumed in order and must be provided; an exhausted routing
// lane fails the call (the router then falls back), and an exhausted
// extraction lane answers "no facts" so unscripted turns stay quiet.
type ScriptedLLMClient struct {
	mu     sync.Mutex
	lanes  map[scriptLane][]LLMScriptEntry
	index  map[scriptLane]int
	inputs map[scriptLane][]*llm.GenerateInput
}

// NewScriptedLLMClient creates an empty script.
func NewScriptedLLMClient() *ScriptedLLMClient {
	return &ScriptedLLMClient{
		lanes:  make(map[scriptLane][]LLMScriptEntry),
		index:  make(map[scriptLane]int),
		inputs: make(map[scriptLane][]*llm.GenerateInput),
	}
}

// ScriptTurn appends an agent-turn response.
func (c *ScriptedLLMClient) ScriptTurn(entries ...LLMScriptEntry) {
	c.append(laneTurn, entries)
}

// ScriptRouting appends a routing-model response.
func (c *ScriptedLLMClient) ScriptRouting(entries ...LLMScriptEntry) {
	c.append(laneRouting, entries)
}

// ScriptExtraction appends an extraction response. The text should be the
// extractor's JSON envelope.
func (c *ScriptedLLMClient) ScriptExtraction(entries ...LLMScriptEntry) {
	c.append(laneExtraction, entries)
}

func (c *ScriptedLLMClient) append(lane scriptLane, entries []LLMScriptEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lanes[lane] = append(c.lanes[lane], entries...)
}

// RoutingCalls reports how many times the routing model was consulted.
func (c *ScriptedLLMClient) RoutingCalls() int { return c.calls(laneRouting) }

// TurnCalls reports how many model calls agent turns made.
func (c *ScriptedLLMClient) TurnCalls() int { return c.calls(laneTurn) }

// ExtractionCalls reports how many extraction runs reached the model.
func (c *ScriptedLLMClient) ExtractionCalls() int { return c.calls(laneExtraction) }

func (c *ScriptedLLMClient) calls(lane scriptLane) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inputs[lane])
}

// TurnInputs returns the captured agent-turn inputs in call order.
func (c *ScriptedLLMClient) TurnInputs() []*llm.GenerateInput {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*llm.GenerateInput, len(c.inputs[laneTurn]))
	copy(out, c.inputs[laneTurn])
	return out
}

// Generate implements llm.Client.
func (c *ScriptedLLMClient) Generate(_ context.Context, input *llm.GenerateInput) (<-chan llm.Chunk, error) {
	lane := laneFor(input)

	c.mu.Lock()
	c.inputs[lane] = append(c.inputs[lane], input)
	entries := c.lanes[lane]
	idx := c.index[lane]
	if idx < len(entries) {
		c.index[lane] = idx + 1
	}
	c.mu.Unlock()

	if idx >= len(entries) {
		switch lane {
		case laneExtraction:
			return textStream(`{"extracted_info":[]}`), nil
		default:
			return nil, fmt.Errorf("scripted client: %s lane exhausted (%d entries)", lane, len(entries))
		}
	}

	entry := entries[idx]
	if entry.Err != nil {
		return nil, entry.Err
	}
	if len(entry.Chunks) > 0 {
		ch := make(chan llm.Chunk, len(entry.Chunks))
		for _, chunk := range entry.Chunks {
			ch <- chunk
		}
		close(ch)
		return ch, nil
	}
	return textStream(entry.Text), nil
}

func textStream(text string) <-chan llm.Chunk {
	ch := make(chan llm.Chunk, 2)
	ch <- &llm.TextChunk{Content: text}
	ch <- &llm.UsageChunk{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}
	close(ch)
	return ch
}

// laneFor dispatches on the system prompt's opening line.
func laneFor(input *llm.GenerateInput) scriptLane {
	for _, msg := range input.Messages {
		if msg.Role != "system" {
			continue
		}
		switch {
		case strings.HasPrefix(msg.Content, "You route user messages"):
			return laneRouting
		case strings.HasPrefix(msg.Content, "You extract durable facts"):
			return laneExtraction
		}
		break
	}
	return laneTurn
}
