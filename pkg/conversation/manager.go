// Package conversation tracks in-memory conversation state: per-conversation
// turn serialization, turn counters, and cancellation of the in-flight turn.
// Message content itself lives in the memory tiers, not here.
package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maestrokit/maestro/pkg/ids"
)

// Status is the conversation's lifecycle state.
type Status string

const (
	StatusIdle   Status = "idle"
	StatusActive Status = "active" // a turn is running
	StatusClosed Status = "closed"
)

// Conversation is one tracked conversation. All mutation goes through its
// methods; turnMu serializes turns so buffer writes for a conversation never
// interleave.
type Conversation struct {
	ID     string
	UserID int64

	turnMu sync.Mutex // held for the duration of one turn

	mu         sync.Mutex
	status     Status
	turnCount  int
	agentID    string // agent of the most recent turn
	cancel     context.CancelFunc
	createdAt  time.Time
	lastActive time.Time
}

// Manager tracks conversations by id.
type Manager struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{conversations: make(map[string]*Conversation)}
}

// Ensure returns the conversation with the given id, creating it when the id
// is empty or unknown. The returned bool reports whether it was created.
func (m *Manager) Ensure(conversationID string, userID int64) (*Conversation, bool) {
	if conversationID != "" {
		m.mu.RLock()
		conv, ok := m.conversations[conversationID]
		m.mu.RUnlock()
		if ok {
			return conv, false
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if conversationID != "" {
		// Lost the race or the id is client-supplied; either way, reuse or
		// create under the write lock.
		if conv, ok := m.conversations[conversationID]; ok {
			return conv, false
		}
	} else {
		conversationID = ids.NewConversation()
	}

	now := time.Now()
	conv := &Conversation{
		ID:         conversationID,
		UserID:     userID,
		status:     StatusIdle,
		createdAt:  now,
		lastActive: now,
	}
	m.conversations[conversationID] = conv
	return conv, true
}

// Get looks up a conversation.
func (m *Manager) Get(conversationID string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conv, ok := m.conversations[conversationID]
	if !ok {
		return nil, fmt.Errorf("conversation not found: %s", conversationID)
	}
	return conv, nil
}

// Remove cancels any in-flight turn and drops the conversation.
func (m *Manager) Remove(conversationID string) error {
	m.mu.Lock()
	conv, ok := m.conversations[conversationID]
	delete(m.conversations, conversationID)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("conversation not found: %s", conversationID)
	}

	conv.CancelTurn()
	conv.mu.Lock()
	conv.status = StatusClosed
	conv.mu.Unlock()
	return nil
}

// Len returns the tracked conversation count.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conversations)
}

// PruneIdle drops conversations idle since before the cutoff. Active
// conversations are never pruned. Returns the number removed.
func (m *Manager) PruneIdle(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, conv := range m.conversations {
		conv.mu.Lock()
		idle := conv.status != StatusActive && conv.lastActive.Before(cutoff)
		conv.mu.Unlock()
		if idle {
			delete(m.conversations, id)
			removed++
		}
	}
	return removed
}

// BeginTurn serializes turns within the conversation and registers the
// cancel function for CancelTurn. Blocks while another turn is running;
// returns an error when the passed context dies first.
func (c *Conversation) BeginTurn(ctx context.Context, agentID string, cancel context.CancelFunc) error {
	acquired := make(chan struct{})
	go func() {
		c.turnMu.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-ctx.Done():
		// The goroutine still holds or will hold the lock; release it once
		// acquired so the conversation is not wedged.
		go func() {
			<-acquired
			c.turnMu.Unlock()
		}()
		return ctx.Err()
	}

	c.mu.Lock()
	c.status = StatusActive
	c.agentID = agentID
	c.cancel = cancel
	c.lastActive = time.Now()
	c.mu.Unlock()
	return nil
}

// EndTurn releases the turn lock and bumps the turn counter.
func (c *Conversation) EndTurn() {
	c.mu.Lock()
	c.status = StatusIdle
	c.cancel = nil
	c.turnCount++
	c.lastActive = time.Now()
	c.mu.Unlock()

	c.turnMu.Unlock()
}

// CancelTurn cancels the in-flight turn, if any. Returns whether a turn was
// actually cancelled.
func (c *Conversation) CancelTurn() bool {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// TurnCount returns the number of completed turns.
func (c *Conversation) TurnCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turnCount
}

// Status returns the current lifecycle state.
func (c *Conversation) CurrentStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// AgentID returns the agent that served the most recent turn.
func (c *Conversation) AgentID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agentID
}

// LastActive returns the last turn boundary timestamp.
func (c *Conversation) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}
