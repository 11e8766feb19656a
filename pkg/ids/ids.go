// Package ids provides ID generation helpers used across services.
package ids

import (
	"github.com/google/uuid"
	nanoid "github.com/matoous/go-nanoid/v2"
)

const DefaultLength = 21

const (
	PrefixTrace        = "trc"
	PrefixTurn         = "turn"
	PrefixConversation = "conv"
	PrefixMemory       = "mem"
	PrefixContext      = "uctx"
	PrefixChunk        = "chk"
	PrefixToolCall     = "tc"
)

// New returns a prefixed nanoid, e.g. "trc_V1StGXR8Z5jdHi6BmyT".
func New(prefix string) string {
	id, err := nanoid.New(DefaultLength)
	if err != nil {
		panic("nanoid generation failed: " + err.Error())
	}
	return prefix + "_" + id
}

func NewTrace() string        { return New(PrefixTrace) }
func NewTurn() string         { return New(PrefixTurn) }
func NewConversation() string { return New(PrefixConversation) }
func NewMemory() string       { return New(PrefixMemory) }
func NewContext() string      { return New(PrefixContext) }
func NewChunk() string        { return New(PrefixChunk) }
func NewToolCall() string     { return New(PrefixToolCall) }

// NewRequestID returns a UUIDv4 for JSON-RPC request correlation. UUIDs keep
// request ids unique across reconnects of the same server, where a simple
// counter would collide with responses from a previous connection.
func NewRequestID() string {
	return uuid.NewString()
}
