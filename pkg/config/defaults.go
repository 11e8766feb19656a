package config

import "time"

// Defaults contains system-wide default configurations.
// These values are used when specific components don't specify their own values.
type Defaults struct {
	// LLM provider default for all agents
	LLMProvider string `yaml:"llm_provider,omitempty"`

	// Tool rounds allowed per turn before the turn fails tool_loop_exceeded
	MaxToolRounds int `yaml:"max_tool_rounds,omitempty"`

	// Per tool invocation deadline
	ToolTimeout time.Duration `yaml:"tool_timeout,omitempty"`

	// Whole-turn deadline (0 = disabled)
	TurnTimeout time.Duration `yaml:"turn_timeout,omitempty"`

	// Max gap between model chunks before the turn fails model_stalled
	StallTimeout time.Duration `yaml:"stall_timeout,omitempty"`

	// Max time a sink push may block before the turn fails consumer_slow
	ConsumerStallTimeout time.Duration `yaml:"consumer_stall_timeout,omitempty"`

	// Sink channel capacity per streaming turn
	SinkBuffer int `yaml:"sink_buffer,omitempty"`

	// MCP reconnect backoff bounds
	MCPBackoff *BackoffDefaults `yaml:"mcp_backoff,omitempty"`

	// Tool result masking applied when a server has no own masking config
	ToolMasking *ToolMaskingDefaults `yaml:"tool_masking,omitempty"`
}

// BackoffDefaults holds reconnect backoff bounds: delay = base * 2^attempt,
// jittered, capped at max.
type BackoffDefaults struct {
	Base time.Duration `yaml:"base"`
	Max  time.Duration `yaml:"max"`
}

// ToolMaskingDefaults holds system-wide tool result masking settings.
type ToolMaskingDefaults struct {
	Enabled      bool   `yaml:"enabled"`
	PatternGroup string `yaml:"pattern_group"`
}

// DefaultDefaults returns the built-in system defaults.
func DefaultDefaults() *Defaults {
	return &Defaults{
		MaxToolRounds:        6,
		ToolTimeout:          60 * time.Second,
		TurnTimeout:          0,
		StallTimeout:         30 * time.Second,
		ConsumerStallTimeout: 5 * time.Second,
		SinkBuffer:           64,
		MCPBackoff: &BackoffDefaults{
			Base: 500 * time.Millisecond,
			Max:  30 * time.Second,
		},
		ToolMasking: &ToolMaskingDefaults{
			Enabled:      true,
			PatternGroup: "security",
		},
	}
}
