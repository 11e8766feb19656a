// Package masking scrubs sensitive data from MCP tool results before they
// reach a model or a client. Patterns are regex-based: built-in patterns and
// groups ship with the binary, servers may add custom patterns, and a
// system-wide default group covers servers without their own config.
package masking

import (
	"log/slog"

	"github.com/maestrokit/maestro/pkg/config"
)

// Service applies tool-result masking. Created once at startup; thread-safe
// and stateless aside from the compiled patterns.
type Service struct {
	registry *config.MCPServerRegistry
	defaults config.ToolMaskingDefaults

	patterns             map[string]*CompiledPattern
	patternGroups        map[string][]string
	serverCustomPatterns map[string][]string // serverID -> custom pattern keys
}

// NewService compiles all built-in and server-declared patterns eagerly.
// Invalid patterns are logged and skipped.
func NewService(registry *config.MCPServerRegistry, defaults config.ToolMaskingDefaults) *Service {
	s := &Service{
		registry:             registry,
		defaults:             defaults,
		patterns:             make(map[string]*CompiledPattern),
		patternGroups:        config.GetBuiltinConfig().PatternGroups,
		serverCustomPatterns: make(map[string][]string),
	}

	s.compileBuiltinPatterns()
	s.compileCustomPatterns()

	slog.Info("Masking service initialized",
		"compiled_patterns", len(s.patterns),
		"default_masking_enabled", defaults.Enabled,
		"default_pattern_group", defaults.PatternGroup)
	return s
}

// MaskToolResult implements mcp.ResultMasker. A server's own data_masking
// config wins; servers without one fall back to the system default group.
// Masking failures redact the whole result rather than leak it.
func (s *Service) MaskToolResult(serverID, content string) string {
	if content == "" {
		return content
	}

	resolved := s.resolveForServer(serverID)
	if resolved == nil || resolved.empty() {
		return content
	}

	masked := content
	for _, pattern := range resolved.regexPatterns {
		masked = pattern.Regex.ReplaceAllString(masked, pattern.Replacement)
	}
	return masked
}

// resolveForServer picks the effective pattern set for one server. Nil means
// masking is off for it.
func (s *Service) resolveForServer(serverID string) *resolvedPatterns {
	serverCfg, err := s.registry.Get(serverID)
	if err == nil && serverCfg.DataMasking != nil {
		if !serverCfg.DataMasking.Enabled {
			return nil
		}
		return s.resolvePatterns(serverCfg.DataMasking, serverID)
	}

	if !s.defaults.Enabled {
		return nil
	}
	return s.resolveGroup(s.defaults.PatternGroup)
}
