package masking

import (
	"fmt"
	"log/slog"
	"regexp"

	"github.com/maestrokit/maestro/pkg/config"
)

// CompiledPattern is one pre-compiled regex with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Description string
}

type resolvedPatterns struct {
	regexPatterns []*CompiledPattern
}

func (r *resolvedPatterns) empty() bool {
	return len(r.regexPatterns) == 0
}

// compileBuiltinPatterns compiles the built-in pattern set. Invalid patterns
// are logged and skipped.
func (s *Service) compileBuiltinPatterns() {
	for name, pattern := range config.GetBuiltinConfig().MaskingPatterns {
		compiled, err := regexp.Compile(pattern.Pattern)
		if err != nil {
			slog.Error("Failed to compile built-in masking pattern, skipping",
				"pattern", name, "error", err)
			continue
		}
		s.patterns[name] = &CompiledPattern{
			Name:        name,
			Regex:       compiled,
			Replacement: pattern.Replacement,
			Description: pattern.Description,
		}
	}
}

// compileCustomPatterns compiles custom patterns declared by MCP servers.
// Keys are "custom:{serverID}:{index}" to avoid collisions with built-ins.
func (s *Service) compileCustomPatterns() {
	for serverID, serverCfg := range s.registry.GetAll() {
		if serverCfg.DataMasking == nil || !serverCfg.DataMasking.Enabled {
			continue
		}
		for i, pattern := range serverCfg.DataMasking.CustomPatterns {
			name := fmt.Sprintf("custom:%s:%d", serverID, i)
			compiled, err := regexp.Compile(pattern.Pattern)
			if err != nil {
				slog.Error("Failed to compile custom masking pattern, skipping",
					"pattern", name, "server_id", serverID, "error", err)
				continue
			}
			s.patterns[name] = &CompiledPattern{
				Name:        name,
				Regex:       compiled,
				Replacement: pattern.Replacement,
				Description: pattern.Description,
			}
			s.serverCustomPatterns[serverID] = append(s.serverCustomPatterns[serverID], name)
		}
	}
}

// resolvePatterns expands a masking config into a deduplicated pattern list:
// groups first, then individual patterns, then the server's custom ones.
func (s *Service) resolvePatterns(cfg *config.MaskingConfig, serverID string) *resolvedPatterns {
	seen := make(map[string]bool)
	resolved := &resolvedPatterns{}

	for _, groupName := range cfg.PatternGroups {
		for _, name := range s.patternGroups[groupName] {
			s.addPattern(resolved, seen, name)
		}
	}
	for _, name := range cfg.Patterns {
		s.addPattern(resolved, seen, name)
	}
	for _, name := range s.serverCustomPatterns[serverID] {
		s.addPattern(resolved, seen, name)
	}
	return resolved
}

// resolveGroup resolves one group name, used for the system default.
func (s *Service) resolveGroup(groupName string) *resolvedPatterns {
	seen := make(map[string]bool)
	resolved := &resolvedPatterns{}
	for _, name := range s.patternGroups[groupName] {
		s.addPattern(resolved, seen, name)
	}
	return resolved
}

func (s *Service) addPattern(resolved *resolvedPatterns, seen map[string]bool, name string) {
	if seen[name] {
		return
	}
	seen[name] = true
	if cp, ok := s.patterns[name]; ok {
		resolved.regexPatterns = append(resolved.regexPatterns, cp)
	}
}
