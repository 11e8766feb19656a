package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/maestrokit/maestro/pkg/config"
)

func registryWith(servers map[string]*config.MCPServerConfig) *config.MCPServerRegistry {
	return config.NewMCPServerRegistry(servers)
}

func defaultsOn() config.ToolMaskingDefaults {
	return config.ToolMaskingDefaults{Enabled: true, PatternGroup: "security"}
}

func TestMaskToolResultDefaultGroup(t *testing.T) {
	s := NewService(registryWith(nil), defaultsOn())

	in := `connection ok, api_key: "sk-abcdefghij1234567890" for admin@example.com`
	out := s.MaskToolResult("some-server", in)

	assert.NotContains(t, out, "sk-abcdefghij1234567890")
	assert.NotContains(t, out, "admin@example.com")
	assert.Contains(t, out, "__MASKED_API_KEY__")
	assert.Contains(t, out, "__MASKED_EMAIL__")
}

func TestMaskToolResultDefaultsDisabled(t *testing.T) {
	s := NewService(registryWith(nil), config.ToolMaskingDefaults{})

	in := `password: hunter123`
	assert.Equal(t, in, s.MaskToolResult("srv", in))
}

func TestMaskToolResultServerConfigWins(t *testing.T) {
	servers := map[string]*config.MCPServerConfig{
		"quiet": {
			Transport:   config.TransportConfig{Type: config.TransportTypeHTTPSSE, Endpoint: "http://x/sse"},
			DataMasking: &config.MaskingConfig{Enabled: false},
		},
		"strict": {
			Transport: config.TransportConfig{Type: config.TransportTypeHTTPSSE, Endpoint: "http://x/sse"},
			DataMasking: &config.MaskingConfig{
				Enabled:       true,
				PatternGroups: []string{"basic"},
			},
		},
	}
	s := NewService(registryWith(servers), defaultsOn())

	secret := `password: hunter123456`
	// server opted out entirely, system default does not apply
	assert.Equal(t, secret, s.MaskToolResult("quiet", secret))

	masked := s.MaskToolResult("strict", secret)
	assert.NotContains(t, masked, "hunter123456")
	// "basic" group has no email pattern
	mail := "reach me at a@b.example"
	assert.Equal(t, mail, s.MaskToolResult("strict", mail))
}

func TestMaskToolResultCustomPatterns(t *testing.T) {
	servers := map[string]*config.MCPServerConfig{
		"custom": {
			Transport: config.TransportConfig{Type: config.TransportTypeHTTPSSE, Endpoint: "http://x/sse"},
			DataMasking: &config.MaskingConfig{
				Enabled: true,
				CustomPatterns: []config.MaskingPattern{
					{Pattern: `ticket-\d{6}`, Replacement: "__MASKED_TICKET__"},
				},
			},
		},
	}
	s := NewService(registryWith(servers), defaultsOn())

	out := s.MaskToolResult("custom", "escalated ticket-123456 to tier 2")
	assert.Equal(t, "escalated __MASKED_TICKET__ to tier 2", out)
}

func TestMaskToolResultInvalidCustomPatternSkipped(t *testing.T) {
	servers := map[string]*config.MCPServerConfig{
		"broken": {
			Transport: config.TransportConfig{Type: config.TransportTypeHTTPSSE, Endpoint: "http://x/sse"},
			DataMasking: &config.MaskingConfig{
				Enabled: true,
				CustomPatterns: []config.MaskingPattern{
					{Pattern: `([`, Replacement: "x"},
					{Pattern: `secret-\d+`, Replacement: "__MASKED__"},
				},
			},
		},
	}
	s := NewService(registryWith(servers), defaultsOn())

	out := s.MaskToolResult("broken", "found secret-42 in logs")
	assert.Equal(t, "found __MASKED__ in logs", out)
}

func TestMaskEmptyContent(t *testing.T) {
	s := NewService(registryWith(nil), defaultsOn())
	assert.Equal(t, "", s.MaskToolResult("srv", ""))
}
