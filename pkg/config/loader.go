package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// MaestroYAMLConfig represents the complete maestro.yaml file structure
type MaestroYAMLConfig struct {
	Agents     map[string]AgentConfig     `yaml:"agents"`
	MCPServers map[string]MCPServerConfig `yaml:"mcp_servers"`
	Memory     *MemoryConfig              `yaml:"memory"`
	Routing    *RoutingConfig             `yaml:"routing"`
	Knowledge  *KnowledgeConfig           `yaml:"knowledge"`
	Defaults   *Defaults                  `yaml:"defaults"`
	System     *SystemYAMLConfig          `yaml:"system"`
}

// SystemYAMLConfig groups system-wide infrastructure settings.
type SystemYAMLConfig struct {
	AllowedWSOrigins []string         `yaml:"allowed_ws_origins"`
	Retention        *RetentionConfig `yaml:"retention"`
}

// LLMProvidersYAMLConfig represents the complete llm-providers.yaml file structure
type LLMProvidersYAMLConfig struct {
	LLMProviders map[string]LLMProviderConfig `yaml:"llm_providers"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load YAML files from configDir
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge built-in + user-defined configurations
//  5. Apply per-source knowledge defaults
//  6. Build in-memory registries
//  7. Apply default values
//  8. Validate all configuration
//  9. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	// 1. Load configuration files
	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// 2. Validate all configuration
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"agents", stats.Agents,
		"mcp_servers", stats.MCPServers,
		"llm_providers", stats.LLMProviders,
		"knowledge_sources", stats.KnowledgeSources)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{
		configDir: configDir,
	}

	// 1. Load maestro.yaml (agents, mcp_servers, memory, routing, knowledge, defaults)
	maestroConfig, err := loader.loadMaestroYAML()
	if err != nil {
		return nil, NewLoadError("maestro.yaml", err)
	}

	// 2. Load llm-providers.yaml
	llmProviders, err := loader.loadLLMProvidersYAML()
	if err != nil {
		return nil, NewLoadError("llm-providers.yaml", err)
	}

	// 3. Get built-in configuration
	builtin := GetBuiltinConfig()

	// 4. Merge built-in + user-defined components (user overrides built-in)
	agents := mergeAgents(builtin.Agents, maestroConfig.Agents)
	mcpServers := mergeMCPServers(builtin.MCPServers, maestroConfig.MCPServers)
	llmProvidersMerged := mergeLLMProviders(builtin.LLMProviders, llmProviders)

	// 5. Apply knowledge source defaults (before validation)
	knowledge := maestroConfig.Knowledge
	if knowledge == nil {
		knowledge = &KnowledgeConfig{}
	}
	if knowledge.CacheDir == "" {
		knowledge.CacheDir = filepath.Join(configDir, ".knowledge-cache")
	}
	for _, src := range knowledge.Sources {
		if src.ChunkSize == 0 {
			src.ChunkSize = DefaultKnowledgeChunkSize
		}
		if src.TopK == 0 {
			src.TopK = DefaultKnowledgeTopK
		}
		if src.Threshold == 0 {
			src.Threshold = DefaultKnowledgeThreshold
		}
	}

	// 6. Build registries; initial agents in sorted-id order so routing
	// tie-breaks are deterministic across restarts
	agentOrder := make([]string, 0, len(agents))
	for id := range agents {
		agentOrder = append(agentOrder, id)
	}
	sort.Strings(agentOrder)

	agentRegistry := NewAgentRegistry(agents, agentOrder)
	mcpServerRegistry := NewMCPServerRegistry(mcpServers)
	llmProviderRegistry := NewLLMProviderRegistry(llmProvidersMerged)

	// 7. Resolve defaults and subsystem configs (user YAML over built-in)
	defaults := DefaultDefaults()
	if maestroConfig.Defaults != nil {
		if err := mergo.Merge(defaults, maestroConfig.Defaults, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge defaults: %w", err)
		}
	}

	memoryCfg := DefaultMemoryConfig()
	if maestroConfig.Memory != nil {
		if err := mergo.Merge(memoryCfg, maestroConfig.Memory, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge memory config: %w", err)
		}
	}

	routingCfg := DefaultRoutingConfig()
	if maestroConfig.Routing != nil {
		if err := mergo.Merge(routingCfg, maestroConfig.Routing, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge routing config: %w", err)
		}
	}

	retentionCfg := resolveRetentionConfig(maestroConfig.System)
	allowedWSOrigins := resolveAllowedWSOrigins(maestroConfig.System)

	return &Config{
		configDir:           configDir,
		Defaults:            defaults,
		Memory:              memoryCfg,
		Routing:             routingCfg,
		Knowledge:           knowledge,
		Retention:           retentionCfg,
		AllowedWSOrigins:    allowedWSOrigins,
		AgentRegistry:       agentRegistry,
		MCPServerRegistry:   mcpServerRegistry,
		LLMProviderRegistry: llmProviderRegistry,
	}, nil
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax
	// Note: ExpandEnv passes through original data on parse/execution errors,
	// allowing YAML parser to handle the content (or fail with clearer error message)
	data = ExpandEnv(data)

	// Parse YAML
	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadMaestroYAML() (*MaestroYAMLConfig, error) {
	var config MaestroYAMLConfig

	// Initialize maps to avoid nil maps
	config.Agents = make(map[string]AgentConfig)
	config.MCPServers = make(map[string]MCPServerConfig)

	if err := l.loadYAML("maestro.yaml", &config); err != nil {
		return nil, err
	}

	return &config, nil
}

func (l *configLoader) loadLLMProvidersYAML() (map[string]LLMProviderConfig, error) {
	var config LLMProvidersYAMLConfig

	// Initialize map to avoid nil map
	config.LLMProviders = make(map[string]LLMProviderConfig)

	if err := l.loadYAML("llm-providers.yaml", &config); err != nil {
		return nil, err
	}

	return config.LLMProviders, nil
}

// resolveRetentionConfig resolves retention configuration from system YAML, applying defaults.
func resolveRetentionConfig(sys *SystemYAMLConfig) *RetentionConfig {
	cfg := DefaultRetentionConfig()

	if sys == nil || sys.Retention == nil {
		return cfg
	}

	r := sys.Retention
	if r.MemoryRetentionDays > 0 {
		cfg.MemoryRetentionDays = r.MemoryRetentionDays
	}
	if r.RoutingSweepInterval > 0 {
		cfg.RoutingSweepInterval = r.RoutingSweepInterval
	}
	if r.KnowledgeCacheTTL > 0 {
		cfg.KnowledgeCacheTTL = r.KnowledgeCacheTTL
	}
	if r.CleanupInterval > 0 {
		cfg.CleanupInterval = r.CleanupInterval
	}

	return cfg
}

// resolveAllowedWSOrigins returns additional WebSocket origin patterns from system YAML.
func resolveAllowedWSOrigins(sys *SystemYAMLConfig) []string {
	if sys != nil {
		return sys.AllowedWSOrigins
	}
	return nil
}
