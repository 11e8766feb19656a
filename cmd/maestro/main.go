// Maestro orchestration server — routes chat turns across agents, manages
// MCP tool servers, and layers buffer, long-term, and user-context memory.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/maestrokit/maestro/pkg/api"
	"github.com/maestrokit/maestro/pkg/cleanup"
	"github.com/maestrokit/maestro/pkg/config"
	"github.com/maestrokit/maestro/pkg/database"
	"github.com/maestrokit/maestro/pkg/knowledge"
	"github.com/maestrokit/maestro/pkg/llm"
	"github.com/maestrokit/maestro/pkg/masking"
	"github.com/maestrokit/maestro/pkg/mcp"
	"github.com/maestrokit/maestro/pkg/memory/buffer"
	"github.com/maestrokit/maestro/pkg/memory/extractor"
	"github.com/maestrokit/maestro/pkg/memory/longterm"
	"github.com/maestrokit/maestro/pkg/memory/memobase"
	"github.com/maestrokit/maestro/pkg/orchestrator"
	"github.com/maestrokit/maestro/pkg/routing"
	"github.com/maestrokit/maestro/pkg/version"
)

const shutdownGrace = 30 * time.Second

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env from the config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	}

	setupLogging()

	httpPort := getEnv("HTTP_PORT", "8080")
	slog.Info("Starting Maestro",
		"version", version.GitCommit,
		"http_port", httpPort,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Tracing (stdout exporter, opt-in)
	shutdownTracing := setupTracing(ctx)
	defer shutdownTracing()

	// 2. Configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 3. Database. Long-term memory and durable user context need it; the
	//    rest of the system runs degraded without one.
	var dbClient *database.Client
	if getEnv("DB_ENABLED", "true") != "false" {
		dbConfig, err := database.LoadConfigFromEnv()
		if err != nil {
			slog.Error("Failed to load database config", "error", err)
			os.Exit(1)
		}
		dbClient, err = database.NewClient(ctx, dbConfig)
		if err != nil {
			slog.Warn("Database unavailable; running without persistent memory", "error", err)
			dbClient = nil
		}
	}
	if dbClient != nil {
		defer dbClient.Close()
	}

	// 4. LLM clients and the shared embedder
	factory := llm.NewFactory(cfg.LLMProviderRegistry, cfg.Defaults.StallTimeout)

	var embedder llm.Embedder
	if provider, err := cfg.GetLLMProvider(cfg.Memory.Embedding.Provider); err != nil {
		slog.Warn("Embedding provider not configured; memory runs recency-only",
			"provider", cfg.Memory.Embedding.Provider, "error", err)
	} else {
		embedder, err = llm.NewOpenAIEmbedder(provider, cfg.Memory.Embedding.Dimension)
		if err != nil {
			slog.Error("Failed to create embedder", "error", err)
			os.Exit(1)
		}
	}

	// 5. Memory tiers
	buf := buffer.New(cfg.Memory.Buffer, embedder)

	var longTerm *longterm.Memory
	if embedder != nil {
		switch {
		case cfg.Memory.LongTerm.Driver == config.LongTermDriverInMemory:
			longTerm = longterm.New(longterm.NewInMemoryDriver(), embedder, cfg.Memory.Embedding.Dimension)
		case dbClient != nil:
			longTerm = longterm.New(longterm.NewPgvectorDriver(dbClient.Pool()), embedder, cfg.Memory.Embedding.Dimension)
		default:
			slog.Warn("Long-term memory disabled: pgvector driver configured but no database")
		}
	}

	var userCtx *memobase.Store
	if dbClient != nil {
		userCtx = memobase.New(memobase.NewPgxDriver(dbClient.Pool()))
	} else {
		userCtx = memobase.New(memobase.NewInMemoryDriver())
	}

	// 6. Knowledge library
	library := knowledge.NewLibrary(cfg.Knowledge.CacheDir)
	for name, sourceCfg := range cfg.Knowledge.Sources {
		src, err := knowledge.NewSource(ctx, name, sourceCfg, cfg.Knowledge.CacheDir, embedder)
		if err != nil {
			slog.Error("Failed to load knowledge source", "source", name, "error", err)
			os.Exit(1)
		}
		library.Add(src)
	}

	// 7. MCP service with tool-result masking
	var masker mcp.ResultMasker
	if cfg.Defaults.ToolMasking != nil {
		masker = masking.NewService(cfg.MCPServerRegistry, *cfg.Defaults.ToolMasking)
	}
	mcpService := mcp.NewService(*cfg.Defaults.MCPBackoff, cfg.Defaults.ToolTimeout, masker)

	// 8. Routing, extraction, orchestrator
	routingClient, err := factory.Client(cfg.Defaults.LLMProvider)
	if err != nil {
		slog.Error("Default LLM provider unavailable", "provider", cfg.Defaults.LLMProvider, "error", err)
		os.Exit(1)
	}
	router := routing.New(cfg.Routing, cfg.AgentRegistry, routingClient)

	var extr *extractor.Extractor
	if cfg.Memory.Extraction.Enabled {
		providerName := cfg.Memory.Extraction.Provider
		if providerName == "" {
			providerName = cfg.Defaults.LLMProvider
		}
		extractionClient, err := factory.Client(providerName)
		if err != nil {
			slog.Error("Extraction provider unavailable", "provider", providerName, "error", err)
			os.Exit(1)
		}
		extr = extractor.New(cfg.Memory.Extraction, extractionClient, userCtx)
	}

	orch := orchestrator.New(cfg, orchestrator.Deps{
		LLM:       factory,
		Router:    router,
		MCP:       mcpService,
		Buffer:    buf,
		LongTerm:  longTerm,
		UserCtx:   userCtx,
		Knowledge: library,
		Extractor: extr,
	})
	if err := orch.Bootstrap(ctx); err != nil {
		slog.Error("Failed to bootstrap orchestrator", "error", err)
		os.Exit(1)
	}

	// 9. Background maintenance
	maintenance := cleanup.NewService(cfg.Retention, router, orch.Conversations(), longTerm, cfg.Knowledge.CacheDir)
	maintenance.Start(ctx)

	// 10. HTTP server
	keys, err := api.LoadKeyringFromEnv()
	if err != nil {
		slog.Error("Failed to build API keyring", "error", err)
		os.Exit(1)
	}
	httpServer := api.NewServer(cfg, orch, dbClient, keys)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + httpPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stats := cfg.Stats()
	slog.Info("Maestro started",
		"agents", stats.Agents,
		"mcp_servers", stats.MCPServers,
		"llm_providers", stats.LLMProviders,
		"knowledge_sources", stats.KnowledgeSources)

	// 11. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 12. Graceful shutdown: stop accepting requests, drain in-flight turns,
	//     close MCP connections and the extraction pool, then background
	//     loops and the database (deferred).
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	orch.Shutdown(shutdownGrace)
	maintenance.Stop()

	slog.Info("Shutdown complete")
}

// setupLogging configures slog from LOG_LEVEL and LOG_FORMAT.
func setupLogging() {
	var level slog.Level
	switch getEnv("LOG_LEVEL", "info") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if getEnv("LOG_FORMAT", "text") == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// setupTracing installs a stdout span exporter when OTEL_TRACES_ENABLED is
// set. Returns the provider shutdown function.
func setupTracing(ctx context.Context) func() {
	if getEnv("OTEL_TRACES_ENABLED", "false") != "true" {
		return func() {}
	}

	exporter, err := stdouttrace.New()
	if err != nil {
		slog.Warn("Failed to create trace exporter; tracing disabled", "error", err)
		return func() {}
	}
	provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)
	slog.Info("Tracing enabled", "exporter", "stdout")

	return func() {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Trace provider shutdown error", "error", err)
		}
	}
}
