// Command scholar runs the research assistant: chat channels on one side,
// the tool-calling research engine in the middle, model providers and
// capability backends on the other.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"scholar/pkg/agent"
	"scholar/pkg/channels"
	_ "scholar/pkg/channels/autoload" // register channel factories
	"scholar/pkg/config"
	"scholar/pkg/gateway"
	"scholar/pkg/llm"
	_ "scholar/pkg/llm/autoload" // register LLM providers
	"scholar/pkg/llm/openailm"
	"scholar/pkg/market"
	"scholar/pkg/mcpserver"
	"scholar/pkg/monitor"
	"scholar/pkg/research"
	"scholar/pkg/retrieval"
	"scholar/pkg/search"
	"scholar/pkg/store"
)

func main() {
	monitor.PrintBanner()

	// --- 0. Configuration ---
	cfg, sysCfg, err := config.Load()
	if err != nil {
		slog.Error("❌ Failed to load configuration", "error", err)
		os.Exit(1)
	}
	monitor.SetupSlog(sysCfg.LogLevel)

	// --- 1. Conversation store + sessions ---
	historyStore, err := buildStore(cfg.Store)
	if err != nil {
		slog.Error("❌ Failed to init conversation store", "error", err)
		os.Exit(1)
	}
	sessions := llm.NewSessionManager(historyStore)

	// --- 2. Model client ---
	client, err := llm.NewFromConfig(cfg.LLM, sysCfg)
	if err != nil {
		slog.Error("❌ Failed to init LLM client", "error", err)
		os.Exit(1)
	}

	// --- 3. Research engine + toolkit ---
	engine := agent.NewEngine(client, cfg, sysCfg, sessions)
	opts, err := toolkitOptions(cfg, sysCfg)
	if err != nil {
		slog.Error("❌ Failed to init capability backends", "error", err)
		os.Exit(1)
	}
	toolkit, err := research.Toolkit(opts)
	if err != nil {
		slog.Error("❌ Failed to assemble toolkit", "error", err)
		os.Exit(1)
	}
	if err := engine.RegisterTool(toolkit...); err != nil {
		slog.Error("❌ Failed to register tools", "error", err)
		os.Exit(1)
	}
	slog.Info("🧰 Toolkit ready", "tools", engine.Registry().Len())

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- 4. Gateway + channels ---
	gw, err := gateway.NewGatewayBuilder().
		WithSystemConfig(sysCfg).
		WithMonitor(monitor.NewCLIMonitor()).
		WithChannelLoader(func(g *gateway.GatewayManager) {
			channels.LoadFromConfig(g, cfg.Channels, channels.Deps{
				Sessions: sessions,
				System:   sysCfg,
			})
		}).
		WithAgentEngine(engine).
		Build()
	if err != nil {
		slog.Error("❌ Failed to build gateway", "error", err)
		os.Exit(1)
	}

	// --- 5. Optional MCP sidecar ---
	if cfg.MCP != nil && cfg.MCP.Enabled {
		addr := cfg.MCP.Addr
		if addr == "" {
			addr = ":8811"
		}
		mcpSrv := mcpserver.NewServer(engine.Registry(), engine.Executor())
		go func() {
			if err := mcpSrv.ServeSSE(rootCtx, addr); err != nil {
				slog.Error("❌ MCP server stopped", "error", err)
			}
		}()
	}

	// --- 6. Hot reload for system.json ---
	go func() {
		for file := range config.WatchConfig(rootCtx, "system.json") {
			slog.Info("🔄 Reloading system configuration", "file", file)
			// In-place copy so every holder of the pointer sees the new
			// values on its next turn.
			*sysCfg = *config.LoadSystemConfig("system.json")
			monitor.SetupSlog(sysCfg.LogLevel)
		}
	}()

	// --- 7. Run until signal ---
	<-rootCtx.Done()
	slog.Info("🛑 Shutdown signal received, stopping services")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sessions.Flush(shutdownCtx); err != nil {
		slog.Error("❌ Failed to flush sessions", "error", err)
	}
	gw.StopAll()
	slog.Info("👋 Bye!")
}

// buildStore selects the conversation persistence backend. A nil return
// with nil error means purely in-memory sessions.
func buildStore(cfg *config.StoreConfig) (llm.HistoryStore, error) {
	if cfg == nil {
		return store.NewFileStore("")
	}
	switch cfg.Type {
	case "", "file":
		return store.NewFileStore(cfg.Dir)
	case "redis":
		var opts []store.RedisOption
		if cfg.TTLHours > 0 {
			opts = append(opts, store.WithTTL(time.Duration(cfg.TTLHours)*time.Hour))
		}
		return store.NewRedisStore(cfg.Addr, cfg.Password, cfg.DB, opts...), nil
	case "memory":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}

// toolkitOptions maps the configuration onto the toolkit's providers.
// Unconfigured or disabled capabilities stay nil so their tools are never
// advertised to the model.
func toolkitOptions(cfg *config.Config, sysCfg *config.SystemConfig) (research.Options, error) {
	opts := research.Options{
		MatchCount:     sysCfg.RetrievalMatchCount,
		WebResultLimit: sysCfg.WebResultLimit,
		MetricPatterns: sysCfg.MetricPatterns,
	}

	if cfg.Retrieval != nil {
		embedder := openailm.NewEmbedder(
			cfg.Retrieval.OpenAIAPIKey,
			cfg.Retrieval.EmbeddingModel,
			cfg.Retrieval.BaseURL,
		)
		docs, err := retrieval.NewStore(
			cfg.Retrieval.SupabaseURL,
			cfg.Retrieval.SupabaseKey,
			cfg.Retrieval.QueryFunction,
			embedder,
		)
		if err != nil {
			return opts, err
		}
		opts.Documents = docs
	} else {
		slog.Warn("⚠️ Document retrieval not configured, search_documents unavailable")
	}

	if cfg.Search == nil || !cfg.Search.Disabled {
		endpoint := ""
		if cfg.Search != nil {
			endpoint = cfg.Search.Endpoint
		}
		if endpoint != "" {
			opts.Web = search.NewDuckDuckGoWithClient(nil, endpoint)
		} else {
			opts.Web = search.NewDuckDuckGo()
		}
	}

	if cfg.Market == nil || !cfg.Market.Disabled {
		baseURL := ""
		if cfg.Market != nil {
			baseURL = cfg.Market.BaseURL
		}
		if baseURL != "" {
			opts.Market = market.NewClientWithBaseURL(nil, baseURL)
		} else {
			opts.Market = market.NewClient()
		}
	}

	return opts, nil
}
