// Command server wires the orchestration engine's full process: config,
// secrets, storage, the MCP tool caller, the fan-out agent fleet, the
// orchestrator, the drift monitor, and the REST/SSE/WebSocket API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/leocder07/stockresearch/internal/agents"
	"github.com/leocder07/stockresearch/internal/agentruntime"
	"github.com/leocder07/stockresearch/internal/api"
	"github.com/leocder07/stockresearch/internal/bus"
	"github.com/leocder07/stockresearch/internal/config"
	"github.com/leocder07/stockresearch/internal/drift"
	"github.com/leocder07/stockresearch/internal/market"
	"github.com/leocder07/stockresearch/internal/metrics"
	"github.com/leocder07/stockresearch/internal/orchestrator"
	"github.com/leocder07/stockresearch/internal/progressbus"
	"github.com/leocder07/stockresearch/internal/resilience"
	"github.com/leocder07/stockresearch/internal/secrets"
	"github.com/leocder07/stockresearch/internal/store"
	"github.com/leocder07/stockresearch/internal/toolcaller"
)

func main() {
	configPath := flag.String("config", "", "Path to config.yaml")
	agentConfigPath := flag.String("agent-config", "", "Path to agents.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	config.InitLogger(cfg.App.LogLevel, "json")

	agentCfg, err := config.LoadAgentConfig(*agentConfigPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load agent configuration")
	}

	log.Info().Str("version", config.Version).Str("environment", cfg.App.Environment).Msg("starting stockresearch orchestrator")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resolver, err := secrets.NewResolver(secrets.FromEnv())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build secrets resolver")
	}

	databaseURL, err := resolver.DatabaseURL(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to resolve database URL")
	}

	pool, err := store.NewPool(ctx, databaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	breaker := resilience.NewManager()
	resultStore := store.New(pool, breaker, log.Logger)

	redisAddr, err := resolver.RedisAddress(ctx, cfg.Redis.Addr())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to resolve redis address")
	}
	redisClient := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: resolver.RedisPassword(ctx),
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis ping failed; market data caching disabled for this run")
	}

	// Concrete market-data providers are out of scope (internal/market's own
	// package doc); MockFetcher plus the Redis caching decorator is this
	// deployment's fetcher until a real provider is wired behind the same
	// Fetcher interface.
	fetcher := market.NewCachedFetcher(market.NewMockFetcher(), redisClient, cfg.Redis.QuoteTTL, cfg.Redis.HistoryTTL)

	toolClient := toolcaller.New(cfg.ToolCaller.ClientName, cfg.ToolCaller.ClientVersion, log.Logger)
	if servers := toolServers(cfg, agentCfg); len(servers) > 0 {
		if err := toolClient.Connect(ctx, servers); err != nil {
			log.Warn().Err(err).Msg("failed to connect one or more MCP tool servers; affected agents fall back to neutral opinions")
		}
	}
	defer toolClient.Close()

	progress := progressbus.New()
	if cfg.NATS.URL != "" {
		if relay, err := bus.NewNATSRelay(bus.Config{URL: cfg.NATS.URL}); err != nil {
			log.Warn().Err(err).Msg("failed to connect to NATS; progress events stay local to this process")
		} else {
			progress.SetRelay(relay)
			defer relay.Close()
		}
	}

	orch := orchestrator.New(buildOrchestratorConfig(cfg), log.Logger, buildAgentDefinitions(agentCfg), fetcher, resultStore, progress)
	orch.SetTools(toolClient)

	var sentiment drift.SentimentProvider
	monitor := drift.New(buildDriftConfig(cfg), log.Logger, fetcher, sentiment, resultStore, progress, breaker)
	go func() {
		if err := monitor.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("drift monitor stopped unexpectedly")
		}
	}()

	if cfg.Monitoring.EnableMetrics {
		updater := metrics.NewUpdater(pool, 30*time.Second)
		go updater.Start(ctx)
		defer updater.Stop()
	}

	server := api.NewServer(api.Config{
		Host:         cfg.API.Host,
		Port:         cfg.API.Port,
		Orchestrator: orch,
		Store:        resultStore,
		Bus:          progress,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-errCh:
		log.Error().Err(err).Msg("API server error")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during API server shutdown")
		os.Exit(1)
	}

	log.Info().Msg("shutdown complete")
}

func buildOrchestratorConfig(cfg *config.Config) orchestrator.Config {
	return orchestrator.Config{
		PerRunParallelism: cfg.Orchestrator.PerRunParallelism,
		GlobalParallelism: cfg.Orchestrator.GlobalParallelism,
		RunTimeout:        cfg.Orchestrator.RunTimeout,
		AccountValue:      cfg.Orchestrator.AccountValue,
	}
}

func buildDriftConfig(cfg *config.Config) drift.Config {
	return drift.Config{
		TickInterval: cfg.Drift.TickInterval,
		ActiveWindow: cfg.Drift.ActiveWindow,
	}
}

// buildAgentDefinitions constructs the fan-out phase's AgentDefinitions from
// the agent fleet config: one agents.New per enabled agent_id, reaching
// whichever MCP server/tool its config names.
func buildAgentDefinitions(agentCfg *config.AgentConfig) []orchestrator.AgentDefinition {
	defs := make([]orchestrator.AgentDefinition, 0, len(agentCfg.Agents))
	for id, spec := range agentCfg.Agents {
		if !spec.Enabled {
			continue
		}
		serverName, toolName := agentToolTarget(id, spec)
		fn := agents.New(agents.Spec{
			AgentID:    id,
			ServerName: serverName,
			ToolName:   toolName,
		})
		defs = append(defs, orchestrator.AgentDefinition{AgentID: id, Fn: wrapWithDeadline(agentCfg, id, fn)})
	}
	return defs
}

// wrapWithDeadline is a no-op passthrough today; AgentRuntime already owns
// per-agent deadline enforcement (spec default 30s), so per-agent
// config.deadline is informational until a future per-agent override lands
// in agentruntime's own Config.
func wrapWithDeadline(_ *config.AgentConfig, _ string, fn agentruntime.Func) agentruntime.Func {
	return fn
}

// agentToolTarget resolves which MCP server/tool an agent_id's fleet entry
// calls. An explicit "tool_name" key in AgentSpec.Config overrides the
// "analyze_<agent_id>" convention; the first configured MCP server is used.
func agentToolTarget(agentID string, spec config.AgentSpec) (serverName, toolName string) {
	toolName = "analyze_" + agentID
	if spec.Config != nil {
		if v, ok := spec.Config["tool_name"].(string); ok && v != "" {
			toolName = v
		}
	}
	if len(spec.MCPServers) > 0 {
		serverName = spec.MCPServers[0].Name
	}
	return serverName, toolName
}

// toolServers deduplicates every MCP server referenced across the agent
// fleet and the top-level tool_caller config into one Connect call.
func toolServers(cfg *config.Config, agentCfg *config.AgentConfig) []toolcaller.ServerConfig {
	seen := make(map[string]bool)
	var servers []toolcaller.ServerConfig

	add := func(name, kind, command string, args []string, env map[string]string, url string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		servers = append(servers, toolcaller.ServerConfig{
			Name: name, Kind: kind, Command: command, Args: args, Env: env, URL: url,
		})
	}

	for _, ref := range cfg.ToolCaller.Servers {
		add(ref.Name, ref.Kind, ref.Command, ref.Args, ref.Env, ref.URL)
	}
	for _, spec := range agentCfg.Agents {
		for _, conn := range spec.MCPServers {
			add(conn.Name, conn.Kind, conn.Command, conn.Args, nil, conn.URL)
		}
	}
	return servers
}
