// Command bankassistd is the conversational assistant's process
// bootstrapper: it loads configuration, wires every subsystem together,
// and serves the HTTP surface until it receives a termination signal.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Kadsuke/assistant-axelis/pkg/auth"
	"github.com/Kadsuke/assistant-axelis/pkg/bootstrap"
	"github.com/Kadsuke/assistant-axelis/pkg/config"
	"github.com/Kadsuke/assistant-axelis/pkg/conversation"
	"github.com/Kadsuke/assistant-axelis/pkg/embedding"
	"github.com/Kadsuke/assistant-axelis/pkg/httpapi"
	"github.com/Kadsuke/assistant-axelis/pkg/humanagent"
	"github.com/Kadsuke/assistant-axelis/pkg/logger"
	"github.com/Kadsuke/assistant-axelis/pkg/observability"
	"github.com/Kadsuke/assistant-axelis/pkg/orchestrator"
	"github.com/Kadsuke/assistant-axelis/pkg/pack"
	"github.com/Kadsuke/assistant-axelis/pkg/pipeline"
	"github.com/Kadsuke/assistant-axelis/pkg/ratelimit"
	"github.com/Kadsuke/assistant-axelis/pkg/retrieval"
)

func main() {
	configDir := flag.String("config-dir", "./config", "directory of YAML configuration files")
	envFile := flag.String("env-file", ".env", "dotenv file to load into the process environment before reading config")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	loader := config.NewLoader(*configDir)
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.ParseLevel(cfg.Logger.Level), os.Stderr, cfg.Logger.Format)
	log := logger.Get()

	application := cfg.Name
	if application == "" {
		application = "coris_money"
	}

	resolver := pack.New(cfg.Packs)
	loader.SetOnChange(func(newCfg *config.Config) {
		resolver.Reload(newCfg.Packs)
		log.Info("configuration reloaded")
	})
	if err := loader.Watch(); err != nil {
		log.Warn("config hot-reload disabled", "error", err)
	}
	defer loader.Stop()

	pool := config.NewDBPool()
	defer pool.Close()

	sessions, err := buildConversationStore(cfg, pool)
	if err != nil {
		log.Error("failed to initialize conversation store", "error", err)
		os.Exit(1)
	}

	humanAgents, err := buildHumanAgentRegistry(cfg, pool)
	if err != nil {
		log.Error("failed to initialize human agent registry", "error", err)
		os.Exit(1)
	}

	embedder, err := embedding.BuildManager(cfg.Embedders)
	if err != nil {
		log.Error("failed to initialize embedding manager", "error", err)
		os.Exit(1)
	}
	defer embedder.Close()

	knowledge := buildKnowledgeStore(cfg, embedder, log)

	orch := buildOrchestrator(cfg, resolver, log)

	metrics := observability.NewMetrics(&observability.MetricsConfig{Enabled: true})
	observability.InitGlobalTracer(observability.TracerConfig{Enabled: true, ServiceName: "bankassistd"})

	p := pipeline.New(application, resolver, sessions, orch, humanAgents, embedder, knowledge, metrics, log)

	validator := auth.NewValidator(apiKeyLabels(cfg.Server.APIKeys))
	limiter := ratelimit.New(resolver, application, *cfg.RateLimiting)

	server := httpapi.NewServer(&httpapi.Server{
		Pipeline: p,
		Resolver: resolver,
		Sessions: sessions,
		Embedder: embedder,
		Auth:     validator,
		Limiter:  limiter,
		Metrics:  metrics,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server,
		ReadTimeout:  time.Duration(cfg.Server.RequestTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.RequestTimeoutSec) * time.Second,
	}

	startupCheck := bootstrap.SelfCheck(context.Background(), resolver, sessions, embedder)
	if !startupCheck.Healthy {
		log.Warn("starting with a degraded self-check", "components", startupCheck.Components)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("bankassistd listening", "address", addr, "application", application)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		log.Error("server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
}

func buildConversationStore(cfg *config.Config, pool *config.DBPool) (*conversation.Store, error) {
	dbCfg, ok := cfg.Databases[cfg.ConversationDatabase]
	if !ok {
		dbCfg = &config.DatabaseConfig{Driver: "sqlite", Database: ":memory:"}
		dbCfg.SetDefaults()
	}
	db, err := pool.Get(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("conversation database: %w", err)
	}
	return conversation.NewStore(db, dbCfg.Dialect(), conversation.DefaultContextCacheTTL)
}

func buildHumanAgentRegistry(cfg *config.Config, pool *config.DBPool) (*humanagent.Registry, error) {
	dbName := cfg.HumanAgentDatabase
	if dbName == "" {
		dbName = cfg.ConversationDatabase
	}
	dbCfg, ok := cfg.Databases[dbName]
	if !ok {
		dbCfg = &config.DatabaseConfig{Driver: "sqlite", Database: ":memory:"}
		dbCfg.SetDefaults()
	}
	db, err := pool.Get(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("human agent database: %w", err)
	}
	return humanagent.NewRegistry(db, dbCfg.Dialect())
}

// buildKnowledgeStore wires the retrieval store over the first configured
// vector store. A tenant's knowledge base is an optional dependency: with
// none configured, or the connection failing, the turn still runs, just
// without consulting per-tenant knowledge.
func buildKnowledgeStore(cfg *config.Config, embedder *embedding.Manager, log *slog.Logger) *retrieval.Store {
	for _, vsCfg := range cfg.VectorStores {
		backend, err := retrieval.NewQdrantBackend(vsCfg)
		if err != nil {
			log.Warn("failed to connect to vector store, knowledge retrieval disabled", "error", err)
			return nil
		}
		return retrieval.New(backend, embedder.Dimension())
	}
	log.Warn("no vector store configured, knowledge retrieval disabled")
	return nil
}

func buildOrchestrator(cfg *config.Config, resolver *pack.Resolver, log *slog.Logger) *orchestrator.Orchestrator {
	for _, llmCfg := range cfg.LLMs {
		if llmCfg.Provider == "anthropic" && llmCfg.APIKey != "" {
			return orchestrator.NewFromAPIKey(resolver, llmCfg.APIKey, llmCfg.Model)
		}
	}
	log.Warn("no anthropic LLM configured, orchestrator will fall back to canned responses")
	return orchestrator.New(resolver, nil, "")
}

func apiKeyLabels(keys []string) map[string]string {
	labels := make(map[string]string, len(keys))
	for i, key := range keys {
		labels[fmt.Sprintf("key-%d", i)] = key
	}
	return labels
}
