// prx-memoryd is the memory service entry point: it reads configuration
// from the environment, wires the storage backend, scope/governance/
// embedding/write/stream/metrics subsystems into an rpc.Dispatcher, and
// serves it over stdio or HTTP+SSE depending on PRX_MEMORYD_TRANSPORT.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/openprx/prx-memory/pkg/config"
	"github.com/openprx/prx-memory/pkg/embed"
	"github.com/openprx/prx-memory/pkg/embedproviders"
	"github.com/openprx/prx-memory/pkg/governance"
	"github.com/openprx/prx-memory/pkg/metrics"
	"github.com/openprx/prx-memory/pkg/rpc"
	"github.com/openprx/prx-memory/pkg/rpcio"
	"github.com/openprx/prx-memory/pkg/scope"
	"github.com/openprx/prx-memory/pkg/store"
	"github.com/openprx/prx-memory/pkg/stream"
	"github.com/openprx/prx-memory/pkg/transport"
	"github.com/openprx/prx-memory/pkg/write"
)

func main() {
	envFile := flag.String("env-file", ".env", "optional dotenv file to load before reading the environment")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("no %s loaded: %v (continuing with process environment)", *envFile, err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg, err := config.Initialize(logger)
	if err != nil {
		log.Fatalf("configuration: %v", err)
	}

	backend, err := openBackend(context.Background(), cfg)
	if err != nil {
		log.Fatalf("opening storage backend: %v", err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Error("closing storage backend", "error", err)
		}
	}()

	defaultScope := strings.ReplaceAll(cfg.DefaultScopeTemplate, "{agent_id}", cfg.AgentID)
	scopes := scope.NewManager(cfg.AgentID, defaultScope, cfg.AllowedScopes, cfg.AgentAccess)

	governanceCfg := governance.DefaultConfig()
	governanceCfg.DefaultProjectTag = cfg.DefaultProjectTag
	governanceCfg.DefaultToolTag = cfg.DefaultToolTag
	governanceCfg.DefaultDomainTag = cfg.DefaultDomainTag

	embedder, err := embedproviders.BuildEmbeddingProvider(embedproviders.EmbedProviderConfig{
		Provider: cfg.Embed.Provider,
		APIKey:   cfg.Embed.APIKey,
		Model:    cfg.Embed.Model,
		BaseURL:  cfg.Embed.BaseURL,
		Timeout:  15 * time.Second,
	})
	if err != nil {
		log.Fatalf("embedding provider: %v", err)
	}
	reranker, err := embedproviders.BuildRerankProvider(embedproviders.RerankProviderConfig{
		Provider:   cfg.Rerank.Provider,
		APIKey:     cfg.Rerank.APIKey,
		Model:      cfg.Rerank.Model,
		Endpoint:   cfg.Rerank.Endpoint,
		APIVersion: cfg.Rerank.APIVersion,
		Timeout:    8 * time.Second,
	})
	if err != nil {
		log.Fatalf("rerank provider: %v", err)
	}
	runtime := embed.NewRuntime(cfg.EmbedRuntimeConfig(), embedder, reranker, logger)

	pipeline := write.NewPipeline(cfg.AgentID, scopes, backend, runtime)

	registry := metrics.NewRegistry(cfg.Metrics.Thresholds, cfg.Metrics.Limits)

	sessions := stream.NewManager(time.Duration(cfg.StreamSessionTTLMs) * time.Millisecond)
	sessions.OnExpired(func(n int) { registry.RecordSessionExpired(n) })

	dispatcher := &rpc.Dispatcher{
		AgentID:    cfg.AgentID,
		Scopes:     scopes,
		Backend:    backend,
		Pipeline:   pipeline,
		Embedder:   runtime,
		Governance: governanceCfg,
		Metrics:    registry,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch cfg.Transport {
	case config.TransportHTTP:
		runHTTP(ctx, cfg, dispatcher, sessions, logger)
	default:
		runStdio(ctx, dispatcher, logger)
	}
}

func openBackend(ctx context.Context, cfg *config.Config) (store.Backend, error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		return store.OpenPostgresStore(ctx, store.PostgresConfig{
			DSN:             cfg.PostgresDSN,
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: time.Hour,
		})
	default:
		return store.OpenFileStore(cfg.DBPath)
	}
}

func runStdio(ctx context.Context, dispatcher *rpc.Dispatcher, logger *slog.Logger) {
	if err := rpcio.Serve(ctx, os.Stdin, os.Stdout, dispatcher, logger); err != nil {
		log.Fatalf("stdio transport: %v", err)
	}
}

func runHTTP(ctx context.Context, cfg *config.Config, dispatcher *rpc.Dispatcher, sessions *stream.Manager, logger *slog.Logger) {
	server := transport.NewServer(dispatcher, sessions)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown", "error", err)
		}
	}()

	logger.Info("http transport listening", "addr", cfg.HTTPAddr)
	if err := server.Start(cfg.HTTPAddr); err != nil && err != http.ErrServerClosed {
		log.Fatalf("http transport: %v", err)
	}
}
