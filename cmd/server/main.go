package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/agenthands/recall/internal/config"
	"github.com/agenthands/recall/internal/evidence"
	"github.com/agenthands/recall/internal/extract"
	"github.com/agenthands/recall/internal/graph"
	"github.com/agenthands/recall/internal/llm"
	"github.com/agenthands/recall/internal/logger"
	"github.com/agenthands/recall/internal/pipeline"
	"github.com/agenthands/recall/internal/query"
	"github.com/agenthands/recall/internal/resolve"
	"github.com/agenthands/recall/internal/server"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/config.toml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Server.Mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	graphStore, err := newGraphStore(ctx, cfg)
	if err != nil {
		log.Fatal("graph store init failed", "backend", cfg.Graph.Backend, "error", err)
	}
	defer graphStore.Close(context.Background())

	evidenceStore, err := newEvidenceStore(ctx, cfg)
	if err != nil {
		log.Fatal("evidence store init failed", "backend", cfg.Evidence.Backend, "error", err)
	}
	defer evidenceStore.Close(context.Background())

	queue, err := pipeline.NewRedisQueue(ctx, pipeline.RedisQueueOptions{
		URL:          cfg.Queue.RedisURL,
		Prefix:       cfg.Queue.Prefix,
		MaxAttempts:  cfg.Queue.MaxAttempts,
		LeaseTimeout: cfg.Queue.LeaseTimeout(),
		RetryDelay:   cfg.Queue.RetryDelay(),
		Retention:    cfg.Queue.Retention(),
	})
	if err != nil {
		log.Fatal("queue init failed", "error", err)
	}
	defer queue.Close()

	llmClient, err := llm.NewFromConfig(ctx, cfg.LLM)
	if err != nil {
		log.Fatal("llm client init failed", "provider", cfg.LLM.Provider, "error", err)
	}

	resolver := resolve.New(graphStore, resolve.Config{
		AcceptThreshold:     cfg.Resolver.AcceptThreshold,
		TrustThreshold:      cfg.Resolver.TrustThreshold,
		CandidateConfidence: cfg.Resolver.CandidateConfidence,
	})
	extractor := extract.NewLLMExtractor(llmClient, cfg.Extraction.Entities)

	pool := pipeline.NewPool(queue, llmClient, extractor, resolver, graphStore, evidenceStore, log,
		pipeline.PoolConfig{
			Workers:     cfg.Queue.Workers,
			MaxAttempts: cfg.Queue.MaxAttempts,
			Retry: graph.RetryConfig{
				MaxAttempts:    cfg.CAS.MaxAttempts,
				InitialBackoff: cfg.CAS.InitialBackoff(),
				MaxBackoff:     cfg.CAS.MaxBackoff(),
			},
		})
	pool.Start(ctx)

	merger := query.NewMerger(graphStore, evidenceStore, llmClient, log, query.Config{
		TopK:         cfg.Query.TopK,
		StoreTimeout: cfg.Query.StoreTimeout(),
	})

	srv := server.New(queue, merger, log)
	httpSrv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: srv.SetupRouter(cfg.Server.Mode),
	}

	go func() {
		log.Info("server listening", "port", cfg.Server.Port, "workers", cfg.Queue.Workers)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "error", err)
	}
	pool.Wait()
	log.Info("shutdown complete")
}

func newGraphStore(ctx context.Context, cfg *config.Config) (graph.Store, error) {
	switch cfg.Graph.Backend {
	case "neo4j":
		s, err := graph.NewNeo4jStore(ctx, cfg.Graph.URI, cfg.Graph.User, cfg.Graph.Password)
		if err != nil {
			return nil, err
		}
		if err := s.BuildIndices(ctx); err != nil {
			return nil, err
		}
		return s, nil
	case "", "memory":
		return graph.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown graph backend: %s", cfg.Graph.Backend)
	}
}

func newEvidenceStore(ctx context.Context, cfg *config.Config) (evidence.Store, error) {
	switch cfg.Evidence.Backend {
	case "postgres":
		return evidence.NewPostgresStore(ctx, cfg.Evidence.DSN, cfg.Evidence.Dimension)
	case "", "memory":
		return evidence.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown evidence backend: %s", cfg.Evidence.Backend)
	}
}
