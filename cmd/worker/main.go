package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/minhqd/shopchat/internal/cache"
	"github.com/minhqd/shopchat/internal/callback"
	"github.com/minhqd/shopchat/internal/catalog"
	"github.com/minhqd/shopchat/internal/config"
	"github.com/minhqd/shopchat/internal/database"
	"github.com/minhqd/shopchat/internal/embedding"
	"github.com/minhqd/shopchat/internal/extraction"
	"github.com/minhqd/shopchat/internal/llm"
	"github.com/minhqd/shopchat/internal/queue"
	"github.com/minhqd/shopchat/internal/queue/workers"
	"github.com/minhqd/shopchat/internal/vectorindex"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	index, cleanup, err := buildIndex(ctx, cfg, db)
	if err != nil {
		slog.Error("failed to set up vector index", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	llmGW := llm.NewGateway(cfg.LLM)
	embedSvc := embedding.NewService(llmGW, cfg.LLM.EmbeddingModel, cache.NewCache(rdb))
	registry := catalog.NewRegistry(catalog.NewPgStore(db), index, embedSvc)

	cbStore := callback.NewPgStore(db)
	dispatcher := callback.NewDispatcher(cbStore,
		cfg.Callback.Endpoint, cfg.Callback.Secret,
		callback.BackoffPolicy{
			Base:        cfg.Callback.BaseDelay,
			Max:         cfg.Callback.MaxDelay,
			MaxAttempts: cfg.Callback.MaxAttempts,
		},
		cfg.Callback.RatePerSec, cfg.Callback.HTTPTimeout)

	parser := extraction.NewParser(llmGW, cfg.Extraction.Provider, cfg.Extraction.Model)
	extractionSvc := extraction.NewService(extraction.NewPgJobStore(db), parser, registry, dispatcher)

	// The callback delivery loop runs beside the asynq server.
	scheduler := callback.NewScheduler(cbStore, dispatcher, cfg.Callback.PollInterval, 50)
	go scheduler.Run(ctx)

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
		},
	)

	mux := queue.NewHandlersRegistry()
	extractionWorker := workers.NewExtractionWorker(extractionSvc)
	mux.Register(queue.TypeExtractionProcess, asynq.HandlerFunc(extractionWorker.ProcessTask))

	go func() {
		<-ctx.Done()
		slog.Info("shutting down worker...")
		srv.Shutdown()
	}()

	slog.Info("starting worker", "concurrency", 10)
	if err := srv.Run(mux.Mux()); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
	slog.Info("worker stopped")
}

func buildIndex(ctx context.Context, cfg *config.Config, db *pgxpool.Pool) (vectorindex.Index, func(), error) {
	switch cfg.VectorIndex.Backend {
	case "qdrant":
		q, err := vectorindex.NewQdrantIndex(cfg.VectorIndex.QdrantAddr, cfg.VectorIndex.Collection)
		if err != nil {
			return nil, nil, err
		}
		if err := q.EnsureCollection(ctx, cfg.VectorIndex.Dimensions); err != nil {
			slog.Warn("could not ensure qdrant collection", "error", err)
		}
		return q, func() { q.Close() }, nil
	case "pgvector":
		return vectorindex.NewPgVectorIndex(db), func() {}, nil
	case "memory":
		return vectorindex.NewMemoryIndex(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown vector backend %q", cfg.VectorIndex.Backend)
	}
}
