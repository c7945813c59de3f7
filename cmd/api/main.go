package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/minhqd/shopchat/internal/api"
	"github.com/minhqd/shopchat/internal/config"
	"github.com/minhqd/shopchat/internal/database"
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

	ctx := context.Background()

	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.RunMigrations(ctx, db, cfg.Database.MigrationsPath); err != nil {
		slog.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unavailable, embedding cache disabled", "error", err)
	}
	defer rdb.Close()

	index, cleanup, err := buildIndex(ctx, cfg, db)
	if err != nil {
		slog.Error("failed to set up vector index", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	router := api.NewRouter(db, rdb, cfg, index)
	handler := router.Setup()

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("starting API server", "addr", cfg.Addr(), "vector_backend", cfg.VectorIndex.Backend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
	}
	slog.Info("server stopped")
}

func buildIndex(ctx context.Context, cfg *config.Config, db *pgxpool.Pool) (vectorindex.Index, func(), error) {
	switch cfg.VectorIndex.Backend {
	case "qdrant":
		q, err := vectorindex.NewQdrantIndex(cfg.VectorIndex.QdrantAddr, cfg.VectorIndex.Collection)
		if err != nil {
			return nil, nil, err
		}
		if err := q.EnsureCollection(ctx, cfg.VectorIndex.Dimensions); err != nil {
			// Qdrant being down at boot is survivable: searches degrade to
			// catalog-only until it comes back.
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
