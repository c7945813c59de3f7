package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/minhqd/shopchat/internal/api/handlers"
	"github.com/minhqd/shopchat/internal/api/middleware"
	"github.com/minhqd/shopchat/internal/auth"
	"github.com/minhqd/shopchat/internal/cache"
	"github.com/minhqd/shopchat/internal/callback"
	"github.com/minhqd/shopchat/internal/catalog"
	"github.com/minhqd/shopchat/internal/config"
	"github.com/minhqd/shopchat/internal/embedding"
	"github.com/minhqd/shopchat/internal/extraction"
	"github.com/minhqd/shopchat/internal/llm"
	"github.com/minhqd/shopchat/internal/queue"
	"github.com/minhqd/shopchat/internal/search"
	"github.com/minhqd/shopchat/internal/tenant"
	"github.com/minhqd/shopchat/internal/vectorindex"
)

type Router struct {
	mux    *chi.Mux
	db     *pgxpool.Pool
	redis  *redis.Client
	cfg    *config.Config
	index  vectorindex.Index
	ts     *tenant.Service
	jwt    *auth.JWTMiddleware
	apikey *auth.APIKeyMiddleware
	llmGW  llm.Gateway
}

// NewRouter wires the HTTP surface. The vector index is dialed by the caller
// so its lifecycle (and Close) stays in main.
func NewRouter(db *pgxpool.Pool, rdb *redis.Client, cfg *config.Config, index vectorindex.Index) *Router {
	ts := tenant.NewService(db)
	return &Router{
		mux:    chi.NewRouter(),
		db:     db,
		redis:  rdb,
		cfg:    cfg,
		index:  index,
		ts:     ts,
		jwt:    auth.NewJWTMiddleware(cfg.Auth.JWTSecret, ts),
		apikey: auth.NewAPIKeyMiddleware(cfg.Auth.APIKeyHeader, ts),
		llmGW:  llm.NewGateway(cfg.LLM),
	}
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	rl := middleware.NewRateLimiter(100, 200)
	r.Use(rl.Limit)

	// Health endpoints (no auth)
	health := handlers.NewHealthHandler(rt.db, rt.redis)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	// Services
	embedCache := cache.NewCache(rt.redis)
	embedSvc := embedding.NewService(rt.llmGW, rt.cfg.LLM.EmbeddingModel, embedCache)

	itemStore := catalog.NewPgStore(rt.db)
	registry := catalog.NewRegistry(itemStore, rt.index, embedSvc)

	engine := search.NewEngine(rt.index, itemStore, embedSvc, search.Config(rt.cfg.Search))

	cbStore := callback.NewPgStore(rt.db)
	dispatcher := callback.NewDispatcher(cbStore,
		rt.cfg.Callback.Endpoint, rt.cfg.Callback.Secret,
		callback.BackoffPolicy{
			Base:        rt.cfg.Callback.BaseDelay,
			Max:         rt.cfg.Callback.MaxDelay,
			MaxAttempts: rt.cfg.Callback.MaxAttempts,
		},
		rt.cfg.Callback.RatePerSec, rt.cfg.Callback.HTTPTimeout)

	queueClient := queue.NewClient(rt.cfg.Redis)
	parser := extraction.NewParser(rt.llmGW, rt.cfg.Extraction.Provider, rt.cfg.Extraction.Model)
	extractionSvc := extraction.NewService(extraction.NewPgJobStore(rt.db), parser, registry, dispatcher)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Auth: try API key first, then JWT
		r.Use(rt.apikey.Authenticate)
		r.Use(rt.jwt.Authenticate)

		searchH := handlers.NewSearchHandler(engine)
		r.Post("/search", searchH.Search)

		catalogH := handlers.NewCatalogHandler(registry, dispatcher)
		r.Route("/items", func(r chi.Router) {
			r.Post("/", catalogH.Register)
			r.Get("/find", catalogH.Find)
			r.Get("/{id}", catalogH.Get)
			r.Patch("/{id}/quantity", catalogH.UpdateQuantity)
			r.Delete("/{id}", catalogH.Delete)
		})

		extractionH := handlers.NewExtractionHandler(extractionSvc, queueClient)
		r.Route("/extractions", func(r chi.Router) {
			r.Post("/", extractionH.Upload)
			r.Get("/", extractionH.List)
			r.Get("/{id}", extractionH.Get)
		})

		callbackH := handlers.NewCallbackHandler(cbStore)
		r.Route("/callbacks", func(r chi.Router) {
			r.Get("/failed", callbackH.ListFailed)
			r.Post("/{id}/requeue", callbackH.Requeue)
		})
	})

	return r
}
