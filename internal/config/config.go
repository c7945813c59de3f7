package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Auth        AuthConfig
	LLM         LLMConfig
	VectorIndex VectorIndexConfig
	Search      SearchConfig
	Callback    CallbackConfig
	Extraction  ExtractionConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DatabaseConfig struct {
	URL            string
	MaxConns       int
	MinConns       int
	MigrationsPath string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret    string
	APIKeyHeader string
}

type LLMConfig struct {
	OpenAIKey        string
	AnthropicKey     string
	DefaultProvider  string
	FallbackProvider string
	EmbeddingModel   string
	MaxRetries       int
}

type VectorIndexConfig struct {
	Backend    string // "qdrant", "pgvector" or "memory"
	QdrantAddr string
	Collection string
	Dimensions int
}

// SearchConfig holds the hybrid search knobs. ExhaustiveMaxPoints is the
// cutoff below which the full tenant partition is rescored; above it the
// scroll is bounded to ScrollPageLimit pages of the most recently updated
// points and the recall bound no longer holds.
type SearchConfig struct {
	ANNThreshold        float64
	ANNTopK             int
	DefaultThreshold    float64
	DefaultLimit        int
	ExhaustiveMaxPoints int
	ScrollPageSize      int
	ScrollPageLimit     int
}

type CallbackConfig struct {
	Endpoint     string
	Secret       string
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	PollInterval time.Duration
	RatePerSec   float64
	HTTPTimeout  time.Duration
}

type ExtractionConfig struct {
	Provider string
	Model    string
}

func Load() (*Config, error) {
	port, err := getEnvInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	maxConns, err := getEnvInt("DB_MAX_CONNS", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
	}

	minConns, err := getEnvInt("DB_MIN_CONNS", 5)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MIN_CONNS: %w", err)
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	llmRetries, err := getEnvInt("LLM_MAX_RETRIES", 3)
	if err != nil {
		return nil, fmt.Errorf("invalid LLM_MAX_RETRIES: %w", err)
	}

	dims, err := getEnvInt("VECTOR_DIMENSIONS", 1536)
	if err != nil {
		return nil, fmt.Errorf("invalid VECTOR_DIMENSIONS: %w", err)
	}

	annTopK, err := getEnvInt("SEARCH_ANN_TOP_K", 50)
	if err != nil {
		return nil, fmt.Errorf("invalid SEARCH_ANN_TOP_K: %w", err)
	}

	annThreshold, err := getEnvFloat("SEARCH_ANN_THRESHOLD", 0.3)
	if err != nil {
		return nil, fmt.Errorf("invalid SEARCH_ANN_THRESHOLD: %w", err)
	}

	defaultThreshold, err := getEnvFloat("SEARCH_SCORE_THRESHOLD", 0.6)
	if err != nil {
		return nil, fmt.Errorf("invalid SEARCH_SCORE_THRESHOLD: %w", err)
	}

	defaultLimit, err := getEnvInt("SEARCH_DEFAULT_LIMIT", 10)
	if err != nil {
		return nil, fmt.Errorf("invalid SEARCH_DEFAULT_LIMIT: %w", err)
	}

	exhaustiveMax, err := getEnvInt("SEARCH_EXHAUSTIVE_MAX_POINTS", 10000)
	if err != nil {
		return nil, fmt.Errorf("invalid SEARCH_EXHAUSTIVE_MAX_POINTS: %w", err)
	}

	scrollPageSize, err := getEnvInt("SEARCH_SCROLL_PAGE_SIZE", 256)
	if err != nil {
		return nil, fmt.Errorf("invalid SEARCH_SCROLL_PAGE_SIZE: %w", err)
	}

	scrollPageLimit, err := getEnvInt("SEARCH_SCROLL_PAGE_LIMIT", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid SEARCH_SCROLL_PAGE_LIMIT: %w", err)
	}

	cbBaseDelay, err := getEnvDuration("CALLBACK_BASE_DELAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid CALLBACK_BASE_DELAY: %w", err)
	}

	cbMaxDelay, err := getEnvDuration("CALLBACK_MAX_DELAY", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid CALLBACK_MAX_DELAY: %w", err)
	}

	cbMaxAttempts, err := getEnvInt("CALLBACK_MAX_ATTEMPTS", 8)
	if err != nil {
		return nil, fmt.Errorf("invalid CALLBACK_MAX_ATTEMPTS: %w", err)
	}

	cbPollInterval, err := getEnvDuration("CALLBACK_POLL_INTERVAL", 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid CALLBACK_POLL_INTERVAL: %w", err)
	}

	cbRate, err := getEnvFloat("CALLBACK_RATE_PER_SEC", 10)
	if err != nil {
		return nil, fmt.Errorf("invalid CALLBACK_RATE_PER_SEC: %w", err)
	}

	cbTimeout, err := getEnvDuration("CALLBACK_HTTP_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid CALLBACK_HTTP_TIMEOUT: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: port,
		},
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			MaxConns:       maxConns,
			MinConns:       minConns,
			MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Auth: AuthConfig{
			JWTSecret:    getEnv("JWT_SECRET", ""),
			APIKeyHeader: getEnv("API_KEY_HEADER", "X-API-Key"),
		},
		LLM: LLMConfig{
			OpenAIKey:        getEnv("OPENAI_API_KEY", ""),
			AnthropicKey:     getEnv("ANTHROPIC_API_KEY", ""),
			DefaultProvider:  getEnv("LLM_DEFAULT_PROVIDER", "openai"),
			FallbackProvider: getEnv("LLM_FALLBACK_PROVIDER", ""),
			EmbeddingModel:   getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			MaxRetries:       llmRetries,
		},
		VectorIndex: VectorIndexConfig{
			Backend:    getEnv("VECTOR_BACKEND", "qdrant"),
			QdrantAddr: getEnv("QDRANT_ADDR", "localhost:6334"),
			Collection: getEnv("QDRANT_COLLECTION", "catalog_points"),
			Dimensions: dims,
		},
		Search: SearchConfig{
			ANNThreshold:        annThreshold,
			ANNTopK:             annTopK,
			DefaultThreshold:    defaultThreshold,
			DefaultLimit:        defaultLimit,
			ExhaustiveMaxPoints: exhaustiveMax,
			ScrollPageSize:      scrollPageSize,
			ScrollPageLimit:     scrollPageLimit,
		},
		Callback: CallbackConfig{
			Endpoint:     getEnv("CALLBACK_ENDPOINT", ""),
			Secret:       getEnv("CALLBACK_SECRET", ""),
			BaseDelay:    cbBaseDelay,
			MaxDelay:     cbMaxDelay,
			MaxAttempts:  cbMaxAttempts,
			PollInterval: cbPollInterval,
			RatePerSec:   cbRate,
			HTTPTimeout:  cbTimeout,
		},
		Extraction: ExtractionConfig{
			Provider: getEnv("EXTRACTION_PROVIDER", ""),
			Model:    getEnv("EXTRACTION_MODEL", "gpt-4o-mini"),
		},
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) Validate() error {
	var missing []string
	if c.Database.URL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.Auth.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.Callback.Endpoint == "" {
		missing = append(missing, "CALLBACK_ENDPOINT")
	}
	if c.Callback.Secret == "" {
		missing = append(missing, "CALLBACK_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(v, 64)
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}
