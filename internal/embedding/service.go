package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/minhqd/shopchat/internal/cache"
	"github.com/minhqd/shopchat/internal/llm"
)

// ProviderError marks an upstream embedding-provider failure. Callers may
// retry; the search engine fails the whole query on it rather than returning
// partial results.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("embedding provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

const cacheTTL = 24 * time.Hour

type Service struct {
	gateway llm.Gateway
	model   string
	cache   *cache.Cache // optional
}

func NewService(gw llm.Gateway, model string, c *cache.Cache) *Service {
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &Service{gateway: gw, model: model, cache: c}
}

func (s *Service) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int

	for i, t := range texts {
		if vec, ok := s.cached(ctx, t); ok {
			out[i] = vec
			continue
		}
		missing = append(missing, t)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	// Batch in groups of 100 for API limits
	const batchSize = 100
	var fetched [][]float32

	for i := 0; i < len(missing); i += batchSize {
		end := i + batchSize
		if end > len(missing) {
			end = len(missing)
		}
		batch := missing[i:end]

		resp, err := s.gateway.Embed(ctx, llm.EmbeddingRequest{
			Model: s.model,
			Input: batch,
		})
		if err != nil {
			return nil, &ProviderError{Provider: "gateway", Err: err}
		}

		fetched = append(fetched, resp.Embeddings...)
	}

	if len(fetched) != len(missing) {
		return nil, &ProviderError{Provider: "gateway",
			Err: fmt.Errorf("got %d embeddings for %d inputs", len(fetched), len(missing))}
	}

	for i, vec := range fetched {
		out[missingIdx[i]] = vec
		s.store(ctx, missing[i], vec)
	}

	return out, nil
}

func (s *Service) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := s.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 || embeddings[0] == nil {
		return nil, &ProviderError{Provider: "gateway", Err: fmt.Errorf("no embedding returned")}
	}
	return embeddings[0], nil
}

func (s *Service) cached(ctx context.Context, text string) ([]float32, bool) {
	if s.cache == nil {
		return nil, false
	}
	var vec []float32
	if err := s.cache.Get(ctx, cacheKey(s.model, text), &vec); err != nil {
		return nil, false
	}
	return vec, len(vec) > 0
}

func (s *Service) store(ctx context.Context, text string, vec []float32) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Set(ctx, cacheKey(s.model, text), vec, cacheTTL)
}

func cacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return "emb:" + model + ":" + hex.EncodeToString(sum[:])
}
