// Package search implements hybrid retrieval over the vector index and the
// structured catalog, with a recall guarantee: every point whose exact
// cosine similarity clears the threshold appears in the result, not just
// what the ANN index happens to surface.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/minhqd/shopchat/internal/catalog"
	"github.com/minhqd/shopchat/internal/models"
	"github.com/minhqd/shopchat/internal/vectorindex"
)

type Embedder interface {
	EmbedSingle(ctx context.Context, text string) ([]float32, error)
}

type Config struct {
	// ANNThreshold is the low-precision first-pass cutoff, not the final
	// filter.
	ANNThreshold        float64
	ANNTopK             int
	DefaultThreshold    float64
	DefaultLimit        int
	ExhaustiveMaxPoints int
	ScrollPageSize      int
	ScrollPageLimit     int
}

func DefaultConfig() Config {
	return Config{
		ANNThreshold:        0.3,
		ANNTopK:             50,
		DefaultThreshold:    0.6,
		DefaultLimit:        10,
		ExhaustiveMaxPoints: 10000,
		ScrollPageSize:      256,
		ScrollPageLimit:     20,
	}
}

// Engine is a stateless read-side composer; it owns neither store.
type Engine struct {
	index    vectorindex.Index
	store    catalog.Store
	embedder Embedder
	cfg      Config
}

func NewEngine(index vectorindex.Index, store catalog.Store, embedder Embedder, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.ANNThreshold <= 0 {
		cfg.ANNThreshold = def.ANNThreshold
	}
	if cfg.ANNTopK <= 0 {
		cfg.ANNTopK = def.ANNTopK
	}
	if cfg.DefaultThreshold <= 0 {
		cfg.DefaultThreshold = def.DefaultThreshold
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = def.DefaultLimit
	}
	if cfg.ExhaustiveMaxPoints <= 0 {
		cfg.ExhaustiveMaxPoints = def.ExhaustiveMaxPoints
	}
	if cfg.ScrollPageSize <= 0 {
		cfg.ScrollPageSize = def.ScrollPageSize
	}
	if cfg.ScrollPageLimit <= 0 {
		cfg.ScrollPageLimit = def.ScrollPageLimit
	}
	return &Engine{index: index, store: store, embedder: embedder, cfg: cfg}
}

type Request struct {
	TenantID       uuid.UUID `json:"tenant_id"`
	Query          string    `json:"query"`
	ScoreThreshold float64   `json:"score_threshold,omitempty"`
	Limit          int       `json:"limit,omitempty"`
}

type Source string

const (
	SourceCatalog  Source = "catalog"
	SourceDocument Source = "document"
)

type Result struct {
	ItemID    string    `json:"item_id,omitempty"`
	PointID   uuid.UUID `json:"point_id,omitempty"`
	Name      string    `json:"name,omitempty"`
	Content   string    `json:"content,omitempty"`
	Score     float64   `json:"score"`
	Source    Source    `json:"source"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Response struct {
	Results []Result `json:"results"`
	// Degraded is set when the vector index was unreachable and only
	// catalog matches are returned. Never silently presented as complete.
	Degraded bool `json:"degraded"`
	// RecallBounded reports whether the full tenant partition was rescored,
	// i.e. whether the recall guarantee holds for this response.
	RecallBounded bool `json:"recall_bounded"`
}

// Search returns the best matches across vector points and catalog items.
// An embedding failure fails the whole query (retryable); an unreachable
// vector index degrades to catalog-only results flagged Degraded.
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	if req.Query == "" {
		return nil, fmt.Errorf("search: empty query")
	}
	threshold := req.ScoreThreshold
	if threshold <= 0 {
		threshold = e.cfg.DefaultThreshold
	}
	limit := req.Limit
	if limit <= 0 {
		limit = e.cfg.DefaultLimit
	}

	qvec, err := e.embedder.EmbedSingle(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	candidates := make(map[uuid.UUID]vectorindex.Point)

	// High-recall, low-precision ANN first pass.
	ann, err := e.index.Search(ctx, req.TenantID, qvec, e.cfg.ANNTopK, e.cfg.ANNThreshold)
	if err != nil {
		if isUnavailable(err) {
			return e.degraded(ctx, req, limit)
		}
		return nil, err
	}
	for _, sp := range ann {
		candidates[sp.ID] = sp.Point
	}

	count, err := e.index.Count(ctx, req.TenantID)
	if err != nil {
		if isUnavailable(err) {
			return e.degraded(ctx, req, limit)
		}
		return nil, err
	}

	// Exhaustive rescoring pass. Below the cutoff the whole partition is
	// scanned and the recall bound holds; above it the scroll stops after
	// ScrollPageLimit pages of the most recently updated points.
	exhaustive := count <= e.cfg.ExhaustiveMaxPoints
	cursor := ""
	pages := 0
	for {
		points, next, err := e.index.Scroll(ctx, req.TenantID, cursor, e.cfg.ScrollPageSize)
		if err != nil {
			if isUnavailable(err) {
				return e.degraded(ctx, req, limit)
			}
			return nil, err
		}
		for _, p := range points {
			candidates[p.ID] = p
		}
		pages++
		if next == "" {
			break
		}
		if !exhaustive && pages >= e.cfg.ScrollPageLimit {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cursor = next
	}

	results, err := e.rank(ctx, req.TenantID, qvec, candidates, threshold)
	if err != nil {
		return nil, err
	}
	if len(results) > limit {
		results = results[:limit]
	}

	return &Response{Results: results, RecallBounded: exhaustive}, nil
}

// rank recomputes exact scores, filters by threshold, resolves catalog
// identity and deduplicates.
func (e *Engine) rank(ctx context.Context, tenantID uuid.UUID, qvec []float32, candidates map[uuid.UUID]vectorindex.Point, threshold float64) ([]Result, error) {
	byItem := make(map[string]Result)
	byContent := make(map[string]Result)

	for _, p := range candidates {
		score := vectorindex.Cosine(qvec, p.Embedding)
		if score < threshold {
			continue
		}

		if p.ItemID != "" {
			item, err := e.store.GetByID(ctx, tenantID, p.ItemID)
			if errors.Is(err, catalog.ErrNotFound) {
				continue // orphaned point, excluded from results
			}
			if err != nil {
				return nil, err
			}
			if item.Status != models.StatusActive {
				continue
			}
			r := Result{
				ItemID:    item.ItemID,
				PointID:   p.ID,
				Name:      item.Name,
				Content:   p.Content,
				Score:     score,
				Source:    SourceCatalog,
				UpdatedAt: item.UpdatedAt,
			}
			if prev, ok := byItem[item.ItemID]; !ok || r.Score > prev.Score {
				byItem[item.ItemID] = r
			}
			continue
		}

		key := catalog.Fold(p.Content)
		r := Result{
			PointID:   p.ID,
			Content:   p.Content,
			Score:     score,
			Source:    SourceDocument,
			UpdatedAt: p.UpdatedAt,
		}
		if prev, ok := byContent[key]; !ok || r.Score > prev.Score {
			byContent[key] = r
		}
	}

	results := make([]Result, 0, len(byItem)+len(byContent))
	for _, r := range byItem {
		results = append(results, r)
	}
	for _, r := range byContent {
		results = append(results, r)
	}
	sortResults(results)
	return results, nil
}

// sortResults orders by score descending; catalog results win ties over
// document results (structured data is authoritative for price/quantity),
// then most recently updated first.
func sortResults(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Source != b.Source {
			return a.Source == SourceCatalog
		}
		return a.UpdatedAt.After(b.UpdatedAt)
	})
}

// degraded serves catalog-only name matches when the vector index is down.
func (e *Engine) degraded(ctx context.Context, req Request, limit int) (*Response, error) {
	slog.Warn("vector index unavailable, serving degraded catalog-only search",
		"tenant_id", req.TenantID)

	folded := catalog.Fold(req.Query)
	items, err := e.store.SearchNames(ctx, req.TenantID, folded, limit)
	if err != nil {
		return nil, fmt.Errorf("degraded catalog search: %w", err)
	}

	results := make([]Result, 0, len(items))
	for _, item := range items {
		score := 0.8
		if catalog.Fold(item.Name) == folded {
			score = 1.0
		}
		results = append(results, Result{
			ItemID:    item.ItemID,
			Name:      item.Name,
			Score:     score,
			Source:    SourceCatalog,
			UpdatedAt: item.UpdatedAt,
		})
	}
	sortResults(results)

	return &Response{Results: results, Degraded: true}, nil
}

func isUnavailable(err error) bool {
	var ue *vectorindex.UnavailableError
	return errors.As(err, &ue)
}
